package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"quotestream.com/pkg/logger"
	"quotestream.com/pkg/xerr"
)

// Response is the JSON envelope of every REST reply.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(c *gin.Context, data interface{}) {
	SuccessWithStatus(c, http.StatusOK, data)
}

func SuccessWithStatus(c *gin.Context, httpStatus int, data interface{}) {
	c.JSON(httpStatus, Response{
		Code:    xerr.OK,
		Message: http.StatusText(httpStatus),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// FailErr answers with the business code carried by err. Internal errors are
// logged with their cause and the client only sees the mapped message; client
// errors carry their own message.
func FailErr(c *gin.Context, err error) {
	code := xerr.CodeOf(err)
	status := xerr.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "http error",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("biz_code", code),
			zap.Error(err),
		)
		Fail(c, status, code, xerr.MapErrMsg(code))
		return
	}
	Fail(c, status, code, xerr.MsgOf(err))
}
