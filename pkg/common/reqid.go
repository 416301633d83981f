package common

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-Id"
	CtxKeyRequestID = "request_id"

	maxRequestIDLen = 64
)

func NewRequestID() string { return uuid.NewString() }

// RequestID keeps a caller supplied id when it is short printable ASCII and
// mints a fresh one otherwise; the id ends up in response headers and logs.
func RequestID(given string) string {
	if given == "" || len(given) > maxRequestIDLen {
		return NewRequestID()
	}
	for i := 0; i < len(given); i++ {
		if c := given[i]; c < 0x21 || c > 0x7e {
			return NewRequestID()
		}
	}
	return given
}

func RequestIDFromGin(c *gin.Context) string {
	return c.GetString(CtxKeyRequestID)
}
