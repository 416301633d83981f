package xerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Business codes returned in the REST error envelope.
const (
	OK                 = 200
	RequestParamsError = 400
	RecordNotFound     = 404
	TooManyRequests    = 429
	ServerCommonError  = 500
	StoreUnavailable   = 503
)

type CodeError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	err  error
}

func (e *CodeError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("ErrCode:%d, Msg:%s: %v", e.Code, e.Msg, e.err)
	}
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func (e *CodeError) Unwrap() error { return e.err }

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap attaches a business code to err; a nil err stays nil.
func Wrap(err error, code int, msg string) error {
	if err == nil {
		return nil
	}
	return &CodeError{Code: code, Msg: msg, err: err}
}

// CodeOf returns the business code carried by err, or ServerCommonError.
func CodeOf(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ServerCommonError
}

// MsgOf returns the message carried by err, or the generic one for its code.
func MsgOf(err error) string {
	var ce *CodeError
	if errors.As(err, &ce) && ce.Msg != "" {
		return ce.Msg
	}
	return MapErrMsg(CodeOf(err))
}

// HTTPStatus maps a business code onto the HTTP status it is served with.
func HTTPStatus(code int) int {
	switch code {
	case OK:
		return http.StatusOK
	case RequestParamsError:
		return http.StatusBadRequest
	case RecordNotFound:
		return http.StatusNotFound
	case TooManyRequests:
		return http.StatusTooManyRequests
	case StoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func MapErrMsg(code int) string {
	switch code {
	case RequestParamsError:
		return "invalid parameters"
	case RecordNotFound:
		return "not found"
	case TooManyRequests:
		return "too many requests"
	case StoreUnavailable:
		return "quote store unavailable"
	case ServerCommonError:
		return "internal error"
	default:
		return "unknown error"
	}
}
