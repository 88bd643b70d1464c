package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kochabx/sessionkeeper/errors"
)

const (
	defaultSuccessMsg = "success"
	defaultErrorMsg   = "operation failed"

	successCode = http.StatusOK
)

// Response is the JSON envelope of every API reply. Reason carries the
// error tag, e.g. "SessionExpired", for the browser to act on.
type Response[T any] struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg,omitempty"`
	Reason string `json:"reason,omitempty"`
	Data   T      `json:"data,omitempty"`
}

// GinJSON writes a success envelope with HTTP status 200.
//
//	GinJSON(c, user)
//	// {"code":200,"msg":"success","data":{"id":1}}
func GinJSON(c *gin.Context, data any) {
	if c == nil {
		return
	}

	c.JSON(http.StatusOK, &Response[any]{
		Code: successCode,
		Msg:  defaultSuccessMsg,
		Data: data,
	})
}

// GinJSONE writes an envelope with a custom business code and HTTP status
// 200. data may be:
//   - error: message and reason are taken from *errors.Error when present
//   - string: used as the message
//   - nil: the default error message
//   - anything else: returned as data
func GinJSONE(c *gin.Context, code int, data any) {
	if c == nil {
		return
	}

	resp := &Response[any]{Code: code}
	switch v := data.(type) {
	case error:
		resp.Msg = extractErrorMessage(v)
		resp.Reason = errors.Kind(v)
	case string:
		resp.Msg = v
	case nil:
		resp.Msg = defaultErrorMsg
	default:
		resp.Data = v
	}

	c.JSON(http.StatusOK, resp)
}

// GinError writes err with its own code, or 500 for foreign errors.
func GinError(c *gin.Context, err error) {
	GinJSONE(c, errors.FromError(err).GetCode(), err)
}

func extractErrorMessage(err error) string {
	if err == nil {
		return defaultErrorMsg
	}
	if e := errors.FromError(err); e != nil {
		return e.Message
	}
	return err.Error()
}

func Success[T any](data T) *Response[T] {
	return &Response[T]{
		Code: successCode,
		Msg:  defaultSuccessMsg,
		Data: data,
	}
}

func Failure(code int, msg string) *Response[any] {
	return &Response[any]{
		Code: code,
		Msg:  msg,
	}
}
