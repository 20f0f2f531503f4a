package response

import (
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"
)

type codeErr struct {
	code uint32
	msg  string
}

func (e codeErr) Error() string {
	return e.msg
}

func (e codeErr) Code() uint32 {
	return e.code
}

func AsCodeErr(code uint32, msg string) error {
	return codeErr{code: code, msg: msg}
}

func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

// Error writes the standard failure envelope with a real HTTP status so
// callers can distinguish 400/429/500 without parsing the body.
func Error(c *gin.Context, status int, code int, message string) {
	proxyutil.FailJson(c, status, AsCodeErr(uint32(code), message))
}

// ErrorWithData keeps the failure envelope but carries a payload, for
// endpoints whose contract promises a populated body even on failure.
func ErrorWithData(c *gin.Context, status int, code int, message string, data interface{}) {
	c.JSON(status, gin.H{"code": code, "message": message, "data": data})
}
