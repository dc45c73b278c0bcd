package service

import (
	"fmt"
	"net/http"
)

// statusError carries the HTTP status for request-level failures.
type statusError struct {
	code int
	msg  string
}

func (e statusError) Error() string   { return e.msg }
func (e statusError) StatusCode() int { return e.code }

func badRequest(format string, args ...any) error {
	return statusError{code: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) error {
	return statusError{code: http.StatusNotFound, msg: fmt.Sprintf(format, args...)}
}

func unavailable(msg string) error {
	return statusError{code: http.StatusServiceUnavailable, msg: msg}
}
