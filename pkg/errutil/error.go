package errutil

import "fmt"

// BaseError is the error envelope every service returns. It renders to the
// shared JSON error shape; the wrapped Err never leaves the process.
type BaseError struct {
	Code    CoreStatus     `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e BaseError) Unwrap() error {
	return e.Err
}

// JSON is the wire form of the error.
func (e BaseError) JSON() map[string]any {
	out := map[string]any{
		"code":    e.Code,
		"message": e.Message,
	}
	if len(e.Details) > 0 {
		out["details"] = e.Details
	}
	return out
}

type Option func(*BaseError)

// WithErr attaches an underlying cause for logs; it is never serialized.
func WithErr(err error) Option {
	return func(e *BaseError) { e.Err = err }
}

// WithDetail attaches one key/value pair to the serialized details.
func WithDetail(key string, value any) Option {
	return func(e *BaseError) {
		if e.Details == nil {
			e.Details = map[string]any{}
		}
		e.Details[key] = value
	}
}

func newError(code CoreStatus, message string, opts ...Option) BaseError {
	e := BaseError{Code: code, Message: message}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

func BadRequest(message string, opts ...Option) BaseError {
	return newError(StatusBadRequest, message, opts...)
}

func Unauthorized(message string, opts ...Option) BaseError {
	return newError(StatusUnauthorized, message, opts...)
}

func Forbidden(message string, opts ...Option) BaseError {
	return newError(StatusForbidden, message, opts...)
}

func NotFound(message string, opts ...Option) BaseError {
	return newError(StatusNotFound, message, opts...)
}

func Conflict(message string, opts ...Option) BaseError {
	return newError(StatusConflict, message, opts...)
}

func Internal(message string, opts ...Option) BaseError {
	return newError(StatusInternal, message, opts...)
}

func ServiceUnavailable(message string, opts ...Option) BaseError {
	return newError(StatusServiceUnavailable, message, opts...)
}
