package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Code codes.Code

const (
	CodeInvalidArgument   = Code(codes.InvalidArgument)
	CodeNotFound          = Code(codes.NotFound)
	CodeAlreadyExists     = Code(codes.AlreadyExists)
	CodePermissionDenied  = Code(codes.PermissionDenied)
	CodeResourceExhausted = Code(codes.ResourceExhausted)
	CodeInternal          = Code(codes.Internal)
	CodeUnauthenticated   = Code(codes.Unauthenticated)
)

var code2http = map[Code]int{
	CodeInvalidArgument:   http.StatusBadRequest,
	CodeNotFound:          http.StatusNotFound,
	CodeAlreadyExists:     http.StatusConflict,
	CodePermissionDenied:  http.StatusForbidden,
	CodeResourceExhausted: http.StatusTooManyRequests,
	CodeInternal:          http.StatusInternalServerError,
	CodeUnauthenticated:   http.StatusUnauthorized,
}

// Reason is a machine readable discriminator within a Code.
type Reason string

const (
	ReasonForbidden            Reason = "FORBIDDEN"
	ReasonNotFound             Reason = "NOT_FOUND"
	ReasonAttemptLimitExceeded Reason = "ATTEMPT_LIMIT_EXCEEDED"
	ReasonValidation           Reason = "VALIDATION_ERROR"
	ReasonInternalConsistency  Reason = "INTERNAL_CONSISTENCY"
)

type Error struct {
	Code    Code   `json:"code"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: codes.Code(code).String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
	if e.Reason != "" {
		s += fmt.Sprintf(", reason: %s", e.Reason)
	}
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

// Is reports whether err carries the given reason.
func Is(err error, r Reason) bool {
	var e *Error
	return errors.As(err, &e) && e.Reason == r
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

func Forbidden(format string, args ...any) *Error {
	return New(CodePermissionDenied, WithReason(ReasonForbidden), WithMessagef(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, WithReason(ReasonNotFound), WithMessagef(format, args...))
}

func Validation(format string, args ...any) *Error {
	return New(CodeInvalidArgument, WithReason(ReasonValidation), WithMessagef(format, args...))
}

func AttemptLimitExceeded(format string, args ...any) *Error {
	return New(CodeResourceExhausted, WithReason(ReasonAttemptLimitExceeded), WithMessagef(format, args...))
}

// InternalConsistency reports a broken attempt-counting invariant. It is never user fixable.
func InternalConsistency(format string, args ...any) *Error {
	return New(CodeInternal, WithReason(ReasonInternalConsistency), WithMessagef(format, args...))
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}

func WithReason(r Reason) Option {
	return optionFunc(func(e *Error) {
		e.Reason = r
	})
}
