package contract

import (
	"errors"

	statex "github.com/tanpawarit/Chative-Travel-Assistant/agent/state"
)

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")

	ErrToolNotAvailable   = errors.New("tool not available for active assistant")
	ErrToolInvocation     = errors.New("tool invocation violates argument schema")
	ErrDomain             = errors.New("domain error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrCycleLimitExceeded = errors.New("cycle limit exceeded")
	ErrStateConflict      = statex.ErrStateConflict
	ErrInvalidState       = errors.New("invalid state")
	ErrNonRecoverable     = errors.New("non-recoverable tool error")
)

// ErrorKind is the classification front ends receive for a failed turn.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindToolNotAvailable    ErrorKind = "ToolNotAvailable"
	KindToolInvocationError ErrorKind = "ToolInvocationError"
	KindDomainError         ErrorKind = "DomainError"
	KindServiceUnavailable  ErrorKind = "ServiceUnavailable"
	KindCycleLimitExceeded  ErrorKind = "CycleLimitExceeded"
	KindStateConflict       ErrorKind = "StateConflict"
	KindInvalidState        ErrorKind = "InvalidState"
	KindValidation          ErrorKind = "Validation"
	KindInternal            ErrorKind = "Internal"
)

// KindOf maps an error chain onto its ErrorKind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrStateConflict):
		return KindStateConflict
	case errors.Is(err, ErrCycleLimitExceeded):
		return KindCycleLimitExceeded
	case errors.Is(err, ErrServiceUnavailable):
		return KindServiceUnavailable
	case errors.Is(err, ErrToolNotAvailable):
		return KindToolNotAvailable
	case errors.Is(err, ErrToolInvocation), errors.Is(err, ErrNonRecoverable):
		return KindToolInvocationError
	case errors.Is(err, ErrDomain):
		return KindDomainError
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrValidation):
		return KindValidation
	default:
		return KindInternal
	}
}

// UserVisible reports whether a failure of this kind ends the turn for the user.
func (k ErrorKind) UserVisible() bool {
	switch k {
	case KindServiceUnavailable, KindCycleLimitExceeded, KindStateConflict, KindToolInvocationError:
		return true
	default:
		return false
	}
}
