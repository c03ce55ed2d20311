package credits

import (
	"fmt"

	apierrors "github.com/cedrosgw/gateway/internal/errors"
)

// Error carries a machine-readable error code alongside the underlying
// cause, so the HTTP layer can translate a ledger failure into the right
// status code without string-matching on Error().
type Error struct {
	Code    apierrors.ErrorCode
	Message string
	Err     error
}

func (e Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}

func insufficientErr(msg string) error {
	return Error{Code: apierrors.ErrCodeInsufficientCredits, Message: msg}
}

func holdConflictErr(msg string) error {
	return Error{Code: apierrors.ErrCodeHoldConflict, Message: msg}
}

func serviceErr(msg string, err error) error {
	return Error{Code: apierrors.ErrCodeCreditsError, Message: msg, Err: err}
}
