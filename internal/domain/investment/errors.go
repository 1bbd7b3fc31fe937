package investment

import (
	"errors"
	"fmt"
)

// Error kinds. Every error leaving the application layer wraps exactly one of these.
var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrStateConflict   = errors.New("state conflict")
	ErrDataUnavailable = errors.New("data unavailable")
	ErrBroker          = errors.New("broker error")
	ErrPersistence     = errors.New("persistence error")
)

var (
	ErrFundsInsufficient = fmt.Errorf("%w: funds insufficient", ErrValidation)
	ErrSecurityNotFound  = fmt.Errorf("%w: security", ErrNotFound)
	ErrCycleNotFound     = fmt.Errorf("%w: investment cycle", ErrNotFound)
	ErrScheduleNotFound  = fmt.Errorf("%w: investment schedule", ErrNotFound)
	ErrAlreadyPaused     = fmt.Errorf("%w: cycle already paused", ErrStateConflict)
	ErrNotPaused         = fmt.Errorf("%w: cycle is not paused", ErrStateConflict)
	ErrCycleCompleted    = fmt.Errorf("%w: cycle already completed", ErrStateConflict)
	ErrCycleNotActive    = fmt.Errorf("%w: cycle is not active", ErrStateConflict)
	ErrNotExecutable     = fmt.Errorf("%w: schedule is not pending or failed", ErrStateConflict)
)

// Kind names an error kind for operator-facing replies.
type Kind string

const (
	KindValidation      Kind = "ValidationError"
	KindNotFound        Kind = "NotFoundError"
	KindStateConflict   Kind = "StateConflictError"
	KindDataUnavailable Kind = "DataUnavailableError"
	KindBroker          Kind = "BrokerError"
	KindPersistence     Kind = "PersistenceError"
	KindInternal        Kind = "InternalError"
)

var kindOrder = []struct {
	err  error
	kind Kind
}{
	{ErrValidation, KindValidation},
	{ErrNotFound, KindNotFound},
	{ErrStateConflict, KindStateConflict},
	{ErrDataUnavailable, KindDataUnavailable},
	{ErrBroker, KindBroker},
	{ErrPersistence, KindPersistence},
}

// KindOf maps err to its kind; unclassified errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
