package saga

import (
	"errors"
	"fmt"
)

var (
	ErrSagaNotFound = errors.New("saga not found")
	ErrSagaTerminal = errors.New("saga already finished")
	ErrLockTimeout  = errors.New("saga lease not acquired")
)

type AuthenticationError struct{ Err error }

func (e *AuthenticationError) Error() string { return "authentication failed: " + e.Err.Error() }
func (e *AuthenticationError) Unwrap() error { return e.Err }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason) }

// OrphanEventError: the result refers to a transaction with no saga state.
type OrphanEventError struct {
	TransactionID string
	Event         string
}

func (e *OrphanEventError) Error() string {
	return fmt.Sprintf("orphan %s event for transaction %s", e.Event, e.TransactionID)
}

type StepFailureError struct {
	Step   Step
	Detail string
}

func (e *StepFailureError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s step failed", e.Step)
	}
	return fmt.Sprintf("%s step failed: %s", e.Step, e.Detail)
}

type ChannelPublishError struct {
	Command       string
	TransactionID string
	Err           error
}

func (e *ChannelPublishError) Error() string {
	return fmt.Sprintf("publish %s for %s: %v", e.Command, e.TransactionID, e.Err)
}
func (e *ChannelPublishError) Unwrap() error { return e.Err }

type StoreError struct {
	Op            string
	Kind          string
	TransactionID string
	Err           error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s_saga:%s: %v", e.Op, e.Kind, e.TransactionID, e.Err)
}
func (e *StoreError) Unwrap() error { return e.Err }

func IsOrphan(err error) bool {
	var o *OrphanEventError
	return errors.As(err, &o)
}
