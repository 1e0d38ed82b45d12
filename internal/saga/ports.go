package saga

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/auth"
	"github.com/ariefcatur/go-order-saga/internal/events"
)

// Store persists saga records with a TTL. Get reports absence with found=false.
type Store interface {
	Save(ctx context.Context, kind, id string, v any, ttl time.Duration) error
	Get(ctx context.Context, kind, id string, out any) (found bool, err error)
	Delete(ctx context.Context, kind, id string) error
}

// ActiveIndex tracks non-terminal sagas for the reconciliation sweep.
type ActiveIndex interface {
	MarkActive(ctx context.Context, id string, at time.Time) error
	ClearActive(ctx context.Context, id string) error
	Stale(ctx context.Context, before time.Time, limit int) ([]string, error)
}

// Locker grants a per-transaction lease.
type Locker interface {
	Acquire(ctx context.Context, id string) (release func(), err error)
}

type Publisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Role, error)
}

// Journal is an append-only audit trail of status changes.
type Journal interface {
	Record(ctx context.Context, t Transition) error
	History(ctx context.Context, id string) ([]Transition, error)
}

// Observer receives saga outcomes (metrics).
type Observer interface {
	SagaStarted()
	SagaTransition(to string)
	CompensationPublished(command string)
	EventDropped(event, reason string)
	ReconcileAction(action string)
}

type nopObserver struct{}

func (nopObserver) SagaStarted()                 {}
func (nopObserver) SagaTransition(string)        {}
func (nopObserver) CompensationPublished(string) {}
func (nopObserver) EventDropped(string, string)  {}
func (nopObserver) ReconcileAction(string)       {}

type nopJournal struct{}

func (nopJournal) Record(context.Context, Transition) error { return nil }
func (nopJournal) History(context.Context, string) ([]Transition, error) {
	return nil, nil
}
