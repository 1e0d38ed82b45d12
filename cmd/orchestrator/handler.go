package main

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-order-saga/internal/events"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/logger"
	"github.com/ariefcatur/go-order-saga/internal/saga"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

type dispatcher interface {
	Dispatch(ctx context.Context, env events.Envelope) error
}

// resultHandler adapts the orchestrator to the consumer: malformed messages are
// permanent (straight to the DLQ), orphans are logged and committed, anything
// else is retried.
func resultHandler(d dispatcher, log zerolog.Logger) kafkax.Handler {
	return func(ctx context.Context, m kafkago.Message) error {
		env, _, err := events.Decode(m.Value)
		if err != nil {
			return kafkax.Permanent(err)
		}
		err = d.Dispatch(ctx, env)
		switch {
		case err == nil:
			return nil
		case saga.IsOrphan(err):
			l := logger.WithContext(ctx, log)
			l.Warn().
				Str("transaction_id", env.TransactionID).
				Str("event", env.Event).
				Msg("orphan result dropped")
			return nil
		case errors.Is(err, events.ErrInvalidEnvelope):
			return kafkax.Permanent(err)
		}
		return err
	}
}
