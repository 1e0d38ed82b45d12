package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-order-saga/internal/events"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/logger"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

type Reservations interface {
	Reserved(ctx context.Context, transactionID string) (bool, error)
	ReserveAll(ctx context.Context, transactionID string, items []events.StockItem) (bool, []Shortage, error)
	ReleaseAll(ctx context.Context, transactionID string) error
}

type Publisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// Service is the stock step owner: it answers reduce_stock with stock_reduced
// and undoes reservations on rollback_stock.
type Service struct {
	Repo        Reservations
	Redis       redis.Cmdable
	Publisher   Publisher
	ServiceName string
	Logger      zerolog.Logger
}

// HandleCommand is installed as the stock.commands consumer handler.
func (s *Service) HandleCommand(ctx context.Context, m kafkago.Message) error {
	env, payload, err := events.Decode(m.Value)
	if err != nil {
		return kafkax.Permanent(err)
	}
	log := logger.WithContext(ctx, s.Logger).With().
		Str("transaction_id", env.TransactionID).
		Str("event", env.Event).
		Logger()

	// dedup via Redis (event_id)
	dkey := redisx.DedupKey("inventory", env.EventID)
	if exists, _ := redisx.Exists(ctx, s.Redis, dkey); exists {
		log.Debug().Msg("duplicate command skipped")
		return nil
	}

	switch p := payload.(type) {
	case *events.ReduceStockPayload:
		err = s.reduce(ctx, env.TransactionID, p.Products, log)
	case *events.RollbackStockPayload:
		err = s.Repo.ReleaseAll(ctx, env.TransactionID)
		if err == nil {
			log.Info().Msg("reservations released")
		}
	default:
		log.Debug().Msg("not a stock command, ignored")
		return nil
	}
	if err != nil {
		return err
	}
	_, _ = redisx.Claim(ctx, s.Redis, dkey, redisx.TTLDedup)
	return nil
}

func (s *Service) reduce(ctx context.Context, txn string, items []events.StockItem, log zerolog.Logger) error {
	// already reserved by an earlier delivery: answer again
	if ok, err := s.Repo.Reserved(ctx, txn); err != nil {
		return err
	} else if ok {
		return s.publish(ctx, txn, events.StatusSuccess, "", items)
	}

	ok, shortages, err := s.Repo.ReserveAll(ctx, txn, items)
	if err != nil {
		return err
	}
	if ok {
		log.Info().Int("items", len(items)).Msg("stock reserved")
		return s.publish(ctx, txn, events.StatusSuccess, "", items)
	}
	log.Warn().Int("short", len(shortages)).Msg("stock rejected")
	return s.publish(ctx, txn, events.StatusError, outOfStock(shortages), nil)
}

func (s *Service) publish(ctx context.Context, txn string, status events.Status, detail string, items []events.StockItem) error {
	env, err := events.NewResult(events.EventStockReduced, txn, s.ServiceName, status, detail,
		&events.StockResultPayload{Products: items})
	if err != nil {
		return kafkax.Permanent(err)
	}
	if err := s.Publisher.Publish(ctx, env); err != nil {
		return fmt.Errorf("publish %s: %w", env.Event, err)
	}
	return nil
}

func outOfStock(shortages []Shortage) string {
	parts := make([]string, 0, len(shortages))
	for _, sh := range shortages {
		parts = append(parts, fmt.Sprintf("%s requires %d, available %d", sh.ProductID, sh.Required, sh.Available))
	}
	return "OUT_OF_STOCK: " + strings.Join(parts, "; ")
}

