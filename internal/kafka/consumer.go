package kafka

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
type Handler func(ctx context.Context, m kafka.Message) error

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the message goes straight to the DLQ.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Reader is the subset of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Observer receives consumer outcomes (metrics).
type Observer interface {
	ConsumerRetry(topic string)
	ConsumerDeadLetter(topic string)
}

type nopObserver struct{}

func (nopObserver) ConsumerRetry(string)      {}
func (nopObserver) ConsumerDeadLetter(string) {}

type Options struct {
	Workers    int
	MaxRetries int
	Backoff    time.Duration
	DLQ        *Producer
	Logger     zerolog.Logger
	Observer   Observer
}

type Consumer struct {
	r     Reader
	topic string
	opts  Options
}

func NewConsumer(brokers []string, group, topic string, opts Options) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return NewConsumerWithReader(r, topic, opts)
}

func NewConsumerWithReader(r Reader, topic string, opts Options) *Consumer {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Consumer{r: r, topic: topic, opts: opts}
}

// Start fetches until ctx ends. Each partition is pinned to one worker so a
// transaction's messages are handled in order and offsets commit in order.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make([]chan kafka.Message, c.opts.Workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if ctx.Err() != nil {
					// drain only; uncommitted messages are redelivered
					continue
				}
				c.process(ctx, h, m)
			}
		}(jobs[i])
	}
	stop := func() {
		for _, ch := range jobs {
			close(ch)
		}
		wg.Wait()
	}

	// dispatcher loop
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			// kecilkan noise saat shutdown
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs[m.Partition%c.opts.Workers] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) {
	log := c.opts.Logger.With().
		Str("topic", m.Topic).
		Int("partition", m.Partition).
		Int64("offset", m.Offset).
		Str("key", string(m.Key)).
		Logger()
	hctx := extractTrace(ctx, m)

	var err error
	attempt := 0
	for {
		err = h(hctx, m)
		if err == nil || IsPermanent(err) || attempt >= c.opts.MaxRetries {
			break
		}
		attempt++
		c.opts.Observer.ConsumerRetry(c.topic)
		log.Warn().Err(err).Int("attempt", attempt).Msg("handler failed, retrying")
		select {
		case <-ctx.Done():
			// not committed; redelivered after restart
			return
		case <-time.After(c.opts.Backoff * time.Duration(attempt)):
		}
	}

	if err != nil {
		// the partition stays blocked until the message is parked; committing a
		// later offset would skip it for good
		for n := 1; ; n++ {
			dlqErr := c.deadLetter(ctx, m, err, attempt+1)
			if dlqErr == nil {
				break
			}
			log.Error().Err(dlqErr).AnErr("handler_error", err).Int("dlq_attempt", n).Msg("dead-letter publish failed, partition blocked")
			select {
			case <-ctx.Done():
				// not committed; redelivered after restart
				return
			case <-time.After(dlqBackoff(c.opts.Backoff, n)):
			}
		}
		c.opts.Observer.ConsumerDeadLetter(c.topic)
		log.Error().Err(err).Int("attempts", attempt+1).Msg("message moved to dlq")
	}

	if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("commit failed")
	}
}

const (
	minDLQBackoff = 50 * time.Millisecond
	maxDLQBackoff = 5 * time.Second
)

func dlqBackoff(base time.Duration, attempt int) time.Duration {
	if base < minDLQBackoff {
		base = minDLQBackoff
	}
	d := base * time.Duration(attempt)
	if d > maxDLQBackoff {
		d = maxDLQBackoff
	}
	return d
}

func (c *Consumer) deadLetter(ctx context.Context, m kafka.Message, cause error, attempts int) error {
	if c.opts.DLQ == nil {
		return nil
	}
	headers := append([]kafka.Header{}, m.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderDLQError, Value: []byte(cause.Error())},
		kafka.Header{Key: HeaderDLQSource, Value: []byte(c.topic)},
		kafka.Header{Key: HeaderDLQAttempts, Value: []byte(strconv.Itoa(attempts))},
	)
	return c.opts.DLQ.Publish(ctx, events.DLQTopic(c.topic), m.Key, m.Value, headers...)
}
