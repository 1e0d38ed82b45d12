package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidEnvelope = errors.New("invalid envelope")

type Kind int

const (
	KindCommand Kind = iota + 1
	KindResult
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindResult:
		return "result"
	}
	return "unknown"
}

// Payload is implemented by every data block carried in an envelope.
type Payload interface {
	Validate() error
}

type Schema struct {
	Tag      string
	Kind     Kind
	Resource Resource
	New      func() Payload
}

var registry = map[string]Schema{
	CommandReduceStock:     {CommandReduceStock, KindCommand, ResourceStock, func() Payload { return &ReduceStockPayload{} }},
	CommandRollbackStock:   {CommandRollbackStock, KindCommand, ResourceStock, func() Payload { return &RollbackStockPayload{} }},
	CommandTakePayment:     {CommandTakePayment, KindCommand, ResourcePayment, func() Payload { return &TakePaymentPayload{} }},
	CommandRollbackPayment: {CommandRollbackPayment, KindCommand, ResourcePayment, func() Payload { return &RollbackPaymentPayload{} }},
	CommandCreateOrder:     {CommandCreateOrder, KindCommand, ResourceOrder, func() Payload { return &CreateOrderPayload{} }},
	CommandRollbackOrder:   {CommandRollbackOrder, KindCommand, ResourceOrder, func() Payload { return &RollbackOrderPayload{} }},

	EventStockReduced: {EventStockReduced, KindResult, ResourceStock, func() Payload { return &StockResultPayload{} }},
	EventPaymentTaken: {EventPaymentTaken, KindResult, ResourcePayment, func() Payload { return &PaymentResultPayload{} }},
	EventOrderCreated: {EventOrderCreated, KindResult, ResourceOrder, func() Payload { return &OrderResultPayload{} }},
}

func Lookup(tag string) (Schema, bool) {
	s, ok := registry[tag]
	return s, ok
}

// Topic resolves the topic an envelope with the given tag is published on.
func Topic(tag string) (string, error) {
	s, ok := Lookup(tag)
	if !ok {
		return "", fmt.Errorf("%w: unknown event %q", ErrInvalidEnvelope, tag)
	}
	if s.Kind == KindCommand {
		return CommandTopic(s.Resource), nil
	}
	return ResultTopic(s.Resource), nil
}

// NewCommand validates payload and wraps it in a command envelope.
func NewCommand(tag, transactionID, producer string, payload Payload) (Envelope, error) {
	return build(tag, KindCommand, transactionID, producer, "", "", payload)
}

// NewResult wraps a step outcome. Payload may be nil on failure.
func NewResult(tag, transactionID, producer string, status Status, detail string, payload Payload) (Envelope, error) {
	if status != StatusSuccess && status != StatusError {
		return Envelope{}, fmt.Errorf("%w: bad status %q", ErrInvalidEnvelope, status)
	}
	return build(tag, KindResult, transactionID, producer, status, detail, payload)
}

func build(tag string, kind Kind, transactionID, producer string, status Status, detail string, payload Payload) (Envelope, error) {
	s, ok := Lookup(tag)
	if !ok {
		return Envelope{}, fmt.Errorf("%w: unknown event %q", ErrInvalidEnvelope, tag)
	}
	if s.Kind != kind {
		return Envelope{}, fmt.Errorf("%w: %q is a %s, not a %s", ErrInvalidEnvelope, tag, s.Kind, kind)
	}
	if strings.TrimSpace(transactionID) == "" {
		return Envelope{}, fmt.Errorf("%w: missing transaction_id", ErrInvalidEnvelope)
	}
	if payload == nil {
		payload = s.New()
	}
	if status != StatusError {
		if err := payload.Validate(); err != nil {
			return Envelope{}, fmt.Errorf("%w: %s: %v", ErrInvalidEnvelope, tag, err)
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", tag, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		Event:         tag,
		EventVersion:  EventVersion,
		TransactionID: transactionID,
		Status:        status,
		Error:         detail,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		Data:          data,
	}, nil
}

// Decode parses and validates a raw message. Failed results are accepted with a
// partial (unvalidated) payload since producers report errors before filling data.
func Decode(b []byte) (Envelope, Payload, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	s, ok := Lookup(env.Event)
	if !ok {
		return env, nil, fmt.Errorf("%w: unknown event %q", ErrInvalidEnvelope, env.Event)
	}
	if strings.TrimSpace(env.TransactionID) == "" {
		return env, nil, fmt.Errorf("%w: missing transaction_id", ErrInvalidEnvelope)
	}
	switch s.Kind {
	case KindCommand:
		if env.Status != "" {
			return env, nil, fmt.Errorf("%w: command %q carries a status", ErrInvalidEnvelope, env.Event)
		}
	case KindResult:
		if env.Status != StatusSuccess && env.Status != StatusError {
			return env, nil, fmt.Errorf("%w: result %q has status %q", ErrInvalidEnvelope, env.Event, env.Status)
		}
	}

	p := s.New()
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, p); err != nil {
			return env, nil, fmt.Errorf("%w: %s data: %v", ErrInvalidEnvelope, env.Event, err)
		}
	}
	if env.Status != StatusError {
		if err := p.Validate(); err != nil {
			return env, nil, fmt.Errorf("%w: %s: %v", ErrInvalidEnvelope, env.Event, err)
		}
	}
	return env, p, nil
}

// Expect decodes e's data into the registered payload type T.
func Expect[T Payload](e Envelope) (T, error) {
	var zero T
	s, ok := Lookup(e.Event)
	if !ok {
		return zero, fmt.Errorf("%w: unknown event %q", ErrInvalidEnvelope, e.Event)
	}
	p := s.New()
	if len(e.Data) > 0 && string(e.Data) != "null" {
		if err := json.Unmarshal(e.Data, p); err != nil {
			return zero, fmt.Errorf("decode %s data: %w", e.Event, err)
		}
	}
	t, ok := p.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s does not carry %T", ErrInvalidEnvelope, e.Event, zero)
	}
	return t, nil
}
