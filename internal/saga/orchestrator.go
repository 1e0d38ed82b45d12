package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/auth"
	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/ariefcatur/go-order-saga/internal/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Deps struct {
	Store     Store
	Index     ActiveIndex
	Locks     Locker
	Publisher Publisher
	Auth      Authenticator
	Journal   Journal  // optional
	Observer  Observer // optional
}

type Options struct {
	Producer          string
	TTL               time.Duration
	TerminalRetention time.Duration // 0 deletes records as soon as the saga ends
	StallAfter        time.Duration
	MaxAttempts       int
	SweepBatch        int
	Logger            zerolog.Logger
	Now               func() time.Time
}

// Orchestrator drives order sagas. All state lives in the Store; the
// orchestrator itself is stateless and safe for concurrent use.
type Orchestrator struct {
	store   Store
	index   ActiveIndex
	locks   Locker
	pub     Publisher
	authn   Authenticator
	journal Journal
	obs     Observer
	opts    Options
	log     zerolog.Logger
}

func New(d Deps, opts Options) *Orchestrator {
	if d.Journal == nil {
		d.Journal = nopJournal{}
	}
	if d.Observer == nil {
		d.Observer = nopObserver{}
	}
	if opts.Producer == "" {
		opts.Producer = "order-orchestrator"
	}
	if opts.TTL <= 0 {
		opts.TTL = 600 * time.Second
	}
	if opts.TerminalRetention < 0 {
		opts.TerminalRetention = 0
	}
	if opts.StallAfter <= 0 {
		opts.StallAfter = 2 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		store:   d.Store,
		index:   d.Index,
		locks:   d.Locks,
		pub:     d.Publisher,
		authn:   d.Auth,
		journal: d.Journal,
		obs:     d.Observer,
		opts:    opts,
		log:     opts.Logger,
	}
}

func (o *Orchestrator) now() time.Time { return o.opts.Now().UTC() }

// authenticate maps an exhausted role chain to AuthenticationError; any other
// collaborator failure is returned as is.
func (o *Orchestrator) authenticate(ctx context.Context, token string) (auth.Role, error) {
	role, err := o.authn.Authenticate(ctx, token)
	if errors.Is(err, auth.ErrUnauthorized) {
		return "", &AuthenticationError{Err: err}
	}
	if err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}
	return role, nil
}

// StartOrderSaga admits a new order. It returns once the initial records are
// saved and reduce_stock is published; downstream steps run asynchronously.
func (o *Orchestrator) StartOrderSaga(ctx context.Context, req StartRequest, token string) (StartResult, error) {
	role, err := o.authenticate(ctx, token)
	if err != nil {
		return StartResult{}, err
	}
	if err := req.Validate(); err != nil {
		return StartResult{}, err
	}

	now := o.now()
	id := uuid.NewString()
	orderStatus := req.Status
	if orderStatus == "" {
		orderStatus = DefaultOrderStatus
	}
	st := &sagaState{
		order: &OrderRecord{
			TransactionID:   id,
			UserEmail:       req.UserEmail,
			VendorEmail:     req.VendorEmail,
			DeliveryAddress: req.DeliveryAddress,
			Description:     req.Description,
			OrderStatus:     orderStatus,
			Items:           append([]Item(nil), req.Items...),
			PaymentMethod:   req.PaymentMethod,
			Status:          StatusStarted,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		stock: &StockRecord{
			TransactionID: id,
			Reservations:  mergeReservations(req.Items),
			Status:        ReservationPending,
			UpdatedAt:     now,
		},
	}
	log := o.logFor(ctx, id)

	if err := o.save(ctx, KindStock, id, st.stock, o.opts.TTL); err != nil {
		return StartResult{}, err
	}
	if err := o.save(ctx, KindOrder, id, st.order, o.opts.TTL); err != nil {
		o.discard(ctx, id)
		return StartResult{}, err
	}

	o.markActive(ctx, id)
	if err := o.publish(ctx, id, events.CommandReduceStock, &events.ReduceStockPayload{Products: st.stock.Reservations}); err != nil {
		o.discard(ctx, id)
		return StartResult{}, err
	}

	o.record(ctx, Transition{TransactionID: id, To: StatusStarted, Event: "start", Reason: "admitted as " + string(role)})
	o.obs.SagaStarted()
	o.obs.SagaTransition(string(StatusStarted))
	log.Info().
		Str("role", string(role)).
		Int("items", len(req.Items)).
		Float64("total_price", st.order.TotalPrice()).
		Msg("saga started")

	return StartResult{TransactionID: id, Status: StatusStarted, TotalPrice: st.order.TotalPrice()}, nil
}

// Dispatch routes a decoded result envelope to its handler.
func (o *Orchestrator) Dispatch(ctx context.Context, env events.Envelope) error {
	switch env.Event {
	case events.EventStockReduced:
		return o.HandleStockResult(ctx, env)
	case events.EventPaymentTaken:
		return o.HandlePaymentResult(ctx, env)
	case events.EventOrderCreated:
		return o.HandleOrderResult(ctx, env)
	}
	return fmt.Errorf("%w: %q is not a step result", events.ErrInvalidEnvelope, env.Event)
}

// SagaStatus returns the current view of a saga.
func (o *Orchestrator) SagaStatus(ctx context.Context, id, token string) (StatusView, error) {
	if _, err := o.authenticate(ctx, token); err != nil {
		return StatusView{}, err
	}
	var ord OrderRecord
	found, err := o.store.Get(ctx, KindOrder, id, &ord)
	if err != nil {
		return StatusView{}, &StoreError{Op: "get", Kind: KindOrder, TransactionID: id, Err: err}
	}
	if !found {
		return StatusView{}, ErrSagaNotFound
	}
	return StatusView{
		TransactionID:    ord.TransactionID,
		Status:           ord.Status,
		TotalPrice:       ord.TotalPrice(),
		CompletedSteps:   nonNil(ord.CompletedSteps),
		CompensatedSteps: nonNil(ord.CompensatedSteps),
		FailureReason:    ord.FailureReason,
		OrderID:          ord.OrderID,
		PaymentID:        ord.PaymentID,
		UpdatedAt:        ord.UpdatedAt,
	}, nil
}

// History returns the journaled transitions of a saga, oldest first.
func (o *Orchestrator) History(ctx context.Context, id, token string) ([]Transition, error) {
	if _, err := o.authenticate(ctx, token); err != nil {
		return nil, err
	}
	ts, err := o.journal.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", id, err)
	}
	if len(ts) == 0 {
		return nil, ErrSagaNotFound
	}
	return ts, nil
}

func nonNil(s []Step) []Step {
	if s == nil {
		return []Step{}
	}
	return s
}

// ---- state helpers ----

type sagaState struct {
	order   *OrderRecord
	stock   *StockRecord
	payment *PaymentRecord // nil until the stock step succeeds
}

func (o *Orchestrator) logFor(ctx context.Context, id string) zerolog.Logger {
	return logger.WithContext(ctx, o.log).With().Str("transaction_id", id).Logger()
}

func (o *Orchestrator) withLease(ctx context.Context, id string, fn func(context.Context) error) error {
	release, err := o.locks.Acquire(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLockTimeout, id, err)
	}
	defer release()
	return fn(ctx)
}

func (o *Orchestrator) save(ctx context.Context, kind, id string, v any, ttl time.Duration) error {
	if err := o.store.Save(ctx, kind, id, v, ttl); err != nil {
		return &StoreError{Op: "save", Kind: kind, TransactionID: id, Err: err}
	}
	return nil
}

// load reads all records of a saga. Missing order or stock records mean the
// saga is unknown (finished and expired, or never started).
func (o *Orchestrator) load(ctx context.Context, id string) (*sagaState, bool, error) {
	st := &sagaState{order: &OrderRecord{}, stock: &StockRecord{}}
	for _, r := range []struct {
		kind string
		out  any
	}{{KindOrder, st.order}, {KindStock, st.stock}} {
		found, err := o.store.Get(ctx, r.kind, id, r.out)
		if err != nil {
			return nil, false, &StoreError{Op: "get", Kind: r.kind, TransactionID: id, Err: err}
		}
		if !found {
			return nil, false, nil
		}
	}
	var pay PaymentRecord
	found, err := o.store.Get(ctx, KindPayment, id, &pay)
	if err != nil {
		return nil, false, &StoreError{Op: "get", Kind: KindPayment, TransactionID: id, Err: err}
	}
	if found {
		st.payment = &pay
	}
	return st, true, nil
}

// persist writes every record of st. The order record goes last: it carries
// the status, so a crash mid-way leaves the previous status in place.
func (o *Orchestrator) persist(ctx context.Context, st *sagaState, ttl time.Duration) error {
	now := o.now()
	id := st.order.TransactionID
	st.order.UpdatedAt = now
	st.stock.UpdatedAt = now
	if err := o.save(ctx, KindStock, id, st.stock, ttl); err != nil {
		return err
	}
	if st.payment != nil {
		st.payment.UpdatedAt = now
		if err := o.save(ctx, KindPayment, id, st.payment, ttl); err != nil {
			return err
		}
	}
	if err := o.save(ctx, KindOrder, id, st.order, ttl); err != nil {
		return err
	}
	if !st.order.Status.IsTerminal() {
		o.markActive(ctx, id)
	}
	return nil
}

// advance moves the saga to a new status and persists it with the normal TTL.
func (o *Orchestrator) advance(ctx context.Context, st *sagaState, to Status, event, reason string) error {
	from := st.order.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s for %s", from, to, st.order.TransactionID)
	}
	st.order.Status = to
	st.order.ReconcileAttempts = 0
	if err := o.persist(ctx, st, o.opts.TTL); err != nil {
		st.order.Status = from
		return err
	}
	o.record(ctx, Transition{TransactionID: st.order.TransactionID, From: from, To: to, Event: event, Reason: reason})
	o.obs.SagaTransition(string(to))
	return nil
}

// finish moves the saga to a terminal status. Records are kept for the
// retention window so redeliveries still hit the transition guard.
func (o *Orchestrator) finish(ctx context.Context, st *sagaState, to Status, event, reason string) error {
	from := st.order.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s for %s", from, to, st.order.TransactionID)
	}
	st.order.Status = to
	id := st.order.TransactionID

	if o.opts.TerminalRetention > 0 {
		if err := o.persist(ctx, st, o.opts.TerminalRetention); err != nil {
			st.order.Status = from
			return err
		}
	} else {
		for _, kind := range []string{KindOrder, KindStock, KindPayment} {
			if err := o.store.Delete(ctx, kind, id); err != nil {
				st.order.Status = from
				return &StoreError{Op: "delete", Kind: kind, TransactionID: id, Err: err}
			}
		}
	}
	if err := o.index.ClearActive(ctx, id); err != nil {
		log := o.logFor(ctx, id)
		log.Warn().Err(err).Msg("clear active index failed")
	}
	o.record(ctx, Transition{TransactionID: id, From: from, To: to, Event: event, Reason: reason})
	o.obs.SagaTransition(string(to))
	log := o.logFor(ctx, id)
	log.Info().Str("status", string(to)).Str("reason", reason).Msg("saga finished")
	return nil
}

// discard removes the records written by an aborted start.
func (o *Orchestrator) discard(ctx context.Context, id string) {
	log := o.logFor(ctx, id)
	for _, kind := range []string{KindOrder, KindStock} {
		if err := o.store.Delete(ctx, kind, id); err != nil {
			log.Warn().Err(err).Str("kind", kind).Msg("cleanup of aborted saga failed")
		}
	}
	if err := o.index.ClearActive(ctx, id); err != nil {
		log.Warn().Err(err).Msg("clear active index failed")
	}
}

func (o *Orchestrator) markActive(ctx context.Context, id string) {
	if err := o.index.MarkActive(ctx, id, o.now()); err != nil {
		log := o.logFor(ctx, id)
		log.Warn().Err(err).Msg("mark active failed")
	}
}

func (o *Orchestrator) record(ctx context.Context, t Transition) {
	if t.At.IsZero() {
		t.At = o.now()
	}
	if err := o.journal.Record(ctx, t); err != nil {
		log := o.logFor(ctx, t.TransactionID)
		log.Warn().Err(err).Str("to", string(t.To)).Msg("journal write failed")
	}
}

func (o *Orchestrator) publish(ctx context.Context, id, tag string, payload events.Payload) error {
	env, err := events.NewCommand(tag, id, o.opts.Producer, payload)
	if err == nil {
		err = o.pub.Publish(ctx, env)
	}
	if err != nil {
		return &ChannelPublishError{Command: tag, TransactionID: id, Err: err}
	}
	return nil
}
