package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-order-saga/internal/auth"
	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type published struct {
	env events.Envelope
	// order status persisted at the moment the command went out
	persisted Status
}

type fakePublisher struct {
	mu     sync.Mutex
	store  Store
	msgs   []published
	failOn map[string]error
}

func (p *fakePublisher) Publish(ctx context.Context, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failOn[env.Event]; err != nil {
		return err
	}
	var ord OrderRecord
	var status Status
	if found, _ := p.store.Get(ctx, KindOrder, env.TransactionID, &ord); found {
		status = ord.Status
	}
	p.msgs = append(p.msgs, published{env: env, persisted: status})
	return nil
}

func (p *fakePublisher) fail(tag string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn == nil {
		p.failOn = map[string]error{}
	}
	if err == nil {
		delete(p.failOn, tag)
		return
	}
	p.failOn[tag] = err
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func (p *fakePublisher) tags() []string {
	var out []string
	for _, m := range p.all() {
		out = append(out, m.env.Event)
	}
	return out
}

func (p *fakePublisher) count(tag string) int {
	n := 0
	for _, m := range p.all() {
		if m.env.Event == tag {
			n++
		}
	}
	return n
}

func (p *fakePublisher) last(t *testing.T, tag string) published {
	t.Helper()
	msgs := p.all()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].env.Event == tag {
			return msgs[i]
		}
	}
	t.Fatalf("no %s published; got %v", tag, p.tags())
	return published{}
}

type fakeAuth struct {
	mu    sync.Mutex
	role  auth.Role
	err   error
	calls int
}

func (a *fakeAuth) Authenticate(context.Context, string) (auth.Role, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return "", a.err
	}
	return a.role, nil
}

type memJournal struct {
	mu sync.Mutex
	ts []Transition
}

func (j *memJournal) Record(_ context.Context, t Transition) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ts = append(j.ts, t)
	return nil
}

func (j *memJournal) History(_ context.Context, id string) ([]Transition, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Transition
	for _, t := range j.ts {
		if t.TransactionID == id {
			out = append(out, t)
		}
	}
	return out, nil
}

// flakyStore fails writes of one record kind.
type flakyStore struct {
	Store
	failKind string
	err      error
}

func (s *flakyStore) Save(ctx context.Context, kind, id string, v any, ttl time.Duration) error {
	if kind == s.failKind {
		return s.err
	}
	return s.Store.Save(ctx, kind, id, v, ttl)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	t       *testing.T
	mr      *miniredis.Miniredis
	rdb     *redis.Client
	store   *redisx.Store
	locks   *redisx.Locker
	pub     *fakePublisher
	auth    *fakeAuth
	journal *memJournal
	clock   *fakeClock
	orch    *Orchestrator
}

func newHarness(t *testing.T, tweak ...func(*Options, *Deps)) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	h := &harness{
		t:       t,
		mr:      mr,
		rdb:     rdb,
		store:   redisx.NewStore(rdb, 600*time.Second),
		locks:   redisx.NewLocker(rdb, 5*time.Second, 2*time.Second),
		auth:    &fakeAuth{role: auth.RoleCustomer},
		journal: &memJournal{},
		clock:   &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.pub = &fakePublisher{store: h.store}

	opts := Options{
		Producer:          "order-orchestrator",
		TTL:               600 * time.Second,
		TerminalRetention: 60 * time.Second,
		StallAfter:        2 * time.Minute,
		MaxAttempts:       2,
		Logger:            zerolog.Nop(),
		Now:               h.clock.Now,
	}
	deps := Deps{
		Store:     h.store,
		Index:     h.store,
		Locks:     h.locks,
		Publisher: h.pub,
		Auth:      h.auth,
		Journal:   h.journal,
	}
	for _, fn := range tweak {
		fn(&opts, &deps)
	}
	h.orch = New(deps, opts)
	return h
}

func scenarioRequest() StartRequest {
	return StartRequest{
		UserEmail:       "customer@example.com",
		VendorEmail:     "vendor@example.com",
		DeliveryAddress: "Jl. Sudirman 1, Jakarta",
		Items:           []Item{{ProductID: "P1", Quantity: 2, UnitPrice: 10.0}},
		PaymentMethod:   events.PaymentCreditCard,
	}
}

func (h *harness) start(req StartRequest) StartResult {
	h.t.Helper()
	res, err := h.orch.StartOrderSaga(context.Background(), req, "token")
	if err != nil {
		h.t.Fatalf("StartOrderSaga: %v", err)
	}
	return res
}

func (h *harness) result(tag, id string, ok bool, payload events.Payload) events.Envelope {
	h.t.Helper()
	status, detail := events.StatusSuccess, ""
	if !ok {
		status, detail = events.StatusError, "downstream said no"
	}
	env, err := events.NewResult(tag, id, "test", status, detail, payload)
	if err != nil {
		h.t.Fatalf("NewResult: %v", err)
	}
	return env
}

func (h *harness) deliver(env events.Envelope) error {
	return h.orch.Dispatch(context.Background(), env)
}

func (h *harness) mustDeliver(env events.Envelope) {
	h.t.Helper()
	if err := h.deliver(env); err != nil {
		h.t.Fatalf("Dispatch %s: %v", env.Event, err)
	}
}

func (h *harness) stockOK(id string) events.Envelope {
	return h.result(events.EventStockReduced, id, true, &events.StockResultPayload{})
}

func (h *harness) paymentOK(id string) events.Envelope {
	return h.result(events.EventPaymentTaken, id, true, &events.PaymentResultPayload{PaymentID: "pay-1", PaymentStatus: events.PaymentSuccess})
}

func (h *harness) orderOK(id string) events.Envelope {
	return h.result(events.EventOrderCreated, id, true, &events.OrderResultPayload{OrderID: "ord-1"})
}

func (h *harness) order(id string) (OrderRecord, bool) {
	h.t.Helper()
	var ord OrderRecord
	found, err := h.store.Get(context.Background(), KindOrder, id, &ord)
	if err != nil {
		h.t.Fatalf("get order: %v", err)
	}
	return ord, found
}

func (h *harness) status(id string) Status {
	h.t.Helper()
	ord, found := h.order(id)
	if !found {
		h.t.Fatalf("order record for %s missing", id)
	}
	return ord.Status
}

func (h *harness) isActive(id string) bool {
	h.t.Helper()
	_, err := h.rdb.ZScore(context.Background(), redisx.KeyActiveSagas, id).Result()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		h.t.Fatalf("zscore: %v", err)
	}
	return true
}

func equalTags(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
