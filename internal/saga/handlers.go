package saga

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-order-saga/internal/events"
)

// HandleStockResult applies a stock_reduced result.
func (o *Orchestrator) HandleStockResult(ctx context.Context, env events.Envelope) error {
	return o.handleResult(ctx, env, StepStock, func(ctx context.Context, st *sagaState) error {
		if !env.Succeeded() {
			st.stock.Status = ReservationFailed
			reason := (&StepFailureError{Step: StepStock, Detail: env.Error}).Error()
			st.order.FailureReason = reason
			// first step: nothing to undo
			return o.finish(ctx, st, StatusFailed, env.Event, reason)
		}

		ord := st.order
		st.stock.Status = ReservationReserved
		ord.CompletedSteps = append(ord.CompletedSteps, StepStock)
		st.payment = &PaymentRecord{
			TransactionID: ord.TransactionID,
			UserEmail:     ord.UserEmail,
			OrderID:       ord.OrderID,
			Amount:        ord.TotalPrice(),
			PaymentMethod: ord.PaymentMethod,
			PaymentStatus: events.PaymentPending,
		}
		if err := o.advance(ctx, st, StatusStockReserved, env.Event, ""); err != nil {
			return err
		}
		return o.publish(ctx, ord.TransactionID, events.CommandTakePayment, takePaymentPayload(st))
	})
}

// HandlePaymentResult applies a payment_taken result.
func (o *Orchestrator) HandlePaymentResult(ctx context.Context, env events.Envelope) error {
	return o.handleResult(ctx, env, StepPayment, func(ctx context.Context, st *sagaState) error {
		if st.payment == nil {
			return &OrphanEventError{TransactionID: env.TransactionID, Event: env.Event}
		}
		if !env.Succeeded() {
			st.payment.PaymentStatus = events.PaymentFailed
			return o.compensate(ctx, st, StatusFailed, env.Event,
				(&StepFailureError{Step: StepPayment, Detail: env.Error}).Error())
		}

		p, err := events.Expect[*events.PaymentResultPayload](env)
		if err != nil {
			return err
		}
		ord := st.order
		st.payment.PaymentStatus = events.PaymentSuccess
		st.payment.PaymentID = p.PaymentID
		ord.PaymentID = p.PaymentID
		ord.CompletedSteps = append(ord.CompletedSteps, StepPayment)
		if err := o.advance(ctx, st, StatusPaymentTaken, env.Event, ""); err != nil {
			return err
		}
		return o.publish(ctx, ord.TransactionID, events.CommandCreateOrder, createOrderPayload(st))
	})
}

// HandleOrderResult applies an order_created result.
func (o *Orchestrator) HandleOrderResult(ctx context.Context, env events.Envelope) error {
	return o.handleResult(ctx, env, StepOrder, func(ctx context.Context, st *sagaState) error {
		if !env.Succeeded() {
			return o.compensate(ctx, st, StatusFailed, env.Event,
				(&StepFailureError{Step: StepOrder, Detail: env.Error}).Error())
		}

		p, err := events.Expect[*events.OrderResultPayload](env)
		if err != nil {
			return err
		}
		st.order.OrderID = p.OrderID
		if st.payment != nil {
			st.payment.OrderID = p.OrderID
		}
		st.order.CompletedSteps = append(st.order.CompletedSteps, StepOrder)
		return o.finish(ctx, st, StatusOrderCreated, env.Event, "")
	})
}

// handleResult runs apply under the transaction lease once the transition guard
// agrees the result is the one the saga is waiting for.
func (o *Orchestrator) handleResult(ctx context.Context, env events.Envelope, step Step, apply func(context.Context, *sagaState) error) error {
	id := env.TransactionID
	return o.withLease(ctx, id, func(ctx context.Context) error {
		log := o.logFor(ctx, id).With().Str("event", env.Event).Str("result", string(env.Status)).Logger()

		st, found, err := o.load(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			o.obs.EventDropped(env.Event, "orphan")
			log.Warn().Msg("orphan event dropped")
			return &OrphanEventError{TransactionID: id, Event: env.Event}
		}

		ord := st.order
		switch {
		case ord.completed(step):
			o.obs.EventDropped(env.Event, "duplicate")
			log.Info().Str("status", string(ord.Status)).Msg("step already applied, dropping redelivery")
			return nil
		case ord.Status == StatusCompensating || ord.Status == StatusFailed || ord.Status == StatusCancelled:
			return o.lateResult(ctx, st, step, env)
		case awaiting[ord.Status] != step:
			o.obs.EventDropped(env.Event, "unexpected")
			log.Warn().Str("status", string(ord.Status)).Msg("result does not match saga status, dropping")
			return nil
		}

		if err := apply(ctx, st); err != nil {
			return err
		}
		log.Info().Str("status", string(st.order.Status)).Msg("saga advanced")
		return nil
	})
}

// lateResult handles a result for a saga that is already unwinding. A success
// for a step that was never confirmed means the downstream service did the
// work after we gave up on it, so that step is compensated too.
func (o *Orchestrator) lateResult(ctx context.Context, st *sagaState, step Step, env events.Envelope) error {
	ord := st.order
	log := o.logFor(ctx, ord.TransactionID).With().Str("event", env.Event).Str("status", string(ord.Status)).Logger()
	if !env.Succeeded() {
		o.obs.EventDropped(env.Event, "late_failure")
		log.Info().Msg("late failure for unwinding saga, nothing to undo")
		return nil
	}

	switch step {
	case StepPayment:
		p, err := events.Expect[*events.PaymentResultPayload](env)
		if err != nil {
			// still compensated; the rollback goes out without a payment id
			log.Warn().Err(err).Msg("late payment result unreadable")
			break
		}
		ord.PaymentID = p.PaymentID
		if st.payment != nil {
			st.payment.PaymentID = p.PaymentID
			st.payment.PaymentStatus = events.PaymentSuccess
		}
	case StepOrder:
		p, err := events.Expect[*events.OrderResultPayload](env)
		if err != nil {
			log.Warn().Err(err).Msg("late order result unreadable")
			break
		}
		ord.OrderID = p.OrderID
	}
	ord.CompletedSteps = append(ord.CompletedSteps, step)

	ttl := o.opts.TTL
	if ord.Status.IsTerminal() {
		ttl = o.opts.TerminalRetention
	}
	if err := o.publishCompensation(ctx, st, step); err != nil {
		return err
	}
	ord.CompensatedSteps = append(ord.CompensatedSteps, step)
	if ttl > 0 {
		if err := o.persist(ctx, st, ttl); err != nil {
			return err
		}
	}
	o.record(ctx, Transition{TransactionID: ord.TransactionID, From: ord.Status, To: ord.Status, Event: env.Event, Reason: fmt.Sprintf("late %s success compensated", step)})
	log.Warn().Str("step", string(step)).Msg("late success compensated")
	return nil
}

func takePaymentPayload(st *sagaState) *events.TakePaymentPayload {
	return &events.TakePaymentPayload{
		UserEmail:     st.payment.UserEmail,
		OrderID:       st.payment.OrderID,
		Amount:        st.payment.Amount,
		PaymentMethod: st.payment.PaymentMethod,
		PaymentStatus: st.payment.PaymentStatus,
	}
}

func createOrderPayload(st *sagaState) *events.CreateOrderPayload {
	ord := st.order
	items := make([]events.OrderItem, 0, len(ord.Items))
	for _, it := range ord.Items {
		items = append(items, events.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return &events.CreateOrderPayload{
		UserEmail:       ord.UserEmail,
		VendorEmail:     ord.VendorEmail,
		DeliveryAddress: ord.DeliveryAddress,
		Description:     ord.Description,
		Status:          ord.OrderStatus,
		Items:           items,
		TotalPrice:      ord.TotalPrice(),
		PaymentMethod:   ord.PaymentMethod,
		PaymentID:       ord.PaymentID,
	}
}
