package saga

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-order-saga/internal/events"
)

var compensationFor = map[Step]string{
	StepStock:   events.CommandRollbackStock,
	StepPayment: events.CommandRollbackPayment,
	StepOrder:   events.CommandRollbackOrder,
}

// compensate persists COMPENSATING, undoes every confirmed step in reverse
// completion order, then moves the saga to target. It resumes safely after a
// partial run: steps already compensated are skipped.
func (o *Orchestrator) compensate(ctx context.Context, st *sagaState, target Status, event, reason string) error {
	ord := st.order
	if ord.Status != StatusCompensating {
		ord.CompensationTarget = target
		ord.FailureReason = reason
		if err := o.advance(ctx, st, StatusCompensating, event, reason); err != nil {
			return err
		}
	}

	for i := len(ord.CompletedSteps) - 1; i >= 0; i-- {
		step := ord.CompletedSteps[i]
		if ord.compensated(step) {
			continue
		}
		if err := o.publishCompensation(ctx, st, step); err != nil {
			return err
		}
		ord.CompensatedSteps = append(ord.CompensatedSteps, step)
		if err := o.persist(ctx, st, o.opts.TTL); err != nil {
			return err
		}
	}

	if ord.CompensationTarget == "" {
		ord.CompensationTarget = StatusFailed
	}
	return o.finish(ctx, st, ord.CompensationTarget, event, ord.FailureReason)
}

func (o *Orchestrator) publishCompensation(ctx context.Context, st *sagaState, step Step) error {
	ord := st.order
	tag, ok := compensationFor[step]
	if !ok {
		return fmt.Errorf("no compensation for step %q", step)
	}

	var payload events.Payload
	switch step {
	case StepStock:
		payload = &events.RollbackStockPayload{Products: st.stock.Reservations}
	case StepPayment:
		p := &events.RollbackPaymentPayload{PaymentID: ord.PaymentID, Amount: ord.TotalPrice()}
		if st.payment != nil {
			p.Amount = st.payment.Amount
			if st.payment.PaymentID != "" {
				p.PaymentID = st.payment.PaymentID
			}
			st.payment.PaymentStatus = events.PaymentRefund
		}
		payload = p
	case StepOrder:
		payload = &events.RollbackOrderPayload{OrderID: ord.OrderID}
	}

	if err := o.publish(ctx, ord.TransactionID, tag, payload); err != nil {
		return err
	}
	o.obs.CompensationPublished(tag)
	log := o.logFor(ctx, ord.TransactionID)
	log.Info().Str("command", tag).Msg("compensation published")
	return nil
}

// CancelOrderSaga compensates the confirmed steps of a running saga and ends
// it as CANCELLED. Cancelling an already cancelled saga is a no-op.
func (o *Orchestrator) CancelOrderSaga(ctx context.Context, id, token string) (Status, error) {
	role, err := o.authenticate(ctx, token)
	if err != nil {
		return "", err
	}

	var out Status
	err = o.withLease(ctx, id, func(ctx context.Context) error {
		st, found, err := o.load(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return ErrSagaNotFound
		}
		ord := st.order
		switch {
		case ord.Status == StatusCancelled:
			out = StatusCancelled
			return nil
		case ord.Status.IsTerminal():
			out = ord.Status
			return fmt.Errorf("%w: %s is %s", ErrSagaTerminal, id, ord.Status)
		case ord.Status == StatusCompensating && ord.CompensationTarget != StatusCancelled:
			out = ord.Status
			return fmt.Errorf("%w: %s is already failing", ErrSagaTerminal, id)
		}

		if err := o.compensate(ctx, st, StatusCancelled, "cancel", "cancelled by "+string(role)); err != nil {
			return err
		}
		out = StatusCancelled
		return nil
	})
	return out, err
}
