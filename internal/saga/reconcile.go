package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/robfig/cron/v3"
)

// SweepStats summarises one reconciliation pass.
type SweepStats struct {
	Scanned     int
	Republished int
	Compensated int
	Stalled     int
	Pruned      int
	Skipped     int
}

// Sweep re-drives sagas that have not moved for StallAfter. The command for the
// current status is published again (step owners dedupe by transaction id);
// after MaxAttempts the saga is compensated and failed as stalled. Sagas left
// in COMPENSATING finish their compensation.
func (o *Orchestrator) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	cutoff := o.now().Add(-o.opts.StallAfter)
	ids, err := o.index.Stale(ctx, cutoff, o.opts.SweepBatch)
	if err != nil {
		return stats, fmt.Errorf("list stale sagas: %w", err)
	}

	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		stats.Scanned++
		action, err := o.reconcileOne(ctx, id)
		if errors.Is(err, ErrLockTimeout) {
			// a handler is working on it right now
			stats.Skipped++
			continue
		}
		if err != nil {
			errs = append(errs, err)
			log := o.logFor(ctx, id)
			log.Error().Err(err).Msg("reconcile failed")
			continue
		}
		switch action {
		case "republish":
			stats.Republished++
		case "compensate":
			stats.Compensated++
		case "stalled":
			stats.Stalled++
		case "prune":
			stats.Pruned++
		}
		if action != "" {
			o.obs.ReconcileAction(action)
		}
	}
	return stats, errors.Join(errs...)
}

func (o *Orchestrator) reconcileOne(ctx context.Context, id string) (string, error) {
	var action string
	err := o.withLease(ctx, id, func(ctx context.Context) error {
		st, found, err := o.load(ctx, id)
		if err != nil {
			return err
		}
		if !found || st.order.Status.IsTerminal() {
			action = "prune"
			return o.index.ClearActive(ctx, id)
		}

		ord := st.order
		log := o.logFor(ctx, id).With().Str("status", string(ord.Status)).Logger()
		if ord.Status == StatusCompensating {
			action = "compensate"
			log.Info().Msg("resuming compensation")
			return o.compensate(ctx, st, ord.CompensationTarget, "reconcile", ord.FailureReason)
		}

		if ord.ReconcileAttempts >= o.opts.MaxAttempts {
			action = "stalled"
			reason := fmt.Sprintf("stalled in %s after %d attempts", ord.Status, ord.ReconcileAttempts)
			log.Warn().Msg(reason)
			return o.compensate(ctx, st, StatusFailed, "watchdog", reason)
		}

		tag, payload := o.pendingCommand(st)
		ord.ReconcileAttempts++
		if err := o.persist(ctx, st, o.opts.TTL); err != nil {
			return err
		}
		if err := o.publish(ctx, id, tag, payload); err != nil {
			return err
		}
		action = "republish"
		log.Info().Str("command", tag).Int("attempt", ord.ReconcileAttempts).Msg("command republished")
		return nil
	})
	return action, err
}

// pendingCommand is the command whose result the saga is waiting for.
func (o *Orchestrator) pendingCommand(st *sagaState) (string, events.Payload) {
	switch st.order.Status {
	case StatusStockReserved:
		return events.CommandTakePayment, takePaymentPayload(st)
	case StatusPaymentTaken:
		return events.CommandCreateOrder, createOrderPayload(st)
	default:
		return events.CommandReduceStock, &events.ReduceStockPayload{Products: st.stock.Reservations}
	}
}

// cronParser accepts standard five-field specs, an optional seconds field and
// descriptors such as "@every 30s".
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// StartReconciler schedules Sweep on spec until ctx ends. Overlapping runs are skipped.
func (o *Orchestrator) StartReconciler(ctx context.Context, spec string) (*cron.Cron, error) {
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", spec, err)
	}
	c := cron.New(cron.WithParser(cronParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(schedule, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		stats, err := o.Sweep(ctx)
		ev := o.log.Debug()
		if err != nil {
			ev = o.log.Error().Err(err)
		} else if stats.Republished+stats.Compensated+stats.Stalled > 0 {
			ev = o.log.Info()
		}
		ev.Int("scanned", stats.Scanned).
			Int("republished", stats.Republished).
			Int("compensated", stats.Compensated).
			Int("stalled", stats.Stalled).
			Int("pruned", stats.Pruned).
			Int("skipped", stats.Skipped).
			Msg("reconcile sweep")
	}))
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return c, nil
}
