package order

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-orders/internal/domain/payment"
)

// ReconcileOptions bounds a reconciliation pass.
type ReconcileOptions struct {
	// OlderThan skips orders younger than this, leaving time for callbacks.
	OlderThan time.Duration
	// Concurrency caps parallel gateway lookups. Values below 1 mean 1.
	Concurrency int
	// AbandonAfter deletes orders this old that the gateway still reports
	// as pending. Zero keeps them until the gateway settles.
	AbandonAfter time.Duration
}

// ReconcileReport counts what a pass did.
type ReconcileReport struct {
	Checked   int
	Confirmed int
	Deleted   int
	Pending   int
	Failed    int
}

type outcome int

const (
	outcomePending outcome = iota
	outcomeConfirmed
	outcomeDeleted
)

// Reconcile settles unpaid gateway orders whose callback never arrived: the
// gateway is asked for the payment state, paid orders are confirmed (marked
// paid and cart cleared in one transaction), expired checkouts and orders that
// never got a gateway reference are deleted as abandoned. Orders younger
// than the configured checkout timeout are never touched, since their
// gateway call may still be in flight.
func (s *Service) Reconcile(ctx context.Context, opts ReconcileOptions) (*ReconcileReport, error) {
	cutoff := s.now().Add(-max(opts.OlderThan, s.cfg.CheckoutTimeout))
	orders, err := s.store.Orders().List(ctx, Filter{
		Unpaid:        true,
		Methods:       []Method{MethodCard, MethodRegional},
		CreatedBefore: cutoff,
	})
	if err != nil {
		return nil, errors.Wrap(err, "list unpaid orders")
	}

	lg := zctx.From(ctx)
	report := &ReconcileReport{Checked: len(orders)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(max(opts.Concurrency, 1))
	for _, o := range orders {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res, err := s.reconcileOne(ctx, o, opts.AbandonAfter)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				lg.Warn("Reconcile order failed", zap.String("order_id", o.ID), zap.Error(err))
				return nil
			}
			switch res {
			case outcomeConfirmed:
				report.Confirmed++
			case outcomeDeleted:
				report.Deleted++
			default:
				report.Pending++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, errors.Wrap(err, "reconcile")
	}

	lg.Info("Reconcile pass finished",
		zap.Int("checked", report.Checked),
		zap.Int("confirmed", report.Confirmed),
		zap.Int("deleted", report.Deleted),
		zap.Int("pending", report.Pending),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (s *Service) reconcileOne(ctx context.Context, o Order, abandonAfter time.Duration) (outcome, error) {
	if o.ExternalRef == "" {
		return s.abandon(ctx, o.ID)
	}

	status, err := s.remoteStatus(ctx, o)
	if err != nil {
		return outcomePending, err
	}

	switch status {
	case payment.StatusPaid:
		var newlyPaid bool
		err := s.store.InTx(ctx, func(ctx context.Context, tx Store) error {
			locked, err := tx.Orders().GetForUpdate(ctx, o.ID)
			if err != nil {
				return err
			}
			newlyPaid, err = markPaid(ctx, tx, locked)
			return err
		})
		if err != nil {
			return outcomePending, errors.Wrap(err, "confirm")
		}
		if newlyPaid {
			s.confirmed.Add(ctx, 1, metric.WithAttributes(
				attribute.String("method", string(o.Method)),
				attribute.String("source", "reconcile"),
			))
		}
		return outcomeConfirmed, nil
	case payment.StatusExpired:
		return s.abandon(ctx, o.ID)
	default:
		if abandonAfter > 0 && s.now().Sub(o.Date) >= abandonAfter {
			zctx.From(ctx).Info("Abandoning stale gateway order",
				zap.String("order_id", o.ID),
				zap.Duration("age", s.now().Sub(o.Date)),
			)
			return s.abandon(ctx, o.ID)
		}
		return outcomePending, nil
	}
}

func (s *Service) remoteStatus(ctx context.Context, o Order) (payment.RemoteStatus, error) {
	switch o.Method {
	case MethodCard:
		st, err := s.card.SessionStatus(ctx, o.ExternalRef)
		if err != nil {
			return payment.StatusPending, &payment.GatewayError{Provider: payment.ProviderCard, Op: "session status", Err: err}
		}
		return st, nil
	case MethodRegional:
		ro, err := s.regional.FetchOrder(ctx, o.ExternalRef)
		if err != nil {
			return payment.StatusPending, &payment.GatewayError{Provider: payment.ProviderRegional, Op: "fetch order", Err: err}
		}
		return ro.Status, nil
	default:
		return payment.StatusPending, errors.Errorf("order %s: no gateway for method %q", o.ID, o.Method)
	}
}

// abandon deletes an unpaid order. An order paid in the meantime is kept.
func (s *Service) abandon(ctx context.Context, id string) (outcome, error) {
	res := outcomeDeleted
	err := s.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		o, err := tx.Orders().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if o.Payment {
			res = outcomeConfirmed
			return nil
		}
		return tx.Orders().Delete(ctx, id)
	})
	if errors.Is(err, ErrNotFound) {
		return outcomeDeleted, nil
	}
	if err != nil {
		return outcomePending, errors.Wrap(err, "abandon")
	}
	return res, nil
}
