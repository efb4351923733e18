// Package reconcile runs the unpaid order sweep in the background.
package reconcile

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-orders/internal/domain/order"
)

// Reconciler performs a single sweep.
type Reconciler interface {
	Reconcile(ctx context.Context, opts order.ReconcileOptions) (*order.ReconcileReport, error)
}

// Loop calls Reconcile every Interval until its context is cancelled.
type Loop struct {
	Reconciler Reconciler
	Interval   time.Duration
	Options    order.ReconcileOptions
}

// Run blocks until ctx is done. A pass runs immediately on start; each pass
// is bounded by the interval. Failed passes are logged and do not stop the
// loop.
func (l *Loop) Run(ctx context.Context) error {
	if l.Interval <= 0 {
		return errors.Errorf("invalid reconcile interval %s", l.Interval)
	}

	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	l.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.pass(ctx)
		}
	}
}

func (l *Loop) pass(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, l.Interval)
	defer cancel()

	if _, err := l.Reconciler.Reconcile(passCtx, l.Options); err != nil && ctx.Err() == nil {
		zctx.From(ctx).Error("Reconcile pass failed", zap.Error(err))
	}
}
