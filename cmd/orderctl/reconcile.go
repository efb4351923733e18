package main

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	appkg "github.com/xenking/storefront-orders/internal/app"
	"github.com/xenking/storefront-orders/internal/domain/order"
)

func reconcileCmd(g *globals) *cobra.Command {
	var (
		olderThan    time.Duration
		concurrency  int
		abandonAfter time.Duration
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass over unpaid gateway orders",
		Long: `Asks the payment gateways about unpaid card and regional orders. Paid
orders are confirmed and the owner's cart cleared; expired checkouts and
orders that never reached a gateway are deleted. Orders younger than the
gateway timeout are skipped whatever --older-than says.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, b, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			if !cmd.Flags().Changed("older-than") {
				olderThan = cfg.Reconcile.OlderThan
			}
			if !cmd.Flags().Changed("concurrency") {
				concurrency = cfg.Reconcile.Concurrency
			}
			if !cmd.Flags().Changed("abandon-after") {
				abandonAfter = cfg.Reconcile.AbandonAfter
			}
			if olderThan < 0 || abandonAfter < 0 {
				return errors.New("durations must not be negative")
			}

			svc, err := appkg.NewOrderService(cfg, b, zctx.From(ctx),
				tracenoop.NewTracerProvider(), noop.NewMeterProvider())
			if err != nil {
				return err
			}
			report, err := svc.Reconcile(ctx, order.ReconcileOptions{
				OlderThan:    olderThan,
				Concurrency:  concurrency,
				AbandonAfter: abandonAfter,
			})
			if err != nil {
				return errors.Wrap(err, "reconcile")
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"checked=%d confirmed=%d deleted=%d pending=%d failed=%d\n",
				report.Checked, report.Confirmed, report.Deleted, report.Pending, report.Failed,
			)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "Only orders older than this (default from config)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Parallel gateway lookups (default from config)")
	cmd.Flags().DurationVar(&abandonAfter, "abandon-after", 48*time.Hour, "Delete orders still pending at the gateway after this; 0 keeps them (default from config)")
	return cmd
}
