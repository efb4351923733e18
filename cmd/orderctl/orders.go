package main

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/xenking/storefront-orders/internal/domain/order"
	"github.com/xenking/storefront-orders/internal/export"
)

func ordersCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect and export orders",
	}
	cmd.AddCommand(ordersListCmd(g), ordersExportCmd(g))
	return cmd
}

// filterFlags selects orders for list and export.
type filterFlags struct {
	user      string
	unpaid    bool
	methods   []string
	olderThan time.Duration
}

func (f *filterFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.user, "user", "", "Only orders of this user id")
	fs.BoolVar(&f.unpaid, "unpaid", false, "Only unpaid orders")
	fs.StringSliceVar(&f.methods, "method", nil, "Only these payment methods (cod, card, regional)")
	fs.DurationVar(&f.olderThan, "older-than", 0, "Only orders created at least this long ago")
}

func (f *filterFlags) filter(now time.Time) (order.Filter, error) {
	out := order.Filter{
		UserID: f.user,
		Unpaid: f.unpaid,
	}
	for _, m := range f.methods {
		method := order.Method(m)
		if !method.Valid() {
			return order.Filter{}, errors.Errorf("unknown payment method %q", m)
		}
		out.Methods = append(out.Methods, method)
	}
	if f.olderThan < 0 {
		return order.Filter{}, errors.Errorf("negative --older-than %s", f.olderThan)
	}
	if f.olderThan > 0 {
		out.CreatedBefore = now.Add(-f.olderThan)
	}
	return out, nil
}

func ordersListCmd(g *globals) *cobra.Command {
	var ff filterFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print orders as a table, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			filter, err := ff.filter(time.Now())
			if err != nil {
				return err
			}
			_, b, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			orders, err := b.Orders().List(ctx, filter)
			if err != nil {
				return errors.Wrap(err, "list orders")
			}
			return writeTable(cmd.OutOrStdout(), orders)
		},
	}
	ff.bind(cmd.Flags())
	return cmd
}

func writeTable(w io.Writer, orders []order.Order) error {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "User", "Date", "Method", "Amount", "Paid", "Status", "Gateway Ref")
	for _, o := range orders {
		if err := table.Append(
			o.ID,
			o.UserID,
			o.Date.UTC().Format(time.RFC3339),
			string(o.Method),
			o.Amount.StringFixed(2),
			strconv.FormatBool(o.Payment),
			string(o.Status),
			o.ExternalRef,
		); err != nil {
			return errors.Wrapf(err, "append order %s", o.ID)
		}
	}
	if err := table.Render(); err != nil {
		return errors.Wrap(err, "render table")
	}
	return nil
}

func ordersExportCmd(g *globals) *cobra.Command {
	var (
		ff  filterFlags
		out string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write orders as gzip compressed NDJSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (rerr error) {
			ctx := cmd.Context()
			filter, err := ff.filter(time.Now())
			if err != nil {
				return err
			}
			_, b, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			var w io.Writer = cmd.OutOrStdout()
			if out != "-" {
				file, err := os.Create(out)
				if err != nil {
					return errors.Wrap(err, "create output")
				}
				defer func() {
					if err := file.Close(); err != nil && rerr == nil {
						rerr = errors.Wrap(err, "close output")
					}
				}()
				w = file
			}

			n, err := export.Orders(ctx, b.Orders(), filter, w)
			if err != nil {
				return errors.Wrap(err, "export")
			}
			zctx.From(ctx).Info("Orders exported", zap.Int("count", n), zap.String("output", out))
			return nil
		},
	}
	ff.bind(cmd.Flags())
	cmd.Flags().StringVarP(&out, "output", "o", "orders.ndjson.gz", `Output file, "-" for stdout`)
	return cmd
}
