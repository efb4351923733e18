// Package export writes orders as gzip-compressed newline-delimited JSON.
package export

import (
	"context"
	"io"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"

	"github.com/xenking/storefront-orders/internal/domain/order"
	"github.com/xenking/storefront-orders/internal/orderjson"
)

// Writer encodes one order per line into a parallel gzip stream.
type Writer struct {
	gz *pgzip.Writer
	e  jx.Encoder
	n  int
}

// NewWriter returns a Writer on w. Close must be called to flush the stream.
func NewWriter(w io.Writer) *Writer {
	return &Writer{gz: pgzip.NewWriter(w)}
}

// Write appends o.
func (w *Writer) Write(o order.Order) error {
	w.e.Reset()
	orderjson.Encode(&w.e, o)
	line := append(w.e.Bytes(), '\n')
	if _, err := w.gz.Write(line); err != nil {
		return errors.Wrapf(err, "write order %s", o.ID)
	}
	w.n++
	return nil
}

// Count returns the number of orders written.
func (w *Writer) Count() int { return w.n }

// Close flushes and closes the gzip stream. The underlying writer is not
// closed.
func (w *Writer) Close() error {
	return w.gz.Close()
}

// Orders writes every order matching f to out and returns the count.
func Orders(ctx context.Context, repo order.Repository, f order.Filter, out io.Writer) (int, error) {
	orders, err := repo.List(ctx, f)
	if err != nil {
		return 0, errors.Wrap(err, "list orders")
	}

	w := NewWriter(out)
	for _, o := range orders {
		if err := ctx.Err(); err != nil {
			_ = w.Close()
			return w.Count(), err
		}
		if err := w.Write(o); err != nil {
			_ = w.Close()
			return w.Count(), err
		}
	}
	if err := w.Close(); err != nil {
		return w.Count(), errors.Wrap(err, "close gzip stream")
	}
	return w.Count(), nil
}
