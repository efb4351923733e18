// Package regional is a client for the regional payment gateway's orders API.
package regional

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/storefront-orders/internal/domain/payment"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.razorpay.com"

const maxResponseSize = 1 << 20

var _ payment.RegionalGateway = (*Client)(nil)

// Client creates and fetches gateway orders over REST with basic auth.
type Client struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
}

// Options configures New.
type Options struct {
	BaseURL        string
	KeyID          string
	KeySecret      string
	Timeout        time.Duration
	TracerProvider trace.TracerProvider
	// Transport overrides the underlying round tripper, mostly for tests.
	Transport http.RoundTripper
}

// New returns a Client.
func New(opts Options) (*Client, error) {
	if opts.KeyID == "" || opts.KeySecret == "" {
		return nil, errors.New("regional gateway key id and secret are required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}

	var transportOpts []otelhttp.Option
	if opts.TracerProvider != nil {
		transportOpts = append(transportOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		keyID:     opts.KeyID,
		keySecret: opts.KeySecret,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(opts.Transport, transportOpts...),
		},
	}, nil
}

// APIError is an error response of the gateway.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s: %s", e.StatusCode, e.Code, e.Description)
}

// CreateOrder creates a gateway order for the amount in minor units.
func (c *Client) CreateOrder(ctx context.Context, req payment.RegionalOrderRequest) (*payment.RegionalOrder, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("amount", func(e *jx.Encoder) { e.Int64(req.AmountMinor) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(req.Currency) })
		e.Field("receipt", func(e *jx.Encoder) { e.Str(req.Receipt) })
	})

	return c.do(ctx, http.MethodPost, "/v1/orders", e.Bytes())
}

// FetchOrder returns the current state of a gateway order.
func (c *Client) FetchOrder(ctx context.Context, id string) (*payment.RegionalOrder, error) {
	if id == "" {
		return nil, errors.New("order id is empty")
	}
	return c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(id), nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*payment.RegionalOrder, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}

	if resp.StatusCode/100 != 2 {
		return nil, decodeError(resp.StatusCode, data)
	}

	o, err := decodeOrder(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	return o, nil
}

func decodeOrder(data []byte) (*payment.RegionalOrder, error) {
	var o payment.RegionalOrder
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			o.ID, err = d.Str()
		case "amount":
			o.AmountMinor, err = d.Int64()
		case "currency":
			o.Currency, err = d.Str()
		case "receipt":
			if d.Next() == jx.Null {
				return d.Null()
			}
			o.Receipt, err = d.Str()
		case "status":
			var s string
			s, err = d.Str()
			o.Status = parseStatus(s)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if o.ID == "" {
		return nil, errors.New("response has no order id")
	}
	return &o, nil
}

// parseStatus maps the gateway order state. Orders in "created" or
// "attempted" state may still be paid.
func parseStatus(s string) payment.RemoteStatus {
	if s == "paid" {
		return payment.StatusPaid
	}
	return payment.StatusPending
}

func decodeError(status int, data []byte) error {
	apiErr := &APIError{StatusCode: status}
	_ = jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if key != "error" {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "code":
				apiErr.Code, err = d.Str()
			case "description":
				apiErr.Description, err = d.Str()
			default:
				return d.Skip()
			}
			return err
		})
	})
	return apiErr
}
