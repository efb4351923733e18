package app

import (
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront-orders/internal/domain/order"
	"github.com/xenking/storefront-orders/internal/domain/payment"
	"github.com/xenking/storefront-orders/internal/gateway/card"
	"github.com/xenking/storefront-orders/internal/gateway/regional"
)

// Gateways builds the payment gateway clients. A provider without
// credentials is replaced by payment.Unconfigured.
func Gateways(cfg *Config, lg *zap.Logger, tp trace.TracerProvider) (payment.CardGateway, payment.RegionalGateway, error) {
	var (
		cardGW     payment.CardGateway     = payment.Unconfigured{}
		regionalGW payment.RegionalGateway = payment.Unconfigured{}
	)

	if cfg.Card.SecretKey != "" {
		g, err := card.New(card.Options{
			SecretKey:      cfg.Card.SecretKey,
			Timeout:        cfg.Gateway.Timeout,
			Logger:         lg,
			TracerProvider: tp,
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "card gateway")
		}
		cardGW = g
	} else {
		lg.Warn("Card gateway not configured, card payments are rejected")
	}

	if cfg.Regional.KeyID != "" && cfg.Regional.KeySecret != "" {
		c, err := regional.New(regional.Options{
			BaseURL:        cfg.Regional.BaseURL,
			KeyID:          cfg.Regional.KeyID,
			KeySecret:      cfg.Regional.KeySecret,
			Timeout:        cfg.Gateway.Timeout,
			TracerProvider: tp,
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "regional gateway")
		}
		regionalGW = c
	} else {
		lg.Warn("Regional gateway not configured, regional payments are rejected")
	}

	return cardGW, regionalGW, nil
}

// NewOrderService wires the order lifecycle over store.
func NewOrderService(
	cfg *Config,
	store order.Store,
	lg *zap.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (*order.Service, error) {
	delivery, err := cfg.DeliveryCharge()
	if err != nil {
		return nil, err
	}
	cardGW, regionalGW, err := Gateways(cfg, lg, tp)
	if err != nil {
		return nil, err
	}

	return order.NewService(
		order.Config{
			Currency:        cfg.Payment.Currency,
			DeliveryCharge:  delivery,
			FrontendURL:     cfg.Payment.FrontendURL,
			CheckoutTimeout: cfg.Gateway.Timeout,
		},
		store,
		cardGW,
		regionalGW,
		payment.NewSignatureVerifier([]byte(cfg.Regional.KeySecret)),
		order.WithTracerProvider(tp),
		order.WithMeterProvider(mp),
	)
}
