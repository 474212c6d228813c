package gateway

import (
	"github.com/msqpay/gateway/ledger"
	"github.com/msqpay/gateway/logger"
	"github.com/msqpay/gateway/metrics"
	"github.com/msqpay/gateway/registry"
	"github.com/msqpay/gateway/webhook"
)

// Option customizes Gateway construction.
type Option func(*Gateway)

// WithLogger overrides the logger. The default is a zap production
// logger at the configured level, or a noop logger when no level is set.
func WithLogger(log logger.Logger) Option {
	return func(g *Gateway) {
		g.log = log
	}
}

// WithMetrics overrides the metrics recorder. The default records nothing.
func WithMetrics(rec metrics.Recorder) Option {
	return func(g *Gateway) {
		g.rec = rec
	}
}

// WithStore overrides the ledger store. The default is the in-memory
// store; production deployments pass the postgres store.
func WithStore(store ledger.Store) Option {
	return func(g *Gateway) {
		g.store = store
	}
}

// WithDialer overrides how chain RPC connections are opened. Tests use
// this to inject fakes.
func WithDialer(dial registry.Dialer) Option {
	return func(g *Gateway) {
		g.dial = dial
	}
}

// WithQueue overrides the webhook queue. The default posts to the
// configured webhook URL, or drops signals when no URL is configured.
func WithQueue(queue webhook.Queue) Option {
	return func(g *Gateway) {
		g.queue = queue
	}
}
