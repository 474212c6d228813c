// Package webhook hands payment-confirmed notifications to an external
// delivery transport. The engine only enqueues: delivery, retries, and
// endpoint management belong to whoever drains the outbox.
package webhook

import (
	"sync"
	"time"

	"github.com/msqpay/gateway/logger"
	"github.com/msqpay/gateway/metrics"
	"github.com/msqpay/gateway/types"
)

// Signal is the notification body for a freshly confirmed payment.
type Signal struct {
	Event       string    `json:"event"`
	PaymentHash string    `json:"paymentHash"`
	MerchantID  string    `json:"merchantId"`
	OrderID     string    `json:"orderId"`
	ChainID     int64     `json:"chainId"`
	AmountWei   string    `json:"amountWei"`
	TxHash      string    `json:"txHash,omitempty"`
	Payer       string    `json:"payer,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewConfirmationSignal builds the signal for a confirmed payment.
func NewConfirmationSignal(record *types.PaymentRecord) Signal {
	signal := Signal{
		Event:       "payment.confirmed",
		PaymentHash: record.PaymentHash,
		MerchantID:  record.MerchantID,
		OrderID:     record.OrderID,
		ChainID:     record.ChainID,
		AmountWei:   record.AmountWei,
		Timestamp:   time.Now().UTC(),
	}
	if record.TxHash != nil {
		signal.TxHash = *record.TxHash
	}
	if record.Payer != nil {
		signal.Payer = *record.Payer
	}
	return signal
}

// Delivery pairs a signal with its destination endpoint.
type Delivery struct {
	URL    string
	Signal Signal
}

// Queue accepts notifications for asynchronous, at-least-once delivery
// by an external transport. Enqueue must never block the caller.
type Queue interface {
	Enqueue(url string, signal Signal)
	Close()
}

// NoopQueue drops every signal. Used when no webhook URL is configured.
type NoopQueue struct{}

func (NoopQueue) Enqueue(string, Signal) {}
func (NoopQueue) Close()                 {}

const defaultBuffer = 256

// Outbox is a buffered in-memory queue. The reconciliation path enqueues
// without blocking; a consumer drains Deliveries. When the buffer is
// full the signal is dropped and counted, never waited on.
type Outbox struct {
	log logger.Logger
	rec metrics.Recorder

	mu     sync.Mutex
	closed bool
	ch     chan Delivery
}

var _ Queue = (*Outbox)(nil)

func NewOutbox(log logger.Logger, rec metrics.Recorder) *Outbox {
	return &Outbox{
		log: log,
		rec: rec,
		ch:  make(chan Delivery, defaultBuffer),
	}
}

func (o *Outbox) Enqueue(url string, signal Signal) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		o.drop(signal, "webhook outbox closed, signal dropped")
		return
	}

	select {
	case o.ch <- Delivery{URL: url, Signal: signal}:
		o.rec.IncCounter("webhook_enqueued", map[string]string{"event": signal.Event})
	default:
		o.drop(signal, "webhook outbox full, signal dropped")
	}
}

// drop is called with the mutex held.
func (o *Outbox) drop(signal Signal, msg string) {
	o.rec.IncCounter("webhook_dropped", map[string]string{"event": signal.Event})
	o.log.Warn(msg, map[string]any{
		"payment_hash": signal.PaymentHash,
		"event":        signal.Event,
	})
}

// Deliveries is the consumer side of the outbox. The channel closes when
// the outbox is closed.
func (o *Outbox) Deliveries() <-chan Delivery {
	return o.ch
}

// Close stops accepting signals and closes the delivery channel. An
// Enqueue racing Close is dropped, never panicked on.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.closed = true
	close(o.ch)
}
