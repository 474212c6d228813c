package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/msqpay/gateway/types"
)

// MemoryStore is an in-process Store used by tests and single-node
// deployments without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	payments map[string]*types.PaymentRecord
	refunds  map[string]*types.RefundRecord
	byOrder  map[string]string // merchantID+orderID -> paymentHash
	audits   map[string][]types.AuditEvent
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[string]*types.PaymentRecord),
		refunds:  make(map[string]*types.RefundRecord),
		byOrder:  make(map[string]string),
		audits:   make(map[string][]types.AuditEvent),
	}
}

func orderKey(merchantID, orderID string) string {
	return merchantID + "\x00" + orderID
}

func (m *MemoryStore) CreatePayment(_ context.Context, record *types.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *record
	m.payments[record.PaymentHash] = &clone
	m.byOrder[orderKey(record.MerchantID, record.OrderID)] = record.PaymentHash
	return nil
}

func (m *MemoryStore) GetPayment(_ context.Context, paymentHash string) (*types.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.payments[paymentHash]
	if !ok {
		return nil, nil
	}
	clone := *record
	return &clone, nil
}

func (m *MemoryStore) FindActivePayment(_ context.Context, merchantID, orderID string) (*types.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hash, ok := m.byOrder[orderKey(merchantID, orderID)]
	if !ok {
		return nil, nil
	}
	record, ok := m.payments[hash]
	if !ok {
		return nil, nil
	}
	if record.Status != types.PaymentCreated && record.Status != types.PaymentPending {
		return nil, nil
	}
	clone := *record
	return &clone, nil
}

func (m *MemoryStore) UpdatePaymentStatus(_ context.Context, paymentHash string, status types.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.payments[paymentHash]
	if !ok {
		return types.NewError(types.ErrPaymentNotFound, "payment %s not found", paymentHash)
	}
	record.Status = status
	return nil
}

func (m *MemoryStore) ConfirmPayment(_ context.Context, paymentHash, txHash, payer string, confirmedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.payments[paymentHash]
	if !ok {
		return types.NewError(types.ErrPaymentNotFound, "payment %s not found", paymentHash)
	}
	record.Status = types.PaymentConfirmed
	record.TxHash = &txHash
	record.Payer = &payer
	if record.ConfirmedAt == nil {
		record.ConfirmedAt = &confirmedAt
	}
	return nil
}

func (m *MemoryStore) CreateRefund(_ context.Context, record *types.RefundRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *record
	m.refunds[record.RefundHash] = &clone
	return nil
}

func (m *MemoryStore) GetRefund(_ context.Context, refundHash string) (*types.RefundRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.refunds[refundHash]
	if !ok {
		return nil, nil
	}
	clone := *record
	return &clone, nil
}

func (m *MemoryStore) RefundsByPayment(_ context.Context, paymentHash string) ([]types.RefundRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var refunds []types.RefundRecord
	for _, record := range m.refunds {
		if record.PaymentHash == paymentHash {
			refunds = append(refunds, *record)
		}
	}
	return refunds, nil
}

func (m *MemoryStore) UpdateRefund(_ context.Context, record *types.RefundRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.refunds[record.RefundHash]; !ok {
		return types.NewError(types.ErrRefundNotFound, "refund %s not found", record.RefundHash)
	}
	clone := *record
	m.refunds[record.RefundHash] = &clone
	return nil
}

func (m *MemoryStore) AppendAudit(_ context.Context, event types.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.audits[event.EntityID] = append(m.audits[event.EntityID], event)
	return nil
}

func (m *MemoryStore) AuditEvents(_ context.Context, entityID string) ([]types.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]types.AuditEvent, len(m.audits[entityID]))
	copy(events, m.audits[entityID])
	return events, nil
}
