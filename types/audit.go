package types

import (
	"time"

	"github.com/google/uuid"
)

// AuditEventType classifies ledger audit events.
type AuditEventType string

const (
	AuditPaymentCreated   AuditEventType = "PAYMENT_CREATED"
	AuditPaymentConfirmed AuditEventType = "PAYMENT_CONFIRMED"
	AuditPaymentExpired   AuditEventType = "PAYMENT_EXPIRED"
	AuditRefundCreated    AuditEventType = "REFUND_CREATED"
	AuditRefundSubmitted  AuditEventType = "REFUND_SUBMITTED"
	AuditRefundConfirmed  AuditEventType = "REFUND_CONFIRMED"
	AuditRefundFailed     AuditEventType = "REFUND_FAILED"
)

// AuditEvent is an append-only record of a ledger state transition.
type AuditEvent struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	EntityID  string         `json:"entityId" db:"entity_id"`
	Type      AuditEventType `json:"type" db:"event_type"`
	Detail    string         `json:"detail,omitempty" db:"detail"`
	CreatedAt time.Time      `json:"createdAt" db:"created_at"`
}

// NewAuditEvent stamps a fresh audit event.
func NewAuditEvent(entityID string, eventType AuditEventType, detail string) AuditEvent {
	return AuditEvent{
		ID:        uuid.New(),
		EntityID:  entityID,
		Type:      eventType,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
}
