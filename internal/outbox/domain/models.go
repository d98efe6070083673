package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EventStatus string

const (
	StatusPending   EventStatus = "pending"
	StatusProcessed EventStatus = "processed"
	StatusFailed    EventStatus = "failed"
)

func (s EventStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

const DefaultMaxAttempts = 5

// OutboxEvent is one durable fact waiting for, or done with, delivery.
type OutboxEvent struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	TenantID       snowflake.ID   `gorm:"not null;index:idx_outbox_event_pending,priority:1;uniqueIndex:ux_outbox_event_tenant_key,priority:1" json:"tenant_id"`
	EventName      string         `gorm:"type:varchar(128);not null;index" json:"event_name"`
	AggregateType  string         `gorm:"type:varchar(64);not null" json:"aggregate_type"`
	AggregateID    string         `gorm:"type:varchar(128);not null" json:"aggregate_id"`
	OccurredAt     time.Time      `gorm:"not null" json:"occurred_at"`
	Payload        datatypes.JSON `gorm:"not null" json:"payload"`
	IdempotencyKey *string        `gorm:"type:varchar(255);uniqueIndex:ux_outbox_event_tenant_key,priority:2,where:idempotency_key IS NOT NULL" json:"idempotency_key,omitempty"`
	Status         EventStatus    `gorm:"type:varchar(16);not null;default:pending;index:idx_outbox_event_pending,priority:2" json:"status"`
	Attempts       int            `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts    int            `gorm:"not null;default:5" json:"max_attempts"`
	LastError      *string        `gorm:"type:text" json:"last_error,omitempty"`
	LastAttemptAt  *time.Time     `json:"last_attempt_at,omitempty"`
	DispatchedAt   *time.Time     `json:"dispatched_at,omitempty"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty"`
	ProcessedBy    *string        `gorm:"type:varchar(128)" json:"processed_by,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_outbox_event_pending,priority:3" json:"created_at"`
}

func (OutboxEvent) TableName() string { return "outbox_event" }

// ShouldFail reports whether attempts have reached the configured ceiling.
func (e *OutboxEvent) ShouldFail() bool {
	return e.Attempts >= e.effectiveMaxAttempts()
}

func (e *OutboxEvent) effectiveMaxAttempts() int {
	if e.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return e.MaxAttempts
}

// Envelope decodes the stored payload.
func (e *OutboxEvent) Envelope() (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(e.Payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope %s: %w", e.ID, err)
	}
	return env, nil
}

// DecodeData unmarshals the envelope's data section into v.
func (e *OutboxEvent) DecodeData(v any) error {
	env, err := e.Envelope()
	if err != nil {
		return err
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("event %s: %w", e.ID, ErrEmptyEventData)
	}
	return json.Unmarshal(env.Data, v)
}
