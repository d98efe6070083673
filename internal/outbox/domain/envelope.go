package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Envelope is the fixed wire shape of every outbox payload.
type Envelope struct {
	EventID    snowflake.ID    `json:"event_id"`
	TenantID   snowflake.ID    `json:"tenant_id"`
	EventName  string          `json:"event_name"`
	OccurredAt time.Time       `json:"occurred_at"`
	Aggregate  Aggregate       `json:"aggregate"`
	Data       json.RawMessage `json:"data"`
}

type Aggregate struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}
