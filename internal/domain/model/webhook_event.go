package model

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
)

// WebhookStatus represents the processing status of a webhook
type WebhookStatus string

const (
	WebhookStatusReceived   WebhookStatus = "received"
	WebhookStatusProcessing WebhookStatus = "processing"
	WebhookStatusProcessed  WebhookStatus = "processed"
	WebhookStatusFailed     WebhookStatus = "failed"
	WebhookStatusIgnored    WebhookStatus = "ignored"
)

// Scan implements sql.Scanner interface
func (w *WebhookStatus) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		*w = WebhookStatus(v)
	case []byte:
		*w = WebhookStatus(v)
	default:
		*w = WebhookStatusReceived
	}
	return nil
}

// Value implements driver.Valuer interface
func (w WebhookStatus) Value() (driver.Value, error) {
	return string(w), nil
}

// DefaultMaxRetries bounds automatic reprocessing of a failed webhook.
const DefaultMaxRetries = 3

// WebhookEvent is the durable record of one raw inbound provider
// notification. It is written before any interpretation is attempted, so a
// crash mid-handling never loses the event. The (provider, event_id) pair is
// unique: re-delivery of the same provider event is detected and ignored.
type WebhookEvent struct {
	ID                    uuid.UUID     `gorm:"primaryKey;type:uuid" json:"id"`
	Provider              string        `gorm:"size:50;not null;uniqueIndex:idx_provider_event" json:"provider"`
	EventID               string        `gorm:"size:255;not null;uniqueIndex:idx_provider_event" json:"event_id"`
	EventType             string        `gorm:"size:100;not null;index" json:"event_type"`
	Payload               JSONB         `gorm:"type:jsonb;not null" json:"payload"`
	Signature             *string       `gorm:"size:512" json:"signature,omitempty"`
	ProviderTransactionID *string       `gorm:"size:100;index" json:"provider_transaction_id,omitempty"`
	PaymentID             *uuid.UUID    `gorm:"type:uuid;index" json:"payment_id,omitempty"`
	Status                WebhookStatus `gorm:"size:20;not null;default:'received';index" json:"status"`
	RetryCount            int           `gorm:"default:0" json:"retry_count"`
	MaxRetries            int           `gorm:"default:3" json:"max_retries"`
	FailureReason         *string       `json:"failure_reason,omitempty"`
	ProcessedAt           *time.Time    `json:"processed_at,omitempty"`
	CreatedAt             time.Time     `gorm:"default:now()" json:"created_at"`
	UpdatedAt             time.Time     `gorm:"default:now()" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
