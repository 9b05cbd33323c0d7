package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventRecord is one webhook delivery, stored before it is applied so that
// at-least-once delivery cannot credit an account twice.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	AccountID       string         `json:"account_id" gorm:"type:text;not null;index"`
	Credits         int64          `json:"credits" gorm:"not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
	EventTypeRefunded         = "refunded"
)

// PaymentEvent is the canonical event parsed from a webhook body.
type PaymentEvent struct {
	Provider        string
	ProviderEventID string
	Type            string
	AccountID       string
	Credits         int64
	OccurredAt      time.Time
}

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}

// Service applies verified payment events to the credit ledger.
type Service interface {
	ProcessEvent(ctx context.Context, event *PaymentEvent, payload []byte) error
}

var (
	ErrInvalidEvent          = errors.New("invalid_payment_event")
	ErrInvalidProvider       = errors.New("invalid_payment_provider")
	ErrInvalidPayload        = errors.New("invalid_payment_payload")
	ErrInvalidAmount         = errors.New("invalid_payment_amount")
	ErrInvalidSignature      = errors.New("invalid_webhook_signature")
	ErrEventIgnored          = errors.New("payment_event_ignored")
	ErrEventAlreadyProcessed = errors.New("payment_event_already_processed")
)
