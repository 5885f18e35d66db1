package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Profile is the billing state of one identity-provider user.
type Profile struct {
	ID                      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email                   string    `gorm:"size:255" json:"email"`
	Plan                    PlanTier  `gorm:"size:10;not null" json:"plan"`
	AnalysesUsed            int       `gorm:"not null" json:"analyses_used"`
	AnalysesLimit           int       `gorm:"not null" json:"analyses_limit"`
	BillingCycleStart       time.Time `gorm:"not null" json:"billing_cycle_start"`
	ExternalSubscriptionRef *string   `gorm:"column:paddle_subscription_id;size:64" json:"paddle_subscription_id"`
	ExternalCustomerRef     *string   `gorm:"column:paddle_customer_id;size:64;index" json:"paddle_customer_id"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

func (Profile) TableName() string {
	return "profiles"
}

// UsageLog records one consumed analysis against the plan in force at the time.
type UsageLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	AnalysisID uuid.UUID `gorm:"type:uuid;not null;index" json:"analysis_id"`
	PlanAtTime PlanTier  `gorm:"size:10;not null" json:"plan_at_time"`
	CreatedAt  time.Time `json:"created_at"`
}

func (UsageLog) TableName() string {
	return "usage_logs"
}

type BillingEventType string

const (
	BillingSubscriptionCreated  BillingEventType = "subscription_created"
	BillingSubscriptionCanceled BillingEventType = "subscription_canceled"
	BillingSinglePayment        BillingEventType = "single_payment"
)

// BillingRecord is an append-only ledger row derived from gateway events.
type BillingRecord struct {
	ID              uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          *uuid.UUID       `gorm:"type:uuid;index" json:"user_id"`
	EventType       BillingEventType `gorm:"size:32;not null;uniqueIndex:uq_billing_records_txn_event,priority:2" json:"event_type"`
	PlanTier        PlanTier         `gorm:"size:10;not null" json:"plan_tier"`
	Amount          decimal.Decimal  `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency        string           `gorm:"size:3" json:"currency"`
	TransactionRef  *string          `gorm:"column:paddle_transaction_id;size:64;uniqueIndex:uq_billing_records_txn_event,priority:1" json:"paddle_transaction_id"`
	CustomerRef     *string          `gorm:"column:paddle_customer_id;size:64" json:"paddle_customer_id"`
	SubscriptionRef *string          `gorm:"column:paddle_subscription_id;size:64" json:"paddle_subscription_id"`
	CreatedAt       time.Time        `json:"created_at"`
}

func (BillingRecord) TableName() string {
	return "billing_records"
}

// WebhookEvent deduplicates gateway deliveries by event id.
type WebhookEvent struct {
	EventID         string         `gorm:"primaryKey;size:64" json:"event_id"`
	EventType       string         `gorm:"size:100;not null;index" json:"event_type"`
	Payload         datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	ClaimedAt       *time.Time     `json:"claimed_at,omitempty"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	ProcessingError string         `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
