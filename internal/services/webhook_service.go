package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/contractear/contractear-api/internal/dto"
	"github.com/contractear/contractear-api/internal/models"
	"github.com/contractear/contractear-api/internal/payments"
	"github.com/contractear/contractear-api/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	EventTransactionCompleted = "transaction.completed"
	EventSubscriptionCanceled = "subscription.canceled"
)

const (
	defaultClaimTTL = 5 * time.Minute
	ledgerKeyMax    = 64
)

// WebhookService applies verified gateway notifications.
type WebhookService struct {
	store    store.Store
	analyses *AnalysisService
	secret   string
	claimTTL time.Duration
	now      func() time.Time
}

func NewWebhookService(st store.Store, analyses *AnalysisService, secret string) *WebhookService {
	return &WebhookService{store: st, analyses: analyses, secret: secret, claimTTL: defaultClaimTTL, now: time.Now}
}

func (s *WebhookService) Verify(rawBody []byte, signature string) bool {
	return payments.VerifyWebhookSignature(rawBody, signature, s.secret)
}

// Handle applies one delivery. Business no-ops return nil; an error means the
// gateway should redeliver.
func (s *WebhookService) Handle(ctx context.Context, rawBody []byte) error {
	var event dto.PaddleEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return fmt.Errorf("%w: malformed event body", ErrInvalidInput)
	}

	key := ledgerKey(&event, rawBody)
	claim, err := s.store.ClaimWebhookEvent(ctx, &models.WebhookEvent{
		EventID:   key,
		EventType: event.EventType,
		Payload:   datatypes.JSON(rawBody),
	}, s.claimTTL)
	if err != nil {
		return err
	}
	switch claim {
	case store.ClaimProcessed:
		slog.Info("webhook replay ignored", "event_type", event.EventType, "event_id", key)
		return nil
	case store.ClaimInFlight:
		slog.Info("webhook delivery already in flight", "event_type", event.EventType, "event_id", key)
		return ErrEventInFlight
	}

	applyErr := s.apply(ctx, &event)
	if err := s.store.FinishWebhookEvent(ctx, key, applyErr); err != nil {
		slog.Warn("webhook ledger update failed", "event_id", key, "error", err.Error())
	}
	return applyErr
}

// ledgerKey is the gateway event id. Deliveries without one are keyed by event
// type and entity id, falling back to a digest of the body.
func ledgerKey(event *dto.PaddleEvent, rawBody []byte) string {
	if event.EventID != "" {
		return event.EventID
	}
	if event.Data.ID != "" {
		if key := event.EventType + ":" + event.Data.ID; len(key) <= ledgerKeyMax {
			return key
		}
	}
	sum := sha256.Sum256(rawBody)
	return hex.EncodeToString(sum[:])
}

func (s *WebhookService) apply(ctx context.Context, event *dto.PaddleEvent) error {
	switch event.EventType {
	case EventTransactionCompleted:
		return s.transactionCompleted(ctx, event)
	case EventSubscriptionCanceled:
		return s.subscriptionCanceled(ctx, event)
	default:
		return nil
	}
}

func (s *WebhookService) transactionCompleted(ctx context.Context, event *dto.PaddleEvent) error {
	custom := event.Data.CustomData

	if custom.AnalysisID != "" {
		if err := s.analysisPaid(ctx, event); err != nil {
			return err
		}
	}

	if custom.Tier != "" && custom.UserID != "" {
		if err := s.planPurchased(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (s *WebhookService) analysisPaid(ctx context.Context, event *dto.PaddleEvent) error {
	id, err := uuid.Parse(event.Data.CustomData.AnalysisID)
	if err != nil {
		slog.Warn("webhook analysis id not a uuid", "event_type", event.EventType, "analysis_id", event.Data.CustomData.AnalysisID)
		return nil
	}

	status, err := s.analyses.settlePayment(ctx, id, event.Data.ID)
	if errors.Is(err, ErrNotFound) {
		slog.Warn("webhook for unknown analysis", "event_type", event.EventType, "analysis_id", id.String())
		return nil
	}
	if err != nil {
		return err
	}
	slog.Info("analysis payment settled", "analysis_id", id.String(), "event_type", event.EventType, "status", string(status))

	return s.billing(ctx, event, models.BillingSinglePayment, models.PlanSingle)
}

func (s *WebhookService) planPurchased(ctx context.Context, event *dto.PaddleEvent) error {
	custom := event.Data.CustomData
	userID, err := uuid.Parse(custom.UserID)
	if err != nil {
		slog.Warn("webhook user id not a uuid", "event_type", event.EventType, "user_id", custom.UserID)
		return nil
	}
	tier := models.ParsePlanTier(custom.Tier)
	if !tier.Purchasable() {
		slog.Warn("webhook for unknown tier", "event_type", event.EventType, "tier", custom.Tier)
		return nil
	}

	change := store.PlanChange{
		UserID:          userID,
		Plan:            tier,
		Limit:           models.Plan(tier).MonthlyLimit,
		SubscriptionRef: optional(event.Data.ID),
		CustomerRef:     optional(event.Data.CustomerID),
		CycleStart:      s.now().UTC(),
	}
	applied, err := s.store.ApplyPlan(ctx, change)
	if err != nil {
		return fmt.Errorf("apply plan: %w", err)
	}
	if !applied {
		slog.Warn("plan purchase for unknown profile", "user_id", userID.String(), "event_type", event.EventType)
	}

	kind := models.BillingSubscriptionCreated
	if tier == models.PlanSingle {
		kind = models.BillingSinglePayment
	}
	return s.billing(ctx, event, kind, tier)
}

func (s *WebhookService) subscriptionCanceled(ctx context.Context, event *dto.PaddleEvent) error {
	customerID := event.Data.CustomerID
	if customerID == "" {
		return nil
	}
	n, err := s.store.CancelPlanByCustomer(ctx, customerID)
	if err != nil {
		return fmt.Errorf("cancel plan: %w", err)
	}
	slog.Info("subscription canceled", "event_type", event.EventType, "profiles", n)

	return s.store.CreateBillingRecord(ctx, &models.BillingRecord{
		EventType:       models.BillingSubscriptionCanceled,
		PlanTier:        models.PlanNone,
		Amount:          decimal.Zero,
		CustomerRef:     optional(customerID),
		SubscriptionRef: optional(event.Data.SubscriptionID),
	})
}

func (s *WebhookService) billing(ctx context.Context, event *dto.PaddleEvent, kind models.BillingEventType, tier models.PlanTier) error {
	rec := &models.BillingRecord{
		EventType:      kind,
		PlanTier:       tier,
		Amount:         minorUnits(event.Data.Details.Totals.GrandTotal),
		Currency:       event.Data.CurrencyCode,
		TransactionRef: optional(event.Data.ID),
		CustomerRef:    optional(event.Data.CustomerID),
	}
	if uid, err := uuid.Parse(event.Data.CustomData.UserID); err == nil {
		rec.UserID = &uid
	}
	if err := s.store.CreateBillingRecord(ctx, rec); err != nil {
		return fmt.Errorf("billing record: %w", err)
	}
	return nil
}

// minorUnits converts Paddle's integer-string totals ("399") to a decimal amount (3.99).
func minorUnits(v string) decimal.Decimal {
	if v == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d.Shift(-2)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
