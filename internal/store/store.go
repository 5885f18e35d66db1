// Package store persists analyses, profiles and the billing ledger.
//
// Every status change is a conditional update keyed on the expected prior
// status; the boolean returned by a transition reports whether this caller's
// update changed a row.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/contractear/contractear-api/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// PlanChange overwrites a profile's billing state after a plan purchase.
type PlanChange struct {
	UserID          uuid.UUID
	Plan            models.PlanTier
	Limit           int
	SubscriptionRef *string
	CustomerRef     *string
	CycleStart      time.Time
}

// DailyCount is one bucket of a usage histogram.
type DailyCount struct {
	Day   time.Time
	Count int
}

// UsageLogEntry is a usage log row joined with the analysis it consumed.
type UsageLogEntry struct {
	models.UsageLog
	FileName string                `json:"file_name"`
	Status   models.AnalysisStatus `json:"status"`
}

type AnalysisStore interface {
	CreateAnalysis(ctx context.Context, a *models.Analysis) error
	GetAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.AnalysisStatus) (bool, error)
	// SetTransactionRef stores the gateway transaction while the record is still pending.
	SetTransactionRef(ctx context.Context, id uuid.UUID, ref string) (bool, error)
	// MarkPaid moves pending to paid and records the settling transaction in the same write.
	MarkPaid(ctx context.Context, id uuid.UUID, ref string) (bool, error)
	// ClaimProcessing takes the processing lease when no live lease exists.
	ClaimProcessing(ctx context.Context, id uuid.UUID, lease time.Duration) (*models.Analysis, bool, error)
	SaveTranscript(ctx context.Context, id uuid.UUID, transcript string) (bool, error)
	CompleteAnalysis(ctx context.Context, id uuid.UUID, result datatypes.JSON) (bool, error)
	FailAnalysis(ctx context.Context, id uuid.UUID, message string) (bool, error)
	// ListReclaimable returns records in status idle since before; processing
	// records are only returned when their lease has lapsed.
	ListReclaimable(ctx context.Context, status models.AnalysisStatus, idleBefore time.Time, limit int) ([]models.Analysis, error)
	ListNonTerminal(ctx context.Context, olderThan time.Time, limit int) ([]models.Analysis, error)
	ListAnalysesByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Analysis, error)
	CountAnalysesSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]DailyCount, error)
	DeleteAnalysis(ctx context.Context, id, userID uuid.UUID) (bool, error)
}

type ProfileStore interface {
	EnsureProfile(ctx context.Context, userID uuid.UUID, email string) (*models.Profile, error)
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	// ResetCycleIfExpired zeroes usage when the cycle started at or before cutoff.
	ResetCycleIfExpired(ctx context.Context, userID uuid.UUID, cutoff time.Time) (bool, error)
	RecordUsage(ctx context.Context, userID, analysisID uuid.UUID, plan models.PlanTier) error
	ApplyPlan(ctx context.Context, change PlanChange) (bool, error)
	CancelPlanByCustomer(ctx context.Context, customerRef string) (int64, error)
	// ConsumeSinglePlan drops a one-shot plan back to none; false when the plan is no longer single.
	ConsumeSinglePlan(ctx context.Context, userID uuid.UUID) (bool, error)
	ListUsageLogs(ctx context.Context, userID uuid.UUID, limit int) ([]UsageLogEntry, error)
}

// WebhookClaim is the outcome of trying to take ownership of a gateway event.
type WebhookClaim int

const (
	// ClaimAcquired means the caller must apply the event and then finish it.
	ClaimAcquired WebhookClaim = iota
	// ClaimProcessed means the event was already applied.
	ClaimProcessed
	// ClaimInFlight means another delivery holds a live claim.
	ClaimInFlight
)

type LedgerStore interface {
	// ClaimWebhookEvent records a delivery and claims it for claimTTL. An unprocessed
	// event can be claimed again once the previous claim is older than claimTTL.
	ClaimWebhookEvent(ctx context.Context, ev *models.WebhookEvent, claimTTL time.Duration) (WebhookClaim, error)
	// FinishWebhookEvent marks the event processed, or releases the claim when procErr is set.
	FinishWebhookEvent(ctx context.Context, eventID string, procErr error) error
	// CreateBillingRecord ignores a second row with the same transaction ref and event type.
	CreateBillingRecord(ctx context.Context, r *models.BillingRecord) error
}

type Store interface {
	AnalysisStore
	ProfileStore
	LedgerStore
	Ping(ctx context.Context) error
}
