package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contractear/contractear-api/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func ownedBy(userID uuid.UUID) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("user_id = ?", userID)
	}
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) CreateAnalysis(ctx context.Context, a *models.Analysis) error {
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return fmt.Errorf("create analysis: %w", err)
	}
	return nil
}

func (s *GormStore) GetAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	var a models.Analysis
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return &a, nil
}

func (s *GormStore) updateAnalysis(ctx context.Context, id uuid.UUID, from models.AnalysisStatus, values map[string]interface{}) (bool, error) {
	values["updated_at"] = s.now()
	res := s.db.WithContext(ctx).Model(&models.Analysis{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.AnalysisStatus) (bool, error) {
	if !from.CanAdvanceTo(to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	return s.updateAnalysis(ctx, id, from, map[string]interface{}{"status": to})
}

func (s *GormStore) SetTransactionRef(ctx context.Context, id uuid.UUID, ref string) (bool, error) {
	return s.updateAnalysis(ctx, id, models.StatusPending, map[string]interface{}{"paddle_transaction_id": ref})
}

func (s *GormStore) MarkPaid(ctx context.Context, id uuid.UUID, ref string) (bool, error) {
	values := map[string]interface{}{"status": models.StatusPaid}
	if ref != "" {
		values["paddle_transaction_id"] = ref
	}
	return s.updateAnalysis(ctx, id, models.StatusPending, values)
}

func (s *GormStore) ClaimProcessing(ctx context.Context, id uuid.UUID, lease time.Duration) (*models.Analysis, bool, error) {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.Analysis{}).
		Where("id = ? AND status = ?", id, models.StatusProcessing).
		Where("lease_expires_at IS NULL OR lease_expires_at < ?", now).
		Updates(map[string]interface{}{
			"lease_expires_at":    now.Add(lease),
			"processing_attempts": gorm.Expr("processing_attempts + 1"),
			"updated_at":          now,
		})
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}
	a, err := s.GetAnalysis(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

func (s *GormStore) SaveTranscript(ctx context.Context, id uuid.UUID, transcript string) (bool, error) {
	return s.updateAnalysis(ctx, id, models.StatusProcessing, map[string]interface{}{"transcript": transcript})
}

func (s *GormStore) CompleteAnalysis(ctx context.Context, id uuid.UUID, result datatypes.JSON) (bool, error) {
	return s.updateAnalysis(ctx, id, models.StatusProcessing, map[string]interface{}{
		"status":           models.StatusCompleted,
		"result":           result,
		"transcript":       nil,
		"lease_expires_at": nil,
	})
}

func (s *GormStore) FailAnalysis(ctx context.Context, id uuid.UUID, message string) (bool, error) {
	return s.updateAnalysis(ctx, id, models.StatusProcessing, map[string]interface{}{
		"status":           models.StatusError,
		"processing_error": message,
		"transcript":       nil,
		"lease_expires_at": nil,
	})
}

func (s *GormStore) ListReclaimable(ctx context.Context, status models.AnalysisStatus, idleBefore time.Time, limit int) ([]models.Analysis, error) {
	q := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, idleBefore)
	if status == models.StatusProcessing {
		q = q.Where("lease_expires_at IS NULL OR lease_expires_at < ?", s.now())
	}
	var out []models.Analysis
	if err := q.Order("updated_at ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) ListNonTerminal(ctx context.Context, olderThan time.Time, limit int) ([]models.Analysis, error) {
	var out []models.Analysis
	err := s.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []models.AnalysisStatus{models.StatusPending, models.StatusPaid, models.StatusProcessing}, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *GormStore) ListAnalysesByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Analysis, error) {
	var out []models.Analysis
	err := s.db.WithContext(ctx).
		Scopes(ownedBy(userID)).
		Omit("transcript").
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *GormStore) CountAnalysesSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]DailyCount, error) {
	var rows []DailyCount
	err := s.db.WithContext(ctx).Model(&models.Analysis{}).
		Scopes(ownedBy(userID)).
		Select("date_trunc('day', created_at) AS day, count(*) AS count").
		Where("created_at >= ?", since).
		Group("day").
		Order("day ASC").
		Scan(&rows).Error
	return rows, err
}

func (s *GormStore) DeleteAnalysis(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	res := s.db.WithContext(ctx).Scopes(ownedBy(userID)).Where("id = ?", id).Delete(&models.Analysis{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) EnsureProfile(ctx context.Context, userID uuid.UUID, email string) (*models.Profile, error) {
	now := s.now()
	p := models.Profile{
		ID:                userID,
		Email:             email,
		Plan:              models.PlanNone,
		BillingCycleStart: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error; err != nil {
		return nil, fmt.Errorf("ensure profile: %w", err)
	}
	return s.GetProfile(ctx, userID)
}

func (s *GormStore) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	var p models.Profile
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

func (s *GormStore) ResetCycleIfExpired(ctx context.Context, userID uuid.UUID, cutoff time.Time) (bool, error) {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.Profile{}).
		Where("id = ? AND billing_cycle_start <= ?", userID, cutoff).
		Updates(map[string]interface{}{
			"analyses_used":       0,
			"billing_cycle_start": now,
			"updated_at":          now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) RecordUsage(ctx context.Context, userID, analysisID uuid.UUID, plan models.PlanTier) error {
	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Profile{}).
			Where("id = ?", userID).
			Updates(map[string]interface{}{
				"analyses_used": gorm.Expr("analyses_used + 1"),
				"updated_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Create(&models.UsageLog{
			ID:         uuid.New(),
			UserID:     userID,
			AnalysisID: analysisID,
			PlanAtTime: plan,
			CreatedAt:  now,
		}).Error
	})
}

func (s *GormStore) ApplyPlan(ctx context.Context, change PlanChange) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Profile{}).
		Where("id = ?", change.UserID).
		Updates(map[string]interface{}{
			"plan":                   change.Plan,
			"analyses_limit":         change.Limit,
			"analyses_used":          0,
			"billing_cycle_start":    change.CycleStart,
			"paddle_subscription_id": change.SubscriptionRef,
			"paddle_customer_id":     change.CustomerRef,
			"updated_at":             s.now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) CancelPlanByCustomer(ctx context.Context, customerRef string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Profile{}).
		Where("paddle_customer_id = ?", customerRef).
		Updates(map[string]interface{}{
			"plan":                   models.PlanNone,
			"analyses_limit":         0,
			"paddle_subscription_id": nil,
			"updated_at":             s.now(),
		})
	return res.RowsAffected, res.Error
}

func (s *GormStore) ConsumeSinglePlan(ctx context.Context, userID uuid.UUID) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Profile{}).
		Where("id = ? AND plan = ?", userID, models.PlanSingle).
		Updates(map[string]interface{}{
			"plan":           models.PlanNone,
			"analyses_limit": 0,
			"updated_at":     s.now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) ListUsageLogs(ctx context.Context, userID uuid.UUID, limit int) ([]UsageLogEntry, error) {
	var out []UsageLogEntry
	err := s.db.WithContext(ctx).
		Table("usage_logs").
		Select("usage_logs.*, analyses.file_name, analyses.status").
		Joins("LEFT JOIN analyses ON analyses.id = usage_logs.analysis_id").
		Where("usage_logs.user_id = ?", userID).
		Order("usage_logs.created_at DESC").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

func (s *GormStore) ClaimWebhookEvent(ctx context.Context, ev *models.WebhookEvent, claimTTL time.Duration) (WebhookClaim, error) {
	now := s.now()
	ev.CreatedAt = now
	ev.UpdatedAt = now
	ev.ClaimedAt = &now
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(ev)
	if res.Error != nil {
		return 0, fmt.Errorf("record webhook event: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return ClaimAcquired, nil
	}

	res = s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("event_id = ? AND processed_at IS NULL AND (claimed_at IS NULL OR claimed_at < ?)", ev.EventID, now.Add(-claimTTL)).
		Updates(map[string]interface{}{"claimed_at": now, "updated_at": now})
	if res.Error != nil {
		return 0, fmt.Errorf("claim webhook event: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return ClaimAcquired, nil
	}

	var existing models.WebhookEvent
	if err := s.db.WithContext(ctx).Where("event_id = ?", ev.EventID).First(&existing).Error; err != nil {
		return 0, fmt.Errorf("load webhook event: %w", err)
	}
	if existing.ProcessedAt != nil {
		return ClaimProcessed, nil
	}
	return ClaimInFlight, nil
}

func (s *GormStore) FinishWebhookEvent(ctx context.Context, eventID string, procErr error) error {
	now := s.now()
	values := map[string]interface{}{"updated_at": now}
	if procErr != nil {
		values["processing_error"] = procErr.Error()
		values["claimed_at"] = nil
	} else {
		values["processed_at"] = now
		values["processing_error"] = ""
	}
	return s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(values).Error
}

func (s *GormStore) CreateBillingRecord(ctx context.Context, r *models.BillingRecord) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(r).Error
}
