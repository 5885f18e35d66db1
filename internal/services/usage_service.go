package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contractear/contractear-api/internal/models"
	"github.com/contractear/contractear-api/internal/store"
	"github.com/google/uuid"
)

// BillingCycle is the length of a subscription usage window.
const BillingCycle = 30 * 24 * time.Hour

// Quota is the outcome of a usage check.
type Quota struct {
	Allowed bool            `json:"allowed"`
	Plan    models.PlanTier `json:"plan"`
	Used    int             `json:"used"`
	Limit   int             `json:"limit"`
	Expired bool            `json:"expired"`
}

type UsageService struct {
	profiles store.ProfileStore
	now      func() time.Time
}

func NewUsageService(profiles store.ProfileStore) *UsageService {
	return &UsageService{profiles: profiles, now: time.Now}
}

func (s *UsageService) EnsureProfile(ctx context.Context, userID uuid.UUID, email string) (*models.Profile, error) {
	return s.profiles.EnsureProfile(ctx, userID, email)
}

func (s *UsageService) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	p, err := s.profiles.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return p, err
}

// CheckQuota reads the profile and lazily rolls over an expired billing cycle.
func (s *UsageService) CheckQuota(ctx context.Context, userID uuid.UUID) (Quota, error) {
	p, err := s.profiles.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return Quota{Plan: models.PlanNone}, nil
	}
	if err != nil {
		return Quota{}, fmt.Errorf("load profile: %w", err)
	}

	switch p.Plan {
	case models.PlanSingle:
		return Quota{Allowed: true, Plan: models.PlanSingle, Used: p.AnalysesUsed}, nil
	case models.PlanBasic, models.PlanPro:
	default:
		return Quota{Plan: models.PlanNone}, nil
	}

	cutoff := s.now().Add(-BillingCycle)
	if !p.BillingCycleStart.After(cutoff) {
		if _, err := s.profiles.ResetCycleIfExpired(ctx, userID, cutoff); err != nil {
			return Quota{}, fmt.Errorf("reset billing cycle: %w", err)
		}
		return Quota{Allowed: true, Plan: p.Plan, Used: 0, Limit: p.AnalysesLimit, Expired: true}, nil
	}

	return Quota{
		Allowed: p.AnalysesUsed < p.AnalysesLimit,
		Plan:    p.Plan,
		Used:    p.AnalysesUsed,
		Limit:   p.AnalysesLimit,
	}, nil
}

// RecordUsage counts one analysis against the owner's current cycle.
func (s *UsageService) RecordUsage(ctx context.Context, userID, analysisID uuid.UUID, tier models.PlanTier) error {
	return s.profiles.RecordUsage(ctx, userID, analysisID, tier)
}

func (s *UsageService) UsageLogs(ctx context.Context, userID uuid.UUID) ([]store.UsageLogEntry, error) {
	return s.profiles.ListUsageLogs(ctx, userID, 100)
}
