package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/contractear/contractear-api/internal/models"
	"github.com/contractear/contractear-api/internal/storage"
	"github.com/contractear/contractear-api/internal/store"
)

const sweepBatch = 100

const timedOutMessage = "Processing timed out. Please try again."

type SweeperConfig struct {
	StaleAfter  time.Duration
	MaxAttempts int
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	Advanced   int `json:"advanced"`
	Redispatch int `json:"redispatched"`
	TimedOut   int `json:"timed_out"`
}

// Sweeper recovers records whose worker never started or died mid-run.
type Sweeper struct {
	store      store.Store
	analyses   *AnalysisService
	audio      storage.AudioStore
	staleAfter time.Duration
	maxTries   int
	now        func() time.Time
}

func NewSweeper(st store.Store, analyses *AnalysisService, audio storage.AudioStore, cfg SweeperConfig) *Sweeper {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 20 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Sweeper{
		store:      st,
		analyses:   analyses,
		audio:      audio,
		staleAfter: cfg.StaleAfter,
		maxTries:   cfg.MaxAttempts,
		now:        time.Now,
	}
}

// Sweep advances stranded paid records and re-dispatches processing records
// whose lease lapsed. Records out of attempts are failed.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	cutoff := s.now().Add(-s.staleAfter)

	paid, err := s.store.ListReclaimable(ctx, models.StatusPaid, cutoff, sweepBatch)
	if err != nil {
		return report, err
	}
	for i := range paid {
		status, err := s.analyses.advanceToProcessing(ctx, &paid[i])
		if err == nil && status == models.StatusProcessing {
			report.Advanced++
		}
	}

	stuck, err := s.store.ListReclaimable(ctx, models.StatusProcessing, cutoff, sweepBatch)
	if err != nil {
		return report, err
	}
	for i := range stuck {
		a := &stuck[i]
		if a.ProcessingAttempts >= s.maxTries {
			ok, err := s.store.FailAnalysis(ctx, a.ID, timedOutMessage)
			if err != nil {
				slog.Error("sweeper fail analysis", "analysis_id", a.ID.String(), "error", err.Error())
				continue
			}
			if ok {
				report.TimedOut++
				if a.AudioPath != "" {
					if err := s.audio.Delete(ctx, a.AudioPath); err != nil {
						slog.Warn("audio delete failed", "analysis_id", a.ID.String(), "error", err.Error())
					}
				}
				if a.Tier == models.PlanSingle {
					if _, err := s.store.ConsumeSinglePlan(ctx, a.UserID); err != nil {
						slog.Error("single plan reset failed", "analysis_id", a.ID.String(), "error", err.Error())
					}
				}
			}
			continue
		}
		if err := s.analyses.dispatcher.Dispatch(ctx, a.ID); err != nil {
			slog.Error("sweeper dispatch", "analysis_id", a.ID.String(), "error", err.Error())
			continue
		}
		report.Redispatch++
	}

	if report != (SweepReport{}) {
		slog.Info("sweep finished", "advanced", report.Advanced, "redispatched", report.Redispatch, "timed_out", report.TimedOut)
	}
	return report, nil
}

// Start runs Sweep every interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				slog.Error("sweep failed", "error", err.Error())
			}
		}
	}
}
