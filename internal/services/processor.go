package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/contractear/contractear-api/internal/ai"
	"github.com/contractear/contractear-api/internal/models"
	"github.com/contractear/contractear-api/internal/storage"
	"github.com/contractear/contractear-api/internal/store"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, fileName, contentType string) (string, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, transcript string, plan models.PlanConfig) (json.RawMessage, error)
}

// Processor is the worker that turns a processing record into a terminal one.
type Processor struct {
	store       store.Store
	audio       storage.AudioStore
	transcriber Transcriber
	analyzer    Analyzer

	lease        time.Duration
	maxAttempts  int
	backoffUnit  time.Duration
	sleeper      func(context.Context, time.Duration) error
	reportFailed func(analysisID uuid.UUID, message string)
}

type ProcessorOption func(*Processor)

// WithLease sets how long a claim protects a record from other workers.
func WithLease(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.lease = d
		}
	}
}

// WithRetry overrides the per-call attempt count and the backoff unit (attempt * unit).
func WithRetry(attempts int, unit time.Duration) ProcessorOption {
	return func(p *Processor) {
		if attempts > 0 {
			p.maxAttempts = attempts
		}
		p.backoffUnit = unit
	}
}

// WithSleeper overrides the retry backoff wait. It must return ctx.Err() when ctx ends first.
func WithSleeper(sleeper func(context.Context, time.Duration) error) ProcessorOption {
	return func(p *Processor) {
		p.sleeper = sleeper
	}
}

// WithFailureReporter is called with the sanitized message of every terminal failure.
func WithFailureReporter(fn func(analysisID uuid.UUID, message string)) ProcessorOption {
	return func(p *Processor) {
		p.reportFailed = fn
	}
}

func NewProcessor(st store.Store, audio storage.AudioStore, transcriber Transcriber, analyzer Analyzer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:       st,
		audio:       audio,
		transcriber: transcriber,
		analyzer:    analyzer,
		lease:       15 * time.Minute,
		maxAttempts: 3,
		backoffUnit: 2 * time.Second,
		sleeper:     sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs transcription and analysis for one record. AI failures end as
// status error; a store failure or cancelled ctx is returned and the record is
// left processing for the sweeper.
func (p *Processor) Process(ctx context.Context, id uuid.UUID) error {
	a, err := p.store.GetAnalysis(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("processing skipped, analysis deleted", "analysis_id", id.String())
		return nil
	}
	if err != nil {
		return err
	}
	if a.Status.Terminal() {
		slog.Info("processing skipped, already terminal", "analysis_id", id.String(), "status", string(a.Status))
		return nil
	}
	if a.Status != models.StatusProcessing {
		slog.Warn("processing skipped, not started", "analysis_id", id.String(), "status", string(a.Status))
		return nil
	}

	claimed, ok, err := p.store.ClaimProcessing(ctx, id, p.lease)
	if err != nil {
		return fmt.Errorf("claim analysis: %w", err)
	}
	if !ok {
		slog.Info("processing skipped, another worker holds the lease", "analysis_id", id.String())
		return nil
	}

	started := time.Now()
	plan := models.Plan(claimed.Tier)

	data, contentType, err := p.audio.Get(ctx, claimed.AudioPath)
	if err != nil {
		return p.fail(ctx, claimed, fmt.Errorf("%w: failed to download audio file", ErrTranscriptionFailed))
	}

	var transcript string
	err = p.withRetry(ctx, "transcribe", id, func() error {
		var callErr error
		transcript, callErr = p.transcriber.Transcribe(ctx, data, fileNameOf(claimed), contentType)
		return callErr
	})
	data = nil
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return p.fail(ctx, claimed, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err))
	}

	saved, err := p.store.SaveTranscript(ctx, id, transcript)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	if !saved {
		slog.Warn("processing abandoned, record left processing", "analysis_id", id.String())
		return nil
	}

	var result json.RawMessage
	err = p.withRetry(ctx, "analyze", id, func() error {
		var callErr error
		result, callErr = p.analyzer.Analyze(ctx, transcript, plan)
		return callErr
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		kind := ErrAnalysisProvider
		if errors.Is(err, ai.ErrMalformedResponse) {
			kind = ErrAnalysisMalformed
		}
		return p.fail(ctx, claimed, fmt.Errorf("%w: %v", kind, err))
	}

	completed, err := p.store.CompleteAnalysis(ctx, id, datatypes.JSON(result))
	if err != nil {
		return fmt.Errorf("complete analysis: %w", err)
	}
	if !completed {
		slog.Warn("completion lost, record already terminal", "analysis_id", id.String())
	}
	p.finish(ctx, claimed)
	slog.Info("analysis completed", "analysis_id", id.String(), "tier", string(claimed.Tier), "latency_ms", time.Since(started).Milliseconds())
	return nil
}

func (p *Processor) fail(ctx context.Context, a *models.Analysis, cause error) error {
	msg := SanitizeErrorMessage(failureMessage(cause))
	ok, err := p.store.FailAnalysis(ctx, a.ID, msg)
	if err != nil {
		return fmt.Errorf("fail analysis: %w", err)
	}
	if ok {
		slog.Error("analysis failed", "analysis_id", a.ID.String(), "action", "process", "error", msg)
		if p.reportFailed != nil {
			p.reportFailed(a.ID, msg)
		}
	}
	p.finish(ctx, a)
	return nil
}

// finish releases resources held for a record that reached a terminal state.
func (p *Processor) finish(ctx context.Context, a *models.Analysis) {
	if a.AudioPath != "" {
		if err := p.audio.Delete(ctx, a.AudioPath); err != nil {
			slog.Warn("audio delete failed", "analysis_id", a.ID.String(), "error", err.Error())
		}
	}
	if a.Tier == models.PlanSingle {
		if _, err := p.store.ConsumeSinglePlan(ctx, a.UserID); err != nil {
			slog.Error("single plan reset failed", "analysis_id", a.ID.String(), "user_id", a.UserID.String(), "error", err.Error())
		}
	}
}

func (p *Processor) withRetry(ctx context.Context, op string, id uuid.UUID, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		slog.Warn("ai call failed", "analysis_id", id.String(), "action", op, "attempt", attempt, "error", SanitizeErrorMessage(lastErr.Error()))
		if attempt < p.maxAttempts {
			if err := p.sleeper(ctx, time.Duration(attempt)*p.backoffUnit); err != nil {
				return err
			}
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, ErrTranscriptionFailed):
		return "Transcription failed: " + causeText(err, ErrTranscriptionFailed)
	case errors.Is(err, ErrAnalysisMalformed):
		return "Analysis returned an unreadable result. Please try again."
	case errors.Is(err, ErrAnalysisProvider):
		return "Analysis failed: " + causeText(err, ErrAnalysisProvider)
	default:
		return err.Error()
	}
}

// causeText drops the sentinel prefix added by fmt.Errorf("%w: ...").
func causeText(err, sentinel error) string {
	s := err.Error()
	prefix := sentinel.Error() + ": "
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):]
	}
	return s
}

func fileNameOf(a *models.Analysis) string {
	if a.SourceType == models.SourceURL {
		return "audio" + extOf(a.AudioPath)
	}
	return a.FileName
}

func extOf(p string) string {
	for i := len(p) - 1; i >= 0 && p[i] != '/'; i-- {
		if p[i] == '.' {
			return p[i:]
		}
	}
	return ".mp3"
}
