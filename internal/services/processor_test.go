package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/contractear/contractear-api/internal/ai"
	"github.com/contractear/contractear-api/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type processorFixture struct {
	*harness
	ai        *fakeAI
	sleeps    []time.Duration
	failures  []string
	processor *Processor
}

func newProcessorFixture(t *testing.T) *processorFixture {
	f := &processorFixture{harness: newHarness(t), ai: &fakeAI{}}
	f.processor = NewProcessor(f.store, f.audio, f.ai, f.ai,
		WithSleeper(func(_ context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		}),
		WithFailureReporter(func(_ uuid.UUID, msg string) { f.failures = append(f.failures, msg) }),
	)
	return f
}

func (f *processorFixture) processing(t *testing.T, tier models.PlanTier) (uuid.UUID, *models.Analysis) {
	t.Helper()
	limit := models.Plan(tier).MonthlyLimit
	userID := f.withPlan(tier, 0, limit, time.Now())
	if tier == models.PlanSingle {
		_, id, txn := f.pendingForUser(t, userID)
		f.gateway.markPaid(txn)
		_, err := f.analyses.ConfirmPayment(context.Background(), userID, id)
		require.NoError(t, err)
		return userID, f.status(t, id)
	}
	res := f.submit(t, userID)
	return userID, f.status(t, res.ID)
}

func (f *processorFixture) pendingForUser(t *testing.T, userID uuid.UUID) (uuid.UUID, uuid.UUID, string) {
	t.Helper()
	res := f.submit(t, userID)
	txn, err := f.analyses.CreateCheckout(context.Background(), userID, res.ID)
	require.NoError(t, err)
	return userID, res.ID, txn
}

func TestProcess_CompletesAndReleasesAudio(t *testing.T) {
	f := newProcessorFixture(t)
	_, a := f.processing(t, models.PlanPro)

	require.NoError(t, f.processor.Process(context.Background(), a.ID))

	got := f.status(t, a.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.JSONEq(t, `{"summary":"ok","riskScore":3}`, string(got.Result))
	assert.Nil(t, got.Transcript)
	assert.Nil(t, got.ErrorMessage)
	assert.False(t, f.audio.Has(a.AudioPath))
	assert.Empty(t, f.sleeps)
	require.Len(t, f.ai.plans, 1)
	assert.Equal(t, "gpt-4o", f.ai.plans[0].Model)
	assert.Equal(t, models.PromptExhaustive, f.ai.plans[0].PromptVariant)
}

func TestProcess_RetriesWithBackoff(t *testing.T) {
	f := newProcessorFixture(t)
	f.ai.transcripts = []error{errProvider, errProvider}
	_, a := f.processing(t, models.PlanBasic)

	require.NoError(t, f.processor.Process(context.Background(), a.ID))

	assert.Equal(t, models.StatusCompleted, f.status(t, a.ID).Status)
	assert.Equal(t, 3, f.ai.transcribed)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, f.sleeps)
}

func TestProcess_TranscriptionExhaustedFails(t *testing.T) {
	f := newProcessorFixture(t)
	leak := fmt.Errorf("rejected key sk-abcdef123456")
	f.ai.transcripts = []error{leak, leak, leak}
	_, a := f.processing(t, models.PlanBasic)

	require.NoError(t, f.processor.Process(context.Background(), a.ID))

	got := f.status(t, a.ID)
	assert.Equal(t, models.StatusError, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "Transcription failed")
	assert.NotContains(t, *got.ErrorMessage, "sk-abcdef")
	assert.Nil(t, got.Transcript)
	assert.Zero(t, f.ai.analyzed)
	assert.False(t, f.audio.Has(a.AudioPath))
	assert.Len(t, f.failures, 1)
}

func TestProcess_MalformedAnalysis(t *testing.T) {
	f := newProcessorFixture(t)
	bad := fmt.Errorf("%w: no json object", ai.ErrMalformedResponse)
	f.ai.analyses = []error{bad, bad, bad}
	_, a := f.processing(t, models.PlanBasic)

	require.NoError(t, f.processor.Process(context.Background(), a.ID))

	got := f.status(t, a.ID)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, "Analysis returned an unreadable result. Please try again.", *got.ErrorMessage)
	assert.Nil(t, got.Transcript)
	assert.Equal(t, 3, f.ai.analyzed)
}

func TestProcess_SingleTierConsumesPlan(t *testing.T) {
	f := newProcessorFixture(t)
	userID, a := f.processing(t, models.PlanSingle)
	require.Equal(t, models.StatusProcessing, a.Status)

	require.NoError(t, f.processor.Process(context.Background(), a.ID))

	assert.Equal(t, models.StatusCompleted, f.status(t, a.ID).Status)
	assert.Equal(t, models.PlanNone, f.profile(t, userID).Plan)
	assert.Equal(t, "gpt-4o-mini", f.ai.plans[0].Model)
}

func TestProcess_SkipsTerminalAndUnstarted(t *testing.T) {
	f := newProcessorFixture(t)
	_, done := f.processing(t, models.PlanBasic)
	require.NoError(t, f.processor.Process(context.Background(), done.ID))
	calls := f.ai.transcribed

	require.NoError(t, f.processor.Process(context.Background(), done.ID))
	assert.Equal(t, calls, f.ai.transcribed)

	singleUser := f.withPlan(models.PlanSingle, 0, 0, time.Now())
	pending := f.submit(t, singleUser)
	require.NoError(t, f.processor.Process(context.Background(), pending.ID))
	assert.Equal(t, models.StatusPending, f.status(t, pending.ID).Status)

	require.NoError(t, f.processor.Process(context.Background(), uuid.New()))
	assert.Equal(t, calls, f.ai.transcribed)
}

func TestProcess_LiveLeaseIsRespected(t *testing.T) {
	f := newProcessorFixture(t)
	_, a := f.processing(t, models.PlanBasic)
	_, ok, err := f.store.ClaimProcessing(context.Background(), a.ID, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.processor.Process(context.Background(), a.ID))

	assert.Zero(t, f.ai.transcribed)
	assert.Equal(t, models.StatusProcessing, f.status(t, a.ID).Status)
}

func TestProcess_CancelledContextStopsRetries(t *testing.T) {
	f := newProcessorFixture(t)
	f.ai.transcripts = []error{errProvider, errProvider, errProvider}
	_, a := f.processing(t, models.PlanBasic)
	ctx, cancel := context.WithCancel(context.Background())
	f.processor.sleeper = func(context.Context, time.Duration) error {
		cancel()
		return nil
	}

	err := f.processor.Process(ctx, a.ID)

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, f.ai.transcribed)
	assert.Equal(t, models.StatusProcessing, f.status(t, a.ID).Status)
	assert.True(t, f.audio.Has(a.AudioPath))
}

func TestProcess_ShutdownInterruptsBackoff(t *testing.T) {
	f := newProcessorFixture(t)
	f.processor.sleeper = sleepCtx
	f.processor.backoffUnit = time.Hour
	f.ai.transcripts = []error{errProvider, errProvider, errProvider}
	_, a := f.processing(t, models.PlanBasic)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := f.processor.Process(ctx, a.ID)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, f.ai.transcribed)
	assert.Equal(t, models.StatusProcessing, f.status(t, a.ID).Status)
}

func TestSleepCtx(t *testing.T) {
	assert.NoError(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}
