package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/contractear/contractear-api/internal/models"
	"github.com/contractear/contractear-api/internal/payments"
	"github.com/contractear/contractear-api/internal/storage"
	"github.com/contractear/contractear-api/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu        sync.Mutex
	paid      map[string]bool
	verifyErr error
	createErr error
	created   []payments.TransactionRequest
	verified  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{paid: make(map[string]bool)}
}

func (g *fakeGateway) CreateTransaction(_ context.Context, req payments.TransactionRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return "", g.createErr
	}
	g.created = append(g.created, req)
	return "txn_" + uuid.NewString()[:8], nil
}

func (g *fakeGateway) VerifyTransaction(_ context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verified++
	if g.verifyErr != nil {
		return false, g.verifyErr
	}
	return g.paid[id], nil
}

func (g *fakeGateway) markPaid(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paid[id] = true
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.ids = append(d.ids, id)
	return nil
}

func (d *recordingDispatcher) count(id uuid.UUID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, got := range d.ids {
		if got == id {
			n++
		}
	}
	return n
}

type fakeAI struct {
	mu          sync.Mutex
	transcripts []error
	analyses    []error
	result      json.RawMessage
	transcribed int
	analyzed    int
	plans       []models.PlanConfig
}

func (f *fakeAI) Transcribe(context.Context, []byte, string, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcribed++
	if len(f.transcripts) > 0 {
		err := f.transcripts[0]
		f.transcripts = f.transcripts[1:]
		if err != nil {
			return "", err
		}
	}
	return "we agree to deliver by friday", nil
}

func (f *fakeAI) Analyze(_ context.Context, _ string, plan models.PlanConfig) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzed++
	f.plans = append(f.plans, plan)
	if len(f.analyses) > 0 {
		err := f.analyses[0]
		f.analyses = f.analyses[1:]
		if err != nil {
			return nil, err
		}
	}
	if f.result != nil {
		return f.result, nil
	}
	return json.RawMessage(`{"summary":"ok","riskScore":3}`), nil
}

var errProvider = errors.New("status 500")

type harness struct {
	store      *store.MemoryStore
	audio      *storage.MemoryStore
	gateway    *fakeGateway
	dispatcher *recordingDispatcher
	usage      *UsageService
	analyses   *AnalysisService
	webhooks   *WebhookService
}

const webhookSecret = "whsec_test"

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:      store.NewMemoryStore(),
		audio:      storage.NewMemoryStore(),
		gateway:    newFakeGateway(),
		dispatcher: &recordingDispatcher{},
	}
	h.usage = NewUsageService(h.store)
	h.analyses = NewAnalysisService(AnalysisDeps{
		Store:      h.store,
		Usage:      h.usage,
		Gateway:    h.gateway,
		Dispatcher: h.dispatcher,
		Audio:      h.audio,
		Prices: models.PriceIDs{
			models.PlanSingle: "pri_single",
			models.PlanBasic:  "pri_basic",
			models.PlanPro:    "pri_pro",
		},
		AppURL: "https://app.example.com",
	})
	h.webhooks = NewWebhookService(h.store, h.analyses, webhookSecret)
	return h
}

func (h *harness) withPlan(plan models.PlanTier, used, limit int, cycleStart time.Time) uuid.UUID {
	id := uuid.New()
	h.store.PutProfile(models.Profile{
		ID:                id,
		Email:             "user@example.com",
		Plan:              plan,
		AnalysesUsed:      used,
		AnalysesLimit:     limit,
		BillingCycleStart: cycleStart,
	})
	return id
}

func (h *harness) submit(t *testing.T, userID uuid.UUID) *SubmitResult {
	t.Helper()
	res, err := h.analyses.Submit(context.Background(), SubmitInput{
		UserID:      userID,
		FileName:    "call.mp3",
		ContentType: "audio/mpeg",
		Data:        []byte("ID3 audio bytes"),
	})
	require.NoError(t, err)
	return res
}

// pendingWithCheckout creates a single-tier record with an open checkout.
func (h *harness) pendingWithCheckout(t *testing.T) (uuid.UUID, uuid.UUID, string) {
	t.Helper()
	userID := h.withPlan(models.PlanSingle, 0, 0, time.Now())
	res := h.submit(t, userID)
	txn, err := h.analyses.CreateCheckout(context.Background(), userID, res.ID)
	require.NoError(t, err)
	return userID, res.ID, txn
}

func (h *harness) status(t *testing.T, id uuid.UUID) *models.Analysis {
	t.Helper()
	a, err := h.store.GetAnalysis(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (h *harness) profile(t *testing.T, id uuid.UUID) *models.Profile {
	t.Helper()
	p, err := h.store.GetProfile(context.Background(), id)
	require.NoError(t, err)
	return p
}
