package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/contractear/contractear-api/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MemoryStore is a process-local Store. Each method holds the lock for the
// whole compare-and-set, so it gives the same transition guarantees as the
// conditional SQL updates in GormStore.
type MemoryStore struct {
	mu        sync.Mutex
	analyses  map[uuid.UUID]models.Analysis
	profiles  map[uuid.UUID]models.Profile
	usageLogs []models.UsageLog
	events    map[string]models.WebhookEvent
	billing   []models.BillingRecord
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		analyses: make(map[uuid.UUID]models.Analysis),
		profiles: make(map[uuid.UUID]models.Profile),
		events:   make(map[string]models.WebhookEvent),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source; tests use it to age records.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func cloneAnalysis(a models.Analysis) *models.Analysis {
	if a.Result != nil {
		a.Result = append(datatypes.JSON(nil), a.Result...)
	}
	return &a
}

func (m *MemoryStore) CreateAnalysis(_ context.Context, a *models.Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.analyses[a.ID]; ok {
		return ErrDuplicate
	}
	now := m.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	m.analyses[a.ID] = *cloneAnalysis(*a)
	return nil
}

func (m *MemoryStore) GetAnalysis(_ context.Context, id uuid.UUID) (*models.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAnalysis(a), nil
}

// casAnalysis applies mutate when the record exists with status from.
func (m *MemoryStore) casAnalysis(id uuid.UUID, from models.AnalysisStatus, mutate func(*models.Analysis)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[id]
	if !ok || a.Status != from {
		return false
	}
	mutate(&a)
	a.UpdatedAt = m.now()
	m.analyses[id] = a
	return true
}

func (m *MemoryStore) TransitionStatus(_ context.Context, id uuid.UUID, from, to models.AnalysisStatus) (bool, error) {
	if !from.CanAdvanceTo(to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	return m.casAnalysis(id, from, func(a *models.Analysis) { a.Status = to }), nil
}

func (m *MemoryStore) SetTransactionRef(_ context.Context, id uuid.UUID, ref string) (bool, error) {
	return m.casAnalysis(id, models.StatusPending, func(a *models.Analysis) {
		a.PaymentTransactionRef = &ref
	}), nil
}

func (m *MemoryStore) MarkPaid(_ context.Context, id uuid.UUID, ref string) (bool, error) {
	return m.casAnalysis(id, models.StatusPending, func(a *models.Analysis) {
		a.Status = models.StatusPaid
		if ref != "" {
			a.PaymentTransactionRef = &ref
		}
	}), nil
}

func (m *MemoryStore) ClaimProcessing(_ context.Context, id uuid.UUID, lease time.Duration) (*models.Analysis, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[id]
	if !ok || a.Status != models.StatusProcessing {
		return nil, false, nil
	}
	now := m.now()
	if a.LeaseExpiresAt != nil && !a.LeaseExpiresAt.Before(now) {
		return nil, false, nil
	}
	expires := now.Add(lease)
	a.LeaseExpiresAt = &expires
	a.ProcessingAttempts++
	a.UpdatedAt = now
	m.analyses[id] = a
	return cloneAnalysis(a), true, nil
}

func (m *MemoryStore) SaveTranscript(_ context.Context, id uuid.UUID, transcript string) (bool, error) {
	return m.casAnalysis(id, models.StatusProcessing, func(a *models.Analysis) {
		a.Transcript = &transcript
	}), nil
}

func (m *MemoryStore) CompleteAnalysis(_ context.Context, id uuid.UUID, result datatypes.JSON) (bool, error) {
	return m.casAnalysis(id, models.StatusProcessing, func(a *models.Analysis) {
		a.Status = models.StatusCompleted
		a.Result = append(datatypes.JSON(nil), result...)
		a.Transcript = nil
		a.LeaseExpiresAt = nil
	}), nil
}

func (m *MemoryStore) FailAnalysis(_ context.Context, id uuid.UUID, message string) (bool, error) {
	return m.casAnalysis(id, models.StatusProcessing, func(a *models.Analysis) {
		a.Status = models.StatusError
		a.ErrorMessage = &message
		a.Transcript = nil
		a.LeaseExpiresAt = nil
	}), nil
}

func (m *MemoryStore) filterAnalyses(keep func(models.Analysis) bool, less func(a, b models.Analysis) bool, limit int) []models.Analysis {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Analysis
	for _, a := range m.analyses {
		if keep(a) {
			out = append(out, *cloneAnalysis(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func oldestFirst(a, b models.Analysis) bool { return a.UpdatedAt.Before(b.UpdatedAt) }

func (m *MemoryStore) ListReclaimable(_ context.Context, status models.AnalysisStatus, idleBefore time.Time, limit int) ([]models.Analysis, error) {
	now := m.clock()
	return m.filterAnalyses(func(a models.Analysis) bool {
		if a.Status != status || !a.UpdatedAt.Before(idleBefore) {
			return false
		}
		if status == models.StatusProcessing && a.LeaseExpiresAt != nil && !a.LeaseExpiresAt.Before(now) {
			return false
		}
		return true
	}, oldestFirst, limit), nil
}

func (m *MemoryStore) ListNonTerminal(_ context.Context, olderThan time.Time, limit int) ([]models.Analysis, error) {
	return m.filterAnalyses(func(a models.Analysis) bool {
		return !a.Status.Terminal() && a.UpdatedAt.Before(olderThan)
	}, oldestFirst, limit), nil
}

func (m *MemoryStore) ListAnalysesByUser(_ context.Context, userID uuid.UUID, limit int) ([]models.Analysis, error) {
	out := m.filterAnalyses(func(a models.Analysis) bool {
		return a.UserID == userID
	}, func(a, b models.Analysis) bool { return a.CreatedAt.After(b.CreatedAt) }, limit)
	for i := range out {
		out[i].Transcript = nil
	}
	return out, nil
}

func (m *MemoryStore) CountAnalysesSince(_ context.Context, userID uuid.UUID, since time.Time) ([]DailyCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buckets := make(map[time.Time]int)
	for _, a := range m.analyses {
		if a.UserID != userID || a.CreatedAt.Before(since) {
			continue
		}
		day := a.CreatedAt.UTC().Truncate(24 * time.Hour)
		buckets[day]++
	}
	out := make([]DailyCount, 0, len(buckets))
	for day, n := range buckets {
		out = append(out, DailyCount{Day: day, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (m *MemoryStore) DeleteAnalysis(_ context.Context, id, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[id]
	if !ok || a.UserID != userID {
		return false, nil
	}
	delete(m.analyses, id)
	return true, nil
}

func (m *MemoryStore) clock() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now()
}

func (m *MemoryStore) EnsureProfile(_ context.Context, userID uuid.UUID, email string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		now := m.now()
		p = models.Profile{
			ID:                userID,
			Email:             email,
			Plan:              models.PlanNone,
			BillingCycleStart: now,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		m.profiles[userID] = p
	}
	return &p, nil
}

func (m *MemoryStore) GetProfile(_ context.Context, userID uuid.UUID) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// PutProfile overwrites a profile; tests use it to seed billing state.
func (m *MemoryStore) PutProfile(p models.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

func (m *MemoryStore) ResetCycleIfExpired(_ context.Context, userID uuid.UUID, cutoff time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok || p.BillingCycleStart.After(cutoff) {
		return false, nil
	}
	now := m.now()
	p.AnalysesUsed = 0
	p.BillingCycleStart = now
	p.UpdatedAt = now
	m.profiles[userID] = p
	return true, nil
}

func (m *MemoryStore) RecordUsage(_ context.Context, userID, analysisID uuid.UUID, plan models.PlanTier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	p.AnalysesUsed++
	p.UpdatedAt = now
	m.profiles[userID] = p
	m.usageLogs = append(m.usageLogs, models.UsageLog{
		ID:         uuid.New(),
		UserID:     userID,
		AnalysisID: analysisID,
		PlanAtTime: plan,
		CreatedAt:  now,
	})
	return nil
}

func (m *MemoryStore) ApplyPlan(_ context.Context, change PlanChange) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[change.UserID]
	if !ok {
		return false, nil
	}
	p.Plan = change.Plan
	p.AnalysesLimit = change.Limit
	p.AnalysesUsed = 0
	p.BillingCycleStart = change.CycleStart
	p.ExternalSubscriptionRef = change.SubscriptionRef
	p.ExternalCustomerRef = change.CustomerRef
	p.UpdatedAt = m.now()
	m.profiles[change.UserID] = p
	return true, nil
}

func (m *MemoryStore) CancelPlanByCustomer(_ context.Context, customerRef string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, p := range m.profiles {
		if p.ExternalCustomerRef == nil || *p.ExternalCustomerRef != customerRef {
			continue
		}
		p.Plan = models.PlanNone
		p.AnalysesLimit = 0
		p.ExternalSubscriptionRef = nil
		p.UpdatedAt = m.now()
		m.profiles[id] = p
		n++
	}
	return n, nil
}

func (m *MemoryStore) ConsumeSinglePlan(_ context.Context, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok || p.Plan != models.PlanSingle {
		return false, nil
	}
	p.Plan = models.PlanNone
	p.AnalysesLimit = 0
	p.UpdatedAt = m.now()
	m.profiles[userID] = p
	return true, nil
}

func (m *MemoryStore) ListUsageLogs(_ context.Context, userID uuid.UUID, limit int) ([]UsageLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []UsageLogEntry
	for i := len(m.usageLogs) - 1; i >= 0; i-- {
		l := m.usageLogs[i]
		if l.UserID != userID {
			continue
		}
		entry := UsageLogEntry{UsageLog: l}
		if a, ok := m.analyses[l.AnalysisID]; ok {
			entry.FileName = a.FileName
			entry.Status = a.Status
		}
		out = append(out, entry)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// UsageLogs returns every recorded usage row in insertion order.
func (m *MemoryStore) UsageLogs() []models.UsageLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.UsageLog(nil), m.usageLogs...)
}

func (m *MemoryStore) ClaimWebhookEvent(_ context.Context, ev *models.WebhookEvent, claimTTL time.Duration) (WebhookClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	existing, ok := m.events[ev.EventID]
	if !ok {
		ev.CreatedAt = now
		ev.UpdatedAt = now
		ev.ClaimedAt = &now
		m.events[ev.EventID] = *ev
		return ClaimAcquired, nil
	}
	if existing.ProcessedAt != nil {
		return ClaimProcessed, nil
	}
	if existing.ClaimedAt != nil && !existing.ClaimedAt.Before(now.Add(-claimTTL)) {
		return ClaimInFlight, nil
	}
	existing.ClaimedAt = &now
	existing.UpdatedAt = now
	m.events[ev.EventID] = existing
	return ClaimAcquired, nil
}

func (m *MemoryStore) FinishWebhookEvent(_ context.Context, eventID string, procErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[eventID]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	ev.UpdatedAt = now
	if procErr != nil {
		ev.ProcessingError = procErr.Error()
		ev.ClaimedAt = nil
	} else {
		ev.ProcessedAt = &now
		ev.ProcessingError = ""
	}
	m.events[eventID] = ev
	return nil
}

func (m *MemoryStore) CreateBillingRecord(_ context.Context, r *models.BillingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.TransactionRef != nil {
		for _, b := range m.billing {
			if b.TransactionRef != nil && *b.TransactionRef == *r.TransactionRef && b.EventType == r.EventType {
				return nil
			}
		}
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now()
	}
	m.billing = append(m.billing, *r)
	return nil
}

// BillingRecords returns every billing row in insertion order.
func (m *MemoryStore) BillingRecords() []models.BillingRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.BillingRecord(nil), m.billing...)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*GormStore)(nil)
)
