package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/contractear/contractear-api/internal/models"
	"github.com/contractear/contractear-api/internal/payments"
	"github.com/contractear/contractear-api/internal/queue"
	"github.com/contractear/contractear-api/internal/storage"
	"github.com/contractear/contractear-api/internal/store"
	"github.com/google/uuid"
)

type AnalysisDeps struct {
	Store      store.Store
	Usage      *UsageService
	Gateway    payments.Gateway
	Dispatcher queue.Dispatcher
	Audio      storage.AudioStore
	Fetcher    *AudioFetcher
	Prices     models.PriceIDs
	AppURL     string
}

// AnalysisService owns every status transition reachable from an API call.
type AnalysisService struct {
	store      store.Store
	usage      *UsageService
	gateway    payments.Gateway
	dispatcher queue.Dispatcher
	audio      storage.AudioStore
	fetcher    *AudioFetcher
	prices     models.PriceIDs
	appURL     string
	now        func() time.Time
}

func NewAnalysisService(d AnalysisDeps) *AnalysisService {
	if d.Fetcher == nil {
		d.Fetcher = NewAudioFetcher(nil)
	}
	return &AnalysisService{
		store:      d.Store,
		usage:      d.Usage,
		gateway:    d.Gateway,
		dispatcher: d.Dispatcher,
		audio:      d.Audio,
		fetcher:    d.Fetcher,
		prices:     d.Prices,
		appURL:     d.AppURL,
		now:        time.Now,
	}
}

type SubmitInput struct {
	UserID      uuid.UUID
	FileName    string
	ContentType string
	Data        []byte
}

type SubmitResult struct {
	ID              uuid.UUID `json:"id"`
	RequiresPayment bool      `json:"requiresPayment"`
}

// Submit stores an uploaded recording and creates its analysis record.
func (s *AnalysisService) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	quota, err := s.admit(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: no file provided", ErrInvalidInput)
	}
	if !AllowedUploadType(in.ContentType) {
		return nil, fmt.Errorf("%w: invalid file type, please upload an audio file", ErrInvalidInput)
	}
	if len(in.Data) > MaxAudioBytes {
		return nil, fmt.Errorf("%w: file too large, maximum size is 25MB", ErrInvalidInput)
	}
	return s.create(ctx, in.UserID, quota.Plan, models.SourceUpload, in.FileName, in.FileName, in.ContentType, in.Data)
}

// SubmitURL fetches remote audio and follows the same path as Submit.
func (s *AnalysisService) SubmitURL(ctx context.Context, userID uuid.UUID, rawURL string) (*SubmitResult, error) {
	quota, err := s.admit(ctx, userID)
	if err != nil {
		return nil, err
	}
	remote, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	ct := remote.ContentType
	if ct == "" {
		ct = "audio/mpeg"
	}
	return s.create(ctx, userID, quota.Plan, models.SourceURL, rawURL, remote.FileName, ct, remote.Data)
}

func (s *AnalysisService) admit(ctx context.Context, userID uuid.UUID) (Quota, error) {
	quota, err := s.usage.CheckQuota(ctx, userID)
	if err != nil {
		return quota, err
	}
	if quota.Plan == models.PlanNone {
		return quota, ErrNoPlan
	}
	if !quota.Allowed {
		return quota, fmt.Errorf("%w: you've reached your monthly limit of %d analyses", ErrQuotaExceeded, quota.Limit)
	}
	return quota, nil
}

func (s *AnalysisService) create(ctx context.Context, userID uuid.UUID, tier models.PlanTier, source models.SourceType, descriptor, objectName, contentType string, data []byte) (*SubmitResult, error) {
	id := uuid.New()
	key := storage.ObjectKey(id, objectName)
	if err := s.audio.Put(ctx, key, data, contentType); err != nil {
		return nil, fmt.Errorf("store audio: %w", err)
	}

	status := models.StatusProcessing
	if tier == models.PlanSingle {
		status = models.StatusPending
	}
	a := &models.Analysis{
		ID:         id,
		UserID:     userID,
		FileName:   descriptor,
		AudioPath:  key,
		SourceType: source,
		Tier:       tier,
		Status:     status,
	}
	if err := s.store.CreateAnalysis(ctx, a); err != nil {
		if delErr := s.audio.Delete(ctx, key); delErr != nil {
			slog.Warn("orphaned audio after failed insert", "analysis_id", id.String(), "error", delErr.Error())
		}
		return nil, fmt.Errorf("create analysis record: %w", err)
	}

	if status == models.StatusProcessing {
		s.startProcessing(ctx, a)
	}
	return &SubmitResult{ID: id, RequiresPayment: tier == models.PlanSingle}, nil
}

// startProcessing runs the side effects owned by whoever moved a record into processing.
func (s *AnalysisService) startProcessing(ctx context.Context, a *models.Analysis) {
	if err := s.usage.RecordUsage(ctx, a.UserID, a.ID, a.Tier); err != nil {
		slog.Error("record usage failed", "analysis_id", a.ID.String(), "user_id", a.UserID.String(), "error", err.Error())
	}
	if err := s.dispatcher.Dispatch(ctx, a.ID); err != nil {
		slog.Error("dispatch failed, sweeper will retry", "analysis_id", a.ID.String(), "error", err.Error())
	}
}

func (s *AnalysisService) owned(ctx context.Context, userID, id uuid.UUID) (*models.Analysis, error) {
	a, err := s.store.GetAnalysis(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, ErrForbidden
	}
	return a, nil
}

// currentStatus re-reads a record after a lost or failed conditional update.
func (s *AnalysisService) currentStatus(ctx context.Context, id uuid.UUID, fallback models.AnalysisStatus) models.AnalysisStatus {
	a, err := s.store.GetAnalysis(ctx, id)
	if err != nil {
		return fallback
	}
	return a.Status
}

// ConfirmPayment is the client-driven fallback for a webhook that has not arrived yet.
func (s *AnalysisService) ConfirmPayment(ctx context.Context, userID, id uuid.UUID) (models.AnalysisStatus, error) {
	a, err := s.owned(ctx, userID, id)
	if err != nil {
		return "", err
	}

	switch a.Status {
	case models.StatusCompleted, models.StatusError, models.StatusProcessing:
		return a.Status, nil
	case models.StatusPending:
		if a.PaymentTransactionRef == nil || *a.PaymentTransactionRef == "" {
			return "", ErrPaymentRequired
		}
		paid, err := s.gateway.VerifyTransaction(ctx, *a.PaymentTransactionRef)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		if !paid {
			return "", ErrPaymentRequired
		}
		if _, err := s.store.MarkPaid(ctx, id, ""); err != nil {
			slog.Warn("mark paid failed", "analysis_id", id.String(), "error", err.Error())
			return s.currentStatus(ctx, id, models.StatusPending), nil
		}
	}

	return s.advanceToProcessing(ctx, a)
}

// advanceToProcessing attempts paid -> processing; only the winning caller starts the worker.
func (s *AnalysisService) advanceToProcessing(ctx context.Context, a *models.Analysis) (models.AnalysisStatus, error) {
	ok, err := s.store.TransitionStatus(ctx, a.ID, models.StatusPaid, models.StatusProcessing)
	if err != nil {
		slog.Warn("start processing failed", "analysis_id", a.ID.String(), "error", err.Error())
		return s.currentStatus(ctx, a.ID, models.StatusPaid), nil
	}
	if !ok {
		return s.currentStatus(ctx, a.ID, models.StatusProcessing), nil
	}
	s.startProcessing(ctx, a)
	return models.StatusProcessing, nil
}

// settlePayment applies a gateway-confirmed payment for one analysis, as the webhook sees it.
func (s *AnalysisService) settlePayment(ctx context.Context, id uuid.UUID, transactionRef string) (models.AnalysisStatus, error) {
	a, err := s.store.GetAnalysis(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if a.Status == models.StatusPending {
		if _, err := s.store.MarkPaid(ctx, id, transactionRef); err != nil {
			return "", fmt.Errorf("mark paid: %w", err)
		}
	} else if a.Status != models.StatusPaid {
		return a.Status, nil
	}
	return s.advanceToProcessing(ctx, a)
}

// CreateCheckout opens a single-analysis payment for a pending record.
func (s *AnalysisService) CreateCheckout(ctx context.Context, userID, id uuid.UUID) (string, error) {
	a, err := s.owned(ctx, userID, id)
	if err != nil {
		return "", err
	}
	if a.Status != models.StatusPending {
		return "", fmt.Errorf("%w: analysis is not awaiting payment", ErrInvalidInput)
	}
	priceID := s.prices.For(models.PlanSingle)
	if priceID == "" {
		return "", ErrPriceNotConfigured
	}

	txnID, err := s.gateway.CreateTransaction(ctx, payments.TransactionRequest{
		Items:      []payments.Item{{PriceID: priceID, Quantity: 1}},
		CustomData: map[string]string{"analysis_id": id.String(), "user_id": userID.String()},
		SuccessURL: fmt.Sprintf("%s/analysis/%s?paid=1", s.appURL, id),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if ok, err := s.store.SetTransactionRef(ctx, id, txnID); err != nil || !ok {
		slog.Warn("transaction ref not stored", "analysis_id", id.String(), "applied", ok)
	}
	return txnID, nil
}

// CreatePlanCheckout opens a plan purchase, including one-shot single activation.
func (s *AnalysisService) CreatePlanCheckout(ctx context.Context, userID uuid.UUID, tierName string) (string, error) {
	tier := models.ParsePlanTier(tierName)
	if !tier.Purchasable() {
		return "", fmt.Errorf("%w: invalid tier", ErrInvalidInput)
	}
	priceID := s.prices.For(tier)
	if priceID == "" {
		return "", ErrPriceNotConfigured
	}

	txnID, err := s.gateway.CreateTransaction(ctx, payments.TransactionRequest{
		Items:      []payments.Item{{PriceID: priceID, Quantity: 1}},
		CustomData: map[string]string{"user_id": userID.String(), "tier": string(tier)},
		SuccessURL: s.appURL + "/billing?upgraded=1",
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return txnID, nil
}

// Status is the public poll view; anyone holding the id may read it.
func (s *AnalysisService) Status(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	a, err := s.store.GetAnalysis(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return a, err
}

func (s *AnalysisService) List(ctx context.Context, userID uuid.UUID) ([]models.Analysis, error) {
	return s.store.ListAnalysesByUser(ctx, userID, 50)
}

// Delete removes an owned record and best-effort deletes its audio.
func (s *AnalysisService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	a, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}
	if a.AudioPath != "" {
		if err := s.audio.Delete(ctx, a.AudioPath); err != nil {
			slog.Warn("audio delete failed", "analysis_id", id.String(), "error", err.Error())
		}
	}
	ok, err := s.store.DeleteAnalysis(ctx, id, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type MonthCount struct {
	Month string `json:"month"`
	Count int    `json:"count"`
}

type UsageStats struct {
	Daily   []DayCount   `json:"daily"`
	Monthly []MonthCount `json:"monthly"`
	Total   int          `json:"total"`
}

// Stats buckets the caller's analyses over the last 30 days and 12 months.
func (s *AnalysisService) Stats(ctx context.Context, userID uuid.UUID) (*UsageStats, error) {
	now := s.now().UTC()
	firstMonth := time.Date(now.Year(), now.Month()-11, 1, 0, 0, 0, 0, time.UTC)

	counts, err := s.store.CountAnalysesSince(ctx, userID, firstMonth)
	if err != nil {
		return nil, err
	}

	daily := make(map[string]int, 30)
	monthly := make(map[string]int, 12)
	total := 0
	for _, c := range counts {
		daily[c.Day.UTC().Format("2006-01-02")] += c.Count
		monthly[c.Day.UTC().Format("2006-01")] += c.Count
		total += c.Count
	}

	out := &UsageStats{Total: total}
	for i := 29; i >= 0; i-- {
		key := now.AddDate(0, 0, -i).Format("2006-01-02")
		out.Daily = append(out.Daily, DayCount{Date: key, Count: daily[key]})
	}
	for i := 11; i >= 0; i-- {
		key := time.Date(now.Year(), now.Month()-time.Month(i), 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
		out.Monthly = append(out.Monthly, MonthCount{Month: key, Count: monthly[key]})
	}
	return out, nil
}
