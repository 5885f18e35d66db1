package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/contractear/contractear-api/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	pgBatchSize     = 50
	pgFlushInterval = 5 * time.Second
)

var fallback = slog.New(slog.NewJSONHandler(os.Stderr, nil))

// pgSink owns the buffer shared by every PGHandler derived with WithAttrs.
type pgSink struct {
	db     *gorm.DB
	mu     sync.Mutex
	buffer []models.SystemLog
	ticker *time.Ticker
	done   chan struct{}
}

// PGHandler persists ERROR+ records into system_logs in batches.
type PGHandler struct {
	sink  *pgSink
	attrs []slog.Attr
}

func NewPGHandler(db *gorm.DB) *PGHandler {
	s := &pgSink{
		db:     db,
		buffer: make([]models.SystemLog, 0, pgBatchSize),
		ticker: time.NewTicker(pgFlushInterval),
		done:   make(chan struct{}),
	}
	go s.loop()
	return &PGHandler{sink: s}
}

func newBufferedPGHandler() *PGHandler {
	return &PGHandler{sink: &pgSink{buffer: make([]models.SystemLog, 0, pgBatchSize)}}
}

func (s *pgSink) loop() {
	for {
		select {
		case <-s.ticker.C:
			s.flush()
		case <-s.done:
			s.flush()
			return
		}
	}
}

func (s *pgSink) add(entry models.SystemLog) {
	s.mu.Lock()
	s.buffer = append(s.buffer, entry)
	full := len(s.buffer) >= pgBatchSize
	s.mu.Unlock()

	if full && s.db != nil {
		go s.flush()
	}
}

func (s *pgSink) drain() []models.SystemLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.buffer
	s.buffer = make([]models.SystemLog, 0, pgBatchSize)
	return batch
}

func (s *pgSink) flush() {
	batch := s.drain()
	if len(batch) == 0 || s.db == nil {
		return
	}
	if err := s.db.CreateInBatches(batch, pgBatchSize).Error; err != nil {
		fallback.Error("system log flush failed", "error", err.Error(), "count", len(batch))
	}
}

// Stop flushes the remaining buffer and ends the background loop.
func (h *PGHandler) Stop() {
	if h.sink.ticker == nil {
		return
	}
	h.sink.ticker.Stop()
	close(h.sink.done)
}

func (h *PGHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelError
}

func (h *PGHandler) Handle(_ context.Context, record slog.Record) error {
	entry := models.SystemLog{
		ID:        uuid.New(),
		Timestamp: record.Time,
		Level:     record.Level.String(),
		Message:   record.Message,
	}

	extra := make(map[string]interface{})
	for _, a := range h.attrs {
		liftAttr(&entry, extra, a)
	}
	record.Attrs(func(a slog.Attr) bool {
		liftAttr(&entry, extra, a)
		return true
	})
	if len(extra) > 0 {
		if b, err := json.Marshal(extra); err == nil {
			entry.Extra = datatypes.JSON(b)
		}
	}

	h.sink.add(entry)
	return nil
}

func liftAttr(entry *models.SystemLog, extra map[string]interface{}, a slog.Attr) {
	v := a.Value.Resolve()
	switch a.Key {
	case "analysis_id":
		entry.AnalysisID = v.String()
	case "event_type":
		entry.EventType = v.String()
	case "trace_id", "request_id":
		entry.TraceID = v.String()
	case "user_id":
		s := v.String()
		entry.UserID = &s
	case "action":
		entry.Action = v.String()
	case "error":
		entry.Error = v.String()
	case "latency_ms":
		switch n := v.Any().(type) {
		case float64:
			entry.LatencyMs = int(math.Round(n))
		case int64:
			entry.LatencyMs = int(n)
		}
	default:
		extra[a.Key] = v.Any()
	}
}

func (h *PGHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &PGHandler{sink: h.sink, attrs: merged}
}

// WithGroup is a no-op: system_logs has a flat column layout.
func (h *PGHandler) WithGroup(string) slog.Handler {
	return h
}
