package poller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/contractear/contractear-api/internal/dto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	confirms    int32
	polls       int32
	paidAfter   int32
	doneAfter   int32
	confirmCode int
	finalStatus string
	sawBearer   atomic.Bool
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "Bearer tok" {
		f.sawBearer.Store(true)
	}
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/confirm-payment":
		n := atomic.AddInt32(&f.confirms, 1)
		if f.confirmCode != 0 {
			w.WriteHeader(f.confirmCode)
			_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: true, Message: "nope"})
			return
		}
		if n <= f.paidAfter {
			w.WriteHeader(http.StatusPaymentRequired)
			_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: true, Message: "payment required"})
			return
		}
		_ = json.NewEncoder(w).Encode(dto.StatusResponse{Status: "processing"})
	case "/api/analysis":
		n := atomic.AddInt32(&f.polls, 1)
		status := "processing"
		if n > f.doneAfter {
			status = f.finalStatus
		}
		_ = json.NewEncoder(w).Encode(dto.AnalysisView{ID: r.URL.Query().Get("id"), Status: status})
	default:
		http.NotFound(w, r)
	}
}

func newPoller(t *testing.T, api *fakeAPI, attempts int) *Poller {
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	p := New(srv.URL, "tok", WithSchedule(attempts, time.Millisecond))
	p.sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func TestConfirmAndWait(t *testing.T) {
	api := &fakeAPI{paidAfter: 3, doneAfter: 2, finalStatus: "completed"}
	p := newPoller(t, api, 15)

	view, err := p.ConfirmAndWait(context.Background(), uuid.New())

	require.NoError(t, err)
	assert.Equal(t, "completed", view.Status)
	assert.Equal(t, int32(4), atomic.LoadInt32(&api.confirms))
	assert.Equal(t, int32(3), atomic.LoadInt32(&api.polls))
	assert.True(t, api.sawBearer.Load())
}

func TestConfirm_GivesUpAfterBudget(t *testing.T) {
	api := &fakeAPI{paidAfter: 100}
	p := newPoller(t, api, 15)

	err := p.Confirm(context.Background(), uuid.New())

	assert.ErrorIs(t, err, ErrNotConfirmed)
	assert.Equal(t, int32(15), atomic.LoadInt32(&api.confirms))
}

func TestConfirm_StopsOnHardError(t *testing.T) {
	api := &fakeAPI{confirmCode: http.StatusForbidden}
	p := newPoller(t, api, 15)

	err := p.Confirm(context.Background(), uuid.New())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "nope", apiErr.Message)
	assert.Equal(t, int32(1), atomic.LoadInt32(&api.confirms))
}

func TestWait_ReportsErrorStatus(t *testing.T) {
	api := &fakeAPI{finalStatus: "error"}
	p := newPoller(t, api, 15)

	view, err := p.Wait(context.Background(), uuid.New())

	require.NoError(t, err)
	assert.Equal(t, "error", view.Status)
}

func TestWait_HonoursContext(t *testing.T) {
	api := &fakeAPI{doneAfter: 1000, finalStatus: "completed"}
	p := newPoller(t, api, 15)
	ctx, cancel := context.WithCancel(context.Background())
	p.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := p.Wait(ctx, uuid.New())

	assert.ErrorIs(t, err, context.Canceled)
}
