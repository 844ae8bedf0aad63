package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"smart-harvester/internal/engine"
	"smart-harvester/internal/storage"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type stubHarvester struct {
	sink    *engine.StatusSink
	attempt engine.HarvestAttempt
	err     error
	calls   int
}

func (s *stubHarvester) ManualHarvest(ctx context.Context) (engine.HarvestAttempt, error) {
	s.calls++
	return s.attempt, s.err
}

func (s *stubHarvester) Sink() *engine.StatusSink {
	return s.sink
}

type stubAttemptLister struct {
	records []storage.AttemptRecord
}

func (s *stubAttemptLister) UpsertAttempt(ctx context.Context, attempt engine.HarvestAttempt) error {
	return nil
}

func (s *stubAttemptLister) LatestPendingAttempt(ctx context.Context) (*engine.HarvestAttempt, error) {
	return nil, nil
}

func (s *stubAttemptLister) ListRecentAttempts(ctx context.Context, limit int) ([]storage.AttemptRecord, error) {
	if limit < len(s.records) {
		return s.records[:limit], nil
	}
	return s.records, nil
}

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	srv := NewServer(opts, noopLogger())
	ts := httptest.NewServer(srv.http.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestStatusEndpoint(t *testing.T) {
	sink := engine.NewStatusSink()
	sink.Record(engine.Status{
		State:               engine.StateIdle,
		Pair:                "KALE/USD",
		LastPrice:           decimal.RequireFromString("1.0625"),
		LastCheckedAt:       time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
		ConsecutiveFailures: 2,
		LowBalance:          true,
	})

	ts := newTestServer(t, Options{Engine: &stubHarvester{sink: sink}})

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code %d", resp.StatusCode)
	}

	var body struct {
		State               string `json:"state"`
		Pair                string `json:"pair"`
		LastPrice           string `json:"last_price"`
		ConsecutiveFailures int    `json:"consecutive_failures"`
		LowBalance          bool   `json:"low_balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.State != "idle" || body.Pair != "KALE/USD" {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.LastPrice != "1.0625" {
		t.Fatalf("unexpected price %s", body.LastPrice)
	}
	if body.ConsecutiveFailures != 2 || !body.LowBalance {
		t.Fatalf("failure fields not surfaced: %+v", body)
	}
}

func TestManualHarvestEndpoint(t *testing.T) {
	harvester := &stubHarvester{
		sink: engine.NewStatusSink(),
		attempt: engine.HarvestAttempt{
			ID:      "a1",
			Outcome: engine.OutcomeSuccess,
			TxHash:  "0xabc",
		},
	}
	ts := newTestServer(t, Options{Engine: harvester})

	resp, err := http.Post(ts.URL+"/api/harvest", "application/json", nil)
	if err != nil {
		t.Fatalf("harvest request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code %d", resp.StatusCode)
	}
	if harvester.calls != 1 {
		t.Fatalf("expected one manual harvest call, got %d", harvester.calls)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["tx_hash"] != "0xabc" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestManualHarvestConflicts(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"engine stopped", engine.ErrStopped, http.StatusConflict},
		{"attempt in flight", engine.ErrAttemptInFlight, http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, Options{Engine: &stubHarvester{sink: engine.NewStatusSink(), err: tc.err}})

			resp, err := http.Post(ts.URL+"/api/harvest", "application/json", nil)
			if err != nil {
				t.Fatalf("harvest request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}

func TestAttemptsEndpoint(t *testing.T) {
	hash := "0xabc"
	lister := &stubAttemptLister{records: []storage.AttemptRecord{{
		AttemptID:   "a1",
		Pair:        "KALE/USD",
		Price:       decimal.RequireFromString("1.07"),
		SubmittedAt: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
		Outcome:     "success",
		TxHash:      &hash,
	}}}
	ts := newTestServer(t, Options{Engine: &stubHarvester{sink: engine.NewStatusSink()}, Attempts: lister})

	resp, err := http.Get(ts.URL + "/api/attempts")
	if err != nil {
		t.Fatalf("attempts request failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Attempts []struct {
			AttemptID string `json:"attempt_id"`
			TxHash    string `json:"tx_hash"`
		} `json:"attempts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Attempts) != 1 || body.Attempts[0].AttemptID != "a1" || body.Attempts[0].TxHash != "0xabc" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestAttemptsEndpointWithoutStore(t *testing.T) {
	ts := newTestServer(t, Options{Engine: &stubHarvester{sink: engine.NewStatusSink()}})

	resp, err := http.Get(ts.URL + "/api/attempts")
	if err != nil {
		t.Fatalf("attempts request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without persistence, got %d", resp.StatusCode)
	}
}

func TestReloadEndpoint(t *testing.T) {
	reloaded := false
	ts := newTestServer(t, Options{
		Engine: &stubHarvester{sink: engine.NewStatusSink()},
		Reload: func(ctx context.Context) error {
			reloaded = true
			return nil
		},
	})

	resp, err := http.Post(ts.URL+"/api/reload", "application/json", nil)
	if err != nil {
		t.Fatalf("reload request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code %d", resp.StatusCode)
	}
	if !reloaded {
		t.Fatal("reload callback was not invoked")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, Options{Engine: &stubHarvester{sink: engine.NewStatusSink()}})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code %d", resp.StatusCode)
	}
}
