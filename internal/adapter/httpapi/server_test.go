package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tranqh/urbanair-hub/internal/domain"
	"github.com/tranqh/urbanair-hub/internal/hub"
)

type stubHub struct {
	snapshot   *hub.Snapshot
	readyErr   error
	refreshErr error
	refreshed  int
}

func (s *stubHub) Current() *hub.Snapshot { return s.snapshot }

func (s *stubHub) Subscribe() (<-chan *hub.Snapshot, func()) {
	ch := make(chan *hub.Snapshot, 1)
	ch <- s.snapshot
	return ch, func() {}
}

func (s *stubHub) Refresh(context.Context) error {
	s.refreshed++
	return s.refreshErr
}

func (s *stubHub) CheckReadiness(context.Context) error { return s.readyErr }

type stubHistory struct {
	payload []byte
	err     error
}

func (s *stubHistory) FetchHistory(context.Context, string, time.Time, time.Time) ([]byte, error) {
	return s.payload, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSnapshot() *hub.Snapshot {
	aqi := 80.0
	return &hub.Snapshot{
		Readings: domain.MergedState{
			"21.0285,105.8542": {
				StationID:  "hanoi-01",
				Coordinate: domain.Coordinate{Lat: 21.0285, Lng: 105.8542},
				ObservedAt: time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
				AQI:        &aqi,
				SourceType: domain.SourceOfficial,
			},
		},
		Alerts:    []domain.Alert{{StationID: "hanoi-01", Severity: "unhealthy", AQI: 160}},
		Window:    []domain.ChartPoint{{Time: "10:00:00"}},
		Connected: true,
		CycleSeq:  4,
	}
}

func newTestServer(h HubAPI, history HistoryFetcher) *Server {
	return NewServer(":0", h, history, testLogger())
}

func doRequest(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&stubHub{snapshot: testSnapshot()}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestReadyz(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		srv := newTestServer(&stubHub{snapshot: testSnapshot()}, nil)
		rec := doRequest(t, srv, http.MethodGet, "/readyz")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("not ready", func(t *testing.T) {
		srv := newTestServer(&stubHub{snapshot: testSnapshot(), readyErr: errors.New("no cycle yet")}, nil)
		rec := doRequest(t, srv, http.MethodGet, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "no cycle yet")
	})
}

func TestSnapshotEndpoint(t *testing.T) {
	srv := newTestServer(&stubHub{snapshot: testSnapshot()}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/snapshot")

	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Readings  map[string]json.RawMessage `json:"readings"`
		Connected bool                       `json:"connected"`
		CycleSeq  uint64                     `json:"cycle_seq"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got.Readings, 1)
	assert.True(t, got.Connected)
	assert.Equal(t, uint64(4), got.CycleSeq)
}

func TestMarkersEndpoint(t *testing.T) {
	srv := newTestServer(&stubHub{snapshot: testSnapshot()}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/markers")

	require.Equal(t, http.StatusOK, rec.Code)
	var markers []hub.Marker
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &markers))
	require.Len(t, markers, 1)
	assert.Equal(t, "hanoi-01", markers[0].StationID)
	assert.Equal(t, domain.SourceOfficial, markers[0].SourceType)
}

func TestAlertsEndpoint(t *testing.T) {
	srv := newTestServer(&stubHub{snapshot: testSnapshot()}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/alerts")

	require.Equal(t, http.StatusOK, rec.Code)
	var alerts []domain.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, "unhealthy", alerts[0].Severity)
}

func TestWindowEndpoint(t *testing.T) {
	srv := newTestServer(&stubHub{snapshot: testSnapshot()}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/window")

	require.Equal(t, http.StatusOK, rec.Code)
	var window []domain.ChartPoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &window))
	require.Len(t, window, 1)
}

func TestRefreshEndpoint(t *testing.T) {
	t.Run("success returns the fresh snapshot", func(t *testing.T) {
		stub := &stubHub{snapshot: testSnapshot()}
		srv := newTestServer(stub, nil)

		rec := doRequest(t, srv, http.MethodPost, "/api/v1/refresh")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, stub.refreshed)
	})

	t.Run("fetch failure maps to bad gateway", func(t *testing.T) {
		stub := &stubHub{snapshot: testSnapshot(), refreshErr: errors.New("backend unreachable")}
		srv := newTestServer(stub, nil)

		rec := doRequest(t, srv, http.MethodPost, "/api/v1/refresh")

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, rec.Body.String(), "backend unreachable")
	})

	t.Run("get is rejected", func(t *testing.T) {
		srv := newTestServer(&stubHub{snapshot: testSnapshot()}, nil)
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/refresh")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHistoryEndpoint(t *testing.T) {
	t.Run("proxies the backend payload", func(t *testing.T) {
		history := &stubHistory{payload: []byte(`[{"aqi":80}]`)}
		srv := newTestServer(&stubHub{snapshot: testSnapshot()}, history)

		rec := doRequest(t, srv, http.MethodGet, "/api/v1/history?station_id=hanoi-01")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[{"aqi":80}]`, rec.Body.String())
	})

	t.Run("station_id is required", func(t *testing.T) {
		srv := newTestServer(&stubHub{snapshot: testSnapshot()}, &stubHistory{})
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/history")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad time bounds are rejected", func(t *testing.T) {
		srv := newTestServer(&stubHub{snapshot: testSnapshot()}, &stubHistory{})
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/history?station_id=s1&from=yesterday")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unconfigured history answers 503", func(t *testing.T) {
		srv := newTestServer(&stubHub{snapshot: testSnapshot()}, nil)
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/history?station_id=s1")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("backend failure maps to bad gateway", func(t *testing.T) {
		srv := newTestServer(&stubHub{snapshot: testSnapshot()}, &stubHistory{err: errors.New("upstream down")})
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/history?station_id=s1")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestStreamEndpoint(t *testing.T) {
	srv := newTestServer(&stubHub{snapshot: testSnapshot()}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: snapshot")
	assert.Contains(t, body, `"hanoi-01"`)
}

func TestMetricsEndpointRegistered(t *testing.T) {
	srv := newTestServer(&stubHub{snapshot: testSnapshot()}, nil)
	rec := doRequest(t, srv, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}
