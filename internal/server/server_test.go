package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/isochrone-cli/internal/isochrone"
	"github.com/sells-group/isochrone-cli/internal/network"
)

type fakeComputer struct {
	mu   sync.Mutex
	reqs []isochrone.Request
	res  *isochrone.Result
	err  error
	wait bool
}

func (f *fakeComputer) Compute(ctx context.Context, req isochrone.Request) (*isochrone.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.wait {
		<-ctx.Done()
		return nil, eris.Wrap(ctx.Err(), "isochrone: compute")
	}
	return f.res, f.err
}

type fakeCache struct{ stats network.CacheStats }

func (f fakeCache) Stats() network.CacheStats { return f.stats }

func sampleResult() *isochrone.Result {
	five := 5.0
	edges := &network.Table{Edges: []network.Edge{
		{ID: "e1", Geometry: geom.NewLineStringFlat(geom.XY, []float64{0, 0, 0.001, 0.001})},
	}}
	return &isochrone.Result{
		Source: geom.Coord{0, 0},
		Rings: []isochrone.Ring{{
			Budget:   5,
			Distance: 250,
			Geometry: geom.NewPolygonFlat(geom.XY, []float64{-1, -1, 1, -1, 1, 1, -1, -1}, []int{8}),
		}},
		Network: isochrone.TaggedNetwork{Edges: edges, Labels: []*float64{&five}},
	}
}

func newTestServer(t *testing.T, calc Computer, opts ...Option) (*Server, *Metrics) {
	t.Helper()
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	opts = append([]Option{WithMetrics(m)}, opts...)
	return New(calc, Defaults{SpeedKMH: 3, Mode: network.Pedestrian}, opts...), m
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &fakeComputer{})
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestPostIsochrones(t *testing.T) {
	calc := &fakeComputer{res: sampleResult()}
	s, m := newTestServer(t, calc)

	body := `{"lng": -73.98, "lat": 40.75, "budgets": [5, 10], "mode": "vehicle"}`
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/isochrones", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/geo+json", w.Header().Get("Content-Type"))

	require.Len(t, calc.reqs, 1)
	got := calc.reqs[0]
	assert.Equal(t, geom.Coord{-73.98, 40.75}, got.Source)
	assert.Equal(t, []float64{5, 10}, got.Budgets)
	assert.InDelta(t, 3.0, got.SpeedKMH, 1e-9, "default speed applies")
	assert.Equal(t, network.Vehicle, got.Mode)

	var fc struct {
		Features []json.RawMessage `json:"features"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	assert.Len(t, fc.Features, 3)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Requests.WithLabelValues(outcomeOK)), 0)
}

func TestGetIsochrones(t *testing.T) {
	calc := &fakeComputer{res: sampleResult()}
	s, _ := newTestServer(t, calc)

	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/isochrones?lng=2.35&lat=48.85&budgets=5,%2010,15&speed_kmh=4.5&labeled_only=true", nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, calc.reqs, 1)
	assert.Equal(t, []float64{5, 10, 15}, calc.reqs[0].Budgets)
	assert.InDelta(t, 4.5, calc.reqs[0].SpeedKMH, 1e-9)
	assert.Equal(t, network.Pedestrian, calc.reqs[0].Mode)
}

func TestIsochrones_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"malformed json", http.MethodPost, "/isochrones", `{"lng":`},
		{"unknown field", http.MethodPost, "/isochrones", `{"lng":0,"lat":0,"budgets":[5],"minutes":5}`},
		{"no budgets", http.MethodPost, "/isochrones", `{"lng":0,"lat":0}`},
		{"negative budget", http.MethodPost, "/isochrones", `{"lng":0,"lat":0,"budgets":[-5]}`},
		{"latitude out of range", http.MethodPost, "/isochrones", `{"lng":0,"lat":95,"budgets":[5]}`},
		{"bad mode", http.MethodPost, "/isochrones", `{"lng":0,"lat":0,"budgets":[5],"mode":"bicycle"}`},
		{"missing coordinates", http.MethodPost, "/isochrones", `{"budgets":[5]}`},
		{"missing lng", http.MethodPost, "/isochrones", `{"lat":40.75,"budgets":[5]}`},
		{"missing lat", http.MethodGet, "/isochrones?lng=1&budgets=5", ""},
		{"bad labeled_only", http.MethodGet, "/isochrones?lng=1&lat=1&budgets=5&labeled_only=maybe", ""},
		{"bad budget", http.MethodGet, "/isochrones?lng=1&lat=1&budgets=five", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc := &fakeComputer{res: sampleResult()}
			s, _ := newTestServer(t, calc)

			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			w := httptest.NewRecorder()
			s.Routes().ServeHTTP(w, httptest.NewRequest(tt.method, tt.target, body))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, calc.reqs)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, isochrone.KindInvalidParameter, resp["kind"])
			assert.NotEmpty(t, resp["request_id"])
		})
	}
}

func TestPostIsochrones_ZeroCoordinates(t *testing.T) {
	calc := &fakeComputer{res: sampleResult()}
	s, _ := newTestServer(t, calc)

	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/isochrones", strings.NewReader(`{"lng":0,"lat":0,"budgets":[5]}`)))

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, calc.reqs, 1)
	assert.Equal(t, geom.Coord{0, 0}, calc.reqs[0].Source)
}

func TestIsochrones_ErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{eris.Wrap(isochrone.ErrSourceNotFound, "x"), http.StatusNotFound, isochrone.KindSourceNotFound},
		{eris.Wrap(isochrone.ErrInsufficientReachablePoints, "x"), http.StatusUnprocessableEntity, isochrone.KindInsufficientPoints},
		{eris.Wrap(isochrone.ErrReprojection, "x"), http.StatusUnprocessableEntity, isochrone.KindReprojection},
		{eris.Wrap(isochrone.ErrNonNestedHulls, "x"), http.StatusUnprocessableEntity, isochrone.KindNonNestedHulls},
		{eris.New("database down"), http.StatusInternalServerError, isochrone.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			s, m := newTestServer(t, &fakeComputer{err: tt.err})
			w := httptest.NewRecorder()
			s.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/isochrones",
				strings.NewReader(`{"lng":0,"lat":0,"budgets":[5]}`)))

			assert.Equal(t, tt.status, w.Code)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.kind, resp["kind"])
			assert.InDelta(t, 1, testutil.ToFloat64(m.Requests.WithLabelValues(tt.kind)), 0)
		})
	}
}

func TestIsochrones_Timeout(t *testing.T) {
	s, _ := newTestServer(t, &fakeComputer{wait: true}, WithTimeout(20*time.Millisecond))
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/isochrones",
		strings.NewReader(`{"lng":0,"lat":0,"budgets":[5]}`)))

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestRequestID_Propagated(t *testing.T) {
	s, _ := newTestServer(t, &fakeComputer{})
	id := "3f1e0a52-8f34-4b8e-9a55-2b8d6a0c7d11"

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, id)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)
	assert.Equal(t, id, w.Header().Get(requestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "not-a-uuid")
	w = httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)
	assert.NotEqual(t, "not-a-uuid", w.Header().Get(requestIDHeader))
}

func TestCacheStats(t *testing.T) {
	s, m := newTestServer(t, &fakeComputer{res: sampleResult()},
		WithCache(fakeCache{stats: network.CacheStats{Entries: 2, MaxEntries: 8, Hits: 3, Misses: 1, HitRate: 0.75}}))
	h := s.Routes()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cache/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"hit_rate":0.75`)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/isochrones", strings.NewReader(`{"lng":0,"lat":0,"budgets":[5]}`)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 0.75, testutil.ToFloat64(m.CacheHitRatio), 1e-9)
}

func TestCacheStats_Disabled(t *testing.T) {
	s, _ := newTestServer(t, &fakeComputer{})
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cache/stats", nil))
	assert.JSONEq(t, `{"enabled":false}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &fakeComputer{res: sampleResult()})
	h := s.Routes()

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/isochrones",
		strings.NewReader(`{"lng":0,"lat":0,"budgets":[5]}`)))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `isochrone_requests_total{outcome="ok"} 1`)
	assert.Contains(t, w.Body.String(), "isochrone_compute_duration_seconds_count 1")
}

func TestNewMetrics_ReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewMetrics(reg)
	require.NoError(t, err)
	b, err := NewMetrics(reg)
	require.NoError(t, err)

	a.ObserveRequest(outcomeOK, time.Millisecond, 3)
	assert.InDelta(t, 1, testutil.ToFloat64(b.Requests.WithLabelValues(outcomeOK)), 0)
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, &fakeComputer{}, WithCORSOrigins([]string{"https://maps.example.com"}))
	req := httptest.NewRequest(http.MethodOptions, "/isochrones", nil)
	req.Header.Set("Origin", "https://maps.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	assert.Equal(t, "https://maps.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}
