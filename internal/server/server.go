// Package server exposes isochrone computation over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/isochrone-cli/internal/export"
	"github.com/sells-group/isochrone-cli/internal/isochrone"
	"github.com/sells-group/isochrone-cli/internal/network"
)

const (
	outcomeOK       = "ok"
	outcomeTimeout  = "timeout"
	requestIDHeader = "X-Request-ID"
	maxBodyBytes    = 1 << 20
)

// Computer computes one isochrone request.
type Computer interface {
	Compute(ctx context.Context, req isochrone.Request) (*isochrone.Result, error)
}

// CacheStatser reports network cache statistics.
type CacheStatser interface {
	Stats() network.CacheStats
}

// Defaults fill request fields the client leaves out.
type Defaults struct {
	SpeedKMH float64
	Mode     network.Mode
}

// IsochroneRequest is the JSON body of POST /isochrones.
type IsochroneRequest struct {
	Lng         *float64  `json:"lng" validate:"required,gte=-180,lte=180"`
	Lat         *float64  `json:"lat" validate:"required,gte=-90,lte=90"`
	Budgets     []float64 `json:"budgets" validate:"required,min=1,max=32,dive,gt=0"`
	SpeedKMH    float64   `json:"speed_kmh" validate:"omitempty,gt=0"`
	Mode        string    `json:"mode" validate:"omitempty,oneof=pedestrian vehicle"`
	LabeledOnly bool      `json:"labeled_only"`
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records request metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithCache exposes cache statistics at /cache/stats and in metrics.
func WithCache(c CacheStatser) Option {
	return func(s *Server) { s.cache = c }
}

// WithTimeout bounds each request. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// WithCORSOrigins sets the allowed CORS origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// Server handles isochrone HTTP requests.
type Server struct {
	calc     Computer
	defaults Defaults
	metrics  *Metrics
	cache    CacheStatser
	timeout  time.Duration
	origins  []string
	validate *validator.Validate
}

// New creates a Server backed by calc.
func New(calc Computer, defaults Defaults, opts ...Option) *Server {
	s := &Server{
		calc:     calc,
		defaults: defaults,
		origins:  []string{"*"},
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Get("/cache/stats", s.handleCacheStats)

	r.Post("/isochrones", s.handlePost)
	r.Get("/isochrones", s.handleGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	if s.cache == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	var req IsochroneRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.fail(w, r, eris.Wrapf(isochrone.ErrInvalidParameter, "invalid request body: %v", err))
		return
	}
	s.serve(w, r, req)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	req, err := parseQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.serve(w, r, req)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, req IsochroneRequest) {
	if err := s.validate.Struct(req); err != nil {
		s.fail(w, r, eris.Wrapf(isochrone.ErrInvalidParameter, "%v", err))
		return
	}

	mode := s.defaults.Mode
	if req.Mode != "" {
		mode = network.Mode(req.Mode)
	}
	speed := s.defaults.SpeedKMH
	if req.SpeedKMH > 0 {
		speed = req.SpeedKMH
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.calc.Compute(ctx, isochrone.Request{
		Source:   geom.Coord{*req.Lng, *req.Lat},
		Budgets:  req.Budgets,
		SpeedKMH: speed,
		Mode:     mode,
	})
	s.refreshCacheRatio()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.metrics.ObserveRequest(outcomeOK, time.Since(start), len(res.Network.Labeled()))

	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	if err := export.Write(w, export.FeatureCollection(res, req.LabeledOnly)); err != nil {
		logger(r).Warn("server: write response", zap.Error(err))
	}
}

func (s *Server) refreshCacheRatio() {
	if s.cache != nil {
		s.metrics.SetCacheHitRatio(s.cache.Stats().HitRate)
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := isochrone.Kind(err)
	status := statusFor(kind)
	if errors.Is(err, context.DeadlineExceeded) {
		kind, status = outcomeTimeout, http.StatusGatewayTimeout
	}
	s.metrics.ObserveRequest(kind, 0, 0)

	log := logger(r)
	if status >= http.StatusInternalServerError {
		log.Error("server: isochrone failed", zap.String("kind", kind), zap.Error(err))
	} else {
		log.Info("server: isochrone rejected", zap.String("kind", kind), zap.Error(err))
	}

	writeJSON(w, status, map[string]string{
		"error":      err.Error(),
		"kind":       kind,
		"request_id": w.Header().Get(requestIDHeader),
	})
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(kind string) int {
	switch kind {
	case isochrone.KindInvalidParameter:
		return http.StatusBadRequest
	case isochrone.KindSourceNotFound:
		return http.StatusNotFound
	case isochrone.KindReprojection, isochrone.KindInsufficientPoints, isochrone.KindNonNestedHulls:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func parseQuery(r *http.Request) (IsochroneRequest, error) {
	q := r.URL.Query()
	var req IsochroneRequest

	lng, err := parseFloat(q.Get("lng"), "lng", true)
	if err != nil {
		return req, err
	}
	lat, err := parseFloat(q.Get("lat"), "lat", true)
	if err != nil {
		return req, err
	}
	req.Lng, req.Lat = &lng, &lat
	if req.SpeedKMH, err = parseFloat(q.Get("speed_kmh"), "speed_kmh", false); err != nil {
		return req, err
	}
	for _, part := range strings.Split(q.Get("budgets"), ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		b, err := parseFloat(part, "budgets", true)
		if err != nil {
			return req, err
		}
		req.Budgets = append(req.Budgets, b)
	}
	req.Mode = q.Get("mode")
	if s := q.Get("labeled_only"); s != "" {
		if req.LabeledOnly, err = strconv.ParseBool(s); err != nil {
			return req, eris.Wrapf(isochrone.ErrInvalidParameter, "invalid labeled_only %q", s)
		}
	}
	return req, nil
}

func parseFloat(s, name string, required bool) (float64, error) {
	if s == "" {
		if required {
			return 0, eris.Wrapf(isochrone.ErrInvalidParameter, "%s is required", name)
		}
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(isochrone.ErrInvalidParameter, "invalid %s %q", name, s)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type loggerKey struct{}

// requestID tags each request with an id, echoed in X-Request-ID and
// attached to the request logger.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		log := zap.L().With(zap.String("request_id", id), zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), loggerKey{}, log)))
	})
}

func logger(r *http.Request) *zap.Logger {
	if l, ok := r.Context().Value(loggerKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.L()
}
