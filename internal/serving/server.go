// Package serving is the HTTP front of effectd. Each request runs
// Received, Resolving, Decoding, Dispatching and Responded in turn.
package serving

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dyluth/effectd/internal/catalog"
	"github.com/dyluth/effectd/internal/logging"
	"github.com/dyluth/effectd/internal/resolver"
	"github.com/dyluth/effectd/pkg/knowledge"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var errUnknownGroup = errors.New("unknown group")

// Options configure a Server.
type Options struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DefaultGroup string // group served by POST /
	CacheHandles bool
	Now          func() time.Time // defaults to time.Now
}

// Server serves predictions over HTTP.
// It holds no per-request state and handles requests concurrently.
type Server struct {
	opts     Options
	catalog  *catalog.Catalog
	resolver *resolver.Resolver
	pinger   knowledge.Pinger
	cache    *HandleCache
	metrics  *Metrics
	registry *prometheus.Registry
	logger   *zap.Logger
	now      func() time.Time

	handler    http.Handler
	httpServer *http.Server
}

// New wires a server. pinger may be nil.
func New(opts Options, cat *catalog.Catalog, res *resolver.Resolver, pinger knowledge.Pinger, logger *zap.Logger) (*Server, error) {
	if cat == nil || res == nil {
		return nil, fmt.Errorf("catalog and resolver are required")
	}
	if opts.DefaultGroup != "" {
		if _, ok := cat.Registry(opts.DefaultGroup); !ok {
			return nil, fmt.Errorf("default group %q is not configured", opts.DefaultGroup)
		}
	}
	if logger == nil {
		logger = logging.NewTestLogger()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &Server{
		opts:     opts,
		catalog:  cat,
		resolver: res,
		pinger:   pinger,
		metrics:  NewMetrics(reg),
		registry: reg,
		logger:   logging.Component(logger, "serving"),
		now:      opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.CacheHandles {
		s.cache = NewHandleCache()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/effects/{group}/predict", s.handlePredict)
	mux.HandleFunc("POST /v1/effects/{group}/forecast", s.handleForecast)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if opts.DefaultGroup != "" {
		mux.HandleFunc("POST /{$}", s.handleDefaultPredict)
	}
	s.handler = mux

	return s, nil
}

// Handler returns the server's routes, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Cache returns the handle cache, or nil when caching is off.
func (s *Server) Cache() *HandleCache {
	return s.cache
}

// Start listens on the configured address in a background goroutine.
// The returned channel receives the listener's terminal error, if any.
func (s *Server) Start() <-chan error {
	s.httpServer = &http.Server{
		Addr:         s.opts.Address,
		Handler:      s.handler,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		s.logger.Info("Serving front starting", zap.String("address", s.opts.Address), logging.Event("server_start"))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		s.logger.Info("Serving front stopped", logging.Event("server_stop"))
	}()
	return errCh
}

// Shutdown waits for in-flight requests to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleDefaultPredict(w http.ResponseWriter, r *http.Request) {
	s.servePredict(w, r, s.opts.DefaultGroup)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	s.servePredict(w, r, r.PathValue("group"))
}

func (s *Server) servePredict(w http.ResponseWriter, r *http.Request, group string) {
	const endpoint = "predict"
	start := time.Now()

	req, err := ParsePredictRequest(r.Body)
	if err != nil {
		s.fail(w, endpoint, group, failure(http.StatusBadRequest, StageReceived, err), start)
		return
	}

	y, fail := s.predict(r.Context(), group, req)
	if fail != nil {
		s.fail(w, endpoint, group, fail, start)
		return
	}

	s.writeJSON(w, http.StatusOK, PredictResponse{Val: y})
	s.done(endpoint, group, start)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	const endpoint = "forecast"
	group := r.PathValue("group")
	start := time.Now()

	req, err := ParseForecastRequest(r.Body)
	if err != nil {
		s.fail(w, endpoint, group, failure(http.StatusBadRequest, StageReceived, err), start)
		return
	}

	out, fail := s.forecast(r.Context(), group, req)
	if fail != nil {
		s.fail(w, endpoint, group, fail, start)
		return
	}

	s.writeJSON(w, http.StatusOK, out)
	s.done(endpoint, group, start)
}

func (s *Server) fail(w http.ResponseWriter, endpoint, group string, f *Failure, start time.Time) {
	elapsed := time.Since(start)
	s.writeFailure(w, f)
	s.logFailure(endpoint, group, f, elapsed)
	s.metrics.observe(s.metricGroup(group), endpoint, strconv.Itoa(f.Status), string(f.Actual), elapsed.Seconds())
}

func (s *Server) done(endpoint, group string, start time.Time) {
	elapsed := time.Since(start)
	s.logger.Debug("Request served",
		zap.String("endpoint", endpoint),
		zap.String("group", group),
		zap.String("stage", string(StageResponded)),
		zap.Duration("elapsed", elapsed))
	s.metrics.observe(group, endpoint, strconv.Itoa(http.StatusOK), string(StageResponded), elapsed.Seconds())
}

// metricGroup keeps label cardinality bounded to configured groups.
func (s *Server) metricGroup(group string) string {
	if _, ok := s.catalog.Registry(group); ok {
		return group
	}
	return "unknown"
}
