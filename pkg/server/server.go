// Package server exposes a Manager over HTTP.
//
// Routes:
//
//	POST /v1/resolve   resolve a manifest-style library list
//	GET  /v1/cache     list cached artifacts
//	GET  /healthz      liveness
//	GET  /metrics      Prometheus metrics
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/libbyhq/libby/pkg/buildinfo"
	"github.com/libbyhq/libby/pkg/config"
	"github.com/libbyhq/libby/pkg/errors"
	"github.com/libbyhq/libby/pkg/library"
	"github.com/libbyhq/libby/pkg/manager"
	"github.com/libbyhq/libby/pkg/repository"
)

const (
	maxBody         = 1 << 20
	shutdownTimeout = 10 * time.Second
	requestIDHeader = "X-Request-Id"
)

// Options configures a Server.
type Options struct {
	Manager *manager.Manager
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	// Timeout bounds one resolve request (default 5m).
	Timeout time.Duration
	// AllowLocal accepts file:// and filesystem repositories and direct
	// URLs in requests. Off, such requests are rejected so callers cannot
	// read files of the host.
	AllowLocal bool
	Logger     *log.Logger
}

// Server is the HTTP front end.
type Server struct {
	m          *manager.Manager
	router     chi.Router
	timeout    time.Duration
	allowLocal bool
	logger     *log.Logger
}

// New builds the router.
func New(opts Options) (*Server, error) {
	if opts.Manager == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "server: manager is required")
	}
	s := &Server{m: opts.Manager, timeout: opts.Timeout, allowLocal: opts.AllowLocal, logger: opts.Logger}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Minute
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(requestID, s.logRequests, middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Route("/v1", func(r chi.Router) {
		r.Post("/resolve", s.handleResolve)
		r.Get("/cache", s.handleCache)
	})
	s.router = r
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"id", w.Header().Get(requestIDHeader),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": buildinfo.Version})
}

// ResolveResponse is the body of POST /v1/resolve.
type ResolveResponse struct {
	ID      string   `json:"id"`
	Results []Result `json:"results"`
}

// Result is the outcome for one requested library.
type Result struct {
	Coordinate string     `json:"coordinate"`
	Artifacts  []Artifact `json:"artifacts,omitempty"`
	Error      *Error     `json:"error,omitempty"`
}

// Artifact is one resolved file.
type Artifact struct {
	Coordinate string `json:"coordinate"`
	Path       string `json:"path"`
	Checksum   string `json:"checksum"`
	CacheHit   bool   `json:"cache_hit"`
	Isolated   bool   `json:"isolated,omitempty"`
	LoaderID   string `json:"loader_id,omitempty"`
}

// Error is the wire form of a failure.
type Error struct {
	Code       string `json:"code"`
	Stage      string `json:"stage,omitempty"`
	Repository string `json:"repository,omitempty"`
	Message    string `json:"message"`
}

func toError(err error) *Error {
	out := &Error{Code: string(errors.GetCode(err)), Message: errors.UserMessage(err)}
	if out.Code == "" {
		out.Code = string(errors.ErrCodeInternal)
	}
	if e := errors.Context(err); e != nil {
		out.Stage = string(e.Stage)
		out.Repository = e.Repository
	}
	return out
}

// rejectLocal fails when a request names a local repository or file.
func rejectLocal(cfg *config.Config) error {
	for _, u := range cfg.Repositories {
		if repository.IsLocal(u) {
			return errors.New(errors.ErrCodeInvalidInput, "local repository %q is not allowed", u)
		}
	}
	for _, d := range cfg.Libraries {
		for _, u := range append(d.Repositories(), d.URLs()...) {
			if repository.IsLocal(u) {
				return errors.New(errors.ErrCodeInvalidInput, "%s: local repository %q is not allowed", d, u)
			}
		}
	}
	return nil
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var f config.File
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(errors.ErrCodeInvalidInput, err, "malformed request"))
		return
	}
	cfg, err := f.Build()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(cfg.Libraries) == 0 {
		writeError(w, http.StatusBadRequest, errors.New(errors.ErrCodeInvalidInput, "no libraries requested"))
		return
	}

	if !s.allowLocal {
		if err := rejectLocal(cfg); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	ds := cfg.Libraries
	if len(cfg.Repositories) > 0 {
		// Request-level repositories apply to every library after its own.
		for i, d := range ds {
			b := library.From(d).Repository(cfg.Repositories...)
			if ds[i], err = b.Build(); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	outcomes := s.m.ResolveAll(ctx, ds)

	resp := ResolveResponse{ID: w.Header().Get(requestIDHeader), Results: make([]Result, len(outcomes))}
	for i, o := range outcomes {
		res := Result{Coordinate: o.Descriptor.String()}
		if o.Err != nil {
			res.Error = toError(o.Err)
			s.logger.Warn("resolve failed", "id", resp.ID, "coordinate", res.Coordinate, "err", o.Err)
		}
		for _, a := range o.Artifacts {
			res.Artifacts = append(res.Artifacts, Artifact{
				Coordinate: a.Descriptor.String(),
				Path:       a.Path,
				Checksum:   a.Checksum.String(),
				CacheHit:   a.CacheHit,
				Isolated:   a.Isolated,
				LoaderID:   a.LoaderID,
			})
		}
		resp.Results[i] = res
	}
	writeJSON(w, http.StatusOK, resp)
}

// CacheResponse is the body of GET /v1/cache.
type CacheResponse struct {
	Entries []CacheEntry `json:"entries"`
	Corrupt []string     `json:"corrupt,omitempty"`
}

// CacheEntry is one cached artifact.
type CacheEntry struct {
	Key        string    `json:"key"`
	Coordinate string    `json:"coordinate"`
	Path       string    `json:"path"`
	Checksum   string    `json:"checksum"`
	Repository string    `json:"repository,omitempty"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Server) handleCache(w http.ResponseWriter, _ *http.Request) {
	entries, corrupt, err := s.m.Store().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := CacheResponse{Entries: make([]CacheEntry, 0, len(entries)), Corrupt: corrupt}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, CacheEntry{
			Key:        e.Key,
			Coordinate: e.Coordinate,
			Path:       e.Path,
			Checksum:   e.Checksum.String(),
			Repository: e.Repository,
			Size:       e.Size,
			CreatedAt:  e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]*Error{"error": toError(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
