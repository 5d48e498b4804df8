// Package http provides the HTTP server for the transcription API.
package http

import (
	"context"
	"embed"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
	"github.com/roelfdiedericks/goscribe/internal/metrics"
	"github.com/roelfdiedericks/goscribe/internal/transcribe"
	"github.com/rs/cors"
)

//go:embed html/index.html
var htmlFS embed.FS

// Transcriber is the part of transcribe.Service the handlers use.
type Transcriber interface {
	Loaded() bool
	Transcribe(ctx context.Context, data []byte) (*transcribe.Output, error)
	ProviderName() string
	ConverterMode() string
	Active() int64
	MaxUploadBytes() int64
}

// Server represents the HTTP server
type Server struct {
	server       *http.Server
	svc          Transcriber
	rateLimiter  *RateLimiter
	trusted      []netip.Prefix
	metrics      *metrics.MetricsManager
	indexHTML    []byte
	started      time.Time
	shutdownChan chan struct{}
	wg           sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	model    string
}

// NewServer creates a new HTTP server instance
func NewServer(cfg HTTPConfig, svc Transcriber) (*Server, error) {
	listen := cfg.Listen
	if listen == "" {
		listen = DefaultListen
	}
	if err := ValidateListen(listen); err != nil {
		return nil, err
	}

	trusted, err := ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return nil, err
	}

	index, err := htmlFS.ReadFile("html/index.html")
	if err != nil {
		return nil, err
	}

	s := &Server{
		svc:          svc,
		rateLimiter:  NewRateLimiter(cfg.RateLimit.Requests, time.Duration(cfg.RateLimit.Window)*time.Second),
		trusted:      trusted,
		metrics:      metrics.GetInstance(),
		indexHTML:    index,
		started:      time.Now(),
		shutdownChan: make(chan struct{}),
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-ID"},
	})

	s.server = &http.Server{
		Addr:              listen,
		Handler:           c.Handler(s.setupRoutes()),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute, // large uploads on slow links
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	L_debug("http: server configured", "listen", listen, "origins", strings.Join(origins, ","), "rateLimit", cfg.RateLimit.Requests)
	return s, nil
}

// SetMetrics replaces the metrics manager (tests use a private one).
func (s *Server) SetMetrics(m *metrics.MetricsManager) {
	s.metrics = m
}

// SetModel records the model name reported by /api/status.
func (s *Server) SetModel(name string) {
	s.mu.Lock()
	s.model = name
	s.mu.Unlock()
}

// Model returns the model name set with SetModel.
func (s *Server) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Apply middleware chain: logging -> strip headers -> request id
	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return s.logRequest(s.stripHeaders(s.requestID(h)))
	}

	mux.HandleFunc("POST /api/transcribe", wrap(s.rateLimit(s.handleTranscribe)))
	mux.HandleFunc("GET /api/status", wrap(s.handleStatus))
	mux.HandleFunc("GET /api/metrics", wrap(s.handleMetrics))
	mux.HandleFunc("GET /healthz", wrap(s.handleHealth))
	mux.HandleFunc("GET /{$}", wrap(s.handleIndex))

	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		L_info("http: server starting", "addr", ln.Addr().String())

		err := s.server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			L_error("http: server error", "error", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.rateLimiter.Prune()
			case <-s.shutdownChan:
				return
			}
		}
	}()

	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	close(s.shutdownChan)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		L_error("http: shutdown error", "error", err)
		return err
	}

	s.wg.Wait()
	L_info("http: server stopped")
	return nil
}

// logRequest wraps an HTTP handler to log requests
func (s *Server) logRequest(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(lw, r)

		s.metrics.IncrementCounter("http", r.URL.Path)
		L_trace("http: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.statusCode,
			"id", w.Header().Get("X-Request-ID"),
			"duration", time.Since(start))
	}
}

// loggingResponseWriter wraps ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}

// stripHeaders removes fingerprinting headers
func (s *Server) stripHeaders(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Del("Server")
		w.Header().Del("X-Powered-By")

		handler(w, r)
	}
}

type contextKey string

const requestIDKey contextKey = "requestID"

// requestID tags each request with an ID, honoring one supplied by a proxy.
func (s *Server) requestID(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 64 {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		handler(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	}
}

// requestIDFrom returns the request ID stored by the requestID middleware.
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// rateLimit rejects clients exceeding the configured request rate
func (s *Server) rateLimit(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, s.trusted)
		if !s.rateLimiter.Allow(ip) {
			L_warn("http: rate limited", "ip", ip)
			writeError(w, http.StatusTooManyRequests, "Too many requests. Try again later.")
			return
		}
		handler(w, r)
	}
}

// clientIP returns the address the rate limit is keyed on. Forwarding headers
// are only believed when the direct peer is a trusted proxy; X-Forwarded-For
// is then walked right to left past any further trusted hops.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !isTrusted(host, trusted) {
		return host
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !isTrusted(hop, trusted) || i == 0 {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return host
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
