package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/toricodesthings/document-ingestion-service/internal/backend"
	"github.com/toricodesthings/document-ingestion-service/internal/config"
	"github.com/toricodesthings/document-ingestion-service/internal/extract"
	"github.com/toricodesthings/document-ingestion-service/internal/extractors"
	"github.com/toricodesthings/document-ingestion-service/internal/ingest"
	"github.com/toricodesthings/document-ingestion-service/internal/logging"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const version = "1.0.0"

var (
	cfg    config.Config
	logger *slog.Logger

	requestSem *semaphore.Weighted
	extractRt  *extract.Router
	sessions   *ingest.Store

	// Per-IP rate limiters
	limiters = &sync.Map{}

	metrics = &serverMetrics{}
)

type serverMetrics struct {
	mu            sync.RWMutex
	totalRequests int64
	activeReqs    int64
	extractions   map[string]int64
	extractBytes  int64
}

func (m *serverMetrics) incActive() {
	m.mu.Lock()
	m.activeReqs++
	m.totalRequests++
	m.mu.Unlock()
}
func (m *serverMetrics) decActive() {
	m.mu.Lock()
	m.activeReqs--
	m.mu.Unlock()
}
func (m *serverMetrics) get() (total, active int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalRequests, m.activeReqs
}

func (m *serverMetrics) recordExtraction(kind extract.Kind, size int64, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.extractions == nil {
		m.extractions = make(map[string]int64)
	}
	m.extractions[kind.String()]++
	m.extractBytes += size
}

func (m *serverMetrics) extractionStats() (map[string]int64, int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64, len(m.extractions))
	for k, v := range m.extractions {
		out[k] = v
	}
	return out, m.extractBytes
}

func main() {
	c, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := c.Validate(); err != nil {
		panic(err)
	}

	l := logging.New(c.LogLevel, c.LogFormat, os.Stderr)
	slog.SetDefault(l)

	handler := setup(c, l)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go cleanupLoop(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("docingest listening",
		"addr", srv.Addr,
		"backend", cfg.BackendURL,
		"maxConcurrent", cfg.MaxConcurrentRequests,
		"pdfRenderer", cfg.PDFRenderer,
		"docxConverter", cfg.DocxConverter)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic(err)
	}
}

// setup initializes package state from c and returns the root handler.
func setup(c config.Config, l *slog.Logger) http.Handler {
	cfg = c
	if l == nil {
		l = slog.Default()
	}
	logger = l
	if cfg.MaxHeaderBytes <= 0 {
		cfg.MaxHeaderBytes = 1 << 20
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = 15
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = 64 << 20
	}
	if cfg.MaxMultipartMemory <= 0 {
		cfg.MaxMultipartMemory = 32 << 20
	}
	if cfg.PreviewTimeout <= 0 {
		cfg.PreviewTimeout = 60 * time.Second
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = 5 * time.Minute
	}

	requestSem = semaphore.NewWeighted(cfg.MaxConcurrentRequests)
	limiters = &sync.Map{}
	metrics = &serverMetrics{}

	extractRt = extract.NewRouter(extractors.NewRegistry(cfg, logger), logger)
	extractRt.SetSuccessHook(metrics.recordExtraction)

	client := backend.NewClient(backend.Options{
		BaseURL:   cfg.BackendURL,
		Timeout:   cfg.BackendTimeout,
		RateEvery: cfg.BackendRateEvery,
		RateBurst: cfg.BackendRateBurst,
	})
	transport := backend.NewTransport(client, "")

	sessions = ingest.NewStore(cfg.MaxSessions, func(id string) *ingest.Session {
		return ingest.NewSession(id, ingest.Options{
			Extractor:          extractRt,
			Transport:          transport,
			Logger:             logger,
			MaxExtractWorkers:  cfg.MaxExtractWorkers,
			MaxTransferWorkers: cfg.MaxTransferWorkers,
			ProgressTick:       cfg.ProgressTick,
			ProgressStep:       cfg.ProgressStep,
		})
	})

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /metrics", withInternalAuth(handleMetrics))

	// Stateless classify + extract of a single file
	mux.HandleFunc("POST /preview", guarded(handlePreview))

	mux.HandleFunc("POST /sessions", guarded(handleCreateSession))
	mux.HandleFunc("GET /sessions/{id}", guarded(handleGetSession))
	mux.HandleFunc("DELETE /sessions/{id}", guarded(handleDeleteSession))
	mux.HandleFunc("POST /sessions/{id}/files", guarded(handleAddFiles))
	mux.HandleFunc("DELETE /sessions/{id}/files/{name}", guarded(handleRemoveFile))
	mux.HandleFunc("POST /sessions/{id}/reset", guarded(handleReset))
	mux.HandleFunc("POST /sessions/{id}/transfer", guarded(handleTransfer))

	return withLogging(withRecovery(mux))
}

func guarded(h http.HandlerFunc) http.HandlerFunc {
	return withInternalAuth(withRateLimit(withConcurrencyLimit(h)))
}

func cleanupLoop(ctx context.Context) {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		swept := sessions.Sweep(cfg.SessionIdleTTL)

		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		total, active := metrics.get()
		logger.Info("stats",
			"active", active,
			"total", total,
			"sessions", sessions.Len(),
			"swept", swept,
			"goroutines", runtime.NumGoroutine(),
			"memMB", m.Alloc/(1<<20))

		limiters = &sync.Map{}
	}
}

// ---------- Handlers ----------

func handleHealth(w http.ResponseWriter, r *http.Request) {
	_, active := metrics.get()
	status := "healthy"
	code := http.StatusOK

	ratio := cfg.HealthDegradeRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.9
	}

	if active >= int64(float64(cfg.MaxConcurrentRequests)*ratio) {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"active":  active,
		"version": version,
	})
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	total, active := metrics.get()
	byKind, bytes := metrics.extractionStats()

	writeJSON(w, http.StatusOK, map[string]any{
		"activeRequests": active,
		"totalRequests":  total,
		"sessions":       sessions.Len(),
		"extractions":    byKind,
		"extractedBytes": bytes,
		"goroutines":     runtime.NumGoroutine(),
		"memAllocMB":     m.Alloc / (1 << 20),
		"memSysMB":       m.Sys / (1 << 20),
	})
}

func handlePreview(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(w, r); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	fhs := r.MultipartForm.File["file"]
	if len(fhs) != 1 {
		writeErr(w, http.StatusBadRequest, "validation_failed", "exactly one file field required")
		return
	}
	fh := fhs[0]

	outcome := extract.Classify(fh.Filename, fh.Size)
	if !outcome.Accepted() {
		msg := outcome.Err.Error()
		writeJSON(w, http.StatusBadRequest, extract.Result{Success: false, FileType: outcome.Kind.String(), Error: &msg})
		return
	}

	content, err := readPart(fh)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), cfg.PreviewTimeout)
	defer cancel()

	res, err := extractRt.ExtractKind(ctx, outcome.Kind, fh.Filename, content)
	if err != nil {
		msg := sanitizeError(err)
		res.Error = &msg
		writeJSON(w, http.StatusBadRequest, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func handleCreateSession(w http.ResponseWriter, r *http.Request) {
	s, err := sessions.Create()
	if err != nil {
		writeErr(w, http.StatusServiceUnavailable, "capacity", sanitizeError(err))
		return
	}
	logger.InfoContext(logging.WithSession(r.Context(), s.ID()), "session created")
	writeJSON(w, http.StatusCreated, map[string]any{"id": s.ID()})
}

func handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !sessions.Delete(r.PathValue("id")) {
		writeErr(w, http.StatusNotFound, "not_found", "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func handleAddFiles(w http.ResponseWriter, r *http.Request) {
	s, ok := lookupSession(w, r)
	if !ok {
		return
	}
	if err := parseMultipart(w, r); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	fhs := r.MultipartForm.File["files"]
	if len(fhs) == 0 {
		writeErr(w, http.StatusBadRequest, "validation_failed", "at least one files field required")
		return
	}

	// Multipart temp files are removed when the handler returns, so accepted
	// files are read now and extraction works from memory.
	candidates := make([]ingest.Candidate, 0, len(fhs))
	for _, fh := range fhs {
		if !extract.Classify(fh.Filename, fh.Size).Accepted() {
			candidates = append(candidates, ingest.Candidate{Name: fh.Filename, Size: fh.Size})
			continue
		}
		content, err := readPart(fh)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
			return
		}
		c := ingest.BytesCandidate(fh.Filename, content)
		candidates = append(candidates, c)
	}

	if err := s.AddFiles(r.Context(), candidates); err != nil {
		writeErr(w, http.StatusGone, "session_closed", sanitizeError(err))
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func handleRemoveFile(w http.ResponseWriter, r *http.Request) {
	s, ok := lookupSession(w, r)
	if !ok {
		return
	}
	s.RemoveFile(r.PathValue("name"))
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func handleReset(w http.ResponseWriter, r *http.Request) {
	s, ok := lookupSession(w, r)
	if !ok {
		return
	}
	s.Reset()
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func handleTransfer(w http.ResponseWriter, r *http.Request) {
	s, ok := lookupSession(w, r)
	if !ok {
		return
	}
	token := strings.TrimSpace(r.Header.Get("X-Backend-Token"))
	if token == "" {
		writeErr(w, http.StatusBadRequest, "validation_failed", "X-Backend-Token required")
		return
	}

	ctx, cancel := context.WithTimeout(backend.WithToken(r.Context(), token), cfg.TransferTimeout)
	defer cancel()

	summary, err := s.BeginTransfer(ctx)
	switch {
	case errors.Is(err, ingest.ErrTransferInProgress):
		writeErr(w, http.StatusConflict, "transfer_in_progress", sanitizeError(err))
	case errors.Is(err, ingest.ErrSessionClosed):
		writeErr(w, http.StatusGone, "session_closed", sanitizeError(err))
	case err != nil:
		writeErr(w, http.StatusInternalServerError, "transfer_failed", sanitizeError(err))
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}

func lookupSession(w http.ResponseWriter, r *http.Request) (*ingest.Session, bool) {
	s, ok := sessions.Get(r.PathValue("id"))
	if !ok {
		writeErr(w, http.StatusNotFound, "not_found", "Session not found")
	}
	return s, ok
}

// ---------- Middleware ----------

func withInternalAuth(next http.HandlerFunc) http.HandlerFunc {
	shared := cfg.InternalSharedSecret
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Internal-Auth")
		if subtle.ConstantTimeCompare([]byte(got), []byte(shared)) != 1 {
			writeErr(w, http.StatusUnauthorized, "unauthorized", "Invalid authentication")
			return
		}
		next(w, r)
	}
}

func withConcurrencyLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requestSem.Acquire(r.Context(), 1); err != nil {
			writeErr(w, http.StatusServiceUnavailable, "capacity", "Service at capacity")
			return
		}
		defer requestSem.Release(1)

		metrics.incActive()
		defer metrics.decActive()

		next(w, r)
	}
}

func withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		limiter := getRateLimiter(ip)

		if !limiter.Allow() {
			w.Header().Set("Retry-After", "60")
			writeErr(w, http.StatusTooManyRequests, "rate_limit", "Rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.ErrorContext(r.Context(), "panic", "error", err, "path", sanitizeLogString(r.URL.Path))
				writeErr(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &wrapWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", sanitizeLogString(r.URL.Path),
			"status", ww.status,
			"elapsed", time.Since(start))
	})
}

type wrapWriter struct {
	http.ResponseWriter
	status int
}

func (w *wrapWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// ---------- Helpers ----------

func getRateLimiter(ip string) *rate.Limiter {
	if v, ok := limiters.Load(ip); ok {
		return v.(*rate.Limiter)
	}

	every := cfg.RateLimitEvery
	if every <= 0 {
		every = 600 * time.Millisecond // ~100/min
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 20
	}

	v, _ := limiters.LoadOrStore(ip, rate.NewLimiter(rate.Every(every), burst))
	return v.(*rate.Limiter)
}

func getClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if idx := strings.Index(ip, ","); idx > 0 {
			return strings.TrimSpace(ip[:idx])
		}
		return strings.TrimSpace(ip)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxRequestBytes)
	return r.ParseMultipartForm(cfg.MaxMultipartMemory)
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return extract.ReadLimited(f, extract.MaxFileBytes)
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	msg = strings.ReplaceAll(msg, os.TempDir(), "[tmp]")
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}

func sanitizeLogString(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	})
}
