package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	Port string

	// Secrets
	InternalSharedSecret string

	// Backend
	BackendURL       string
	BackendTimeout   time.Duration
	BackendRateEvery time.Duration
	BackendRateBurst int

	// Limits
	MaxRequestBytes    int64
	MaxMultipartMemory int64
	MaxHeaderBytes     int

	// Concurrency
	MaxConcurrentRequests int64
	MaxExtractWorkers     int64 // per-session extraction cap
	MaxTransferWorkers    int   // per-transfer upload fan-out

	// Synthetic transfer progress
	ProgressTick time.Duration
	ProgressStep int

	// Sessions
	MaxSessions     int
	SessionIdleTTL  time.Duration
	CleanupInterval time.Duration

	// Server timeouts
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// Request timeouts
	PreviewTimeout  time.Duration
	TransferTimeout time.Duration

	// rate limiting (per IP)
	RateLimitEvery time.Duration
	RateLimitBurst int

	// health
	HealthDegradeRatio float64

	// PDF rendering: "native" or "poppler"
	PDFRenderer      string
	PDFToTextBinary  string
	PDFToTextTimeout time.Duration

	// DOCX conversion: "native" or "libreoffice"
	DocxConverter      string
	LibreOfficeBinary  string
	LibreOfficeTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads the optional YAML file named by CONFIG_FILE, then lets
// environment variables override any of its keys.
func Load() (Config, error) {
	src := source{}
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		file, err := parseFile(b)
		if err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
		src.file = file
	}
	return src.load(), nil
}

func (s source) load() Config {
	return Config{
		Port: s.str("PORT", "8080"),

		InternalSharedSecret: s.str("INTERNAL_SHARED_SECRET", ""),

		BackendURL:       strings.TrimRight(s.str("BACKEND_URL", "http://localhost:3000"), "/"),
		BackendTimeout:   s.dur("BACKEND_TIMEOUT", 60*time.Second),
		BackendRateEvery: s.dur("BACKEND_RATE_EVERY", 100*time.Millisecond),
		BackendRateBurst: s.int("BACKEND_RATE_BURST", 10),

		MaxRequestBytes:    int64(s.int("MAX_REQUEST_BYTES", 64<<20)),
		MaxMultipartMemory: int64(s.int("MAX_MULTIPART_MEMORY", 32<<20)),
		MaxHeaderBytes:     s.int("MAX_HEADER_BYTES", 1<<20),

		MaxConcurrentRequests: int64(s.int("MAX_CONCURRENT_REQUESTS", 15)),
		MaxExtractWorkers:     int64(s.int("MAX_EXTRACT_WORKERS", 4)),
		MaxTransferWorkers:    s.int("MAX_TRANSFER_WORKERS", 4),

		ProgressTick: s.dur("PROGRESS_TICK", 300*time.Millisecond),
		ProgressStep: s.int("PROGRESS_STEP", 10),

		MaxSessions:     s.int("MAX_SESSIONS", 256),
		SessionIdleTTL:  s.dur("SESSION_IDLE_TTL", 30*time.Minute),
		CleanupInterval: s.dur("CLEANUP_INTERVAL", 5*time.Minute),

		ReadHeaderTimeout: s.dur("READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:       s.dur("READ_TIMEOUT", 60*time.Second),
		WriteTimeout:      s.dur("WRITE_TIMEOUT", 180*time.Second),
		IdleTimeout:       s.dur("IDLE_TIMEOUT", 60*time.Second),

		PreviewTimeout:  s.dur("PREVIEW_TIMEOUT", 60*time.Second),
		TransferTimeout: s.dur("TRANSFER_TIMEOUT", 5*time.Minute),

		RateLimitEvery: s.dur("RATE_LIMIT_EVERY", 600*time.Millisecond),
		RateLimitBurst: s.int("RATE_LIMIT_BURST", 20),

		HealthDegradeRatio: s.float("HEALTH_DEGRADE_RATIO", 0.9),

		PDFRenderer:      strings.ToLower(s.str("PDF_RENDERER", "native")),
		PDFToTextBinary:  s.str("PDFTOTEXT_BINARY", "pdftotext"),
		PDFToTextTimeout: s.dur("PDFTOTEXT_TIMEOUT", 30*time.Second),

		DocxConverter:      strings.ToLower(s.str("DOCX_CONVERTER", "native")),
		LibreOfficeBinary:  s.str("LIBREOFFICE_BINARY", "soffice"),
		LibreOfficeTimeout: s.dur("LIBREOFFICE_TIMEOUT", 60*time.Second),

		LogLevel:  strings.ToLower(s.str("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(s.str("LOG_FORMAT", "json")),
	}
}

func (c Config) Validate() error {
	if len(strings.TrimSpace(c.InternalSharedSecret)) < 32 {
		return fmt.Errorf("INTERNAL_SHARED_SECRET must be at least 32 characters")
	}
	if c.PDFRenderer != "native" && c.PDFRenderer != "poppler" {
		return fmt.Errorf("PDF_RENDERER must be native or poppler, got %q", c.PDFRenderer)
	}
	if c.DocxConverter != "native" && c.DocxConverter != "libreoffice" {
		return fmt.Errorf("DOCX_CONVERTER must be native or libreoffice, got %q", c.DocxConverter)
	}
	if c.ProgressStep >= 100 {
		return fmt.Errorf("PROGRESS_STEP must be below 100")
	}
	return nil
}

// source resolves a key from the environment first, then the config file.
type source struct {
	file map[string]string
}

// parseFile flattens a YAML mapping into env-style keys: backend_url and
// BACKEND_URL name the same setting.
func parseFile(b []byte) (map[string]string, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("key %q: nested values are not supported", k)
		case nil:
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out, nil
}

func (s source) lookup(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return s.file[key]
}

func (s source) str(key, fallback string) string {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	return v
}

func (s source) int(key string, fallback int) int {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func (s source) float(key string, fallback float64) float64 {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func (s source) dur(key string, fallback time.Duration) time.Duration {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
