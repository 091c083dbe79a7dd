package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Cap pdftotext output to 50 MiB.
const maxPopplerOutput = 50<<20 + 1

// PopplerRenderer shells out to poppler's pdftotext. Pages are split on the
// form feed pdftotext emits between pages.
type PopplerRenderer struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

func NewPoppler(binary string, timeout time.Duration, logger *slog.Logger) *PopplerRenderer {
	if strings.TrimSpace(binary) == "" {
		binary = "pdftotext"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PopplerRenderer{binary: binary, timeout: timeout, logger: logger}
}

func (r *PopplerRenderer) Name() string { return "poppler" }

func (r *PopplerRenderer) Render(ctx context.Context, content []byte) ([]Page, error) {
	tmpDir, err := os.MkdirTemp("", "ingest-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(pdfPath, content, 0o600); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.binary, "-layout", "-enc", "UTF-8", pdfPath, "-")
	text, stderr, err := runCommandCaptureLimited(cmd, maxPopplerOutput)
	if err != nil {
		return nil, r.classifyErr(ctx, err, stderr)
	}

	parts := strings.Split(text, "\f")
	// pdftotext terminates the last page with a form feed too
	if len(parts) > 1 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	pages := make([]Page, 0, len(parts))
	for i, p := range parts {
		pages = append(pages, Page{Number: i + 1, Text: p})
	}
	return pages, nil
}

// runCommandCaptureLimited runs cmd and captures stdout up to maxBytes (inclusive of sentinel).
// It captures stderr fully (usually small) for error reporting.
func runCommandCaptureLimited(cmd *exec.Cmd, maxBytes int64) (stdoutText string, stderrText string, err error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", "", fmt.Errorf("stdout pipe: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", "", fmt.Errorf("start: %w", err)
	}

	lr := io.LimitReader(stdoutPipe, maxBytes)
	outBytes, readErr := io.ReadAll(lr)
	if int64(len(outBytes)) >= maxBytes {
		_ = cmd.Process.Kill()
	}

	waitErr := cmd.Wait()
	stderrStr := strings.TrimSpace(stderr.String())

	if readErr != nil {
		return "", stderrStr, fmt.Errorf("read stdout: %w", readErr)
	}
	if int64(len(outBytes)) >= maxBytes {
		return "", stderrStr, errOutputTooLarge
	}
	if waitErr != nil {
		return "", stderrStr, waitErr
	}
	return string(outBytes), stderrStr, nil
}

var errOutputTooLarge = errors.New("extracted text too large")

func (r *PopplerRenderer) classifyErr(ctx context.Context, err error, stderr string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("pdftotext timeout")
	}
	if errors.Is(err, errOutputTooLarge) {
		return err
	}

	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return fmt.Errorf("pdftotext failed: %w", err)
	}
	r.logger.Warn("pdftotext error", "stderr", truncate(stderr, 500))

	switch {
	case strings.Contains(stderr, "version ") && strings.Contains(stderr, "Usage:"):
		return fmt.Errorf("pdftotext failed (bad invocation)")
	case containsAny(stderr, "Incorrect password", "Command Line Error: Incorrect password"):
		return fmt.Errorf("PDF is password protected")
	case containsAny(stderr, "PDF file is damaged", "Syntax Error", "Couldn't find trailer dictionary", "May not be a PDF file"):
		return fmt.Errorf("PDF file is damaged or corrupted")
	case strings.Contains(stderr, "I/O Error") && strings.Contains(stderr, "Couldn't open file"):
		return fmt.Errorf("unable to open PDF")
	}
	return fmt.Errorf("pdftotext failed: %s", truncate(stderr, 200))
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
