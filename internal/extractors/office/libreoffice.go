package office

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var headSection = regexp.MustCompile(`(?is)<head\b.*?</head>`)

// LibreOfficeConverter converts documents to HTML with a headless soffice.
type LibreOfficeConverter struct {
	binary  string
	timeout time.Duration
}

func NewLibreOffice(binary string, timeout time.Duration) *LibreOfficeConverter {
	if strings.TrimSpace(binary) == "" {
		binary = "soffice"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LibreOfficeConverter{binary: binary, timeout: timeout}
}

func (c *LibreOfficeConverter) Name() string { return "libreoffice" }

func (c *LibreOfficeConverter) ToHTML(ctx context.Context, content []byte) (string, error) {
	outDir, err := os.MkdirTemp("", "ingest-docx-*")
	if err != nil {
		return "", fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	inPath := filepath.Join(outDir, "input.docx")
	if err := os.WriteFile(inPath, content, 0o600); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}

	localCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(localCtx, c.binary, "--headless", "--convert-to", "html", "--outdir", outDir, inPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("libreoffice conversion failed: %v: %s", err, strings.TrimSpace(string(out)))
	}

	b, err := os.ReadFile(filepath.Join(outDir, "input.html"))
	if err != nil {
		return "", fmt.Errorf("libreoffice produced no output: %w", err)
	}
	// Drop <head> so the document title and styles stay out of the text.
	return headSection.ReplaceAllString(string(b), ""), nil
}
