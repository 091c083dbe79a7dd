package extract

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ReadLimited reads r fully, failing once more than maxBytes arrive.
func ReadLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := &io.LimitedReader{R: r, N: maxBytes + 1}
	b, err := io.ReadAll(lr)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if int64(len(b)) > maxBytes {
		return nil, fmt.Errorf("file exceeds %dMB limit", maxBytes/(1<<20))
	}
	return b, nil
}

// SniffMIME reports the content type of b. It is informational only; kinds come from file names.
func SniffMIME(b []byte) string {
	if m := mimetype.Detect(b); m != nil {
		return strings.ToLower(strings.TrimSpace(m.String()))
	}
	if len(b) == 0 {
		return ""
	}
	if len(b) > 512 {
		b = b[:512]
	}
	return strings.ToLower(strings.TrimSpace(http.DetectContentType(b)))
}
