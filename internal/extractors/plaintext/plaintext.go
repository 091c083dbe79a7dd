package plaintext

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/toricodesthings/document-ingestion-service/internal/extract"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var ErrInvalidEncoding = errors.New("content is not valid UTF-8 text")

// Extractor decodes .txt files verbatim. A byte order mark selects UTF-8 or
// UTF-16 decoding; without one the bytes must already be UTF-8.
type Extractor struct{}

func New() *Extractor { return &Extractor{} }

func (e *Extractor) Name() string      { return "text" }
func (e *Extractor) Kind() extract.Kind { return extract.KindText }

func (e *Extractor) Extract(ctx context.Context, job extract.Job) (extract.Result, error) {
	select {
	case <-ctx.Done():
		return extract.Result{Success: false}, ctx.Err()
	default:
	}

	text, err := decode(job.Content)
	if err != nil {
		return extract.Fail(e.Kind(), job.MIMEType, "native", err), err
	}

	words, chars := extract.BuildCounts(text)
	return extract.Result{
		Success:   true,
		Text:      text,
		Method:    "native",
		FileType:  e.Name(),
		MIMEType:  job.MIMEType,
		WordCount: words,
		CharCount: chars,
	}, nil
}

func decode(b []byte) (string, error) {
	out, _, err := transform.Bytes(unicode.BOMOverride(transform.Nop), b)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if !utf8.Valid(out) {
		return "", ErrInvalidEncoding
	}
	return string(out), nil
}
