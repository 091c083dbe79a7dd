package pdf

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/toricodesthings/document-ingestion-service/internal/extract"
)

var ErrNoText = errors.New("no extractable text found in PDF (it may be scanned or image-based)")

// Page is the rendered text of one PDF page. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// Renderer turns PDF bytes into page text in document order.
type Renderer interface {
	Render(ctx context.Context, content []byte) ([]Page, error)
	Name() string
}

type Extractor struct {
	renderer Renderer
}

func New(renderer Renderer) *Extractor {
	if renderer == nil {
		renderer = NewNative()
	}
	return &Extractor{renderer: renderer}
}

func (e *Extractor) Name() string      { return "document/pdf" }
func (e *Extractor) Kind() extract.Kind { return extract.KindPDF }

func (e *Extractor) Extract(ctx context.Context, job extract.Job) (extract.Result, error) {
	pages, err := e.renderer.Render(ctx, job.Content)
	if err != nil {
		return extract.Fail(e.Kind(), job.MIMEType, e.renderer.Name(), err), err
	}

	results := make([]extract.PageResult, 0, len(pages))
	texts := make([]string, 0, len(pages))
	for _, p := range pages {
		t := strings.TrimSpace(p.Text)
		if t == "" {
			continue
		}
		w, _ := extract.BuildCounts(t)
		results = append(results, extract.PageResult{PageNumber: p.Number, Text: t, WordCount: w})
		texts = append(texts, t)
	}
	if len(pages) > 0 && len(texts) == 0 {
		return extract.Fail(e.Kind(), job.MIMEType, e.renderer.Name(), ErrNoText), ErrNoText
	}

	text := strings.Join(texts, "\n")
	words, chars := extract.BuildCounts(text)
	return extract.Result{
		Success:   true,
		Text:      text,
		Method:    e.renderer.Name(),
		FileType:  e.Name(),
		MIMEType:  job.MIMEType,
		Pages:     results,
		Metadata:  map[string]string{"totalPages": strconv.Itoa(len(pages))},
		WordCount: words,
		CharCount: chars,
	}, nil
}
