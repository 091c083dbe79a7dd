package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	lpdf "github.com/ledongthuc/pdf"
)

// NativeRenderer reads the PDF text layer in pure Go.
type NativeRenderer struct{}

func NewNative() *NativeRenderer { return &NativeRenderer{} }

func (r *NativeRenderer) Name() string { return "text-layer" }

func (r *NativeRenderer) Render(ctx context.Context, content []byte) (pages []Page, err error) {
	if len(content) == 0 {
		return nil, errors.New("empty PDF content")
	}

	// The parser panics on some malformed object graphs.
	defer func() {
		if p := recover(); p != nil {
			pages = nil
			err = fmt.Errorf("PDF appears to be damaged or invalid: %v", p)
		}
	}()

	reader, err := lpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	n := reader.NumPage()
	pages = make([]Page, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue // unreadable page; keep the rest
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}
