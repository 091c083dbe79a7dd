package office

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/toricodesthings/document-ingestion-service/internal/extract"
	"github.com/xuri/excelize/v2"
)

var ErrNoSheets = errors.New("workbook has no sheets")

type XLSXExtractor struct{}

func NewXLSX() *XLSXExtractor { return &XLSXExtractor{} }

func (e *XLSXExtractor) Name() string      { return "document/xlsx" }
func (e *XLSXExtractor) Kind() extract.Kind { return extract.KindSpreadsheet }

// Extract reads the first sheet by workbook position and renders it as
// tab-separated lines.
func (e *XLSXExtractor) Extract(ctx context.Context, job extract.Job) (extract.Result, error) {
	select {
	case <-ctx.Done():
		return extract.Result{Success: false}, ctx.Err()
	default:
	}

	f, err := excelize.OpenReader(bytes.NewReader(job.Content))
	if err != nil {
		err = fmt.Errorf("open workbook: %w", err)
		return extract.Fail(e.Kind(), job.MIMEType, "native", err), err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return extract.Fail(e.Kind(), job.MIMEType, "native", ErrNoSheets), ErrNoSheets
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		err = fmt.Errorf("read sheet %q: %w", sheets[0], err)
		return extract.Fail(e.Kind(), job.MIMEType, "native", err), err
	}

	text := rowsToText(rows)
	meta := map[string]string{
		"sheet":  sheets[0],
		"sheets": fmt.Sprintf("%d", len(sheets)),
		"rows":   fmt.Sprintf("%d", len(rows)),
	}

	words, chars := extract.BuildCounts(text)
	return extract.Result{Success: true, Text: text, Method: "native", FileType: e.Name(), MIMEType: job.MIMEType, Metadata: meta, WordCount: words, CharCount: chars}, nil
}

// rowsToText drops empty cells from each row, joins the rest with tabs, and
// joins rows with newlines in their original order.
func rowsToText(rows [][]string) string {
	lines := make([]string, len(rows))
	for i, row := range rows {
		cells := make([]string, 0, len(row))
		for _, cell := range row {
			if cell != "" {
				cells = append(cells, cell)
			}
		}
		lines[i] = strings.Join(cells, "\t")
	}
	return strings.Join(lines, "\n")
}
