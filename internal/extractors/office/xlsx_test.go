package office

import (
	"context"
	"testing"

	"github.com/toricodesthings/document-ingestion-service/internal/extract"
	"github.com/xuri/excelize/v2"
)

func workbook(t *testing.T, build func(f *excelize.File)) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	build(f)
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func set(t *testing.T, f *excelize.File, sheet, cell string, v any) {
	t.Helper()
	if err := f.SetCellValue(sheet, cell, v); err != nil {
		t.Fatalf("set %s!%s: %v", sheet, cell, err)
	}
}

func TestRowsToTextDropsEmptyCells(t *testing.T) {
	got := rowsToText([][]string{{"a", "b", ""}, {"c"}})
	if got != "a\tb\nc" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestRowsToTextKeepsRowOrderAndBlankRows(t *testing.T) {
	got := rowsToText([][]string{{"", "x"}, {}, {"y", "", "z"}})
	if got != "x\n\ny\tz" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestXLSXReadsFirstSheetByPosition(t *testing.T) {
	content := workbook(t, func(f *excelize.File) {
		if err := f.SetSheetName("Sheet1", "Zeta"); err != nil {
			t.Fatalf("rename: %v", err)
		}
		set(t, f, "Zeta", "A1", "a")
		set(t, f, "Zeta", "B1", "b")
		set(t, f, "Zeta", "A2", "c")
		idx, err := f.NewSheet("Alpha")
		if err != nil {
			t.Fatalf("new sheet: %v", err)
		}
		set(t, f, "Alpha", "A1", "ignored")
		f.SetActiveSheet(idx)
	})

	res, err := NewXLSX().Extract(context.Background(), extract.Job{FileName: "a.xlsx", Content: content})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Text != "a\tb\nc" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.Metadata["sheet"] != "Zeta" || res.Metadata["sheets"] != "2" {
		t.Fatalf("unexpected metadata %v", res.Metadata)
	}
}

func TestXLSXSkipsGapsWithinRow(t *testing.T) {
	content := workbook(t, func(f *excelize.File) {
		set(t, f, "Sheet1", "A1", "left")
		set(t, f, "Sheet1", "D1", 42)
	})
	res, err := NewXLSX().Extract(context.Background(), extract.Job{Content: content})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Text != "left\t42" {
		t.Fatalf("unexpected text %q", res.Text)
	}
}

func TestXLSXRejectsCorruptContainer(t *testing.T) {
	if _, err := NewXLSX().Extract(context.Background(), extract.Job{Content: []byte("not a workbook")}); err == nil {
		t.Fatalf("expected error for corrupt workbook")
	}
}
