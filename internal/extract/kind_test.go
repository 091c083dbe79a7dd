package extract

import (
	"errors"
	"testing"
)

func TestClassifyAcceptsAllowedExtensions(t *testing.T) {
	cases := map[string]Kind{
		"notes.txt":       KindText,
		"REPORT.PDF":      KindPDF,
		"budget.XlSx":     KindSpreadsheet,
		"letter.docx":     KindDocument,
		"archive.tar.txt": KindText,
	}
	for name, want := range cases {
		for _, size := range []int64{0, 1, MaxFileBytes} {
			o := Classify(name, size)
			if !o.Accepted() {
				t.Fatalf("expected %q (%d bytes) accepted, got %v", name, size, o.Err)
			}
			if o.Kind != want {
				t.Fatalf("expected kind %s for %q, got %s", want, name, o.Kind)
			}
		}
	}
}

func TestClassifyRejectsUnsupportedRegardlessOfSize(t *testing.T) {
	for _, name := range []string{"virus.exe", "photo.png", "notes.txt.bak", "noext", "old.doc", "sheet.xls"} {
		for _, size := range []int64{10, MaxFileBytes + 1, 1 << 30} {
			o := Classify(name, size)
			if o.Accepted() {
				t.Fatalf("expected %q rejected", name)
			}
			if o.Err.Reason != ReasonUnsupportedExtension {
				t.Fatalf("expected unsupported extension for %q (%d), got %s", name, size, o.Err.Reason)
			}
			if !errors.Is(o.Err, ErrUnsupportedExtension) {
				t.Fatalf("expected errors.Is ErrUnsupportedExtension")
			}
		}
	}
}

func TestClassifyRejectsOversizedAllowedFiles(t *testing.T) {
	for _, name := range []string{"a.txt", "a.pdf", "a.xlsx", "a.docx"} {
		o := Classify(name, MaxFileBytes+1)
		if o.Accepted() || o.Err.Reason != ReasonSizeExceeded {
			t.Fatalf("expected size exceeded for %q, got %+v", name, o)
		}
		if !errors.Is(o.Err, ErrSizeExceeded) {
			t.Fatalf("expected errors.Is ErrSizeExceeded")
		}
		if o.Err.Error() != "File size exceeds 5MB limit" {
			t.Fatalf("unexpected message %q", o.Err.Error())
		}
	}
}

func TestMaxFileBytesIsFiveMiB(t *testing.T) {
	if MaxFileBytes != 5242880 {
		t.Fatalf("expected 5242880, got %d", MaxFileBytes)
	}
}

func TestKindTextRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindText, KindPDF, KindSpreadsheet, KindDocument} {
		b, err := k.MarshalText()
		if err != nil {
			t.Fatalf("marshal %v: %v", k, err)
		}
		var got Kind
		if err := got.UnmarshalText(b); err != nil || got != k {
			t.Fatalf("round trip of %s gave %v, %v", b, got, err)
		}
	}
	var k Kind
	if err := k.UnmarshalText([]byte("image/png")); err == nil {
		t.Fatalf("expected error for unknown kind name")
	}
}
