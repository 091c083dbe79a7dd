package extract

import (
	"context"
	"errors"
	"testing"
)

type stubExtractor struct {
	name string
	kind Kind
	text string
	err  error
}

func (s *stubExtractor) Extract(ctx context.Context, job Job) (Result, error) {
	if s.err != nil {
		return Result{}, s.err
	}
	return Result{Success: true, Text: s.text}, nil
}
func (s *stubExtractor) Kind() Kind   { return s.kind }
func (s *stubExtractor) Name() string { return s.name }

func TestResolveByKind(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubExtractor{name: "text", kind: KindText})
	r.Register(&stubExtractor{name: "pdf", kind: KindPDF})

	e, err := r.Resolve(KindPDF)
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if e.Name() != "pdf" {
		t.Fatalf("expected pdf extractor, got %q", e.Name())
	}
}

func TestResolveLaterRegistrationWins(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubExtractor{name: "first", kind: KindDocument})
	r.Register(&stubExtractor{name: "second", kind: KindDocument})

	e, err := r.Resolve(KindDocument)
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if e.Name() != "second" {
		t.Fatalf("expected second extractor, got %q", e.Name())
	}
}

func TestResolveMissingKind(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Resolve(KindSpreadsheet); !errors.Is(err, ErrNoExtractor) {
		t.Fatalf("expected ErrNoExtractor, got %v", err)
	}
}

func TestKindsInDeclarationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubExtractor{name: "docx", kind: KindDocument})
	r.Register(&stubExtractor{name: "text", kind: KindText})

	got := r.Kinds()
	if len(got) != 2 || got[0] != KindText || got[1] != KindDocument {
		t.Fatalf("unexpected kinds %v", got)
	}
}
