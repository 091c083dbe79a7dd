package extract

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedExtension = errors.New("unsupported extension")
	ErrSizeExceeded         = errors.New("size exceeded")
	ErrNoExtractor          = errors.New("no extractor registered")
)

type Reason string

const (
	ReasonUnsupportedExtension Reason = "unsupported_extension"
	ReasonSizeExceeded         Reason = "size_exceeded"
)

// ValidationError rejects a file at intake.
type ValidationError struct {
	FileName string
	Reason   Reason
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonSizeExceeded:
		return fmt.Sprintf("File size exceeds %dMB limit", MaxFileBytes/(1<<20))
	default:
		return "Only .txt, .pdf, .xlsx, and .docx files are allowed"
	}
}

func (e *ValidationError) Unwrap() error {
	if e.Reason == ReasonSizeExceeded {
		return ErrSizeExceeded
	}
	return ErrUnsupportedExtension
}

// ExtractionError reports malformed or unreadable input for one kind.
type ExtractionError struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s extraction failed: %s", e.Kind, e.Detail)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Failed builds an ExtractionError from an underlying failure.
func Failed(kind Kind, err error) *ExtractionError {
	var xe *ExtractionError
	if errors.As(err, &xe) {
		return xe
	}
	return &ExtractionError{Kind: kind, Detail: err.Error(), Err: err}
}
