package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/toricodesthings/document-ingestion-service/internal/extract"
)

var (
	ErrNoTransport        = errors.New("no transport configured")
	ErrTransferInProgress = errors.New("transfer already in progress")
	ErrSessionClosed      = errors.New("session closed")
)

// Extractor turns an accepted file into plain text. *extract.Router satisfies it.
type Extractor interface {
	ExtractKind(ctx context.Context, kind extract.Kind, fileName string, content []byte) (extract.Result, error)
}

// ProgressFunc receives upload progress as a percentage in [0,100].
type ProgressFunc func(percent int)

// Document is what a Transport sends for one file.
type Document struct {
	Name string
	Kind extract.Kind
	Raw  []byte
	Text string
}

type Transport interface {
	Upload(ctx context.Context, doc Document, progress ProgressFunc) error
}

// Candidate is a file offered for intake. Open is called at most once, and
// only if the file passes validation.
type Candidate struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// BytesCandidate wraps in-memory content as a Candidate.
func BytesCandidate(name string, content []byte) Candidate {
	return Candidate{
		Name: name,
		Size: int64(len(content)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(content)), nil },
	}
}

// File describes one accepted file.
type File struct {
	Name       string       `json:"name"`
	Size       int64        `json:"size"`
	Kind       extract.Kind `json:"kind"`
	Generation string       `json:"generation"`
}

type State string

const (
	StateRejected         State = "rejected"
	StateExtracting       State = "extracting"
	StateExtractionFailed State = "extraction_failed"
	StatePreviewReady     State = "preview_ready"
	StateTransferPending  State = "transfer_pending"
	StateTransferring     State = "transferring"
	StateTransferFailed   State = "transfer_failed"
	StateTransferComplete State = "transfer_complete"
)

type FileStatus struct {
	File
	State State `json:"state"`
}

// Snapshot is a consistent copy of the batch state.
type Snapshot struct {
	ID           string            `json:"id"`
	Files        []FileStatus      `json:"files"`
	Errors       map[string]string `json:"errors"`
	Previews     map[string]string `json:"previews"`
	Progress     map[string]int    `json:"progress"`
	Transferring bool              `json:"transferring"`
}

// TransferError records why one file failed to upload.
type TransferError struct {
	FileName string `json:"fileName"`
	Detail   string `json:"detail"`
}

func (e *TransferError) Error() string { return "Failed to upload: " + e.Detail }

type TransferSummary struct {
	Uploaded []string        `json:"uploaded"`
	Failed   []TransferError `json:"failed,omitempty"`
	Skipped  []string        `json:"skipped,omitempty"`
	// Completed is set when every tracked file reached 100 and the session reset.
	Completed bool `json:"completed"`
}

func readFailure(err error) string {
	var xe *extract.ExtractionError
	if errors.As(err, &xe) {
		return fmt.Sprintf("Failed to read file: %s", xe.Detail)
	}
	return fmt.Sprintf("Failed to read file: %s", err)
}
