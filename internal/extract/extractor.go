package extract

import "context"

// Extractor is implemented by every file-kind handler.
type Extractor interface {
	Extract(ctx context.Context, job Job) (Result, error)
	Kind() Kind
	Name() string
}
