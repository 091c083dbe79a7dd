package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// SuccessHook observes every successful extraction.
type SuccessHook func(kind Kind, fileSize int64, duration time.Duration)

type Router struct {
	registry  *Registry
	logger    *slog.Logger
	onSuccess SuccessHook
}

func NewRouter(registry *Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{registry: registry, logger: logger}
}

func (r *Router) SetSuccessHook(h SuccessHook) { r.onSuccess = h }

// Extract validates fileName and content, then runs the matching extractor.
func (r *Router) Extract(ctx context.Context, fileName string, content []byte) (Result, error) {
	fileName = strings.TrimSpace(fileName)
	outcome := Classify(fileName, int64(len(content)))
	if !outcome.Accepted() {
		msg := outcome.Err.Error()
		return Result{Success: false, FileType: outcome.Kind.String(), MIMEType: SniffMIME(content), Error: &msg}, outcome.Err
	}
	return r.ExtractKind(ctx, outcome.Kind, fileName, content)
}

// ExtractKind runs the extractor for an already classified file.
// Every returned error is an *ExtractionError.
func (r *Router) ExtractKind(ctx context.Context, kind Kind, fileName string, content []byte) (Result, error) {
	mt := SniffMIME(content)

	extractor, err := r.registry.Resolve(kind)
	if err != nil {
		xe := Failed(kind, err)
		return Fail(kind, mt, "", xe), xe
	}

	job := Job{
		FileName: fileName,
		MIMEType: mt,
		Size:     int64(len(content)),
		Content:  content,
	}

	start := time.Now()
	res, err := runExtractor(ctx, extractor, job)
	if err != nil {
		xe := Failed(kind, err)
		if res.Error == nil {
			msg := xe.Error()
			res.Error = &msg
		}
		res.Success = false
		if res.FileType == "" {
			res.FileType = kind.String()
		}
		if res.MIMEType == "" {
			res.MIMEType = mt
		}
		r.logger.WarnContext(ctx, "extraction failed", "file", fileName, "kind", kind.String(), "error", xe.Detail)
		return res, xe
	}

	res.Success = true
	if res.MIMEType == "" {
		res.MIMEType = mt
	}
	if res.FileType == "" {
		res.FileType = kind.String()
	}
	if res.CharCount == 0 && res.Text != "" {
		res.WordCount, res.CharCount = BuildCounts(res.Text)
	}

	elapsed := time.Since(start)
	r.logger.DebugContext(ctx, "extracted", "file", fileName, "kind", kind.String(), "extractor", extractor.Name(), "chars", res.CharCount, "elapsed", elapsed)
	if r.onSuccess != nil {
		r.onSuccess(kind, job.Size, elapsed)
	}
	return res, nil
}

// runExtractor turns a panicking parser into an ordinary failure.
func runExtractor(ctx context.Context, e Extractor, job Job) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = Result{}
			err = fmt.Errorf("%s: parser panic: %v", e.Name(), p)
		}
	}()
	select {
	case <-ctx.Done():
		return Result{Success: false}, ctx.Err()
	default:
	}
	res, err = e.Extract(ctx, job)
	if err == nil && res.Error != nil {
		err = errors.New(*res.Error)
	}
	return res, err
}
