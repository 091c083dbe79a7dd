package ingest

import (
	"cmp"
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/toricodesthings/document-ingestion-service/internal/extract"
	"github.com/toricodesthings/document-ingestion-service/internal/logging"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Synthetic progress never passes this value; only a finished upload reaches 100.
const syntheticCap = 90

type Options struct {
	Extractor          Extractor
	Transport          Transport
	Logger             *slog.Logger
	MaxExtractWorkers  int64
	MaxTransferWorkers int
	ProgressTick       time.Duration
	ProgressStep       int
}

// tracked is the session's record of one accepted file.
type tracked struct {
	file  File
	seq   uint64
	open  func() (io.ReadCloser, error)
	state State
	raw   []byte
	text  string

	// ctx is cancelled when the file leaves the session.
	ctx    context.Context
	cancel context.CancelFunc
	// done is closed once extraction has finished or been abandoned.
	done chan struct{}
}

// Session is one batch of files moving from intake through extraction to
// upload. All methods are safe for concurrent use.
type Session struct {
	id   string
	opts Options
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	extractSem *semaphore.Weighted
	wg         sync.WaitGroup

	mu             sync.Mutex
	seq            uint64
	files          map[string]*tracked
	errors         map[string]string
	previews       map[string]string
	progress       map[string]int
	transferring   bool
	cancelTransfer context.CancelFunc
	completed      bool
	closed         bool
}

func NewSession(id string, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxExtractWorkers <= 0 {
		opts.MaxExtractWorkers = 4
	}
	if opts.MaxTransferWorkers <= 0 {
		opts.MaxTransferWorkers = 4
	}
	if opts.ProgressTick <= 0 {
		opts.ProgressTick = 300 * time.Millisecond
	}
	if opts.ProgressStep <= 0 {
		opts.ProgressStep = 10
	}

	ctx, cancel := context.WithCancel(logging.WithSession(context.Background(), id))
	s := &Session{
		id:         id,
		opts:       opts,
		log:        opts.Logger,
		ctx:        ctx,
		cancel:     cancel,
		extractSem: semaphore.NewWeighted(opts.MaxExtractWorkers),
	}
	s.clearLocked()
	return s
}

func (s *Session) ID() string { return s.id }

// AddFiles validates each candidate and starts extraction for the accepted
// ones. A candidate replaces any earlier entry with the same name.
func (s *Session) AddFiles(ctx context.Context, candidates []Candidate) error {
	ctx = logging.WithSession(ctx, s.id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	for _, c := range candidates {
		outcome := extract.Classify(c.Name, c.Size)
		s.purgeLocked(c.Name)

		if !outcome.Accepted() {
			s.errors[c.Name] = outcome.Err.Error()
			s.log.InfoContext(ctx, "file rejected", "file", c.Name, "size", c.Size, "reason", string(outcome.Err.Reason))
			continue
		}

		fctx, cancel := context.WithCancel(s.ctx)
		s.seq++
		t := &tracked{
			file: File{
				Name:       c.Name,
				Size:       c.Size,
				Kind:       outcome.Kind,
				Generation: uuid.NewString(),
			},
			seq:    s.seq,
			open:   c.Open,
			state:  StateExtracting,
			ctx:    fctx,
			cancel: cancel,
			done:   make(chan struct{}),
		}
		s.files[c.Name] = t
		s.log.DebugContext(ctx, "file accepted", "file", c.Name, "kind", outcome.Kind.String(), "generation", t.file.Generation)

		s.wg.Add(1)
		go s.extract(t)
	}
	return nil
}

func (s *Session) extract(t *tracked) {
	defer s.wg.Done()
	defer close(t.done)

	if err := s.extractSem.Acquire(t.ctx, 1); err != nil {
		return
	}
	raw, res, err := s.readAndExtract(t)
	s.extractSem.Release(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.liveLocked(t) {
		s.log.DebugContext(s.ctx, "discarding stale extraction", "file", t.file.Name, "generation", t.file.Generation)
		return
	}
	if err != nil {
		t.state = StateExtractionFailed
		s.errors[t.file.Name] = readFailure(err)
		s.log.WarnContext(s.ctx, "extraction failed", "file", t.file.Name, "error", err)
		return
	}
	t.raw = raw
	t.text = res.Text
	t.state = StatePreviewReady
	s.previews[t.file.Name] = res.Text
}

func (s *Session) readAndExtract(t *tracked) ([]byte, extract.Result, error) {
	if t.open == nil {
		return nil, extract.Result{}, errors.New("no content")
	}
	rc, err := t.open()
	if err != nil {
		return nil, extract.Result{}, err
	}
	raw, err := extract.ReadLimited(rc, extract.MaxFileBytes)
	_ = rc.Close()
	if err != nil {
		return nil, extract.Result{}, err
	}
	if s.opts.Extractor == nil {
		return raw, extract.Result{}, extract.ErrNoExtractor
	}
	res, err := s.opts.Extractor.ExtractKind(t.ctx, t.file.Kind, t.file.Name, raw)
	return raw, res, err
}

// RemoveFile drops every trace of name. Removing an unknown name is a no-op.
func (s *Session) RemoveFile(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(name)
	s.checkCompleteLocked()
}

// Reset clears the batch and cancels any transfer in flight.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// Close resets the session and refuses further intake.
func (s *Session) Close() {
	s.mu.Lock()
	s.resetLocked()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}

// Wait blocks until every started extraction has finished.
func (s *Session) Wait() { s.wg.Wait() }

func (s *Session) Transferring() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferring
}

// State reports where name is in its lifecycle.
func (s *Session) State(name string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.files[name]; ok {
		return t.state, true
	}
	if _, ok := s.errors[name]; ok {
		return StateRejected, true
	}
	return "", false
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	files := make([]FileStatus, 0, len(s.files))
	for _, t := range s.orderedLocked() {
		files = append(files, FileStatus{File: t.file, State: t.state})
	}
	return Snapshot{
		ID:           s.id,
		Files:        files,
		Errors:       maps.Clone(s.errors),
		Previews:     maps.Clone(s.previews),
		Progress:     maps.Clone(s.progress),
		Transferring: s.transferring,
	}
}

// BeginTransfer uploads every file whose extraction succeeded, waiting for
// extractions still running. Per-file failures are recorded on the file and
// reported in the summary; they never abort the other uploads.
func (s *Session) BeginTransfer(ctx context.Context) (TransferSummary, error) {
	if s.opts.Transport == nil {
		return TransferSummary{}, ErrNoTransport
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return TransferSummary{}, ErrSessionClosed
	}
	if s.transferring {
		s.mu.Unlock()
		return TransferSummary{}, ErrTransferInProgress
	}
	tctx, cancel := context.WithCancel(logging.WithSession(ctx, s.id))
	defer cancel()
	s.transferring = true
	s.cancelTransfer = cancel
	s.completed = false

	targets := s.orderedLocked()
	for _, t := range targets {
		if t.state == StatePreviewReady || t.state == StateTransferFailed {
			t.state = StateTransferPending
		}
	}
	s.mu.Unlock()

	s.log.InfoContext(tctx, "transfer started", "files", len(targets))

	outcomes := make([]transferOutcome, len(targets))
	var g errgroup.Group
	g.SetLimit(s.opts.MaxTransferWorkers)
	for i, t := range targets {
		g.Go(func() error {
			outcomes[i] = s.transferOne(tctx, t)
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.transferring = false
	s.cancelTransfer = nil
	s.checkCompleteLocked()

	summary := TransferSummary{Uploaded: []string{}, Completed: s.completed}
	for _, o := range outcomes {
		switch {
		case o.uploaded:
			summary.Uploaded = append(summary.Uploaded, o.name)
		case o.err != nil:
			summary.Failed = append(summary.Failed, *o.err)
		default:
			summary.Skipped = append(summary.Skipped, o.name)
		}
	}
	s.log.InfoContext(tctx, "transfer finished", "uploaded", len(summary.Uploaded), "failed", len(summary.Failed), "skipped", len(summary.Skipped), "completed", summary.Completed)
	return summary, nil
}

type transferOutcome struct {
	name     string
	uploaded bool
	err      *TransferError
}

func (s *Session) transferOne(ctx context.Context, t *tracked) transferOutcome {
	name := t.file.Name
	skipped := transferOutcome{name: name}

	select {
	case <-t.done:
	case <-ctx.Done():
		return skipped
	}

	s.mu.Lock()
	if !s.liveLocked(t) || (t.state != StateTransferPending && t.state != StatePreviewReady) {
		s.mu.Unlock()
		return skipped
	}
	t.state = StateTransferring
	delete(s.errors, name)
	s.progress[name] = 0
	doc := Document{Name: name, Kind: t.file.Kind, Raw: t.raw, Text: t.text}
	s.mu.Unlock()

	// The upload also stops when the file is removed.
	uctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(t.ctx, cancel)
	defer stopAfter()

	stop := make(chan struct{})
	ticking := make(chan struct{})
	go func() {
		defer close(ticking)
		s.tick(t, stop)
	}()

	err := s.opts.Transport.Upload(uctx, doc, func(p int) { s.report(t, p) })
	close(stop)
	<-ticking

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.liveLocked(t) {
		s.log.DebugContext(ctx, "discarding stale upload result", "file", name)
		return skipped
	}
	if err != nil {
		te := &TransferError{FileName: name, Detail: err.Error()}
		t.state = StateTransferFailed
		s.errors[name] = te.Error()
		s.log.WarnContext(ctx, "upload failed", "file", name, "error", err)
		return transferOutcome{name: name, err: te}
	}
	t.state = StateTransferComplete
	s.progress[name] = 100
	s.log.InfoContext(ctx, "uploaded", "file", name, "chars", len(doc.Text))
	return transferOutcome{name: name, uploaded: true}
}

// tick advances synthetic progress until stop is closed.
func (s *Session) tick(t *tracked, stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.ProgressTick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.liveLocked(t) && t.state == StateTransferring {
				cur := s.progress[t.file.Name]
				if next := min(cur+s.opts.ProgressStep, syntheticCap); next > cur {
					s.progress[t.file.Name] = next
				}
			}
			s.mu.Unlock()
		}
	}
}

// report applies progress from the transport. Values below the current
// progress are ignored and 100 is reserved for a finished upload.
func (s *Session) report(t *tracked, percent int) {
	percent = min(percent, 99)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.liveLocked(t) && t.state == StateTransferring && percent > s.progress[t.file.Name] {
		s.progress[t.file.Name] = percent
	}
}

func (s *Session) liveLocked(t *tracked) bool {
	cur, ok := s.files[t.file.Name]
	return ok && cur.file.Generation == t.file.Generation
}

func (s *Session) purgeLocked(name string) {
	if t, ok := s.files[name]; ok {
		t.cancel()
	}
	delete(s.files, name)
	delete(s.errors, name)
	delete(s.previews, name)
	delete(s.progress, name)
}

// checkCompleteLocked resets the session once every tracked file has been uploaded.
func (s *Session) checkCompleteLocked() {
	if len(s.files) == 0 {
		return
	}
	for name := range s.files {
		if s.progress[name] != 100 {
			return
		}
	}
	s.log.InfoContext(s.ctx, "batch complete", "files", len(s.files))
	s.resetLocked()
	s.completed = true
}

func (s *Session) resetLocked() {
	if s.cancelTransfer != nil {
		s.cancelTransfer()
	}
	for _, t := range s.files {
		t.cancel()
	}
	s.clearLocked()
}

func (s *Session) clearLocked() {
	s.files = make(map[string]*tracked)
	s.errors = make(map[string]string)
	s.previews = make(map[string]string)
	s.progress = make(map[string]int)
}

func (s *Session) orderedLocked() []*tracked {
	out := make([]*tracked, 0, len(s.files))
	for _, t := range s.files {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b *tracked) int { return cmp.Compare(a.seq, b.seq) })
	return out
}
