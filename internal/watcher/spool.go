package watcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/indexing"
)

const (
	// RequestExt marks a spool file ready for intake.
	RequestExt = ".json"

	// FailedDir is the subdirectory rejected files are moved to.
	FailedDir = "failed"

	// errorSuffix names the sidecar written next to a rejected file.
	errorSuffix = ".error.json"

	// DefaultPollInterval is the rescan period when none is configured.
	DefaultPollInterval = 30 * time.Second
)

// SpoolStats counts intake results.
type SpoolStats struct {
	Files      uint64
	Dispatched uint64
	Rejected   uint64
}

// Spool turns request files dropped into a directory into dispatched
// operations. Writers create name.json.tmp and rename it into place so a
// half-written file is never read.
type Spool struct {
	dir          string
	failedDir    string
	dispatcher   indexing.Dispatcher
	pollInterval time.Duration
	newWatcher   func() (*fsnotify.Watcher, error)

	files      atomic.Uint64
	dispatched atomic.Uint64
	rejected   atomic.Uint64
}

// SpoolOption configures a Spool.
type SpoolOption func(*Spool)

// WithPollInterval sets how often the directory is rescanned. Values
// below or equal to zero keep the default.
func WithPollInterval(d time.Duration) SpoolOption {
	return func(s *Spool) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// NewSpool creates a spool for dir.
func NewSpool(dir string, dispatcher indexing.Dispatcher, opts ...SpoolOption) *Spool {
	s := &Spool{
		dir:          dir,
		failedDir:    filepath.Join(dir, FailedDir),
		dispatcher:   dispatcher,
		pollInterval: DefaultPollInterval,
		newWatcher:   fsnotify.NewWatcher,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the watched directory.
func (s *Spool) Dir() string {
	return s.dir
}

// Stats returns intake counters.
func (s *Spool) Stats() SpoolStats {
	return SpoolStats{
		Files:      s.files.Load(),
		Dispatched: s.dispatched.Load(),
		Rejected:   s.rejected.Load(),
	}
}

// Run processes files already present, then watches for new ones until ctx
// is cancelled. The directory is also rescanned every poll interval, which
// picks up files whose events were dropped. Where file events are not
// available at all the rescan is the only intake.
func (s *Spool) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.failedDir, 0755); err != nil {
		return fmt.Errorf("create spool directory: %w", err)
	}

	var events <-chan fsnotify.Event
	var errs <-chan error
	w, err := s.newWatcher()
	if err == nil {
		defer func() { _ = w.Close() }()
		// Watch before scanning so a file landing in between is not missed.
		err = w.Add(s.dir)
	}
	if err != nil {
		slog.Warn("spool events unavailable, polling only",
			slog.String("dir", s.dir),
			slog.Duration("interval", s.pollInterval),
			slog.String("error", err.Error()))
	} else {
		events, errs = w.Events, w.Errors
	}

	if err := s.ScanExisting(ctx); err != nil {
		return err
	}
	slog.Info("spool watching", slog.String("dir", s.dir), slog.Bool("events", events != nil))

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.ScanExisting(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("spool rescan failed", slog.String("error", err.Error()))
			}
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isRequestFile(event.Name) {
				continue
			}
			s.handle(ctx, event.Name)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("spool watcher error", slog.String("error", err.Error()))
		}
	}
}

// ScanExisting processes every request file currently in the directory in
// name order.
func (s *Spool) ScanExisting(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read spool directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isRequestFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.handle(ctx, filepath.Join(s.dir, name))
	}
	return nil
}

func (s *Spool) handle(ctx context.Context, path string) {
	if err := s.ProcessFile(ctx, path); err != nil {
		slog.Warn("spool file not processed",
			append([]any{slog.String("file", filepath.Base(path))}, apperrors.LogAttrs(err)...)...)
	}
}

// ProcessFile decodes, validates and dispatches the requests in one file.
// A file that cannot be decoded or holds an invalid request is moved to the
// failed directory and nothing from it is dispatched. A dispatch failure
// leaves the file in place for the next scan.
func (s *Spool) ProcessFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		// Already handled by an earlier event.
		return nil
	}
	if err != nil {
		return fmt.Errorf("read spool file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		// Created but not yet written; a write event follows.
		return nil
	}
	s.files.Add(1)

	reqs, err := DecodeRequests(data)
	if err != nil {
		return s.reject(path, err)
	}

	for i, req := range reqs {
		if err := s.dispatcher.Dispatch(ctx, req); err != nil {
			return apperrors.WrapTarget(apperrors.ErrCodeDispatchFailed, req.TargetID, err).
				WithDetail("file", filepath.Base(path)).
				WithDetail("dispatched_before_failure", fmt.Sprint(i))
		}
		s.dispatched.Add(1)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove spool file: %w", err)
	}
	slog.Debug("spool file dispatched",
		slog.String("file", filepath.Base(path)),
		slog.Int("requests", len(reqs)))
	return nil
}

// DecodeRequests parses one request object or an array of them and
// validates each.
func DecodeRequests(data []byte) ([]*indexing.Request, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeSpoolRejected, "spool file is empty", nil)
	}

	var reqs []*indexing.Request
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if trimmed[0] == '[' {
		err := dec.Decode(&reqs)
		if err != nil {
			return nil, apperrors.New(apperrors.ErrCodeSpoolRejected, "spool file is not a request array", err)
		}
	} else {
		var req indexing.Request
		if err := dec.Decode(&req); err != nil {
			return nil, apperrors.New(apperrors.ErrCodeSpoolRejected, "spool file is not a request", err)
		}
		reqs = append(reqs, &req)
	}
	if len(reqs) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeSpoolRejected, "spool file holds no requests", nil)
	}

	for i, req := range reqs {
		if req == nil {
			return nil, apperrors.New(apperrors.ErrCodeSpoolRejected, "null request", nil).
				WithDetail("index", fmt.Sprint(i))
		}
		if err := req.Validate(); err != nil {
			return nil, apperrors.WrapTarget(apperrors.ErrCodeSpoolRejected, req.TargetID, err).
				WithDetail("index", fmt.Sprint(i))
		}
	}
	return reqs, nil
}

// reject moves path into the failed directory with an error sidecar.
func (s *Spool) reject(path string, cause error) error {
	s.rejected.Add(1)
	if err := os.MkdirAll(s.failedDir, 0755); err != nil {
		return fmt.Errorf("create failed directory: %w", err)
	}

	dest := filepath.Join(s.failedDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("move rejected spool file: %w", err)
	}
	if sidecar, err := apperrors.FormatJSON(cause); err == nil {
		_ = os.WriteFile(dest+errorSuffix, sidecar, 0644)
	}

	slog.Warn("spool file rejected",
		append([]any{slog.String("file", filepath.Base(path))}, apperrors.LogAttrs(cause)...)...)
	return nil
}

func isRequestFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, RequestExt) &&
		!strings.HasSuffix(base, errorSuffix) &&
		!strings.HasPrefix(base, ".")
}

// Submit writes reqs as one request file in dir, using a temporary name and
// a rename so the watcher never sees a partial file. It returns the final path.
func Submit(dir string, reqs ...*indexing.Request) (string, error) {
	if len(reqs) == 0 {
		return "", apperrors.ArgumentError(apperrors.ErrCodeInvalidInput, "", "nothing to submit")
	}
	for _, r := range reqs {
		if err := r.Validate(); err != nil {
			return "", err
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create spool directory: %w", err)
	}

	var payload any = reqs
	if len(reqs) == 1 {
		payload = reqs[0]
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode spool request: %w", err)
	}

	name := fmt.Sprintf("%d-%s%s", time.Now().UnixNano(), reqs[0].ID, RequestExt)
	final := filepath.Join(dir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("write spool request: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("publish spool request: %w", err)
	}
	return final, nil
}

// Backlog counts request files waiting in dir and files rejected into its
// failed directory. A missing directory counts as empty.
func Backlog(dir string) (queued, rejected int, err error) {
	count := func(d string) (int, error) {
		entries, err := os.ReadDir(d)
		if os.IsNotExist(err) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		n := 0
		for _, e := range entries {
			if !e.IsDir() && isRequestFile(e.Name()) {
				n++
			}
		}
		return n, nil
	}

	if queued, err = count(dir); err != nil {
		return 0, 0, fmt.Errorf("read spool directory: %w", err)
	}
	if rejected, err = count(filepath.Join(dir, FailedDir)); err != nil {
		return 0, 0, fmt.Errorf("read failed directory: %w", err)
	}
	return queued, rejected, nil
}
