// Package effects performs the storage side effects decided by a merge or a
// deletion: persisting accepted uploads, removing superseded files and
// clearing attachment references.
package effects

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"docmerge/internal/errs"
	"docmerge/internal/merge"
	"docmerge/internal/model"
	"docmerge/internal/resolve"
	"docmerge/internal/storage"
)

// Removal outcomes, used as the result label of the removal counter.
const (
	ResultDeleted = "deleted"
	ResultMissing = "missing"
	ResultError   = "error"
)

// Executor writes and removes attachment files. It holds no per-request
// state and is safe for concurrent use.
type Executor struct {
	store  storage.Storage
	log    zerolog.Logger
	now    func() time.Time
	suffix func() string
	reg    prometheus.Registerer

	persisted *prometheus.CounterVec
	removed   *prometheus.CounterVec
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for best-effort failures.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// WithClock overrides the clock used for storage keys.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithRegisterer registers the executor counters on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Executor) { e.reg = reg }
}

// New returns an Executor over store.
func New(store storage.Storage, opts ...Option) (*Executor, error) {
	e := &Executor{
		store:  store,
		log:    zerolog.Nop(),
		now:    time.Now,
		suffix: func() string { return uuid.NewString()[:8] },
		persisted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docmerge_files_persisted_total",
				Help: "Uploaded files written to storage, by slot.",
			},
			[]string{"slot"},
		),
		removed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docmerge_files_removed_total",
				Help: "Stored files removed, by outcome.",
			},
			[]string{"result"},
		),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.reg != nil {
		for _, c := range []prometheus.Collector{e.persisted, e.removed} {
			if err := e.reg.Register(c); err != nil {
				return nil, fmt.Errorf("register executor metrics: %w", err)
			}
		}
	}
	return e, nil
}

// Key builds the storage key for a new file:
// <category>/<slot>/<unix-millis>-<8 hex>[.<ext>].
func (e *Executor) Key(category, slot, filename string) string {
	return fmt.Sprintf("%s/%s/%d-%s%s", category, slot, e.now().UnixMilli(), e.suffix(), extension(filename))
}

// extension returns the lower-cased extension of filename including the
// dot, or "" when it is missing or not purely alphanumeric.
func extension(filename string) string {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(filename, "\\", "/")))
	if len(ext) < 2 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// Persist writes every pending upload in order and returns their storage
// paths, index-aligned with pending. On the first failure the files already
// written by this call are deleted and a *errs.StorageIOError is returned.
func (e *Executor) Persist(ctx context.Context, category string, pending []merge.Pending) ([]string, error) {
	paths := make([]string, 0, len(pending))
	for _, p := range pending {
		key := e.Key(category, p.Slot, p.File.Filename)
		if err := e.put(ctx, key, p.File); err != nil {
			e.Discard(ctx, paths)
			return nil, err
		}
		e.persisted.WithLabelValues(p.Slot).Inc()
		paths = append(paths, key)
	}
	return paths, nil
}

func (e *Executor) put(ctx context.Context, key string, f model.Upload) error {
	if f.Open == nil {
		return &errs.StorageIOError{Op: "open", Path: f.Filename, Err: errors.New("upload has no content")}
	}
	rc, err := f.Open()
	if err != nil {
		return &errs.StorageIOError{Op: "open", Path: f.Filename, Err: err}
	}
	defer rc.Close()

	size := f.Size
	if size <= 0 {
		size = -1
	}
	_, err = e.store.Put(ctx, key, rc, storage.PutObjectOptions{
		Size:        size,
		ContentType: f.ContentType,
		Metadata:    map[string]string{"original-filename": f.Filename},
	})
	if err != nil {
		return &errs.StorageIOError{Op: "put", Path: key, Err: err}
	}
	return nil
}

// Discard deletes files written for a record that was never committed.
func (e *Executor) Discard(ctx context.Context, paths []string) {
	for _, p := range paths {
		if err := e.store.Delete(ctx, p); err != nil {
			e.log.Error().Err(err).Str("path", p).Msg("discard stored file failed")
			e.removed.WithLabelValues(ResultError).Inc()
			continue
		}
		e.removed.WithLabelValues(ResultDeleted).Inc()
	}
}

// RemoveFiles deletes files no longer referenced by a committed record.
// Failures are logged and never returned.
func (e *Executor) RemoveFiles(ctx context.Context, paths []string) {
	for _, p := range paths {
		e.removeFile(ctx, p)
	}
}

// Remove deletes the stored file named by plan and then clears the
// reference from rec if the location still holds that path. It reports
// whether rec changed; repeating the call is a no-op.
func (e *Executor) Remove(ctx context.Context, rec *model.Record, plan resolve.RemovalPlan) bool {
	e.removeFile(ctx, plan.StoredPath)
	return rec.Detach(plan.Target, plan.StoredPath)
}

func (e *Executor) removeFile(ctx context.Context, p string) {
	log := e.log.With().Str("path", p).Logger()

	_, err := e.store.Stat(ctx, p)
	switch {
	case errors.Is(err, storage.ErrObjectNotFound):
		log.Warn().Msg("stored file already missing")
		e.removed.WithLabelValues(ResultMissing).Inc()
		return
	case err != nil:
		log.Warn().Err(err).Msg("stat stored file failed, deleting anyway")
	}

	if err := e.store.Delete(ctx, p); err != nil {
		log.Error().Err(&errs.StorageIOError{Op: "delete", Path: p, Err: err}).Msg("remove stored file failed")
		e.removed.WithLabelValues(ResultError).Inc()
		return
	}
	e.removed.WithLabelValues(ResultDeleted).Inc()
}
