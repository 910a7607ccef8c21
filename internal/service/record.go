package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"docmerge/internal/classify"
	"docmerge/internal/effects"
	"docmerge/internal/formtree"
	"docmerge/internal/merge"
	"docmerge/internal/model"
	"docmerge/internal/repository"
	"docmerge/internal/resolve"
	"docmerge/internal/schema"
)

var (
	ErrIDRequired    = errors.New("id is required")
	ErrNotFound      = errors.New("record not found")
	ErrUnknownEntity = errors.New("unknown entity")
)

// Submission is one multipart or urlencoded form: flat field bindings plus
// the uploaded files in the order they were received.
type Submission struct {
	Fields map[string][]string
	Files  []model.Upload
}

// RecordListResult is the service-level DTO for paginated records.
type RecordListResult struct {
	Items []model.Record `json:"data"`
	Total int            `json:"total"`
}

// RecordService defines the use cases for entity records and their attachments.
type RecordService interface {
	// Create builds a new record from a submission and persists its files.
	Create(ctx context.Context, entity string, sub Submission) (*model.Record, error)

	// Update merges a submission into an existing record. Files it supersedes
	// are removed once the new version is stored.
	Update(ctx context.Context, entity, id string, sub Submission, mode merge.Mode) (*model.Record, error)

	// Get returns a single record by entity and ID.
	Get(ctx context.Context, entity, id string) (*model.Record, error)

	// List returns records of one entity using limit/offset and a total count.
	List(ctx context.Context, entity string, limit, offset int) (*RecordListResult, error)

	// DeleteAttachment removes one stored file and clears its reference.
	DeleteAttachment(ctx context.Context, entity, id string, ref resolve.Reference) (*model.Record, error)

	// Delete removes a record and then every file it referenced.
	Delete(ctx context.Context, entity, id string) error
}

// Limits bound how much structure a single submission may carry.
type Limits struct {
	MaxIndexedGroups int
	MaxFieldIndex    int
}

// Option configures the record service.
type Option func(*recordService)

// WithLogger sets the logger used for ignored uploads.
func WithLogger(l zerolog.Logger) Option {
	return func(s *recordService) { s.log = l }
}

// WithLimits overrides the default submission limits.
func WithLimits(l Limits) Option {
	return func(s *recordService) {
		if l.MaxIndexedGroups > 0 {
			s.limits.MaxIndexedGroups = l.MaxIndexedGroups
		}
		if l.MaxFieldIndex > 0 {
			s.limits.MaxFieldIndex = l.MaxFieldIndex
		}
	}
}

// WithMerger replaces the merger, e.g. to fix ids and clock in tests.
func WithMerger(m *merge.Merger) Option {
	return func(s *recordService) { s.merger = m }
}

// recordService is a concrete implementation of RecordService.
type recordService struct {
	repo   repository.RecordRepository
	exec   *effects.Executor
	merger *merge.Merger
	log    zerolog.Logger
	limits Limits
	tracer trace.Tracer
	now    func() time.Time
}

// NewRecordService constructs a new RecordService.
func NewRecordService(repo repository.RecordRepository, exec *effects.Executor, opts ...Option) RecordService {
	s := &recordService{
		repo:   repo,
		exec:   exec,
		merger: merge.New(),
		log:    zerolog.Nop(),
		limits: Limits{
			MaxIndexedGroups: classify.DefaultMaxIndexedGroups,
			MaxFieldIndex:    formtree.DefaultMaxIndex,
		},
		tracer: otel.Tracer("docmerge/internal/service"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *recordService) start(ctx context.Context, op, entity string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "RecordService."+op, trace.WithAttributes(attribute.String("docmerge.entity", entity)))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func lookup(entity string) (*schema.Schema, error) {
	sc, ok := schema.Lookup(entity)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	return sc, nil
}

func (s *recordService) find(ctx context.Context, entity, id string) (*model.Record, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	rec, err := s.repo.FindByID(ctx, entity, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *recordService) Create(ctx context.Context, entity string, sub Submission) (rec *model.Record, err error) {
	ctx, span := s.start(ctx, "Create", entity)
	defer func() { finish(span, err) }()

	sc, err := lookup(entity)
	if err != nil {
		return nil, err
	}
	return s.save(ctx, sc, nil, sub, merge.ModeReplace)
}

func (s *recordService) Update(ctx context.Context, entity, id string, sub Submission, mode merge.Mode) (rec *model.Record, err error) {
	ctx, span := s.start(ctx, "Update", entity)
	defer func() { finish(span, err) }()

	sc, err := lookup(entity)
	if err != nil {
		return nil, err
	}
	prior, err := s.find(ctx, entity, id)
	if err != nil {
		return nil, err
	}
	return s.save(ctx, sc, prior, sub, mode)
}

// save runs the engine: build the form tree, classify the files, merge,
// persist new files, commit the record and finally remove superseded files.
// Structural errors return before anything is written.
func (s *recordService) save(ctx context.Context, sc *schema.Schema, prior *model.Record, sub Submission, mode merge.Mode) (*model.Record, error) {
	tree, err := formtree.NewBuilder(
		formtree.WithCollections(sc.CollectionFields()...),
		formtree.WithMaxIndex(s.limits.MaxFieldIndex),
	).Build(sub.Fields)
	if err != nil {
		return nil, err
	}

	files, err := classify.New(sc, s.limits.MaxIndexedGroups).Classify(sub.Files)
	if err != nil {
		return nil, err
	}

	res, err := s.merger.Merge(merge.Input{
		Schema: sc,
		Tree:   tree,
		Files:  files,
		Prior:  prior,
		Mode:   mode,
	})
	if err != nil {
		return nil, err
	}
	s.logIgnored(sc.Entity, "no matching file slot", files.Unmatched)
	s.logIgnored(sc.Entity, "sub-document index not submitted", res.Dropped)

	paths, err := s.exec.Persist(ctx, sc.Category, res.Pending)
	if err != nil {
		return nil, fmt.Errorf("persist files: %w", err)
	}
	if err := res.Apply(paths); err != nil {
		s.exec.Discard(ctx, paths)
		return nil, err
	}

	if prior == nil {
		err = s.repo.Create(ctx, res.Record)
	} else {
		err = s.repo.Update(ctx, res.Record)
	}
	if err != nil {
		s.exec.Discard(ctx, paths)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db save failed: %w", err)
	}

	s.exec.RemoveFiles(ctx, res.Obsolete)
	return res.Record, nil
}

func (s *recordService) logIgnored(entity, reason string, files []model.Upload) {
	for _, f := range files {
		s.log.Warn().
			Str("entity", entity).
			Str("field", f.FieldName).
			Str("filename", f.Filename).
			Str("reason", reason).
			Msg("upload ignored")
	}
}

func (s *recordService) Get(ctx context.Context, entity, id string) (rec *model.Record, err error) {
	ctx, span := s.start(ctx, "Get", entity)
	defer func() { finish(span, err) }()

	if _, err := lookup(entity); err != nil {
		return nil, err
	}
	return s.find(ctx, entity, id)
}

// List returns paginated records without exposing repository types.
func (s *recordService) List(ctx context.Context, entity string, limit, offset int) (out *RecordListResult, err error) {
	ctx, span := s.start(ctx, "List", entity)
	defer func() { finish(span, err) }()

	if _, err := lookup(entity); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	res, err := s.repo.List(ctx, entity, repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return &RecordListResult{Items: res.Items, Total: res.Total}, nil
}

// DeleteAttachment deletes the stored file first and then commits the
// cleared reference; a failed commit leaves a dangling reference that a
// retry of the same request clears.
func (s *recordService) DeleteAttachment(ctx context.Context, entity, id string, ref resolve.Reference) (rec *model.Record, err error) {
	ctx, span := s.start(ctx, "DeleteAttachment", entity)
	defer func() { finish(span, err) }()
	span.SetAttributes(attribute.String("docmerge.reference", ref.String()))

	sc, err := lookup(entity)
	if err != nil {
		return nil, err
	}
	rec, err = s.find(ctx, entity, id)
	if err != nil {
		return nil, err
	}
	plan, err := resolve.Resolve(sc, rec, ref)
	if err != nil {
		return nil, err
	}

	if !s.exec.Remove(ctx, rec, plan) {
		return rec, nil
	}
	rec.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db save failed: %w", err)
	}
	return rec, nil
}

// Delete removes the record, then its files. File removal is best-effort.
func (s *recordService) Delete(ctx context.Context, entity, id string) (err error) {
	ctx, span := s.start(ctx, "Delete", entity)
	defer func() { finish(span, err) }()

	if _, err := lookup(entity); err != nil {
		return err
	}
	rec, err := s.find(ctx, entity, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, entity, id); err != nil {
		return err
	}
	s.exec.RemoveFiles(ctx, rec.Paths())
	return nil
}
