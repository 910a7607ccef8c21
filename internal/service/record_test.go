package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docmerge/internal/effects"
	"docmerge/internal/errs"
	"docmerge/internal/merge"
	"docmerge/internal/model"
	"docmerge/internal/repository"
	repoMocks "docmerge/internal/repository/mocks"
	"docmerge/internal/resolve"
	"docmerge/internal/storage"
	storeMocks "docmerge/internal/storage/mocks"
)

var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

// memRepo is an in-memory RecordRepository for end-to-end service tests.
type memRepo struct {
	recs map[string]*model.Record
}

func newMemRepo() *memRepo { return &memRepo{recs: map[string]*model.Record{}} }

func (r *memRepo) key(entity, id string) string { return entity + "/" + id }

func (r *memRepo) Ping(context.Context) error { return nil }

func (r *memRepo) Create(_ context.Context, rec *model.Record) error {
	r.recs[r.key(rec.Entity, rec.ID)] = rec.Clone()
	return nil
}

func (r *memRepo) FindByID(_ context.Context, entity, id string) (*model.Record, error) {
	rec, ok := r.recs[r.key(entity, id)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *memRepo) Update(_ context.Context, rec *model.Record) error {
	k := r.key(rec.Entity, rec.ID)
	if _, ok := r.recs[k]; !ok {
		return repository.ErrNotFound
	}
	r.recs[k] = rec.Clone()
	return nil
}

func (r *memRepo) List(_ context.Context, entity string, pq repository.PageQuery) (*repository.PageResult[model.Record], error) {
	items := []model.Record{}
	for _, rec := range r.recs {
		if rec.Entity == entity {
			items = append(items, *rec.Clone())
		}
	}
	return &repository.PageResult[model.Record]{Items: items, Total: len(items)}, nil
}

func (r *memRepo) Delete(_ context.Context, entity, id string) error {
	delete(r.recs, r.key(entity, id))
	return nil
}

type fixture struct {
	svc   RecordService
	repo  *memRepo
	store storage.Storage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewFilesystem(memfs.New())
	n := 0
	exec, err := effects.New(store, effects.WithClock(func() time.Time {
		n++
		return fixedNow.Add(time.Duration(n) * time.Millisecond)
	}))
	require.NoError(t, err)
	id := 0
	merger := merge.New(
		merge.WithIDFunc(func() string { id++; return fmt.Sprintf("id-%d", id) }),
		merge.WithClock(func() time.Time { return fixedNow }),
	)
	repo := newMemRepo()
	return &fixture{
		svc:   NewRecordService(repo, exec, WithMerger(merger)),
		repo:  repo,
		store: store,
	}
}

func (f *fixture) exists(t *testing.T, path string) bool {
	t.Helper()
	_, err := f.store.Stat(context.Background(), path)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

func upload(field, name string) model.Upload {
	body := "content of " + name
	return model.Upload{
		FieldName:   field,
		Filename:    name,
		Size:        int64(len(body)),
		ContentType: "application/octet-stream",
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		},
	}
}

func TestRecordService_LocalPhotosLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.Create(ctx, "property", Submission{
		Fields: map[string][]string{"locals[0][name]": {"A"}},
		Files:  []model.Upload{upload("localPhotos_0", "p1.jpg"), upload("localPhotos_0", "p2.jpg")},
	})
	require.NoError(t, err)
	require.Len(t, created.Collections["locals"], 1)
	local := created.Collections["locals"][0]
	assert.Equal(t, "A", local.Fields["name"])
	require.Len(t, local.Files, 2)
	for _, p := range local.Files {
		assert.True(t, strings.HasPrefix(p, "properties/localPhotos/"), p)
		assert.True(t, f.exists(t, p), p)
	}
	oldPhotos := local.Files

	updated, err := f.svc.Update(ctx, "property", created.ID, Submission{
		Fields: map[string][]string{"locals[0][name]": {"A2"}},
	}, merge.ModeReplace)
	require.NoError(t, err)
	require.Len(t, updated.Collections["locals"], 1)
	assert.Equal(t, "A2", updated.Collections["locals"][0].Fields["name"])
	assert.Empty(t, updated.Collections["locals"][0].Files)
	for _, p := range oldPhotos {
		assert.False(t, f.exists(t, p), "photo of the replaced local must be removed: %s", p)
	}

	stored, err := f.svc.Get(ctx, "property", created.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Collections["locals"][0].Files)
}

func TestRecordService_CarryForwardByID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.Create(ctx, "property", Submission{
		Fields: map[string][]string{"locals[0][name]": {"A"}},
		Files:  []model.Upload{upload("localPhotos_0", "p1.jpg")},
	})
	require.NoError(t, err)
	subID := created.Collections["locals"][0].ID
	photo := created.Collections["locals"][0].Files[0]

	updated, err := f.svc.Update(ctx, "property", created.ID, Submission{
		Fields: map[string][]string{
			"locals[0][id]":   {subID},
			"locals[0][name]": {"A2"},
		},
		Files: []model.Upload{upload("localPhotos_0", "p2.jpg")},
	}, merge.ModeReplace)
	require.NoError(t, err)

	files := updated.Collections["locals"][0].Files
	require.Len(t, files, 2)
	assert.Equal(t, photo, files[0])
	assert.True(t, f.exists(t, photo))
	assert.True(t, f.exists(t, files[1]))
}

func TestRecordService_SingleReplacementRemovesOldFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.Create(ctx, "artwork", Submission{
		Fields: map[string][]string{"title": {"Sunflowers"}},
		Files:  []model.Upload{upload("certificate", "old.pdf"), upload("photos", "a.jpg")},
	})
	require.NoError(t, err)
	oldCert := created.Singles["certificate"]
	require.NotEmpty(t, oldCert)

	updated, err := f.svc.Update(ctx, "artwork", created.ID, Submission{
		Files: []model.Upload{upload("certificate", "new.pdf"), upload("photos", "b.jpg")},
	}, merge.ModeReplace)
	require.NoError(t, err)

	newCert := updated.Singles["certificate"]
	assert.NotEqual(t, oldCert, newCert)
	assert.False(t, f.exists(t, oldCert))
	assert.True(t, f.exists(t, newCert))
	assert.Len(t, updated.Arrays["photos"], 2, "arrays are append-only")
	assert.Equal(t, "Sunflowers", updated.Fields["title"])
}

func TestRecordService_PatchKeepsOmittedCollection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.Create(ctx, "physical_person", Submission{
		Fields: map[string][]string{
			"creditos[0][banco]": {"BBVA"},
			"seguros[0][poliza]": {"P-1"},
		},
		Files: []model.Upload{upload("creditFile_0", "c.pdf")},
	})
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, "physical_person", created.ID, Submission{
		Fields: map[string][]string{"seguros[0][poliza]": {"P-2"}},
	}, merge.ModePatch)
	require.NoError(t, err)

	require.Len(t, updated.Collections["creditos"], 1)
	assert.Equal(t, created.Collections["creditos"][0].Files, updated.Collections["creditos"][0].Files)
	assert.Equal(t, "P-2", updated.Collections["seguros"][0].Fields["poliza"])
}

func TestRecordService_DeleteAttachment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.Create(ctx, "physical_person", Submission{
		Files: []model.Upload{upload("rfcFile", "rfc.pdf"), upload("insuranceFile_0", "policy.pdf")},
		Fields: map[string][]string{
			"seguros[0][poliza]": {"P-1"},
		},
	})
	require.NoError(t, err)
	rfc := created.Singles["rfcFile"]
	policy := created.Collections["seguros"][0].Files[0]

	rec, err := f.svc.DeleteAttachment(ctx, "physical_person", created.ID, resolve.FieldRef{Field: "rfcFile"})
	require.NoError(t, err)
	assert.Empty(t, rec.Singles["rfcFile"])
	assert.False(t, f.exists(t, rfc))

	_, err = f.svc.DeleteAttachment(ctx, "physical_person", created.ID, resolve.FieldRef{Field: "rfcFile"})
	var nf *errs.NotFoundError
	assert.ErrorAs(t, err, &nf, "an already cleared reference no longer resolves")

	rec, err = f.svc.DeleteAttachment(ctx, "physical_person", created.ID,
		resolve.CompositeRef{GroupType: "insurance", MainIndex: 0, FileIndex: 0})
	require.NoError(t, err)
	assert.Empty(t, rec.Collections["seguros"][0].Files)
	assert.False(t, f.exists(t, policy))

	stored, err := f.svc.Get(ctx, "physical_person", created.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Singles["rfcFile"])
	assert.Empty(t, stored.Collections["seguros"][0].Files)
}

func TestRecordService_DeleteRemovesFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.Create(ctx, "association", Submission{
		Fields: map[string][]string{"archivosAdicionales[0][descripcion]": {"minutes"}},
		Files: []model.Upload{
			upload("logo", "logo.png"),
			upload("photos", "p.jpg"),
			upload("additionalFile_0", "minutes.pdf"),
		},
	})
	require.NoError(t, err)
	paths := created.Paths()
	require.Len(t, paths, 3)

	require.NoError(t, f.svc.Delete(ctx, "association", created.ID))

	for _, p := range paths {
		assert.False(t, f.exists(t, p), p)
	}
	_, err = f.svc.Get(ctx, "association", created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordService_IgnoredUploadsAreNotPersisted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.Create(ctx, "property", Submission{
		Fields: map[string][]string{"locals[0][name]": {"A"}},
		Files: []model.Upload{
			upload("unknownField", "x.bin"),
			upload("localPhotos_3", "orphan.jpg"),
			upload("escritura", "deed.pdf"),
			upload("escritura", "second-deed.pdf"),
		},
	})
	require.NoError(t, err)

	assert.Len(t, created.Paths(), 1)
	assert.Empty(t, created.Collections["locals"][0].Files)
}

func TestRecordService_StructuralErrorsWriteNothing(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		entity string
		sub    Submission
		check  func(t *testing.T, err error)
	}{
		{
			name:   "malformed index",
			entity: "property",
			sub:    Submission{Fields: map[string][]string{"locals[x][name]": {"A"}}},
			check: func(t *testing.T, err error) {
				var ve *errs.ValidationError
				assert.ErrorAs(t, err, &ve)
			},
		},
		{
			name:   "shape conflict",
			entity: "property",
			sub:    Submission{Fields: map[string][]string{"a": {"1"}, "a[b]": {"2"}}},
			check: func(t *testing.T, err error) {
				var se *errs.ShapeConflictError
				assert.ErrorAs(t, err, &se)
			},
		},
		{
			name:   "too many indexed groups",
			entity: "physical_person",
			sub:    Submission{Files: []model.Upload{upload("fotos", "a.jpg"), upload("creditFile_12", "c.pdf")}},
			check: func(t *testing.T, err error) {
				var te *errs.TooManyIndexedGroupsError
				assert.ErrorAs(t, err, &te)
			},
		},
		{
			name:   "unknown entity",
			entity: "spaceship",
			sub:    Submission{},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrUnknownEntity)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mStore := new(storeMocks.MockStorage)
			mRepo := new(repoMocks.MockRecordRepository)
			exec, err := effects.New(mStore)
			require.NoError(t, err)
			svc := NewRecordService(mRepo, exec)

			rec, err := svc.Create(ctx, tt.entity, tt.sub)

			assert.Nil(t, rec)
			tt.check(t, err)
			assert.True(t, errs.IsStructural(err) || errors.Is(err, ErrUnknownEntity))
			mStore.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			mRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestRecordService_Create_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("storage failure skips the record write", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		mRepo := new(repoMocks.MockRecordRepository)
		exec, err := effects.New(mStore)
		require.NoError(t, err)
		svc := NewRecordService(mRepo, exec)

		mStore.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(storage.ObjectInfo{}, errors.New("bucket unavailable")).Once()

		rec, err := svc.Create(ctx, "artwork", Submission{Files: []model.Upload{upload("certificate", "c.pdf")}})

		assert.Nil(t, rec)
		var sErr *errs.StorageIOError
		assert.ErrorAs(t, err, &sErr)
		assert.Contains(t, err.Error(), "persist files")
		mStore.AssertExpectations(t)
		mRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("db failure discards written files", func(t *testing.T) {
		store := storage.NewFilesystem(memfs.New())
		mRepo := new(repoMocks.MockRecordRepository)
		exec, err := effects.New(store)
		require.NoError(t, err)
		svc := NewRecordService(mRepo, exec)

		var written []string
		mRepo.On("Create", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				written = args.Get(1).(*model.Record).Paths()
			}).
			Return(errors.New("db fail")).Once()

		rec, err := svc.Create(ctx, "artwork", Submission{Files: []model.Upload{
			upload("certificate", "c.pdf"),
			upload("photos", "p.jpg"),
		}})

		assert.Nil(t, rec)
		assert.ErrorContains(t, err, "db save failed: db fail")
		require.Len(t, written, 2)
		for _, p := range written {
			_, err := store.Stat(ctx, p)
			assert.ErrorIs(t, err, storage.ErrObjectNotFound, p)
		}
		mRepo.AssertExpectations(t)
	})
}

func TestRecordService_Get(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		entity     string
		id         string
		setupMocks func(mRepo *repoMocks.MockRecordRepository)
		wantErr    error
		anyErr     bool
	}{
		{
			name:   "happy path",
			entity: "property",
			id:     "valid-id",
			setupMocks: func(mRepo *repoMocks.MockRecordRepository) {
				mRepo.On("FindByID", mock.Anything, "property", "valid-id").
					Return(&model.Record{ID: "valid-id", Entity: "property"}, nil)
			},
		},
		{
			name:       "validation - empty id",
			entity:     "property",
			setupMocks: func(mRepo *repoMocks.MockRecordRepository) {},
			wantErr:    ErrIDRequired,
		},
		{
			name:       "unknown entity",
			entity:     "spaceship",
			id:         "x",
			setupMocks: func(mRepo *repoMocks.MockRecordRepository) {},
			wantErr:    ErrUnknownEntity,
		},
		{
			name:   "not found",
			entity: "property",
			id:     "missing-id",
			setupMocks: func(mRepo *repoMocks.MockRecordRepository) {
				mRepo.On("FindByID", mock.Anything, "property", "missing-id").Return(nil, repository.ErrNotFound)
			},
			wantErr: ErrNotFound,
		},
		{
			name:   "generic repository error",
			entity: "property",
			id:     "error-id",
			setupMocks: func(mRepo *repoMocks.MockRecordRepository) {
				mRepo.On("FindByID", mock.Anything, "property", "error-id").Return(nil, errors.New("db fail"))
			},
			anyErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mRepo := new(repoMocks.MockRecordRepository)
			svc := NewRecordService(mRepo, nil)

			tt.setupMocks(mRepo)

			rec, err := svc.Get(ctx, tt.entity, tt.id)

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, rec)
			case tt.anyErr:
				assert.Error(t, err)
				assert.Nil(t, rec)
			default:
				assert.NoError(t, err)
				assert.Equal(t, tt.id, rec.ID)
			}
			mRepo.AssertExpectations(t)
		})
	}
}

func TestRecordService_List(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		limit      int
		offset     int
		setupMocks func(mRepo *repoMocks.MockRecordRepository)
		wantErr    bool
		wantTotal  int
	}{
		{
			name:   "happy path",
			limit:  10,
			offset: 0,
			setupMocks: func(mRepo *repoMocks.MockRecordRepository) {
				mRepo.On("List", mock.Anything, "artwork", repository.PageQuery{Limit: 10, Offset: 0}).
					Return(&repository.PageResult[model.Record]{
						Items: []model.Record{{ID: "1"}, {ID: "2"}},
						Total: 2,
					}, nil)
			},
			wantTotal: 2,
		},
		{
			name:   "pagination boundary - zero limit uses default",
			limit:  0,
			offset: -1,
			setupMocks: func(mRepo *repoMocks.MockRecordRepository) {
				mRepo.On("List", mock.Anything, "artwork", repository.PageQuery{Limit: 10, Offset: 0}).
					Return(&repository.PageResult[model.Record]{Items: []model.Record{}, Total: 0}, nil)
			},
		},
		{
			name:  "repository error",
			limit: 10,
			setupMocks: func(mRepo *repoMocks.MockRecordRepository) {
				mRepo.On("List", mock.Anything, "artwork", mock.Anything).Return(nil, errors.New("db fail"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mRepo := new(repoMocks.MockRecordRepository)
			svc := NewRecordService(mRepo, nil)

			tt.setupMocks(mRepo)

			res, err := svc.List(ctx, "artwork", tt.limit, tt.offset)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantTotal, res.Total)
				assert.Len(t, res.Items, tt.wantTotal)
			}
			mRepo.AssertExpectations(t)
		})
	}
}

func TestRecordService_UpdateRaceWithDelete(t *testing.T) {
	ctx := context.Background()
	store := storage.NewFilesystem(memfs.New())
	mRepo := new(repoMocks.MockRecordRepository)
	exec, err := effects.New(store)
	require.NoError(t, err)
	svc := NewRecordService(mRepo, exec)

	prior := model.NewRecord("artwork")
	prior.ID = "a-1"
	mRepo.On("FindByID", mock.Anything, "artwork", "a-1").Return(prior, nil).Once()
	mRepo.On("Update", mock.Anything, mock.Anything).Return(repository.ErrNotFound).Once()

	_, err = svc.Update(ctx, "artwork", "a-1", Submission{Files: []model.Upload{upload("photos", "p.jpg")}}, merge.ModeReplace)

	assert.ErrorIs(t, err, ErrNotFound)
	mRepo.AssertExpectations(t)
}

func TestMemRepoListIsScopedToEntity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, entity := range []string{"artwork", "artwork", "property"} {
		_, err := f.svc.Create(ctx, entity, Submission{})
		require.NoError(t, err)
	}
	res, err := f.svc.List(ctx, "artwork", 10, 0)
	require.NoError(t, err)

	ids := make([]string, 0, len(res.Items))
	for _, r := range res.Items {
		ids = append(ids, r.ID)
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"id-1", "id-2"}, ids)
}
