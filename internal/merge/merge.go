// Package merge combines a submitted form tree, its classified files and the
// previously stored record into the next version of that record.
//
// Merge performs no I/O. New files come back as Pending entries; once the
// caller has persisted them, Result.Apply writes their storage paths into the
// record. Paths referenced by the prior record and no longer by the merged
// one are listed in Obsolete for removal after the record is committed.
package merge

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"docmerge/internal/classify"
	"docmerge/internal/errs"
	"docmerge/internal/formtree"
	"docmerge/internal/model"
	"docmerge/internal/schema"
)

// Mode selects how indexed collections absent from a submission are handled.
type Mode int

const (
	// ModeReplace treats the submission as the complete collection: an
	// absent collection becomes empty and indices not resubmitted are dropped.
	ModeReplace Mode = iota
	// ModePatch keeps a collection untouched when the submission omits it
	// entirely. A submitted collection is still rebuilt in full.
	ModePatch
)

// ParseMode maps the external mode name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "replace":
		return ModeReplace, nil
	case "patch":
		return ModePatch, nil
	default:
		return ModeReplace, &errs.ValidationError{Key: "mode", Token: s, Reason: "is not a merge mode (replace, patch)"}
	}
}

// Input is everything a merge depends on. Prior is nil on create.
type Input struct {
	Schema *schema.Schema
	Tree   *formtree.Tree
	Files  *classify.Result
	Prior  *model.Record
	Mode   Mode
}

// Pending is an accepted upload waiting to be persisted. Slot is the
// storage path segment the file is filed under.
type Pending struct {
	Target model.Location
	Slot   string
	File   model.Upload
}

// Result is the outcome of a merge.
type Result struct {
	Record   *model.Record
	Pending  []Pending
	Obsolete []string
	// Dropped holds group files whose sub-document index was not submitted.
	Dropped []model.Upload
}

// Apply stores the persisted paths, one per Pending entry and in the same
// order, into the merged record.
func (r *Result) Apply(paths []string) error {
	if len(paths) != len(r.Pending) {
		return fmt.Errorf("merge: got %d stored paths for %d pending files", len(paths), len(r.Pending))
	}
	for i, p := range r.Pending {
		if !r.Record.Attach(p.Target, paths[i]) {
			return fmt.Errorf("merge: no %s slot %q for pending file %q", p.Target.Kind, p.Target.Field, p.File.Filename)
		}
	}
	return nil
}

// Merger builds merged records. Identifiers and timestamps come from the
// injected functions so a merge is reproducible.
type Merger struct {
	newID func() string
	now   func() time.Time
}

// Option configures a Merger.
type Option func(*Merger)

// WithIDFunc sets the generator for record and sub-document ids.
func WithIDFunc(f func() string) Option { return func(m *Merger) { m.newID = f } }

// WithClock sets the time source.
func WithClock(f func() time.Time) Option { return func(m *Merger) { m.now = f } }

// New returns a Merger using random UUIDs and the wall clock.
func New(opts ...Option) *Merger {
	m := &Merger{newID: uuid.NewString, now: func() time.Time { return time.Now().UTC() }}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Merge produces the next record version. The prior record is not modified.
func (m *Merger) Merge(in Input) (*Result, error) {
	s := in.Schema
	now := m.now()

	var rec *model.Record
	if in.Prior != nil {
		rec = in.Prior.Clone()
		ensureMaps(rec)
	} else {
		rec = model.NewRecord(s.Entity)
		rec.ID = m.newID()
		rec.CreatedAt = now
	}
	rec.Entity = s.Entity
	rec.UpdatedAt = now
	res := &Result{Record: rec}

	for _, name := range in.Tree.Names() {
		if s.IsFileSlot(name) {
			continue
		}
		if _, ok := s.Collection(name); ok {
			continue
		}
		v, _ := in.Tree.Get(name)
		rec.Fields[name] = v
	}

	for _, name := range s.Singles {
		f, ok := in.Files.Singles[name]
		if !ok {
			continue
		}
		delete(rec.Singles, name)
		res.Pending = append(res.Pending, Pending{
			Target: model.Location{Kind: model.SlotSingle, Field: name},
			Slot:   name,
			File:   f,
		})
	}

	for _, name := range s.Arrays {
		base := len(rec.Arrays[name])
		for k, f := range in.Files.Arrays[name] {
			res.Pending = append(res.Pending, Pending{
				Target: model.Location{Kind: model.SlotArray, Field: name, Pos: base + k},
				Slot:   name,
				File:   f,
			})
		}
	}

	used := map[classify.GroupKey]bool{}
	for _, coll := range s.Collections {
		raw, present := in.Tree.Get(coll.Field)
		if !present && in.Mode == ModePatch {
			continue
		}
		var prior []model.SubDocument
		if in.Prior != nil {
			prior = in.Prior.Collections[coll.Field]
		}
		subs, err := m.rebuild(coll, raw, prior, in.Files, used, res)
		if err != nil {
			return nil, err
		}
		rec.Collections[coll.Field] = subs
	}

	keys := make([]classify.GroupKey, 0, len(in.Files.Groups))
	for k := range in.Files.Groups {
		if !used[k] {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].Index < keys[j].Index
	})
	for _, k := range keys {
		res.Dropped = append(res.Dropped, in.Files.Groups[k]...)
	}

	res.Obsolete = obsolete(in.Prior, rec)
	return res, nil
}

// rebuild turns the submitted entries of one collection into sub-documents,
// in index order, skipping indices that were never submitted.
func (m *Merger) rebuild(coll schema.Collection, raw any, prior []model.SubDocument, files *classify.Result, used map[classify.GroupKey]bool, res *Result) ([]model.SubDocument, error) {
	var items []any
	if raw != nil {
		arr, ok := raw.([]any)
		if !ok {
			return nil, &errs.ShapeConflictError{Path: coll.Field, Existing: "scalar", Incoming: "collection"}
		}
		items = arr
	}

	idField := coll.IdentifierField()
	claimed := map[int]bool{}
	out := make([]model.SubDocument, 0, len(items))
	for idx, item := range items {
		if item == nil {
			continue
		}
		submitted, ok := item.(map[string]any)
		if !ok {
			return nil, &errs.ShapeConflictError{Path: fmt.Sprintf("%s[%d]", coll.Field, idx), Existing: "scalar", Incoming: "sub-document"}
		}
		fields := model.CloneFields(submitted)
		id := identifier(fields[idField])
		delete(fields, idField)

		sub := model.SubDocument{ID: id, Fields: fields}
		if at, ok := carryForward(prior, id, idx); ok {
			if claimed[at] {
				return nil, &errs.ValidationError{Key: fmt.Sprintf("%s[%d][%s]", coll.Field, idx, idField), Token: id, Reason: "refers to a sub-document already submitted"}
			}
			claimed[at] = true
			sub.Files = append([]string(nil), prior[at].Files...)
		}
		if sub.ID == "" {
			sub.ID = m.newID()
		}

		pos := len(out)
		key := classify.GroupKey{Type: coll.GroupType, Index: idx}
		for k, f := range files.Groups[key] {
			res.Pending = append(res.Pending, Pending{
				Target: model.Location{Kind: model.SlotGroup, Field: coll.Field, Index: pos, Pos: len(sub.Files) + k},
				Slot:   coll.FilePrefix,
				File:   f,
			})
		}
		used[key] = true
		out = append(out, sub)
	}
	return out, nil
}

// carryForward finds the prior sub-document whose files become the base of
// the entry submitted at idx. A submitted id must match exactly. Without an
// id, only a prior entry at the same position that never received an id
// (data written before ids were assigned) is matched.
func carryForward(prior []model.SubDocument, id string, idx int) (int, bool) {
	if id != "" {
		for i, p := range prior {
			if p.ID == id {
				return i, true
			}
		}
		return 0, false
	}
	if idx < len(prior) && prior[idx].ID == "" {
		return idx, true
	}
	return 0, false
}

func identifier(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []string:
		if len(t) > 0 {
			return t[0]
		}
	}
	return ""
}

func obsolete(prior, merged *model.Record) []string {
	if prior == nil {
		return nil
	}
	keep := map[string]bool{}
	for _, p := range merged.Paths() {
		keep[p] = true
	}
	var out []string
	for _, p := range prior.Paths() {
		if !keep[p] {
			keep[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func ensureMaps(r *model.Record) {
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	if r.Singles == nil {
		r.Singles = map[string]string{}
	}
	if r.Arrays == nil {
		r.Arrays = map[string][]string{}
	}
	if r.Collections == nil {
		r.Collections = map[string][]model.SubDocument{}
	}
}
