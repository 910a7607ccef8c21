// Package resolve turns an attachment deletion request into the exact
// location of the reference to clear and the stored file to delete.
package resolve

import (
	"fmt"
	"strings"

	"docmerge/internal/errs"
	"docmerge/internal/model"
	"docmerge/internal/schema"
)

// Reference is one of FieldRef, SuffixRef or CompositeRef.
type Reference interface {
	fmt.Stringer
	reference()
}

// FieldRef names a Single slot directly.
type FieldRef struct {
	Field string
}

// SuffixRef matches the trailing segment(s) of a stored path, typically
// the stored filename.
type SuffixRef struct {
	Suffix string
}

// CompositeRef addresses file FileIndex of sub-document MainIndex in the
// collection with the given group type.
type CompositeRef struct {
	GroupType string
	MainIndex int
	FileIndex int
}

func (FieldRef) reference()     {}
func (SuffixRef) reference()    {}
func (CompositeRef) reference() {}

func (r FieldRef) String() string  { return "field " + r.Field }
func (r SuffixRef) String() string { return "suffix " + r.Suffix }
func (r CompositeRef) String() string {
	return fmt.Sprintf("group %s[%d] file %d", r.GroupType, r.MainIndex, r.FileIndex)
}

// RemovalPlan pairs the reference to clear with the stored file to delete.
type RemovalPlan struct {
	Target     model.Location
	StoredPath string
}

// Resolve locates ref in rec. Suffix matches scan Single slots, then Array
// slots, then each collection's sub-documents, all in schema order, and the
// first match wins.
func Resolve(s *schema.Schema, rec *model.Record, ref Reference) (RemovalPlan, error) {
	switch r := ref.(type) {
	case FieldRef:
		if !s.IsSingle(r.Field) {
			return RemovalPlan{}, &errs.NotFoundError{What: fmt.Sprintf("%s is not an attachment field of %s", r.Field, s.Entity)}
		}
		return plan(rec, model.Location{Kind: model.SlotSingle, Field: r.Field}, r)
	case SuffixRef:
		return bySuffix(s, rec, r)
	case CompositeRef:
		coll, ok := s.CollectionByGroup(r.GroupType)
		if !ok {
			return RemovalPlan{}, &errs.NotFoundError{What: fmt.Sprintf("group %s is not declared for %s", r.GroupType, s.Entity)}
		}
		return plan(rec, model.Location{Kind: model.SlotGroup, Field: coll.Field, Index: r.MainIndex, Pos: r.FileIndex}, r)
	default:
		return RemovalPlan{}, fmt.Errorf("resolve: unsupported reference %T", ref)
	}
}

func plan(rec *model.Record, loc model.Location, ref Reference) (RemovalPlan, error) {
	p, ok := rec.PathAt(loc)
	if !ok {
		return RemovalPlan{}, &errs.NotFoundError{What: ref.String()}
	}
	return RemovalPlan{Target: loc, StoredPath: p}, nil
}

func bySuffix(s *schema.Schema, rec *model.Record, r SuffixRef) (RemovalPlan, error) {
	suffix := strings.TrimPrefix(r.Suffix, "/")
	if suffix == "" {
		return RemovalPlan{}, &errs.NotFoundError{What: "empty suffix"}
	}
	match := func(p string) bool {
		return p == suffix || strings.HasSuffix(p, "/"+suffix)
	}

	for _, name := range s.Singles {
		if p := rec.Singles[name]; p != "" && match(p) {
			return RemovalPlan{Target: model.Location{Kind: model.SlotSingle, Field: name}, StoredPath: p}, nil
		}
	}
	for _, name := range s.Arrays {
		for i, p := range rec.Arrays[name] {
			if match(p) {
				return RemovalPlan{Target: model.Location{Kind: model.SlotArray, Field: name, Pos: i}, StoredPath: p}, nil
			}
		}
	}
	for _, coll := range s.Collections {
		for i, sub := range rec.Collections[coll.Field] {
			for j, p := range sub.Files {
				if match(p) {
					return RemovalPlan{Target: model.Location{Kind: model.SlotGroup, Field: coll.Field, Index: i, Pos: j}, StoredPath: p}, nil
				}
			}
		}
	}
	return RemovalPlan{}, &errs.NotFoundError{What: r.String()}
}
