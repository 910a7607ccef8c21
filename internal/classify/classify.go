// Package classify sorts the files of one request into the slots declared
// by an entity schema.
package classify

import (
	"regexp"
	"strconv"
	"strings"

	"docmerge/internal/errs"
	"docmerge/internal/model"
	"docmerge/internal/schema"
)

// DefaultMaxIndexedGroups is used when no bound is configured.
const DefaultMaxIndexedGroups = 10

var groupPattern = regexp.MustCompile(`^(.+?)_([0-9]+)(?:_(.*))?$`)

// GroupKey identifies the file group of one sub-document.
type GroupKey struct {
	Type  string
	Index int
}

// Result holds classified files. Within every slot, files keep the order in
// which they were submitted.
type Result struct {
	Singles   map[string]model.Upload
	Arrays    map[string][]model.Upload
	Groups    map[GroupKey][]model.Upload
	Unmatched []model.Upload
}

// Group returns the files collected for (groupType, index).
func (r *Result) Group(groupType string, index int) []model.Upload {
	return r.Groups[GroupKey{Type: groupType, Index: index}]
}

// Len counts the files assigned to a slot.
func (r *Result) Len() int {
	n := len(r.Singles)
	for _, files := range r.Arrays {
		n += len(files)
	}
	for _, files := range r.Groups {
		n += len(files)
	}
	return n
}

// Classifier applies one schema's slot rules.
type Classifier struct {
	schema    *schema.Schema
	maxGroups int
}

// New returns a Classifier. maxGroups bounds the group index; values below
// one fall back to DefaultMaxIndexedGroups.
func New(s *schema.Schema, maxGroups int) *Classifier {
	if maxGroups < 1 {
		maxGroups = DefaultMaxIndexedGroups
	}
	return &Classifier{schema: s, maxGroups: maxGroups}
}

// Classify assigns each file by priority: exact Single slot name, plain
// Array slot name, then <prefix>_<index>[_<suffix>] for a collection file
// prefix. Anything else, and any extra file for an already filled Single
// slot, is returned as Unmatched.
func (c *Classifier) Classify(files []model.Upload) (*Result, error) {
	res := &Result{
		Singles: map[string]model.Upload{},
		Arrays:  map[string][]model.Upload{},
		Groups:  map[GroupKey][]model.Upload{},
	}

	for _, f := range files {
		name := f.FieldName

		if c.schema.IsSingle(name) {
			if _, taken := res.Singles[name]; taken {
				res.Unmatched = append(res.Unmatched, f)
				continue
			}
			res.Singles[name] = f
			continue
		}

		if plain := strings.TrimSuffix(name, "[]"); c.schema.IsArray(plain) {
			res.Arrays[plain] = append(res.Arrays[plain], f)
			continue
		}

		m := groupPattern.FindStringSubmatch(name)
		if m == nil {
			res.Unmatched = append(res.Unmatched, f)
			continue
		}
		coll, ok := c.schema.CollectionByPrefix(m[1])
		if !ok {
			res.Unmatched = append(res.Unmatched, f)
			continue
		}
		idx, err := strconv.Atoi(m[2])
		if err != nil || idx >= c.maxGroups {
			if err != nil {
				idx = -1
			}
			return nil, &errs.TooManyIndexedGroupsError{Field: name, GroupType: coll.GroupType, Index: idx, Max: c.maxGroups}
		}
		key := GroupKey{Type: coll.GroupType, Index: idx}
		res.Groups[key] = append(res.Groups[key], f)
	}
	return res, nil
}
