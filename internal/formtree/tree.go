package formtree

import (
	"sort"

	"docmerge/internal/errs"
)

// DefaultMaxIndex bounds array growth from a single form key.
const DefaultMaxIndex = 1000

// Tree is the nested result of a build. Top-level values are string,
// []string, map[string]any or []any; array slots never referenced by a key
// are nil.
type Tree struct {
	values map[string]any
	names  []string
}

// Names returns top-level names in the order they were first bound.
func (t *Tree) Names() []string {
	return append([]string(nil), t.names...)
}

// Get returns the value bound to a top-level name.
func (t *Tree) Get(name string) (any, bool) {
	v, ok := t.values[name]
	return v, ok
}

// Len is the number of top-level names.
func (t *Tree) Len() int { return len(t.names) }

// Builder turns flat form fields into a Tree.
type Builder struct {
	collections map[string]bool
	maxIndex    int
}

// Option configures a Builder.
type Option func(*Builder)

// WithCollections declares top-level names that must be indexed arrays.
func WithCollections(names ...string) Option {
	return func(b *Builder) {
		for _, n := range names {
			b.collections[n] = true
		}
	}
}

// WithMaxIndex sets the largest accepted array index.
func WithMaxIndex(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxIndex = n
		}
	}
}

// NewBuilder returns a Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{collections: map[string]bool{}, maxIndex: DefaultMaxIndex}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build inserts every field into a fresh tree. Keys are processed in
// sorted order so the result and any error are deterministic.
func (b *Builder) Build(fields map[string][]string) (*Tree, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := &Tree{values: make(map[string]any, len(keys))}
	// leaf path -> bound through a trailing [] key
	lists := make(map[string]bool, len(keys))
	for _, key := range keys {
		p, err := ParsePath(key)
		if err != nil {
			return nil, err
		}
		var val any
		isList := p[len(p)-1].Kind == Append
		if isList {
			p = p[:len(p)-1]
			val = append([]string{}, fields[key]...)
		} else {
			val = scalar(fields[key])
		}
		if err := b.checkShape(key, p); err != nil {
			return nil, err
		}

		leaf := p.String()
		if was, ok := lists[leaf]; ok && was != isList {
			return nil, &errs.ShapeConflictError{Path: leaf, Existing: leafKind(was), Incoming: leafKind(isList)}
		}
		lists[leaf] = isList

		name := p[0].Name
		cur, seen := t.values[name]
		next, err := b.insert(cur, key, p, 1, val)
		if err != nil {
			return nil, err
		}
		if !seen {
			t.names = append(t.names, name)
		}
		t.values[name] = next
	}
	return t, nil
}

func (b *Builder) checkShape(key string, p Path) error {
	if !b.collections[p[0].Name] {
		return nil
	}
	if len(p) < 2 {
		return &errs.ValidationError{Key: key, Reason: "must address an indexed entry"}
	}
	if p[1].Kind != Index {
		return &errs.ValidationError{Key: key, Token: p[1].Name, Reason: "is not a numeric index"}
	}
	return nil
}

func (b *Builder) insert(cur any, key string, p Path, depth int, val any) (any, error) {
	if depth == len(p) {
		switch c := cur.(type) {
		case nil:
			return val, nil
		case string, []string:
			return joinScalars(c, val), nil
		default:
			return nil, conflict(p, depth, cur, "scalar")
		}
	}

	tok := p[depth]
	switch tok.Kind {
	case Index:
		if tok.Index > b.maxIndex {
			return nil, &errs.ValidationError{Key: key, Token: p[:depth+1].String(), Reason: "exceeds the maximum index"}
		}
		var arr []any
		if cur != nil {
			a, ok := cur.([]any)
			if !ok {
				return nil, conflict(p, depth, cur, "array")
			}
			arr = a
		}
		for len(arr) <= tok.Index {
			arr = append(arr, nil)
		}
		child, err := b.insert(arr[tok.Index], key, p, depth+1, val)
		if err != nil {
			return nil, err
		}
		arr[tok.Index] = child
		return arr, nil
	default:
		m := map[string]any{}
		if cur != nil {
			c, ok := cur.(map[string]any)
			if !ok {
				return nil, conflict(p, depth, cur, "map")
			}
			m = c
		}
		child, err := b.insert(m[tok.Name], key, p, depth+1, val)
		if err != nil {
			return nil, err
		}
		m[tok.Name] = child
		return m, nil
	}
}

func scalar(vals []string) any {
	switch len(vals) {
	case 0:
		return ""
	case 1:
		return vals[0]
	default:
		return append([]string{}, vals...)
	}
}

func joinScalars(existing, incoming any) []string {
	var out []string
	for _, v := range []any{existing, incoming} {
		switch s := v.(type) {
		case string:
			out = append(out, s)
		case []string:
			out = append(out, s...)
		}
	}
	return out
}

func leafKind(list bool) string {
	if list {
		return "list"
	}
	return "scalar"
}

func conflict(p Path, depth int, existing any, incoming string) error {
	return &errs.ShapeConflictError{Path: p[:depth].String(), Existing: kindOf(existing), Incoming: incoming}
}

func kindOf(v any) string {
	switch v.(type) {
	case string, []string:
		return "scalar"
	case map[string]any:
		return "map"
	case []any:
		return "array"
	default:
		return "unknown"
	}
}
