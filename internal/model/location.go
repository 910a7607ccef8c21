package model

// SlotKind is the shape of a file destination in an entity schema.
type SlotKind int

const (
	// SlotSingle holds at most one file (identity document, deed, certificate).
	SlotSingle SlotKind = iota
	// SlotArray is an append-only list of files (photo gallery).
	SlotArray
	// SlotGroup is the file list of one sub-document of an indexed collection.
	SlotGroup
)

func (k SlotKind) String() string {
	switch k {
	case SlotSingle:
		return "single"
	case SlotArray:
		return "array"
	case SlotGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Location addresses one file reference inside a Record.
//
// For SlotSingle only Field is used. For SlotArray Pos is the entry in the
// list. For SlotGroup Field is the collection name, Index the sub-document
// and Pos the entry in that sub-document's file list.
type Location struct {
	Kind  SlotKind
	Field string
	Index int
	Pos   int
}

// PathAt returns the stored path at loc, if any.
func (r *Record) PathAt(loc Location) (string, bool) {
	switch loc.Kind {
	case SlotSingle:
		p, ok := r.Singles[loc.Field]
		return p, ok && p != ""
	case SlotArray:
		list := r.Arrays[loc.Field]
		if loc.Pos < 0 || loc.Pos >= len(list) {
			return "", false
		}
		return list[loc.Pos], true
	case SlotGroup:
		subs := r.Collections[loc.Field]
		if loc.Index < 0 || loc.Index >= len(subs) {
			return "", false
		}
		files := subs[loc.Index].Files
		if loc.Pos < 0 || loc.Pos >= len(files) {
			return "", false
		}
		return files[loc.Pos], true
	}
	return "", false
}

// Attach stores path at loc. Singles are replaced; arrays and group file
// lists are appended to, so Pos is ignored.
func (r *Record) Attach(loc Location, path string) bool {
	switch loc.Kind {
	case SlotSingle:
		if r.Singles == nil {
			r.Singles = map[string]string{}
		}
		r.Singles[loc.Field] = path
		return true
	case SlotArray:
		if r.Arrays == nil {
			r.Arrays = map[string][]string{}
		}
		r.Arrays[loc.Field] = append(r.Arrays[loc.Field], path)
		return true
	case SlotGroup:
		subs := r.Collections[loc.Field]
		if loc.Index < 0 || loc.Index >= len(subs) {
			return false
		}
		subs[loc.Index].Files = append(subs[loc.Index].Files, path)
		return true
	}
	return false
}

// Detach clears the reference at loc when it still holds path. It reports
// whether anything was removed.
func (r *Record) Detach(loc Location, path string) bool {
	current, ok := r.PathAt(loc)
	if !ok || current != path {
		return false
	}
	switch loc.Kind {
	case SlotSingle:
		delete(r.Singles, loc.Field)
	case SlotArray:
		list := r.Arrays[loc.Field]
		r.Arrays[loc.Field] = append(list[:loc.Pos:loc.Pos], list[loc.Pos+1:]...)
	case SlotGroup:
		sub := &r.Collections[loc.Field][loc.Index]
		sub.Files = append(sub.Files[:loc.Pos:loc.Pos], sub.Files[loc.Pos+1:]...)
	}
	return true
}
