package model

import "time"

// Record is the persisted form of one entity (property, person, artwork...).
// File-reference fields hold storage paths relative to the storage root,
// never absolute filesystem paths.
// This is a pure domain model with no database-specific dependencies or tags.
type Record struct {
	ID          string                   `json:"id"`
	Entity      string                   `json:"entity"`
	Fields      map[string]any           `json:"fields"`
	Singles     map[string]string        `json:"singles"`
	Arrays      map[string][]string      `json:"arrays"`
	Collections map[string][]SubDocument `json:"collections"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

// SubDocument is one entry of an indexed collection (a credit, an insurance
// record, an embedded local unit) with its own attachment list.
type SubDocument struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
	Files  []string       `json:"files"`
}

// NewRecord returns an empty record with all maps allocated.
func NewRecord(entity string) *Record {
	return &Record{
		Entity:      entity,
		Fields:      map[string]any{},
		Singles:     map[string]string{},
		Arrays:      map[string][]string{},
		Collections: map[string][]SubDocument{},
	}
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{
		ID:          r.ID,
		Entity:      r.Entity,
		Fields:      CloneFields(r.Fields),
		Singles:     make(map[string]string, len(r.Singles)),
		Arrays:      make(map[string][]string, len(r.Arrays)),
		Collections: make(map[string][]SubDocument, len(r.Collections)),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	for k, v := range r.Singles {
		out.Singles[k] = v
	}
	for k, v := range r.Arrays {
		out.Arrays[k] = append([]string(nil), v...)
	}
	for k, subs := range r.Collections {
		cp := make([]SubDocument, len(subs))
		for i, s := range subs {
			cp[i] = SubDocument{
				ID:     s.ID,
				Fields: CloneFields(s.Fields),
				Files:  append([]string(nil), s.Files...),
			}
		}
		out.Collections[k] = cp
	}
	return out
}

// Paths lists every stored path the record references. Order is unspecified.
func (r *Record) Paths() []string {
	if r == nil {
		return nil
	}
	var out []string
	for _, p := range r.Singles {
		if p != "" {
			out = append(out, p)
		}
	}
	for _, list := range r.Arrays {
		out = append(out, list...)
	}
	for _, subs := range r.Collections {
		for _, s := range subs {
			out = append(out, s.Files...)
		}
	}
	return out
}

// CloneFields deep-copies a nested field map built from form values.
func CloneFields(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneFields(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = cloneValue(e)
		}
		return cp
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
