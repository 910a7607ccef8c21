// Package schema declares, per entity, which form fields are file slots and
// which are indexed sub-document collections. The form, classification,
// merge and resolution packages are all driven by these declarations.
package schema

import (
	"fmt"
	"sort"
)

// DefaultIDField is the sub-document key carrying its stable identifier.
const DefaultIDField = "id"

// Collection is an indexed sub-document array such as credits or embedded
// local units. Files named <FilePrefix>_<index>[_<suffix>] belong to the
// sub-document submitted at that index.
type Collection struct {
	Field      string
	GroupType  string
	FilePrefix string
	IDField    string
}

// IdentifierField returns the configured id key or DefaultIDField.
func (c Collection) IdentifierField() string {
	if c.IDField == "" {
		return DefaultIDField
	}
	return c.IDField
}

// Schema describes one entity kind.
type Schema struct {
	Entity string
	// Category is the first storage path segment for the entity's files.
	Category    string
	Singles     []string
	Arrays      []string
	Collections []Collection
}

// IsSingle reports whether name is a Single slot.
func (s *Schema) IsSingle(name string) bool { return contains(s.Singles, name) }

// IsArray reports whether name is a plain Array slot.
func (s *Schema) IsArray(name string) bool { return contains(s.Arrays, name) }

// IsFileSlot reports whether name is a Single or Array slot.
func (s *Schema) IsFileSlot(name string) bool { return s.IsSingle(name) || s.IsArray(name) }

// Collection returns the collection stored under field.
func (s *Schema) Collection(field string) (Collection, bool) {
	for _, c := range s.Collections {
		if c.Field == field {
			return c, true
		}
	}
	return Collection{}, false
}

// CollectionByPrefix returns the collection whose files use prefix.
func (s *Schema) CollectionByPrefix(prefix string) (Collection, bool) {
	for _, c := range s.Collections {
		if c.FilePrefix == prefix {
			return c, true
		}
	}
	return Collection{}, false
}

// CollectionByGroup returns the collection with the given group type.
func (s *Schema) CollectionByGroup(groupType string) (Collection, bool) {
	for _, c := range s.Collections {
		if c.GroupType == groupType {
			return c, true
		}
	}
	return Collection{}, false
}

// CollectionFields lists the collection field names, used as shape hints
// by the form tree builder.
func (s *Schema) CollectionFields() []string {
	out := make([]string, len(s.Collections))
	for i, c := range s.Collections {
		out[i] = c.Field
	}
	return out
}

// Validate checks that no name is declared twice.
func (s *Schema) Validate() error {
	if s.Entity == "" || s.Category == "" {
		return fmt.Errorf("schema: entity and category are required")
	}
	seen := map[string]string{}
	claim := func(name, kind string) error {
		if name == "" {
			return fmt.Errorf("schema %s: empty %s name", s.Entity, kind)
		}
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("schema %s: %q declared as %s and %s", s.Entity, name, prev, kind)
		}
		seen[name] = kind
		return nil
	}
	for _, n := range s.Singles {
		if err := claim(n, "single"); err != nil {
			return err
		}
	}
	for _, n := range s.Arrays {
		if err := claim(n, "array"); err != nil {
			return err
		}
	}
	groups := map[string]bool{}
	for _, c := range s.Collections {
		if err := claim(c.Field, "collection"); err != nil {
			return err
		}
		if err := claim(c.FilePrefix, "file prefix"); err != nil {
			return err
		}
		if c.GroupType == "" || groups[c.GroupType] {
			return fmt.Errorf("schema %s: group type %q is empty or duplicated", s.Entity, c.GroupType)
		}
		groups[c.GroupType] = true
	}
	return nil
}

var registry = map[string]*Schema{}

// Register adds s to the registry. It panics on an invalid or duplicate
// schema since registration happens at init.
func Register(s *Schema) {
	if err := s.Validate(); err != nil {
		panic(err)
	}
	if _, dup := registry[s.Entity]; dup {
		panic(fmt.Sprintf("schema: entity %q registered twice", s.Entity))
	}
	registry[s.Entity] = s
}

// Lookup returns the schema registered for entity.
func Lookup(entity string) (*Schema, bool) {
	s, ok := registry[entity]
	return s, ok
}

// Entities returns all registered entity names, sorted.
func Entities() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func contains(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}
