package resolve

import (
	"testing"

	"docmerge/internal/errs"
	"docmerge/internal/model"
	"docmerge/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func personRecord() *model.Record {
	rec := model.NewRecord(schema.PhysicalPerson)
	rec.ID = "rec-1"
	rec.Singles["rfcFile"] = "physical-persons/rfcFile/shared.pdf"
	rec.Arrays["additionalFiles"] = []string{
		"physical-persons/additionalFiles/a.pdf",
		"physical-persons/additionalFiles/shared.pdf",
	}
	rec.Collections["creditos"] = []model.SubDocument{
		{ID: "c1", Files: []string{"physical-persons/creditFile/c1-a.pdf"}},
		{ID: "c2", Files: []string{"physical-persons/creditFile/c2-a.pdf", "physical-persons/creditFile/c2-b.pdf"}},
	}
	rec.Collections["seguros"] = []model.SubDocument{
		{ID: "s1", Files: []string{"physical-persons/insuranceFile/a.pdf"}},
	}
	return rec
}

func TestResolve(t *testing.T) {
	s, ok := schema.Lookup(schema.PhysicalPerson)
	require.True(t, ok)

	tests := []struct {
		name string
		ref  Reference
		want RemovalPlan
	}{
		{
			name: "named single field",
			ref:  FieldRef{Field: "rfcFile"},
			want: RemovalPlan{
				Target:     model.Location{Kind: model.SlotSingle, Field: "rfcFile"},
				StoredPath: "physical-persons/rfcFile/shared.pdf",
			},
		},
		{
			name: "suffix shared by single and array resolves to the single",
			ref:  SuffixRef{Suffix: "shared.pdf"},
			want: RemovalPlan{
				Target:     model.Location{Kind: model.SlotSingle, Field: "rfcFile"},
				StoredPath: "physical-persons/rfcFile/shared.pdf",
			},
		},
		{
			name: "suffix in array",
			ref:  SuffixRef{Suffix: "a.pdf"},
			want: RemovalPlan{
				Target:     model.Location{Kind: model.SlotArray, Field: "additionalFiles", Pos: 0},
				StoredPath: "physical-persons/additionalFiles/a.pdf",
			},
		},
		{
			name: "multi segment suffix in sub-document",
			ref:  SuffixRef{Suffix: "/insuranceFile/a.pdf"},
			want: RemovalPlan{
				Target:     model.Location{Kind: model.SlotGroup, Field: "seguros", Index: 0, Pos: 0},
				StoredPath: "physical-persons/insuranceFile/a.pdf",
			},
		},
		{
			name: "suffix in second sub-document",
			ref:  SuffixRef{Suffix: "c2-b.pdf"},
			want: RemovalPlan{
				Target:     model.Location{Kind: model.SlotGroup, Field: "creditos", Index: 1, Pos: 1},
				StoredPath: "physical-persons/creditFile/c2-b.pdf",
			},
		},
		{
			name: "composite key",
			ref:  CompositeRef{GroupType: "credit", MainIndex: 1, FileIndex: 0},
			want: RemovalPlan{
				Target:     model.Location{Kind: model.SlotGroup, Field: "creditos", Index: 1, Pos: 0},
				StoredPath: "physical-persons/creditFile/c2-a.pdf",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(s, personRecord(), tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_NotFound(t *testing.T) {
	s, _ := schema.Lookup(schema.PhysicalPerson)

	tests := []struct {
		name string
		ref  Reference
	}{
		{name: "empty single", ref: FieldRef{Field: "ineFile"}},
		{name: "array is not a named field", ref: FieldRef{Field: "additionalFiles"}},
		{name: "unknown field", ref: FieldRef{Field: "passport"}},
		{name: "partial segment does not match", ref: SuffixRef{Suffix: "ared.pdf"}},
		{name: "empty suffix", ref: SuffixRef{Suffix: "/"}},
		{name: "unknown group", ref: CompositeRef{GroupType: "local"}},
		{name: "main index out of range", ref: CompositeRef{GroupType: "credit", MainIndex: 2}},
		{name: "file index out of range", ref: CompositeRef{GroupType: "credit", MainIndex: 0, FileIndex: 1}},
		{name: "negative file index", ref: CompositeRef{GroupType: "credit", MainIndex: 0, FileIndex: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(s, personRecord(), tt.ref)
			var ne *errs.NotFoundError
			assert.ErrorAs(t, err, &ne)
		})
	}
}

func TestReference_String(t *testing.T) {
	assert.Equal(t, "field rfcFile", FieldRef{Field: "rfcFile"}.String())
	assert.Equal(t, "suffix x.pdf", SuffixRef{Suffix: "x.pdf"}.String())
	assert.Equal(t, "group credit[1] file 2", CompositeRef{GroupType: "credit", MainIndex: 1, FileIndex: 2}.String())
}
