package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"docmerge/internal/config"
	"docmerge/internal/model"
)

func TestDocRoundTrip(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	rec := model.NewRecord("physical_person")
	rec.ID = "p-1"
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Fields["nombre"] = "Ana"
	rec.Fields["domicilio"] = map[string]any{"calle": "Reforma", "numero": "10"}
	rec.Singles["rfcFile"] = "physical-persons/rfcFile/1-a.pdf"
	rec.Arrays["additionalFiles"] = []string{"physical-persons/additionalFiles/1-b.pdf"}
	rec.Collections["creditos"] = []model.SubDocument{{
		ID:     "c-1",
		Fields: map[string]any{"banco": "BBVA", "tags": []any{"a", "b"}},
		Files:  []string{"physical-persons/creditFile/1-c.pdf"},
	}}

	raw, err := bson.Marshal(toDoc(rec))
	require.NoError(t, err)

	var d recordDoc
	require.NoError(t, bson.Unmarshal(raw, &d))
	got := d.record()

	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Entity, got.Entity)
	assert.Equal(t, rec.Singles, got.Singles)
	assert.Equal(t, rec.Arrays, got.Arrays)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, "Ana", got.Fields["nombre"])
	assert.Equal(t, map[string]any{"calle": "Reforma", "numero": "10"}, got.Fields["domicilio"])

	require.Len(t, got.Collections["creditos"], 1)
	sub := got.Collections["creditos"][0]
	assert.Equal(t, "c-1", sub.ID)
	assert.Equal(t, rec.Collections["creditos"][0].Files, sub.Files)
	assert.Equal(t, []any{"a", "b"}, sub.Fields["tags"])
}

func TestNormalize(t *testing.T) {
	in := bson.D{
		{Key: "a", Value: bson.A{"x", bson.D{{Key: "b", Value: "y"}}}},
		{Key: "m", Value: bson.M{"k": bson.A{"z"}}},
		{Key: "s", Value: "plain"},
	}

	assert.Equal(t, map[string]any{
		"a": []any{"x", map[string]any{"b": "y"}},
		"m": map[string]any{"k": []any{"z"}},
		"s": "plain",
	}, normalize(in))
}

func TestConnect_RequiresConfig(t *testing.T) {
	_, err := Connect(context.Background(), config.MongoConfig{})
	assert.Error(t, err)
}
