// Package mongo stores records as MongoDB documents, one collection for all
// entity types.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"docmerge/internal/config"
	"docmerge/internal/model"
	"docmerge/internal/repository"
)

const collectionName = "records"

// RecordMongo is a MongoDB implementation of repository.RecordRepository.
type RecordMongo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ repository.RecordRepository = (*RecordMongo)(nil)

// Connect opens a client, verifies it with a ping and ensures the listing index.
func Connect(ctx context.Context, cfg config.MongoConfig) (*RecordMongo, error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, fmt.Errorf("mongo uri and database are required")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	coll := client.Database(cfg.Database).Collection(collectionName)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "entity", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo create index: %w", err)
	}
	return &RecordMongo{client: client, coll: coll}, nil
}

// Close disconnects the client.
func (r *RecordMongo) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

// Ping verifies the server connection.
func (r *RecordMongo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

// Create inserts a new record document.
func (r *RecordMongo) Create(ctx context.Context, rec *model.Record) error {
	_, err := r.coll.InsertOne(ctx, toDoc(rec))
	return err
}

// FindByID fetches a single record by entity and ID.
func (r *RecordMongo) FindByID(ctx context.Context, entity, id string) (*model.Record, error) {
	var d recordDoc
	err := r.coll.FindOne(ctx, filter(entity, id)).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return d.record(), nil
}

// Update replaces an existing record document.
func (r *RecordMongo) Update(ctx context.Context, rec *model.Record) error {
	res, err := r.coll.ReplaceOne(ctx, filter(rec.Entity, rec.ID), toDoc(rec))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// List returns records of one entity, newest first.
func (r *RecordMongo) List(ctx context.Context, entity string, pq repository.PageQuery) (*repository.PageResult[model.Record], error) {
	f := bson.M{"entity": entity}
	total, err := r.coll.CountDocuments(ctx, f)
	if err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(pq.Offset)).
		SetLimit(int64(pq.Limit))
	cur, err := r.coll.Find(ctx, f, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	items := make([]model.Record, 0)
	for cur.Next(ctx) {
		var d recordDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		items = append(items, *d.record())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Record]{
		Items: items,
		Total: int(total),
	}, nil
}

// Delete removes a record. A missing record is not an error.
func (r *RecordMongo) Delete(ctx context.Context, entity, id string) error {
	_, err := r.coll.DeleteOne(ctx, filter(entity, id))
	return err
}

func filter(entity, id string) bson.M {
	return bson.M{"_id": id, "entity": entity}
}

type recordDoc struct {
	ID          string              `bson:"_id"`
	Entity      string              `bson:"entity"`
	Fields      bson.M              `bson:"fields"`
	Singles     map[string]string   `bson:"singles"`
	Arrays      map[string][]string `bson:"arrays"`
	Collections map[string][]subDoc `bson:"collections"`
	CreatedAt   time.Time           `bson:"created_at"`
	UpdatedAt   time.Time           `bson:"updated_at"`
}

type subDoc struct {
	ID     string   `bson:"id"`
	Fields bson.M   `bson:"fields"`
	Files  []string `bson:"files"`
}

func toDoc(rec *model.Record) recordDoc {
	d := recordDoc{
		ID:          rec.ID,
		Entity:      rec.Entity,
		Fields:      bson.M(rec.Fields),
		Singles:     rec.Singles,
		Arrays:      rec.Arrays,
		Collections: make(map[string][]subDoc, len(rec.Collections)),
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	for name, subs := range rec.Collections {
		out := make([]subDoc, len(subs))
		for i, s := range subs {
			out[i] = subDoc{ID: s.ID, Fields: bson.M(s.Fields), Files: s.Files}
		}
		d.Collections[name] = out
	}
	return d
}

func (d recordDoc) record() *model.Record {
	rec := model.NewRecord(d.Entity)
	rec.ID = d.ID
	rec.CreatedAt = d.CreatedAt.UTC()
	rec.UpdatedAt = d.UpdatedAt.UTC()
	rec.Fields = normalizeMap(d.Fields)
	for k, v := range d.Singles {
		rec.Singles[k] = v
	}
	for k, v := range d.Arrays {
		rec.Arrays[k] = v
	}
	for name, subs := range d.Collections {
		out := make([]model.SubDocument, len(subs))
		for i, s := range subs {
			out[i] = model.SubDocument{ID: s.ID, Fields: normalizeMap(s.Fields), Files: s.Files}
		}
		rec.Collections[name] = out
	}
	return rec
}

// normalizeMap converts decoded BSON containers back into the plain
// map[string]any / []any shapes the form tree produces.
func normalizeMap(m bson.M) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}

func normalize(v any) any {
	switch t := v.(type) {
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.M:
		return normalizeMap(t)
	case map[string]any:
		return normalizeMap(t)
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}
