package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"vendify/internal/store"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

func New(ctx context.Context, uri string, database string) (*Store, error) {
	if database == "" {
		database = "vendify"
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) Get(ctx context.Context, collection string, id string) (store.Document, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return toDocument(raw), nil
}

func (s *Store) List(ctx context.Context, collection string, q store.Query) ([]store.Document, error) {
	filter := bson.M{}
	for _, f := range q.Filters {
		filter[f.Field] = f.Value
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := s.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var raws []bson.M
	if err := cursor.All(ctx, &raws); err != nil {
		return nil, err
	}
	docs := make([]store.Document, 0, len(raws))
	for _, raw := range raws {
		docs = append(docs, toDocument(raw))
	}
	return docs, nil
}

func (s *Store) Put(ctx context.Context, collection string, id string, doc store.Document) error {
	if id == "" {
		return store.ErrInvalidRecord
	}
	body := bson.M{}
	for k, v := range doc.Clone() {
		body[k] = v
	}
	body["_id"] = id
	body["id"] = id
	_, err := s.db.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, body, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) Delete(ctx context.Context, collection string, id string) error {
	res, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AdjustQuantity pushes the stock and version guards into the update filter
// so the check and the write are one atomic server-side operation.
func (s *Store) AdjustQuantity(ctx context.Context, collection string, id string, delta int, expectedVersion int64) (store.Document, error) {
	filter := bson.M{"_id": id}
	if delta < 0 {
		filter["quantity"] = bson.M{"$gte": -delta}
	}
	if expectedVersion != store.NoVersionCheck {
		if expectedVersion == 0 {
			filter["$or"] = bson.A{bson.M{"version": 0}, bson.M{"version": bson.M{"$exists": false}}}
		} else {
			filter["version"] = expectedVersion
		}
	}
	update := bson.M{
		"$inc": bson.M{"quantity": delta, "version": 1},
		"$set": bson.M{"updatedAt": time.Now().UTC().Format(time.RFC3339Nano)},
	}

	var raw bson.M
	err := s.db.Collection(collection).
		FindOneAndUpdate(ctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.After)).
		Decode(&raw)
	if err == nil {
		return toDocument(raw), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	current, getErr := s.Get(ctx, collection, id)
	if getErr != nil {
		return nil, getErr
	}
	if expectedVersion != store.NoVersionCheck && current.Int("version") != expectedVersion {
		return nil, store.ErrConflict
	}
	return nil, store.ErrInsufficientStock
}

func (s *Store) NextSequence(ctx context.Context, name string) (int64, error) {
	var out struct {
		Value int64 `bson:"value"`
	}
	err := s.db.Collection(store.Sequences).FindOneAndUpdate(
		ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"value": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&out)
	if err != nil {
		return 0, err
	}
	return out.Value, nil
}

func toDocument(raw bson.M) store.Document {
	doc := make(store.Document, len(raw))
	for k, v := range raw {
		if k == "_id" {
			if _, ok := raw["id"]; !ok {
				doc["id"] = normalize(v)
			}
			continue
		}
		doc[k] = normalize(v)
	}
	return doc
}

// normalize converts driver-specific BSON values into the plain JSON-like
// shapes the rest of the code expects.
func normalize(v any) any {
	switch val := v.(type) {
	case primitive.M:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = normalize(inner)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalize(inner)
		}
		return out
	case primitive.DateTime:
		return val.Time().UTC().Format(time.RFC3339Nano)
	case primitive.ObjectID:
		return val.Hex()
	case int32:
		return int64(val)
	default:
		return v
	}
}
