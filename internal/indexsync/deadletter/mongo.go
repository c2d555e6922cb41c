package deadletter

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultCollection is the collection MongoStore uses when none is set.
const DefaultCollection = "index_dead_letters"

// MongoStore keeps entries in a MongoDB collection.
type MongoStore struct {
	coll *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

func NewMongoStore(db *mongo.Database, collection string) *MongoStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &MongoStore{coll: db.Collection(collection)}
}

// EnsureIndexes creates the indexes List relies on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "failed_at", Value: -1}}},
		{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "index_name", Value: 1}, {Key: "failed_at", Value: -1}}},
	})
	return err
}

// Write inserts e. Writing the same entry twice is not an error.
func (s *MongoStore) Write(ctx context.Context, e *Entry) error {
	_, err := s.coll.InsertOne(ctx, e)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (s *MongoStore) Get(ctx context.Context, id string) (*Entry, error) {
	var e Entry
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func filterBSON(f Filter) bson.M {
	filter := bson.M{}
	if f.TenantID != "" {
		filter["tenant_id"] = f.TenantID
	}
	if f.IndexName != "" {
		filter["index_name"] = f.IndexName
	}
	return filter
}

func (s *MongoStore) List(ctx context.Context, f Filter) ([]*Entry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "failed_at", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cursor, err := s.coll.Find(ctx, filterBSON(f), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*Entry
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Close is a no-op; the client is owned by the storage provider.
func (s *MongoStore) Close(ctx context.Context) error {
	return nil
}
