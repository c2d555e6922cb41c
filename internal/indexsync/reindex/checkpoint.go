package reindex

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/syntrixbase/indexsync/internal/core/kv"
)

// CheckpointStore remembers the last enqueued id per (entity, tenant) so an
// interrupted run can resume.
type CheckpointStore interface {
	// Load returns the saved cursor, or "" when there is none.
	Load(ctx context.Context, entity, tenantID string) (string, error)
	Save(ctx context.Context, entity, tenantID, cursor string) error
	Clear(ctx context.Context, entity, tenantID string) error
}

var checkpointPrefix = []byte("reindex/")

// PebbleCheckpoints keeps cursors in the local store. Only the process
// holding the store can see them.
type PebbleCheckpoints struct {
	store *kv.Store
}

var _ CheckpointStore = (*PebbleCheckpoints)(nil)

func NewPebbleCheckpoints(store *kv.Store) *PebbleCheckpoints {
	return &PebbleCheckpoints{store: store}
}

func checkpointKey(entity, tenantID string) []byte {
	key := make([]byte, 0, len(checkpointPrefix)+len(entity)+len(tenantID)+1)
	key = append(key, checkpointPrefix...)
	key = append(key, entity...)
	key = append(key, 0)
	return append(key, tenantID...)
}

func (c *PebbleCheckpoints) Load(_ context.Context, entity, tenantID string) (string, error) {
	v, err := c.store.Get(checkpointKey(entity, tenantID))
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (c *PebbleCheckpoints) Save(_ context.Context, entity, tenantID, cursor string) error {
	return c.store.Set(checkpointKey(entity, tenantID), []byte(cursor))
}

func (c *PebbleCheckpoints) Clear(_ context.Context, entity, tenantID string) error {
	return c.store.Delete(checkpointKey(entity, tenantID))
}

// Reset drops every checkpoint.
func (c *PebbleCheckpoints) Reset() error {
	return c.store.DeletePrefix(checkpointPrefix)
}

// DefaultCheckpointCollection is the collection MongoCheckpoints uses when
// none is set.
const DefaultCheckpointCollection = "reindex_checkpoints"

// MongoCheckpoints keeps cursors in MongoDB, one document per target.
type MongoCheckpoints struct {
	coll *mongo.Collection
}

var _ CheckpointStore = (*MongoCheckpoints)(nil)

type checkpointDoc struct {
	ID        string    `bson:"_id"`
	Entity    string    `bson:"entity"`
	TenantID  string    `bson:"tenant_id"`
	Cursor    string    `bson:"cursor"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func NewMongoCheckpoints(db *mongo.Database, collection string) *MongoCheckpoints {
	if collection == "" {
		collection = DefaultCheckpointCollection
	}
	return &MongoCheckpoints{coll: db.Collection(collection)}
}

func checkpointID(entity, tenantID string) string {
	return entity + "\x00" + tenantID
}

func (c *MongoCheckpoints) Load(ctx context.Context, entity, tenantID string) (string, error) {
	var doc checkpointDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": checkpointID(entity, tenantID)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return doc.Cursor, nil
}

func (c *MongoCheckpoints) Save(ctx context.Context, entity, tenantID, cursor string) error {
	id := checkpointID(entity, tenantID)
	_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": id}, checkpointDoc{
		ID:        id,
		Entity:    entity,
		TenantID:  tenantID,
		Cursor:    cursor,
		UpdatedAt: time.Now().UTC(),
	}, options.Replace().SetUpsert(true))
	return err
}

func (c *MongoCheckpoints) Clear(ctx context.Context, entity, tenantID string) error {
	_, err := c.coll.DeleteOne(ctx, bson.M{"_id": checkpointID(entity, tenantID)})
	return err
}
