package reindex

import (
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSource reads entities from MongoDB collections.
type MongoSource struct {
	db *mongo.Database
}

func NewMongoSource(db *mongo.Database) *MongoSource {
	return &MongoSource{db: db}
}

func (s *MongoSource) Tenants(ctx context.Context, e Entity) ([]string, error) {
	values, err := s.db.Collection(e.Collection).Distinct(ctx, e.TenantField, bson.M{})
	if err != nil {
		return nil, err
	}
	tenants := make([]string, 0, len(values))
	for _, v := range values {
		if t, ok := v.(string); ok && t != "" {
			tenants = append(tenants, t)
		}
	}
	sort.Strings(tenants)
	return tenants, nil
}

func (s *MongoSource) Page(ctx context.Context, e Entity, tenantID, after string, limit int) ([]Record, error) {
	filter := bson.M{e.TenantField: tenantID}
	if after != "" {
		cursor, err := mongoID(e, after)
		if err != nil {
			return nil, err
		}
		filter[e.IDField] = bson.M{"$gt": cursor}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: e.IDField, Value: 1}}).
		SetLimit(int64(limit))

	cur, err := s.db.Collection(e.Collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var records []Record
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		rec, err := mongoRecord(e, doc)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, cur.Err()
}

func mongoID(e Entity, id string) (any, error) {
	if e.IDType != "objectid" {
		return id, nil
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid object id cursor %q: %w", id, err)
	}
	return oid, nil
}

// mongoRecord turns a raw document into a Record. The id, tenant and
// version fields are lifted out; everything else becomes the payload.
func mongoRecord(e Entity, doc bson.M) (Record, error) {
	var rec Record
	switch id := doc[e.IDField].(type) {
	case string:
		rec.ID = id
	case primitive.ObjectID:
		rec.ID = id.Hex()
	default:
		return rec, fmt.Errorf("unsupported id type %T in %s", id, e.Collection)
	}

	if e.VersionField != "" {
		switch v := doc[e.VersionField].(type) {
		case int32:
			rec.Version = int64(v)
		case int64:
			rec.Version = v
		case float64:
			rec.Version = int64(v)
		case primitive.DateTime:
			rec.Version = int64(v)
		}
	}

	rec.Data = make(map[string]any, len(doc))
	for k, v := range doc {
		if k == e.IDField || k == e.TenantField {
			continue
		}
		rec.Data[k] = plain(v)
	}
	return rec, nil
}

// plain converts driver types into JSON-friendly values.
func plain(v any) any {
	switch x := v.(type) {
	case bson.M:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = plain(vv)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(x))
		for _, el := range x {
			out[el.Key] = plain(el.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = plain(vv)
		}
		return out
	case primitive.ObjectID:
		return x.Hex()
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.Decimal128:
		return x.String()
	default:
		return v
	}
}
