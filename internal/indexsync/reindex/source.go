// Package reindex rebuilds search indices from the primary store by paging
// through every record and enqueuing one UPSERT job per record.
package reindex

import (
	"context"
	"errors"
	"fmt"
)

// All selects every tenant or every entity.
const All = "all"

const (
	SourceMongo    = "mongo"
	SourcePostgres = "postgres"
)

var (
	ErrUnknownEntity = errors.New("unknown entity")
	ErrUnknownSource = errors.New("unknown source")
)

// Entity maps one primary-store entity type onto a search index.
type Entity struct {
	Name   string `yaml:"name"`
	Index  string `yaml:"index"`
	Source string `yaml:"source"`
	// Collection is the Mongo collection or the PostgreSQL table.
	Collection   string `yaml:"collection"`
	IDField      string `yaml:"id_field"`
	TenantField  string `yaml:"tenant_field"`
	VersionField string `yaml:"version_field"`
	// IDType is "string" or "objectid" (Mongo only).
	IDType string `yaml:"id_type"`
}

// ApplyDefaults fills unset fields.
func (e *Entity) ApplyDefaults() {
	if e.Index == "" {
		e.Index = e.Name
	}
	if e.Source == "" {
		e.Source = SourceMongo
	}
	if e.Collection == "" {
		e.Collection = e.Name
	}
	if e.IDField == "" {
		if e.Source == SourceMongo {
			e.IDField = "_id"
		} else {
			e.IDField = "id"
		}
	}
	if e.TenantField == "" {
		e.TenantField = "tenant_id"
	}
	if e.IDType == "" {
		e.IDType = "string"
	}
}

func (e *Entity) Validate() error {
	if e.Name == "" {
		return errors.New("entity name is required")
	}
	if e.Name == All {
		return fmt.Errorf("entity name %q is reserved", All)
	}
	switch e.Source {
	case SourceMongo, SourcePostgres:
	default:
		return fmt.Errorf("entity %s: %w %q", e.Name, ErrUnknownSource, e.Source)
	}
	switch e.IDType {
	case "string":
	case "objectid":
		if e.Source != SourceMongo {
			return fmt.Errorf("entity %s: id_type objectid needs a mongo source", e.Name)
		}
	default:
		return fmt.Errorf("entity %s: unknown id_type %q", e.Name, e.IDType)
	}
	return nil
}

// Record is one primary-store row as seen by the reindexer.
type Record struct {
	ID      string
	Version int64
	Data    map[string]any
}

// Source reads records of an entity in primary-id order.
type Source interface {
	// Tenants lists the distinct tenants holding records of the entity.
	Tenants(ctx context.Context, e Entity) ([]string, error)
	// Page returns up to limit records of tenantID with an id greater than
	// after, ordered by id. An empty after starts from the beginning.
	Page(ctx context.Context, e Entity, tenantID, after string, limit int) ([]Record, error)
}
