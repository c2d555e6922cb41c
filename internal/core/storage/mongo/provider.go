// Package mongo opens the MongoDB connection shared by the reindex source
// and the dead-letter store.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DefaultConnectTimeout applies when the URI does not set connectTimeoutMS.
const DefaultConnectTimeout = 10 * time.Second

// Provider owns a MongoDB client bound to one database.
type Provider struct {
	client *mongo.Client
	dbName string
}

// NewProvider connects and pings the primary.
func NewProvider(ctx context.Context, uri string, dbName string) (*Provider, error) {
	if dbName == "" {
		return nil, fmt.Errorf("mongo database name is required")
	}
	clientOpts := options.Client().ApplyURI(uri)
	if clientOpts.ConnectTimeout == nil {
		clientOpts.SetConnectTimeout(DefaultConnectTimeout)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return &Provider{client: client, dbName: dbName}, nil
}

func (p *Provider) Client() *mongo.Client {
	return p.client
}

// Database returns the configured database handle.
func (p *Provider) Database() *mongo.Database {
	return p.client.Database(p.dbName)
}

func (p *Provider) DatabaseName() string {
	return p.dbName
}

func (p *Provider) Close(ctx context.Context) error {
	return p.client.Disconnect(ctx)
}
