package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_RequiresDatabase(t *testing.T) {
	_, err := NewProvider(context.Background(), "mongodb://localhost:27017", "")
	assert.ErrorContains(t, err, "database name is required")
}

func TestNewProvider_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := NewProvider(ctx, "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=200", "crm")
	assert.Error(t, err)
}

func TestNewProvider_Integration(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := NewProvider(ctx, uri, "indexsync_provider_test")
	require.NoError(t, err)
	defer p.Close(ctx)

	assert.Equal(t, "indexsync_provider_test", p.DatabaseName())
	assert.Equal(t, "indexsync_provider_test", p.Database().Name())
	assert.NotNil(t, p.Client())
}
