package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/indexsync/internal/config"
	"github.com/syntrixbase/indexsync/internal/indexsync/adapter"
	"github.com/syntrixbase/indexsync/internal/indexsync/types"
)

const testConfigYAML = `
logging:
  level: warn
  console:
    enabled: true
  file:
    enabled: false
queue:
  backend: memory
worker:
  num_workers: 2
search:
  backend: memory
storage:
  pebble:
    in_memory: true
dead_letter:
  backend: pebble
reindex:
  checkpoints: pebble
admin:
  enabled: false
`

// testConfigDir writes a self-contained config and clears the env vars that
// would override it.
func testConfigDir(t *testing.T) string {
	t.Helper()
	for _, key := range []string{"QUEUE_BACKEND", "ELASTICSEARCH_URL", "ADMIN_JWT_SECRET", "LOG_LEVEL", "INDEXSYNC_WORKERS"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	dir := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(testConfigYAML), 0o644))
	return dir
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(&out, &errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "indexsync dev (none, unknown)\n", out)

	out, _, err = run(t, "version", "--json")
	require.NoError(t, err)
	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, "dev", v["version"])
}

func TestEnqueue(t *testing.T) {
	dir := testConfigDir(t)

	out, _, err := run(t, "-c", dir, "--env-file", "",
		"enqueue", "--tenant", "acme", "--index", "contacts", "--id", "c-1",
		"--payload", `{"name":"Ada"}`, "--version", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Enqueued job ")
	assert.Contains(t, out, "acme/contacts/c-1")

	out, _, err = run(t, "-c", dir, "--env-file", "", "--json",
		"enqueue", "-t", "acme", "-i", "contacts", "--id", "c-1", "-a", "delete")
	require.NoError(t, err)
	var res map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.NotEmpty(t, res["id"])
}

func TestEnqueue_MemoryQueueIsProcessed(t *testing.T) {
	dir := testConfigDir(t)
	cfg, err := config.LoadConfig(dir)
	require.NoError(t, err)
	var out, errOut bytes.Buffer
	c := &cli{configDir: dir, cfg: cfg, out: &out, errOut: &errOut}

	m, finish, err := c.startEnqueuer(context.Background())
	require.NoError(t, err)
	for _, id := range []string{"c-1", "c-2", "c-3"} {
		require.NoError(t, m.Producer().Enqueue(context.Background(), &types.Job{
			TenantID: "acme", IndexName: "contacts", DocumentID: id, Action: types.ActionUpsert,
			Payload: map[string]any{"name": id},
		}))
	}
	require.NoError(t, finish())

	// The jobs were indexed before the process would have exited.
	index := m.Adapter().(*adapter.Memory)
	for _, id := range []string{"c-1", "c-2", "c-3"} {
		doc, ok := index.Get("acme", "contacts", id)
		require.True(t, ok, id)
		assert.Equal(t, id, doc["name"])
	}
}

func TestEnqueue_PayloadFile(t *testing.T) {
	dir := testConfigDir(t)
	file := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"stage":"won"}`), 0o644))

	out, _, err := run(t, "-c", dir, "--env-file", "",
		"enqueue", "--tenant", "acme", "--index", "deals", "--id", "d-1", "--payload-file", file)
	require.NoError(t, err)
	assert.Contains(t, out, "acme/deals/d-1")
}

func TestEnqueue_Invalid(t *testing.T) {
	dir := testConfigDir(t)

	_, _, err := run(t, "-c", dir, "--env-file", "",
		"enqueue", "--tenant", "acme", "--index", "contacts", "--id", "c-1", "--action", "PATCH")
	require.Error(t, err)

	_, _, err = run(t, "-c", dir, "--env-file", "",
		"enqueue", "--tenant", "acme", "--index", "contacts", "--id", "c-1", "--payload", `[1,2]`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payload must be a JSON object")

	_, _, err = run(t, "-c", dir, "--env-file", "", "enqueue", "--tenant", "acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestDLQList_Empty(t *testing.T) {
	dir := testConfigDir(t)

	out, _, err := run(t, "-c", dir, "--env-file", "", "dlq", "list")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ID "))
	assert.Equal(t, 1, strings.Count(out, "\n"))

	out, _, err = run(t, "-c", dir, "--env-file", "", "--json", "dlq", "list", "--tenant", "acme")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)
}

func TestDLQReplay_Args(t *testing.T) {
	dir := testConfigDir(t)

	_, _, err := run(t, "-c", dir, "--env-file", "", "dlq", "replay")
	require.EqualError(t, err, "pass entry ids or --all")

	_, _, err = run(t, "-c", dir, "--env-file", "", "dlq", "replay", "--all", "x")
	require.EqualError(t, err, "pass entry ids or --all")

	out, _, err := run(t, "-c", dir, "--env-file", "", "dlq", "replay", "--all", "--tenant", "acme")
	require.NoError(t, err)
	assert.Equal(t, "Replayed 0 dead letters\n", out)
}

func TestDLQReplay_UnknownID(t *testing.T) {
	dir := testConfigDir(t)

	_, _, err := run(t, "-c", dir, "--env-file", "", "dlq", "replay", "missing")
	require.Error(t, err)
	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 2, ee.code)
}

func TestDLQDelete_UnknownID(t *testing.T) {
	dir := testConfigDir(t)

	out, _, err := run(t, "-c", dir, "--env-file", "", "dlq", "delete", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
	assert.Equal(t, "Deleted 0 dead letters\n", out)
}

func TestReindex_RequiresTenant(t *testing.T) {
	dir := testConfigDir(t)

	_, _, err := run(t, "-c", dir, "--env-file", "", "reindex")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"tenant"`)
}

func TestReindex_NoEntities(t *testing.T) {
	dir := testConfigDir(t)

	out, _, err := run(t, "-c", dir, "--env-file", "", "reindex", "--tenant", "acme")
	require.NoError(t, err)
	assert.Equal(t, "Reindex complete: enqueued 0 jobs (tenant=acme entity=all)\n", out)

	_, _, err = run(t, "-c", dir, "--env-file", "", "reindex", "--tenant", "acme", "--entity", "contacts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown entity")
	var ee *exitError
	assert.False(t, errors.As(err, &ee))
}

func TestToken(t *testing.T) {
	dir := testConfigDir(t)

	_, _, err := run(t, "-c", dir, "--env-file", "", "token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("ADMIN_JWT_SECRET=s3cret\n"), 0o600))

	out, _, err := run(t, "-c", dir, "--env-file", envFile, "token", "--subject", "ops", "--ttl", "5m")
	require.NoError(t, err)

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimSpace(out), claims, func(*jwt.Token) (any, error) {
		return []byte("s3cret"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), claims.ExpiresAt.Time, time.Minute)
}

func TestLoad_BadConfig(t *testing.T) {
	dir := testConfigDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.local.yml"), []byte("queue:\n  backend: kafka\n"), 0o644))

	_, _, err := run(t, "-c", dir, "--env-file", "", "dlq", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.backend")
}
