package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syntrixbase/indexsync/internal/core/kv"
)

const (
	entryPrefix = "dl/e/"
	timePrefix  = "dl/t/"
)

// PebbleStore keeps entries in a local Pebble database.
type PebbleStore struct {
	kv *kv.Store
}

var _ Store = (*PebbleStore)(nil)

func NewPebbleStore(store *kv.Store) *PebbleStore {
	return &PebbleStore{kv: store}
}

func timeKey(e *Entry) string {
	return fmt.Sprintf("%s%020d/%s", timePrefix, e.FailedAt.UnixNano(), e.ID)
}

func (s *PebbleStore) Write(ctx context.Context, e *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode dead-letter entry: %w", err)
	}
	return s.kv.Apply(map[string][]byte{
		entryPrefix + e.ID: data,
		timeKey(e):         []byte(e.ID),
	})
}

func (s *PebbleStore) Get(ctx context.Context, id string) (*Entry, error) {
	data, err := s.kv.Get([]byte(entryPrefix + id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode dead-letter entry %s: %w", id, err)
	}
	return &e, nil
}

func (s *PebbleStore) List(ctx context.Context, f Filter) ([]*Entry, error) {
	var out []*Entry
	err := s.kv.Scan([]byte(timePrefix), true, func(_, value []byte) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		e, err := s.Get(ctx, string(value))
		if errors.Is(err, ErrNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if f.matches(e) {
			out = append(out, e)
		}
		return f.Limit <= 0 || len(out) < f.Limit, nil
	})
	return out, err
}

func (s *PebbleStore) Delete(ctx context.Context, id string) error {
	e, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.kv.Apply(map[string][]byte{
		entryPrefix + id: nil,
		timeKey(e):       nil,
	})
}

// Close is a no-op; the kv store is owned by the caller.
func (s *PebbleStore) Close(ctx context.Context) error {
	return nil
}
