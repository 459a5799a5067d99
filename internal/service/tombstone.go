package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/StreamForge/internal/domain/execution"
	"github.com/Strob0t/StreamForge/internal/port/cache"
)

const tombstonePrefix = "tombstone."

// TombstoneStore remembers evicted executions so lookups can report them as
// expired instead of unknown.
type TombstoneStore struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewTombstoneStore creates a TombstoneStore over c.
func NewTombstoneStore(c cache.Cache, ttl time.Duration) *TombstoneStore {
	return &TombstoneStore{cache: c, ttl: ttl}
}

// ExecutionStatusChanged writes a tombstone when an execution expires.
func (s *TombstoneStore) ExecutionStatusChanged(ctx context.Context, info execution.Info) {
	if info.Status != execution.StatusExpired {
		return
	}
	info.Subscribers = 0
	data, err := json.Marshal(info)
	if err != nil {
		slog.Error("marshal tombstone", "execution_id", info.ID, "error", err)
		return
	}
	if err := s.cache.Set(ctx, tombstonePrefix+info.ID, data, s.ttl); err != nil {
		slog.Warn("write tombstone", "execution_id", info.ID, "error", err)
	}
}

// Lookup returns the tombstone for id, if any.
func (s *TombstoneStore) Lookup(ctx context.Context, id string) (*execution.Info, bool, error) {
	data, ok, err := s.cache.Get(ctx, tombstonePrefix+id)
	if err != nil {
		return nil, false, fmt.Errorf("read tombstone %s: %w", id, err)
	}
	if !ok {
		return nil, false, nil
	}
	var info execution.Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, false, fmt.Errorf("decode tombstone %s: %w", id, err)
	}
	return &info, true, nil
}
