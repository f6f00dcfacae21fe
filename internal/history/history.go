// Package history keeps the most recent search requests per client in Redis.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neexbeast/tour-search/internal/tour"
)

const (
	defaultLimit = 10
	defaultTTL   = 24 * time.Hour
)

// Entry is one started search.
type Entry struct {
	JobID     int64              `json:"jobId"`
	Request   tour.SearchRequest `json:"request"`
	StartedAt time.Time          `json:"startedAt"`
}

// Store is a capped, expiring list of entries per client identity.
type Store struct {
	client *redis.Client
	limit  int64
	ttl    time.Duration
}

// NewStore keeps the last 10 searches per identity for 24 hours.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client, limit: defaultLimit, ttl: defaultTTL}
}

func key(identity string) string {
	return "history:searches:" + identity
}

// Push records e as the newest entry for identity and trims the list.
func (s *Store) Push(ctx context.Context, identity string, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling history entry for job %d: %w", e.JobID, err)
	}

	k := key(identity)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, k, b)
		p.LTrim(ctx, k, 0, s.limit-1)
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("pushing history for %s: %w", identity, err)
	}
	return nil
}

// Recent returns entries for identity, newest first. Unknown identities
// yield an empty slice.
func (s *Store) Recent(ctx context.Context, identity string) ([]Entry, error) {
	vals, err := s.client.LRange(ctx, key(identity), 0, s.limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading history for %s: %w", identity, err)
	}

	out := make([]Entry, 0, len(vals))
	for _, v := range vals {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("unmarshaling history entry for %s: %w", identity, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
