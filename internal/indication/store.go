// Package indication stores per-class indication lists in Redis, keyed by
// indication_key ("brand:CRESTOR", "class:ROSUVASTATIN_CALCIUM"). Thousands
// of keys serve hundreds of thousands of drug documents, so indications are
// deduplicated here instead of being denormalized onto every document.
package indication

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"rxsearch/internal/fault"
	"rxsearch/internal/retry"
	"rxsearch/internal/types"
)

// keyPrefix namespaces indication entries in the shared Redis database.
const keyPrefix = "indication:"

// Store reads and writes indication records.
type Store struct {
	rdb    *redis.Client
	policy retry.Policy
}

// New creates a Store over rdb.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, policy: retry.Default()}
}

// entry is the persisted JSON shape.
type entry struct {
	Indications []string `json:"indications"`
}

// Upsert replaces the indication list for key wholesale. The list is
// deduplicated preserving order; empty strings are dropped.
func (s *Store) Upsert(ctx context.Context, key string, indications []string) error {
	if strings.TrimSpace(key) == "" {
		return fault.Errorf(fault.InvalidInput, "indication.upsert", "empty indication key")
	}

	clean := dedupe(indications)
	data, err := json.Marshal(entry{Indications: clean})
	if err != nil {
		return fault.E(fault.Internal, "indication.upsert", err)
	}

	return retry.Do(ctx, s.policy, "indication.upsert", func(ctx context.Context) error {
		return classify("indication.upsert", s.rdb.Set(ctx, keyPrefix+key, data, 0).Err())
	})
}

// Get returns the indication list for key, or not_found.
func (s *Store) Get(ctx context.Context, key string) (types.IndicationRecord, error) {
	data, err := s.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return types.IndicationRecord{}, fault.Errorf(fault.NotFound, "indication.get", "key %s not stored", key)
		}
		return types.IndicationRecord{}, classify("indication.get", err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return types.IndicationRecord{}, fault.E(fault.Internal, "indication.get", err)
	}
	return types.IndicationRecord{Key: key, Indications: e.Indications}, nil
}

// GetBatch resolves several keys in one MGET. Missing and undecodable keys
// are simply absent from the result; a family without indications is not an
// error.
func (s *Store) GetBatch(ctx context.Context, keys []string) (map[string][]string, error) {
	if len(keys) == 0 {
		return map[string][]string{}, nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = keyPrefix + k
	}

	vals, err := s.rdb.MGet(ctx, prefixed...).Result()
	if err != nil {
		return nil, classify("indication.get_batch", err)
	}

	out := make(map[string][]string, len(keys))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var e entry
		if json.Unmarshal([]byte(raw), &e) != nil {
			continue
		}
		out[keys[i]] = e.Indications
	}
	return out, nil
}

// dedupe drops duplicates and blanks, preserving first-seen order.
func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// classify separates transport failures (transient) from everything else.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return fault.E(fault.UpstreamTransient, op, err)
	}
	return fault.E(fault.Internal, op, err)
}
