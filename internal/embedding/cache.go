package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"rxsearch/internal/vec32"
)

// =============================================================================
// REDIS CACHE DECORATOR
// =============================================================================

// Cached is a read-through Redis cache in front of another Embedder. Vectors
// are stored as little-endian float32 bytes under emb:{provider}:{sha256}.
// Cache failures degrade to provider calls; they never fail the request.
type Cached struct {
	next    Embedder
	rdb     *redis.Client
	ttl     time.Duration
	lookups *prometheus.CounterVec
	logger  *zap.Logger
}

// NewCached wraps next with a Redis embedding cache.
func NewCached(next Embedder, rdb *redis.Client, ttl time.Duration, lookups *prometheus.CounterVec, logger *zap.Logger) *Cached {
	return &Cached{
		next:    next,
		rdb:     rdb,
		ttl:     ttl,
		lookups: lookups,
		logger:  logger,
	}
}

// cacheKey derives the cache key for text embedded by the named provider.
// The provider name carries the model id, so switching models never serves
// stale vectors.
func cacheKey(provider, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + provider + ":" + hex.EncodeToString(sum[:])
}

// Embed returns the cached vector when present, otherwise delegates and
// stores the result.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	text = truncate(text)
	key := cacheKey(c.next.Name(), text)

	if vec, ok := c.read(ctx, key); ok {
		c.lookups.WithLabelValues("hit").Inc()
		return vec, nil
	}
	c.lookups.WithLabelValues("miss").Inc()

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.write(ctx, key, vec)
	return vec, nil
}

// EmbedBatch resolves cached entries via MGET and embeds only the misses.
// Result order matches the input order.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	trimmed := make([]string, len(texts))
	keys := make([]string, len(texts))
	for i, t := range texts {
		trimmed[i] = truncate(t)
		keys[i] = cacheKey(c.next.Name(), trimmed[i])
	}

	out := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))

	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("embedding cache batch read failed", zap.Error(err))
		vals = make([]interface{}, len(texts))
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			missIdx = append(missIdx, i)
			continue
		}
		vec, derr := vec32.Decode([]byte(s))
		if derr != nil || len(vec) != c.next.Dimensions() {
			missIdx = append(missIdx, i)
			continue
		}
		c.lookups.WithLabelValues("hit").Inc()
		out[i] = vec
	}

	if len(missIdx) == 0 {
		return out, nil
	}

	missTexts := make([]string, len(missIdx))
	for j, i := range missIdx {
		missTexts[j] = trimmed[i]
	}
	vecs, err := c.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	pipe := c.rdb.Pipeline()
	for j, i := range missIdx {
		c.lookups.WithLabelValues("miss").Inc()
		out[i] = vecs[j]
		pipe.Set(ctx, keys[i], vec32.Encode(vecs[j]), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("embedding cache batch write failed", zap.Error(err))
	}

	return out, nil
}

// Dimensions returns the wrapped embedder's dimensionality.
func (c *Cached) Dimensions() int {
	return c.next.Dimensions()
}

// Name returns the wrapped embedder's name.
func (c *Cached) Name() string {
	return c.next.Name()
}

// HealthCheck forwards the startup probe to the wrapped embedder.
func (c *Cached) HealthCheck(ctx context.Context) error {
	if hc, ok := c.next.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func (c *Cached) read(ctx context.Context, key string) ([]float32, bool) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("embedding cache read failed", zap.Error(err))
		}
		return nil, false
	}
	vec, err := vec32.Decode(b)
	if err != nil || len(vec) != c.next.Dimensions() {
		// Corrupt or stale entry; recompute and overwrite.
		return nil, false
	}
	return vec, true
}

func (c *Cached) write(ctx context.Context, key string, vec []float32) {
	if err := c.rdb.Set(ctx, key, vec32.Encode(vec), c.ttl).Err(); err != nil {
		c.logger.Warn("embedding cache write failed", zap.Error(err))
	}
}
