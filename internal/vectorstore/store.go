// Package vectorstore is the gateway to the Redis Query Engine index holding
// the drug catalog: one hash per NDC under drug:{ndc}, with an HNSW vector
// field for semantic search and TAG/TEXT/NUMERIC fields for filtering.
// Filters always apply before KNN traversal.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"rxsearch/internal/fault"
	"rxsearch/internal/retry"
	"rxsearch/internal/types"
	"rxsearch/internal/vec32"
)

// Store wraps a Redis client with the drug index operations.
type Store struct {
	rdb    *redis.Client
	spec   IndexSpec
	logger *zap.Logger
	policy retry.Policy
}

// New creates a Store over rdb for the given index layout.
func New(rdb *redis.Client, spec IndexSpec, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		rdb:    rdb,
		spec:   spec,
		logger: logger,
		policy: retry.Default(),
	}
}

func (s *Store) key(ndc string) string {
	return s.spec.Prefix + ndc
}

// =============================================================================
// INDEX LIFECYCLE
// =============================================================================

// CreateIndex creates the drug index. Idempotent: an existing index is
// treated as success.
func (s *Store) CreateIndex(ctx context.Context) error {
	args := BuildCreateIndexArgs(s.spec)
	if err := s.rdb.Do(ctx, args...).Err(); err != nil {
		if strings.Contains(err.Error(), "Index already exists") {
			s.logger.Debug("index already exists", zap.String("index", s.spec.Name))
			return nil
		}
		return classifyRedis("vectorstore.create_index", err)
	}
	s.logger.Info("index created",
		zap.String("index", s.spec.Name),
		zap.Int("dim", s.spec.Dim),
		zap.String("quantization", s.spec.Quantization),
	)
	return nil
}

// DropIndex removes the index definition, keeping the document hashes.
// Dropping a missing index is treated as success.
func (s *Store) DropIndex(ctx context.Context) error {
	if err := s.rdb.Do(ctx, "FT.DROPINDEX", s.spec.Name).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unknown index") {
			return nil
		}
		return classifyRedis("vectorstore.drop_index", err)
	}
	return nil
}

// Info returns the scalar attributes of FT.INFO (num_docs, indexing state).
func (s *Store) Info(ctx context.Context) (map[string]string, error) {
	reply, err := s.rdb.Do(ctx, "FT.INFO", s.spec.Name).Result()
	if err != nil {
		return nil, classifyRedis("vectorstore.info", err)
	}

	out := make(map[string]string)
	switch v := reply.(type) {
	case []interface{}:
		for i := 0; i+1 < len(v); i += 2 {
			name, ok := v[i].(string)
			if !ok {
				continue
			}
			if scalar, ok := scalarString(v[i+1]); ok {
				out[name] = scalar
			}
		}
	case map[interface{}]interface{}:
		for k, val := range v {
			name, ok := k.(string)
			if !ok {
				continue
			}
			if scalar, ok := scalarString(val); ok {
				out[name] = scalar
			}
		}
	}
	return out, nil
}

func scalarString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}

// =============================================================================
// DOCUMENT OPERATIONS
// =============================================================================

// Upsert writes doc to drug:{ndc}. Last writer wins per key; re-upserting
// identical content is a no-op for readers.
func (s *Store) Upsert(ctx context.Context, doc types.DrugDocument) error {
	if err := doc.Validate(); err != nil {
		return fault.E(fault.InvalidInput, "vectorstore.upsert", err)
	}
	if len(doc.Embedding) != s.spec.Dim {
		return fault.Errorf(fault.InvalidInput, "vectorstore.upsert",
			"document %s has %d-dim embedding, index wants %d", doc.NDC, len(doc.Embedding), s.spec.Dim)
	}

	fields := encodeDoc(doc)
	return retry.Do(ctx, s.policy, "vectorstore.upsert", func(ctx context.Context) error {
		return classifyRedis("vectorstore.upsert", s.rdb.HSet(ctx, s.key(doc.NDC), fields).Err())
	})
}

// Get reads the document for ndc; not_found when the key is absent.
func (s *Store) Get(ctx context.Context, ndc string) (types.DrugDocument, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(ndc)).Result()
	if err != nil {
		return types.DrugDocument{}, classifyRedis("vectorstore.get", err)
	}
	if len(fields) == 0 {
		return types.DrugDocument{}, fault.Errorf(fault.NotFound, "vectorstore.get", "ndc %s not indexed", ndc)
	}
	doc, err := decodeDoc(fields)
	if err != nil {
		return types.DrugDocument{}, fault.E(fault.Internal, "vectorstore.get", err)
	}
	return doc, nil
}

// =============================================================================
// HYBRID QUERY
// =============================================================================

// QuerySpec describes one FT.SEARCH. A non-nil Vector selects KNN mode
// (filter-then-KNN, sorted by distance); otherwise a filtered scan limited
// to Limit rows, sorted by drug_name.
type QuerySpec struct {
	Filter       string
	Vector       []float32
	K            int
	EFRuntime    int
	Limit        int
	ReturnFields []string
}

// Hit is one search result. Score is 1 − cosine distance in vector mode and
// 0 in non-vector mode.
type Hit struct {
	Doc   types.DrugDocument
	Score float64
}

// HybridQuery executes spec against the index.
func (s *Store) HybridQuery(ctx context.Context, spec QuerySpec) ([]Hit, error) {
	returnFields := spec.ReturnFields
	if len(returnFields) == 0 {
		returnFields = scalarFields
	}

	opts := &redis.FTSearchOptions{DialectVersion: 2}
	for _, f := range returnFields {
		opts.Return = append(opts.Return, redis.FTSearchReturn{FieldName: f})
	}

	var query string
	if spec.Vector != nil {
		if len(spec.Vector) != s.spec.Dim {
			return nil, fault.Errorf(fault.InvalidInput, "vectorstore.query",
				"query vector has %d dims, index wants %d", len(spec.Vector), s.spec.Dim)
		}
		k := spec.K
		if k < 1 {
			k = 1
		}
		query = KNN(spec.Filter, k, spec.EFRuntime)
		opts.Params = map[string]interface{}{"vec": string(vec32.Encode(spec.Vector))}
		opts.Return = append(opts.Return, redis.FTSearchReturn{FieldName: fieldScore})
		opts.SortBy = []redis.FTSearchSortBy{{FieldName: fieldScore, Asc: true}}
		opts.Limit = k
	} else {
		query = spec.Filter
		if query == "" {
			query = "*"
		}
		limit := spec.Limit
		if limit < 1 {
			limit = 10
		}
		opts.SortBy = []redis.FTSearchSortBy{{FieldName: fieldDrugName, Asc: true}}
		opts.Limit = limit
	}

	var res redis.FTSearchResult
	err := retry.Do(ctx, s.policy, "vectorstore.query", func(ctx context.Context) error {
		var qerr error
		res, qerr = s.rdb.FTSearchWithArgs(ctx, s.spec.Name, query, opts).Result()
		return classifyRedis("vectorstore.query", qerr)
	})
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(res.Docs))
	for _, d := range res.Docs {
		doc, derr := decodeDoc(d.Fields)
		if derr != nil {
			s.logger.Warn("skipping undecodable hit",
				zap.String("key", d.ID), zap.Error(derr))
			continue
		}
		hit := Hit{Doc: doc}
		if raw, ok := d.Fields[fieldScore]; ok {
			if dist, perr := strconv.ParseFloat(raw, 64); perr == nil {
				hit.Score = 1 - dist
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count returns the number of documents matching filter without fetching
// any of them (FT.SEARCH LIMIT 0 0).
func (s *Store) Count(ctx context.Context, filter string) (int64, error) {
	if filter == "" {
		filter = "*"
	}

	var reply interface{}
	err := retry.Do(ctx, s.policy, "vectorstore.count", func(ctx context.Context) error {
		var qerr error
		reply, qerr = s.rdb.Do(ctx, "FT.SEARCH", s.spec.Name, filter, "LIMIT", "0", "0", "DIALECT", "2").Result()
		return classifyRedis("vectorstore.count", qerr)
	})
	if err != nil {
		return 0, err
	}

	// RESP2 replies are [total, key, fields, ...]; RESP3 replies are a map
	// with a total_results entry.
	switch v := reply.(type) {
	case []interface{}:
		if len(v) > 0 {
			if n, ok := v[0].(int64); ok {
				return n, nil
			}
		}
	case map[interface{}]interface{}:
		if n, ok := v["total_results"].(int64); ok {
			return n, nil
		}
	}
	return 0, fault.Errorf(fault.Internal, "vectorstore.count", "unrecognized FT.SEARCH reply shape %T", reply)
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// classifyRedis separates transport failures (transient, retried) from
// server-side reply errors (fatal: a bad query does not get better on
// retry).
func classifyRedis(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, redis.Nil) {
		return fault.E(fault.NotFound, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return fault.E(fault.UpstreamTransient, op, err)
	}
	return fault.E(fault.Internal, op, fmt.Errorf("redis: %w", err))
}
