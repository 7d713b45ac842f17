// Package ingest is the resumable batch loader: it pages active rows out of
// the relational catalog, normalizes them into search documents, embeds them
// with bounded parallelism, and upserts them into the vector store and the
// indication store. Per-row failures go to a dead-letter list; only loss of
// store connectivity aborts a run. A checkpoint after every batch makes the
// run restartable by offset.
package ingest

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"rxsearch/internal/catalog"
	"rxsearch/internal/fault"
	"rxsearch/internal/metrics"
	"rxsearch/internal/types"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Scanner pages candidate rows out of the catalog and resolves indication
// lists for new keys.
type Scanner interface {
	ScanActive(ctx context.Context, offset, limit int) ([]catalog.Row, error)
	LookupIndicationsByClass(ctx context.Context, keys []string) (map[string][]string, error)
}

// DocumentWriter stores completed documents.
type DocumentWriter interface {
	Upsert(ctx context.Context, doc types.DrugDocument) error
}

// IndicationWriter stores per-class indication lists.
type IndicationWriter interface {
	Upsert(ctx context.Context, key string, indications []string) error
}

// Embedder produces the document embedding for one text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CheckpointWriter persists progress between batches. Optional; a nil writer
// means resumability only within the process.
type CheckpointWriter interface {
	Save(ctx context.Context, cp Checkpoint) error
	Clear(ctx context.Context) error
}

// Deps bundles the pipeline's collaborators.
type Deps struct {
	Scanner     Scanner
	Embedder    Embedder
	Docs        DocumentWriter
	Indications IndicationWriter
	Checkpoints CheckpointWriter
	Logger      *zap.Logger
}

// Config tunes one run. Zero values fall back to production defaults.
type Config struct {
	// BatchSize rows are scanned and processed per batch.
	BatchSize int

	// Concurrency bounds in-flight embedding calls.
	Concurrency int

	// MaxRows caps the run; 0 means scan to the end.
	MaxRows int

	// SafetyMargin stops the run early when less than this much wall clock
	// remains before the context deadline, so the current batch never gets
	// killed mid-flight.
	SafetyMargin time.Duration
}

func (c *Config) setDefaults() {
	if c.BatchSize < 1 {
		c.BatchSize = 100
	}
	if c.Concurrency < 1 {
		c.Concurrency = 8
	}
	if c.SafetyMargin < 0 {
		c.SafetyMargin = 0
	}
}

// =============================================================================
// PIPELINE
// =============================================================================

// Pipeline runs the batch ingest loop.
type Pipeline struct {
	scanner     Scanner
	embedder    Embedder
	docs        DocumentWriter
	indications IndicationWriter
	checkpoints CheckpointWriter
	cfg         Config
	logger      *zap.Logger

	// seenKeys tracks indication keys already looked up this run, so each
	// class joins the catalog once no matter how many NDCs share it.
	seenKeys map[string]bool
}

// New builds a Pipeline over deps.
func New(deps Deps, cfg Config) *Pipeline {
	cfg.setDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		scanner:     deps.Scanner,
		embedder:    deps.Embedder,
		docs:        deps.Docs,
		indications: deps.Indications,
		checkpoints: deps.Checkpoints,
		cfg:         cfg,
		logger:      logger,
		seenKeys:    make(map[string]bool),
	}
}

// Summary reports one run: volume, failures, and where to resume.
type Summary struct {
	Processed  int      `json:"processed"`
	Indexed    int      `json:"indexed"`
	Failed     int      `json:"failed"`
	Batches    int      `json:"batches"`
	DeadLetter []string `json:"dead_letter,omitempty"`
	NextOffset int      `json:"next_offset"`
	Complete   bool     `json:"complete"`
	DurationMS int64    `json:"duration_ms"`
}

// Run ingests batches starting at offset until the scan is exhausted, MaxRows
// is reached, or the deadline safety margin is hit. A subsequent Run at the
// returned NextOffset continues where this one stopped.
func (p *Pipeline) Run(ctx context.Context, offset int) (*Summary, error) {
	start := time.Now()
	if offset < 0 {
		offset = 0
	}
	sum := &Summary{NextOffset: offset}

	for {
		if err := ctx.Err(); err != nil {
			p.finish(sum, start)
			return sum, err
		}
		if p.deadlineNear(ctx) {
			p.logger.Info("stopping before deadline safety margin",
				zap.Int("next_offset", sum.NextOffset))
			break
		}

		batchSize := p.cfg.BatchSize
		if p.cfg.MaxRows > 0 {
			remaining := p.cfg.MaxRows - sum.Processed
			if remaining <= 0 {
				break
			}
			if remaining < batchSize {
				batchSize = remaining
			}
		}

		rows, err := p.scanner.ScanActive(ctx, sum.NextOffset, batchSize)
		if err != nil {
			p.finish(sum, start)
			return sum, err
		}
		if len(rows) == 0 {
			sum.Complete = true
			break
		}

		if err := p.runBatch(ctx, rows, sum); err != nil {
			p.finish(sum, start)
			return sum, err
		}

		if p.checkpoints != nil {
			cp := Checkpoint{
				Offset:          sum.NextOffset,
				LastCompletedAt: time.Now().UTC(),
				DeadLetter:      sum.DeadLetter,
			}
			if err := p.checkpoints.Save(ctx, cp); err != nil {
				p.logger.Warn("checkpoint write failed", zap.Error(err))
			}
		}

		if len(rows) < batchSize {
			sum.Complete = true
			break
		}
	}

	if sum.Complete && p.cfg.MaxRows == 0 && p.checkpoints != nil {
		if err := p.checkpoints.Clear(ctx); err != nil {
			p.logger.Warn("checkpoint clear failed", zap.Error(err))
		}
	}

	p.finish(sum, start)
	p.logger.Info("ingest run finished",
		zap.Int("processed", sum.Processed),
		zap.Int("indexed", sum.Indexed),
		zap.Int("failed", sum.Failed),
		zap.Int("next_offset", sum.NextOffset),
		zap.Bool("complete", sum.Complete),
		zap.Int64("duration_ms", sum.DurationMS),
	)
	return sum, nil
}

func (p *Pipeline) finish(sum *Summary, start time.Time) {
	sum.DurationMS = time.Since(start).Milliseconds()
}

// deadlineNear reports whether the remaining wall clock is inside the safety
// margin.
func (p *Pipeline) deadlineNear(ctx context.Context) bool {
	if p.cfg.SafetyMargin <= 0 {
		return false
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return false
	}
	return time.Until(deadline) < p.cfg.SafetyMargin
}

// =============================================================================
// BATCH PROCESSING
// =============================================================================

// rowOutcome is one row's terminal state within a batch.
type rowOutcome struct {
	ndc string
	err error
}

// runBatch builds, embeds, and upserts one page of rows, then resolves
// indications for any keys first seen in it. Row failures are recorded and
// skipped; an error return means the batch hit a framework failure (store
// connectivity, cancellation) and the run must stop.
func (p *Pipeline) runBatch(ctx context.Context, rows []catalog.Row, sum *Summary) error {
	batchStart := time.Now()
	now := time.Now()

	docs := make([]types.DrugDocument, len(rows))
	outcomes := make([]rowOutcome, len(rows))
	for i, row := range rows {
		outcomes[i].ndc = row.NDC
		doc, err := BuildDocument(row, now)
		if err != nil {
			outcomes[i].err = err
			continue
		}
		outcomes[i].ndc = doc.NDC
		docs[i] = doc
	}

	// Embedding fan-out: one worker per remaining row, bounded by the
	// semaphore. Workers write only their own slot.
	sem := semaphore.NewWeighted(int64(p.cfg.Concurrency))
	var wg sync.WaitGroup
	for i := range rows {
		if outcomes[i].err != nil {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancelled mid-batch; rows not yet started share the outcome.
			for j := i; j < len(rows); j++ {
				if outcomes[j].err == nil {
					outcomes[j].err = err
				}
			}
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[i].err = p.embedAndStore(ctx, &docs[i])
		}()
	}
	wg.Wait()
	sum.Batches++

	// A framework failure means the batch did not commit: the offset stays
	// put and every row re-runs on resume. Re-upserting the rows that did
	// land is harmless (idempotent).
	for i := range outcomes {
		if err := outcomes[i].err; err != nil && isFrameworkError(ctx, err) {
			return err
		}
	}

	for i := range outcomes {
		sum.Processed++
		err := outcomes[i].err
		if err == nil {
			sum.Indexed++
			metrics.IngestRowsTotal.WithLabelValues("indexed").Inc()
			continue
		}
		sum.Failed++
		sum.DeadLetter = append(sum.DeadLetter, outcomes[i].ndc)
		metrics.IngestRowsTotal.WithLabelValues("dead_letter").Inc()
		p.logger.Warn("row dead-lettered",
			zap.String("ndc", outcomes[i].ndc),
			zap.String("kind", string(fault.KindOf(err))),
			zap.Error(err))
	}
	sum.NextOffset += len(rows)

	if err := p.storeIndications(ctx, docs, outcomes); err != nil {
		return err
	}

	duration := time.Since(batchStart)
	metrics.IngestBatchDuration.Observe(duration.Seconds())
	p.logger.Info("batch complete",
		zap.Int("ok", sum.Indexed),
		zap.Int("failed", sum.Failed),
		zap.Int64("duration_ms", duration.Milliseconds()),
		zap.Int("next_offset", sum.NextOffset),
	)
	return nil
}

// embedAndStore fills the document embedding and upserts it. The embedder
// carries its own transient retry policy, so an error here is terminal for
// the row or for the run.
func (p *Pipeline) embedAndStore(ctx context.Context, doc *types.DrugDocument) error {
	vec, err := p.embedder.Embed(ctx, EmbedText(*doc))
	if err != nil {
		return err
	}
	doc.Embedding = vec
	return p.docs.Upsert(ctx, *doc)
}

// isFrameworkError separates failures that must abort the run (cancellation,
// store connectivity lost after retries) from per-row failures that
// dead-letter. Embedding provider faults are per-row by design: one poisoned
// input must not sink the batch.
func isFrameworkError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if fault.Is(err, fault.UpstreamTransient) || fault.Is(err, fault.UpstreamUnavailable) {
		// Retries are already exhausted underneath; the store or provider is
		// down, and every following row would fail the same way.
		return true
	}
	return false
}

// storeIndications resolves indication lists for keys first seen in this
// batch and upserts them. Lookup connectivity failures abort (catalog is
// gone); per-key write failures log and continue.
func (p *Pipeline) storeIndications(ctx context.Context, docs []types.DrugDocument, outcomes []rowOutcome) error {
	keySet := make(map[string]bool)
	for i := range docs {
		if outcomes[i].err != nil {
			continue
		}
		key := docs[i].IndicationKey
		if key == "" || p.seenKeys[key] {
			continue
		}
		keySet[key] = true
	}
	if len(keySet) == 0 {
		return nil
	}

	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lists, err := p.scanner.LookupIndicationsByClass(ctx, keys)
	if err != nil {
		if isFrameworkError(ctx, err) {
			return err
		}
		p.logger.Warn("indication lookup failed", zap.Int("keys", len(keys)), zap.Error(err))
		return nil
	}

	for _, key := range keys {
		p.seenKeys[key] = true
		indications, ok := lists[key]
		if !ok {
			// Nothing on file for this class; normal for OTC products.
			continue
		}
		if err := p.indications.Upsert(ctx, key, indications); err != nil {
			if isFrameworkError(ctx, err) {
				return err
			}
			p.logger.Warn("indication upsert failed", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}
