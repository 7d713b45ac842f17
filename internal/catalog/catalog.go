// Package catalog is the read-only gateway to the relational FDB drug
// catalog. It serves three batched queries: the paged active-NDC scan that
// feeds ingestion, per-NDC enrichment for search results, and the
// class-to-indications join used while indexing.
//
// Table layout (FDB extract):
//
//	rndc14    one row per NDC: ln/bn names, gcn_seqno, innov flag, dea,
//	          obsdtec obsolescence date, df dosage form, ps/pd packaging,
//	          ad route, lblrid labeler
//	rgcnseq4  clinical formulation per gcn_seqno: hicl_seqno, str, tc
//	rhiclsq1  ingredient description per hicl_seqno
//	rtctbl0   therapeutic class description per tc
//	rlblrid2  labeler name per lblrid
//	rindmgc0  gcn_seqno -> indcts links
//	rindmma2  indication description per indcts
//
// Every operation is a single one-shot query, so a connection is never held
// across LLM or embedding I/O.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver
	"github.com/jmoiron/sqlx"

	"rxsearch/internal/fault"
)

// Gateway wraps the catalog connection pool.
type Gateway struct {
	db *sqlx.DB
}

// Open creates a Gateway over a pgx stdlib pool. No connection is made until
// the first query; use Ping to verify reachability at startup.
func Open(dsn string, maxConns int, idleTimeout time.Duration) (*Gateway, error) {
	if dsn == "" {
		return nil, errors.New("catalog DSN is required")
	}
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if maxConns < 1 {
		maxConns = 8
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxIdleTime(idleTimeout)
	return &Gateway{db: db}, nil
}

// NewWithDB wraps an existing pool. Used by tests.
func NewWithDB(db *sqlx.DB) *Gateway {
	return &Gateway{db: db}
}

// Ping verifies catalog connectivity.
func (g *Gateway) Ping(ctx context.Context) error {
	return classify("catalog.ping", g.db.PingContext(ctx))
}

// Close releases the pool.
func (g *Gateway) Close() error {
	return g.db.Close()
}

// =============================================================================
// ACTIVE SCAN
// =============================================================================

// Row is one candidate drug row from the active scan, denormalized across
// the name, formulation, and class tables.
type Row struct {
	NDC              string `db:"ndc"`
	DrugName         string `db:"drug_name"`
	BrandName        string `db:"brand_name"`
	GCNSeqno         int64  `db:"gcn_seqno"`
	Ingredient       string `db:"ingredient"`
	TherapeuticClass string `db:"therapeutic_class"`
	Strength         string `db:"strength"`
	DosageForm       string `db:"dosage_form"`
	Innov            string `db:"innov"`
	DEA              string `db:"dea"`
	Labeler          string `db:"labeler"`
}

// scanActiveQuery pages active rows in NDC order. "Active" excludes rows
// with an obsolescence date and rows whose name is shorter than 4 characters
// (placeholder rows in FDB extracts). The fixed ORDER BY is what makes the
// scan restartable by offset.
const scanActiveQuery = `
SELECT n.ndc,
       n.ln                      AS drug_name,
       COALESCE(n.bn, '')        AS brand_name,
       COALESCE(n.gcn_seqno, 0)  AS gcn_seqno,
       COALESCE(h.hicl_desc, '') AS ingredient,
       COALESCE(t.tcdesc, '')    AS therapeutic_class,
       COALESCE(g.str, '')       AS strength,
       COALESCE(n.df, '')        AS dosage_form,
       COALESCE(n.innov, '')     AS innov,
       COALESCE(n.dea, '')       AS dea,
       COALESCE(n.lblrid, '')    AS labeler
FROM rndc14 n
LEFT JOIN rgcnseq4 g ON g.gcn_seqno = n.gcn_seqno
LEFT JOIN rhiclsq1 h ON h.hicl_seqno = g.hicl_seqno
LEFT JOIN rtctbl0 t ON t.tc = g.tc
WHERE n.obsdtec IS NULL
  AND n.ln IS NOT NULL
  AND length(trim(n.ln)) >= 4
ORDER BY n.ndc
LIMIT $1 OFFSET $2`

// ScanActive returns one page of active catalog rows starting at offset.
// An empty page means the scan is complete.
func (g *Gateway) ScanActive(ctx context.Context, offset, limit int) ([]Row, error) {
	if limit < 1 {
		return nil, fault.Errorf(fault.InvalidInput, "catalog.scan_active", "limit must be positive, got %d", limit)
	}
	if offset < 0 {
		offset = 0
	}

	var rows []Row
	if err := g.db.SelectContext(ctx, &rows, scanActiveQuery, limit, offset); err != nil {
		return nil, classify("catalog.scan_active", err)
	}
	return rows, nil
}

// =============================================================================
// ENRICHMENT
// =============================================================================

// Enrichment holds the catalog-owned fields attached to search results.
type Enrichment struct {
	NDC                string  `db:"ndc"`
	ManufacturerName   string  `db:"manufacturer_name"`
	Route              string  `db:"route"`
	PackageSize        float64 `db:"package_size"`
	PackageDescription string  `db:"package_description"`
}

const enrichQuery = `
SELECT n.ndc,
       COALESCE(l.mfg, '') AS manufacturer_name,
       COALESCE(n.ad, '')  AS route,
       COALESCE(n.ps, 0)   AS package_size,
       COALESCE(n.pd, '')  AS package_description
FROM rndc14 n
LEFT JOIN rlblrid2 l ON l.lblrid = n.lblrid
WHERE n.ndc IN (?)`

// EnrichByNDC resolves enrichment fields for a batch of NDCs in one IN-clause
// query. NDCs absent from the catalog are simply missing from the map.
func (g *Gateway) EnrichByNDC(ctx context.Context, ndcs []string) (map[string]Enrichment, error) {
	if len(ndcs) == 0 {
		return map[string]Enrichment{}, nil
	}

	query, args, err := sqlx.In(enrichQuery, ndcs)
	if err != nil {
		return nil, fault.E(fault.Internal, "catalog.enrich", err)
	}

	var rows []Enrichment
	if err := g.db.SelectContext(ctx, &rows, g.db.Rebind(query), args...); err != nil {
		return nil, classify("catalog.enrich", err)
	}

	out := make(map[string]Enrichment, len(rows))
	for _, r := range rows {
		out[r.NDC] = r
	}
	return out, nil
}

// =============================================================================
// INDICATIONS
// =============================================================================

// indicationRow carries one (name, indication) pair from either join.
type indicationRow struct {
	Name       string `db:"name"`
	Indication string `db:"indication"`
}

const classIndicationsQuery = `
SELECT DISTINCT upper(h.hicl_desc) AS name,
       m.indication_desc           AS indication
FROM rhiclsq1 h
JOIN rgcnseq4 g ON g.hicl_seqno = h.hicl_seqno
JOIN rindmgc0 i ON i.gcn_seqno = g.gcn_seqno
JOIN rindmma2 m ON m.indcts = i.indcts
WHERE upper(h.hicl_desc) IN (?)
ORDER BY name, indication`

const brandIndicationsQuery = `
SELECT DISTINCT upper(n.bn)  AS name,
       m.indication_desc     AS indication
FROM rndc14 n
JOIN rindmgc0 i ON i.gcn_seqno = n.gcn_seqno
JOIN rindmma2 m ON m.indcts = i.indcts
WHERE upper(n.bn) IN (?)
ORDER BY name, indication`

// LookupIndicationsByClass resolves indication lists for a batch of
// indication keys ("brand:CRESTOR", "class:ROSUVASTATIN_CALCIUM"). Brand and
// class keys each go through one batched join; keys with no indications on
// file are absent from the result. Used only during ingest.
func (g *Gateway) LookupIndicationsByClass(ctx context.Context, keys []string) (map[string][]string, error) {
	// The key's name part stores spaces as underscores; the join needs them
	// back. nameToKey maps the SQL-side name to the original key.
	classNames := make([]string, 0, len(keys))
	brandNames := make([]string, 0, len(keys))
	nameToKey := make(map[string]string, len(keys))

	for _, key := range keys {
		kind, name, ok := strings.Cut(key, ":")
		if !ok || name == "" {
			continue
		}
		joinName := strings.ToUpper(strings.ReplaceAll(name, "_", " "))
		nameToKey[kind+"\x00"+joinName] = key
		switch kind {
		case "class":
			classNames = append(classNames, joinName)
		case "brand":
			brandNames = append(brandNames, joinName)
		}
	}

	out := make(map[string][]string)

	collect := func(kind, baseQuery string, names []string) error {
		if len(names) == 0 {
			return nil
		}
		query, args, err := sqlx.In(baseQuery, names)
		if err != nil {
			return fault.E(fault.Internal, "catalog.indications", err)
		}
		var rows []indicationRow
		if err := g.db.SelectContext(ctx, &rows, g.db.Rebind(query), args...); err != nil {
			return classify("catalog.indications", err)
		}
		for _, r := range rows {
			key, ok := nameToKey[kind+"\x00"+r.Name]
			if !ok || r.Indication == "" {
				continue
			}
			out[key] = append(out[key], r.Indication)
		}
		return nil
	}

	if err := collect("class", classIndicationsQuery, classNames); err != nil {
		return nil, err
	}
	if err := collect("brand", brandIndicationsQuery, brandNames); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// classify separates transport failures (transient, retried by callers) from
// query errors (internal: a bad query does not get better on retry).
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
	return fault.E(fault.Internal, op, fmt.Errorf("catalog: %w", err))
}
