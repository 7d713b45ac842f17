// Package query turns free-form prescriber input into the restricted
// ParsedQuery shape: canonical drug terms plus a closed filter set. The heavy
// lifting is an LLM call with a cached system prompt; everything the model
// returns is re-validated here, so prompt drift degrades results instead of
// corrupting them. On LLM failure the parser falls back to treating the raw
// input as a single drug term and search proceeds.
package query

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"rxsearch/internal/fault"
	"rxsearch/internal/llm"
	"rxsearch/internal/metrics"
	"rxsearch/internal/types"
)

// ParserLLM is "llm" in metadata when the structured parse was used,
// ParserFallback when the minimal parse stood in for it.
const (
	ParserLLM      = "llm"
	ParserFallback = "fallback"
)

// Meta reports how the parse went; it travels into response metadata.
type Meta struct {
	// Parser is ParserLLM or ParserFallback.
	Parser string `json:"parser"`
	// DroppedFilters lists filter keys the model sent but the parser
	// discarded (unknown key, unparseable value, out-of-vocabulary tag).
	DroppedFilters []string `json:"dropped_filters,omitempty"`
}

// Parser is the query-understanding stage.
type Parser struct {
	chatter llm.Chatter
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a Parser. timeout bounds the whole LLM exchange including its
// internal schema retry.
func New(chatter llm.Chatter, timeout time.Duration, logger *zap.Logger) *Parser {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{chatter: chatter, timeout: timeout, logger: logger}
}

// llmParse is the strict decode target for the model's JSON.
type llmParse struct {
	DrugTerms   []string                   `json:"drug_terms"`
	Filters     map[string]json.RawMessage `json:"filters"`
	Corrections []string                   `json:"corrections"`
}

// Parse converts input into a ParsedQuery. It returns an error only for
// empty input; LLM failures and malformed responses fall back to the minimal
// parse so search always proceeds.
func (p *Parser) Parse(ctx context.Context, input string) (types.ParsedQuery, Meta, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return types.ParsedQuery{}, Meta{}, fault.Errorf(fault.InvalidInput, "query.parse", "empty query")
	}

	llmCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	raw, err := p.chatter.Chat(llmCtx, systemPrompt, input, responseSchema)
	if err != nil {
		if ctx.Err() != nil {
			return types.ParsedQuery{}, Meta{}, ctx.Err()
		}
		p.logger.Warn("query parse failed, using fallback",
			zap.String("kind", string(fault.KindOf(err))), zap.Error(err))
		metrics.QueryParsesTotal.WithLabelValues(ParserFallback).Inc()
		return fallbackParse(input), Meta{Parser: ParserFallback}, nil
	}

	var parsed llmParse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		p.logger.Warn("query parse undecodable, using fallback", zap.Error(err))
		metrics.QueryParsesTotal.WithLabelValues(ParserFallback).Inc()
		return fallbackParse(input), Meta{Parser: ParserFallback}, nil
	}

	terms := expandTerms(parsed.DrugTerms)
	filters, dropped := normalizeFilters(parsed.Filters)

	pq := types.NewParsedQuery(terms, filters)
	pq.Corrections = parsed.Corrections

	if len(parsed.Corrections) > 0 {
		p.logger.Info("query corrections applied", zap.Strings("corrections", parsed.Corrections))
	}
	if len(dropped) > 0 {
		p.logger.Debug("filters dropped", zap.Strings("filters", dropped))
	}
	metrics.QueryParsesTotal.WithLabelValues(ParserLLM).Inc()

	return pq, Meta{Parser: ParserLLM, DroppedFilters: dropped}, nil
}

// fallbackParse treats the raw input as a single drug term with no filters.
func fallbackParse(input string) types.ParsedQuery {
	return types.NewParsedQuery([]string{strings.ToLower(input)}, types.Filters{})
}

// =============================================================================
// FILTER NORMALIZATION
// =============================================================================

// strengthPayload mirrors the model's strength object. Tolerance is a
// pointer: absent defaults to 5%, an explicit zero means exact match.
type strengthPayload struct {
	Value     float64  `json:"value"`
	Unit      string   `json:"unit"`
	Tolerance *float64 `json:"tolerance"`
}

// defaultTolerance is the strength window when the model supplies none.
const defaultTolerance = 0.05

// normalizeFilters validates the model's filter object against the closed
// key set. Invalid values and unknown keys are dropped and reported, never
// propagated: robustness to prompt drift beats strictness here.
func normalizeFilters(raw map[string]json.RawMessage) (types.Filters, []string) {
	var f types.Filters
	var dropped []string

	drop := func(key string) { dropped = append(dropped, key) }

	for key, val := range raw {
		switch key {
		case "dosage_form":
			var s string
			if json.Unmarshal(val, &s) != nil {
				drop(key)
				continue
			}
			form, ok := types.NormalizeDosageForm(s)
			if !ok {
				drop(key)
				continue
			}
			f.DosageForm = form

		case "strength":
			var sp strengthPayload
			if json.Unmarshal(val, &sp) != nil || sp.Value <= 0 {
				drop(key)
				continue
			}
			unit := strings.ToUpper(strings.TrimSpace(sp.Unit))
			if unit == "" || !types.IsStrengthUnit(unit) {
				drop(key)
				continue
			}
			tol := defaultTolerance
			if sp.Tolerance != nil && *sp.Tolerance >= 0 {
				tol = *sp.Tolerance
			}
			f.Strength = &types.Strength{Value: sp.Value, Unit: unit, Tolerance: tol}

		case "ndc":
			var s string
			if json.Unmarshal(val, &s) != nil {
				// Models occasionally emit the code as a bare number.
				var n json.Number
				if json.Unmarshal(val, &n) != nil {
					drop(key)
					continue
				}
				s = n.String()
			}
			ndc, ok := NormalizeNDC(s)
			if !ok {
				drop(key)
				continue
			}
			f.NDC = ndc

		case "gcn_seqno":
			var n int64
			if json.Unmarshal(val, &n) != nil || n <= 0 {
				drop(key)
				continue
			}
			f.GCNSeqno = n

		case "dea_schedule":
			var s string
			if json.Unmarshal(val, &s) != nil {
				var n int64
				if json.Unmarshal(val, &n) != nil {
					drop(key)
					continue
				}
				s = string(rune('0' + n%10))
			}
			sched, ok := normalizeDEASchedule(s)
			if !ok {
				drop(key)
				continue
			}
			f.DEASchedule = sched

		case "is_generic":
			var b bool
			if json.Unmarshal(val, &b) != nil {
				drop(key)
				continue
			}
			f.IsGeneric = &b

		default:
			drop(key)
		}
	}

	// Map iteration order is random; sorted output keeps responses stable.
	sort.Strings(dropped)
	return f, dropped
}

// NormalizeNDC reduces an NDC to its 11 digits. A 10-digit code (the dashed
// retail form with one zero elided) is left-padded; anything else is not an
// NDC. Shared with the lookup endpoints, which accept the same spellings.
func NormalizeNDC(s string) (string, bool) {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch len(digits) {
	case 11:
		return digits, true
	case 10:
		return "0" + digits, true
	default:
		return "", false
	}
}

// romanSchedules tolerates the clinical "schedule II" notation slipping
// through the prompt's digit rule.
var romanSchedules = map[string]string{"II": "2", "III": "3", "IV": "4", "V": "5"}

func normalizeDEASchedule(s string) (string, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if mapped, ok := romanSchedules[s]; ok {
		s = mapped
	}
	if s != "" && types.IsDEASchedule(s) {
		return s, true
	}
	return "", false
}
