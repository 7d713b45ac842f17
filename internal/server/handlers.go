package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"rxsearch/internal/fault"
	"rxsearch/internal/search"
	"rxsearch/internal/types"
)

// =============================================================================
// SEARCH
// =============================================================================

type searchRequest struct {
	Query   string         `json:"query" validate:"required"`
	Limit   int            `json:"limit" validate:"omitempty,min=1,max=50"`
	Options *searchOptions `json:"options"`
}

type searchOptions struct {
	EFRuntime          int `json:"ef_runtime" validate:"omitempty,min=1,max=500"`
	MultiDrugThreshold int `json:"multi_drug_threshold" validate:"omitempty,min=1,max=10"`
}

type searchEnvelope struct {
	Success  bool                 `json:"success"`
	Results  []types.SearchResult `json:"results"`
	Metadata search.Metadata      `json:"metadata"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	opts := search.Options{Limit: req.Limit}
	if req.Options != nil {
		opts.EFRuntime = req.Options.EFRuntime
		opts.MultiDrugThreshold = req.Options.MultiDrugThreshold
	}

	resp, err := s.searcher.Run(r.Context(), req.Query, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchEnvelope{
		Success:  true,
		Results:  resp.Results,
		Metadata: resp.Metadata,
	})
}

// decode unmarshals and validates a JSON body, converting both failure modes
// into invalid_input faults.
func (s *Server) decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fault.Errorf(fault.InvalidInput, "server.decode", "malformed request body: %v", err)
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fault.Errorf(fault.InvalidInput, "server.validate", "%s", fieldMessage(verrs[0]))
		}
		return fault.E(fault.InvalidInput, "server.validate", err)
	}
	return nil
}

// fieldMessage renders one validation failure as a client-facing sentence.
func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// =============================================================================
// LOOKUPS
// =============================================================================

type drugEnvelope struct {
	Success bool           `json:"success"`
	Drug    *search.Detail `json:"drug"`
}

func (s *Server) handleGetDrug(w http.ResponseWriter, r *http.Request) {
	ndc := chi.URLParam(r, "ndc")
	detail, err := s.searcher.GetDrug(r.Context(), ndc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, drugEnvelope{Success: true, Drug: detail})
}

type alternativesEnvelope struct {
	Success      bool                   `json:"success"`
	NDC          string                 `json:"ndc"`
	Alternatives *search.AlternativeSet `json:"alternatives"`
}

func (s *Server) handleAlternatives(w http.ResponseWriter, r *http.Request) {
	ndc := chi.URLParam(r, "ndc")
	set, err := s.searcher.Alternatives(r.Context(), ndc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alternativesEnvelope{
		Success:      true,
		NDC:          ndc,
		Alternatives: set,
	})
}

// =============================================================================
// HEALTH
// =============================================================================

type healthEnvelope struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleHealthz pings each registered dependency. Any failure flips the
// status to 503 so orchestrators stop routing here.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthEnvelope{Status: "ok"}
	status := http.StatusOK

	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
		for _, c := range s.checks {
			if err := c.Ping(r.Context()); err != nil {
				resp.Checks[c.Name] = err.Error()
				resp.Status = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[c.Name] = "ok"
		}
	}

	writeJSON(w, status, resp)
}
