package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected Addr=:8080, got %s", cfg.Server.Addr)
	}
	if cfg.Vector.Dim != 1024 {
		t.Errorf("expected Dim=1024, got %d", cfg.Vector.Dim)
	}
	if cfg.Search.MultiDrugThreshold != 3 {
		t.Errorf("expected MultiDrugThreshold=3, got %d", cfg.Search.MultiDrugThreshold)
	}
	if cfg.Search.K1Single != 20 || cfg.Search.K1Multi != 8 || cfg.Search.K2Expansion != 100 {
		t.Errorf("unexpected k defaults: %d/%d/%d",
			cfg.Search.K1Single, cfg.Search.K1Multi, cfg.Search.K2Expansion)
	}
	if cfg.Ingest.Concurrency != 8 {
		t.Errorf("expected Concurrency=8, got %d", cfg.Ingest.Concurrency)
	}
}

func TestConfig_LoadFromFile(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("K1_SINGLE", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "rxsearch.yaml")

	yaml := `
server:
  addr: ":9090"
redis:
  addr: "redis-prod:6379"
search:
  k1_single: 50
  dosage_form_synonyms:
    INJECTION: ["VIAL", "AMPULE"]
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("expected Addr=:9090, got %s", cfg.Server.Addr)
	}
	if cfg.Redis.Addr != "redis-prod:6379" {
		t.Errorf("expected Addr=redis-prod:6379, got %s", cfg.Redis.Addr)
	}
	if cfg.Search.K1Single != 50 {
		t.Errorf("expected K1Single=50, got %d", cfg.Search.K1Single)
	}
	// Untouched keys keep defaults.
	if cfg.Search.K1Multi != 8 {
		t.Errorf("expected K1Multi default 8, got %d", cfg.Search.K1Multi)
	}
	if got := cfg.Search.DosageFormSynonyms["INJECTION"]; len(got) != 2 || got[1] != "AMPULE" {
		t.Errorf("unexpected synonyms: %v", got)
	}
}

func TestConfig_LoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Vector.IndexName != "drug_idx" {
		t.Errorf("expected default index name, got %s", cfg.Vector.IndexName)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid default config, got error: %v", err)
	}

	cfg.Search.MultiDrugThreshold = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero multi_drug_threshold")
	}

	cfg = DefaultConfig()
	cfg.Embedding.Provider = "tfidf"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for invalid embedding provider")
	}

	cfg = DefaultConfig()
	cfg.Vector.Dim = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero vector dim")
	}

	cfg = DefaultConfig()
	cfg.Ingest.BatchSize = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for negative batch size")
	}
}

func TestConfig_DurationHelpers(t *testing.T) {
	cfg := DefaultConfig()

	if got := cfg.LLMTimeout(); got != 10*time.Second {
		t.Errorf("LLMTimeout=%v, want 10s", got)
	}
	if got := cfg.VectorTimeout(); got != 2*time.Second {
		t.Errorf("VectorTimeout=%v, want 2s", got)
	}
	if got := cfg.IngestSafetyMargin(); got != 30*time.Second {
		t.Errorf("IngestSafetyMargin=%v, want 30s", got)
	}

	// Garbage falls back.
	cfg.Timeouts.Embed = "soon"
	if got := cfg.EmbedTimeout(); got != 5*time.Second {
		t.Errorf("EmbedTimeout fallback=%v, want 5s", got)
	}
}

func TestParseDosageFormSynonyms(t *testing.T) {
	m := ParseDosageFormSynonyms("injection=VIAL|syringe|solution; cream=lotion")
	if len(m) != 2 {
		t.Fatalf("expected 2 entries, got %d: %v", len(m), m)
	}
	inj := m["INJECTION"]
	if len(inj) != 3 || inj[0] != "VIAL" || inj[1] != "SYRINGE" {
		t.Errorf("unexpected injection synonyms: %v", inj)
	}
	if got := m["CREAM"]; len(got) != 1 || got[0] != "LOTION" {
		t.Errorf("unexpected cream synonyms: %v", got)
	}

	if m := ParseDosageFormSynonyms("=VIAL;;junk"); len(m) != 0 {
		t.Errorf("expected malformed entries dropped, got %v", m)
	}
}

func TestAutoApplySet(t *testing.T) {
	sc := SearchConfig{AutoApplyFilters: []string{"Dosage_Form", " ndc "}}
	set := sc.AutoApplySet()
	if !set["dosage_form"] || !set["ndc"] {
		t.Errorf("expected normalized entries, got %v", set)
	}
	if set["strength"] {
		t.Error("strength should never be in the default whitelist")
	}
}
