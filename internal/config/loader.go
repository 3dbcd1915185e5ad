package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"embeddings": {"openai", "ollama"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// validPropertyTypes are the allowed values of EntityConfig property types.
var validPropertyTypes = []string{"string", "number", "date"}

// Load reads the YAML configuration file at path, resolves @include
// references relative to the file's directory, and returns a validated
// [Config].
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := loadBytes(raw, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// @include references are resolved relative to the current directory.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return loadBytes(raw, ".")
}

// loadBytes runs the include preprocessor, decodes, defaults and validates.
func loadBytes(raw []byte, baseDir string) (*Config, error) {
	cfg, err := decodePreprocessed(raw, baseDir)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Identifier space is load-bearing: every candidate id embeds it.
	if cfg.IdentifierSpace == "" {
		errs = append(errs, errors.New("identifier_space is required"))
	}

	// Scoring knobs. Nil pointers mean "not yet defaulted" and are skipped;
	// [ApplyDefaults] runs before Validate on the load path.
	for _, knob := range []struct {
		name  string
		value *float64
	}{
		{"blend_alpha", cfg.BlendAlpha},
		{"trgm_threshold", cfg.TrgmThreshold},
		{"auto_match_threshold", cfg.AutoMatchThreshold},
		{"auto_match_margin", cfg.AutoMatchMargin},
	} {
		if knob.value != nil && (*knob.value < 0 || *knob.value > 1) {
			errs = append(errs, fmt.Errorf("%s %.3f is out of range [0, 1]", knob.name, *knob.value))
		}
	}
	if cfg.DefaultQueryLimit < 1 {
		errs = append(errs, fmt.Errorf("default_query_limit %d must be positive", cfg.DefaultQueryLimit))
	}
	for _, knob := range []struct {
		name  string
		value int
	}{
		{"k_trgm", cfg.KTrgm},
		{"k_sem", cfg.KSem},
		{"k_final", cfg.KFinal},
	} {
		if knob.value < 1 {
			errs = append(errs, fmt.Errorf("%s %d must be positive", knob.name, knob.value))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("embeddings", cfg.Providers.EmbeddingsFallback.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.LLMFallback.Name)

	if cfg.Providers.Embeddings.Name == "" {
		slog.Warn("providers.embeddings is not configured; the semantic channel will be unavailable and retrieval degrades to trigram-only")
	}
	if cfg.LLMRerank.Enabled && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("llm_rerank.enabled is set but providers.llm is not configured"))
	}
	if cfg.LLMRerank.TopN < 5 || cfg.LLMRerank.TopN > 10 {
		errs = append(errs, fmt.Errorf("llm_rerank.top_n %d is out of range [5, 10]", cfg.LLMRerank.TopN))
	}

	// Database
	if cfg.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	// Entity descriptors: duplicate names and structural completeness.
	namesSeen := make(map[string]int, len(cfg.Entities))
	for i, e := range cfg.Entities {
		prefix := fmt.Sprintf("entities[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := namesSeen[e.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of entities[%d]", prefix, e.Name, prev))
			}
			namesSeen[e.Name] = i
		}
		if e.Table == "" {
			errs = append(errs, fmt.Errorf("%s.table is required", prefix))
		}
		if e.IDColumn == "" {
			errs = append(errs, fmt.Errorf("%s.id_column is required", prefix))
		}
		if e.LabelColumn == "" {
			errs = append(errs, fmt.Errorf("%s.label_column is required", prefix))
		}
		for j, p := range e.Properties {
			if p.ID == "" {
				errs = append(errs, fmt.Errorf("%s.properties[%d].id is required", prefix, j))
			}
			if p.Type != "" && !slices.Contains(validPropertyTypes, p.Type) {
				errs = append(errs, fmt.Errorf("%s.properties[%d].type %q is invalid; valid values: string, number, date", prefix, j, p.Type))
			}
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
