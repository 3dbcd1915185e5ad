// Package config provides the configuration schema, loader, include
// preprocessor, and provider registry for the SEAD authority reconciliation
// service.
package config

// LogLevel controls log verbosity for the service.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults for the retrieval and scoring knobs. Applied by [ApplyDefaults]
// when the corresponding key is absent from the YAML file.
const (
	DefaultQueryLimit         = 10
	DefaultKTrgm              = 30
	DefaultKSem               = 30
	DefaultKFinal             = 20
	DefaultBlendAlpha         = 0.5
	DefaultTrgmThreshold      = 0.3
	DefaultAutoMatchThreshold = 0.9
	DefaultAutoMatchMargin    = 0.05
	DefaultEmbeddingDims      = 768
)

// Config is the root configuration structure for the reconciliation service.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`

	// ServiceName is the human-readable service name returned in the protocol
	// metadata document.
	ServiceName string `yaml:"service_name"`

	// IdentifierSpace is the URI prefix under which canonical entity ids live,
	// e.g. "https://sead.se/id". Candidate ids are "<prefix>/<entity>/<n>".
	IdentifierSpace string `yaml:"identifier_space"`

	// SchemaSpace is the URI identifying the type vocabulary, returned verbatim
	// in metadata.
	SchemaSpace string `yaml:"schema_space"`

	// BaseURL is the externally visible base URL of this service, used to build
	// preview and flyout URL templates in metadata.
	BaseURL string `yaml:"base_url"`

	// DefaultQueryLimit caps candidate lists when a query omits limit.
	DefaultQueryLimit int `yaml:"default_query_limit"`

	// KTrgm and KSem are the per-channel top-K fetched before blending;
	// KFinal is the post-blend truncation size.
	KTrgm  int `yaml:"k_trgm"`
	KSem   int `yaml:"k_sem"`
	KFinal int `yaml:"k_final"`

	// BlendAlpha weights the trigram channel in the blend:
	// blend = alpha*trgm + (1-alpha)*sem. Must lie in [0,1]. Pointers so an
	// explicit 0 in the file is distinguishable from an absent key.
	BlendAlpha *float64 `yaml:"blend_alpha"`

	// TrgmThreshold is the minimum trigram similarity for a row to enter the
	// lexical channel.
	TrgmThreshold *float64 `yaml:"trgm_threshold"`

	// AutoMatchThreshold and AutoMatchMargin control the protocol-level match
	// flag: the top candidate auto-matches when its blend reaches the threshold
	// and leads the runner-up by more than the margin.
	AutoMatchThreshold *float64 `yaml:"auto_match_threshold"`
	AutoMatchMargin    *float64 `yaml:"auto_match_margin"`

	Database  DatabaseConfig  `yaml:"database"`
	Providers ProvidersConfig `yaml:"providers"`

	// EmbeddingDimensions is the vector dimension of the authority embedding
	// tables. The configured embedding provider must produce vectors of this
	// length; startup fails otherwise.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`

	EmbeddingCache EmbeddingCacheConfig `yaml:"embedding_cache"`
	LLMRerank      LLMRerankConfig      `yaml:"llm_rerank"`
	Bibliography   BibliographyConfig   `yaml:"bibliography"`

	// Entities lists the strategy descriptors for the searchable entity types.
	// Entries may be composed from include files; see [Preprocess].
	Entities []EntityConfig `yaml:"entities"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8090").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// DatabaseConfig holds settings for the authority database connection pool.
type DatabaseConfig struct {
	// DSN is the PostgreSQL connection string. The database must have the
	// pg_trgm and vector extensions installed.
	DSN string `yaml:"dsn"`

	// MaxConns bounds the pgx pool size. Zero means the pgx default.
	MaxConns int32 `yaml:"max_conns"`

	// AcquireTimeoutMS bounds how long a sub-query waits for a pooled
	// connection before failing with Overloaded. Zero means 5000.
	AcquireTimeoutMS int `yaml:"acquire_timeout_ms"`
}

// ProvidersConfig declares the external model backends. The fallback entries
// are optional secondaries that take over when the primary's circuit opens.
type ProvidersConfig struct {
	Embeddings         ProviderEntry `yaml:"embeddings"`
	EmbeddingsFallback ProviderEntry `yaml:"embeddings_fallback"`
	LLM                ProviderEntry `yaml:"llm"`
	LLMFallback        ProviderEntry `yaml:"llm_fallback"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "text-embedding-3-small", "nomic-embed-text", "gpt-4o-mini").
	Model string `yaml:"model"`
}

// EmbeddingCacheConfig bounds the in-memory embedding cache. The retry knob
// lives here because both concerns are handled by the same provider
// decorator; retries apply even when the cache itself is disabled.
type EmbeddingCacheConfig struct {
	Enabled    bool `yaml:"enabled"`
	TTLSeconds int  `yaml:"ttl_seconds"`
	MaxEntries int  `yaml:"max_entries"`

	// MaxRetries bounds re-attempts on transient embedding failures. Zero
	// means the decorator default (3); negative disables retries.
	MaxRetries int `yaml:"max_retries"`
}

// LLMRerankConfig controls the optional LLM rerank stage.
type LLMRerankConfig struct {
	Enabled bool `yaml:"enabled"`

	// TimeoutMS bounds each rerank call. On expiry the blend ordering is kept.
	TimeoutMS int `yaml:"timeout_ms"`

	// TopN is how many blended candidates are offered to the model, clamped to
	// [5, 10].
	TopN int `yaml:"top_n"`
}

// BibliographyConfig parameterizes the bibliographic reference view.
type BibliographyConfig struct {
	// ExposeNullFullReference mirrors the upstream view filter
	// "where full_reference is null". It is unclear whether upstream meant
	// "is not null"; the filter is therefore configurable. Default true
	// (match observed upstream behaviour).
	ExposeNullFullReference *bool `yaml:"expose_null_full_reference"`
}

// EntityConfig is the YAML shape of a strategy descriptor. Fields mirror
// strategy.Descriptor; the strategy package owns validation of the semantics.
type EntityConfig struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	Table       string `yaml:"table"`
	IDColumn    string `yaml:"id_column"`
	LabelColumn string `yaml:"label_column"`

	// SecondaryFields maps logical field names (e.g. "title", "authors") to
	// column names for entities with mode-switched matching.
	SecondaryFields map[string]string `yaml:"secondary_fields"`

	// Filters holds static pre-filters applied to every query against this
	// entity, e.g. location_type_ids.
	Filters map[string][]int `yaml:"filters"`

	Properties []PropertyConfig `yaml:"properties"`
}

// PropertyConfig describes one reconciliation property of an entity type.
type PropertyConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Type        string `yaml:"type"` // string, number, date
	Description string `yaml:"description"`

	// Column is the structural column backing a pre-filter property. Empty for
	// advisory (post-score) properties.
	Column string `yaml:"column"`

	// Table overrides the entity table for match queries when the column
	// lives in a companion view keyed by the entity id.
	Table string `yaml:"table"`

	// BoostWeight is the blend boost applied on an exact advisory match.
	BoostWeight float64 `yaml:"boost_weight"`

	// RadiusKM is the match radius for coordinate proximity properties.
	RadiusKM float64 `yaml:"radius_km"`
}

// ApplyDefaults fills zero-valued tuning knobs with their documented defaults.
// Called by [LoadFromReader] after decoding, before validation.
func ApplyDefaults(cfg *Config) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "SEAD Authority Reconciliation"
	}
	if cfg.DefaultQueryLimit == 0 {
		cfg.DefaultQueryLimit = DefaultQueryLimit
	}
	if cfg.KTrgm == 0 {
		cfg.KTrgm = DefaultKTrgm
	}
	if cfg.KSem == 0 {
		cfg.KSem = DefaultKSem
	}
	if cfg.KFinal == 0 {
		cfg.KFinal = DefaultKFinal
	}
	if cfg.BlendAlpha == nil {
		cfg.BlendAlpha = Float64(DefaultBlendAlpha)
	}
	if cfg.TrgmThreshold == nil {
		cfg.TrgmThreshold = Float64(DefaultTrgmThreshold)
	}
	if cfg.AutoMatchThreshold == nil {
		cfg.AutoMatchThreshold = Float64(DefaultAutoMatchThreshold)
	}
	if cfg.AutoMatchMargin == nil {
		cfg.AutoMatchMargin = Float64(DefaultAutoMatchMargin)
	}
	if cfg.EmbeddingDimensions == 0 {
		cfg.EmbeddingDimensions = DefaultEmbeddingDims
	}
	if cfg.Database.AcquireTimeoutMS == 0 {
		cfg.Database.AcquireTimeoutMS = 5000
	}
	if cfg.EmbeddingCache.TTLSeconds == 0 {
		cfg.EmbeddingCache.TTLSeconds = 3600
	}
	if cfg.EmbeddingCache.MaxEntries == 0 {
		cfg.EmbeddingCache.MaxEntries = 4096
	}
	if cfg.LLMRerank.TimeoutMS == 0 {
		cfg.LLMRerank.TimeoutMS = 4000
	}
	if cfg.LLMRerank.TopN == 0 {
		cfg.LLMRerank.TopN = 5
	}
	if cfg.Bibliography.ExposeNullFullReference == nil {
		v := true
		cfg.Bibliography.ExposeNullFullReference = &v
	}
}

// Float64 returns a pointer to v. Convenience for the nullable tuning knobs.
func Float64(v float64) *float64 { return &v }
