// Package config provides the configuration schema, loader and provider
// registry for the Fateweaver server.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/fateweaver/internal/lore"
	"github.com/MrWong99/fateweaver/pkg/types"
)

// LogLevel controls log verbosity for the Fateweaver server.
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

// SlogLevel maps l onto the corresponding [slog.Level]. Unrecognised values
// map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// VectorBackend selects the vector store implementation.
type VectorBackend string

const (
	// VectorChromem is the embedded chromem-go store, optionally persisted
	// to a local directory.
	VectorChromem VectorBackend = "chromem"

	// VectorPgvector is the PostgreSQL pgvector store.
	VectorPgvector VectorBackend = "pgvector"
)

// IsValid reports whether b is a recognised vector backend.
func (b VectorBackend) IsValid() bool {
	return b == VectorChromem || b == VectorPgvector
}

// StateBackend selects the session snapshot store implementation.
type StateBackend string

const (
	// StateMemory keeps snapshots in process memory only.
	StateMemory StateBackend = "memory"

	// StatePostgres persists snapshots in PostgreSQL.
	StatePostgres StateBackend = "postgres"

	// StateRedis persists snapshots in Redis.
	StateRedis StateBackend = "redis"
)

// IsValid reports whether b is a recognised state backend.
func (b StateBackend) IsValid() bool {
	switch b {
	case StateMemory, StatePostgres, StateRedis:
		return true
	}
	return false
}

// Config is the root configuration structure for Fateweaver.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Providers ProvidersConfig `yaml:"providers"`
	Vector    VectorConfig    `yaml:"vector"`
	State     StateConfig     `yaml:"state"`
	Worlds    WorldsConfig    `yaml:"worlds"`
}

// ServerConfig holds network, logging and session transport settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Defaults to ":8470".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Defaults to info.
	LogLevel LogLevel `yaml:"log_level"`

	// EmitProcessingPhase also sends a phase frame when a turn enters
	// processing. Off by default; the status frame carries the same cue.
	EmitProcessingPhase bool `yaml:"emit_processing_phase"`

	// ChannelBuffer caps each session's outbound frame queue. When the
	// queue is full the oldest frame is dropped. Defaults to 64.
	ChannelBuffer int `yaml:"channel_buffer"`

	// SessionIdleTTLMin evicts sessions idle longer than this many
	// minutes, snapshotting them first. Defaults to 120. Set to -1 to
	// disable eviction.
	SessionIdleTTLMin int `yaml:"session_idle_ttl_min"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// SessionIdleTTL returns the idle eviction threshold as a duration.
func (s ServerConfig) SessionIdleTTL() time.Duration {
	return time.Duration(s.SessionIdleTTLMin) * time.Minute
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// EngineConfig bounds the turn decision loop.
type EngineConfig struct {
	// MaxIterations caps GM decisions per turn. Defaults to 10.
	MaxIterations int `yaml:"max_iterations"`

	// HistoryLength is how many recent messages enter each prompt.
	// Defaults to 10.
	HistoryLength int `yaml:"history_length"`

	// LLMTimeoutSec bounds a single model call in seconds. Defaults to 60.
	LLMTimeoutSec int `yaml:"llm_timeout_sec"`

	// TurnBudgetSec bounds a whole turn in seconds. Defaults to 300.
	TurnBudgetSec int `yaml:"turn_budget_sec"`

	// MemoryTopK is how many NPC memories are retrieved per dialogue.
	// Defaults to 3.
	MemoryTopK int `yaml:"memory_top_k"`

	// DefaultLang is the session language when the client names none.
	// Defaults to cn.
	DefaultLang types.Lang `yaml:"default_lang"`
}

// LLMTimeout returns the per-call model timeout as a duration.
func (e EngineConfig) LLMTimeout() time.Duration {
	return time.Duration(e.LLMTimeoutSec) * time.Second
}

// TurnBudget returns the whole-turn budget as a duration.
func (e EngineConfig) TurnBudget() time.Duration {
	return time.Duration(e.TurnBudgetSec) * time.Second
}

// RetrievalConfig holds the lore retrieval weights and limits. This is the
// hot-reloadable section: a config watcher pushes changes into live
// retrievers without a restart.
type RetrievalConfig struct {
	// KwPrimaryWeight seeds entries whose primary keys match a query term.
	// Defaults to 2.0.
	KwPrimaryWeight float64 `yaml:"kw_primary_weight"`

	// KwSecondaryWeight seeds entries matched only through secondary keys.
	// Defaults to 1.0.
	KwSecondaryWeight float64 `yaml:"kw_secondary_weight"`

	// VectorWeight scales cosine similarity from the vector pass.
	// Defaults to 0.8.
	VectorWeight float64 `yaml:"vector_weight"`

	// DualMatchBoost multiplies entries hit by both passes. Defaults to 1.5.
	DualMatchBoost float64 `yaml:"dual_match_boost"`

	// LoreTopK caps returned lore entries. Defaults to 5.
	LoreTopK int `yaml:"lore_top_k"`

	// VectorTopK is the neighbour count requested from the vector store.
	// Defaults to 10.
	VectorTopK int `yaml:"vector_top_k"`

	// BidirectionalKeys also matches when a key is contained in the query
	// term. Defaults to true; set false for strict term-in-key matching.
	BidirectionalKeys *bool `yaml:"bidirectional_keys"`

	// FuzzyDistance enables fuzzy keyword matching up to this
	// Damerau-Levenshtein distance. Defaults to 0 (off).
	FuzzyDistance int `yaml:"fuzzy_distance"`
}

// Tunables converts the section into the retriever's runtime settings.
func (r RetrievalConfig) Tunables() lore.Tunables {
	bidi := true
	if r.BidirectionalKeys != nil {
		bidi = *r.BidirectionalKeys
	}
	return lore.Tunables{
		PrimaryWeight:     r.KwPrimaryWeight,
		SecondaryWeight:   r.KwSecondaryWeight,
		VectorWeight:      r.VectorWeight,
		DualMatchBoost:    r.DualMatchBoost,
		TopK:              r.LoreTopK,
		VectorTopK:        r.VectorTopK,
		BidirectionalKeys: bidi,
		FuzzyDistance:     r.FuzzyDistance,
	}
}

// ProvidersConfig declares which provider implementation to use for each
// model concern. Each entry selects a named factory registered in the
// [Registry].
type ProvidersConfig struct {
	// LLM is the primary narrative model.
	LLM ProviderEntry `yaml:"llm"`

	// Fallbacks are tried in order when the primary model fails.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// Embeddings powers lore and NPC memory retrieval.
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "openai", "anyllm", "ollama").
	Name string `yaml:"name"`

	// Provider names the upstream model vendor for gateway providers.
	// Required when Name is "anyllm" (e.g., "anthropic", "deepseek");
	// ignored by direct providers.
	Provider string `yaml:"provider"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "gpt-4o", "bge-m3").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// VectorConfig holds settings for the vector store behind lore and NPC
// memory retrieval.
type VectorConfig struct {
	// Backend selects the implementation. Defaults to chromem.
	Backend VectorBackend `yaml:"backend"`

	// PersistPath is the chromem persistence directory. Empty keeps the
	// store in memory only.
	PersistPath string `yaml:"persist_path"`

	// PostgresDSN is the connection string for the pgvector backend.
	PostgresDSN string `yaml:"postgres_dsn"`

	// Dimensions is the embedding vector width. Must match the embeddings
	// model. Defaults to 1024.
	Dimensions int `yaml:"dimensions"`
}

// StateConfig holds settings for the session snapshot store.
type StateConfig struct {
	// Backend selects the implementation. Defaults to memory.
	Backend StateBackend `yaml:"backend"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`

	// RedisAddr is the host:port of the redis backend.
	RedisAddr string `yaml:"redis_addr"`

	// TTLHours expires stored snapshots after this many hours where the
	// backend supports expiry. Zero keeps snapshots indefinitely.
	TTLHours int `yaml:"ttl_hours"`
}

// TTL returns the snapshot expiry as a duration.
func (s StateConfig) TTL() time.Duration {
	return time.Duration(s.TTLHours) * time.Hour
}

// WorldsConfig lists the world packs served by this instance.
type WorldsConfig struct {
	// Packs are paths to world pack JSON files.
	Packs []string `yaml:"packs"`
}

// applyDefaults fills zero values with the documented defaults. It runs
// after decoding and before validation, so a config file only needs to name
// what it changes.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8470"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ChannelBuffer == 0 {
		cfg.Server.ChannelBuffer = 64
	}
	if cfg.Server.SessionIdleTTLMin == 0 {
		cfg.Server.SessionIdleTTLMin = 120
	}

	if cfg.Engine.MaxIterations == 0 {
		cfg.Engine.MaxIterations = 10
	}
	if cfg.Engine.HistoryLength == 0 {
		cfg.Engine.HistoryLength = 10
	}
	if cfg.Engine.LLMTimeoutSec == 0 {
		cfg.Engine.LLMTimeoutSec = 60
	}
	if cfg.Engine.TurnBudgetSec == 0 {
		cfg.Engine.TurnBudgetSec = 300
	}
	if cfg.Engine.MemoryTopK == 0 {
		cfg.Engine.MemoryTopK = 3
	}
	if cfg.Engine.DefaultLang == "" {
		cfg.Engine.DefaultLang = types.LangCN
	}

	if cfg.Retrieval.KwPrimaryWeight == 0 {
		cfg.Retrieval.KwPrimaryWeight = 2.0
	}
	if cfg.Retrieval.KwSecondaryWeight == 0 {
		cfg.Retrieval.KwSecondaryWeight = 1.0
	}
	if cfg.Retrieval.VectorWeight == 0 {
		cfg.Retrieval.VectorWeight = 0.8
	}
	if cfg.Retrieval.DualMatchBoost == 0 {
		cfg.Retrieval.DualMatchBoost = 1.5
	}
	if cfg.Retrieval.LoreTopK == 0 {
		cfg.Retrieval.LoreTopK = 5
	}
	if cfg.Retrieval.VectorTopK == 0 {
		cfg.Retrieval.VectorTopK = 10
	}
	if cfg.Retrieval.BidirectionalKeys == nil {
		bidi := true
		cfg.Retrieval.BidirectionalKeys = &bidi
	}

	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = VectorChromem
	}
	if cfg.Vector.Dimensions == 0 {
		cfg.Vector.Dimensions = 1024
	}

	if cfg.State.Backend == "" {
		cfg.State.Backend = StateMemory
	}
}
