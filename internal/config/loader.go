package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anyllm"},
	"embeddings": {"ollama", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found; issues
// that are legal but probably unintended are logged as warnings instead.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ChannelBuffer < 0 {
		errs = append(errs, fmt.Errorf("server.channel_buffer %d must not be negative", cfg.Server.ChannelBuffer))
	}
	if cfg.Server.SessionIdleTTLMin < -1 {
		errs = append(errs, fmt.Errorf("server.session_idle_ttl_min %d must be positive, or -1 to disable eviction", cfg.Server.SessionIdleTTLMin))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Engine
	if cfg.Engine.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("engine.max_iterations %d must be at least 1", cfg.Engine.MaxIterations))
	}
	if cfg.Engine.HistoryLength < 1 {
		errs = append(errs, fmt.Errorf("engine.history_length %d must be at least 1", cfg.Engine.HistoryLength))
	}
	if cfg.Engine.LLMTimeoutSec < 1 {
		errs = append(errs, fmt.Errorf("engine.llm_timeout_sec %d must be at least 1", cfg.Engine.LLMTimeoutSec))
	}
	if cfg.Engine.TurnBudgetSec < 1 {
		errs = append(errs, fmt.Errorf("engine.turn_budget_sec %d must be at least 1", cfg.Engine.TurnBudgetSec))
	}
	if cfg.Engine.MemoryTopK < 0 {
		errs = append(errs, fmt.Errorf("engine.memory_top_k %d must not be negative", cfg.Engine.MemoryTopK))
	}
	if !cfg.Engine.DefaultLang.IsValid() {
		errs = append(errs, fmt.Errorf("engine.default_lang %q is invalid; valid values: cn, en", cfg.Engine.DefaultLang))
	}

	// Retrieval
	if cfg.Retrieval.KwPrimaryWeight < 0 {
		errs = append(errs, fmt.Errorf("retrieval.kw_primary_weight %.2f must not be negative", cfg.Retrieval.KwPrimaryWeight))
	}
	if cfg.Retrieval.KwSecondaryWeight < 0 {
		errs = append(errs, fmt.Errorf("retrieval.kw_secondary_weight %.2f must not be negative", cfg.Retrieval.KwSecondaryWeight))
	}
	if cfg.Retrieval.VectorWeight < 0 {
		errs = append(errs, fmt.Errorf("retrieval.vector_weight %.2f must not be negative", cfg.Retrieval.VectorWeight))
	}
	if cfg.Retrieval.DualMatchBoost < 1 {
		errs = append(errs, fmt.Errorf("retrieval.dual_match_boost %.2f must be at least 1", cfg.Retrieval.DualMatchBoost))
	}
	if cfg.Retrieval.FuzzyDistance < 0 {
		errs = append(errs, fmt.Errorf("retrieval.fuzzy_distance %d must not be negative", cfg.Retrieval.FuzzyDistance))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; the engine cannot run turns without a model")
	}
	if cfg.Providers.LLM.Name == "anyllm" && cfg.Providers.LLM.Provider == "" {
		errs = append(errs, errors.New("providers.llm.provider is required when name is anyllm"))
	}
	for i, fb := range cfg.Providers.Fallbacks {
		prefix := fmt.Sprintf("providers.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName("llm", fb.Name)
		if fb.Name == "anyllm" && fb.Provider == "" {
			errs = append(errs, fmt.Errorf("%s.provider is required when name is anyllm", prefix))
		}
	}
	if cfg.Providers.Embeddings.Name == "" {
		slog.Warn("providers.embeddings is not configured; lore retrieval runs keyword-only and NPC memories are unranked")
	}

	// Vector store
	if !cfg.Vector.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("vector.backend %q is invalid; valid values: chromem, pgvector", cfg.Vector.Backend))
	}
	if cfg.Vector.Backend == VectorPgvector && cfg.Vector.PostgresDSN == "" {
		errs = append(errs, errors.New("vector.postgres_dsn is required when backend is pgvector"))
	}
	if cfg.Vector.Backend == VectorChromem && cfg.Vector.PersistPath == "" {
		slog.Warn("vector.persist_path is empty; the chromem store lives in memory and re-embeds world packs on every start")
	}
	if cfg.Vector.Dimensions < 1 {
		errs = append(errs, fmt.Errorf("vector.dimensions %d must be at least 1", cfg.Vector.Dimensions))
	}

	// State store
	if !cfg.State.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("state.backend %q is invalid; valid values: memory, postgres, redis", cfg.State.Backend))
	}
	if cfg.State.Backend == StatePostgres && cfg.State.PostgresDSN == "" {
		errs = append(errs, errors.New("state.postgres_dsn is required when backend is postgres"))
	}
	if cfg.State.Backend == StateRedis && cfg.State.RedisAddr == "" {
		errs = append(errs, errors.New("state.redis_addr is required when backend is redis"))
	}
	if cfg.State.TTLHours < 0 {
		errs = append(errs, fmt.Errorf("state.ttl_hours %d must not be negative", cfg.State.TTLHours))
	}
	if cfg.State.Backend == StateMemory && cfg.State.TTLHours > 0 {
		slog.Warn("state.ttl_hours is ignored by the memory backend; idle eviction is governed by server.session_idle_ttl_min")
	}

	// World packs
	if len(cfg.Worlds.Packs) == 0 {
		slog.Warn("worlds.packs is empty; no sessions can be created on this instance")
	}
	seen := make(map[string]int, len(cfg.Worlds.Packs))
	for i, path := range cfg.Worlds.Packs {
		if path == "" {
			errs = append(errs, fmt.Errorf("worlds.packs[%d] must not be empty", i))
			continue
		}
		if prev, ok := seen[path]; ok {
			errs = append(errs, fmt.Errorf("worlds.packs[%d] %q is a duplicate of worlds.packs[%d]", i, path, prev))
		}
		seen[path] = i
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
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
