package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/fateweaver/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogInfo, ListenAddr: ":8470"},
		Retrieval: config.RetrievalConfig{KwPrimaryWeight: 2.0, LoreTopK: 5},
		Worlds:    config.WorldsConfig{Packs: []string{"./worlds/mistvale.json"}},
	}
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level is hot-reloadable, got restart keys %v", d.RestartRequired)
	}
}

func TestDiff_RetrievalChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Retrieval: config.RetrievalConfig{KwPrimaryWeight: 2.0, VectorWeight: 0.8, LoreTopK: 5},
	}
	new := &config.Config{
		Retrieval: config.RetrievalConfig{KwPrimaryWeight: 3.0, VectorWeight: 0.8, LoreTopK: 5},
	}

	d := config.Diff(old, new)
	if !d.RetrievalChanged {
		t.Error("expected RetrievalChanged=true")
	}
	if d.Retrieval.PrimaryWeight != 3.0 {
		t.Errorf("expected new primary weight 3.0, got %.2f", d.Retrieval.PrimaryWeight)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("retrieval is hot-reloadable, got restart keys %v", d.RestartRequired)
	}
}

func TestDiff_BidirectionalKeysPointerEquivalence(t *testing.T) {
	t.Parallel()
	// Unset and explicitly-true resolve to the same tunables, so this is
	// not a change even though the raw pointers differ.
	on := true
	old := &config.Config{Retrieval: config.RetrievalConfig{}}
	new := &config.Config{Retrieval: config.RetrievalConfig{BidirectionalKeys: &on}}

	d := config.Diff(old, new)
	if d.RetrievalChanged {
		t.Error("expected RetrievalChanged=false when tunables resolve equal")
	}

	// Flipping to false is a real change.
	off := false
	new2 := &config.Config{Retrieval: config.RetrievalConfig{BidirectionalKeys: &off}}
	d2 := config.Diff(old, new2)
	if !d2.RetrievalChanged {
		t.Error("expected RetrievalChanged=true for explicit false")
	}
	if d2.Retrieval.BidirectionalKeys {
		t.Error("expected new tunables to carry bidirectional_keys=false")
	}
}

func TestDiff_RestartRequiredKeys(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8470", ChannelBuffer: 64},
		Engine: config.EngineConfig{MaxIterations: 10},
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o"},
		},
		Vector: config.VectorConfig{Backend: config.VectorChromem},
		State:  config.StateConfig{Backend: config.StateMemory},
		Worlds: config.WorldsConfig{Packs: []string{"./worlds/mistvale.json"}},
	}
	new := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":9000", ChannelBuffer: 128},
		Engine: config.EngineConfig{MaxIterations: 6},
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"},
		},
		Vector: config.VectorConfig{Backend: config.VectorPgvector, PostgresDSN: "postgres://localhost/fw"},
		State:  config.StateConfig{Backend: config.StateRedis, RedisAddr: "localhost:6379"},
		Worlds: config.WorldsConfig{Packs: []string{"./worlds/harbor.json"}},
	}

	d := config.Diff(old, new)
	if d.Empty() {
		t.Fatal("expected a non-empty diff")
	}
	want := []string{
		"server.listen_addr",
		"server.channel_buffer",
		"engine",
		"providers",
		"vector",
		"state",
		"worlds.packs",
	}
	for _, key := range want {
		if !slices.Contains(d.RestartRequired, key) {
			t.Errorf("expected restart key %q, got %v", key, d.RestartRequired)
		}
	}
	if slices.Contains(d.RestartRequired, "server.session_idle_ttl_min") {
		t.Errorf("unchanged key reported: %v", d.RestartRequired)
	}
}

func TestDiff_TLSAddedRequiresRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{}
	new := &config.Config{
		Server: config.ServerConfig{TLS: &config.TLSConfig{CertFile: "cert.pem", KeyFile: "key.pem"}},
	}

	d := config.Diff(old, new)
	if !slices.Contains(d.RestartRequired, "server.tls") {
		t.Errorf("expected server.tls restart key, got %v", d.RestartRequired)
	}

	// Same TLS block on both sides is not a change.
	d2 := config.Diff(new, &config.Config{
		Server: config.ServerConfig{TLS: &config.TLSConfig{CertFile: "cert.pem", KeyFile: "key.pem"}},
	})
	if slices.Contains(d2.RestartRequired, "server.tls") {
		t.Errorf("identical tls blocks reported as changed: %v", d2.RestartRequired)
	}
}
