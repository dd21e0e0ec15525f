package config

import (
	"reflect"
	"slices"

	"github.com/MrWong99/fateweaver/internal/lore"
)

// ConfigDiff describes what changed between two configs.
// Log level and retrieval tunables can be applied to a running server;
// every other change is reported in RestartRequired and takes effect on
// the next start.
type ConfigDiff struct {
	LogLevelChanged  bool
	NewLogLevel      LogLevel
	RetrievalChanged bool
	Retrieval        lore.Tunables

	// RestartRequired lists the config keys that changed but cannot be
	// hot-reloaded, using their YAML paths (e.g. "server.listen_addr").
	RestartRequired []string
}

// Empty reports whether the diff carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.RetrievalChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Retrieval tunables. Compared through Tunables so the pointer form of
	// bidirectional_keys does not register a change when both sides resolve
	// to the same value.
	if old.Retrieval.Tunables() != new.Retrieval.Tunables() {
		d.RetrievalChanged = true
		d.Retrieval = new.Retrieval.Tunables()
	}

	// Everything below requires a restart.
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if tlsChanged(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if old.Server.EmitProcessingPhase != new.Server.EmitProcessingPhase {
		d.RestartRequired = append(d.RestartRequired, "server.emit_processing_phase")
	}
	if old.Server.ChannelBuffer != new.Server.ChannelBuffer {
		d.RestartRequired = append(d.RestartRequired, "server.channel_buffer")
	}
	if old.Server.SessionIdleTTLMin != new.Server.SessionIdleTTLMin {
		d.RestartRequired = append(d.RestartRequired, "server.session_idle_ttl_min")
	}
	if old.Engine != new.Engine {
		d.RestartRequired = append(d.RestartRequired, "engine")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Vector != new.Vector {
		d.RestartRequired = append(d.RestartRequired, "vector")
	}
	if old.State != new.State {
		d.RestartRequired = append(d.RestartRequired, "state")
	}
	if !slices.Equal(old.Worlds.Packs, new.Worlds.Packs) {
		d.RestartRequired = append(d.RestartRequired, "worlds.packs")
	}

	return d
}

// tlsChanged compares two optional TLS blocks.
func tlsChanged(old, new *TLSConfig) bool {
	if old == nil && new == nil {
		return false
	}
	if old == nil || new == nil {
		return true
	}
	return *old != *new
}
