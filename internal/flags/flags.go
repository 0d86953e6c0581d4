// Package flags provides feature flag support for optional server behavior.
// Flags are read-only after initialization and provide safe defaults for unknown flags.
package flags

import (
	"maps"

	"github.com/VictorNanka/gemini-cli-mcp/internal/log"
)

// Flag name constants for type-safe flag access.
const (
	// FlagDisplayHint controls whether task results carry the _meta.chatwise
	// hint telling the client to render the answer directly.
	FlagDisplayHint = "display-hint"

	// FlagLogForwarding controls whether stream events and stderr are sent to
	// the client as notifications/message.
	FlagLogForwarding = "log-forwarding"
)

// Defaults returns the flag values used when configuration does not set them.
func Defaults() map[string]bool {
	return map[string]bool{
		FlagDisplayHint:   true,
		FlagLogForwarding: true,
	}
}

// Registry holds feature flag state loaded from configuration.
// Flags are read-only after initialization.
type Registry struct {
	flags map[string]bool
}

// New creates a Registry from a config map layered over Defaults.
func New(overrides map[string]bool) *Registry {
	flags := Defaults()
	maps.Copy(flags, overrides)
	r := &Registry{flags: flags}
	log.Debug(log.CatConfig, "Feature flags initialized", "count", len(flags), "flags", r.All())
	return r
}

// Enabled returns true if the named flag is enabled.
// Returns false for unknown flags and on a nil registry.
func (r *Registry) Enabled(name string) bool {
	if r == nil || r.flags == nil {
		return false
	}
	value, exists := r.flags[name]
	if !exists {
		log.Debug(log.CatConfig, "Unknown flag accessed", "flag", name, "result", false)
		return false
	}
	return value
}

// All returns a copy of all flags (for debugging/logging).
// Returns an empty map if the registry is nil.
func (r *Registry) All() map[string]bool {
	if r == nil || r.flags == nil {
		return make(map[string]bool)
	}
	result := make(map[string]bool, len(r.flags))
	maps.Copy(result, r.flags)
	return result
}
