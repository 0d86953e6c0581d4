package flags

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_Enabled(t *testing.T) {
	tests := []struct {
		name     string
		registry *Registry
		flag     string
		expected bool
	}{
		{
			name:     "default display hint is on",
			registry: New(nil),
			flag:     FlagDisplayHint,
			expected: true,
		},
		{
			name:     "default log forwarding is on",
			registry: New(map[string]bool{}),
			flag:     FlagLogForwarding,
			expected: true,
		},
		{
			name:     "override disables a default",
			registry: New(map[string]bool{FlagLogForwarding: false}),
			flag:     FlagLogForwarding,
			expected: false,
		},
		{
			name:     "extra flag set to true returns true",
			registry: New(map[string]bool{"feature-a": true}),
			flag:     "feature-a",
			expected: true,
		},
		{
			name:     "unknown flag returns false",
			registry: New(map[string]bool{"feature-a": true}),
			flag:     "unknown-flag",
			expected: false,
		},
		{
			name:     "nil registry returns false",
			registry: nil,
			flag:     FlagDisplayHint,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.registry.Enabled(tt.flag))
		})
	}
}

func TestRegistry_All(t *testing.T) {
	r := New(map[string]bool{FlagDisplayHint: false, "x": true})
	require.Equal(t, map[string]bool{
		FlagDisplayHint:   false,
		FlagLogForwarding: true,
		"x":               true,
	}, r.All())

	var nilRegistry *Registry
	require.Equal(t, map[string]bool{}, nilRegistry.All())
}

func TestRegistry_All_ReturnsDefensiveCopy(t *testing.T) {
	r := New(map[string]bool{"feature-a": true})

	copied := r.All()
	copied["feature-a"] = false
	copied["new-flag"] = true

	require.True(t, r.Enabled("feature-a"), "registry should not be affected by copy mutation")
	require.False(t, r.Enabled("new-flag"), "registry should not have new flags from copy mutation")
}

func TestNew_DoesNotAliasInput(t *testing.T) {
	input := map[string]bool{"feature-a": true}
	r := New(input)
	input["feature-a"] = false

	require.True(t, r.Enabled("feature-a"))
	require.Len(t, input, 1, "defaults must not leak into the caller's map")
}
