package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/tandemap/internal/core/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("tandemap-test")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "tandemap-test", cfg.Telemetry.ServiceName)
	assert.Equal(t, 5.0, cfg.Discovery.DefaultRadiusKm)
	assert.True(t, cfg.Discovery.FallbackInSecondary)
	assert.Equal(t, domain.DefaultPresenceMins, cfg.Presence.DefaultDuration)
	assert.Equal(t, domain.DefaultPresenceEmojis, cfg.Presence.AllowedEmojis)
	assert.Equal(t, "rebuild", cfg.Map.ReconcileMode)
	assert.NoError(t, cfg.Discovery.DefaultRegion.Validate())
	assert.Equal(t, "15s", cfg.Discovery.PermissionTimeout().String())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TANDEMAP_MAP_RECONCILE_MODE", "diff")
	t.Setenv("TANDEMAP_SERVER_PORT", "9000")

	cfg, err := Load("tandemap-test")
	require.NoError(t, err)
	assert.Equal(t, "diff", cfg.Map.ReconcileMode)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("tandemap-test")
	require.NoError(t, err)

	cfg.Presence.DefaultDuration = 10
	cfg.Map.ReconcileMode = "partial"
	cfg.Map.DefaultStyle = "neon"
	cfg.Discovery.DefaultRegion = domain.BoundingRegion{North: 1, South: 2, East: 3, West: 4}

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"presence.default_duration", "map.reconcile_mode", "map.default_style", "discovery.default_region"} {
		assert.Contains(t, err.Error(), want)
	}
}
