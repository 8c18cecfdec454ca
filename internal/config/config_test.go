package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDeployment(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "live.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.DeferredTickInterval)
	assert.NotEmpty(t, cfg.DatabaseDSN)
	assert.Empty(t, cfg.Template)
}

func TestLoad_OverlayAndTemplateCollection(t *testing.T) {
	path := writeDeployment(t, `
database_dsn: "postgres://game@db/extrasolar"
deferred_tick_interval: "5s"
chip_vacuum_age: "336h"
template.site_name: "Extrasolar"
template.show_debug_panel: "False"
template.invites_enabled: "True"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://game@db/extrasolar", cfg.DatabaseDSN)
	assert.Equal(t, 5*time.Second, cfg.DeferredTickInterval)
	assert.Equal(t, 336*time.Hour, cfg.ChipVacuumAge)

	assert.Equal(t, "Extrasolar", cfg.Template["site_name"])
	assert.Equal(t, false, cfg.Template["show_debug_panel"])
	assert.Equal(t, true, cfg.Template["invites_enabled"])
}

func TestLoad_UnknownKeyFails(t *testing.T) {
	path := writeDeployment(t, "databse_dsn: oops\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_BadDurationFails(t *testing.T) {
	path := writeDeployment(t, "deferred_tick_interval: soon\n")
	_, err := Load(path)
	assert.Error(t, err)
}
