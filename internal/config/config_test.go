package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moulars/moulars/internal/config"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_OverlaysFileOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moulars.toml")
	const doc = `
build_id = 918
restrict_logins = true

[server]
listen_port = 22500
file_server_ip = "moul.example.com"

[crypt_keys]
auth_n = "AAAA"
auth_k = "BBBB"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint32(918), cfg.BuildID)
	assert.True(t, cfg.RestrictLogins)
	assert.Equal(t, 22500, cfg.Server.ListenPort)
	assert.Equal(t, "moul.example.com", cfg.Server.FileServerIP)
	assert.Equal(t, "AAAA", cfg.CryptKeys.AuthN)
	// Untouched defaults survive the overlay.
	assert.Equal(t, "127.0.0.1", cfg.Server.AuthServerIP)
	assert.True(t, cfg.AutoCreateAccounts)
}
