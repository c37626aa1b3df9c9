package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	BaseUrl   string `json:"base_url"`
	Retries   int    `json:"retries"`
	UserAgent string `json:"user_agent"`
}

func TestReadConfigMergesLocalOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.json5"), []byte(`{
		// comments are allowed
		base_url: "https://example.com",
		retries: 3,
	}`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.local.json5"), []byte(`{
		retries: 5,
	}`), 0600))

	cfg, err := ReadConfig(filepath.Join(dir, "app.json5"), testConfig{UserAgent: "default"})
	require.NoError(t, err)
	require.Equal(t, testConfig{
		BaseUrl:   "https://example.com",
		Retries:   5,
		UserAgent: "default",
	}, cfg)
}

func TestReadConfigMissing(t *testing.T) {
	defaults := testConfig{Retries: 1}
	cfg, err := ReadConfig(filepath.Join(t.TempDir(), "missing.json5"), defaults)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Equal(t, defaults, cfg)
}
