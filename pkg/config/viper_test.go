package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReadsYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.yaml"), []byte("server:\n  port: 9001\nfeed:\n  fade_in: 250ms\n"), 0o644))

	v, err := Load(dir, "app")
	require.NoError(t, err)

	assert.Equal(t, 9001, v.GetInt("server.port"))
	assert.Equal(t, 250*time.Millisecond, ParseDuration(v, "feed.fade_in", time.Second))
}

func TestLoadWithoutFileUsesEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "7070")

	v, err := Load(t.TempDir(), "does-not-exist")
	require.NoError(t, err)

	assert.Equal(t, 7070, v.GetInt("server.port"))
}

func TestParseDurationDefault(t *testing.T) {
	v, err := Load(t.TempDir(), "missing")
	require.NoError(t, err)

	v.Set("bad", "soon")
	assert.Equal(t, 3*time.Second, ParseDuration(v, "bad", 3*time.Second))
	assert.Equal(t, 2*time.Second, ParseDuration(v, "absent", 2*time.Second))
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.yaml"), []byte("server: [unterminated\n"), 0o644))

	_, err := Load(dir, "app")
	assert.ErrorContains(t, err, "failed to read config app")
}
