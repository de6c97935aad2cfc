package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convtrack/internal/conversation"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 65535, cfg.Capture.SnapLen)
	assert.Zero(t, cfg.Deinterlace.Key())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
debug: true
port: 9090
capture:
  snap_len: 1500
  bpf_filter: "tcp port 443"
deinterlace:
  interface: true
  vlan: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 1500, cfg.Capture.SnapLen)
	assert.Equal(t, "tcp port 443", cfg.Capture.BPFFilter)
	assert.Equal(t,
		conversation.DeintKeyInterface|conversation.DeintKeyVLAN,
		cfg.Deinterlace.Key())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
