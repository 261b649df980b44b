package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vsockmux/pkg/socket"
)

func TestParseEmptyUsesDefaults(t *testing.T) {
	c, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.Equal(t, socket.DefaultBufferSize, c.BufferSize)
	assert.Equal(t, TransportLoopback, c.Transport)
}

func TestParseFull(t *testing.T) {
	assert := assert.New(t)

	c, err := Parse(`
[stack]
buffer_size = 4096
guest_cid = 42
ports = [1024, 2048]

[transport]
kind = "stream"
address = "unix:///run/vsockmux/guest.sock"
dial_timeout = "2s"

[log]
level = "debug"
format = "json"

[metrics]
listen = ":9090"
`)
	require.NoError(t, err)
	assert.Equal(4096, c.BufferSize)
	assert.Equal(uint64(42), c.GuestCID)
	assert.Equal([]uint32{1024, 2048}, c.Ports)
	assert.Equal(TransportStream, c.Transport)
	assert.Equal("unix:///run/vsockmux/guest.sock", c.Address)
	assert.Equal(2*time.Second, c.DialTimeout)
	assert.Equal(logrus.DebugLevel, c.LogLevel)
	assert.Equal("json", c.LogFormat)
	assert.Equal(":9090", c.MetricsListen)
}

func TestParseInvalid(t *testing.T) {
	data := []string{
		"[stack]\nbuffer_size = -1",
		"[stack]\nports = [1, 1]",
		"[transport]\nkind = \"pci\"",
		"[transport]\nkind = \"stream\"",
		"[transport]\ndial_timeout = \"soon\"",
		"[log]\nlevel = \"chatty\"",
		"[log]\nformat = \"xml\"",
		"not toml at all",
	}
	for _, d := range data {
		_, err := Parse(d)
		assert.Error(t, err, d)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vsockd.toml")
	require.NoError(t, ioutil.WriteFile(path, []byte("[stack]\nports = [7]\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []uint32{7}, c.Ports)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
