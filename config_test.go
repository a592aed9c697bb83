package qtnetworkng

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigFile(t *testing.T) {
	content := `
kcp:
  mode: loopback
  compression: true
  water_line: 64
  keep_alive_interval: 2s
  tear_down_timeout: 10s
  reuse_address: true
logging:
  level: fatal
`
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	config, err := ParseConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "loopback", config.KCP.Mode)
	assert.True(t, config.KCP.Compression)
	assert.Equal(t, 64, config.KCP.WaterLine)

	s, err := CreateKcpSocket(config)
	require.NoError(t, err)
	assert.Equal(t, Loopback, s.Mode())
	assert.True(t, s.Compression())
	assert.Equal(t, 64, s.waterLine)
	assert.Equal(t, 2*time.Second, s.keepAliveInterval)
	assert.Equal(t, 10*time.Second, s.tearDownTime)
}

func TestParseConfigFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("kcp:\n  bogus: 1\n"), 0o644))
	_, err := ParseConfigFile(path)
	assert.Error(t, err)
}

func TestKCPConfigApplyRejectsBadValues(t *testing.T) {
	for _, config := range []KCPConfig{
		{Mode: "warp-speed"},
		{KeepAliveInterval: "soon"},
		{KeepAliveInterval: "-1s"},
		{TearDownTimeout: "never"},
		{WaterLine: -3},
	} {
		assert.Error(t, config.Apply(NewKcpSocket()), "config: %+v", config)
	}
}

func TestParseMode(t *testing.T) {
	for name, expected := range map[string]Mode{
		"": Internet, "internet": Internet,
		"ethernet": Ethernet, "loopback": Loopback,
	} {
		mode, err := ParseMode(name)
		require.NoError(t, err)
		assert.Equal(t, expected, mode)
	}
	_, err := ParseMode("wifi")
	assert.Error(t, err)
}
