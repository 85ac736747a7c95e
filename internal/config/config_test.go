package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFlags(t *testing.T) {
	c, err := Load([]string{"--tcp-port", "5023", "--http-port", "3000", "--tcp-idle-timeout", "30s"})
	require.NoError(t, err)
	assert.Equal(t, 5023, c.TCP.Port)
	assert.Equal(t, 3000, c.HTTP.Port)
	assert.Equal(t, 30*time.Second, c.TCP.IdleTimeout)
	assert.Equal(t, ":5023", c.TCPAddr())
	assert.Equal(t, ":3000", c.HTTPAddr())
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, "position", c.DB.Table)
}

func TestPortsAreRequired(t *testing.T) {
	_, err := Load(nil)
	require.Error(t, err)
	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	fields := map[string]bool{}
	for _, fe := range verrs {
		fields[fe.Namespace()] = true
	}
	assert.True(t, fields["Config.TCP.Port"])
	assert.True(t, fields["Config.HTTP.Port"])
}

func TestPortRange(t *testing.T) {
	_, err := Load([]string{"--tcp-port", "70000", "--http-port", "3000"})
	assert.Error(t, err)
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("TRACKFEED_TCP_PORT", "6000")
	t.Setenv("TRACKFEED_HTTP_PORT", "8080")
	t.Setenv("TRACKFEED_LOG_LEVEL", "debug")
	t.Setenv("TRACKFEED_TCP_IDLE_TIMEOUT", "0")
	c, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 6000, c.TCP.Port)
	assert.Equal(t, 8080, c.HTTP.Port)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, time.Duration(0), c.TCP.IdleTimeout)
}

func TestFlagBeatsEnv(t *testing.T) {
	t.Setenv("TRACKFEED_TCP_PORT", "6000")
	c, err := Load([]string{"--tcp-port", "7000", "--http-port", "1"})
	require.NoError(t, err)
	assert.Equal(t, 7000, c.TCP.Port)
}

func TestConfigFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "trackfeed.yaml")
	require.NoError(t, os.WriteFile(fn, []byte(`
tcp:
  port: 5023
http:
  port: 3000
  auth_user: ops
  auth_hash: $2a$12$abcdefghijklmnopqrstuu
tunnel:
  addr: relay.example.com:5556
  token: s3cret
nats:
  url: nats://127.0.0.1:4222
`), 0o644))
	c, err := Load([]string{"--config", fn})
	require.NoError(t, err)
	assert.Equal(t, 5023, c.TCP.Port)
	assert.Equal(t, "ops", c.HTTP.AuthUser)
	assert.Equal(t, "relay.example.com:5556", c.Tunnel.Addr)
	assert.Equal(t, "s3cret", c.Tunnel.Token)
	assert.Equal(t, "nats://127.0.0.1:4222", c.NATS.URL)
	assert.Equal(t, "trackfeed.position", c.NATS.Subject)
}

func TestTunnelNeedsToken(t *testing.T) {
	_, err := Load([]string{"--tcp-port", "1", "--http-port", "2", "--tunnel-addr", "relay:5556"})
	assert.Error(t, err)
}

func TestBadLogLevel(t *testing.T) {
	_, err := Load([]string{"--tcp-port", "1", "--http-port", "2", "--log-level", "verbose"})
	assert.Error(t, err)
}

func TestHelp(t *testing.T) {
	_, err := Load([]string{"--help"})
	assert.ErrorIs(t, err, pflag.ErrHelp)
}
