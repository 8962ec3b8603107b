package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(nil, nil)
	require.NoError(t, err)

	require.Equal(t, ":4000", cfg.HTTP.Addr)
	require.Equal(t, ":4001", cfg.GRPC.Addr)
	require.Equal(t, 2*time.Hour, cfg.JWT.TTL)
	require.Equal(t, uint32(65536), cfg.Argon2.Memory)
	require.Equal(t, uint32(3), cfg.Argon2.Time)
	require.Equal(t, uint8(1), cfg.Argon2.Threads)
	require.Equal(t, time.Minute, cfg.Revocation.SweepInterval)
	require.Equal(t, cfg.JWT.TTL, cfg.Revocation.DefaultTTL)
	require.Equal(t, 10*time.Second, cfg.Rehash.Timeout)
	require.Equal(t, int32(10), cfg.DB.MaxConns)
	require.False(t, cfg.Dev)

	// the secret is never defaulted
	require.Empty(t, cfg.JWT.Secret)
	require.Error(t, cfg.Validate())
}

func TestLoad_EnvThenFlags(t *testing.T) {
	t.Setenv("TVK_JWT_SECRET", secret)
	t.Setenv("TVK_JWT_TTL", "30m")
	t.Setenv("TVK_HTTP_ADDR", ":9000")
	t.Setenv("TVK_ARGON2_MEMORY", "131072")
	t.Setenv("TVK_REVOCATION_DEFAULT_TTL", "45m")

	cfg, err := load([]string{"--http-addr", ":9100", "--dev"}, nil)
	require.NoError(t, err)

	require.Equal(t, secret, cfg.JWT.Secret)
	require.Equal(t, 30*time.Minute, cfg.JWT.TTL)
	require.Equal(t, ":9100", cfg.HTTP.Addr, "flag beats env")
	require.Equal(t, uint32(131072), cfg.Argon2.Memory)
	require.Equal(t, 45*time.Minute, cfg.Revocation.DefaultTTL)
	require.True(t, cfg.Dev)
	require.NoError(t, cfg.Validate())
}

func TestLoad_ConfigFileAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	yml := filepath.Join(dir, "tvkeeper.yml")
	require.NoError(t, os.WriteFile(yml, []byte(strings.Join([]string{
		"grpc:",
		"  addr: \"\"",
		"jwt:",
		"  ttl: 90m",
		"rehash:",
		"  timeout: 3s",
	}, "\n")), 0o600))

	env := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(env, []byte("TVK_JWT_SECRET="+secret+"\nTVK_REHASH_TIMEOUT=7s\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TVK_JWT_SECRET"); os.Unsetenv("TVK_REHASH_TIMEOUT") })

	cfg, err := load([]string{"--config", yml}, []string{filepath.Join(dir, "missing.env"), env})
	require.NoError(t, err)

	require.Empty(t, cfg.GRPC.Addr)
	require.Equal(t, 90*time.Minute, cfg.JWT.TTL)
	require.Equal(t, 90*time.Minute, cfg.Revocation.DefaultTTL)
	require.Equal(t, secret, cfg.JWT.Secret)
	require.Equal(t, 7*time.Second, cfg.Rehash.Timeout, "env beats config file")
}

func TestLoad_BadInput(t *testing.T) {
	_, err := load([]string{"--no-such-flag"}, nil)
	require.Error(t, err)

	_, err = load([]string{"--config", filepath.Join(t.TempDir(), "absent.yml")}, nil)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := load(nil, nil)
		require.NoError(t, err)
		cfg.JWT.Secret = secret
		return cfg
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"short secret":  func(c *Config) { c.JWT.Secret = "short" },
		"zero ttl":      func(c *Config) { c.JWT.TTL = 0 },
		"zero sweep":    func(c *Config) { c.Revocation.SweepInterval = 0 },
		"zero rehash":   func(c *Config) { c.Rehash.Timeout = 0 },
		"no http addr":  func(c *Config) { c.HTTP.Addr = "" },
		"no dsn":        func(c *Config) { c.DB.DSN = "" },
		"no conns":      func(c *Config) { c.DB.MaxConns = 0 },
		"zero threads":  func(c *Config) { c.Argon2.Threads = 0 },
		"half tls":      func(c *Config) { c.TLS.Cert = "cert.pem" },
		"admin no pass": func(c *Config) { c.Bootstrap.AdminEmail = "root@x.com" },
		"admin short pass": func(c *Config) {
			c.Bootstrap.AdminEmail = "root@x.com"
			c.Bootstrap.AdminPassword = "abc"
		},
	}
	for name, mutate := range cases {
		cfg := valid()
		mutate(cfg)
		require.Error(t, cfg.Validate(), name)
	}

	ok := valid()
	ok.Bootstrap.AdminEmail = "root@x.com"
	ok.Bootstrap.AdminPassword = "long-enough"
	require.NoError(t, ok.Validate())
}
