package main

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docauthd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, defaultDaemonConfig(), cfg)
}

func TestLoadConfigFileAndFlags(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":9000"
log:
  level: debug
auth:
  signing_key: `+testKey+`
  admins: ["root@docs.io"]
  session_ttl: 2h
redis:
  addrs: ["r1:6379", "r2:6379"]
`)

	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	bindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--log.level=warn"}))

	cfg, err := loadConfig(path, fs)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTP.Addr, "unset flag must not override the file")
	assert.Equal(t, "warn", cfg.Log.Level, "changed flag wins")
	assert.Equal(t, 2*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, []string{"root@docs.io"}, cfg.Auth.Admins)
	assert.Equal(t, []string{"r1:6379", "r2:6379"}, cfg.Redis.Addrs)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ReadTimeout, "untouched keys keep defaults")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	assert.Equal(t, "CONFIG_LOAD_FAILED", oopsErr.Code())
}

func TestEngineConfig(t *testing.T) {
	cfg := defaultDaemonConfig()
	cfg.Auth.SigningKey = testKey
	cfg.Auth.HashKey = testKey
	cfg.Auth.Admins = []string{"root@docs.io"}
	cfg.Auth.OTPMaxAttempts = 5

	ec, err := cfg.engineConfig()
	require.NoError(t, err)
	assert.Len(t, ec.Session.PrivateKey, 32)
	assert.Len(t, ec.OTP.HashKey, 32)
	assert.Equal(t, 5, ec.OTP.MaxAttempts)
	assert.Equal(t, []string{"root@docs.io"}, ec.Admin.AllowedIdentities)
}

func TestEngineConfigRejectsBadKeys(t *testing.T) {
	cfg := defaultDaemonConfig()
	_, err := cfg.engineConfig()
	require.Error(t, err, "missing signing key")

	cfg.Auth.SigningKey = "not base64!"
	_, err = cfg.engineConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.signing_key")
}
