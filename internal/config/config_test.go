package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromKoanfDefaults(t *testing.T) {
	k := koanf.New(".")
	require.NoError(t, k.Load(confmap.Provider(defaults, "."), nil))

	cfg := fromKoanf(k, strings.Repeat("k", 32))

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, cfg.AppKey, cfg.JWTSecret)
	assert.Equal(t, 8*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "instance/settings.json", cfg.SettingsPath)
	assert.Equal(t, "http://127.0.0.1:8080/api", cfg.APIURL)
	assert.Equal(t, time.Minute, cfg.DashboardRefresh)
}

func TestLoadReadsPrefixedEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REPORTAPP_KEY", strings.Repeat("a", 40))
	t.Setenv("REPORTAPP_PORT", "9090")
	t.Setenv("REPORTAPP_API_URL", "http://backend:9000/")
	t.Setenv("REPORTAPP_ADMIN_SETTINGS_PASSWORD", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "http://backend:9000", cfg.APIURL)
	assert.Equal(t, "s3cret", cfg.AdminSettingsPassword)
	assert.Equal(t, strings.Repeat("a", 40), cfg.AppKey)
}

func TestSaveKeyToEnv(t *testing.T) {
	dir := t.TempDir()

	t.Run("creates file", func(t *testing.T) {
		path := filepath.Join(dir, "new.env")
		require.NoError(t, saveKeyToEnv(path, "abc"))
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(b), "REPORTAPP_KEY=abc")
	})

	t.Run("replaces existing key", func(t *testing.T) {
		path := filepath.Join(dir, "existing.env")
		require.NoError(t, os.WriteFile(path, []byte("FOO=1\r\nREPORTAPP_KEY=old\r\n"), 0644))
		require.NoError(t, saveKeyToEnv(path, "new"))
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "FOO=1\nREPORTAPP_KEY=new\n", string(b))
	})

	t.Run("utf16 with bom", func(t *testing.T) {
		path := filepath.Join(dir, "utf16.env")
		u := utf16.Encode([]rune("FOO=bar\n"))
		raw := []byte{0xff, 0xfe}
		for _, c := range u {
			raw = append(raw, byte(c), byte(c>>8))
		}
		require.NoError(t, os.WriteFile(path, raw, 0644))
		require.NoError(t, saveKeyToEnv(path, "k"))
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "FOO=bar\nREPORTAPP_KEY=k\n", string(b))
	})
}
