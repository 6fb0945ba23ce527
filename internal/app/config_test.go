package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/odyssey-iam/testing"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("STORE_DRIVER", "Memory")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.True(t, cfg.FirstUserAdmin)
	assert.Equal(t, "user", cfg.DefaultRole)
	assert.Equal(t, 7*24, int(cfg.InvitationTTL.Hours()))
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"short secret":    {"JWT_SECRET": "too-short"},
		"unknown driver":  {"JWT_SECRET": testSecret, "STORE_DRIVER": "sqlite"},
		"orphan password": {"JWT_SECRET": testSecret, "BOOTSTRAP_ADMIN_PASSWORD": "s3cret-pass"},
		"zero token ttl":  {"JWT_SECRET": testSecret, "TOKEN_TTL": "0s"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestTestModeIsDetected(t *testing.T) {
	RefreshTestMode()
	assert.True(t, InTestMode())
}

func TestLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"msg":"shown"`)
}
