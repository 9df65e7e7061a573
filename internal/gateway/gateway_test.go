// ABOUTME: Tests for gateway wiring helpers: listener resolution and shutdown errors.
// ABOUTME: Tailscale resolution is tested via env and config precedence only.

package gateway

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Run("config value wins", func(t *testing.T) {
		t.Setenv("TS_AUTHKEY", "env-key")
		key, err := resolveTailscaleAuthKey("config-key")
		require.NoError(t, err)
		assert.Equal(t, "config-key", key)
	})

	t.Run("falls back to environment", func(t *testing.T) {
		t.Setenv("TS_AUTHKEY", "env-key")
		key, err := resolveTailscaleAuthKey("")
		require.NoError(t, err)
		assert.Equal(t, "env-key", key)
	})

	t.Run("errors when neither is set", func(t *testing.T) {
		t.Setenv("TS_AUTHKEY", "")
		_, err := resolveTailscaleAuthKey("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "auth key required")
	})
}

func TestResolveTailscaleStateDir(t *testing.T) {
	configured := filepath.Join(t.TempDir(), "ts-state")
	dir, err := resolveTailscaleStateDir(configured)
	require.NoError(t, err)
	assert.Equal(t, configured, dir)

	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.Contains(t, dir, filepath.Join("familiar", "tailscale"))
}

func TestAppendCloseError(t *testing.T) {
	var errs []error
	errs = appendCloseError(errs, "first", nil)
	assert.Empty(t, errs)

	errs = appendCloseError(errs, "second", errors.New("boom"))
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "second: boom")
}
