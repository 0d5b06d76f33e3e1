package mergegate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	var newConfigFile = func(t *testing.T, content string) string {
		var path = filepath.Join(t.TempDir(), "mergegate.yml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	t.Run("should load built-in defaults with empty path", func(t *testing.T) {
		// Arrange - shield from ambient environment
		t.Setenv("MERGEGATE_STATE_DIR", "")
		t.Setenv("MERGEGATE_STORE_DSN", "")

		// Act
		var cfg, err = LoadConfig("")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("state", "leases.sqlite"), cfg.StoreDSN)
		assert.Equal(t, 15*time.Minute, time.Duration(cfg.TTL))
		assert.Equal(t, 60*time.Second, time.Duration(cfg.Heartbeat))
		assert.Equal(t, 120*time.Second, time.Duration(cfg.AcquireTimeout))
		assert.Equal(t, 1*time.Second, time.Duration(cfg.RetryInterval))
		assert.Equal(t, 5*time.Minute, time.Duration(cfg.ValidatorTimeout))
		assert.Equal(t, "origin", cfg.Remote)
	})

	t.Run("should parse duration strings from yaml", func(t *testing.T) {
		// Arrange
		var path = newConfigFile(t, `
ttl: 5m
heartbeat: 30s
acquire_timeout: 90s
retry_interval: 500ms
validator_timeout: 2m
store_dsn: /tmp/custom.sqlite
remote: upstream
`)

		// Act
		var cfg, err = LoadConfig(path)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 5*time.Minute, time.Duration(cfg.TTL))
		assert.Equal(t, 30*time.Second, time.Duration(cfg.Heartbeat))
		assert.Equal(t, 90*time.Second, time.Duration(cfg.AcquireTimeout))
		assert.Equal(t, 500*time.Millisecond, time.Duration(cfg.RetryInterval))
		assert.Equal(t, 2*time.Minute, time.Duration(cfg.ValidatorTimeout))
		assert.Equal(t, "/tmp/custom.sqlite", cfg.StoreDSN)
		assert.Equal(t, "upstream", cfg.Remote)
	})

	t.Run("should keep defaults for fields the file omits", func(t *testing.T) {
		// Arrange
		var path = newConfigFile(t, "ttl: 5m\n")

		// Act
		var cfg, err = LoadConfig(path)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 5*time.Minute, time.Duration(cfg.TTL))
		assert.Equal(t, 60*time.Second, time.Duration(cfg.Heartbeat))
		assert.Equal(t, filepath.Join("policies", "rules.yml"), cfg.RulesPath)
	})

	t.Run("should reject malformed durations", func(t *testing.T) {
		// Arrange
		var path = newConfigFile(t, "ttl: soon\n")

		// Act
		var _, err = LoadConfig(path)

		// Assert
		assert.Error(t, err)
	})

	t.Run("should fail on a missing config file", func(t *testing.T) {
		// Act
		var _, err = LoadConfig(filepath.Join(t.TempDir(), "absent.yml"))

		// Assert
		assert.Error(t, err)
	})

	t.Run("should prefer the store dsn from the environment", func(t *testing.T) {
		// Arrange
		t.Setenv("MERGEGATE_STORE_DSN", "postgres://localhost/leases")
		var path = newConfigFile(t, "store_dsn: /tmp/file.sqlite\n")

		// Act
		var cfg, err = LoadConfig(path)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "postgres://localhost/leases", cfg.StoreDSN)
	})

	t.Run("should take the attestation secret from the environment when unset", func(t *testing.T) {
		// Arrange
		t.Setenv("MERGEGATE_ATTESTATION_SECRET", "env-secret")

		// Act
		var cfg, err = LoadConfig("")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "env-secret", cfg.AttestationSecret)
	})

	t.Run("should respect the state directory environment override", func(t *testing.T) {
		// Arrange
		t.Setenv("MERGEGATE_STATE_DIR", "/var/lib/mergegate")

		// Act
		var cfg = DefaultConfig()

		// Assert
		assert.Equal(t, filepath.Join("/var/lib/mergegate", "leases.sqlite"), cfg.StoreDSN)
	})
}
