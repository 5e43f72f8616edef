package v1

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDatabaseConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		t.Setenv("ADMITPATH_DB_HOSTNAME", "")
		t.Setenv("ADMITPATH_DB_PORT", "")
		t.Setenv("ADMITPATH_DB_USERNAME", "")
		t.Setenv("ADMITPATH_DB_PASSWORD", "")
		t.Setenv("ADMITPATH_DB_DATABASENAME", "")
		t.Setenv("DB_SSLMODE", "")

		config := NewDatabaseConfig()

		assert.Equal(t, "localhost", config.Host)
		assert.Equal(t, "5432", config.Port)
		assert.Equal(t, "postgres", config.Username)
		assert.Equal(t, "admitpath", config.Database)
		assert.Equal(t, "require", config.SSLMode)
		assert.Equal(t, 25, config.MaxOpenConns)
		assert.Equal(t, time.Hour, config.ConnMaxLifetime)
	})

	t.Run("EnvironmentOverrides", func(t *testing.T) {
		t.Setenv("ADMITPATH_DB_HOSTNAME", "db.internal")
		t.Setenv("ADMITPATH_DB_PORT", "6432")
		t.Setenv("ADMITPATH_DB_USERNAME", "portal")
		t.Setenv("ADMITPATH_DB_PASSWORD", "s3cret")
		t.Setenv("ADMITPATH_DB_DATABASENAME", "portal_prod")
		t.Setenv("DB_SSLMODE", "disable")

		config := NewDatabaseConfig()

		assert.Equal(t, "db.internal", config.Host)
		assert.Equal(t, "6432", config.Port)
		assert.Equal(t, "portal", config.Username)
		assert.Equal(t, "s3cret", config.Password)
		assert.Equal(t, "portal_prod", config.Database)
		assert.Equal(t, "disable", config.SSLMode)
	})
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("DB_TEST_KEY", "set")
	assert.Equal(t, "set", getEnvOrDefault("DB_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", getEnvOrDefault("DB_TEST_KEY_MISSING", "fallback"))
}
