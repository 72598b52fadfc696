package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnect_UnsupportedDriver(t *testing.T) {
	cfg := Config{
		Driver:             "invalid",
		ConnectionString:   "invalid",
		MaxOpenConnections: 10,
		MaxIdleConnections: 5,
		ConnMaxLifetime:    time.Hour,
	}

	db, err := Connect(cfg)
	assert.Error(t, err)
	assert.Nil(t, db)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestConfig_WithDefaults(t *testing.T) {
	t.Run("fills unset pool settings", func(t *testing.T) {
		cfg := Config{Driver: "postgres"}.withDefaults()

		assert.Equal(t, defaultMaxOpenConnections, cfg.MaxOpenConnections)
		assert.Equal(t, defaultMaxIdleConnections, cfg.MaxIdleConnections)
		assert.Equal(t, defaultConnMaxLifetime, cfg.ConnMaxLifetime)
	})

	t.Run("keeps explicit pool settings", func(t *testing.T) {
		cfg := Config{
			Driver:             "postgres",
			MaxOpenConnections: 50,
			MaxIdleConnections: 10,
			ConnMaxLifetime:    time.Hour,
		}.withDefaults()

		assert.Equal(t, 50, cfg.MaxOpenConnections)
		assert.Equal(t, 10, cfg.MaxIdleConnections)
		assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
	})
}
