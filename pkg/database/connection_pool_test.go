package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestConfigDSN(t *testing.T) {
	t.Run("explicit DSN wins", func(t *testing.T) {
		cfg := Config{
			DSN:  "postgres://app:secret@db:5432/cartulary",
			Host: "ignored",
		}
		assert.Equal(t, "postgres://app:secret@db:5432/cartulary", cfg.dsn())
	})

	t.Run("discrete fields compose a keyword DSN", func(t *testing.T) {
		cfg := Config{
			Host:     "localhost",
			Port:     5432,
			User:     "cartulary",
			Password: "pw",
			DBName:   "cartulary",
			SSLMode:  "disable",
		}
		assert.Equal(t,
			"host=localhost port=5432 user=cartulary password=pw dbname=cartulary sslmode=disable",
			cfg.dsn())
	})
}

func TestConnectionPoolSettings(t *testing.T) {
	// SQLite stands in for Postgres here; the pool knobs live on the
	// generic database/sql handle either way.
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	stats, err := GetPoolStats(db)
	require.NoError(t, err)
	assert.Equal(t, 25, stats.MaxOpenConnections)
}
