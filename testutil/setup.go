package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xianrealm/sectd/cache"
	"github.com/xianrealm/sectd/db/sqlite"
	"github.com/xianrealm/sectd/model"
	"gorm.io/gorm"
)

// SetupTestDB returns an isolated in-memory database with all tables
// migrated.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := sqlite.OpenMemory()
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(db))
	return db
}

// SetupTestCache returns an in-process cache.
func SetupTestCache(t *testing.T) cache.Cache {
	t.Helper()
	c, err := cache.NewCache(cache.Config{LocalGCInterval: time.Hour})
	require.NoError(t, err)
	return c
}

// SetupTestPubSub returns an in-process pub/sub.
func SetupTestPubSub(t *testing.T) cache.PubSub {
	t.Helper()
	ps, err := cache.NewPubSub(cache.Config{LocalPubSubBuf: 64})
	require.NoError(t, err)
	return ps
}
