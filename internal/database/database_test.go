package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *DB {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err, "failed to open test database")
	require.NoError(t, db.AutoMigrate(&Subscription{}))

	d := &DB{db: db}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestSubscribe(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.Subscribe(123))

	subscribed, err := db.IsSubscribed(123)
	require.NoError(t, err)
	assert.True(t, subscribed)
}

func TestSubscribeDuplicate(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.Subscribe(123))
	require.NoError(t, db.Subscribe(123))

	subs, err := db.Subscribers()
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestUnsubscribe(t *testing.T) {
	db := setupTestDB(t)

	_ = db.Subscribe(123)
	require.NoError(t, db.Unsubscribe(123))

	subscribed, err := db.IsSubscribed(123)
	require.NoError(t, err)
	assert.False(t, subscribed)

	// Unsubscribing an unknown chat is not an error.
	require.NoError(t, db.Unsubscribe(999))
}

func TestIsSubscribed(t *testing.T) {
	db := setupTestDB(t)

	subscribed, err := db.IsSubscribed(999)
	require.NoError(t, err)
	assert.False(t, subscribed)

	_ = db.Subscribe(999)

	subscribed, err = db.IsSubscribed(999)
	require.NoError(t, err)
	assert.True(t, subscribed)
}

func TestSubscribers(t *testing.T) {
	db := setupTestDB(t)

	subs, err := db.Subscribers()
	require.NoError(t, err)
	assert.Empty(t, subs)

	_ = db.Subscribe(1)
	_ = db.Subscribe(2)
	_ = db.Subscribe(-1003)

	subs, err = db.Subscribers()
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, -1003}, subs)
}

func TestNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := New(path)
	require.NoError(t, err)
	require.NoError(t, db.Subscribe(123))
	require.NoError(t, db.Close())

	db, err = New(path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	subscribed, err := db.IsSubscribed(123)
	require.NoError(t, err)
	assert.True(t, subscribed, "subscription survives reopening")
}
