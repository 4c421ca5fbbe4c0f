package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/chat-relay/internal/auth"
	"github.com/suPer8Hu/chat-relay/internal/logger"
	"github.com/suPer8Hu/chat-relay/internal/models"
)

func TestDialectorFor(t *testing.T) {
	cases := map[string]string{
		"sqlite://relay.db":                  "sqlite",
		"file:test?mode=memory":              "sqlite",
		"postgres://u:p@localhost/relay":     "postgres",
		"postgresql://u:p@localhost/relay":   "postgres",
		"app:pass@tcp(127.0.0.1:3306)/relay": "mysql",
	}
	for dsn, want := range cases {
		d, err := dialectorFor(dsn)
		require.NoError(t, err, dsn)
		assert.Equal(t, want, d.Name(), dsn)
	}

	_, err := dialectorFor("  ")
	require.Error(t, err)
}

func TestConnectMigrateSeed(t *testing.T) {
	gdb, err := Connect("file:db_seed_test?mode=memory&cache=shared")
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Migrate(gdb))

	ctx := context.Background()
	admin := AdminSeed{Username: "admin", Password: "s3cret", Email: "admin@example.com"}
	require.NoError(t, Seed(ctx, gdb, admin, logger.Discard()))
	// a second run changes nothing
	require.NoError(t, Seed(ctx, gdb, admin, logger.Discard()))

	var users []models.User
	require.NoError(t, gdb.Find(&users).Error)
	require.Len(t, users, 1)
	assert.True(t, users[0].Unlimited())
	assert.True(t, auth.CheckPassword(users[0].PasswordHash, "s3cret"))

	var n int64
	require.NoError(t, gdb.Model(&models.AIModel{}).Count(&n).Error)
	assert.Positive(t, n)
}

func TestSeed_AdminNeedsPassword(t *testing.T) {
	gdb, err := Connect("file:db_seed_nopass?mode=memory&cache=shared")
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Migrate(gdb))

	err = Seed(context.Background(), gdb, AdminSeed{Username: "admin"}, logger.Discard())
	require.Error(t, err)
}
