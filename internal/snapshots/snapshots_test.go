package snapshots

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lunchbox-backend/internal/components/chrono"
	"lunchbox-backend/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

func testRepository(t *testing.T, ctx context.Context, repo Repository) {
	_, err := repo.Load(ctx, "alice")
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	users, err := repo.List(ctx)
	require.NoError(t, err)
	require.Empty(t, users)

	data := []byte{'{', 0x00, 0xff, '}'}
	require.NoError(t, repo.Save(ctx, "alice", data))
	require.NoError(t, repo.Save(ctx, "bob", []byte(`{"version":1}`)))

	loaded, err := repo.Load(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, data, loaded)

	require.NoError(t, repo.Save(ctx, "alice", []byte("replaced")))
	loaded, err = repo.Load(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []byte("replaced"), loaded)

	users, err = repo.List(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alice", "bob"}, users)

	require.NoError(t, repo.Delete(ctx, "alice"))
	require.NoError(t, repo.Delete(ctx, "alice"))
	_, err = repo.Load(ctx, "alice")
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	users, err = repo.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, users)

	require.NoError(t, repo.Delete(ctx, "bob"))
}

func TestSqliteRepository(t *testing.T) {
	ctx := context.Background()
	db, err := DatabaseConfig{File: ":memory:"}.OpenDB()
	require.NoError(t, err)
	defer db.Close()

	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	clock := chrono.NewManualTime(start)
	repo, err := NewSqliteRepository(ctx, db, clock, telemetry.NewRecorderAPI())
	require.NoError(t, err)

	testRepository(t, ctx, repo)

	require.NoError(t, repo.Save(ctx, "carol", []byte("a")))
	clock.Advance(time.Hour)
	require.NoError(t, repo.Save(ctx, "carol", []byte("b")))
	updatedAt, err := repo.UpdatedAt(ctx, "carol")
	require.NoError(t, err)
	require.True(t, updatedAt.Equal(start.Add(time.Hour)))

	_, err = repo.UpdatedAt(ctx, "nobody")
	require.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestSqliteRepositoryFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "snapshots.db")

	db, err := DatabaseConfig{File: path}.OpenDB()
	require.NoError(t, err)
	repo, err := NewSqliteRepository(ctx, db, chrono.NewManualTime(time.Now()), telemetry.NewRecorderAPI())
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, "alice", []byte("persisted")))
	require.NoError(t, db.Close())

	db, err = DatabaseConfig{File: path}.OpenDB()
	require.NoError(t, err)
	defer db.Close()
	repo, err = NewSqliteRepository(ctx, db, chrono.NewManualTime(time.Now()), telemetry.NewRecorderAPI())
	require.NoError(t, err)

	loaded, err := repo.Load(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []byte("persisted"), loaded)
}

func TestMemoryRepository(t *testing.T) {
	testRepository(t, context.Background(), NewMemoryRepository())
}

func TestDatabaseConfigEmpty(t *testing.T) {
	_, err := DatabaseConfig{}.OpenDB()
	require.Error(t, err)
}

// set LUNCHBOX_TEST_REDIS (ex. redis://localhost:6379/15) to run against a real server
func TestRedisRepository(t *testing.T) {
	redisUrl := os.Getenv("LUNCHBOX_TEST_REDIS")
	if redisUrl == "" {
		t.Skip("LUNCHBOX_TEST_REDIS is not set")
	}

	ctx := context.Background()
	client, err := ConnectRedis(ctx, redisUrl)
	require.NoError(t, err)
	defer client.Close()

	testRepository(t, ctx, NewRedisRepository(client, telemetry.NewRecorderAPI()))
}

func TestConnectRedisBadUrl(t *testing.T) {
	_, err := ConnectRedis(context.Background(), "not a url")
	require.Error(t, err)
}
