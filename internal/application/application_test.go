package application

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lunchbox-backend/internal/components/telemetry"
	"lunchbox-backend/internal/scrapers/edupage/edupagetest"
	"lunchbox-backend/internal/snapshots"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	err := os.WriteFile(path, []byte(content), 0600)
	require.NoError(t, err)
}

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	writeFile(t, path, `{
		// school timezone
		location: "Europe/Bratislava",
		provider: {
			base_url: "https://{subdomain}.edupage.org",
			timeout_seconds: 5,
		},
		cache: { ttl_seconds: 60 },
		database: { file: "state/lunchbox.db" },
	}`)
	writeFile(t, filepath.Join(dir, "config.local.json5"), `{
		provider: { timeout_seconds: 10 },
		redis_url: "redis://localhost:6379/0",
	}`)

	cfg, err := ReadConfig(path)
	require.NoError(t, err)
	require.Equal(t, Config{
		Location: "Europe/Bratislava",
		Provider: ProviderConfig{
			BaseUrl:        "https://{subdomain}.edupage.org",
			TimeoutSeconds: 10,
		},
		Cache:    CacheConfig{TtlSeconds: 60},
		Database: snapshots.DatabaseConfig{File: "state/lunchbox.db"},
		RedisUrl: "redis://localhost:6379/0",
	}, cfg)

	_, err = ReadConfig(filepath.Join(dir, "missing.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestNew(t *testing.T) {
	provider := edupagetest.NewProvider()
	defer provider.Close()
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "lunchbox.db")
	cfg := Config{
		Location: "UTC",
		Provider: ProviderConfig{BaseUrl: provider.URL(), RequestsPerSecond: 1000},
		Database: snapshots.DatabaseConfig{File: dbPath},
	}

	app, err := New(ctx, cfg, telemetry.NewRecorderAPI())
	require.NoError(t, err)
	require.IsType(t, snapshots.SqliteRepository{}, app.Snapshots)

	err = app.Service.Login(ctx, "u1", provider.Username, provider.Password, provider.Subdomain)
	require.NoError(t, err)
	require.NoError(t, app.Close())

	// the session survives a restart
	app, err = New(ctx, cfg, telemetry.NewRecorderAPI())
	require.NoError(t, err)
	defer app.Close()

	result, err := app.Keeper.PingAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Alive)

	_, ok, err := app.Service.Day(ctx, "u1", time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNewWithoutDatabase(t *testing.T) {
	tel := telemetry.NewRecorderAPI()
	app, err := New(context.Background(), Config{}, tel)
	require.NoError(t, err)
	defer app.Close()

	require.IsType(t, &snapshots.MemoryRepository{}, app.Snapshots)
	require.NotEmpty(t, tel.Reports("warning", report_application_snapshots))

	_, err = New(context.Background(), Config{Location: "Mars/Olympus_Mons"}, tel)
	require.Error(t, err)
}
