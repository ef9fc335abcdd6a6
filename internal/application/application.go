// Package application wires the lunchbox components together from a config
// file, it is shared by every binary.
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lunchbox-backend/internal/components/chrono"
	"lunchbox-backend/internal/components/configutil"
	"lunchbox-backend/internal/components/telemetry"
	"lunchbox-backend/internal/keepalive"
	"lunchbox-backend/internal/lunchcache"
	"lunchbox-backend/internal/scrapers/edupage"
	"lunchbox-backend/internal/service"
	"lunchbox-backend/internal/sessions"
	"lunchbox-backend/internal/snapshots"
)

const report_application_snapshots = "application.snapshots"

type ProviderConfig struct {
	// BaseUrl may contain `{subdomain}`, it defaults to edupage.org.
	BaseUrl           string  `json:"base_url"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	// DumpDir writes every http exchange with the provider to this directory.
	DumpDir string `json:"dump_dir"`
}

type CacheConfig struct {
	TtlSeconds int `json:"ttl_seconds"`
	Capacity   int `json:"capacity"`
}

// Config is the shape of config.json5, a config.local.json5 next to it
// overrides its values.
type Config struct {
	// Location is the IANA timezone of the school, ex. Europe/Bratislava.
	Location string                   `json:"location"`
	Provider ProviderConfig           `json:"provider"`
	Cache    CacheConfig              `json:"cache"`
	Database snapshots.DatabaseConfig `json:"database"`
	// RedisUrl takes precedence over Database when set.
	RedisUrl string `json:"redis_url"`
	// KeepAlive is a cron spec, it defaults to every 30 minutes.
	KeepAlive string `json:"keep_alive"`
}

func ReadConfig(path string) (Config, error) {
	return configutil.ReadConfig[Config](path)
}

type Application struct {
	Time      chrono.StandardTime
	Snapshots snapshots.Repository
	Sessions  *sessions.Store
	Cache     *lunchcache.Cache
	Service   service.LunchService
	Keeper    keepalive.Keeper

	closers []func() error
}

func New(ctx context.Context, cfg Config, tel telemetry.API) (*Application, error) {
	clock, err := chrono.NewStandardTime(cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", cfg.Location, err)
	}

	app := &Application{Time: clock}

	app.Snapshots, err = app.openSnapshots(ctx, cfg, tel)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Sessions = sessions.NewStore(sessions.Options{
		Client: edupage.ClientOptions{
			BaseUrl:           cfg.Provider.BaseUrl,
			Timeout:           time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
			RequestsPerSecond: cfg.Provider.RequestsPerSecond,
			DumpDir:           cfg.Provider.DumpDir,
			Time:              clock,
		},
		Snapshots: app.Snapshots,
		Tel:       tel,
	})

	app.Cache, err = lunchcache.New(lunchcache.Options{
		TTL:      time.Duration(cfg.Cache.TtlSeconds) * time.Second,
		Capacity: cfg.Cache.Capacity,
		Time:     clock,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Service = service.NewLunchService(app.Sessions, app.Cache, tel)
	app.Keeper = keepalive.NewKeeper(app.Service, app.Snapshots, tel)
	return app, nil
}

func (app *Application) openSnapshots(ctx context.Context, cfg Config, tel telemetry.API) (snapshots.Repository, error) {
	if cfg.RedisUrl != "" {
		client, err := snapshots.ConnectRedis(ctx, cfg.RedisUrl)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, client.Close)
		return snapshots.NewRedisRepository(client, tel), nil
	}

	if cfg.Database.File != "" || cfg.Database.Url != "" {
		db, err := cfg.Database.OpenDB()
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		app.closers = append(app.closers, db.Close)
		return snapshots.NewSqliteRepository(ctx, db, app.Time, tel)
	}

	tel.ReportWarning(report_application_snapshots, "no database configured, sessions will not survive a restart")
	return snapshots.NewMemoryRepository(), nil
}

func (app *Application) Close() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		errs = append(errs, app.closers[i]())
	}
	app.closers = nil
	return errors.Join(errs...)
}
