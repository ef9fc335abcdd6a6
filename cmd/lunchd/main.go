package main

import (
	"context"
	"flag"
	"log/slog"

	"lunchbox-backend/internal/application"
	"lunchbox-backend/internal/components/chrono"
	"lunchbox-backend/internal/components/serviceutil"
	"lunchbox-backend/internal/components/telemetry"
	"lunchbox-backend/internal/keepalive"
)

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	configPath := flag.String("config", "config.json5", "Path to the configuration file.")
	once := flag.Bool("once", false, "Ping every persisted session once and exit.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	telemetry.InitSlog(*verbose)
	err := telemetry.SetupFromEnv(ctx, "lunchd")
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	defer telemetry.Shutdown(context.Background())

	cfg, err := application.ReadConfig(*configPath)
	if err != nil {
		serviceutil.Fatal("read config", err)
	}

	tel := telemetry.SlogAPI{}
	app, err := application.New(ctx, cfg, tel)
	if err != nil {
		serviceutil.Fatal("init application", err)
	}
	defer app.Close()

	if *once {
		result, err := app.Keeper.PingAll(ctx)
		if err != nil {
			serviceutil.Fatal("ping sessions", err)
		}
		slog.Info("pinged sessions", "alive", result.Alive, "expired", result.Expired, "failed", result.Failed)
		return
	}

	cron := chrono.NewStandardCron(app.Time, tel)
	defer cron.Stop()

	spec := cfg.KeepAlive
	if spec == "" {
		spec = keepalive.DefaultSpec
	}
	err = app.Keeper.Start(ctx, cron, spec)
	if err != nil {
		serviceutil.Fatal("schedule keep-alive", err)
	}
	slog.Info("keeping sessions alive", "spec", spec)

	<-ctx.Done()
}
