// Package keepalive periodically touches every persisted session so that the
// provider doesn't expire sessions of users that are idle.
package keepalive

import (
	"context"
	"errors"

	"lunchbox-backend/internal/components/assert"
	"lunchbox-backend/internal/components/chrono"
	"lunchbox-backend/internal/components/telemetry"
	"lunchbox-backend/internal/scrapers/edupage"
	"lunchbox-backend/internal/service"
	"lunchbox-backend/internal/sessions"
	"lunchbox-backend/internal/snapshots"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("keepalive")

const DefaultSpec = "@every 30m"

const (
	report_keeper_list  = "keeper.list"
	report_keeper_ping  = "keeper.ping"
	report_keeper_alive = "keeper.alive"
)

// Result counts the outcome of a single round.
type Result struct {
	Alive   int
	Expired int
	Failed  int
}

// Keeper pings sessions through the lunch service, so pings are subject to
// the same per-user exclusion as requests made by users.
type Keeper struct {
	service   service.LunchService
	snapshots snapshots.Repository
	tel       telemetry.API
}

func NewKeeper(svc service.LunchService, repo snapshots.Repository, tel telemetry.API) Keeper {
	assert.NotNil(repo)
	assert.NotNil(tel)

	return Keeper{
		service:   svc,
		snapshots: repo,
		tel:       telemetry.NewScopedAPI("keepalive", tel),
	}
}

// PingAll pings every user with a persisted snapshot. Expired sessions and
// snapshots that can't be decoded are dropped. Other failures, like the
// provider or the repository being unreachable, leave the session alone.
func (k Keeper) PingAll(ctx context.Context) (Result, error) {
	ctx, span := tracer.Start(ctx, "keeper:PingAll")
	defer span.End()

	users, err := k.snapshots.List(ctx)
	if err != nil {
		k.tel.ReportBroken(report_keeper_list, err)
		return Result{}, err
	}

	var result Result
	for _, userId := range users {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		err := k.service.KeepAlive(ctx, userId)
		switch {
		case err == nil:
			result.Alive++
		case errors.Is(err, snapshots.ErrSnapshotNotFound):
			// logged out since the listing
		case errors.Is(err, edupage.ErrSessionExpired):
			result.Expired++
			k.tel.ReportDebug("session expired", userId)
		case errors.Is(err, sessions.ErrInvalidSnapshot), errors.Is(err, sessions.ErrUnsupportedSnapshot):
			result.Expired++
			logoutErr := k.service.Logout(ctx, userId)
			if logoutErr != nil {
				k.tel.ReportWarning(report_keeper_ping, logoutErr, userId)
			}
		default:
			result.Failed++
			k.tel.ReportWarning(report_keeper_ping, err, userId)
		}
	}

	span.SetAttributes(
		attribute.Int("custom.alive", result.Alive),
		attribute.Int("custom.expired", result.Expired),
		attribute.Int("custom.failed", result.Failed),
	)
	k.tel.ReportCount(report_keeper_alive, int64(result.Alive))
	return result, nil
}

// Start schedules PingAll on the cron, an empty spec means DefaultSpec.
func (k Keeper) Start(ctx context.Context, cron chrono.CronAPI, spec string) error {
	if spec == "" {
		spec = DefaultSpec
	}
	return cron.Cron(spec, func() {
		_, err := k.PingAll(ctx)
		if err != nil && ctx.Err() == nil {
			k.tel.ReportWarning(report_keeper_ping, err)
		}
	})
}
