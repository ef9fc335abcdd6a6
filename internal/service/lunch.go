// Package service composes the session store, the read cache and the edupage
// client into the operations exposed to users.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lunchbox-backend/internal/components/assert"
	"lunchbox-backend/internal/components/telemetry"
	"lunchbox-backend/internal/lunchcache"
	"lunchbox-backend/internal/scrapers/edupage"
	"lunchbox-backend/internal/sessions"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("service")

// ErrNoMeal means the kitchen doesn't cook the main meal on that date.
var ErrNoMeal = errors.New("no meal on this date")

const (
	report_service_expire = "service.expire"
	report_service_login  = "service.login"
	report_service_mutate = "service.mutate"
)

const dateLayout = "2006-01-02"

type LunchService struct {
	sessions *sessions.Store
	cache    *lunchcache.Cache
	tel      telemetry.API
}

func NewLunchService(store *sessions.Store, cache *lunchcache.Cache, tel telemetry.API) LunchService {
	assert.NotNil(store)
	assert.NotNil(cache)
	assert.NotNil(tel)

	return LunchService{
		sessions: store,
		cache:    cache,
		tel:      telemetry.NewScopedAPI("service", tel),
	}
}

func (s LunchService) client(ctx context.Context, userId string) (*edupage.Client, error) {
	client, err := s.sessions.Get(ctx, userId)
	if err != nil {
		return nil, err
	}
	if !client.IsLoggedIn() {
		return nil, edupage.ErrNotLoggedIn
	}
	return client, nil
}

// handle drops everything known about the user's session when the provider
// no longer accepts it.
func (s LunchService) handle(ctx context.Context, userId string, err error) error {
	if !errors.Is(err, edupage.ErrSessionExpired) {
		return err
	}
	s.tel.ReportDebug("session expired", userId, err)
	s.cache.ClearUser(userId)
	forgetErr := s.sessions.Forget(ctx, userId)
	if forgetErr != nil {
		s.tel.ReportWarning(report_service_expire, fmt.Errorf("delete snapshot: %w", forgetErr), userId)
	}
	return err
}

func (s LunchService) Login(ctx context.Context, userId, username, password, subdomain string) error {
	ctx, span := tracer.Start(ctx, "service:Login")
	defer span.End()

	_, err := s.sessions.Login(ctx, userId, username, password, subdomain)
	if err != nil {
		if !errors.Is(err, edupage.ErrBadCredentials) {
			s.tel.ReportWarning(report_service_login, err, userId)
		}
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.cache.ClearUser(userId)
	return nil
}

// Week fetches the week containing `date` from the provider and caches every
// day of it.
func (s LunchService) Week(ctx context.Context, userId string, date time.Time) (map[string]edupage.MealRecord, error) {
	ctx, span := tracer.Start(ctx, "service:Week")
	defer span.End()

	client, err := s.client(ctx, userId)
	if err != nil {
		return nil, err
	}
	meals, err := client.FetchWeek(ctx, date)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, s.handle(ctx, userId, err)
	}
	for day, record := range meals {
		s.cache.Set(userId, day, record)
	}
	return meals, nil
}

// Day returns the main meal on `date`, false means the kitchen doesn't cook
// that day.
func (s LunchService) Day(ctx context.Context, userId string, date time.Time) (edupage.MealRecord, bool, error) {
	key := date.Format(dateLayout)
	cached, ok := s.cache.Get(userId, key)
	if ok {
		return cached, true, nil
	}

	ctx, span := tracer.Start(ctx, "service:Day")
	defer span.End()
	span.SetAttributes(attribute.String("custom.date", key))

	meals, err := s.Week(ctx, userId, date)
	if err != nil {
		return edupage.MealRecord{}, false, err
	}
	record, ok := meals[key]
	return record, ok, nil
}

// Order chooses the 1-based menu option for the meal on `date`.
func (s LunchService) Order(ctx context.Context, userId string, date time.Time, option int) (edupage.Ack, error) {
	return s.mutate(ctx, userId, date, func(client *edupage.Client, record edupage.MealRecord) (edupage.Ack, error) {
		return client.OrderOption(ctx, record, option)
	})
}

func (s LunchService) Cancel(ctx context.Context, userId string, date time.Time) (edupage.Ack, error) {
	return s.mutate(ctx, userId, date, func(client *edupage.Client, record edupage.MealRecord) (edupage.Ack, error) {
		return client.Cancel(ctx, record)
	})
}

func (s LunchService) mutate(
	ctx context.Context,
	userId string,
	date time.Time,
	change func(client *edupage.Client, record edupage.MealRecord) (edupage.Ack, error),
) (edupage.Ack, error) {
	record, ok, err := s.Day(ctx, userId, date)
	if err != nil {
		return edupage.Ack{}, err
	}
	if !ok {
		return edupage.Ack{}, fmt.Errorf("%w: %s", ErrNoMeal, date.Format(dateLayout))
	}

	client, err := s.client(ctx, userId)
	if err != nil {
		return edupage.Ack{}, err
	}
	ack, err := change(client, record)
	if err != nil {
		if errors.Is(err, edupage.ErrProviderProtocol) {
			s.tel.ReportBroken(report_service_mutate, err, userId)
		}
		return edupage.Ack{}, s.handle(ctx, userId, err)
	}

	s.cache.Invalidate(userId, record.Date)
	return ack, nil
}

// Ping checks that the user's session is still accepted, the snapshot is
// refreshed when it is.
func (s LunchService) Ping(ctx context.Context, userId string) error {
	client, err := s.client(ctx, userId)
	if err != nil {
		return err
	}
	err = client.Ping(ctx)
	if err != nil {
		return s.handle(ctx, userId, err)
	}
	s.sessions.Persist(ctx, userId)
	return nil
}

// KeepAlive pings the user's session as it is currently persisted, so a
// session replaced by another process is neither pinged nor saved over.
// Snapshot errors from the store are returned as is and never drop the session.
func (s LunchService) KeepAlive(ctx context.Context, userId string) error {
	client, err := s.sessions.Refresh(ctx, userId)
	if err != nil {
		return err
	}
	if !client.IsLoggedIn() {
		return edupage.ErrNotLoggedIn
	}
	err = client.Ping(ctx)
	if err != nil {
		return s.handle(ctx, userId, err)
	}
	s.sessions.Persist(ctx, userId)
	return nil
}

// Logout forgets the user's session and everything cached for them.
func (s LunchService) Logout(ctx context.Context, userId string) error {
	s.cache.ClearUser(userId)
	return s.sessions.Forget(ctx, userId)
}
