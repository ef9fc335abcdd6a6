package keepalive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lunchbox-backend/internal/components/chrono"
	"lunchbox-backend/internal/components/telemetry"
	"lunchbox-backend/internal/lunchcache"
	"lunchbox-backend/internal/scrapers/edupage"
	"lunchbox-backend/internal/scrapers/edupage/edupagetest"
	"lunchbox-backend/internal/service"
	"lunchbox-backend/internal/sessions"
	"lunchbox-backend/internal/snapshots"

	"github.com/stretchr/testify/require"
)

type manualCron struct {
	specs     []string
	callbacks []func()
}

func (c *manualCron) Cron(spec string, callback func()) error {
	c.specs = append(c.specs, spec)
	c.callbacks = append(c.callbacks, callback)
	return nil
}

// flakyRepository fails the next loadFailures loads.
type flakyRepository struct {
	*snapshots.MemoryRepository

	mutex        sync.Mutex
	loadFailures int
}

func (r *flakyRepository) Load(ctx context.Context, userId string) ([]byte, error) {
	r.mutex.Lock()
	if r.loadFailures > 0 {
		r.loadFailures--
		r.mutex.Unlock()
		return nil, errors.New("connection reset by peer")
	}
	r.mutex.Unlock()
	return r.MemoryRepository.Load(ctx, userId)
}

type fixture struct {
	provider *edupagetest.Provider
	repo     snapshots.Repository
	store    *sessions.Store
	service  service.LunchService
	tel      *telemetry.RecorderAPI
	keeper   Keeper
}

func newFixture(t *testing.T) fixture {
	provider := edupagetest.NewProvider()
	t.Cleanup(provider.Close)
	return newProcess(t, provider, snapshots.NewMemoryRepository())
}

// newProcess builds everything a single process has on top of a provider and
// a repository that may be shared with other processes.
func newProcess(t *testing.T, provider *edupagetest.Provider, repo snapshots.Repository) fixture {
	clock := chrono.NewManualTime(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC))
	tel := telemetry.NewRecorderAPI()
	store := sessions.NewStore(sessions.Options{
		Client: edupage.ClientOptions{
			BaseUrl:           provider.URL(),
			Timeout:           2 * time.Second,
			RequestsPerSecond: 1000,
			Time:              clock,
		},
		Snapshots: repo,
		Tel:       tel,
	})
	cache, err := lunchcache.New(lunchcache.Options{Time: clock})
	require.NoError(t, err)
	svc := service.NewLunchService(store, cache, tel)

	return fixture{
		provider: provider,
		repo:     repo,
		store:    store,
		service:  svc,
		tel:      tel,
		keeper:   NewKeeper(svc, repo, tel),
	}
}

func snapshotCookie(t *testing.T, repo snapshots.Repository, userId string) string {
	data, err := repo.Load(context.Background(), userId)
	require.NoError(t, err)
	state, err := sessions.DecodeSnapshot(data)
	require.NoError(t, err)
	for _, c := range state.Cookies {
		if c.Name == "PHPSESSID" {
			return c.Value
		}
	}
	return ""
}

func TestPingAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, user := range []string{"u1", "u2"} {
		err := f.service.Login(ctx, user, f.provider.Username, f.provider.Password, f.provider.Subdomain)
		require.NoError(t, err)
	}
	require.NoError(t, f.repo.Save(ctx, "corrupt", []byte("{{{")))

	result, err := f.keeper.PingAll(ctx)
	require.NoError(t, err)
	require.Equal(t, Result{Alive: 2, Expired: 1}, result)
	require.Equal(t, 2, f.provider.WeekRequests())

	users, err := f.repo.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"u1", "u2"}, users)
}

func TestPingAllExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.service.Login(ctx, "u1", f.provider.Username, f.provider.Password, f.provider.Subdomain)
	require.NoError(t, err)
	f.provider.ExpireSessions()

	result, err := f.keeper.PingAll(ctx)
	require.NoError(t, err)
	require.Equal(t, Result{Expired: 1}, result)

	users, err := f.repo.List(ctx)
	require.NoError(t, err)
	require.Empty(t, users)
	require.Empty(t, f.store.Resident())
}

func TestPingAllNetworkFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.service.Login(ctx, "u1", f.provider.Username, f.provider.Password, f.provider.Subdomain)
	require.NoError(t, err)
	f.provider.Close()

	result, err := f.keeper.PingAll(ctx)
	require.NoError(t, err)
	require.Equal(t, Result{Failed: 1}, result)
	require.NotEmpty(t, f.tel.Reports("warning", report_keeper_ping))

	users, err := f.repo.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, users)
	require.Equal(t, []string{"u1"}, f.store.Resident())
}

func TestStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.service.Login(ctx, "u1", f.provider.Username, f.provider.Password, f.provider.Subdomain)
	require.NoError(t, err)

	cron := &manualCron{}
	require.NoError(t, f.keeper.Start(ctx, cron, ""))
	require.Equal(t, []string{DefaultSpec}, cron.specs)

	cron.callbacks[0]()
	require.Equal(t, 1, f.provider.WeekRequests())
	require.Equal(t, []any{int64(1)}, f.tel.Reports("count", report_keeper_alive)[0].Params)
}

func TestPingAllRepositoryFailure(t *testing.T) {
	provider := edupagetest.NewProvider()
	defer provider.Close()
	ctx := context.Background()
	repo := &flakyRepository{MemoryRepository: snapshots.NewMemoryRepository()}

	cli := newProcess(t, provider, repo)
	err := cli.service.Login(ctx, "u1", provider.Username, provider.Password, provider.Subdomain)
	require.NoError(t, err)

	daemon := newProcess(t, provider, repo)
	repo.loadFailures = 1

	result, err := daemon.keeper.PingAll(ctx)
	require.NoError(t, err)
	require.Equal(t, Result{Failed: 1}, result)
	require.ErrorIs(t, daemon.tel.Reports("warning", report_keeper_ping)[0].Params[0].(error), sessions.ErrSnapshotUnavailable)

	users, err := repo.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, users)

	result, err = daemon.keeper.PingAll(ctx)
	require.NoError(t, err)
	require.Equal(t, Result{Alive: 1}, result)
}

func TestPingAllDoesNotOverwriteNewerLogin(t *testing.T) {
	provider := edupagetest.NewProvider()
	defer provider.Close()
	ctx := context.Background()
	repo := snapshots.NewMemoryRepository()

	cli := newProcess(t, provider, repo)
	daemon := newProcess(t, provider, repo)

	err := cli.service.Login(ctx, "u1", provider.Username, provider.Password, provider.Subdomain)
	require.NoError(t, err)
	first := snapshotCookie(t, repo, "u1")

	result, err := daemon.keeper.PingAll(ctx)
	require.NoError(t, err)
	require.Equal(t, Result{Alive: 1}, result)
	require.Equal(t, first, snapshotCookie(t, repo, "u1"))

	err = cli.service.Login(ctx, "u1", provider.Username, provider.Password, provider.Subdomain)
	require.NoError(t, err)
	second := snapshotCookie(t, repo, "u1")
	require.NotEqual(t, first, second)

	result, err = daemon.keeper.PingAll(ctx)
	require.NoError(t, err)
	require.Equal(t, Result{Alive: 1}, result)
	require.Equal(t, second, snapshotCookie(t, repo, "u1"))
}
