package edupage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lunchbox-backend/internal/components/chrono"
	"lunchbox-backend/internal/components/telemetry"
	"lunchbox-backend/internal/scrapers/edupage/edupagetest"

	"github.com/stretchr/testify/require"
)

var monday = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func newTestClient(t testing.TB, baseUrl string) (*Client, *telemetry.RecorderAPI) {
	tel := telemetry.NewRecorderAPI()
	client, err := NewClient(ClientOptions{
		BaseUrl:           baseUrl,
		Timeout:           2 * time.Second,
		RequestsPerSecond: 1000,
		Time:              chrono.NewManualTime(monday),
		Tel:               tel,
	})
	require.NoError(t, err)
	return client, tel
}

func loggedInClient(t testing.TB, provider *edupagetest.Provider) (*Client, *telemetry.RecorderAPI) {
	client, tel := newTestClient(t, provider.URL())
	err := client.Login(context.Background(), provider.Username, provider.Password, provider.Subdomain)
	require.NoError(t, err)
	require.True(t, client.IsLoggedIn())
	return client, tel
}

func TestLogin(t *testing.T) {
	provider := edupagetest.NewProvider()
	defer provider.Close()

	client, tel := loggedInClient(t, provider)

	state := client.State()
	require.Equal(t, "myschool", state.Subdomain)
	require.Equal(t, "student", state.Username)
	require.Equal(t, "9f8e7d", state.GsecHash)
	require.True(t, state.IsLoggedIn)
	require.NotEmpty(t, state.Cookies)
	require.JSONEq(t, `{"userid":"Student12345","edupage":"myschool"}`, string(client.UserHome()))
	require.Empty(t, tel.Reports("warning", report_client_login))
}

func TestLoginPlaceholderSubdomain(t *testing.T) {
	provider := edupagetest.NewProvider()
	defer provider.Close()

	client, _ := newTestClient(t, provider.URL())
	err := client.Login(context.Background(), provider.Username, provider.Password, PlaceholderSubdomain)
	require.NoError(t, err)
	require.True(t, client.IsLoggedIn())
	require.Equal(t, "myschool", client.State().Subdomain)
}

func TestLoginBadCredentials(t *testing.T) {
	provider := edupagetest.NewProvider()
	defer provider.Close()

	client, _ := newTestClient(t, provider.URL())
	err := client.Login(context.Background(), provider.Username, "wrong", provider.Subdomain)
	require.ErrorIs(t, err, ErrBadCredentials)
	require.False(t, client.IsLoggedIn())

	_, err = client.FetchWeek(context.Background(), monday)
	require.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestLoginMissingCsrfToken(t *testing.T) {
	provider := edupagetest.NewProvider()
	defer provider.Close()
	provider.OmitCsrfToken = true

	client, tel := newTestClient(t, provider.URL())
	err := client.Login(context.Background(), provider.Username, provider.Password, provider.Subdomain)
	require.ErrorIs(t, err, ErrProviderProtocol)
	require.False(t, client.IsLoggedIn())
	require.NotEmpty(t, tel.Reports("broken", report_client_login))
}

func TestLoginDegraded(t *testing.T) {
	provider := edupagetest.NewProvider()
	defer provider.Close()
	provider.GsecHash = ""

	client, tel := loggedInClient(t, provider)
	require.Empty(t, client.State().GsecHash)
	require.NotEmpty(t, tel.Reports("warning", report_client_login))

	provider.OmitUserHome = true
	client, tel = newTestClient(t, provider.URL())
	err := client.Login(context.Background(), provider.Username, provider.Password, provider.Subdomain)
	require.NoError(t, err)
	require.False(t, client.IsLoggedIn())
	require.NotEmpty(t, tel.Reports("warning", report_client_login))
}

func TestFetchWeek(t *testing.T) {
	provider := edupagetest.NewProvider()
	defer provider.Close()
	provider.ClosedDays["2026-01-07"] = true
	provider.SetChoice("2026-01-06", "B")
	provider.SetChoice("2026-01-08", "F")
	provider.SetChoice("2026-01-09", CancelChoice)

	client, tel := loggedInClient(t, provider)

	meals, err := client.FetchWeek(context.Background(), monday.AddDate(0, 0, 2))
	require.NoError(t, err)

	// weekend days are empty lists and wednesday isn't cooked
	require.Len(t, meals, 4)
	require.NotContains(t, meals, "2026-01-07")
	require.NotContains(t, meals, "2026-01-10")

	require.Nil(t, meals["2026-01-05"].OrderedChoice)
	require.Equal(t, letterPtr("B"), meals["2026-01-06"].OrderedChoice)
	require.Equal(t, letterPtr("F"), meals["2026-01-08"].OrderedChoice)
	require.Nil(t, meals["2026-01-09"].OrderedChoice)

	tuesday := meals["2026-01-06"]
	require.Equal(t, "12345", tuesday.BoarderId)
	require.Equal(t, MainSlot, tuesday.SlotId)
	require.Equal(t, []MenuOption{
		{Name: "Chicken soup"},
		{Name: "Goulash 2026-01-06", Number: "1"},
		{Name: "Pasta 2026-01-06", Number: "2"},
	}, tuesday.MenuOptions)
	require.True(t, tuesday.IsOrdered(tuesday.MenuOptions[2]))
	require.NotNil(t, tuesday.CanChangeUntil)
	require.True(t, tuesday.CanChangeUntil.Equal(time.Date(2026, 1, 6, 8, 0, 0, 0, time.UTC)))

	require.Equal(t, []any{int64(4)}, tel.Reports("count", report_client_fetch_week)[0].Params)
}

func TestFetchWeekExpired(t *testing.T) {
	provider := edupagetest.NewProvider()
	defer provider.Close()

	client, _ := loggedInClient(t, provider)
	provider.ExpireSessions()

	_, err := client.FetchWeek(context.Background(), monday)
	require.ErrorIs(t, err, ErrSessionExpired)
	require.NotErrorIs(t, err, ErrNetwork)

	err = client.Ping(context.Background())
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestFetchWeekOtherSchool(t *testing.T) {
	provider := edupagetest.NewProvider()
	defer provider.Close()

	client, _ := loggedInClient(t, provider)
	provider.Subdomain = "otherschool"

	_, err := client.FetchWeek(context.Background(), monday)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestFetchWeekNetworkFailure(t *testing.T) {
	provider := edupagetest.NewProvider()
	client, _ := loggedInClient(t, provider)
	provider.Close()

	_, err := client.FetchWeek(context.Background(), monday)
	require.ErrorIs(t, err, ErrNetwork)
	require.NotErrorIs(t, err, ErrSessionExpired)
	require.True(t, client.IsLoggedIn())
}

func TestOrderRoundTrip(t *testing.T) {
	provider := edupagetest.NewProvider()
	defer provider.Close()

	client, _ := loggedInClient(t, provider)
	ctx := context.Background()

	for _, letter := range []Letter{"A", "B", "C", "D", "E", "F", "G", "H"} {
		t.Run(string(letter), func(t *testing.T) {
			meals, err := client.FetchWeek(ctx, monday)
			require.NoError(t, err)

			ack, err := client.Order(ctx, meals["2026-01-08"], letter)
			require.NoError(t, err)
			require.True(t, ack.Confirmed)
			require.Equal(t, Ack{Date: "2026-01-08", Choice: string(letter), Confirmed: true}, ack)

			meals, err = client.FetchWeek(ctx, monday)
			require.NoError(t, err)
			require.Equal(t, letterPtr(letter), meals["2026-01-08"].OrderedChoice)
		})
	}

	mutations := provider.Mutations()
	require.Len(t, mutations, 8)
	require.Equal(t, edupagetest.Mutation{
		BoarderId: "12345",
		Date:      "2026-01-08",
		Slot:      "2",
		Choice:    "A",
		GsecHash:  "9f8e7d",
	}, mutations[0])
}

func TestOrderOptionAndCancel(t *testing.T) {
	provider := edupagetest.NewProvider()
	defer provider.Close()

	client, _ := loggedInClient(t, provider)
	ctx := context.Background()

	meals, err := client.FetchWeek(ctx, monday)
	require.NoError(t, err)

	_, err = client.OrderOption(ctx, meals["2026-01-05"], 2)
	require.NoError(t, err)
	meals, err = client.FetchWeek(ctx, monday)
	require.NoError(t, err)
	require.Equal(t, 2, meals["2026-01-05"].OrderedOption())

	ack, err := client.Cancel(ctx, meals["2026-01-05"])
	require.NoError(t, err)
	require.Equal(t, CancelChoice, ack.Choice)
	meals, err = client.FetchWeek(ctx, monday)
	require.NoError(t, err)
	require.Nil(t, meals["2026-01-05"].OrderedChoice)

	_, err = client.OrderOption(ctx, meals["2026-01-05"], 9)
	require.Error(t, err)
	_, err = client.Order(ctx, meals["2026-01-05"], "X")
	require.Error(t, err)
	require.Len(t, provider.Mutations(), 2)
}

func TestOrderRejected(t *testing.T) {
	provider := edupagetest.NewProvider()
	defer provider.Close()

	client, tel := loggedInClient(t, provider)
	ctx := context.Background()

	meals, err := client.FetchWeek(ctx, monday)
	require.NoError(t, err)

	provider.RejectOrders = "Objednávanie je už uzavreté"
	_, err = client.Order(ctx, meals["2026-01-06"], "A")
	require.ErrorIs(t, err, ErrFailedToChangeMeal)

	var changeErr *ChangeMealError
	require.True(t, errors.As(err, &changeErr))
	require.Equal(t, "Objednávanie je už uzavreté", changeErr.Message)
	require.NotEmpty(t, tel.Reports("warning", report_client_order))
}

func TestOrderUnconfirmed(t *testing.T) {
	provider := edupagetest.NewProvider()
	defer provider.Close()

	client, tel := loggedInClient(t, provider)
	ctx := context.Background()

	meals, err := client.FetchWeek(ctx, monday)
	require.NoError(t, err)

	provider.PlainAck = true
	ack, err := client.Order(ctx, meals["2026-01-06"], "C")
	require.NoError(t, err)
	require.False(t, ack.Confirmed)
	require.NotEmpty(t, tel.Reports("warning", report_client_order))
}

func TestOrderExpired(t *testing.T) {
	provider := edupagetest.NewProvider()
	defer provider.Close()

	client, _ := loggedInClient(t, provider)
	ctx := context.Background()

	meals, err := client.FetchWeek(ctx, monday)
	require.NoError(t, err)

	provider.ExpireSessions()
	_, err = client.Order(ctx, meals["2026-01-06"], "C")
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Empty(t, provider.Mutations())
}

func TestRestore(t *testing.T) {
	provider := edupagetest.NewProvider()
	defer provider.Close()

	original, _ := loggedInClient(t, provider)
	state := original.State()

	restored, _ := newTestClient(t, provider.URL())
	require.NoError(t, restored.Restore(state))
	require.True(t, restored.IsLoggedIn())
	require.Nil(t, restored.UserHome())

	meals, err := restored.FetchWeek(context.Background(), monday)
	require.NoError(t, err)
	require.Len(t, meals, 5)

	_, err = restored.Order(context.Background(), meals["2026-01-05"], "D")
	require.NoError(t, err)
	require.Equal(t, "9f8e7d", provider.Mutations()[0].GsecHash)

	empty, tel := newTestClient(t, provider.URL())
	require.Error(t, empty.Restore(SessionState{Subdomain: "myschool"}))
	require.False(t, empty.IsLoggedIn())
	require.NotEmpty(t, tel.Reports("warning", report_client_restore))
}

func TestDumpDir(t *testing.T) {
	provider := edupagetest.NewProvider()
	defer provider.Close()

	dir := t.TempDir()
	client, err := NewClient(ClientOptions{
		BaseUrl:           provider.URL(),
		RequestsPerSecond: 1000,
		DumpDir:           dir,
		Time:              chrono.NewManualTime(monday),
		Tel:               telemetry.NewRecorderAPI(),
	})
	require.NoError(t, err)
	require.NoError(t, client.Login(context.Background(), provider.Username, provider.Password, provider.Subdomain))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	for _, entry := range entries {
		contents, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		require.NoError(t, err)
		require.NotContains(t, string(contents), provider.Password)
		require.NotContains(t, string(contents), "session-1")
		require.Contains(t, string(contents), "---- RESPONSE ----")
	}
}
