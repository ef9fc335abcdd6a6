// Package edupage scrapes the meal ordering part of edupage, which has no api:
// logging in is done through the html login form, meal data is JSON embedded in
// the week view page and ordering is a form POST answered with an ad-hoc ack.
package edupage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"lunchbox-backend/internal/components/assert"
	"lunchbox-backend/internal/components/chrono"
	"lunchbox-backend/internal/components/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/edupage")

const (
	report_client_login      = "client.login"
	report_client_fetch_week = "client.fetch-week"
	report_client_order      = "client.order"
	report_client_restore    = "client.restore"
)

const (
	DefaultBaseUrl = "https://{subdomain}.edupage.org"
	DefaultTimeout = 5 * time.Second

	weekDataMarker = "edupageData: "
)

type ClientOptions struct {
	// BaseUrl is the provider url, `{subdomain}` is replaced with the school's subdomain.
	BaseUrl string
	// Timeout applies to every request, it is set once and never changed.
	Timeout           time.Duration
	RequestsPerSecond float64
	// DumpDir enables writing every http exchange to this directory.
	DumpDir string
	Time    chrono.TimeAPI
	Tel     telemetry.API
}

// SessionState is everything that identifies a provider session.
type SessionState struct {
	Subdomain string
	Username  string
	GsecHash  string
	Cookies   []*http.Cookie
	// IsLoggedIn implies Subdomain and Cookies are not empty.
	IsLoggedIn bool
}

// Client is a single user's session with the provider, all its methods are
// serialized so one user's session state is never mutated concurrently.
type Client struct {
	mutex sync.Mutex
	http  *transport
	time  chrono.TimeAPI
	tel   telemetry.API

	subdomain  string
	username   string
	gsecHash   string
	isLoggedIn bool
	userHome   json.RawMessage
}

func NewClient(opts ClientOptions) (*Client, error) {
	assert.NotNil(opts.Time)
	assert.NotNil(opts.Tel)

	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 2
	}

	tel := telemetry.NewScopedAPI("edupage_scraper", opts.Tel)
	httpTransport, err := newTransport(opts.BaseUrl, opts.Timeout, opts.RequestsPerSecond, opts.DumpDir, tel)
	if err != nil {
		return nil, err
	}

	return &Client{
		http: httpTransport,
		time: opts.Time,
		tel:  tel,
	}, nil
}

func (c *Client) IsLoggedIn() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.isLoggedIn
}

// State returns a copy of the session, including the cookies currently in the jar.
func (c *Client) State() SessionState {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	state := SessionState{
		Subdomain:  c.subdomain,
		Username:   c.username,
		GsecHash:   c.gsecHash,
		IsLoggedIn: c.isLoggedIn,
	}
	if c.subdomain != "" {
		state.Cookies = c.http.cookies(c.subdomain)
	}
	return state
}

// Restore installs a previously captured session and trusts it without
// contacting the provider, whether it still works is discovered on the next call.
func (c *Client) Restore(state SessionState) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if state.Subdomain == "" || len(state.Cookies) == 0 {
		err := fmt.Errorf("cannot restore a session without subdomain and cookies")
		c.tel.ReportWarning(report_client_restore, err)
		return err
	}
	err := c.http.setCookies(state.Subdomain, state.Cookies)
	if err != nil {
		c.tel.ReportWarning(report_client_restore, err)
		return err
	}

	c.subdomain = state.Subdomain
	c.username = state.Username
	c.gsecHash = state.GsecHash
	c.isLoggedIn = true
	return nil
}

var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

type rawBoarderInfo struct {
	BoarderId looseString `json:"stravnikid"`
}

// FetchWeek returns the main meal of every day in the week view that contains
// `date`, keyed by YYYY-MM-DD. Days where the kitchen doesn't cook are absent.
func (c *Client) FetchWeek(ctx context.Context, date time.Time) (map[string]MealRecord, error) {
	ctx, span := tracer.Start(ctx, "client:FetchWeek")
	defer span.End()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	meals, err := c.fetchWeek(ctx, date)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch week")
		return nil, err
	}
	span.SetAttributes(attribute.Int("custom.days", len(meals)))
	return meals, nil
}

func (c *Client) fetchWeek(ctx context.Context, date time.Time) (map[string]MealRecord, error) {
	if !c.isLoggedIn {
		return nil, ErrNotLoggedIn
	}

	res, err := c.http.get(ctx, c.subdomain, "/menu/?date="+date.Format("20060102"))
	if err != nil {
		c.tel.ReportWarning(report_client_fetch_week, err)
		return nil, err
	}

	payload, err := ExtractJSON(res.String(), weekDataMarker)
	if errors.Is(err, ErrMarkerNotFound) {
		c.tel.ReportWarning(report_client_fetch_week, fmt.Errorf("no embedded data, session likely expired: %w", err))
		return nil, fmt.Errorf("%w: week view has no embedded data", ErrSessionExpired)
	}
	if err != nil {
		c.tel.ReportBroken(report_client_fetch_week, err)
		return nil, err
	}

	meals, err := c.parseWeek(payload)
	if err != nil {
		if !errors.Is(err, ErrSessionExpired) {
			c.tel.ReportBroken(report_client_fetch_week, err)
		}
		return nil, err
	}
	c.tel.ReportCount(report_client_fetch_week, int64(len(meals)))
	return meals, nil
}

func (c *Client) parseWeek(payload []byte) (map[string]MealRecord, error) {
	var schools map[string]json.RawMessage
	err := json.Unmarshal(payload, &schools)
	if err != nil {
		return nil, protocolError("decode week data", "", err)
	}

	school, ok := schools[c.subdomain]
	if !ok {
		return nil, fmt.Errorf("%w: week data has no entry for %q", ErrSessionExpired, c.subdomain)
	}

	var schoolData struct {
		Menu map[string]json.RawMessage `json:"novyListok"`
	}
	err = json.Unmarshal(school, &schoolData)
	if err != nil {
		return nil, protocolError("decode school data", "", err)
	}

	var info rawBoarderInfo
	addInfo, ok := schoolData.Menu["addInfo"]
	if ok {
		err = json.Unmarshal(addInfo, &info)
		if err != nil {
			return nil, protocolError("decode boarder info", "", err)
		}
	}
	boarderId := string(info.BoarderId)
	if boarderId == "" {
		return nil, fmt.Errorf("%w: week data has no boarder id", ErrSessionExpired)
	}

	meals := map[string]MealRecord{}
	for key, value := range schoolData.Menu {
		if !isoDate.MatchString(key) {
			continue
		}
		if _, err := time.Parse("2006-01-02", key); err != nil {
			continue
		}

		var slots map[string]json.RawMessage
		err := json.Unmarshal(value, &slots)
		if err != nil {
			// days without any slot are encoded as an empty list
			var empty []any
			if json.Unmarshal(value, &empty) == nil && len(empty) == 0 {
				continue
			}
			return nil, protocolError(fmt.Sprintf("decode day %s", key), "", err)
		}

		rawMain, ok := slots[MainSlot]
		if !ok {
			continue
		}
		var slot RawSlot
		err = json.Unmarshal(rawMain, &slot)
		if err != nil {
			return nil, protocolError(fmt.Sprintf("decode day %s slot %s", key, MainSlot), "", err)
		}

		record, cooking := ParseMeal(slot, boarderId, key, MainSlot, c.time.Location())
		if !cooking {
			continue
		}
		if slot.ChangeUntil != "" && record.CanChangeUntil == nil {
			c.tel.ReportWarning(
				report_client_fetch_week,
				fmt.Errorf("unparseable change deadline %q on %s", slot.ChangeUntil, key),
			)
		}
		meals[key] = record
	}

	return meals, nil
}

// Order chooses `letter` for the meal.
func (c *Client) Order(ctx context.Context, record MealRecord, letter Letter) (Ack, error) {
	if letter.OptionNumber() == 0 {
		return Ack{}, fmt.Errorf("invalid meal letter %q", letter)
	}
	return c.changeMeal(ctx, record, string(letter))
}

// OrderOption chooses the 1-based menu option `n` for the meal.
func (c *Client) OrderOption(ctx context.Context, record MealRecord, n int) (Ack, error) {
	letter, err := LetterFromOption(n)
	if err != nil {
		return Ack{}, err
	}
	return c.changeMeal(ctx, record, string(letter))
}

// Cancel explicitly signs the user off the meal.
func (c *Client) Cancel(ctx context.Context, record MealRecord) (Ack, error) {
	return c.changeMeal(ctx, record, CancelChoice)
}

func (c *Client) changeMeal(ctx context.Context, record MealRecord, choice string) (Ack, error) {
	ctx, span := tracer.Start(ctx, "client:ChangeMeal")
	defer span.End()
	span.SetAttributes(
		attribute.String("custom.date", record.Date),
		attribute.String("custom.choice", choice),
	)

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.isLoggedIn {
		return Ack{}, ErrNotLoggedIn
	}
	if c.gsecHash == "" {
		c.tel.ReportWarning(report_client_order, "no gsechash, changing meals may be refused")
	}

	form, err := buildMutation(record, choice, c.gsecHash)
	if err != nil {
		span.SetStatus(codes.Error, "failed to build mutation")
		return Ack{}, err
	}

	res, err := c.http.postForm(ctx, c.subdomain, "/menu/", form)
	if err != nil {
		c.tel.ReportWarning(report_client_order, err)
		span.SetStatus(codes.Error, "failed to post mutation")
		return Ack{}, err
	}

	ack, err := interpretAck(res.Body(), record, choice)
	if err != nil {
		c.tel.ReportWarning(report_client_order, err)
		span.SetStatus(codes.Error, "provider refused mutation")
		return Ack{}, err
	}
	if !ack.Confirmed && strings.Contains(res.String(), csrfMarker) {
		c.tel.ReportWarning(report_client_order, "ack is the login page, session likely expired", record.Date)
		return Ack{}, fmt.Errorf("%w: mutation answered with the login page", ErrSessionExpired)
	}
	if !ack.Confirmed {
		c.tel.ReportWarning(
			report_client_order,
			"ack is not json, assuming success",
			record.Date,
			res.Header().Get("content-type"),
		)
	}
	return ack, nil
}

// Ping fetches the current week and discards it, it is the cheapest call that
// tells whether the session is still valid.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.FetchWeek(ctx, c.time.Now())
	return err
}
