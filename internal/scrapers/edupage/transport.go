package edupage

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"lunchbox-backend/internal/components/telemetry"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// transport owns the cookie jar of a single provider session, every request
// of a Client goes through it.
type transport struct {
	http            *resty.Client
	jar             http.CookieJar
	baseUrlTemplate string
}

func newTransport(baseUrlTemplate string, timeout time.Duration, requestsPerSecond float64, dumpDir string, tel telemetry.API) (*transport, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetCookieJar(jar)
	client.SetHeader("user-agent", userAgent)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	client.SetTimeout(timeout)

	// max burst >= 2 just means that no requests will be dropped
	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), 2)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(client, "scrapers/edupage/http", tel)
	if dumpDir != "" {
		err = telemetry.DumpResty(client, dumpDir)
		if err != nil {
			return nil, err
		}
	}

	return &transport{
		http:            client,
		jar:             jar,
		baseUrlTemplate: baseUrlTemplate,
	}, nil
}

func (t *transport) baseUrl(subdomain string) string {
	return strings.TrimRight(strings.ReplaceAll(t.baseUrlTemplate, "{subdomain}", subdomain), "/")
}

func (t *transport) endpoint(subdomain, path string) string {
	return t.baseUrl(subdomain) + path
}

func (t *transport) cookies(subdomain string) []*http.Cookie {
	u, err := url.Parse(t.baseUrl(subdomain) + "/")
	if err != nil {
		return nil
	}
	return t.jar.Cookies(u)
}

func (t *transport) setCookies(subdomain string, cookies []*http.Cookie) error {
	u, err := url.Parse(t.baseUrl(subdomain) + "/")
	if err != nil {
		return err
	}
	restored := make([]*http.Cookie, len(cookies))
	for i, c := range cookies {
		copied := *c
		if copied.Path == "" {
			copied.Path = "/"
		}
		restored[i] = &copied
	}
	t.jar.SetCookies(u, restored)
	return nil
}

func (t *transport) checkResponse(op string, res *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	if res.StatusCode() >= 500 {
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("provider responded %s", res.Status())}
	}
	return res, nil
}

func (t *transport) get(ctx context.Context, subdomain, path string) (*resty.Response, error) {
	res, err := t.http.R().
		SetContext(ctx).
		Get(t.endpoint(subdomain, path))
	return t.checkResponse("GET "+path, res, err)
}

func (t *transport) postForm(ctx context.Context, subdomain, path string, form map[string]string) (*resty.Response, error) {
	res, err := t.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(t.endpoint(subdomain, path))
	return t.checkResponse("POST "+path, res, err)
}

// finalUrl is the url of the last request made after following redirects.
func finalUrl(res *resty.Response) string {
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		return res.RawResponse.Request.URL.String()
	}
	return res.Request.URL
}
