package edupage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// PlaceholderSubdomain is used when the user doesn't know their school's
	// subdomain, the real one is recovered from the login response.
	PlaceholderSubdomain = "login1"

	csrfMarker           = `"csrftoken":"`
	badCredentialsMarker = "bad=1"
	subdomainMarker      = "-->"
	userHomeMarker       = "userhome("
	gsecHashMarker       = `ASC.gsechash="`
)

// findCsrfToken looks for the anti-forgery token in inline scripts first and
// then in the whole page.
func findCsrfToken(page []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err == nil {
		var token string
		doc.Find("script").EachWithBreak(func(_ int, script *goquery.Selection) bool {
			found, err := ExtractDelimited(script.Text(), csrfMarker, `"`)
			if err != nil || found == "" {
				return true
			}
			token = found
			return false
		})
		if token != "" {
			return token, nil
		}
	}

	token, err := ExtractDelimited(string(page), csrfMarker, `"`)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", protocolError("extract csrf token", heuristicDelimiter, errors.New("empty token"))
	}
	return token, nil
}

// resolveSubdomain reads the school's subdomain from the comment at the top of
// the login response, it is the last word before the first `-->`.
func resolveSubdomain(page string) (string, error) {
	idx := strings.Index(page, subdomainMarker)
	if idx < 0 {
		return "", protocolError("resolve subdomain", heuristicMarker, ErrMarkerNotFound)
	}
	words := strings.Fields(page[:idx])
	if len(words) == 0 {
		return "", protocolError("resolve subdomain", heuristicDelimiter, errors.New("no subdomain before marker"))
	}
	return words[len(words)-1], nil
}

// Login performs the login handshake. A nil error with IsLoggedIn() == false
// means the provider accepted the credentials but the response could not be
// recognized as a logged in page, callers must check IsLoggedIn.
func (c *Client) Login(ctx context.Context, username, password, subdomain string) error {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()
	span.SetAttributes(attribute.String("custom.subdomain", subdomain))

	c.mutex.Lock()
	defer c.mutex.Unlock()

	err := c.login(ctx, username, password, subdomain)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to login")
		return err
	}
	return nil
}

func (c *Client) login(ctx context.Context, username, password, subdomain string) error {
	c.isLoggedIn = false
	c.userHome = nil
	c.gsecHash = ""

	res, err := c.http.get(ctx, subdomain, "/login/?cmd=MainLogin")
	if err != nil {
		c.tel.ReportWarning(report_client_login, fmt.Errorf("login page: %w", err))
		return err
	}
	if res.StatusCode() != 200 {
		err := protocolError("login page", "", fmt.Errorf("unexpected status %s", res.Status()))
		c.tel.ReportBroken(report_client_login, err)
		return err
	}

	token, err := findCsrfToken(res.Body())
	if err != nil {
		c.tel.ReportBroken(report_client_login, fmt.Errorf("csrf token: %w", err))
		return err
	}

	res, err = c.http.postForm(ctx, subdomain, "/login/edubarLogin.php", map[string]string{
		"csrfauth": token,
		"username": username,
		"password": password,
	})
	if err != nil {
		c.tel.ReportWarning(report_client_login, fmt.Errorf("submit credentials: %w", err))
		return err
	}
	if strings.Contains(finalUrl(res), badCredentialsMarker) {
		return ErrBadCredentials
	}

	page := res.String()
	if subdomain == PlaceholderSubdomain {
		subdomain, err = resolveSubdomain(page)
		if err != nil {
			c.tel.ReportBroken(report_client_login, err)
			return err
		}
	}

	c.subdomain = subdomain
	c.username = username

	userHome, err := ExtractCall(page, userHomeMarker)
	if err != nil {
		c.tel.ReportWarning(report_client_login, fmt.Errorf("not fully authenticated: %w", err))
	} else {
		c.userHome = json.RawMessage(userHome)
		c.isLoggedIn = true
	}

	gsecHash, err := ExtractDelimited(page, gsecHashMarker, `"`)
	if err != nil || gsecHash == "" {
		c.tel.ReportWarning(report_client_login, "no gsechash, order and cancel are degraded", err)
	} else {
		c.gsecHash = gsecHash
	}

	if c.isLoggedIn && len(c.http.cookies(c.subdomain)) == 0 {
		c.tel.ReportWarning(report_client_login, "login response set no cookies")
		c.isLoggedIn = false
	}
	return nil
}

// UserHome is the account object embedded in the page after logging in, it
// is not part of a restored session.
func (c *Client) UserHome() json.RawMessage {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.userHome
}
