package telemetry

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

// shared by every dumped client so files written to the same dir don't collide
var dumpCounter uint64

var redactedFields = []string{"password", "csrfauth", "gsechash"}

func formatHeaders(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out strings.Builder
	for _, k := range keys {
		for _, v := range headers[k] {
			if strings.EqualFold(k, "cookie") || strings.EqualFold(k, "set-cookie") {
				v = "<redacted>"
			}
			fmt.Fprintf(&out, "%s: %s\n", k, v)
		}
	}
	return strings.TrimSuffix(out.String(), "\n")
}

func formatForm(form url.Values) string {
	redacted := url.Values{}
	for k, vals := range form {
		for _, v := range vals {
			for _, field := range redactedFields {
				if strings.EqualFold(k, field) {
					v = "<redacted>"
				}
			}
			redacted.Add(k, v)
		}
	}
	return redacted.Encode()
}

const messageTemplate = `---- REQUEST ----

%s %s

%s

%s

---- RESPONSE ----

%d %s

%s

%s`

func formatHttpMessage(res *resty.Response) string {
	var requestHeaders string
	if res.Request.RawRequest != nil {
		requestHeaders = formatHeaders(res.Request.RawRequest.Header)
	}
	return fmt.Sprintf(
		messageTemplate,
		res.Request.Method, res.Request.URL,
		requestHeaders,
		formatForm(res.Request.FormData),
		res.StatusCode(), res.Status(),
		formatHeaders(res.Header()),
		res.String(),
	)
}

// DumpResty writes every exchange of the client to a numbered file in `dir`,
// credentials and cookies are redacted. It is meant for debugging breakages
// of scrapers.
func DumpResty(client *resty.Client, dir string) error {
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		return err
	}

	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		id := atomic.AddUint64(&dumpCounter, 1)
		name := fmt.Sprintf("%04d-%s.txt", id, strings.ToLower(res.Request.Method))
		err := os.WriteFile(filepath.Join(dir, name), []byte(formatHttpMessage(res)), 0600)
		if err != nil {
			slog.Warn("failed to write http dump", "file", name, "err", err)
		}
		return nil
	})
	return nil
}
