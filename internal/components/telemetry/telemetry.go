package telemetry

import (
	"fmt"
)

// API is what every lunchbox component reports through. Binaries pass a
// SlogAPI and tests a RecorderAPI, so tests can assert on what was reported.
//
// Ids name the component and operation, lowercase, `<component>.<operation>`
// with dashes between words: `client.fetch-week`, `store.rehydrate`,
// `keeper.ping`. Components wrap the API they are given in a ScopedAPI named
// after their package (`edupage_scraper`, `sessions`, `keepalive`), so ids
// never repeat the package. Each package declares its ids as `report_...`
// constants next to the code using them.
type API interface {
	// ReportBroken means the provider or a dependency behaves in a way the code
	// can't handle, like a week page without the expected JSON shape.
	ReportBroken(id string, params ...any)

	// ReportWarning is for failures that are expected to happen sometimes, like
	// a network error, an expired session or an ack that isn't json.
	ReportWarning(id string, params ...any)

	// ReportDebug is only logged in verbose mode.
	ReportDebug(msg string, params ...any)

	// ReportCount records a gauge, ex. resident sessions or sessions kept alive
	// by the last keep-alive round. Values aren't summed.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id with the namespace of a component, the result
// looks like `sessions: store.rehydrate`. Scoping a ScopedAPI again joins the
// namespaces with a slash instead of nesting prefixes.
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	if parent, ok := inner.(ScopedAPI); ok {
		return ScopedAPI{namespace: parent.namespace + "/" + namespace, inner: parent.inner}
	}
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) scoped(id string) string {
	return fmt.Sprintf("%s: %s", s.namespace, id)
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(s.scoped(id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(s.scoped(id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(s.scoped(msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(s.scoped(id), count)
}
