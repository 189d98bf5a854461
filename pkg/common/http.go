package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// uaTransport stamps the User-Agent on every outbound request.
type uaTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// the caller's request may be reused, so its headers are left alone
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.next.RoundTrip(req)
}

// UserAgent identifies the service to upstream. The upstream name is
// appended when set, so each API sees which integration is calling.
func UserAgent(upstream string) string {
	ua := "PVForecast/" + strings.TrimSpace(version)
	if upstream != "" {
		ua += " (" + upstream + ")"
	}
	return ua
}

// HTTPClient returns an http.Client for the named upstream.
func HTTPClient(upstream string, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &uaTransport{
			next:      http.DefaultTransport,
			userAgent: UserAgent(upstream),
		},
		Timeout: timeout,
	}
}
