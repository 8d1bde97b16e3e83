package channel

import (
	"fmt"
	"net/url"
)

// NotificationsPath is where the backend serves the push endpoint.
const NotificationsPath = "/ws/notifications/"

// Endpoint derives the push URL from the REST base URL: same host, http
// swapped for ws and https for wss, fixed notifications path. The token is
// attached as a query parameter when non-empty.
func Endpoint(apiBaseURL, token string) (string, error) {
	u, err := url.Parse(apiBaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid api base url: %w", err)
	}

	scheme := ""
	switch u.Scheme {
	case "https", "wss":
		scheme = "wss"
	case "http", "ws":
		scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported api base url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("api base url %q has no host", apiBaseURL)
	}

	endpoint := url.URL{Scheme: scheme, Host: u.Host, Path: NotificationsPath}
	return withToken(endpoint, token), nil
}

// OverrideEndpoint attaches the token to an explicitly configured push URL.
func OverrideEndpoint(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid channel url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("channel url must use ws or wss, got %q", u.Scheme)
	}
	return withToken(*u, token), nil
}

func withToken(u url.URL, token string) string {
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String()
}
