package provider

import (
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"time"

	"golang.org/x/net/publicsuffix"
)

// DefaultTimeout bounds every metadata request.
const DefaultTimeout = 30 * time.Second

// maxBodySize caps how much of a provider response is read.
const maxBodySize = 4 << 20

// UserAgent is sent on every provider request. Several platforms reject
// requests without a browser-like agent.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// NewHTTPClient returns a client with a cookie jar scoped by the public
// suffix list, so session cookies set by one platform never leak to another.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &http.Client{Timeout: timeout, Jar: jar}
}

// ReadResponse maps the HTTP status of resp onto the provider error kinds
// and returns the (size-limited) body on success. It closes the body.
func ReadResponse(name ProviderName, id string, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusOK:
		// continue
	case resp.StatusCode == http.StatusNotFound:
		return nil, &ErrNotFound{Provider: name, ID: id}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &ErrRateLimited{
			Provider:   name,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Cause:      fmt.Errorf("rate limited by server"),
		}
	case resp.StatusCode >= 500:
		return nil, &ErrNetwork{
			Provider:   name,
			StatusCode: resp.StatusCode,
			Cause:      fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	default:
		return nil, &ErrUpstream{Provider: name, Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &ErrNetwork{Provider: name, Cause: fmt.Errorf("reading body: %w", err)}
	}
	return body, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}
