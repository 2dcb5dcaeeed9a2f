package githubapi

import (
	"net/http"

	"golang.org/x/time/rate"
)

// throttledTransport waits on a shared limiter before every outbound request
// so concurrent commit lookups stay under the API's secondary rate limits.
type throttledTransport struct {
	limiter *rate.Limiter
	next    http.RoundTripper
}

func newThrottledTransport(requestsPerSecond float64, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	if requestsPerSecond <= 0 {
		return next
	}
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &throttledTransport{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst), next: next}
}

func (t *throttledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}
