package fetcher

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent   string
	Timeout     time.Duration
	MaxRetries  int
	RatePerHost float64
	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration
}

// HTTPFetcher implements Fetcher over net/http with retries and a token
// bucket per host.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPFetcher creates an HTTPFetcher, filling unset options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.RatePerHost <= 0 {
		opts.RatePerHost = 5
	}
	if opts.MaxBackoff == 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "proyecto-salud/1.0"
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (f *HTTPFetcher) limiterFor(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		burst := int(math.Max(1, f.opts.RatePerHost))
		lim = rate.NewLimiter(rate.Limit(f.opts.RatePerHost), burst)
		f.limiters[host] = lim
	}
	return lim
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func (f *HTTPFetcher) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	log := zap.L().With(zap.String("component", "fetcher.http"), zap.String("url", req.URL.String()))
	lim := f.limiterFor(req.URL.Host)

	var lastErr error
	for attempt := range f.opts.MaxRetries {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "http: rate limiter wait")
		}

		resp, err := f.client.Do(req.Clone(ctx))
		switch {
		case err != nil:
			lastErr = err
		case retryable(resp.StatusCode):
			_ = resp.Body.Close()
			lastErr = eris.Errorf("http: status %d", resp.StatusCode)
		default:
			return resp, nil
		}

		log.Warn("request failed, retrying", zap.Int("attempt", attempt+1), zap.Error(lastErr))
		if !f.sleep(ctx, attempt) {
			return nil, eris.Wrap(ctx.Err(), "http: retry cancelled")
		}
	}
	return nil, eris.Wrapf(lastErr, "http: %d attempts exhausted", f.opts.MaxRetries)
}

// sleep waits out an exponential backoff with jitter. It returns false if
// ctx ended first.
func (f *HTTPFetcher) sleep(ctx context.Context, attempt int) bool {
	d := time.Duration(float64(250*time.Millisecond) * math.Pow(2, float64(attempt)))
	if d > f.opts.MaxBackoff {
		d = f.opts.MaxBackoff
	}
	if half := int64(d) / 2; half > 0 {
		d += time.Duration(rand.Int64N(half))
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Download fetches the URL and returns the response body. Any status other
// than 200 is an error.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "http: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.do(ctx, req)
	if err != nil {
		return nil, eris.Wrapf(err, "http: download %s", rawURL)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, eris.Errorf("http: unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return resp.Body, nil
}

// DownloadToFile fetches the URL into path.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck
	return writeAtomic(path, body)
}
