// Package fetch executes HTTP page fetches for the scan pipeline: browser-like
// headers, optional proxy rotation, a process-wide concurrency bound, retries
// with exponential backoff, and response decompression.
package fetch

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/sync/semaphore"

	"github.com/listing-scanner/internal/config"
	"github.com/listing-scanner/internal/logging"
	"github.com/listing-scanner/internal/proxy"
	"github.com/listing-scanner/internal/retry"
)

const maxBodySize = 8 << 20 // 8 MiB, listing pages are far smaller

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
}

// RequestLog is the per-request telemetry record handed to the log sink after
// every fetch, successful or not.
type RequestLog struct {
	URL        string
	Proxy      string
	StatusCode int
	Attempts   int
	Duration   time.Duration
	Error      string
	FetchedAt  time.Time
}

// LogSink receives fetch telemetry. Implementations must not block.
type LogSink func(RequestLog)

// Executor fetches pages with a bounded concurrency budget. All scan targets
// share one executor so the process-wide request bound holds regardless of
// how many targets run in parallel.
type Executor struct {
	sem         *semaphore.Weighted
	proxies     *proxy.Manager
	useProxies  bool
	timeout     time.Duration
	minDelay    time.Duration
	maxDelay    time.Duration
	retryCfg    *retry.Config
	robots      *robotsGate
	logger      *logging.Logger
	sink        LogSink

	mu      sync.Mutex
	clients map[string]*http.Client // keyed by proxy URL, "" = direct
	rng     *rand.Rand
}

// NewExecutor builds an executor from scan and proxy configuration. pm may be
// nil when proxying is disabled.
func NewExecutor(scanCfg config.ScanConfig, proxyCfg config.ProxyConfig, pm *proxy.Manager, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = 3
	retryCfg.InitialDelay = 500 * time.Millisecond
	retryCfg.MaxDelay = 5 * time.Second
	retryCfg.Retryable = IsTransient

	e := &Executor{
		sem:        semaphore.NewWeighted(int64(scanCfg.MaxConcurrentRequests)),
		proxies:    pm,
		useProxies: proxyCfg.Enabled && pm != nil,
		timeout:    scanCfg.HTTPTimeout,
		minDelay:   scanCfg.MinRequestDelay,
		maxDelay:   scanCfg.MaxRequestDelay,
		retryCfg:   retryCfg,
		logger:     logger.WithField("component", "fetch_executor"),
		clients:    make(map[string]*http.Client),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if scanCfg.RespectRobots {
		e.robots = newRobotsGate(e.directClient(), logger)
	}
	return e
}

// SetLogSink installs the telemetry sink. Call before the first Fetch.
func (e *Executor) SetLogSink(sink LogSink) { e.sink = sink }

// Fetch retrieves a page body. It applies a jittered politeness delay, blocks
// while the process-wide concurrency budget is exhausted, and retries
// transient failures. The returned body is already decompressed.
func (e *Executor) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	if e.robots != nil {
		allowed, err := e.robots.Allowed(ctx, pageURL)
		if err != nil {
			e.logger.WithError(err).WithField("url", pageURL).Warn("Robots check failed, proceeding")
		} else if !allowed {
			return nil, fmt.Errorf("%w: %s", ErrRobotsDisallowed, pageURL)
		}
	}

	e.politenessDelay(ctx)

	// Acquired after the delay so sleeping requests do not hold a slot of the
	// process-wide budget.
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.sem.Release(1)

	start := time.Now()
	var body []byte
	var lastStatus int
	var lastProxy string

	result := retry.Do(ctx, e.retryCfg, func(ctx context.Context, attempt int) error {
		proxyURL := ""
		if e.useProxies {
			p, err := e.proxies.Select()
			if err == nil {
				proxyURL = p
			}
			// All proxies excluded: fall back to a direct connection rather
			// than stalling the whole scan.
		}
		lastProxy = proxyURL

		attemptStart := time.Now()
		b, status, err := e.doRequest(ctx, pageURL, proxyURL)
		lastStatus = status
		if err != nil {
			if proxyURL != "" {
				e.proxies.ReportFailure(proxyURL)
			}
			return err
		}
		if proxyURL != "" {
			e.proxies.ReportSuccess(proxyURL, time.Since(attemptStart))
		}
		body = b
		return nil
	})

	rec := RequestLog{
		URL:        pageURL,
		Proxy:      lastProxy,
		StatusCode: lastStatus,
		Attempts:   result.Attempts,
		Duration:   time.Since(start),
		FetchedAt:  start.UTC(),
	}
	if !result.Success {
		rec.Error = errString(result.LastError)
	}
	e.emitLog(rec)

	if !result.Success {
		return nil, result.LastError
	}
	return body, nil
}

// doRequest performs one HTTP attempt through the given proxy ("" = direct).
func (e *Executor) doRequest(ctx context.Context, pageURL, proxyURL string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, 0, &FetchError{URL: pageURL, Err: err}
	}
	e.setBrowserHeaders(req)

	client, err := e.clientFor(proxyURL)
	if err != nil {
		return nil, 0, &FetchError{URL: pageURL, Err: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, &FetchError{URL: pageURL, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, resp.StatusCode, &FetchError{URL: pageURL, StatusCode: resp.StatusCode, Transient: transient}
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, resp.StatusCode, &FetchError{URL: pageURL, Transient: true, Err: err}
	}
	return body, resp.StatusCode, nil
}

// readBody decompresses the response body according to Content-Encoding.
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	}
	return io.ReadAll(io.LimitReader(reader, maxBodySize))
}

func (e *Executor) setBrowserHeaders(req *http.Request) {
	e.mu.Lock()
	ua := userAgents[e.rng.Intn(len(userAgents))]
	e.mu.Unlock()

	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,nl;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, br")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

// clientFor returns the cached client for a proxy URL, building it on first
// use. Transports are cached so connection pools survive across requests.
func (e *Executor) clientFor(proxyURL string) (*http.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.clients[proxyURL]; ok {
		return c, nil
	}

	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
		// Compression is negotiated and decoded by readBody.
		DisableCompression: true,
	}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", proxyURL, err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}

	c := &http.Client{Transport: transport, Timeout: e.timeout}
	e.clients[proxyURL] = c
	return c, nil
}

func (e *Executor) directClient() *http.Client {
	c, _ := e.clientFor("")
	return c
}

// politenessDelay sleeps a random duration between the configured bounds,
// mimicking human browsing pace. Returns early on context cancellation.
func (e *Executor) politenessDelay(ctx context.Context) {
	if e.maxDelay <= 0 {
		return
	}
	d := e.minDelay
	if span := e.maxDelay - e.minDelay; span > 0 {
		e.mu.Lock()
		d += time.Duration(e.rng.Int63n(int64(span)))
		e.mu.Unlock()
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func (e *Executor) emitLog(rec RequestLog) {
	if e.sink != nil {
		e.sink(rec)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
