package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/listing-scanner/internal/logging"
)

const robotsCacheTTL = time.Hour

type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// robotsGate answers robots.txt allow/deny questions with a per-host cache.
// A host whose robots.txt cannot be fetched is treated as fully allowed,
// matching the usual crawler convention for 4xx/unreachable robots files.
type robotsGate struct {
	client *http.Client
	logger *logging.Logger

	mu    sync.Mutex
	cache map[string]robotsEntry
}

func newRobotsGate(client *http.Client, logger *logging.Logger) *robotsGate {
	return &robotsGate{
		client: client,
		logger: logger.WithField("component", "robots_gate"),
		cache:  make(map[string]robotsEntry),
	}
}

// Allowed reports whether pageURL may be fetched per the host's robots.txt.
func (g *robotsGate) Allowed(ctx context.Context, pageURL string) (bool, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return false, fmt.Errorf("robots: parse url: %w", err)
	}

	data, err := g.dataFor(ctx, u)
	if err != nil {
		return false, err
	}
	if data == nil {
		return true, nil
	}
	return data.TestAgent(u.Path, "listing-scanner"), nil
}

func (g *robotsGate) dataFor(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	host := u.Scheme + "://" + u.Host

	g.mu.Lock()
	entry, ok := g.cache[host]
	g.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < robotsCacheTTL {
		return entry.data, nil
	}

	data, err := g.fetch(ctx, host+"/robots.txt")
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.cache[host] = robotsEntry{data: data, fetchedAt: time.Now()}
	g.mu.Unlock()
	return data, nil
}

// fetch retrieves and parses one robots.txt. A nil result with nil error
// means no enforceable robots file exists.
func (g *robotsGate) fetch(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.WithError(err).WithField("url", robotsURL).Debug("robots.txt unreachable, allowing all")
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		g.logger.WithError(err).WithField("url", robotsURL).Debug("robots.txt unparseable, allowing all")
		return nil, nil
	}
	return data, nil
}
