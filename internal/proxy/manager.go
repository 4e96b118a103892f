// Package proxy manages the outbound proxy pool: selection according to a
// rotation strategy, health accounting, and exclusion of proxies that keep
// failing.
package proxy

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/listing-scanner/internal/logging"
)

// Strategy names accepted by NewManager.
const (
	StrategyRoundRobin = "round_robin"
	StrategyRandom     = "random"
	StrategyFallback   = "fallback"
)

// ErrNoProxy is returned by Select when every configured proxy is currently
// excluded. Callers decide whether to fall back to a direct connection.
var ErrNoProxy = fmt.Errorf("proxy: no healthy proxy available")

type proxyState struct {
	url                 string
	consecutiveFailures int
	excluded            bool
	totalSuccesses      int64
	totalFailures       int64
	lastLatency         time.Duration
	lastUsed            time.Time
	lastFailure         time.Time
}

// Manager hands out proxy URLs and tracks per-proxy health. A proxy that
// accumulates maxFailures consecutive failures is excluded from selection
// until a success is reported for it.
type Manager struct {
	mu          sync.Mutex
	proxies     []*proxyState
	byURL       map[string]*proxyState
	strategy    string
	maxFailures int
	cursor      int
	rng         *rand.Rand
	logger      *logging.Logger
}

// ProxyStats is a point-in-time health snapshot of one proxy.
type ProxyStats struct {
	URL                 string    `json:"url"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Excluded            bool      `json:"excluded"`
	TotalSuccesses      int64     `json:"total_successes"`
	TotalFailures       int64     `json:"total_failures"`
	LastLatencyMs       int64     `json:"last_latency_ms"`
	LastUsed            time.Time `json:"last_used,omitempty"`
}

// NewManager builds a manager over the configured proxy list. An empty list
// is valid and means every Select returns ErrNoProxy.
func NewManager(urls []string, strategy string, maxFailures int, logger *logging.Logger) (*Manager, error) {
	switch strategy {
	case StrategyRoundRobin, StrategyRandom, StrategyFallback:
	default:
		return nil, fmt.Errorf("proxy: unknown rotation strategy %q", strategy)
	}
	if maxFailures < 1 {
		return nil, fmt.Errorf("proxy: max failures must be at least 1, got %d", maxFailures)
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	m := &Manager{
		byURL:       make(map[string]*proxyState, len(urls)),
		strategy:    strategy,
		maxFailures: maxFailures,
		rng:         rand.New(rand.NewSource(rand.Int63())),
		logger:      logger.WithField("component", "proxy_manager"),
	}
	for _, u := range urls {
		if u == "" || m.byURL[u] != nil {
			continue
		}
		st := &proxyState{url: u}
		m.proxies = append(m.proxies, st)
		m.byURL[u] = st
	}
	return m, nil
}

// Select returns the next proxy URL per the configured strategy, skipping
// excluded proxies.
func (m *Manager) Select() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	healthy := make([]*proxyState, 0, len(m.proxies))
	for _, st := range m.proxies {
		if !st.excluded {
			healthy = append(healthy, st)
		}
	}
	if len(healthy) == 0 {
		return "", ErrNoProxy
	}

	var st *proxyState
	switch m.strategy {
	case StrategyRandom:
		st = healthy[m.rng.Intn(len(healthy))]
	case StrategyFallback:
		// Least recently failed wins; a proxy that never failed beats any
		// that did, ties resolve in configured order.
		st = healthy[0]
		for _, c := range healthy[1:] {
			if c.lastFailure.Before(st.lastFailure) {
				st = c
			}
		}
	default: // round_robin
		st = healthy[m.cursor%len(healthy)]
		m.cursor++
	}
	st.lastUsed = time.Now()
	return st.url, nil
}

// ReportSuccess resets the failure streak for a proxy and readmits it to the
// selection pool if it was excluded. Unknown URLs are ignored.
func (m *Manager) ReportSuccess(url string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.byURL[url]
	if !ok {
		return
	}
	if st.excluded {
		m.logger.WithField("proxy", url).Info("Proxy recovered, readmitting to pool")
	}
	st.consecutiveFailures = 0
	st.excluded = false
	st.totalSuccesses++
	st.lastLatency = latency
	st.lastFailure = time.Time{}
}

// ReportFailure increments the failure streak for a proxy and excludes it once
// the streak reaches the configured maximum. Unknown URLs are ignored.
func (m *Manager) ReportFailure(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.byURL[url]
	if !ok {
		return
	}
	st.consecutiveFailures++
	st.totalFailures++
	st.lastFailure = time.Now()
	if !st.excluded && st.consecutiveFailures >= m.maxFailures {
		st.excluded = true
		m.logger.WithFields(map[string]interface{}{
			"proxy":    url,
			"failures": st.consecutiveFailures,
		}).Warn("Proxy excluded after consecutive failures")
	}
}

// HealthyCount returns the number of proxies currently eligible for selection.
func (m *Manager) HealthyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, st := range m.proxies {
		if !st.excluded {
			n++
		}
	}
	return n
}

// Stats returns a health snapshot of every configured proxy in configured
// order.
func (m *Manager) Stats() []ProxyStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ProxyStats, 0, len(m.proxies))
	for _, st := range m.proxies {
		out = append(out, ProxyStats{
			URL:                 st.url,
			ConsecutiveFailures: st.consecutiveFailures,
			Excluded:            st.excluded,
			TotalSuccesses:      st.totalSuccesses,
			TotalFailures:       st.totalFailures,
			LastLatencyMs:       st.lastLatency.Milliseconds(),
			LastUsed:            st.lastUsed,
		})
	}
	return out
}
