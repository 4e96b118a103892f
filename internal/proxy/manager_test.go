package proxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, urls []string, strategy string, maxFailures int) *Manager {
	t.Helper()
	m, err := NewManager(urls, strategy, maxFailures, nil)
	require.NoError(t, err)
	return m
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager([]string{"http://p1:8080"}, "sticky", 3, nil)
	assert.Error(t, err)

	_, err = NewManager([]string{"http://p1:8080"}, StrategyRoundRobin, 0, nil)
	assert.Error(t, err)

	m := newTestManager(t, []string{"http://p1:8080", "", "http://p1:8080"}, StrategyRoundRobin, 3)
	assert.Equal(t, 1, m.HealthyCount())
}

func TestRoundRobinCyclesInOrder(t *testing.T) {
	m := newTestManager(t, []string{"http://p1:8080", "http://p2:8080", "http://p3:8080"}, StrategyRoundRobin, 3)

	var got []string
	for i := 0; i < 6; i++ {
		p, err := m.Select()
		require.NoError(t, err)
		got = append(got, p)
	}
	assert.Equal(t, []string{
		"http://p1:8080", "http://p2:8080", "http://p3:8080",
		"http://p1:8080", "http://p2:8080", "http://p3:8080",
	}, got)
}

func TestRandomSelectsFromHealthyPool(t *testing.T) {
	m := newTestManager(t, []string{"http://p1:8080", "http://p2:8080"}, StrategyRandom, 3)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		p, err := m.Select()
		require.NoError(t, err)
		seen[p] = true
	}
	assert.True(t, seen["http://p1:8080"])
	assert.True(t, seen["http://p2:8080"])
}

func TestFallbackPrefersFirstConfigured(t *testing.T) {
	m := newTestManager(t, []string{"http://p1:8080", "http://p2:8080"}, StrategyFallback, 2)

	for i := 0; i < 3; i++ {
		p, err := m.Select()
		require.NoError(t, err)
		assert.Equal(t, "http://p1:8080", p)
	}

	// Exclude the primary; selection moves to the next configured proxy.
	m.ReportFailure("http://p1:8080")
	m.ReportFailure("http://p1:8080")

	p, err := m.Select()
	require.NoError(t, err)
	assert.Equal(t, "http://p2:8080", p)

	// Primary recovers and takes precedence again.
	m.ReportSuccess("http://p1:8080", 80*time.Millisecond)
	p, err = m.Select()
	require.NoError(t, err)
	assert.Equal(t, "http://p1:8080", p)
}

func TestFallbackPrefersLeastRecentlyFailed(t *testing.T) {
	m := newTestManager(t, []string{"http://p1:8080", "http://p2:8080"}, StrategyFallback, 5)

	// Both have failed below the threshold; p2 failed more recently.
	m.ReportFailure("http://p2:8080")
	m.ReportFailure("http://p1:8080")
	m.ReportFailure("http://p2:8080")

	p, err := m.Select()
	require.NoError(t, err)
	assert.Equal(t, "http://p1:8080", p)
}

func TestExclusionAfterConsecutiveFailures(t *testing.T) {
	m := newTestManager(t, []string{"http://p1:8080", "http://p2:8080"}, StrategyRoundRobin, 3)

	m.ReportFailure("http://p1:8080")
	m.ReportFailure("http://p1:8080")
	assert.Equal(t, 2, m.HealthyCount(), "below the threshold the proxy stays selectable")

	m.ReportFailure("http://p1:8080")
	assert.Equal(t, 1, m.HealthyCount())

	// Once excluded, no amount of selecting returns the bad proxy.
	for i := 0; i < 10; i++ {
		p, err := m.Select()
		require.NoError(t, err)
		assert.Equal(t, "http://p2:8080", p)
	}

	// Only an explicit success readmits it.
	m.ReportSuccess("http://p1:8080", 50*time.Millisecond)
	assert.Equal(t, 2, m.HealthyCount())

	seen := make(map[string]bool)
	for i := 0; i < 4; i++ {
		p, err := m.Select()
		require.NoError(t, err)
		seen[p] = true
	}
	assert.True(t, seen["http://p1:8080"])
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	m := newTestManager(t, []string{"http://p1:8080"}, StrategyRoundRobin, 3)

	m.ReportFailure("http://p1:8080")
	m.ReportFailure("http://p1:8080")
	m.ReportSuccess("http://p1:8080", 50*time.Millisecond)

	// Two more failures do not reach the threshold; the streak restarted.
	m.ReportFailure("http://p1:8080")
	m.ReportFailure("http://p1:8080")
	assert.Equal(t, 1, m.HealthyCount())

	m.ReportFailure("http://p1:8080")
	assert.Equal(t, 0, m.HealthyCount())
}

func TestSelectWithAllExcluded(t *testing.T) {
	m := newTestManager(t, []string{"http://p1:8080"}, StrategyRoundRobin, 1)

	m.ReportFailure("http://p1:8080")
	_, err := m.Select()
	assert.ErrorIs(t, err, ErrNoProxy)
}

func TestSelectWithEmptyPool(t *testing.T) {
	m := newTestManager(t, nil, StrategyRoundRobin, 3)
	_, err := m.Select()
	assert.ErrorIs(t, err, ErrNoProxy)
}

func TestUnknownProxyReportsIgnored(t *testing.T) {
	m := newTestManager(t, []string{"http://p1:8080"}, StrategyRoundRobin, 3)

	m.ReportFailure("http://nope:1")
	m.ReportSuccess("http://nope:1", time.Millisecond)
	assert.Equal(t, 1, m.HealthyCount())
}

func TestStats(t *testing.T) {
	m := newTestManager(t, []string{"http://p1:8080", "http://p2:8080"}, StrategyRoundRobin, 2)

	m.ReportFailure("http://p1:8080")
	m.ReportFailure("http://p1:8080")
	m.ReportSuccess("http://p2:8080", 120*time.Millisecond)

	stats := m.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "http://p1:8080", stats[0].URL)
	assert.True(t, stats[0].Excluded)
	assert.Equal(t, int64(2), stats[0].TotalFailures)
	assert.False(t, stats[1].Excluded)
	assert.Equal(t, int64(1), stats[1].TotalSuccesses)
	assert.Equal(t, int64(120), stats[1].LastLatencyMs)
}
