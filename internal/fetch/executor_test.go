package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listing-scanner/internal/config"
	"github.com/listing-scanner/internal/proxy"
)

func testScanConfig() config.ScanConfig {
	return config.ScanConfig{
		MaxConcurrentRequests: 3,
		HTTPTimeout:           5 * time.Second,
		// No politeness delay in tests.
		MinRequestDelay: 0,
		MaxRequestDelay: 0,
	}
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	e := NewExecutor(testScanConfig(), config.ProxyConfig{}, nil, nil)
	e.retryCfg.InitialDelay = time.Millisecond
	e.retryCfg.MaxDelay = 5 * time.Millisecond
	return e
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		assert.Contains(t, r.Header.Get("Accept"), "text/html")
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	body, err := newTestExecutor(t).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", string(body))
}

func TestFetchDecompressesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "gzip")
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte("<html>compressed</html>"))
		gz.Close()
	}))
	defer srv.Close()

	body, err := newTestExecutor(t).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html>compressed</html>", string(body))
}

func TestFetchDecompressesBrotli(t *testing.T) {
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	bw.Write([]byte("<html>brotli</html>"))
	bw.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	body, err := newTestExecutor(t).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html>brotli</html>", string(body))
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	body, err := newTestExecutor(t).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchDoesNotRetryNotFound(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestExecutor(t).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.False(t, fe.Transient)
}

func TestFetchRateLimitedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e := newTestExecutor(t)
	_, err := e.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestFetchConcurrencyBound(t *testing.T) {
	var inFlight, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	e := newTestExecutor(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Fetch(context.Background(), srv.URL)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestPolitenessDelayDoesNotHoldConcurrencySlot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := testScanConfig()
	cfg.MaxConcurrentRequests = 1
	cfg.MinRequestDelay = 200 * time.Millisecond
	cfg.MaxRequestDelay = 200 * time.Millisecond
	e := NewExecutor(cfg, config.ProxyConfig{}, nil, nil)

	// Three fetches sleep their delays concurrently and only serialize on the
	// actual requests. Holding the slot through the sleep would take 600ms+.
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Fetch(context.Background(), srv.URL)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestFetchReportsProxyHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	// The test server address doubles as a proxy that simply serves the page.
	pm, err := proxy.NewManager([]string{srv.URL}, proxy.StrategyRoundRobin, 3, nil)
	require.NoError(t, err)

	e := NewExecutor(testScanConfig(), config.ProxyConfig{Enabled: true}, pm, nil)
	e.retryCfg.InitialDelay = time.Millisecond

	_, err = e.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	stats := pm.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].TotalSuccesses)
	assert.Equal(t, int64(0), stats[0].TotalFailures)
}

func TestFetchEmitsTelemetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	e := newTestExecutor(t)

	var mu sync.Mutex
	var logs []RequestLog
	e.SetLogSink(func(rec RequestLog) {
		mu.Lock()
		logs = append(logs, rec)
		mu.Unlock()
	})

	_, err := e.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, logs, 1)
	assert.Equal(t, srv.URL, logs[0].URL)
	assert.Equal(t, http.StatusOK, logs[0].StatusCode)
	assert.Equal(t, 1, logs[0].Attempts)
	assert.Empty(t, logs[0].Error)
}

func TestRobotsGate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testScanConfig()
	cfg.RespectRobots = true
	e := NewExecutor(cfg, config.ProxyConfig{}, nil, nil)

	body, err := e.Fetch(context.Background(), srv.URL+"/listings/1")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))

	_, err = e.Fetch(context.Background(), srv.URL+"/private/1")
	assert.ErrorIs(t, err, ErrRobotsDisallowed)
}
