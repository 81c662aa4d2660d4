package static

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prowlkit/prowl/internal/scrape"
)

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "probe-bot/1.0", r.UserAgent())
		assert.Equal(t, "1", r.Header.Get("X-Custom"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><head><title>ok</title></head><body>hello world</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "probe-bot/1.0", Timeout: 5 * time.Second})
	headers := http.Header{}
	headers.Set("X-Custom", "1")

	res, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: srv.URL, Headers: headers})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, scrape.StrategyStatic, res.Strategy)
	assert.Contains(t, string(res.Body), "hello world")
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestFetchForbiddenIsBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	assert.True(t, scrape.IsBlocked(err), "403 must classify as a blocking failure, got %v", err)
	assert.False(t, scrape.IsTransient(err))
}

func TestFetchServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "flaky", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	assert.True(t, scrape.IsTransient(err), "5xx should be retryable, got %v", err)
}

func TestFetchDetectsBotWall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>Checking your browser before accessing...</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	assert.True(t, scrape.IsBlocked(err))
}

func TestFetchContextCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := New(Config{Timeout: 10 * time.Second})
	_, err := f.Fetch(ctx, scrape.FetchRequest{URL: srv.URL})
	require.Error(t, err)
}
