package lookup

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSource(baseURL string) Source {
	return Source{
		Name:           "test",
		BaseURL:        baseURL,
		SearchPath:     "/search?q={q}",
		DetailPattern:  `/faction/\d+/`,
		LocationLabels: []string{"Origin"},
		FlagLabels:     []string{"Player minor faction"},
		LocationTag:    "Origin",
	}
}

func testOptions() Options {
	return Options{
		UserAgent:      "nativesys-test",
		SearchTimeout:  2 * time.Second,
		DetailsTimeout: 2 * time.Second,
		SearchRetries:  2,
		SearchBackoff:  time.Millisecond,
	}
}

func newTestClient(t *testing.T, srv *httptest.Server, opts Options) *Client {
	t.Helper()
	c, err := NewClient(testSource(srv.URL), opts)
	require.NoError(t, err)
	return c
}

func TestSearch_PrefersExactText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Alpha", r.URL.Query().Get("q"))
		assert.Equal(t, "nativesys-test", r.Header.Get("User-Agent"))
		fmt.Fprint(w, `<html><body>
			<a href="/about">About</a>
			<a href="/faction/1/">Alpha Beta</a>
			<a href="/faction/2/">  alpha </a>
		</body></html>`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, testOptions())
	addr, found, err := c.Search(t.Context(), "Alpha")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, srv.URL+"/faction/2/", addr)
}

func TestSearch_FallsBackToFirstCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a href="/faction/7/">Gamma Corp</a><a href="https://elsewhere.example/faction/8/">Delta</a>`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, testOptions())
	addr, found, err := c.Search(t.Context(), "Gamma")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, srv.URL+"/faction/7/", addr)

	addr, found, err = c.Search(t.Context(), "delta")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "https://elsewhere.example/faction/8/", addr)
}

func TestSearch_NoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<p>No results</p><a href="/other/1/">x</a>`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, testOptions())
	_, found, err := c.Search(t.Context(), "Beta")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSearch_QueryEscaping(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query().Get("q")
		fmt.Fprint(w, `<html></html>`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, testOptions())
	_, _, err := c.Search(t.Context(), "Tom & Jerry's #1")
	require.NoError(t, err)
	assert.Equal(t, "Tom & Jerry's #1", got)
}

func TestSearch_NonSuccessStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `<a href="/faction/1/">Alpha</a>`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, testOptions())
	_, found, err := c.Search(t.Context(), "Alpha")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, int32(1), hits.Load(), "403 is not retried")
}

func TestSearch_RetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `<a href="/faction/3/">Alpha</a>`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, testOptions())
	addr, found, err := c.Search(t.Context(), "Alpha")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, srv.URL+"/faction/3/", addr)
	assert.Equal(t, int32(2), hits.Load())
}

func TestSearch_RetriesExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, testOptions())
	_, found, err := c.Search(t.Context(), "Alpha")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, int32(3), hits.Load(), "one attempt plus two retries")
}

func TestSearch_TransportFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewClient(testSource(url), testOptions())
	require.NoError(t, err)

	_, found, err := c.Search(t.Context(), "Alpha")
	require.Error(t, err)
	assert.False(t, found)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "search", te.Op)
	assert.False(t, te.Timeout)
}

func TestFetchDetails(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/faction/1/":
			fmt.Fprint(w, `<b>Origin</b> <a href="/system/1/">Sol</a>`)
		case "/faction/2/":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, testOptions())

	body, found, err := c.FetchDetails(t.Context(), srv.URL+"/faction/1/")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Contains(t, body, "Sol")

	_, found, err = c.FetchDetails(t.Context(), srv.URL+"/faction/2/")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = c.FetchDetails(t.Context(), srv.URL+"/faction/3/")
	require.Error(t, err)
	assert.False(t, found)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, "unexpected status 500 Internal Server Error", err.Error())

	assert.Equal(t, int32(3), hits.Load(), "details requests are never retried")
}

func TestFetchDetails_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	opts := testOptions()
	opts.DetailsTimeout = 30 * time.Millisecond
	c := newTestClient(t, srv, opts)

	start := time.Now()
	_, _, err := c.FetchDetails(t.Context(), srv.URL+"/faction/1/")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "details", te.Op)
	assert.True(t, te.Timeout)
}

func TestClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `ok`)
	}))
	defer srv.Close()

	opts := testOptions()
	opts.RequestsPerSecond = 20
	c := newTestClient(t, srv, opts)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, _, err := c.FetchDetails(t.Context(), srv.URL+"/faction/1/")
		require.NoError(t, err)
	}
	// Burst of one: the second and third requests each wait ~50ms.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestNewClient_InvalidSource(t *testing.T) {
	_, err := NewClient(Source{Name: "bad", BaseURL: "not a url"}, testOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url must be an absolute URL")
	assert.Contains(t, err.Error(), "search_path must contain {q}")
}
