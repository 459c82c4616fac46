package manifest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestURL(t *testing.T) {
	got, err := ManifestURL("https://app.example/some/page?x=1")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example/.well-known/farcaster.json", got)

	for _, bad := range []string{"", "app.example", "ftp://app.example", "://nope"} {
		_, err := ManifestURL(bad)
		assert.ErrorIs(t, err, ErrInvalidOrigin, bad)
	}
}

func TestFetch(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, WellKnownPath, r.URL.Path)
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"frame":{"name":"demo"}}`))
	}))
	defer upstream.Close()

	c := NewClient(time.Second)
	doc, err := c.Fetch(context.Background(), upstream.URL+"/deep/link")
	require.NoError(t, err)
	assert.JSONEq(t, `{"frame":{"name":"demo"}}`, string(doc))
}

func TestFetchUpstreamStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	_, err := NewClient(time.Second).Fetch(context.Background(), upstream.URL)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, "HTTP 404: Not Found", statusErr.Error())
}

func TestFetchInvalidJSON(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer upstream.Close()

	_, err := NewClient(time.Second).Fetch(context.Background(), upstream.URL)
	assert.Error(t, err)
}
