package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-orchestrator/internal/platform/logger"
)

func newClient(url string, mutate ...func(*Config)) *Client {
	cfg := Config{
		Endpoint:      url,
		Secret:        "s3cret",
		HostServer:    "media-1",
		PublishPrefix: "/live/",
		Interval:      time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return New(cfg, logger.Discard())
}

func TestAuthorizePublish_sends_form_with_bearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/live/publish", r.URL.Path)
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "tok", r.PostForm.Get("name"))
		assert.Equal(t, "media-1", r.PostForm.Get("streamServer"))
		assert.Equal(t, "/live/cam", r.PostForm.Get("tcUrl"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	assert.NoError(t, newClient(srv.URL).AuthorizePublish(context.Background(), "/live/cam", "tok"))
}

func TestAuthorizePublish_redirect_is_answer(t *testing.T) {
	followed := atomic.Bool{}
	mux := http.NewServeMux()
	mux.HandleFunc("/live/publish", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	})
	mux.HandleFunc("/elsewhere", func(w http.ResponseWriter, r *http.Request) { followed.Store(true) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	err := newClient(srv.URL).AuthorizePublish(context.Background(), "/live/cam", "tok")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, followed.Load())
}

func TestAuthorizePublish_not_modified_passes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()
	assert.NoError(t, newClient(srv.URL).AuthorizePublish(context.Background(), "/live/cam", "tok"))
}

func TestAuthorizePublish_refusals(t *testing.T) {
	calls := atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	c := newClient(srv.URL)

	assert.ErrorIs(t, c.AuthorizePublish(context.Background(), "/other/cam", "tok"), ErrUnauthorized)
	assert.Equal(t, int32(0), calls.Load(), "prefix check happens locally")

	assert.ErrorIs(t, c.AuthorizePublish(context.Background(), "/live/cam", "bad"), ErrUnauthorized)
	assert.Equal(t, int32(1), calls.Load(), "authorization is not retried")

	ignore := newClient(srv.URL, func(c *Config) { c.IgnoreAuth = true })
	assert.NoError(t, ignore.AuthorizePublish(context.Background(), "/other/cam", ""))
}

func TestStreamConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/streamConfig/cam", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"archive": true, "title": "x"})
	}))
	defer srv.Close()

	sc, err := newClient(srv.URL).StreamConfig(context.Background(), "cam")
	require.NoError(t, err)
	assert.True(t, sc.Archive)

	_, err = newClient("").StreamConfig(context.Background(), "cam")
	assert.ErrorIs(t, err, ErrNotConfigured)

	sc, err = newClient("", func(c *Config) { c.IgnoreAuth = true }).StreamConfig(context.Background(), "cam")
	require.NoError(t, err)
	assert.True(t, sc.Archive)
}

func TestRegisterArchive_retries_then_succeeds(t *testing.T) {
	calls := atomic.Int32{}
	gotCh := make(chan map[string]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "/archive", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotCh <- body
	}))
	defer srv.Close()

	err := newClient(srv.URL).RegisterArchive(context.Background(), Archive{
		StreamName:   "cam",
		Duration:     61,
		Token:        "tok",
		ThumbnailURL: "https://cdn.example/live/archives/2024_03/tok/thumbnail.jpg",
		PlaylistURL:  "https://cdn.example/live/archives/2024_03/tok/indexarchive.m3u8",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	got := <-gotCh
	assert.Equal(t, "cam", got["streamName"])
	assert.Equal(t, "61", got["duration"])
	assert.Equal(t, "tok", got["random"])
	assert.Equal(t, "https%3A%2F%2Fcdn.example%2Flive%2Farchives%2F2024_03%2Ftok%2Fthumbnail.jpg", got["thumbnail"])
}

func TestNotifyPublishDone_skipped_without_endpoint(t *testing.T) {
	assert.NoError(t, newClient("").NotifyPublishDone(context.Background(), "/live/cam", "tok"))
}
