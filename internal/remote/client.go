// Package remote talks to the platform API that authorizes publishers,
// configures streams and catalogs finished archives.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrUnauthorized is returned when a publish is refused.
	ErrUnauthorized = errors.New("publish not authorized")
	// ErrNotConfigured is returned when a call needs an API endpoint and none is set.
	ErrNotConfigured = errors.New("api endpoint not configured")
)

// Config configures the client.
type Config struct {
	Endpoint string
	Secret   string
	// HostServer identifies this media server to the API.
	HostServer string
	// PublishPrefix is the stream path prefix publishers must use.
	PublishPrefix string
	IgnoreAuth    bool
	Timeout       time.Duration
	// Attempts and Interval govern retries of notifications.
	Attempts int
	Interval time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			// A redirect from the auth endpoint is an answer, not a hop.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		log: log,
	}
}

// StreamConfig is the per-stream configuration held by the API.
type StreamConfig struct {
	Archive bool `json:"archive"`
}

// Archive describes an uploaded recording.
type Archive struct {
	StreamName   string
	Duration     int
	Token        string
	ThumbnailURL string
	PlaylistURL  string
}

// AuthorizePublish asks the API whether token may publish on streamPath.
// Paths outside PublishPrefix are refused without asking.
func (c *Client) AuthorizePublish(ctx context.Context, streamPath, token string) error {
	if c.cfg.IgnoreAuth {
		return nil
	}
	if c.cfg.PublishPrefix != "" && !strings.HasPrefix(streamPath, c.cfg.PublishPrefix) {
		return fmt.Errorf("%w: %s is outside %s", ErrUnauthorized, streamPath, c.cfg.PublishPrefix)
	}
	if c.cfg.Endpoint == "" {
		return ErrNotConfigured
	}
	form := c.publishForm(streamPath, token)
	err := c.do(ctx, http.MethodPost, "/live/publish", form, nil, 1)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}

// StreamConfig looks up the configuration of stream name.
func (c *Client) StreamConfig(ctx context.Context, name string) (StreamConfig, error) {
	if c.cfg.IgnoreAuth {
		return StreamConfig{Archive: true}, nil
	}
	if c.cfg.Endpoint == "" {
		return StreamConfig{}, ErrNotConfigured
	}
	var sc StreamConfig
	if err := c.do(ctx, http.MethodGet, "/streamConfig/"+url.PathEscape(name), nil, &sc, 1); err != nil {
		return StreamConfig{}, fmt.Errorf("stream config %s: %w", name, err)
	}
	return sc, nil
}

// NotifyPublishDone tells the API a publisher left.
func (c *Client) NotifyPublishDone(ctx context.Context, streamPath, token string) error {
	if c.cfg.IgnoreAuth || c.cfg.Endpoint == "" {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/live/on_publish_done", c.publishForm(streamPath, token), nil, c.cfg.Attempts)
}

// RegisterArchive catalogs an uploaded recording.
func (c *Client) RegisterArchive(ctx context.Context, a Archive) error {
	if c.cfg.Endpoint == "" {
		return ErrNotConfigured
	}
	body, err := json.Marshal(map[string]any{
		"streamName": a.StreamName,
		"duration":   fmt.Sprint(a.Duration),
		"random":     a.Token,
		"thumbnail":  url.QueryEscape(a.ThumbnailURL),
		"stream":     url.QueryEscape(a.PlaylistURL),
	})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/archive", jsonBody(body), nil, c.cfg.Attempts)
}

type requestBody struct {
	data        []byte
	contentType string
}

func jsonBody(b []byte) *requestBody { return &requestBody{data: b, contentType: "application/json"} }

func (c *Client) publishForm(streamPath, token string) *requestBody {
	v := url.Values{}
	v.Set("name", token)
	v.Set("streamServer", c.cfg.HostServer)
	v.Set("tcUrl", streamPath)
	return &requestBody{data: []byte(v.Encode()), contentType: "application/x-www-form-urlencoded"}
}

// do sends a bearer-authenticated request, retrying failures. 2xx and 304
// count as success.
func (c *Client) do(ctx context.Context, method, path string, body *requestBody, dest any, attempts int) error {
	target := strings.TrimRight(c.cfg.Endpoint, "/") + path
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = c.once(ctx, method, target, body, dest)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		c.log.Warn("api request failed", "method", method, "url", target, "attempt", attempt, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.Interval):
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, target string, body *requestBody, dest any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body.data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", body.contentType)
	}
	setBearer(req, c.cfg.Secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified || resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if dest == nil || resp.StatusCode == http.StatusNotModified {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(dest)
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
}

func setBearer(req *http.Request, token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}
