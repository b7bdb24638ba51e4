package orchestrator

import (
	"net/url"

	"media-orchestrator/internal/session"
)

// HookRequest is the body the RTMP layer posts for lifecycle callbacks.
// Example: { "id": "c1", "stream_path": "/live/cam", "args": { "token": "t" } }.
type HookRequest struct {
	ID         string            `json:"id"`
	StreamPath string            `json:"stream_path"`
	Args       map[string]string `json:"args,omitempty"`
}

func (r HookRequest) values() url.Values {
	if len(r.Args) == 0 {
		return nil
	}
	v := make(url.Values, len(r.Args))
	for k, s := range r.Args {
		v.Set(k, s)
	}
	return v
}

// TransRequest starts or stops one catalog task on a live stream.
type TransRequest struct {
	ID         string `json:"id"`
	StreamPath string `json:"stream_path"`
	Task       string `json:"task"`
}

// RelayRequest asks for a dynamic pull or push relay.
type RelayRequest struct {
	URL  string `json:"url"`
	App  string `json:"app"`
	Name string `json:"name"`
}

type RelayResponse struct {
	ID string `json:"id"`
}

// RelaySession describes a live relay. Index is the catalog index of a
// static relay and -1 for dynamic ones.
type RelaySession struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	session.Info
}

type errorResponse struct {
	Error string `json:"error"`
}
