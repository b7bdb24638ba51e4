package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"media-orchestrator/internal/bus"
	"media-orchestrator/internal/platform/logger"
	"media-orchestrator/internal/remote"
	"media-orchestrator/internal/streams"
	"media-orchestrator/internal/task"
)

type stubAuth struct {
	mu       sync.Mutex
	deny     bool
	tokens   []string
	finished []string
}

func (a *stubAuth) AuthorizePublish(_ context.Context, streamPath, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens = append(a.tokens, token)
	if a.deny {
		return remote.ErrUnauthorized
	}
	return nil
}

func (a *stubAuth) NotifyPublishDone(_ context.Context, streamPath, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finished = append(a.finished, streamPath)
	return nil
}

type testEnv struct {
	h     *Handler
	r     *chi.Mux
	dir   *streams.Directory
	trans *TranscodeService
	relay *RelayService
	auth  *stubAuth
}

func newTestHandler(t *testing.T) *testEnv {
	t.Helper()
	log := logger.Discard()
	b := bus.New(log)
	dir := streams.NewDirectory()
	dir.Subscribe(b)

	rt := task.Runtime{Encoder: fakeEncoder(t, idleEncoder), MediaRoot: t.TempDir(), RTMPPort: 1935}
	trans := NewTranscodeService(TranscodeConfig{
		Catalog:   task.TransCatalog{Tasks: []task.Spec{{App: "live", HLS: true}, {App: "live", Name: "_low", HLS: true}}},
		Runtime:   rt,
		StopGrace: 5 * time.Second,
	}, nil, nil, log, nil)
	trans.Subscribe(b)
	relay := NewRelayService(RelayConfig{Runtime: rt, StopGrace: 5 * time.Second}, dir, log, nil)
	relay.Subscribe(b)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		trans.Shutdown(ctx)
		relay.Shutdown(ctx)
	})

	auth := &stubAuth{}
	h := NewHandler(b, dir, trans, relay, auth, log)
	r := chi.NewRouter()
	h.Routes(r)
	return &testEnv{h: h, r: r, dir: dir, trans: trans, relay: relay, auth: auth}
}

func (e *testEnv) do(method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.r.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Publish(t *testing.T) {
	e := newTestHandler(t)

	rec := e.do(http.MethodPost, "/api/hooks/publish", HookRequest{ID: "c1", StreamPath: "/live/cam", Args: map[string]string{"token": "secret"}})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !e.dir.HasPublisher("/live/cam") {
		t.Error("expected publisher to be tracked")
	}
	if _, ok := e.trans.Get("live_index_c1"); !ok {
		t.Error("expected index transcode session")
	}
	if len(e.auth.tokens) != 1 || e.auth.tokens[0] != "secret" {
		t.Errorf("unexpected tokens checked: %v", e.auth.tokens)
	}
}

func TestHandler_Publish_rejected(t *testing.T) {
	e := newTestHandler(t)
	e.auth.deny = true

	rec := e.do(http.MethodPost, "/api/hooks/publish", HookRequest{ID: "c1", StreamPath: "/live/cam"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if e.dir.HasPublisher("/live/cam") {
		t.Error("rejected publisher must not be tracked")
	}
	if e.trans.Len() != 0 {
		t.Errorf("expected no sessions, got %d", e.trans.Len())
	}
}

func TestHandler_Publish_bad_request(t *testing.T) {
	e := newTestHandler(t)

	cases := map[string]any{
		"not json":     "not json",
		"missing id":   HookRequest{StreamPath: "/live/cam"},
		"invalid path": HookRequest{ID: "c1", StreamPath: "cam"},
	}
	for name, body := range cases {
		rec := e.do(http.MethodPost, "/api/hooks/publish", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, rec.Code)
		}
	}
}

func TestHandler_PublishDone(t *testing.T) {
	e := newTestHandler(t)

	e.do(http.MethodPost, "/api/hooks/publish", HookRequest{ID: "c1", StreamPath: "/live/cam"})
	sess, ok := e.trans.Get("live_index_c1")
	if !ok {
		t.Fatal("setup: expected session")
	}

	rec := e.do(http.MethodPost, "/api/hooks/publish_done", HookRequest{ID: "c1", StreamPath: "/live/cam"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if e.dir.HasPublisher("/live/cam") {
		t.Error("publisher should be cleared")
	}
	if len(e.auth.finished) != 1 || e.auth.finished[0] != "/live/cam" {
		t.Errorf("expected completion notification, got %v", e.auth.finished)
	}
	waitEnded(t, sess)
}

func TestHandler_Play_and_ListStreams(t *testing.T) {
	e := newTestHandler(t)

	e.do(http.MethodPost, "/api/hooks/play", HookRequest{ID: "p1", StreamPath: "/live/cam"})
	e.do(http.MethodPost, "/api/hooks/play", HookRequest{ID: "p2", StreamPath: "/live/cam"})
	e.do(http.MethodPost, "/api/hooks/play_done", HookRequest{ID: "p1", StreamPath: "/live/cam"})

	rec := e.do(http.MethodGet, "/api/streams", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []streams.Stream
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Path != "/live/cam" || got[0].Players != 1 {
		t.Errorf("unexpected streams: %+v", got)
	}
}

func TestHandler_Trans(t *testing.T) {
	e := newTestHandler(t)

	rec := e.do(http.MethodPost, "/api/trans", TransRequest{ID: "c1", StreamPath: "/live/cam", Task: "_low"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("add: expected 202, got %d", rec.Code)
	}
	if _, ok := e.trans.Get("live__low_c1"); !ok {
		t.Fatal("expected _low session")
	}

	rec = e.do(http.MethodGet, "/api/trans", nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"key":"live__low_c1"`)) {
		t.Errorf("list: unexpected response %d %s", rec.Code, rec.Body.String())
	}

	rec = e.do(http.MethodDelete, "/api/trans", TransRequest{ID: "c1", StreamPath: "/live/cam", Task: "_low"})
	if rec.Code != http.StatusAccepted {
		t.Errorf("delete: expected 202, got %d", rec.Code)
	}
}

func TestHandler_Trans_not_found(t *testing.T) {
	e := newTestHandler(t)

	rec := e.do(http.MethodPost, "/api/trans", TransRequest{ID: "c1", StreamPath: "/live/cam", Task: "_ultra"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("add unknown task: expected 404, got %d", rec.Code)
	}
	rec = e.do(http.MethodDelete, "/api/trans", TransRequest{ID: "c1", StreamPath: "/live/cam", Task: "index"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete idle task: expected 404, got %d", rec.Code)
	}
	rec = e.do(http.MethodPost, "/api/trans", TransRequest{StreamPath: "/live/cam", Task: "index"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing id: expected 400, got %d", rec.Code)
	}
}

func TestHandler_Relay(t *testing.T) {
	e := newTestHandler(t)

	rec := e.do(http.MethodPost, "/api/relay/pull", RelayRequest{URL: "rtmp://src/live/a", App: "live", Name: "a"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("pull: expected 201, got %d", rec.Code)
	}
	var resp RelayResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.ID == "" {
		t.Fatalf("pull: expected id, got %+v (%v)", resp, err)
	}
	if !e.relay.Has(resp.ID) {
		t.Fatal("relay not registered under returned id")
	}

	rec = e.do(http.MethodGet, "/api/relay", nil)
	var list []RelaySession
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil || len(list) != 1 || list[0].ID != resp.ID {
		t.Errorf("list: unexpected %+v (%v)", list, err)
	}

	rec = e.do(http.MethodDelete, "/api/relay/"+resp.ID, nil)
	if rec.Code != http.StatusAccepted {
		t.Errorf("delete: expected 202, got %d", rec.Code)
	}
	rec = e.do(http.MethodDelete, "/api/relay/unknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete unknown: expected 404, got %d", rec.Code)
	}
}

func TestHandler_Relay_bad_request(t *testing.T) {
	e := newTestHandler(t)

	rec := e.do(http.MethodPost, "/api/relay/push", RelayRequest{App: "live", Name: "a"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
