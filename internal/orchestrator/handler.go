package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"media-orchestrator/internal/bus"
	"media-orchestrator/internal/remote"
	"media-orchestrator/internal/streams"
	"media-orchestrator/internal/task"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// PublishAuthorizer checks publishers against the platform API.
type PublishAuthorizer interface {
	AuthorizePublish(ctx context.Context, streamPath, token string) error
	NotifyPublishDone(ctx context.Context, streamPath, token string) error
}

// Handler exposes the lifecycle hooks and the transcode/relay management API.
type Handler struct {
	bus   *bus.Bus
	dir   *streams.Directory
	trans *TranscodeService
	relay *RelayService
	auth  PublishAuthorizer
	log   *slog.Logger
}

// NewHandler returns a Handler publishing onto b. auth may be nil to accept
// every publisher.
func NewHandler(b *bus.Bus, dir *streams.Directory, trans *TranscodeService, relay *RelayService, auth PublishAuthorizer, log *slog.Logger) *Handler {
	return &Handler{bus: b, dir: dir, trans: trans, relay: relay, auth: auth, log: log}
}

// Routes mounts the handler's endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/hooks", func(r chi.Router) {
		r.Post("/publish", h.Publish)
		r.Post("/publish_done", h.PublishDone)
		r.Post("/play", h.Play)
		r.Post("/play_done", h.PlayDone)
	})
	r.Get("/api/streams", h.ListStreams)
	r.Route("/api/trans", func(r chi.Router) {
		r.Get("/", h.ListTrans)
		r.Post("/", h.AddTrans)
		r.Delete("/", h.DeleteTrans)
	})
	r.Route("/api/relay", func(r chi.Router) {
		r.Get("/", h.ListRelays)
		r.Post("/pull", h.RelayPull)
		r.Post("/push", h.RelayPush)
		r.Delete("/{id}", h.DeleteRelay)
	})
}

// Publish handles POST /api/hooks/publish. A rejected publisher gets 403 and
// no event is emitted.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeHook(w, r)
	if !ok {
		return
	}
	if h.auth != nil {
		if err := h.auth.AuthorizePublish(r.Context(), req.StreamPath, req.Args["token"]); err != nil {
			level := slog.LevelWarn
			if errors.Is(err, remote.ErrUnauthorized) {
				level = slog.LevelInfo
			}
			h.log.Log(r.Context(), level, "publish rejected",
				slog.String("id", req.ID),
				slog.String("stream_path", req.StreamPath),
				slog.String("error", err.Error()))
			writeError(w, http.StatusForbidden, "publish not authorized")
			return
		}
	}
	h.log.Info("publish", slog.String("id", req.ID), slog.String("stream_path", req.StreamPath))
	h.bus.Publish(r.Context(), bus.PostPublish{Stream: h.stream(req)})
	w.WriteHeader(http.StatusNoContent)
}

// PublishDone handles POST /api/hooks/publish_done.
func (h *Handler) PublishDone(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeHook(w, r)
	if !ok {
		return
	}
	h.log.Info("publish done", slog.String("id", req.ID), slog.String("stream_path", req.StreamPath))
	h.bus.Publish(r.Context(), bus.DonePublish{Stream: h.stream(req)})
	if h.auth != nil {
		if err := h.auth.NotifyPublishDone(r.Context(), req.StreamPath, req.Args["token"]); err != nil {
			h.log.Warn("publish done notification failed",
				slog.String("stream_path", req.StreamPath),
				slog.String("error", err.Error()))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// Play handles POST /api/hooks/play.
func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeHook(w, r)
	if !ok {
		return
	}
	h.bus.Publish(r.Context(), bus.PrePlay{Stream: h.stream(req)})
	w.WriteHeader(http.StatusNoContent)
}

// PlayDone handles POST /api/hooks/play_done.
func (h *Handler) PlayDone(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeHook(w, r)
	if !ok {
		return
	}
	h.bus.Publish(r.Context(), bus.DonePlay{Stream: h.stream(req)})
	w.WriteHeader(http.StatusNoContent)
}

// ListStreams handles GET /api/streams.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dir.Snapshot())
}

// ListTrans handles GET /api/trans.
func (h *Handler) ListTrans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.trans.Sessions())
}

// AddTrans handles POST /api/trans.
// Body: { "id": "c1", "stream_path": "/live/cam", "task": "_low" }.
func (h *Handler) AddTrans(w http.ResponseWriter, r *http.Request) {
	req, app, ok := h.decodeTrans(w, r)
	if !ok {
		return
	}
	if _, err := h.trans.Task(app, req.Task); err != nil {
		if errors.Is(err, task.ErrUnknownTask) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.bus.Publish(r.Context(), bus.TransAdd{Stream: bus.Stream{ID: req.ID, Path: req.StreamPath}, Task: req.Task})
	w.WriteHeader(http.StatusAccepted)
}

// DeleteTrans handles DELETE /api/trans.
func (h *Handler) DeleteTrans(w http.ResponseWriter, r *http.Request) {
	req, app, ok := h.decodeTrans(w, r)
	if !ok {
		return
	}
	if _, found := h.trans.Get(task.Key(app, req.Task, req.ID)); !found {
		writeError(w, http.StatusNotFound, "no such session")
		return
	}
	h.bus.Publish(r.Context(), bus.TransDel{Stream: bus.Stream{ID: req.ID, Path: req.StreamPath}, Task: req.Task})
	w.WriteHeader(http.StatusAccepted)
}

// ListRelays handles GET /api/relay.
func (h *Handler) ListRelays(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.relay.Sessions())
}

// RelayPull handles POST /api/relay/pull and answers the new relay id.
func (h *Handler) RelayPull(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRelay(w, r)
	if !ok {
		return
	}
	id := uuid.NewString()
	h.bus.Publish(r.Context(), bus.RelayPull{ID: id, URL: req.URL, App: req.App, Name: req.Name})
	writeJSON(w, http.StatusCreated, RelayResponse{ID: id})
}

// RelayPush handles POST /api/relay/push and answers the new relay id.
func (h *Handler) RelayPush(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRelay(w, r)
	if !ok {
		return
	}
	id := uuid.NewString()
	h.bus.Publish(r.Context(), bus.RelayPush{ID: id, URL: req.URL, App: req.App, Name: req.Name})
	writeJSON(w, http.StatusCreated, RelayResponse{ID: id})
}

// DeleteRelay handles DELETE /api/relay/{id}.
func (h *Handler) DeleteRelay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.relay.Has(id) {
		writeError(w, http.StatusNotFound, "no such relay")
		return
	}
	h.bus.Publish(r.Context(), bus.RelayDelete{ID: id})
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) decodeHook(w http.ResponseWriter, r *http.Request) (HookRequest, bool) {
	var req HookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid hook body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid body")
		return req, false
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return req, false
	}
	if _, _, err := task.ParseStreamPath(req.StreamPath); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	return req, true
}

func (h *Handler) decodeTrans(w http.ResponseWriter, r *http.Request) (TransRequest, string, bool) {
	var req TransRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return req, "", false
	}
	app, _, err := task.ParseStreamPath(req.StreamPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, "", false
	}
	if req.ID == "" || req.Task == "" {
		writeError(w, http.StatusBadRequest, "id and task are required")
		return req, "", false
	}
	return req, app, true
}

func (h *Handler) decodeRelay(w http.ResponseWriter, r *http.Request) (RelayRequest, bool) {
	var req RelayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return req, false
	}
	if req.URL == "" || req.App == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "url, app and name are required")
		return req, false
	}
	return req, true
}

func (h *Handler) stream(req HookRequest) bus.Stream {
	return bus.Stream{ID: req.ID, Path: req.StreamPath, Args: req.values()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
