package clip

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// Request is the body of POST /api/clip. Length is in seconds.
type Request struct {
	Length float64 `json:"length"`
	Name   string  `json:"name"`
}

// Handler serves clip requests.
type Handler struct {
	ex  *Extractor
	log *slog.Logger
}

func NewHandler(ex *Extractor, log *slog.Logger) *Handler {
	return &Handler{ex: ex, log: log}
}

// Routes mounts POST /api/clip on r, limited to perMinute requests per
// client IP. A non-positive limit disables limiting.
func (h *Handler) Routes(r chi.Router, perMinute int) {
	if perMinute <= 0 {
		r.Post("/api/clip", h.Clip)
		return
	}
	r.With(httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many clip requests"})
		}),
	)).Post("/api/clip", h.Clip)
}

// Clip handles POST /api/clip.
// Body: { "length": 30, "name": "cam" }.
func (h *Handler) Clip(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "length and name are required"})
		return
	}

	res, err := h.ex.Extract(r.Context(), req.Name, req.Length)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrInvalidLength), errors.Is(err, ErrNotArchiving):
			status = http.StatusBadRequest
			h.log.Info("clip rejected", slog.String("stream", req.Name), slog.String("error", err.Error()))
		default:
			h.log.Error("clip failed", slog.String("stream", req.Name), slog.String("error", err.Error()))
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
