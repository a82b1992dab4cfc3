package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/memo-engine/internal/engine"
)

// Engine is the invocation surface exposed over HTTP.
type Engine interface {
	RecordStart() (string, error)
	RecordPause() error
	PlayerStart(id string) error
	PlayerPause(id string) error
	Poll() (engine.PollState, error)
	PipelineHealth
}

type ControlHandler struct {
	engine Engine
}

func NewControlHandler(e Engine) *ControlHandler {
	return &ControlHandler{engine: e}
}

// RecordStart begins a capture session and returns its id.
func (h *ControlHandler) RecordStart(w http.ResponseWriter, r *http.Request) {
	id, err := h.engine.RecordStart()
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("record start failed")
		WriteEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (h *ControlHandler) RecordPause(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RecordPause(); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("record pause failed")
		WriteEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *ControlHandler) PlayerStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.PlayerStart(id); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("id", id).Msg("player start failed")
		WriteEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *ControlHandler) PlayerPause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.PlayerPause(id); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("id", id).Msg("player pause failed")
		WriteEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Poll returns every recording and whether a transcription is running.
func (h *ControlHandler) Poll(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.Poll()
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("poll failed")
		WriteEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, state)
}

// Routes registers control routes on the given router.
func (h *ControlHandler) Routes(r chi.Router) {
	r.Post("/record/start", h.RecordStart)
	r.Post("/record/pause", h.RecordPause)
	r.Post("/player/{id}/start", h.PlayerStart)
	r.Post("/player/{id}/pause", h.PlayerPause)
	r.Get("/poll", h.Poll)
}
