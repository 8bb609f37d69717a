package cluster

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/ledger/actor"
)

// Handler exposes the internal node-to-node surface a Router forwards
// to, mounted on a chi.Router the way the teacher mounts its public API
// (internal/infra/web). Only reachable inside the cluster network; not
// meant to be exposed publicly.
type Handler struct {
	local LocalActor
	log   zerolog.Logger
}

func NewHandler(local LocalActor, log zerolog.Logger) *Handler {
	return &Handler{local: local, log: log}
}

func (h *Handler) Mount(r chi.Router) {
	r.Get("/internal/credits/{userID}", h.getCredits)
	r.Post("/internal/credits/{userID}/grant", h.grant)
	r.Post("/internal/credits/{userID}/complete-job", h.completeJob)
}

func (h *Handler) getCredits(w http.ResponseWriter, r *http.Request) {
	userID := model.UserID(chi.URLParam(r, "userID"))
	state, err := h.local.GetCredits(r.Context(), userID)
	h.respond(w, state, err)
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	userID := model.UserID(chi.URLParam(r, "userID"))
	var grant model.GrantMap
	if err := json.NewDecoder(r.Body).Decode(&grant); err != nil {
		http.Error(w, "malformed grant body", http.StatusBadRequest)
		return
	}
	state, err := h.local.Grant(r.Context(), userID, grant)
	h.respond(w, state, err)
}

func (h *Handler) completeJob(w http.ResponseWriter, r *http.Request) {
	userID := model.UserID(chi.URLParam(r, "userID"))
	var job actor.CompleteJobInput
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		http.Error(w, "malformed job body", http.StatusBadRequest)
		return
	}
	job.UserID = userID
	state, err := h.local.CompleteJob(r.Context(), job)
	h.respond(w, state, err)
}

func (h *Handler) respond(w http.ResponseWriter, state model.UserCredits, err error) {
	if err != nil {
		h.log.Warn().Err(err).Msg("cluster: local dispatch failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(state)
}
