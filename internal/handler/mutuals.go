package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sakif/berri-graph/internal/model"
	"github.com/sakif/berri-graph/internal/service"
)

const maxBodyBytes = 1 << 16

// MutualFinder is implemented by service.MutualService.
type MutualFinder interface {
	FindMutuals(ctx context.Context, requester, target string) (*service.FindResult, error)
}

type MutualsHandler struct {
	finder MutualFinder
	logger *slog.Logger
}

// NewMutualsHandler creates a MutualsHandler.
func NewMutualsHandler(finder MutualFinder, logger *slog.Logger) *MutualsHandler {
	return &MutualsHandler{finder: finder, logger: logger}
}

type findMutualsRequest struct {
	LoggedInUserUsername string `json:"loggedInUserUsername"`
	SearchUsername       string `json:"searchUsername"`
}

type findMutualsResponse struct {
	Success bool          `json:"success"`
	Mutuals []model.User  `json:"mutuals"`
	Count   int           `json:"count"`
	Debug   service.Debug `json:"debug"`
}

// HandleFindMutuals syncs both users and returns their introducer candidates.
//
// HTTP: POST /api/find-mutuals
// REQUEST BODY: {"loggedInUserUsername": "alice", "searchUsername": "bob"}
func (h *MutualsHandler) HandleFindMutuals(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req findMutualsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid find-mutuals JSON", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "Invalid JSON body",
			Code:  "validation_error",
		})
		return
	}

	res, err := h.finder.FindMutuals(r.Context(), req.LoggedInUserUsername, req.SearchUsername)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	mutuals := res.Result.Mutuals
	if mutuals == nil {
		mutuals = []model.User{}
	}
	writeJSON(w, http.StatusOK, findMutualsResponse{
		Success: true,
		Mutuals: mutuals,
		Count:   len(mutuals),
		Debug:   res.Debug,
	})
}
