package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"medtrack/m/internal/applog"
	"medtrack/m/internal/inventory"
)

func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request) {
	var req inventory.CreateTransferInput
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.inv.CreateTransfer(r.Context(), currentUserID(r), req)
	if err != nil {
		respondServiceError(w, r, "create_transfer", err)
		return
	}
	applog.Audit(r, "create_transfer", map[string]any{"transfer_id": res.TransferID, "status": res.Status})
	respondJSON(w, http.StatusOK, res)
}

type transferActionRequest struct {
	UserID  int64  `json:"user_id,omitempty"`
	Version *int64 `json:"version"`
}

func (h *Handler) transferAction(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid transfer id")
		return
	}
	action := strings.ToLower(chi.URLParam(r, "action"))
	switch action {
	case inventory.TransferApprove, inventory.TransferComplete, inventory.TransferCancel:
	default:
		respondError(w, http.StatusNotFound, "unknown transfer action")
		return
	}
	var req transferActionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.inv.TransferAction(r.Context(), currentUserID(r), id, action, req.Version); err != nil {
		respondServiceError(w, r, action+"_transfer", err)
		return
	}
	applog.Audit(r, action+"_transfer", map[string]any{"transfer_id": id})
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) transfers(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "locationId")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid location id")
		return
	}
	list, err := h.inv.Transfers(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, "list_transfers", err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handler) destinations(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid location id")
		return
	}
	locs, err := h.inv.Destinations(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, "destinations", err)
		return
	}
	respondJSON(w, http.StatusOK, locs)
}
