package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"medtrack/m/domain"
	"medtrack/m/internal/applog"
	"medtrack/m/internal/inventory"
)

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := urlID(r, "userId")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if userID != currentUserID(r) && currentRole(r) != domain.RolePharmacist {
		respondError(w, http.StatusForbidden, "insufficient permissions")
		return
	}
	d, err := h.inv.Dashboard(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, "dashboard", err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (h *Handler) receiveStock(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RolePharmacist, domain.RolePharmacyTech) {
		return
	}
	var req inventory.ReceiveInput
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.UserID = currentUserID(r)

	res, err := h.inv.ReceiveStock(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, "receive_stock", err)
		return
	}
	applog.Audit(r, "receive_stock", map[string]any{"drug_id": req.DrugID, "location_id": req.LocationID, "quantity": res.Quantity})
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) useStock(w http.ResponseWriter, r *http.Request) {
	h.consumeStock(w, r, "")
}

func (h *Handler) discardStock(w http.ResponseWriter, r *http.Request) {
	h.consumeStock(w, r, inventory.ActionDiscard)
}

// consumeStock serves both use and discard; a non-empty force overrides the body action.
func (h *Handler) consumeStock(w http.ResponseWriter, r *http.Request, force string) {
	var req inventory.UseInput
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if force != "" {
		req.Action = force
	}
	if req.Action == "" {
		req.Action = inventory.ActionUse
	}
	req.UserID = currentUserID(r)

	res, err := h.inv.UseStock(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, strings.ToLower(req.Action)+"_stock", err)
		return
	}
	applog.Audit(r, strings.ToLower(res.Action)+"_stock", map[string]any{"vial_id": req.VialID, "asset_id": res.AssetID})
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) stockSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := strings.ToUpper(strings.TrimSpace(q.Get("status")))
	switch status {
	case "", "ALL", domain.VialAvailable, domain.VialUsedClinical, domain.VialDiscarded, domain.VialInTransit:
	default:
		respondError(w, http.StatusBadRequest, "invalid status filter")
		return
	}
	items, err := h.inv.Search(r.Context(), q.Get("query"), status)
	if err != nil {
		respondServiceError(w, r, "stock_search", err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *Handler) stockJourney(w http.ResponseWriter, r *http.Request) {
	assetID := strings.TrimSpace(chi.URLParam(r, "assetId"))
	if assetID == "" {
		respondError(w, http.StatusBadRequest, "asset id is required")
		return
	}
	j, err := h.inv.Journey(r.Context(), assetID)
	if err != nil {
		respondServiceError(w, r, "stock_journey", err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}

func (h *Handler) locationStock(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "locationId")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid location id")
		return
	}
	items, err := h.inv.LocationStock(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, "location_stock", err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *Handler) networkStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.inv.NetworkStatus(r.Context())
	if err != nil {
		respondServiceError(w, r, "network_status", err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}
