package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/jmoiron/sqlx"

	"medtrack/m/domain"
	"medtrack/m/internal/applog"
	"medtrack/m/internal/labels"
)

type labelRequest struct {
	AssetIDs   []string `json:"asset_ids"`
	LocationID int64    `json:"location_id"`
	Preview    bool     `json:"preview,omitempty"`
}

type labelResponse struct {
	Success bool   `json:"success"`
	Count   int    `json:"count"`
	Printed bool   `json:"printed"`
	ZPL     string `json:"zpl,omitempty"`
}

func (h *Handler) generateLabels(w http.ResponseWriter, r *http.Request) {
	var req labelRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids := make([]string, 0, len(req.AssetIDs))
	for _, id := range req.AssetIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		respondError(w, http.StatusBadRequest, "asset_ids must not be empty")
		return
	}

	query, args, err := sqlx.In(`SELECT v.asset_id, d.name AS drug_name, v.expiry_date, COALESCE(d.storage_temp, '') AS storage_temp
		FROM vials v JOIN drugs d ON d.id = v.drug_id
		WHERE v.asset_id IN (?) ORDER BY v.asset_id`, ids)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to build label query")
		return
	}
	items := []labels.Label{}
	if err := h.db.SelectContext(r.Context(), &items, h.db.Rebind(query), args...); err != nil {
		applog.Error(r, "generate_labels", err, nil)
		respondError(w, http.StatusInternalServerError, "unable to load vials")
		return
	}
	if len(items) == 0 {
		respondError(w, http.StatusNotFound, "No matching vials")
		return
	}

	settings, err := h.loadSettings(r, req.LocationID)
	if errors.Is(err, sql.ErrNoRows) {
		settings = domain.Settings{LocationID: req.LocationID, LabelWidth: 50, LabelHeight: 25}
	} else if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load printer settings")
		return
	}

	payload := labels.ZPL(items, settings)
	if req.Preview {
		respondJSON(w, http.StatusOK, labelResponse{Success: true, Count: len(items), ZPL: payload})
		return
	}

	addr, err := labels.Address(settings)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Printer IP not configured")
		return
	}
	if err := h.printer.Send(r.Context(), addr, payload); err != nil {
		applog.Error(r, "generate_labels", err, map[string]any{"printer": addr})
		respondError(w, http.StatusBadGateway, "Printer unreachable")
		return
	}
	applog.Audit(r, "print_labels", map[string]any{"count": len(items), "printer": addr})
	respondJSON(w, http.StatusOK, labelResponse{Success: true, Count: len(items), Printed: true})
}
