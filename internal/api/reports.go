package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"medtrack/m/domain"
	"medtrack/m/internal/inventory"
)

func (h *Handler) loadUsage(w http.ResponseWriter, r *http.Request) (inventory.UsageReport, bool) {
	if !h.requireRole(w, r, domain.RolePharmacist, domain.RolePharmacyTech) {
		return inventory.UsageReport{}, false
	}
	q := r.URL.Query()
	rep, err := h.inv.UsageReport(r.Context(), q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		respondServiceError(w, r, "usage_report", err)
		return inventory.UsageReport{}, false
	}
	return rep, true
}

func (h *Handler) usageReport(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.loadUsage(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

func (h *Handler) usageReportCSV(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.loadUsage(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=usage_%s_%s.csv", rep.StartDate, rep.EndDate))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"drug", "location", "clinical_use", "wastage", "unit_price", "clinical_value", "wastage_value"})
	for _, row := range rep.Data {
		_ = cw.Write([]string{
			row.DrugName,
			row.LocationName,
			strconv.FormatInt(row.ClinicalUse, 10),
			strconv.FormatInt(row.Wastage, 10),
			row.UnitPrice.StringFixed(2),
			row.ClinicalValue.StringFixed(2),
			row.WastageValue.StringFixed(2),
		})
	}
	_ = cw.Write([]string{
		"TOTAL", "",
		strconv.FormatInt(rep.Totals.ClinicalUse, 10),
		strconv.FormatInt(rep.Totals.Wastage, 10),
		"",
		rep.Totals.ClinicalValue.StringFixed(2),
		rep.Totals.WastageValue.StringFixed(2),
	})
	cw.Flush()
}
