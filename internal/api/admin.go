package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"medtrack/m/domain"
	"medtrack/m/internal/applog"
	"medtrack/m/internal/inventory"
	"medtrack/m/internal/validate"
)

// Drug handlers

type drugRequest struct {
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	StorageTemp string          `json:"storage_temp"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Version     *int64          `json:"version,omitempty"`
}

func (req drugRequest) validate() string {
	if strings.TrimSpace(req.Name) == "" {
		return "name is required"
	}
	if req.UnitPrice.IsNegative() {
		return "unit_price must not be negative"
	}
	return ""
}

const drugColumns = `id, name, COALESCE(category, '') AS category, COALESCE(storage_temp, '') AS storage_temp, unit_price, version, created_at`

func (h *Handler) listDrugs(w http.ResponseWriter, r *http.Request) {
	drugs := []domain.Drug{}
	if err := h.db.SelectContext(r.Context(), &drugs, `SELECT `+drugColumns+` FROM drugs ORDER BY name`); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch drugs")
		return
	}
	respondJSON(w, http.StatusOK, drugs)
}

func (h *Handler) createDrug(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RolePharmacist) {
		return
	}
	var req drugRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}
	res, err := h.db.ExecContext(r.Context(), `INSERT INTO drugs (name, category, storage_temp, unit_price, created_at) VALUES (?, ?, ?, ?, ?)`,
		strings.TrimSpace(req.Name), nullIfEmpty(req.Category), nullIfEmpty(req.StorageTemp), req.UnitPrice.InexactFloat64(), h.timestamp())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to create drug")
		return
	}
	id, _ := res.LastInsertId()
	applog.Audit(r, "create_drug", map[string]any{"drug_id": id})
	respondJSON(w, http.StatusCreated, map[string]any{"success": true, "id": id})
}

func (h *Handler) updateDrug(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RolePharmacist) {
		return
	}
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid drug id")
		return
	}
	var req drugRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}
	var version int64
	if err := h.db.GetContext(r.Context(), &version, `SELECT version FROM drugs WHERE id = ?`, id); err != nil {
		respondError(w, http.StatusNotFound, "Drug not found")
		return
	}
	if req.Version != nil && *req.Version != version {
		respondConflict(w, r, "update_drug")
		return
	}
	res, err := h.db.ExecContext(r.Context(), `UPDATE drugs SET name = ?, category = ?, storage_temp = ?, unit_price = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		strings.TrimSpace(req.Name), nullIfEmpty(req.Category), nullIfEmpty(req.StorageTemp), req.UnitPrice.InexactFloat64(), id, version)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update drug")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		respondConflict(w, r, "update_drug")
		return
	}
	applog.Audit(r, "update_drug", map[string]any{"drug_id": id})
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) deleteDrug(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RolePharmacist) {
		return
	}
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid drug id")
		return
	}
	want, ok := queryVersion(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid version")
		return
	}
	var version int64
	if err := h.db.GetContext(r.Context(), &version, `SELECT version FROM drugs WHERE id = ?`, id); err != nil {
		respondError(w, http.StatusNotFound, "Drug not found")
		return
	}
	if want != nil && *want != version {
		respondConflict(w, r, "delete_drug")
		return
	}
	var vials int
	if err := h.db.GetContext(r.Context(), &vials, `SELECT COUNT(*) FROM vials WHERE drug_id = ?`, id); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to check stock")
		return
	}
	if vials > 0 {
		respondError(w, http.StatusBadRequest, "Cannot delete drug with existing stock")
		return
	}

	tx, err := h.db.BeginTxx(r.Context(), nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to delete drug")
		return
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM stock_levels WHERE drug_id = ?`, id); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to delete drug")
		return
	}
	if _, err := tx.Exec(`DELETE FROM drugs WHERE id = ?`, id); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to delete drug")
		return
	}
	if err := tx.Commit(); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to delete drug")
		return
	}
	applog.Audit(r, "delete_drug", map[string]any{"drug_id": id})
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Location handlers

type locationRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	ParentHubID *int64 `json:"parent_hub_id"`
	Version     *int64 `json:"version,omitempty"`
}

// checkLocation validates a location payload; self is zero on create.
func (h *Handler) checkLocation(r *http.Request, req *locationRequest, self int64) string {
	req.Name = strings.TrimSpace(req.Name)
	req.Type = strings.ToUpper(strings.TrimSpace(req.Type))
	if req.Name == "" {
		return "name is required"
	}
	if !domain.ValidLocationType(req.Type) {
		return "type must be HUB, WARD or REMOTE"
	}
	if req.Type == domain.LocationHub {
		req.ParentHubID = nil
		return ""
	}
	if self != 0 {
		var children int
		if err := h.db.GetContext(r.Context(), &children, `SELECT COUNT(*) FROM locations WHERE parent_hub_id = ?`, self); err != nil {
			return "unable to check child locations"
		}
		if children > 0 {
			return "a hub with child locations must stay a hub"
		}
	}
	if req.ParentHubID == nil {
		return "parent_hub_id is required for wards and remote sites"
	}
	if *req.ParentHubID == self {
		return "a location cannot be its own parent"
	}
	var parentType string
	if err := h.db.GetContext(r.Context(), &parentType, `SELECT type FROM locations WHERE id = ?`, *req.ParentHubID); err != nil || parentType != domain.LocationHub {
		return "parent_hub_id must reference a hub"
	}
	return ""
}

func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	locs, err := h.inv.Locations(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch locations")
		return
	}
	respondJSON(w, http.StatusOK, locs)
}

func (h *Handler) createLocation(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RolePharmacist) {
		return
	}
	var req locationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := h.checkLocation(r, &req, 0); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}
	res, err := h.db.ExecContext(r.Context(), `INSERT INTO locations (name, type, parent_hub_id, created_at) VALUES (?, ?, ?, ?)`,
		req.Name, req.Type, req.ParentHubID, h.timestamp())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to create location")
		return
	}
	id, _ := res.LastInsertId()
	applog.Audit(r, "create_location", map[string]any{"location_id": id})
	respondJSON(w, http.StatusCreated, map[string]any{"success": true, "id": id})
}

func (h *Handler) updateLocation(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RolePharmacist) {
		return
	}
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid location id")
		return
	}
	var req locationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var version int64
	if err := h.db.GetContext(r.Context(), &version, `SELECT version FROM locations WHERE id = ?`, id); err != nil {
		respondError(w, http.StatusNotFound, "Location not found")
		return
	}
	if req.Version != nil && *req.Version != version {
		respondConflict(w, r, "update_location")
		return
	}
	if msg := h.checkLocation(r, &req, id); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}
	res, err := h.db.ExecContext(r.Context(), `UPDATE locations SET name = ?, type = ?, parent_hub_id = ?, version = version + 1
		WHERE id = ? AND version = ?`, req.Name, req.Type, req.ParentHubID, id, version)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update location")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		respondConflict(w, r, "update_location")
		return
	}
	applog.Audit(r, "update_location", map[string]any{"location_id": id})
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) deleteLocation(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RolePharmacist) {
		return
	}
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid location id")
		return
	}
	want, ok := queryVersion(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid version")
		return
	}
	var version int64
	if err := h.db.GetContext(r.Context(), &version, `SELECT version FROM locations WHERE id = ?`, id); err != nil {
		respondError(w, http.StatusNotFound, "Location not found")
		return
	}
	if want != nil && *want != version {
		respondConflict(w, r, "delete_location")
		return
	}

	checks := []struct {
		query string
		msg   string
	}{
		{`SELECT COUNT(*) FROM users WHERE location_id = ?1`, "Cannot delete location with assigned users"},
		{`SELECT COUNT(*) FROM vials WHERE location_id = ?1`, "Cannot delete location with existing stock"},
		{`SELECT COUNT(*) FROM transfers WHERE from_location_id = ?1 OR to_location_id = ?1`, "Cannot delete location with transfer history"},
		{`SELECT COUNT(*) FROM locations WHERE parent_hub_id = ?1`, "Cannot delete a hub that still has wards or remote sites"},
	}
	for _, c := range checks {
		var n int
		if err := h.db.GetContext(r.Context(), &n, c.query, id); err != nil {
			respondError(w, http.StatusInternalServerError, "unable to check dependencies")
			return
		}
		if n > 0 {
			respondError(w, http.StatusBadRequest, c.msg)
			return
		}
	}

	tx, err := h.db.BeginTxx(r.Context(), nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to delete location")
		return
	}
	defer tx.Rollback()
	for _, stmt := range []string{
		`DELETE FROM stock_levels WHERE location_id = ?`,
		`DELETE FROM settings WHERE location_id = ?`,
		`DELETE FROM locations WHERE id = ?`,
	} {
		if _, err := tx.Exec(stmt, id); err != nil {
			respondError(w, http.StatusInternalServerError, "unable to delete location")
			return
		}
	}
	if err := tx.Commit(); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to delete location")
		return
	}
	applog.Audit(r, "delete_location", map[string]any{"location_id": id})
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// User handlers

type userRequest struct {
	Username     *string `json:"username"`
	Password     string  `json:"password,omitempty"`
	Role         *string `json:"role"`
	LocationID   *int64  `json:"location_id"`
	CanDelegate  *bool   `json:"can_delegate"`
	IsSupervisor *bool   `json:"is_supervisor"`
	Email        *string `json:"email"`
	MobileNumber *string `json:"mobile_number"`
	Version      *int64  `json:"version,omitempty"`
}

// apply merges the request onto u and normalises contact fields.
func (h *Handler) apply(r *http.Request, req userRequest, u *domain.User) string {
	if req.Username != nil {
		name, ok := validate.Username(*req.Username)
		if !ok {
			return "username must be 3-50 letters, digits, dots, dashes or underscores"
		}
		u.Username = name
	}
	if req.Role != nil {
		u.Role = strings.ToUpper(strings.TrimSpace(*req.Role))
	}
	if !domain.ValidRole(u.Role) {
		return "role must be PHARMACIST, PHARMACY_TECH or NURSE"
	}
	if req.LocationID != nil {
		u.LocationID = *req.LocationID
	}
	var exists int
	if err := h.db.GetContext(r.Context(), &exists, `SELECT COUNT(*) FROM locations WHERE id = ?`, u.LocationID); err != nil || exists == 0 {
		return "Invalid location"
	}
	if req.CanDelegate != nil {
		u.CanDelegate = *req.CanDelegate
	}
	if req.IsSupervisor != nil {
		u.IsSupervisor = *req.IsSupervisor
	}
	if req.Email != nil {
		u.Email = ""
		if strings.TrimSpace(*req.Email) != "" {
			email, ok := validate.Email(*req.Email)
			if !ok {
				return "invalid email address"
			}
			u.Email = email
		}
	}
	if req.MobileNumber != nil {
		u.MobileNumber = ""
		if strings.TrimSpace(*req.MobileNumber) != "" {
			mobile, ok := validate.Mobile(*req.MobileNumber)
			if !ok {
				return "mobile_number must be an Australian mobile (04XX XXX XXX)"
			}
			u.MobileNumber = mobile
		}
	}
	if req.Password != "" && !validate.Password(req.Password) {
		return "password must be 8-64 characters with a letter and a digit"
	}
	return ""
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSupervisor(w, r); !ok {
		return
	}
	users := []domain.User{}
	err := h.db.SelectContext(r.Context(), &users, `SELECT `+inventory.UserColumns()+`
		FROM users u JOIN locations l ON l.id = u.location_id
		WHERE u.is_active = 1 ORDER BY u.username`)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch users")
		return
	}
	respondJSON(w, http.StatusOK, users)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE")
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSupervisor(w, r); !ok {
		return
	}
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username == nil || req.Role == nil || req.LocationID == nil || req.Password == "" {
		respondError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	var u domain.User
	if msg := h.apply(r, req, &u); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to secure password")
		return
	}
	// New accounts must choose their own password on first login.
	res, err := h.db.ExecContext(r.Context(), `INSERT INTO users (username, password_hash, role, location_id, can_delegate, is_supervisor,
		email, mobile_number, must_change_password, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		u.Username, string(hashed), u.Role, u.LocationID, u.CanDelegate, u.IsSupervisor, nullIfEmpty(u.Email), nullIfEmpty(u.MobileNumber), h.timestamp())
	if isUniqueViolation(err) {
		respondError(w, http.StatusConflict, "Username already exists")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to create user")
		return
	}
	id, _ := res.LastInsertId()
	applog.Audit(r, "create_user", map[string]any{"target_user": id})
	respondJSON(w, http.StatusCreated, map[string]any{"success": true, "id": id})
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSupervisor(w, r); !ok {
		return
	}
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := h.inv.User(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, "update_user", err)
		return
	}
	if req.Version != nil && *req.Version != u.Version {
		respondConflict(w, r, "update_user")
		return
	}
	if msg := h.apply(r, req, &u); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	stmt := `UPDATE users SET username = ?, role = ?, location_id = ?, email = ?, mobile_number = ?, can_delegate = ?, is_supervisor = ?, version = version + 1`
	args := []any{u.Username, u.Role, u.LocationID, nullIfEmpty(u.Email), nullIfEmpty(u.MobileNumber), u.CanDelegate, u.IsSupervisor}
	if req.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "unable to secure password")
			return
		}
		// A supervisor-set password must be replaced at next login.
		stmt += `, password_hash = ?, must_change_password = 1`
		args = append(args, string(hashed))
	}
	stmt += ` WHERE id = ? AND version = ?`
	args = append(args, id, u.Version)

	res, err := h.db.ExecContext(r.Context(), stmt, args...)
	if isUniqueViolation(err) {
		respondError(w, http.StatusConflict, "Username already exists")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update user")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		respondConflict(w, r, "update_user")
		return
	}
	applog.Audit(r, "update_user", map[string]any{"target_user": id, "password_reset": req.Password != ""})
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	me, ok := h.requireSupervisor(w, r)
	if !ok {
		return
	}
	id, ok := urlID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if id == me.ID {
		respondError(w, http.StatusBadRequest, "You cannot deactivate your own account")
		return
	}
	res, err := h.db.ExecContext(r.Context(), `UPDATE users SET is_active = 0, version = version + 1 WHERE id = ?`, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to deactivate user")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}
	applog.Audit(r, "deactivate_user", map[string]any{"target_user": id})
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Stock level handlers

type stockLevelUpdate struct {
	LocationID int64  `json:"location_id"`
	DrugID     int64  `json:"drug_id"`
	MinStock   int64  `json:"min_stock"`
	Version    *int64 `json:"version,omitempty"`
}

func (h *Handler) listStockLevels(w http.ResponseWriter, r *http.Request) {
	q := `SELECT id, location_id, drug_id, min_stock, version FROM stock_levels`
	args := []any{}
	if raw := r.URL.Query().Get("location_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid location_id")
			return
		}
		q += ` WHERE location_id = ?`
		args = append(args, id)
	}
	levels := []domain.StockLevel{}
	if err := h.db.SelectContext(r.Context(), &levels, q+` ORDER BY location_id, drug_id`, args...); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch stock levels")
		return
	}
	respondJSON(w, http.StatusOK, levels)
}

func (h *Handler) updateStockLevels(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RolePharmacist, domain.RolePharmacyTech) {
		return
	}
	var req struct {
		Updates []stockLevelUpdate `json:"updates"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Updates) == 0 {
		respondError(w, http.StatusBadRequest, "updates must not be empty")
		return
	}

	tx, err := h.db.BeginTxx(r.Context(), nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update stock levels")
		return
	}
	defer tx.Rollback()

	for _, u := range req.Updates {
		if u.MinStock < 0 {
			respondError(w, http.StatusBadRequest, "min_stock must not be negative")
			return
		}
		var current domain.StockLevel
		err := tx.Get(&current, `SELECT id, location_id, drug_id, min_stock, version FROM stock_levels WHERE location_id = ? AND drug_id = ?`, u.LocationID, u.DrugID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.Exec(`INSERT INTO stock_levels (location_id, drug_id, min_stock, version) VALUES (?, ?, ?, 1)`, u.LocationID, u.DrugID, u.MinStock); err != nil {
				respondError(w, http.StatusBadRequest, "unknown location or drug")
				return
			}
		case err != nil:
			respondError(w, http.StatusInternalServerError, "unable to update stock levels")
			return
		default:
			if u.Version != nil && *u.Version != current.Version {
				respondConflict(w, r, "update_stock_levels")
				return
			}
			if _, err := tx.Exec(`UPDATE stock_levels SET min_stock = ?, version = version + 1 WHERE id = ?`, u.MinStock, current.ID); err != nil {
				respondError(w, http.StatusInternalServerError, "unable to update stock levels")
				return
			}
		}
	}
	if err := tx.Commit(); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update stock levels")
		return
	}
	applog.Audit(r, "update_stock_levels", map[string]any{"count": len(req.Updates)})
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Settings handlers

type settingsRequest struct {
	LocationID  int64  `json:"location_id"`
	PrinterIP   string `json:"printer_ip"`
	PrinterPort string `json:"printer_port"`
	LabelWidth  *int   `json:"label_width"`
	LabelHeight *int   `json:"label_height"`
	MarginTop   *int   `json:"margin_top"`
	MarginRight *int   `json:"margin_right"`
}

const settingsColumns = `id, location_id, COALESCE(printer_ip, '') AS printer_ip, COALESCE(printer_port, '') AS printer_port,
	label_width, label_height, margin_top, margin_right, updated_at`

func (h *Handler) loadSettings(r *http.Request, locationID int64) (domain.Settings, error) {
	var s domain.Settings
	err := h.db.GetContext(r.Context(), &s, `SELECT `+settingsColumns+` FROM settings WHERE location_id = ?`, locationID)
	return s, err
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("location_id"), 10, 64)
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]any{})
		return
	}
	s, err := h.loadSettings(r, id)
	if errors.Is(err, sql.ErrNoRows) {
		respondJSON(w, http.StatusOK, map[string]any{})
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch settings")
		return
	}
	respondJSON(w, http.StatusOK, s)
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func (h *Handler) saveSettings(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RolePharmacist, domain.RolePharmacyTech) {
		return
	}
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.LocationID <= 0 {
		respondError(w, http.StatusBadRequest, "location_id is required")
		return
	}
	if req.PrinterPort != "" {
		if p, err := strconv.Atoi(req.PrinterPort); err != nil || p <= 0 || p > 65535 {
			respondError(w, http.StatusBadRequest, "printer_port must be a TCP port")
			return
		}
	}
	width, height := intOr(req.LabelWidth, 50), intOr(req.LabelHeight, 25)
	top, right := intOr(req.MarginTop, 0), intOr(req.MarginRight, 0)
	if width <= 0 || height <= 0 || top < 0 || right < 0 {
		respondError(w, http.StatusBadRequest, "label dimensions must be positive")
		return
	}

	_, err := h.db.ExecContext(r.Context(), `INSERT INTO settings (location_id, printer_ip, printer_port, label_width, label_height, margin_top, margin_right, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(location_id) DO UPDATE SET printer_ip = excluded.printer_ip, printer_port = excluded.printer_port,
			label_width = excluded.label_width, label_height = excluded.label_height,
			margin_top = excluded.margin_top, margin_right = excluded.margin_right, updated_at = excluded.updated_at`,
		req.LocationID, nullIfEmpty(req.PrinterIP), nullIfEmpty(req.PrinterPort), width, height, top, right, h.timestamp())
	if err != nil {
		respondError(w, http.StatusBadRequest, "unable to save settings")
		return
	}
	applog.Audit(r, "save_settings", map[string]any{"location_id": req.LocationID})
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) auditLog(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RolePharmacist) {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.inv.AuditTrail(r.Context(), limit)
	if err != nil {
		respondServiceError(w, r, "audit_log", err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}
