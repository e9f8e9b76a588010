package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jmoiron/sqlx"

	"medtrack/m/domain"
	"medtrack/m/internal/applog"
	"medtrack/m/internal/heartbeat"
	"medtrack/m/internal/inventory"
	"medtrack/m/internal/labels"
	"medtrack/m/internal/notify"
)

type ctxKey string

const (
	ctxUserID ctxKey = "userID"
	ctxRole   ctxKey = "role"
)

// Options carries the collaborators a Handler needs besides the database.
type Options struct {
	Secret         string
	TokenTTL       time.Duration
	AllowedOrigins []string
	Notifier       notify.Notifier
	Monitor        *heartbeat.Monitor
	Printer        labels.Sender
}

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	db       *sqlx.DB
	secret   string
	tokenTTL time.Duration
	origins  []string
	inv      *inventory.Service
	notifier notify.Notifier
	beats    *heartbeat.Monitor
	printer  labels.Sender
	now      func() time.Time
}

// New constructs a Handler.
func New(db *sqlx.DB, opts Options) *Handler {
	h := &Handler{
		db:       db,
		secret:   opts.Secret,
		tokenTTL: opts.TokenTTL,
		origins:  opts.AllowedOrigins,
		notifier: opts.Notifier,
		beats:    opts.Monitor,
		printer:  opts.Printer,
		now:      time.Now,
	}
	if h.tokenTTL <= 0 {
		h.tokenTTL = 12 * time.Hour
	}
	if len(h.origins) == 0 {
		h.origins = []string{"*"}
	}
	if h.beats == nil {
		h.beats = heartbeat.New(0)
	}
	if h.printer == nil {
		h.printer = labels.Printer{}
	}
	h.inv = inventory.New(db, opts.Notifier)
	applog.UserFunc = currentUserID
	return h
}

// Inventory exposes the service the handlers delegate to.
func (h *Handler) Inventory() *inventory.Service { return h.inv }

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.login)
		r.Post("/forgot_password", h.forgotPassword)
		r.Post("/reset_password", h.resetPassword)
		r.Post("/heartbeat", h.heartbeat)

		r.Group(func(pr chi.Router) {
			pr.Use(h.authMiddleware)

			pr.Post("/change_password", h.changePassword)
			pr.Get("/dashboard/{userId}", h.dashboard)

			pr.Post("/receive_stock", h.receiveStock)
			pr.Post("/use_stock", h.useStock)
			pr.Post("/discard_stock", h.discardStock)
			pr.Get("/stock_search", h.stockSearch)
			pr.Get("/stock_journey/{assetId}", h.stockJourney)
			pr.Get("/stock/all", h.networkStatus)
			pr.Get("/stock/{locationId}", h.locationStock)

			pr.Post("/create_transfer", h.createTransfer)
			pr.Post("/transfer/{id}/{action}", h.transferAction)
			pr.Get("/transfers/{locationId}", h.transfers)

			pr.Route("/drugs", func(r chi.Router) {
				r.Get("/", h.listDrugs)
				r.Post("/", h.createDrug)
				r.Put("/{id}", h.updateDrug)
				r.Delete("/{id}", h.deleteDrug)
			})

			pr.Route("/locations", func(r chi.Router) {
				r.Get("/", h.listLocations)
				r.Post("/", h.createLocation)
				r.Put("/{id}", h.updateLocation)
				r.Delete("/{id}", h.deleteLocation)
				r.Get("/{id}/destinations", h.destinations)
			})

			pr.Route("/users", func(r chi.Router) {
				r.Get("/", h.listUsers)
				r.Post("/", h.createUser)
				r.Put("/{id}", h.updateUser)
				r.Delete("/{id}", h.deleteUser)
			})

			pr.Get("/stock_levels", h.listStockLevels)
			pr.Put("/stock_levels", h.updateStockLevels)

			pr.Get("/settings", h.getSettings)
			pr.Post("/settings", h.saveSettings)
			pr.Post("/generate_labels", h.generateLabels)

			pr.Get("/reports/usage", h.usageReport)
			pr.Get("/reports/usage.csv", h.usageReportCSV)
			pr.Get("/audit_log", h.auditLog)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	at := h.beats.Beat()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "alive",
		"timestamp": float64(at.UnixNano()) / float64(time.Second),
	})
}

// respondServiceError maps inventory errors onto HTTP statuses.
func respondServiceError(w http.ResponseWriter, r *http.Request, action string, err error) {
	switch {
	case errors.Is(err, inventory.ErrConflict):
		applog.Security(r, action+"_conflict", nil)
		respondError(w, http.StatusConflict, inventory.ConflictMessage)
	case errors.Is(err, inventory.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, inventory.ErrForbidden):
		applog.Security(r, action+"_forbidden", map[string]any{"reason": err.Error()})
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, inventory.ErrInvalidRoute),
		errors.Is(err, inventory.ErrInvalidState),
		errors.Is(err, inventory.ErrUnavailable),
		errors.Is(err, inventory.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		applog.Error(r, action, err, nil)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondConflict(w http.ResponseWriter, r *http.Request, action string) {
	respondServiceError(w, r, action, inventory.ErrConflict)
}

func currentUserID(r *http.Request) int64 {
	id, _ := r.Context().Value(ctxUserID).(int64)
	return id
}

func currentRole(r *http.Request) string {
	role, _ := r.Context().Value(ctxRole).(string)
	return role
}

func urlID(r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	return id, err == nil && id > 0
}

// queryVersion reads an optional ?version= parameter.
func queryVersion(r *http.Request) (*int64, bool) {
	raw := r.URL.Query().Get("version")
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, false
	}
	return &v, true
}

func (h *Handler) timestamp() string {
	return h.now().UTC().Format(domain.TimestampLayout)
}

// Helpers
func nullIfEmpty(val string) *string {
	trimmed := strings.TrimSpace(val)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func decodeJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
