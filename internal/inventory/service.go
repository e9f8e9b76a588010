// Package inventory owns vial stock and the transfer workflow between locations.
package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"medtrack/m/domain"
	"medtrack/m/internal/network"
	"medtrack/m/internal/notify"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("version conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidRoute = network.ErrInvalidRoute
	ErrUnavailable  = errors.New("vial unavailable")
	ErrInvalidInput = errors.New("invalid input")
)

// ConflictMessage is what clients are shown for any ErrConflict.
const ConflictMessage = "Data has changed. Please refresh."

// Service runs inventory operations against the database.
type Service struct {
	db       *sqlx.DB
	notifier notify.Notifier
	now      func() time.Time
}

func New(db *sqlx.DB, notifier notify.Notifier) *Service {
	return &Service{db: db, notifier: notifier, now: time.Now}
}

// WithClock replaces the service clock; used for deterministic expiry maths.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(domain.TimestampLayout)
}

func (s *Service) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Service) audit(ctx context.Context, tx *sqlx.Tx, userID int64, action string, details map[string]any) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_log (user_id, action, details, timestamp) VALUES (?, ?, ?, ?)`,
		userID, action, string(raw), s.timestamp())
	if err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// AuditTrail returns the most recent audit rows, newest first.
func (s *Service) AuditTrail(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	entries := []domain.AuditEntry{}
	err := s.db.SelectContext(ctx, &entries, `SELECT id, user_id, action, COALESCE(details, '') AS details, timestamp
		FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	return entries, err
}

type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

const userColumns = `u.id, u.username, u.password_hash, u.role, u.location_id,
	l.name AS location_name, l.type AS location_type, l.parent_hub_id,
	u.can_delegate, u.is_supervisor, COALESCE(u.email, '') AS email,
	COALESCE(u.mobile_number, '') AS mobile_number, u.is_active,
	u.must_change_password, u.version, u.created_at`

// User loads a user joined with their location.
func (s *Service) User(ctx context.Context, id int64) (domain.User, error) {
	return loadUser(ctx, s.db, id)
}

func loadUser(ctx context.Context, q queryer, id int64) (domain.User, error) {
	var u domain.User
	err := q.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users u JOIN locations l ON l.id = u.location_id WHERE u.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return u, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return u, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

// UserColumns is the projection every user query shares.
func UserColumns() string { return userColumns }

func loadLocation(ctx context.Context, q queryer, id int64) (domain.Location, error) {
	var l domain.Location
	err := q.GetContext(ctx, &l, `SELECT id, name, type, parent_hub_id, version, created_at FROM locations WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return l, fmt.Errorf("location %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return l, fmt.Errorf("load location: %w", err)
	}
	return l, nil
}

// Locations lists every location ordered by type then name.
func (s *Service) Locations(ctx context.Context) ([]domain.Location, error) {
	locs := []domain.Location{}
	err := s.db.SelectContext(ctx, &locs, `SELECT id, name, type, parent_hub_id, version, created_at FROM locations ORDER BY type, name`)
	return locs, err
}

// Destinations lists the locations a transfer from id may target.
func (s *Service) Destinations(ctx context.Context, id int64) ([]domain.Location, error) {
	from, err := loadLocation(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	all, err := s.Locations(ctx)
	if err != nil {
		return nil, err
	}
	return network.AllowedDestinations(from, all), nil
}

func checkVersion(want *int64, got int64) error {
	if want != nil && *want != got {
		return ErrConflict
	}
	return nil
}
