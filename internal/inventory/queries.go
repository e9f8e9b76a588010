package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"medtrack/m/domain"
	"medtrack/m/internal/validate"
)

const stockItemColumns = `v.*, d.name AS drug_name, COALESCE(d.category, '') AS category,
	COALESCE(d.storage_temp, '') AS storage_temp, d.unit_price,
	l.name AS location_name, l.type AS location_type`

const stockItemFrom = ` FROM vials v
	JOIN drugs d ON d.id = v.drug_id
	JOIN locations l ON l.id = v.location_id`

type DashboardStats struct {
	TotalStock   int `json:"total_stock"`
	ExpiringSoon int `json:"expiring_soon"`
	WarningStock int `json:"warning_stock"`
	HealthyStock int `json:"healthy_stock"`
}

type Dashboard struct {
	User  domain.User        `json:"user"`
	Stock []domain.StockItem `json:"stock"`
	Stats DashboardStats     `json:"stats"`
}

// Dashboard returns the available stock a user may see, soonest expiry first.
// Pharmacy staff see the whole network, nurses only their own location.
func (s *Service) Dashboard(ctx context.Context, userID int64) (Dashboard, error) {
	var d Dashboard
	user, err := loadUser(ctx, s.db, userID)
	if err != nil {
		return d, err
	}
	d.User = user

	query := `SELECT ` + stockItemColumns + stockItemFrom + ` WHERE v.status = 'AVAILABLE'`
	args := []any{}
	if !domain.SeesAllStock(user.Role) {
		query += ` AND v.location_id = ?`
		args = append(args, user.LocationID)
	}
	query += ` ORDER BY v.expiry_date ASC, v.id ASC`

	d.Stock = []domain.StockItem{}
	if err := s.db.SelectContext(ctx, &d.Stock, query, args...); err != nil {
		return d, fmt.Errorf("load dashboard stock: %w", err)
	}
	s.annotate(d.Stock)

	d.Stats.TotalStock = len(d.Stock)
	for _, item := range d.Stock {
		switch {
		case item.DaysUntilExpiry <= domain.CriticalDays:
			d.Stats.ExpiringSoon++
		case item.DaysUntilExpiry <= domain.WarningDays:
			d.Stats.WarningStock++
		default:
			d.Stats.HealthyStock++
		}
	}
	return d, nil
}

// SearchLimit caps stock search results.
const SearchLimit = 50

// Search finds vials by asset id, batch or drug name, optionally filtered by
// status. An empty query with status ALL returns nothing.
func (s *Service) Search(ctx context.Context, query, status string) ([]domain.StockItem, error) {
	query = validate.Search(query)
	if status == "" {
		status = "ALL"
	}
	items := []domain.StockItem{}
	if query == "" && status == "ALL" {
		return items, nil
	}

	q := `SELECT ` + stockItemColumns + stockItemFrom + ` WHERE 1=1`
	args := []any{}
	if query != "" {
		like := "%" + query + "%"
		q += ` AND (v.asset_id LIKE ? ESCAPE '\' OR v.batch_number LIKE ? ESCAPE '\' OR d.name LIKE ? ESCAPE '\')`
		args = append(args, like, like, like)
	}
	if status != "ALL" {
		q += ` AND v.status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY v.created_at DESC, v.id DESC LIMIT ?`
	args = append(args, SearchLimit)

	if err := s.db.SelectContext(ctx, &items, q, args...); err != nil {
		return nil, fmt.Errorf("search stock: %w", err)
	}
	s.annotate(items)
	return items, nil
}

// LocationStock lists the available vials at one location, soonest expiry first.
func (s *Service) LocationStock(ctx context.Context, locationID int64) ([]domain.StockItem, error) {
	if _, err := loadLocation(ctx, s.db, locationID); err != nil {
		return nil, err
	}
	items := []domain.StockItem{}
	err := s.db.SelectContext(ctx, &items, `SELECT `+stockItemColumns+stockItemFrom+`
		WHERE v.location_id = ? AND v.status = 'AVAILABLE'
		ORDER BY v.expiry_date ASC, v.id ASC`, locationID)
	if err != nil {
		return nil, fmt.Errorf("load location stock: %w", err)
	}
	s.annotate(items)
	return items, nil
}

const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
)

type LocationHealth struct {
	Expiry string `json:"expiry"`
	Level  string `json:"level"`
}

// NetworkStatus rates every location on expiry and stock level.
func (s *Service) NetworkStatus(ctx context.Context) (map[int64]LocationHealth, error) {
	var locIDs []int64
	if err := s.db.SelectContext(ctx, &locIDs, `SELECT id FROM locations`); err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	status := make(map[int64]LocationHealth, len(locIDs))
	for _, id := range locIDs {
		status[id] = LocationHealth{Expiry: HealthHealthy, Level: HealthHealthy}
	}

	var vials []struct {
		LocationID int64  `db:"location_id"`
		ExpiryDate string `db:"expiry_date"`
	}
	if err := s.db.SelectContext(ctx, &vials, `SELECT location_id, expiry_date FROM vials WHERE status = 'AVAILABLE'`); err != nil {
		return nil, fmt.Errorf("list available vials: %w", err)
	}
	now := s.now()
	for _, v := range vials {
		days, ok := domain.DaysUntil(v.ExpiryDate, now)
		if !ok {
			continue
		}
		h := status[v.LocationID]
		switch {
		case days < domain.CriticalDays:
			h.Expiry = HealthCritical
		case days < domain.WarningDays && h.Expiry != HealthCritical:
			h.Expiry = HealthWarning
		}
		status[v.LocationID] = h
	}

	var low []int64
	err := s.db.SelectContext(ctx, &low, `SELECT DISTINCT sl.location_id
		FROM stock_levels sl
		LEFT JOIN (
			SELECT location_id, drug_id, COUNT(*) AS current_stock
			FROM vials WHERE status = 'AVAILABLE'
			GROUP BY location_id, drug_id
		) v ON v.location_id = sl.location_id AND v.drug_id = sl.drug_id
		WHERE COALESCE(v.current_stock, 0) < sl.min_stock`)
	if err != nil {
		return nil, fmt.Errorf("check stock levels: %w", err)
	}
	for _, id := range low {
		h := status[id]
		h.Level = HealthCritical
		status[id] = h
	}
	return status, nil
}

const (
	EventCreated           = "CREATED"
	EventTransferStarted   = "TRANSFER_STARTED"
	EventTransferApproved  = "TRANSFER_APPROVED"
	EventTransferCompleted = "TRANSFER_COMPLETED"
	EventTransferCancelled = "TRANSFER_CANCELLED"
	EventUsed              = "USED"
	EventDiscarded         = "DISCARDED"
)

type JourneyEvent struct {
	Type      string            `json:"type"`
	Timestamp string            `json:"timestamp"`
	Title     string            `json:"title"`
	Location  string            `json:"location"`
	User      string            `json:"user"`
	Details   map[string]string `json:"details"`
}

type Journey struct {
	Vial     domain.StockItem `json:"vial"`
	Timeline []JourneyEvent   `json:"timeline"`
}

// eventRank orders same-second events so later lifecycle steps sort first.
var eventRank = map[string]int{
	EventCreated:           0,
	EventTransferStarted:   1,
	EventTransferApproved:  2,
	EventTransferCancelled: 3,
	EventTransferCompleted: 3,
	EventUsed:              4,
	EventDiscarded:         4,
}

// Journey reconstructs the life of a vial, newest event first.
func (s *Service) Journey(ctx context.Context, assetID string) (Journey, error) {
	var j Journey
	err := s.db.GetContext(ctx, &j.Vial, `SELECT `+stockItemColumns+stockItemFrom+` WHERE v.asset_id = ?`, assetID)
	if errors.Is(err, sql.ErrNoRows) {
		return j, fmt.Errorf("asset %s: %w", assetID, ErrNotFound)
	}
	if err != nil {
		return j, fmt.Errorf("load vial: %w", err)
	}
	j.Vial.Annotate(s.now())

	var receivedBy sql.NullString
	err = s.db.GetContext(ctx, &receivedBy, `SELECT u.username FROM audit_log a JOIN users u ON u.id = a.user_id
		WHERE a.action = 'RECEIVE_STOCK' AND a.details LIKE ? ORDER BY a.id LIMIT 1`, "%\""+assetID+"\"%")
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return j, fmt.Errorf("load receipt: %w", err)
	}
	j.Timeline = append(j.Timeline, JourneyEvent{
		Type:      EventCreated,
		Timestamp: j.Vial.CreatedAt,
		Title:     "Stock Received",
		Location:  j.Vial.LocationName,
		User:      orDefault(receivedBy.String, "System"),
		Details: map[string]string{
			"Batch":         j.Vial.BatchNumber,
			"Expiry":        j.Vial.ExpiryDate,
			"Goods Receipt": deref(j.Vial.GoodsReceiptNumber),
		},
	})

	var transfers []domain.TransferView
	err = s.db.SelectContext(ctx, &transfers, transferViewQuery+`
		JOIN transfer_items vi ON vi.transfer_id = t.id
		WHERE vi.vial_id = ?
		ORDER BY t.created_at, t.id`, j.Vial.ID)
	if err != nil {
		return j, fmt.Errorf("load vial transfers: %w", err)
	}
	for _, t := range transfers {
		j.Timeline = append(j.Timeline, JourneyEvent{
			Type:      EventTransferStarted,
			Timestamp: t.CreatedAt,
			Title:     "Transfer Initiated",
			Location:  t.FromLocation,
			User:      t.CreatedByName,
			Details:   map[string]string{"Destination": t.ToLocation, "Status": t.Status},
		})
		if t.ApprovedAt != nil {
			j.Timeline = append(j.Timeline, JourneyEvent{
				Type:      EventTransferApproved,
				Timestamp: *t.ApprovedAt,
				Title:     "Transfer Approved",
				Location:  t.ToLocation,
				User:      orDefault(deref(t.ApprovedByName), "System"),
				Details:   map[string]string{"Source": t.FromLocation},
			})
		}
		if t.CompletedAt != nil {
			j.Timeline = append(j.Timeline, JourneyEvent{
				Type:      EventTransferCompleted,
				Timestamp: *t.CompletedAt,
				Title:     "Transfer Completed",
				Location:  t.ToLocation,
				User:      orDefault(deref(t.CompletedByName), "System"),
				Details:   map[string]string{"Source": t.FromLocation},
			})
		}
		if t.Status == domain.TransferCancelled {
			ev, err := s.cancellation(ctx, t)
			if err != nil {
				return j, err
			}
			j.Timeline = append(j.Timeline, ev)
		}
	}

	if j.Vial.Status == domain.VialUsedClinical || j.Vial.Status == domain.VialDiscarded {
		var who sql.NullString
		if j.Vial.UsedBy != nil {
			err := s.db.GetContext(ctx, &who, `SELECT username FROM users WHERE id = ?`, *j.Vial.UsedBy)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return j, fmt.Errorf("load user: %w", err)
			}
		}
		ev := JourneyEvent{
			Timestamp: deref(j.Vial.UsedAt),
			Location:  j.Vial.LocationName,
			User:      orDefault(who.String, "Unknown"),
		}
		if j.Vial.Status == domain.VialUsedClinical {
			ev.Type, ev.Title = EventUsed, "Clinical Use"
			ev.Details = map[string]string{"Patient MRN": deref(j.Vial.PatientMRN), "Notes": deref(j.Vial.ClinicalNotes)}
		} else {
			ev.Type, ev.Title = EventDiscarded, "Stock Discarded"
			ev.Details = map[string]string{"Reason": deref(j.Vial.DiscardReason), "Register #": deref(j.Vial.DisposalRegisterNumber)}
		}
		j.Timeline = append(j.Timeline, ev)
	}

	sort.SliceStable(j.Timeline, func(a, b int) bool {
		ta, tb := j.Timeline[a], j.Timeline[b]
		if ta.Timestamp != tb.Timestamp {
			return ta.Timestamp > tb.Timestamp
		}
		return eventRank[ta.Type] > eventRank[tb.Type]
	})
	return j, nil
}

// cancellation reads who cancelled a transfer and when from its audit row.
func (s *Service) cancellation(ctx context.Context, t domain.TransferView) (JourneyEvent, error) {
	var row struct {
		Timestamp string         `db:"timestamp"`
		Username  sql.NullString `db:"username"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT a.timestamp, u.username FROM audit_log a LEFT JOIN users u ON u.id = a.user_id
		WHERE a.action = 'CANCEL_TRANSFER' AND json_extract(a.details, '$.transfer_id') = ? ORDER BY a.id DESC LIMIT 1`, t.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return JourneyEvent{}, fmt.Errorf("load cancellation: %w", err)
	}
	return JourneyEvent{
		Type:      EventTransferCancelled,
		Timestamp: orDefault(row.Timestamp, t.CreatedAt),
		Title:     "Transfer Cancelled",
		Location:  t.FromLocation,
		User:      orDefault(row.Username.String, "Unknown"),
		Details:   map[string]string{"Destination": t.ToLocation},
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
