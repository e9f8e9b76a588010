package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"medtrack/m/domain"
	"medtrack/m/internal/network"
)

const (
	TransferApprove  = "approve"
	TransferComplete = "complete"
	TransferCancel   = "cancel"
)

type CreateTransferInput struct {
	FromLocationID int64   `json:"from_location_id"`
	ToLocationID   int64   `json:"to_location_id"`
	VialIDs        []int64 `json:"vial_ids"`
	CreatedBy      int64   `json:"created_by,omitempty"`
}

type CreateTransferResult struct {
	Success       bool   `json:"success"`
	TransferID    int64  `json:"transfer_id"`
	Status        string `json:"status"`
	NeedsApproval bool   `json:"needs_approval"`
	ItemCount     int    `json:"item_count"`
}

// CreateTransfer moves a set of available vials from one location towards
// another. Hub to hub requests wait for approval, a hub stocking its own ward
// completes immediately and every other route goes in transit. Vials are
// reserved as soon as the request exists so they cannot be used twice.
func (s *Service) CreateTransfer(ctx context.Context, actorID int64, in CreateTransferInput) (CreateTransferResult, error) {
	var res CreateTransferResult
	if len(in.VialIDs) == 0 {
		return res, fmt.Errorf("%w: vial_ids must not be empty", ErrInvalidInput)
	}
	seen := make(map[int64]bool, len(in.VialIDs))
	for _, id := range in.VialIDs {
		if seen[id] {
			return res, fmt.Errorf("%w: vial %d listed twice", ErrInvalidInput, id)
		}
		seen[id] = true
	}

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		actor, err := loadUser(ctx, tx, actorID)
		if err != nil {
			return err
		}
		from, err := loadLocation(ctx, tx, in.FromLocationID)
		if err != nil {
			return err
		}
		to, err := loadLocation(ctx, tx, in.ToLocationID)
		if err != nil {
			return err
		}
		if err := network.CanTransfer(from, to); err != nil {
			return err
		}
		if actor.Role == domain.RoleNurse && actor.LocationID != from.ID && actor.LocationID != to.ID {
			return fmt.Errorf("%w: nurses can only move stock to or from their own location", ErrForbidden)
		}

		for _, id := range in.VialIDs {
			var v domain.Vial
			err := tx.GetContext(ctx, &v, `SELECT * FROM vials WHERE id = ?`, id)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: vial %d does not exist", ErrUnavailable, id)
			}
			if err != nil {
				return fmt.Errorf("load vial: %w", err)
			}
			if v.LocationID != from.ID || v.Status != domain.VialAvailable {
				return fmt.Errorf("%w: vial %s is not available at %s", ErrUnavailable, v.AssetID, from.Name)
			}
		}

		status := network.InitialStatus(from, to)
		ts := s.timestamp()
		var completedAt *string
		var completedBy *int64
		if status == domain.TransferCompleted {
			completedAt, completedBy = &ts, &actor.ID
		}

		result, err := tx.ExecContext(ctx, `INSERT INTO transfers (from_location_id, to_location_id, status, created_by, completed_by, created_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, from.ID, to.ID, status, actor.ID, completedBy, ts, completedAt)
		if err != nil {
			return fmt.Errorf("insert transfer: %w", err)
		}
		res.TransferID, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("transfer id: %w", err)
		}

		for _, id := range in.VialIDs {
			if _, err := tx.ExecContext(ctx, `INSERT INTO transfer_items (transfer_id, vial_id) VALUES (?, ?)`, res.TransferID, id); err != nil {
				return fmt.Errorf("insert transfer item: %w", err)
			}
		}
		if status == domain.TransferCompleted {
			err = moveItems(ctx, tx, res.TransferID, domain.VialAvailable, to.ID)
		} else {
			err = moveItems(ctx, tx, res.TransferID, domain.VialInTransit, from.ID)
		}
		if err != nil {
			return err
		}

		res.Success = true
		res.Status = status
		res.NeedsApproval = status == domain.TransferPending
		res.ItemCount = len(in.VialIDs)
		return s.audit(ctx, tx, actor.ID, "CREATE_TRANSFER", map[string]any{
			"transfer_id":      res.TransferID,
			"from_location_id": from.ID,
			"to_location_id":   to.ID,
			"vial_ids":         in.VialIDs,
			"status":           status,
		})
	})
	return res, err
}

// moveItems sets status and location on every vial of a transfer, bumping versions.
func moveItems(ctx context.Context, tx *sqlx.Tx, transferID int64, status string, locationID int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE vials SET status = ?, location_id = ?, version = version + 1
		WHERE id IN (SELECT vial_id FROM transfer_items WHERE transfer_id = ?)`, status, locationID, transferID)
	if err != nil {
		return fmt.Errorf("update transfer vials: %w", err)
	}
	return nil
}

func (s *Service) ApproveTransfer(ctx context.Context, actorID, id int64, version *int64) error {
	return s.TransferAction(ctx, actorID, id, TransferApprove, version)
}

func (s *Service) CompleteTransfer(ctx context.Context, actorID, id int64, version *int64) error {
	return s.TransferAction(ctx, actorID, id, TransferComplete, version)
}

func (s *Service) CancelTransfer(ctx context.Context, actorID, id int64, version *int64) error {
	return s.TransferAction(ctx, actorID, id, TransferCancel, version)
}

// TransferAction advances a transfer through its lifecycle. A stale version
// yields ErrConflict before any other check.
func (s *Service) TransferAction(ctx context.Context, actorID, id int64, action string, version *int64) error {
	action = strings.ToLower(action)
	switch action {
	case TransferApprove, TransferComplete, TransferCancel:
	default:
		return fmt.Errorf("%w: unknown transfer action %q", ErrInvalidInput, action)
	}

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var t domain.Transfer
		err := tx.GetContext(ctx, &t, `SELECT * FROM transfers WHERE id = ?`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("transfer %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load transfer: %w", err)
		}
		if err := checkVersion(version, t.Version); err != nil {
			return err
		}
		actor, err := loadUser(ctx, tx, actorID)
		if err != nil {
			return err
		}

		ts := s.timestamp()
		var (
			stmt string
			args []any
		)
		switch action {
		case TransferApprove:
			if t.Status != domain.TransferPending {
				return fmt.Errorf("%w: transfer is %s, not PENDING", ErrInvalidState, t.Status)
			}
			if err := s.canApprove(ctx, tx, actor, t); err != nil {
				return err
			}
			stmt = `UPDATE transfers SET status = ?, approved_by = ?, approved_at = ?, version = version + 1 WHERE id = ? AND version = ?`
			args = []any{domain.TransferInTransit, actor.ID, ts, t.ID, t.Version}
		case TransferComplete:
			if t.Status != domain.TransferInTransit {
				return fmt.Errorf("%w: transfer is %s, not IN_TRANSIT", ErrInvalidState, t.Status)
			}
			to, err := loadLocation(ctx, tx, t.ToLocationID)
			if err != nil {
				return err
			}
			if actor.LocationID != to.ID && !(actor.Role == domain.RolePharmacist && actor.LocationID == to.HubID()) {
				return fmt.Errorf("%w: only staff at %s can receive this transfer", ErrForbidden, to.Name)
			}
			stmt = `UPDATE transfers SET status = ?, completed_by = ?, completed_at = ?, version = version + 1 WHERE id = ? AND version = ?`
			args = []any{domain.TransferCompleted, actor.ID, ts, t.ID, t.Version}
		case TransferCancel:
			if t.Status != domain.TransferPending && t.Status != domain.TransferInTransit {
				return fmt.Errorf("%w: transfer is %s and can no longer be cancelled", ErrInvalidState, t.Status)
			}
			if actor.ID != t.CreatedBy && actor.Role != domain.RolePharmacist &&
				actor.LocationID != t.FromLocationID && actor.LocationID != t.ToLocationID {
				return fmt.Errorf("%w: not involved in this transfer", ErrForbidden)
			}
			stmt = `UPDATE transfers SET status = ?, version = version + 1 WHERE id = ? AND version = ?`
			args = []any{domain.TransferCancelled, t.ID, t.Version}
		}

		result, err := tx.ExecContext(ctx, stmt, args...)
		if err != nil {
			return fmt.Errorf("update transfer: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return ErrConflict
		}

		switch action {
		case TransferApprove:
			err = moveItems(ctx, tx, t.ID, domain.VialInTransit, t.FromLocationID)
		case TransferComplete:
			err = moveItems(ctx, tx, t.ID, domain.VialAvailable, t.ToLocationID)
		case TransferCancel:
			err = moveItems(ctx, tx, t.ID, domain.VialAvailable, t.FromLocationID)
		}
		if err != nil {
			return err
		}

		return s.audit(ctx, tx, actor.ID, strings.ToUpper(action)+"_TRANSFER", map[string]any{
			"transfer_id":      t.ID,
			"from_location_id": t.FromLocationID,
			"to_location_id":   t.ToLocationID,
			"previous_status":  t.Status,
		})
	})
}

// canApprove enforces that only a pharmacist at the other hub, who did not
// raise the request, may release it.
func (s *Service) canApprove(ctx context.Context, tx *sqlx.Tx, actor domain.User, t domain.Transfer) error {
	if actor.Role != domain.RolePharmacist {
		return fmt.Errorf("%w: only pharmacists can approve transfers", ErrForbidden)
	}
	if !actor.CanDelegate {
		return fmt.Errorf("%w: only pharmacists with delegation rights can approve transfers", ErrForbidden)
	}
	if actor.ID == t.CreatedBy {
		return fmt.Errorf("%w: you cannot approve your own transfer request", ErrForbidden)
	}
	creator, err := loadUser(ctx, tx, t.CreatedBy)
	if err != nil {
		return err
	}
	if actor.LocationID != network.ApprovingLocation(creator.LocationID, t.FromLocationID, t.ToLocationID) {
		return fmt.Errorf("%w: only pharmacists from the other hub can approve this transfer", ErrForbidden)
	}
	return nil
}

const transferViewQuery = `SELECT t.*,
		fl.name AS from_location, fl.type AS from_location_type,
		tl.name AS to_location, tl.type AS to_location_type,
		cu.username AS created_by_name, cu.location_id AS created_by_location_id,
		au.username AS approved_by_name, ku.username AS completed_by_name,
		(SELECT COUNT(*) FROM transfer_items ti WHERE ti.transfer_id = t.id) AS item_count
	FROM transfers t
	JOIN locations fl ON fl.id = t.from_location_id
	JOIN locations tl ON tl.id = t.to_location_id
	JOIN users cu ON cu.id = t.created_by
	LEFT JOIN users au ON au.id = t.approved_by
	LEFT JOIN users ku ON ku.id = t.completed_by`

// Transfers lists every transfer into or out of a location, newest first.
func (s *Service) Transfers(ctx context.Context, locationID int64) ([]domain.TransferView, error) {
	views := []domain.TransferView{}
	err := s.db.SelectContext(ctx, &views, transferViewQuery+`
		WHERE t.from_location_id = ? OR t.to_location_id = ?
		ORDER BY t.created_at DESC, t.id DESC`, locationID, locationID)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	for i := range views {
		if views[i].Items, err = s.transferItems(ctx, views[i].ID); err != nil {
			return nil, err
		}
	}
	return views, nil
}

// Transfer loads one transfer with its items.
func (s *Service) Transfer(ctx context.Context, id int64) (domain.TransferView, error) {
	var v domain.TransferView
	err := s.db.GetContext(ctx, &v, transferViewQuery+` WHERE t.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return v, fmt.Errorf("transfer %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return v, fmt.Errorf("load transfer: %w", err)
	}
	v.Items, err = s.transferItems(ctx, id)
	return v, err
}

func (s *Service) transferItems(ctx context.Context, transferID int64) ([]domain.StockItem, error) {
	items := []domain.StockItem{}
	err := s.db.SelectContext(ctx, &items, `SELECT `+stockItemColumns+`
		FROM transfer_items ti
		JOIN vials v ON v.id = ti.vial_id
		JOIN drugs d ON d.id = v.drug_id
		JOIN locations l ON l.id = v.location_id
		WHERE ti.transfer_id = ?
		ORDER BY v.expiry_date, v.id`, transferID)
	if err != nil {
		return nil, fmt.Errorf("list transfer items: %w", err)
	}
	s.annotate(items)
	return items, nil
}
