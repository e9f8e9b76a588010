package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"medtrack/m/domain"
	"medtrack/m/internal/applog"
	"medtrack/m/internal/notify"
	"medtrack/m/internal/validate"
)

const (
	ActionUse     = "USE"
	ActionDiscard = "DISCARD"

	MaxReceiveQuantity = 500
)

type ReceiveInput struct {
	DrugID             int64  `json:"drug_id"`
	LocationID         int64  `json:"location_id"`
	BatchNumber        string `json:"batch_number"`
	ExpiryDate         string `json:"expiry_date"`
	Quantity           int    `json:"quantity"`
	GoodsReceiptNumber string `json:"goods_receipt_number,omitempty"`
	StockLevelVersion  *int64 `json:"stock_level_version,omitempty"`
	UserID             int64  `json:"user_id,omitempty"`
}

type ReceiveResult struct {
	Success    bool            `json:"success"`
	AssetIDs   []string        `json:"asset_ids"`
	DrugName   string          `json:"drug_name"`
	Quantity   int             `json:"quantity"`
	TotalValue decimal.Decimal `json:"total_value"`
}

func (in ReceiveInput) validate() error {
	if in.DrugID <= 0 || in.LocationID <= 0 {
		return fmt.Errorf("%w: drug_id and location_id are required", ErrInvalidInput)
	}
	if in.Quantity < 1 || in.Quantity > MaxReceiveQuantity {
		return fmt.Errorf("%w: quantity must be between 1 and %d", ErrInvalidInput, MaxReceiveQuantity)
	}
	if _, ok := validate.Batch(in.BatchNumber); !ok {
		return fmt.Errorf("%w: batch_number must be 3-100 characters", ErrInvalidInput)
	}
	if _, ok := validate.Date(in.ExpiryDate); !ok {
		return fmt.Errorf("%w: expiry_date must be YYYY-MM-DD", ErrInvalidInput)
	}
	return nil
}

// ReceiveStock books a delivery in as individually tracked vials.
func (s *Service) ReceiveStock(ctx context.Context, in ReceiveInput) (ReceiveResult, error) {
	var res ReceiveResult
	if err := in.validate(); err != nil {
		return res, err
	}
	in.BatchNumber, _ = validate.Batch(in.BatchNumber)
	in.ExpiryDate, _ = validate.Date(in.ExpiryDate)

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if in.StockLevelVersion != nil {
			var current int64
			err := tx.GetContext(ctx, &current, `SELECT version FROM stock_levels WHERE location_id = ? AND drug_id = ?`, in.LocationID, in.DrugID)
			switch {
			case errors.Is(err, sql.ErrNoRows):
			case err != nil:
				return fmt.Errorf("load stock level: %w", err)
			default:
				if err := checkVersion(in.StockLevelVersion, current); err != nil {
					return err
				}
			}
		}

		var drug domain.Drug
		err := tx.GetContext(ctx, &drug, `SELECT id, name, COALESCE(category, '') AS category, COALESCE(storage_temp, '') AS storage_temp,
			unit_price, version, created_at FROM drugs WHERE id = ?`, in.DrugID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("drug %d: %w", in.DrugID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load drug: %w", err)
		}
		if _, err := loadLocation(ctx, tx, in.LocationID); err != nil {
			return err
		}

		now := s.now()
		ts := now.UTC().Format(domain.TimestampLayout)
		prefix := assetPrefix(drug.Name)
		res.AssetIDs = make([]string, 0, in.Quantity)
		for i := 1; i <= in.Quantity; i++ {
			var assetID string
			for attempt := 0; ; attempt++ {
				assetID = fmt.Sprintf("%s-%d-%d-%d-%s", prefix, in.LocationID, now.Unix(), i, shortID())
				_, err := tx.ExecContext(ctx, `INSERT INTO vials (asset_id, drug_id, batch_number, expiry_date, location_id, status, goods_receipt_number, created_at)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
					assetID, in.DrugID, in.BatchNumber, in.ExpiryDate, in.LocationID, domain.VialAvailable, nullIfEmpty(in.GoodsReceiptNumber), ts)
				if err == nil {
					break
				}
				// Same drug, site and second: the random suffix collided.
				if attempt < 3 && strings.Contains(err.Error(), "UNIQUE") {
					continue
				}
				return fmt.Errorf("insert vial: %w", err)
			}
			res.AssetIDs = append(res.AssetIDs, assetID)
		}

		res.Success = true
		res.DrugName = drug.Name
		res.Quantity = in.Quantity
		res.TotalValue = drug.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity)))
		return s.audit(ctx, tx, in.UserID, "RECEIVE_STOCK", map[string]any{
			"asset_ids":            res.AssetIDs,
			"drug_id":              in.DrugID,
			"location_id":          in.LocationID,
			"batch_number":         in.BatchNumber,
			"goods_receipt_number": in.GoodsReceiptNumber,
		})
	})
	return res, err
}

func assetPrefix(drugName string) string {
	var b strings.Builder
	for _, r := range drugName {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
		if b.Len() == 3 {
			break
		}
	}
	if b.Len() == 0 {
		return "DRG"
	}
	return b.String()
}

func shortID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:4])
}

type UseInput struct {
	VialID                 int64  `json:"vial_id"`
	Action                 string `json:"action"`
	UserID                 int64  `json:"user_id,omitempty"`
	Version                *int64 `json:"version,omitempty"`
	PatientMRN             string `json:"patient_mrn,omitempty"`
	ClinicalNotes          string `json:"clinical_notes,omitempty"`
	DiscardReason          string `json:"discard_reason,omitempty"`
	DisposalRegisterNumber string `json:"disposal_register_number,omitempty"`
}

type UseResult struct {
	Success           bool              `json:"success"`
	Action            string            `json:"action"`
	AssetID           string            `json:"asset_id"`
	NeedsNotification bool              `json:"needs_notification"`
	StockInfo         *notify.StockInfo `json:"stock_info"`
}

// UseStock marks an available vial as clinically used or discarded and
// reports whether its location has dropped below the minimum level.
func (s *Service) UseStock(ctx context.Context, in UseInput) (UseResult, error) {
	res := UseResult{Action: strings.ToUpper(strings.TrimSpace(in.Action))}
	var newStatus string
	switch res.Action {
	case ActionUse:
		newStatus = domain.VialUsedClinical
		if strings.TrimSpace(in.PatientMRN) != "" {
			mrn, ok := validate.MRN(in.PatientMRN)
			if !ok {
				return res, fmt.Errorf("%w: patient_mrn must be 4-20 letters, digits, dashes or underscores", ErrInvalidInput)
			}
			in.PatientMRN = mrn
		}
	case ActionDiscard:
		newStatus = domain.VialDiscarded
		if strings.TrimSpace(in.DiscardReason) == "" {
			return res, fmt.Errorf("%w: discard_reason is required", ErrInvalidInput)
		}
	default:
		return res, fmt.Errorf("%w: action must be USE or DISCARD", ErrInvalidInput)
	}

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var v domain.Vial
		err := tx.GetContext(ctx, &v, `SELECT * FROM vials WHERE id = ?`, in.VialID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("vial %d: %w", in.VialID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load vial: %w", err)
		}
		if err := checkVersion(in.Version, v.Version); err != nil {
			return err
		}
		if v.Status != domain.VialAvailable {
			return fmt.Errorf("%w: vial is already %s", ErrUnavailable, v.Status)
		}

		result, err := tx.ExecContext(ctx, `UPDATE vials SET status = ?, used_at = ?, used_by = ?, discard_reason = ?,
			patient_mrn = ?, clinical_notes = ?, disposal_register_number = ?, version = version + 1
			WHERE id = ? AND version = ?`,
			newStatus, s.timestamp(), in.UserID, nullIfEmpty(in.DiscardReason), nullIfEmpty(in.PatientMRN),
			nullIfEmpty(in.ClinicalNotes), nullIfEmpty(in.DisposalRegisterNumber), v.ID, v.Version)
		if err != nil {
			return fmt.Errorf("update vial: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return ErrConflict
		}

		info, err := stockInfo(ctx, tx, v.LocationID, v.DrugID)
		if err != nil {
			return err
		}
		res.AssetID = v.AssetID
		res.StockInfo = &info
		res.NeedsNotification = info.MinStock > 0 && info.AvailableCount < info.MinStock

		return s.audit(ctx, tx, in.UserID, res.Action+"_STOCK", map[string]any{
			"asset_id":                 v.AssetID,
			"drug_id":                  v.DrugID,
			"location_id":              v.LocationID,
			"discard_reason":           in.DiscardReason,
			"disposal_register_number": in.DisposalRegisterNumber,
		})
	})
	if err != nil {
		return res, err
	}
	res.Success = true

	if res.NeedsNotification && s.notifier != nil {
		// The stock change is committed; a failed alert must not undo it.
		if err := s.notifier.LowStock(ctx, *res.StockInfo); err != nil {
			applog.Error(nil, "low_stock_notify", err, map[string]any{"drug": res.StockInfo.DrugName, "location": res.StockInfo.LocationName})
		}
	}
	return res, nil
}

func stockInfo(ctx context.Context, q queryer, locationID, drugID int64) (notify.StockInfo, error) {
	var info notify.StockInfo
	err := q.GetContext(ctx, &info, `SELECT d.name AS drug_name, l.name AS location_name,
			(SELECT COUNT(*) FROM vials v WHERE v.location_id = l.id AND v.drug_id = d.id AND v.status = 'AVAILABLE') AS available_count,
			COALESCE(sl.min_stock, 0) AS min_stock
		FROM drugs d
		JOIN locations l ON l.id = ?
		LEFT JOIN stock_levels sl ON sl.location_id = l.id AND sl.drug_id = d.id
		WHERE d.id = ?`, locationID, drugID)
	if err != nil {
		return info, fmt.Errorf("load stock info: %w", err)
	}
	return info, nil
}

func nullIfEmpty(val string) *string {
	val = strings.TrimSpace(val)
	if val == "" {
		return nil
	}
	return &val
}

// annotate fills derived expiry fields on every item.
func (s *Service) annotate(items []domain.StockItem) {
	now := s.now()
	for i := range items {
		items[i].Annotate(now)
	}
}
