package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const (
	VialAvailable    = "AVAILABLE"
	VialUsedClinical = "USED_CLINICAL"
	VialDiscarded    = "DISCARDED"
	VialInTransit    = "IN_TRANSIT"
)

// DateLayout is the wire and storage format of expiry dates.
const DateLayout = "2006-01-02"

// TimestampLayout is how event timestamps are stored.
const TimestampLayout = "2006-01-02 15:04:05"

const (
	ColorRed   = "red"
	ColorAmber = "amber"
	ColorGreen = "green"

	CriticalDays = 30
	WarningDays  = 90
)

type Vial struct {
	ID                     int64   `db:"id" json:"id"`
	AssetID                string  `db:"asset_id" json:"asset_id"`
	DrugID                 int64   `db:"drug_id" json:"drug_id"`
	BatchNumber            string  `db:"batch_number" json:"batch_number"`
	ExpiryDate             string  `db:"expiry_date" json:"expiry_date"`
	LocationID             int64   `db:"location_id" json:"location_id"`
	Status                 string  `db:"status" json:"status"`
	DiscardReason          *string `db:"discard_reason" json:"discard_reason"`
	PatientMRN             *string `db:"patient_mrn" json:"patient_mrn"`
	ClinicalNotes          *string `db:"clinical_notes" json:"clinical_notes"`
	GoodsReceiptNumber     *string `db:"goods_receipt_number" json:"goods_receipt_number"`
	DisposalRegisterNumber *string `db:"disposal_register_number" json:"disposal_register_number"`
	UsedAt                 *string `db:"used_at" json:"used_at"`
	UsedBy                 *int64  `db:"used_by" json:"used_by"`
	Version                int64   `db:"version" json:"version"`
	CreatedAt              string  `db:"created_at" json:"created_at"`
}

// StockItem is a vial joined with its drug and location for display.
type StockItem struct {
	Vial
	DrugName        string          `db:"drug_name" json:"drug_name"`
	Category        string          `db:"category" json:"category"`
	StorageTemp     string          `db:"storage_temp" json:"storage_temp"`
	UnitPrice       decimal.Decimal `db:"unit_price" json:"unit_price"`
	LocationName    string          `db:"location_name" json:"location_name"`
	LocationType    string          `db:"location_type" json:"location_type"`
	DaysUntilExpiry int             `db:"-" json:"days_until_expiry"`
	StatusColor     string          `db:"-" json:"status_color"`
}

// Annotate fills the derived expiry fields relative to now.
func (s *StockItem) Annotate(now time.Time) {
	days, ok := DaysUntil(s.ExpiryDate, now)
	s.DaysUntilExpiry = days
	if !ok {
		s.StatusColor = ColorGreen
		return
	}
	s.StatusColor = StatusColor(days)
}

// DaysUntil returns whole days from now's calendar date to the expiry date.
// ok is false when the date cannot be parsed.
func DaysUntil(expiry string, now time.Time) (int, bool) {
	if len(expiry) > len(DateLayout) {
		expiry = expiry[:len(DateLayout)]
	}
	exp, err := time.Parse(DateLayout, expiry)
	if err != nil {
		return 0, false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(math.Round(exp.Sub(today).Hours() / 24)), true
}

// StatusColor buckets days-to-expiry into the traffic-light colour.
func StatusColor(days int) string {
	switch {
	case days <= CriticalDays:
		return ColorRed
	case days <= WarningDays:
		return ColorAmber
	default:
		return ColorGreen
	}
}
