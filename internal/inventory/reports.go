package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"medtrack/m/domain"
	"medtrack/m/internal/validate"
)

// DefaultReportDays is the window used when no start date is given.
const DefaultReportDays = 30

type UsageRow struct {
	DrugName      string          `db:"drug_name" json:"drug_name"`
	LocationName  string          `db:"location_name" json:"location_name"`
	ClinicalUse   int64           `db:"clinical_use" json:"clinical_use"`
	Wastage       int64           `db:"wastage" json:"wastage"`
	UnitPrice     decimal.Decimal `db:"unit_price" json:"unit_price"`
	ClinicalValue decimal.Decimal `db:"-" json:"clinical_value"`
	WastageValue  decimal.Decimal `db:"-" json:"wastage_value"`
}

type UsageTotals struct {
	ClinicalUse   int64           `json:"clinical_use"`
	Wastage       int64           `json:"wastage"`
	ClinicalValue decimal.Decimal `json:"clinical_value"`
	WastageValue  decimal.Decimal `json:"wastage_value"`
}

type UsageReport struct {
	StartDate string      `json:"start_date"`
	EndDate   string      `json:"end_date"`
	Data      []UsageRow  `json:"data"`
	Totals    UsageTotals `json:"totals"`
}

// UsageReport summarises clinical use and wastage per drug and location for
// vials consumed between start and end inclusive. Empty dates default to the
// last thirty days.
func (s *Service) UsageReport(ctx context.Context, start, end string) (UsageReport, error) {
	start, end = ReportWindow(start, end, s.now())
	var ok bool
	if start, ok = validate.Date(start); !ok {
		return UsageReport{}, fmt.Errorf("%w: start_date must be YYYY-MM-DD", ErrInvalidInput)
	}
	if end, ok = validate.Date(end); !ok {
		return UsageReport{}, fmt.Errorf("%w: end_date must be YYYY-MM-DD", ErrInvalidInput)
	}
	if start > end {
		return UsageReport{}, fmt.Errorf("%w: start_date is after end_date", ErrInvalidInput)
	}

	rep := UsageReport{StartDate: start, EndDate: end, Data: []UsageRow{}}
	err := s.db.SelectContext(ctx, &rep.Data, `SELECT d.name AS drug_name, l.name AS location_name,
			SUM(CASE WHEN v.status = 'USED_CLINICAL' THEN 1 ELSE 0 END) AS clinical_use,
			SUM(CASE WHEN v.status = 'DISCARDED' THEN 1 ELSE 0 END) AS wastage,
			d.unit_price
		FROM vials v
		JOIN drugs d ON d.id = v.drug_id
		JOIN locations l ON l.id = v.location_id
		WHERE v.status IN ('USED_CLINICAL', 'DISCARDED') AND v.used_at >= ? AND v.used_at <= ?
		GROUP BY d.id, l.id
		ORDER BY d.name, l.name`, start, end+" 23:59:59")
	if err != nil {
		return rep, fmt.Errorf("usage report: %w", err)
	}

	rep.Totals.ClinicalValue = decimal.Zero
	rep.Totals.WastageValue = decimal.Zero
	for i := range rep.Data {
		row := &rep.Data[i]
		row.ClinicalValue = row.UnitPrice.Mul(decimal.NewFromInt(row.ClinicalUse))
		row.WastageValue = row.UnitPrice.Mul(decimal.NewFromInt(row.Wastage))
		rep.Totals.ClinicalUse += row.ClinicalUse
		rep.Totals.Wastage += row.Wastage
		rep.Totals.ClinicalValue = rep.Totals.ClinicalValue.Add(row.ClinicalValue)
		rep.Totals.WastageValue = rep.Totals.WastageValue.Add(row.WastageValue)
	}
	return rep, nil
}

// ReportWindow fills empty report bounds: end defaults to today and start to
// DefaultReportDays before now.
func ReportWindow(start, end string, now time.Time) (string, string) {
	if end == "" {
		end = now.Format(domain.DateLayout)
	}
	if start == "" {
		start = now.AddDate(0, 0, -DefaultReportDays).Format(domain.DateLayout)
	}
	return start, end
}
