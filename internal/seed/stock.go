package seed

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"medtrack/m/domain"
)

type sampleBatch struct {
	number string
	count  int
	days   int
}

var sampleBatches = map[string][]sampleBatch{
	"Tenecteplase": {
		{"TNK-2024-A", 7, 135},
		{"TNK-2024-B", 7, 60},
		{"TNK-2024-C", 6, 20},
	},
	"Antivenom": {
		{"AV-2024-X", 5, 75},
		{"AV-2024-Y", 5, 150},
	},
}

// Minimum levels applied to every drug when stock levels are first created.
const (
	HubMinStock   = 10
	OtherMinStock = 2
)

// SampleStock sets minimum levels for every drug at every location and
// spreads demo vials across the network. It does nothing once stock levels
// exist.
func SampleStock(db *sqlx.DB, now time.Time) error {
	var count int
	if err := db.Get(&count, `SELECT COUNT(*) FROM stock_levels`); err != nil {
		return fmt.Errorf("count stock levels: %w", err)
	}
	if count > 0 {
		return nil
	}

	var locations []domain.Location
	if err := db.Select(&locations, `SELECT id, name, type, parent_hub_id, version, created_at FROM locations ORDER BY id`); err != nil {
		return fmt.Errorf("list locations: %w", err)
	}
	var drugs []struct {
		ID   int64  `db:"id"`
		Name string `db:"name"`
	}
	if err := db.Select(&drugs, `SELECT id, name FROM drugs ORDER BY id`); err != nil {
		return fmt.Errorf("list drugs: %w", err)
	}
	if len(locations) == 0 {
		return nil
	}

	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("begin sample stock: %w", err)
	}
	defer tx.Rollback()

	for _, l := range locations {
		minStock := OtherMinStock
		if l.Type == domain.LocationHub {
			minStock = HubMinStock
		}
		for _, d := range drugs {
			if _, err := tx.Exec(`INSERT INTO stock_levels (location_id, drug_id, min_stock) VALUES (?, ?, ?)`, l.ID, d.ID, minStock); err != nil {
				return fmt.Errorf("insert stock level: %w", err)
			}
		}
	}

	ts := now.UTC().Format(domain.TimestampLayout)
	vials := 0
	for _, d := range drugs {
		batches, ok := sampleBatches[d.Name]
		if !ok && strings.Contains(d.Name, "Antivenom") {
			batches = sampleBatches["Antivenom"]
		}
		prefix := "AV"
		if d.Name == "Tenecteplase" {
			prefix = "TNK"
		}
		idx := 0
		for _, b := range batches {
			expiry := now.AddDate(0, 0, b.days).Format(domain.DateLayout)
			for i := 0; i < b.count; i++ {
				loc := locations[idx%len(locations)]
				assetID := prefix + "-" + strings.ToUpper(uuid.NewString()[:8])
				_, err := tx.Exec(`INSERT INTO vials (asset_id, drug_id, batch_number, expiry_date, location_id, status, created_at)
					VALUES (?, ?, ?, ?, ?, 'AVAILABLE', ?)`, assetID, d.ID, b.number, expiry, loc.ID, ts)
				if err != nil {
					return fmt.Errorf("insert sample vial: %w", err)
				}
				idx++
				vials++
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sample stock: %w", err)
	}
	log.Printf("seeded %d sample vials across %d locations", vials, len(locations))
	return nil
}
