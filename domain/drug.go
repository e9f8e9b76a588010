package domain

import "github.com/shopspring/decimal"

func init() {
	// Prices go over the wire as JSON numbers, matching the catalogue the UI expects.
	decimal.MarshalJSONWithoutQuotes = true
}

type Drug struct {
	ID          int64           `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Category    string          `db:"category" json:"category"`
	StorageTemp string          `db:"storage_temp" json:"storage_temp"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Version     int64           `db:"version" json:"version"`
	CreatedAt   string          `db:"created_at" json:"created_at"`
}

type StockLevel struct {
	ID         int64 `db:"id" json:"id"`
	LocationID int64 `db:"location_id" json:"location_id"`
	DrugID     int64 `db:"drug_id" json:"drug_id"`
	MinStock   int64 `db:"min_stock" json:"min_stock"`
	Version    int64 `db:"version" json:"version"`
}
