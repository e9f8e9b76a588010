package domain

const (
	TransferPending   = "PENDING"
	TransferInTransit = "IN_TRANSIT"
	TransferCompleted = "COMPLETED"
	TransferCancelled = "CANCELLED"
)

type Transfer struct {
	ID             int64   `db:"id" json:"id"`
	FromLocationID int64   `db:"from_location_id" json:"from_location_id"`
	ToLocationID   int64   `db:"to_location_id" json:"to_location_id"`
	Status         string  `db:"status" json:"status"`
	CreatedBy      int64   `db:"created_by" json:"created_by"`
	ApprovedBy     *int64  `db:"approved_by" json:"approved_by"`
	CompletedBy    *int64  `db:"completed_by" json:"completed_by"`
	CreatedAt      string  `db:"created_at" json:"created_at"`
	ApprovedAt     *string `db:"approved_at" json:"approved_at"`
	CompletedAt    *string `db:"completed_at" json:"completed_at"`
	Version        int64   `db:"version" json:"version"`
}

// TransferView is a transfer joined with location and user names.
type TransferView struct {
	Transfer
	FromLocation        string      `db:"from_location" json:"from_location"`
	FromLocationType    string      `db:"from_location_type" json:"from_location_type"`
	ToLocation          string      `db:"to_location" json:"to_location"`
	ToLocationType      string      `db:"to_location_type" json:"to_location_type"`
	CreatedByName       string      `db:"created_by_name" json:"created_by_name"`
	CreatedByLocationID int64       `db:"created_by_location_id" json:"created_by_location_id"`
	ApprovedByName      *string     `db:"approved_by_name" json:"approved_by_name"`
	CompletedByName     *string     `db:"completed_by_name" json:"completed_by_name"`
	ItemCount           int64       `db:"item_count" json:"item_count"`
	Items               []StockItem `db:"-" json:"items"`
}
