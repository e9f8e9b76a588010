package domain

// Settings holds the label printer configuration of one location.
type Settings struct {
	ID          int64  `db:"id" json:"id"`
	LocationID  int64  `db:"location_id" json:"location_id"`
	PrinterIP   string `db:"printer_ip" json:"printer_ip"`
	PrinterPort string `db:"printer_port" json:"printer_port"`
	LabelWidth  int    `db:"label_width" json:"label_width"`
	LabelHeight int    `db:"label_height" json:"label_height"`
	MarginTop   int    `db:"margin_top" json:"margin_top"`
	MarginRight int    `db:"margin_right" json:"margin_right"`
	UpdatedAt   string `db:"updated_at" json:"updated_at"`
}

type AuditEntry struct {
	ID        int64  `db:"id" json:"id"`
	UserID    int64  `db:"user_id" json:"user_id"`
	Action    string `db:"action" json:"action"`
	Details   string `db:"details" json:"details"`
	Timestamp string `db:"timestamp" json:"timestamp"`
}
