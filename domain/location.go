package domain

const (
	LocationHub    = "HUB"
	LocationWard   = "WARD"
	LocationRemote = "REMOTE"
)

type Location struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Type        string `db:"type" json:"type"`
	ParentHubID *int64 `db:"parent_hub_id" json:"parent_hub_id"`
	Version     int64  `db:"version" json:"version"`
	CreatedAt   string `db:"created_at" json:"created_at"`
}

// HubID returns the hub a location belongs to: itself for a hub, its parent otherwise.
// Zero means the location is not attached to any hub.
func (l Location) HubID() int64 {
	if l.Type == LocationHub {
		return l.ID
	}
	if l.ParentHubID != nil {
		return *l.ParentHubID
	}
	return 0
}

// ChildOf reports whether l hangs directly under the hub with the given id.
func (l Location) ChildOf(hubID int64) bool {
	return l.ParentHubID != nil && *l.ParentHubID == hubID
}

func ValidLocationType(t string) bool {
	return t == LocationHub || t == LocationWard || t == LocationRemote
}
