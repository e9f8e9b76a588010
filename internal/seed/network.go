// Package seed loads the bootstrap network, drug catalogue and demo stock.
package seed

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"medtrack/m/domain"
)

type LocationSeed struct {
	Name      string `toml:"name"`
	Type      string `toml:"type"`
	ParentHub string `toml:"parent_hub"`
}

type DrugSeed struct {
	Name        string `toml:"name"`
	Category    string `toml:"category"`
	StorageTemp string `toml:"storage_temp"`
	UnitPrice   string `toml:"unit_price"`
}

type UserSeed struct {
	Username           string `toml:"username"`
	Password           string `toml:"password"`
	Role               string `toml:"role"`
	Location           string `toml:"location"`
	CanDelegate        bool   `toml:"can_delegate"`
	IsSupervisor       bool   `toml:"is_supervisor"`
	Email              string `toml:"email"`
	MobileNumber       string `toml:"mobile_number"`
	MustChangePassword bool   `toml:"must_change_password"`
}

// Network is the shape of the seed file.
type Network struct {
	Locations []LocationSeed `toml:"locations"`
	Drugs     []DrugSeed     `toml:"drugs"`
	Users     []UserSeed     `toml:"users"`
}

const (
	AdminUsername = "admin"
	AdminPassword = "admin123"
	adminHub      = "Port Augusta Hospital Pharmacy"
)

// DefaultNetwork is used when no seed file is present.
func DefaultNetwork() Network {
	return Network{
		Locations: []LocationSeed{
			{Name: adminHub, Type: domain.LocationHub},
			{Name: "Whyalla Hospital Pharmacy", Type: domain.LocationHub},
			{Name: "Port Augusta ED", Type: domain.LocationWard, ParentHub: adminHub},
			{Name: "Whyalla HDU", Type: domain.LocationWard, ParentHub: "Whyalla Hospital Pharmacy"},
			{Name: "Whyalla ED", Type: domain.LocationWard, ParentHub: "Whyalla Hospital Pharmacy"},
			{Name: "Roxby Downs", Type: domain.LocationRemote, ParentHub: adminHub},
			{Name: "Quorn", Type: domain.LocationRemote, ParentHub: adminHub},
			{Name: "Hawker", Type: domain.LocationRemote, ParentHub: adminHub},
			{Name: "Leigh Creek", Type: domain.LocationRemote, ParentHub: adminHub},
			{Name: "Oodnadatta", Type: domain.LocationRemote, ParentHub: adminHub},
		},
		Drugs: []DrugSeed{
			{Name: "Tenecteplase", Category: "Thrombolytic", StorageTemp: "<25°C", UnitPrice: "2500.00"},
			{Name: "Red Back Spider Antivenom", Category: "Antivenom", StorageTemp: "2-8°C", UnitPrice: "850.00"},
			{Name: "Brown Snake Antivenom", Category: "Antivenom", StorageTemp: "2-8°C", UnitPrice: "1200.00"},
		},
		Users: []UserSeed{{
			Username:           AdminUsername,
			Password:           AdminPassword,
			Role:               domain.RolePharmacist,
			Location:           adminHub,
			CanDelegate:        true,
			IsSupervisor:       true,
			MustChangePassword: true,
			Email:              "admin@funlhn.health",
		}},
	}
}

// ReadNetwork decodes a TOML seed file. A missing file yields DefaultNetwork.
func ReadNetwork(path string) (Network, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("seed file %s not found, using built-in network", path)
		return DefaultNetwork(), nil
	}
	if err != nil {
		return Network{}, fmt.Errorf("reading seed file: %w", err)
	}
	var n Network
	if _, err := toml.Decode(string(data), &n); err != nil {
		return Network{}, fmt.Errorf("parsing seed file: %w", err)
	}
	return n, nil
}

// LoadNetwork populates locations, drugs and users from path, but only into
// an empty database. It reports whether anything was written.
func LoadNetwork(db *sqlx.DB, path string) (bool, error) {
	var count int
	if err := db.Get(&count, `SELECT COUNT(*) FROM locations`); err != nil {
		return false, fmt.Errorf("count locations: %w", err)
	}
	if count > 0 {
		return false, nil
	}
	n, err := ReadNetwork(path)
	if err != nil {
		return false, err
	}
	if err := Apply(db, n); err != nil {
		return false, err
	}
	log.Printf("seeded network with %d locations, %d drugs and %d users", len(n.Locations), len(n.Drugs), len(n.Users))
	return true, nil
}

// Apply writes a network in one transaction, resolving parent hubs by name.
func Apply(db *sqlx.DB, n Network) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	ids := make(map[string]int64, len(n.Locations))
	types := make(map[string]string, len(n.Locations))
	for _, l := range n.Locations {
		if !domain.ValidLocationType(l.Type) {
			return fmt.Errorf("location %q: unknown type %q", l.Name, l.Type)
		}
		if l.Type == domain.LocationHub && l.ParentHub != "" {
			return fmt.Errorf("location %q: a hub cannot have a parent hub", l.Name)
		}
		types[l.Name] = l.Type
		res, err := tx.Exec(`INSERT INTO locations (name, type) VALUES (?, ?)`, l.Name, l.Type)
		if err != nil {
			return fmt.Errorf("insert location %q: %w", l.Name, err)
		}
		if ids[l.Name], err = res.LastInsertId(); err != nil {
			return err
		}
	}
	for _, l := range n.Locations {
		if l.ParentHub == "" {
			continue
		}
		parent, ok := ids[l.ParentHub]
		if !ok {
			return fmt.Errorf("location %q: unknown parent hub %q", l.Name, l.ParentHub)
		}
		if types[l.ParentHub] != domain.LocationHub {
			return fmt.Errorf("location %q: parent %q is not a hub", l.Name, l.ParentHub)
		}
		if _, err := tx.Exec(`UPDATE locations SET parent_hub_id = ? WHERE id = ?`, parent, ids[l.Name]); err != nil {
			return fmt.Errorf("link location %q: %w", l.Name, err)
		}
	}

	for _, d := range n.Drugs {
		if _, err := insertDrug(tx, d); err != nil {
			return err
		}
	}

	for _, u := range n.Users {
		locID, ok := ids[u.Location]
		if !ok {
			return fmt.Errorf("user %q: unknown location %q", u.Username, u.Location)
		}
		if !domain.ValidRole(u.Role) {
			return fmt.Errorf("user %q: unknown role %q", u.Username, u.Role)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password for %q: %w", u.Username, err)
		}
		_, err = tx.Exec(`INSERT INTO users (username, password_hash, role, location_id, can_delegate, is_supervisor, email, mobile_number, must_change_password)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.Username, string(hash), u.Role, locID, u.CanDelegate, u.IsSupervisor, nullIfEmpty(u.Email), nullIfEmpty(u.MobileNumber), u.MustChangePassword)
		if err != nil {
			return fmt.Errorf("insert user %q: %w", u.Username, err)
		}
	}
	return tx.Commit()
}

// ResetAdmin restores the bootstrap pharmacist's password, recreating the
// account at the first hub when it no longer exists.
func ResetAdmin(db *sqlx.DB, password string) error {
	if password == "" {
		password = AdminPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	res, err := db.Exec(`UPDATE users SET password_hash = ?, is_active = 1, must_change_password = 1, version = version + 1 WHERE username = ?`,
		string(hash), AdminUsername)
	if err != nil {
		return fmt.Errorf("reset admin: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var hubID int64
	if err := db.Get(&hubID, `SELECT id FROM locations WHERE type = 'HUB' ORDER BY id LIMIT 1`); err != nil {
		return fmt.Errorf("no hub to attach admin to: %w", err)
	}
	_, err = db.Exec(`INSERT INTO users (username, password_hash, role, location_id, can_delegate, is_supervisor, must_change_password)
		VALUES (?, ?, ?, ?, 1, 1, 1)`, AdminUsername, string(hash), domain.RolePharmacist, hubID)
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	return nil
}
