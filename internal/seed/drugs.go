package seed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// LoadDrugs ingests a catalogue CSV (name,category,storage_temp,unit_price)
// into the drugs table, skipping names that already exist. It returns the
// number of drugs added.
func LoadDrugs(db *sqlx.DB, csvPath string) (int, error) {
	file, err := os.Open(csvPath)
	if err != nil {
		return 0, fmt.Errorf("open drug catalogue %s: %w", csvPath, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	// Skip header
	if _, err := reader.Read(); err != nil {
		return 0, fmt.Errorf("read drug header: %w", err)
	}

	tx, err := db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("begin drug import: %w", err)
	}
	defer tx.Rollback()

	rows := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Printf("unable to read drug row: %v", err)
			continue
		}
		if len(record) < 4 {
			continue
		}
		d := DrugSeed{
			Name:        strings.TrimSpace(record[0]),
			Category:    strings.TrimSpace(record[1]),
			StorageTemp: strings.TrimSpace(record[2]),
			UnitPrice:   strings.TrimSpace(record[3]),
		}
		if d.Name == "" {
			continue
		}
		added, err := insertDrug(tx, d)
		if err != nil {
			log.Printf("unable to insert drug %s: %v", d.Name, err)
			continue
		}
		if added {
			rows++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit drug import: %w", err)
	}
	log.Printf("seeded drug catalogue with %d rows", rows)
	return rows, nil
}

func insertDrug(tx *sqlx.Tx, d DrugSeed) (bool, error) {
	price, err := decimal.NewFromString(d.UnitPrice)
	if err != nil || price.IsNegative() {
		return false, fmt.Errorf("drug %q: invalid unit price %q", d.Name, d.UnitPrice)
	}
	res, err := tx.Exec(`INSERT INTO drugs (name, category, storage_temp, unit_price)
		SELECT ?, ?, ?, ? WHERE NOT EXISTS (SELECT 1 FROM drugs WHERE name = ?)`,
		d.Name, nullIfEmpty(d.Category), nullIfEmpty(d.StorageTemp), price.InexactFloat64(), d.Name)
	if err != nil {
		return false, fmt.Errorf("insert drug %q: %w", d.Name, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func nullIfEmpty(val string) *string {
	if val == "" {
		return nil
	}
	return &val
}
