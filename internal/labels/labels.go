// Package labels renders Zebra (ZPL) vial labels and ships them to a network printer.
package labels

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"medtrack/m/domain"
)

const (
	DefaultPort   = "9100"
	dialTimeout   = 5 * time.Second
	maxNameLength = 20
	// Zebra printers at 203 dpi print 8 dots per millimetre.
	dotsPerMM = 8
)

// Label is the printable data of one vial.
type Label struct {
	AssetID     string `db:"asset_id"`
	DrugName    string `db:"drug_name"`
	ExpiryDate  string `db:"expiry_date"`
	StorageTemp string `db:"storage_temp"`
}

// ZPL renders one label block per vial, offset by the location's margins.
func ZPL(items []Label, s domain.Settings) string {
	x := 20 + s.MarginRight*dotsPerMM
	y := s.MarginTop * dotsPerMM

	var b strings.Builder
	for _, it := range items {
		name := it.DrugName
		if r := []rune(name); len(r) > maxNameLength {
			name = string(r[:maxNameLength])
		}
		b.WriteString("^XA\n^CI28\n")
		if s.LabelWidth > 0 {
			fmt.Fprintf(&b, "^PW%d\n", s.LabelWidth*dotsPerMM)
		}
		if s.LabelHeight > 0 {
			fmt.Fprintf(&b, "^LL%d\n", s.LabelHeight*dotsPerMM)
		}
		fmt.Fprintf(&b, "^LH%d,%d\n", x, y)
		fmt.Fprintf(&b, "^FO0,20^BQN,2,4^FDQA,%s^FS\n", fieldSafe(it.AssetID))
		fmt.Fprintf(&b, "^FO120,20^A0N,30,30^FD%s^FS\n", fieldSafe(name))
		fmt.Fprintf(&b, "^FO120,55^A0N,25,25^FDExp: %s^FS\n", fieldSafe(it.ExpiryDate))
		fmt.Fprintf(&b, "^FO120,85^A0N,25,25^FD%s^FS\n", fieldSafe(it.AssetID))
		fmt.Fprintf(&b, "^FO120,115^A0N,20,20^FD%s^FS\n", fieldSafe(it.StorageTemp))
		b.WriteString("^XZ\n")
	}
	return b.String()
}

// ZPL control characters inside field data would end the field early.
func fieldSafe(s string) string {
	return strings.NewReplacer("^", " ", "~", " ").Replace(s)
}

// Sender delivers a rendered payload to a printer.
type Sender interface {
	Send(ctx context.Context, addr, payload string) error
}

// Printer speaks raw TCP to a label printer.
type Printer struct {
	Timeout time.Duration
}

// Address joins a configured printer host and port, defaulting the port.
func Address(s domain.Settings) (string, error) {
	if strings.TrimSpace(s.PrinterIP) == "" {
		return "", fmt.Errorf("no printer configured for location %d", s.LocationID)
	}
	port := strings.TrimSpace(s.PrinterPort)
	if port == "" {
		port = DefaultPort
	}
	return net.JoinHostPort(strings.TrimSpace(s.PrinterIP), port), nil
}

func (p Printer) Send(ctx context.Context, addr, payload string) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = dialTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect printer %s: %w", addr, err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := conn.Write([]byte(payload)); err != nil {
		return fmt.Errorf("write printer %s: %w", addr, err)
	}
	return nil
}
