// Package notify delivers low-stock alerts and password reset codes.
package notify

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strconv"
	"strings"
)

// StockInfo describes a drug that fell below its minimum at a location.
type StockInfo struct {
	DrugName       string `db:"drug_name" json:"drug_name"`
	LocationName   string `db:"location_name" json:"location_name"`
	AvailableCount int64  `db:"available_count" json:"available_count"`
	MinStock       int64  `db:"min_stock" json:"min_stock"`
}

// Notifier is implemented by every delivery channel.
type Notifier interface {
	LowStock(ctx context.Context, info StockInfo) error
	SMS(ctx context.Context, to, body string) error
}

// Config carries SMTP and SMS settings. Empty credentials switch the
// corresponding channel to log-only simulation.
type Config struct {
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPassword  string
	LowStockEmail string
	SMSFrom       string
}

// Mailer sends email over SMTP and simulates SMS through the log.
type Mailer struct {
	cfg  Config
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func New(cfg Config) *Mailer {
	return &Mailer{cfg: cfg, send: smtp.SendMail}
}

func (m *Mailer) LowStock(ctx context.Context, info StockInfo) error {
	log.Printf("LOW STOCK ALERT: %s at %s - only %d remaining (min %d)", info.DrugName, info.LocationName, info.AvailableCount, info.MinStock)

	body := fmt.Sprintf("Low Stock Alert\n\nDrug: %s\nLocation: %s\nRemaining: %d\nMin Level: %d\n\nPlease replenish immediately.\n",
		info.DrugName, info.LocationName, info.AvailableCount, info.MinStock)
	return m.Email(ctx, m.cfg.LowStockEmail, "LOW STOCK ALERT: "+info.DrugName, body)
}

// Email sends a plain text message, or logs it when SMTP is not configured.
func (m *Mailer) Email(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.cfg.SMTPPassword == "" || m.cfg.SMTPUser == "" {
		log.Printf("email simulation (set SMTP_EMAIL and SMTP_PASSWORD to send): to=%s subject=%q", to, subject)
		return nil
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.cfg.SMTPUser)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	msg.WriteString(body)

	addr := m.cfg.SMTPHost + ":" + strconv.Itoa(m.cfg.SMTPPort)
	auth := smtp.PlainAuth("", m.cfg.SMTPUser, m.cfg.SMTPPassword, m.cfg.SMTPHost)
	if err := m.send(addr, auth, m.cfg.SMTPUser, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send email to %s: %w", to, err)
	}
	return nil
}

// SMS has no gateway wired in; the message is written to the log for the
// on-call pharmacist to relay.
func (m *Mailer) SMS(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Printf("sms simulation: from=%q to=%s body=%q", m.cfg.SMSFrom, to, body)
	return nil
}
