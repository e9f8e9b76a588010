package labels

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"unicode/utf8"

	"medtrack/m/domain"
)

func TestZPLOneBlockPerLabel(t *testing.T) {
	out := ZPL([]Label{
		{AssetID: "TEN-1-1700000000-1-AB12", DrugName: "Tenecteplase", ExpiryDate: "2026-03-01", StorageTemp: "<25C"},
		{AssetID: "BRO-1-1700000000-2-CD34", DrugName: "Brown Snake Antivenom Extra Long", ExpiryDate: "2026-04-01", StorageTemp: "2-8C"},
	}, domain.Settings{LabelWidth: 50, LabelHeight: 25, MarginTop: 1})

	if n := strings.Count(out, "^XA"); n != 2 {
		t.Fatalf("got %d label blocks, want 2", n)
	}
	if !strings.Contains(out, "^FDQA,TEN-1-1700000000-1-AB12^FS") {
		t.Fatalf("missing QR field:\n%s", out)
	}
	if !strings.Contains(out, "^FDBrown Snake Antivenom^FS") {
		t.Fatalf("drug name not truncated to 20 chars:\n%s", out)
	}
	if !strings.Contains(out, "^PW400") || !strings.Contains(out, "^LH20,8") {
		t.Fatalf("label geometry not applied:\n%s", out)
	}
}

func TestZPLTruncatesNameByCharacter(t *testing.T) {
	out := ZPL([]Label{{AssetID: "CEF-1-1700000000-1-EF56", DrugName: "Ceftriaxone Sodium é°X", ExpiryDate: "2026-05-01"}}, domain.Settings{})
	if !utf8.ValidString(out) {
		t.Fatalf("label is not valid UTF-8:\n%q", out)
	}
	if !strings.Contains(out, "^FDCeftriaxone Sodium é^FS") {
		t.Fatalf("drug name not truncated to 20 characters:\n%s", out)
	}
}

func TestAddress(t *testing.T) {
	if _, err := Address(domain.Settings{LocationID: 3}); err == nil {
		t.Fatal("expected error without printer ip")
	}
	addr, err := Address(domain.Settings{PrinterIP: "10.0.0.9"})
	if err != nil || addr != "10.0.0.9:9100" {
		t.Fatalf("Address = %q, %v", addr, err)
	}
}

func TestPrinterSend(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			got <- ""
			return
		}
		defer conn.Close()
		b, _ := io.ReadAll(conn)
		got <- string(b)
	}()

	if err := (Printer{}).Send(context.Background(), ln.Addr().String(), "^XA^XZ"); err != nil {
		t.Fatal(err)
	}
	if s := <-got; s != "^XA^XZ" {
		t.Fatalf("printer received %q", s)
	}
}
