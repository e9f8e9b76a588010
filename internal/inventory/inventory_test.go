package inventory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"medtrack/m/domain"
	"medtrack/m/internal/inventory"
	"medtrack/m/internal/migrations"
	"medtrack/m/internal/notify"
)

const (
	hubPA    = 1
	hubWY    = 2
	wardED   = 3
	wardICU  = 4
	wardWY   = 5
	remoteQN = 6

	userAdmin   = 1
	userWYPharm = 2
	userNurse   = 3
	userTech    = 4
	userPA2     = 5

	drugTNK = 1
	drugBSA = 2
)

var testNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notify.StockInfo
}

func (n *recordingNotifier) LowStock(_ context.Context, info notify.StockInfo) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, info)
	return nil
}

func (n *recordingNotifier) SMS(context.Context, string, string) error { return nil }

func memdb(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatal(err)
	}
	fixtures := `
	INSERT INTO locations (id, name, type, parent_hub_id) VALUES
	  (1, 'Port Augusta Hospital', 'HUB', NULL),
	  (2, 'Whyalla Hospital', 'HUB', NULL),
	  (3, 'Port Augusta ED', 'WARD', 1),
	  (4, 'Port Augusta ICU', 'WARD', 1),
	  (5, 'Whyalla ED', 'WARD', 2),
	  (6, 'Quorn', 'REMOTE', 1);
	INSERT INTO users (id, username, password_hash, role, location_id, is_supervisor, can_delegate) VALUES
	  (1, 'admin', 'x', 'PHARMACIST', 1, 1, 1),
	  (2, 'wy_pharm', 'x', 'PHARMACIST', 2, 0, 1),
	  (3, 'ed_nurse', 'x', 'NURSE', 3, 0, 0),
	  (4, 'pa_tech', 'x', 'PHARMACY_TECH', 1, 0, 0),
	  (5, 'pa_pharm', 'x', 'PHARMACIST', 1, 0, 1);
	INSERT INTO drugs (id, name, category, storage_temp, unit_price) VALUES
	  (1, 'Tenecteplase', 'Thrombolytic', '<25C', '2500.00'),
	  (2, 'Brown Snake Antivenom', 'Antivenom', '2-8C', '1200.00');
	INSERT INTO stock_levels (location_id, drug_id, min_stock) VALUES (1, 1, 10);
	`
	if _, err := db.Exec(fixtures); err != nil {
		t.Fatal(err)
	}
	return db
}

func newService(t *testing.T) (*inventory.Service, *sqlx.DB, *recordingNotifier) {
	t.Helper()
	db := memdb(t)
	n := &recordingNotifier{}
	svc := inventory.New(db, n).WithClock(func() time.Time { return testNow })
	return svc, db, n
}

func receive(t *testing.T, svc *inventory.Service, drugID, locID int64, batch, expiry string, qty int) []int64 {
	t.Helper()
	res, err := svc.ReceiveStock(context.Background(), inventory.ReceiveInput{
		DrugID: drugID, LocationID: locID, BatchNumber: batch, ExpiryDate: expiry, Quantity: qty, UserID: userAdmin,
	})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	return vialIDs(t, svc, res.AssetIDs)
}

func vialIDs(t *testing.T, svc *inventory.Service, assetIDs []string) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(assetIDs))
	for _, a := range assetIDs {
		j, err := svc.Journey(context.Background(), a)
		if err != nil {
			t.Fatalf("journey %s: %v", a, err)
		}
		ids = append(ids, j.Vial.ID)
	}
	return ids
}

func vialAt(t *testing.T, db *sqlx.DB, id int64) domain.Vial {
	t.Helper()
	var v domain.Vial
	if err := db.Get(&v, `SELECT * FROM vials WHERE id = ?`, id); err != nil {
		t.Fatal(err)
	}
	return v
}

func ptr(v int64) *int64 { return &v }

func TestReceiveStockCreatesVials(t *testing.T) {
	svc, db, _ := newService(t)
	res, err := svc.ReceiveStock(context.Background(), inventory.ReceiveInput{
		DrugID: drugTNK, LocationID: hubPA, BatchNumber: "TNK-2024-A", ExpiryDate: "2024-09-13",
		Quantity: 3, GoodsReceiptNumber: "GR-1", UserID: userAdmin,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.AssetIDs) != 3 || res.DrugName != "Tenecteplase" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.TotalValue.Equal(decimal.NewFromInt(7500)) {
		t.Fatalf("total value = %s, want 7500", res.TotalValue)
	}
	seen := map[string]bool{}
	for _, a := range res.AssetIDs {
		if a[:6] != "TEN-1-" {
			t.Fatalf("asset id %q lacks drug/location prefix", a)
		}
		if seen[a] {
			t.Fatalf("duplicate asset id %q", a)
		}
		seen[a] = true
	}
	var audits int
	if err := db.Get(&audits, `SELECT COUNT(*) FROM audit_log WHERE action = 'RECEIVE_STOCK'`); err != nil {
		t.Fatal(err)
	}
	if audits != 1 {
		t.Fatalf("audit rows = %d, want 1", audits)
	}
}

func TestReceiveStockValidation(t *testing.T) {
	svc, _, _ := newService(t)
	base := inventory.ReceiveInput{DrugID: drugTNK, LocationID: hubPA, BatchNumber: "TNK-1", ExpiryDate: "2025-01-01", Quantity: 1, UserID: userAdmin}

	cases := []struct {
		name string
		mut  func(*inventory.ReceiveInput)
		want error
	}{
		{"zero quantity", func(in *inventory.ReceiveInput) { in.Quantity = 0 }, inventory.ErrInvalidInput},
		{"too many", func(in *inventory.ReceiveInput) { in.Quantity = 501 }, inventory.ErrInvalidInput},
		{"bad expiry", func(in *inventory.ReceiveInput) { in.ExpiryDate = "01/01/2025" }, inventory.ErrInvalidInput},
		{"short batch", func(in *inventory.ReceiveInput) { in.BatchNumber = "AB" }, inventory.ErrInvalidInput},
		{"unknown drug", func(in *inventory.ReceiveInput) { in.DrugID = 99 }, inventory.ErrNotFound},
		{"unknown location", func(in *inventory.ReceiveInput) { in.LocationID = 99 }, inventory.ErrNotFound},
		{"stale stock level", func(in *inventory.ReceiveInput) { in.StockLevelVersion = ptr(7) }, inventory.ErrConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			tc.mut(&in)
			_, err := svc.ReceiveStock(context.Background(), in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestUseStockNotifiesBelowMinimum(t *testing.T) {
	svc, db, n := newService(t)
	ids := receive(t, svc, drugTNK, hubPA, "TNK-2024-A", "2024-09-13", 2)

	res, err := svc.UseStock(context.Background(), inventory.UseInput{
		VialID: ids[0], Action: "USE", UserID: userAdmin, Version: ptr(1), PatientMRN: "MRN-1234",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || !res.NeedsNotification || res.StockInfo == nil || res.StockInfo.AvailableCount != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(n.alerts) != 1 || n.alerts[0].DrugName != "Tenecteplase" {
		t.Fatalf("alerts = %+v", n.alerts)
	}

	v := vialAt(t, db, ids[0])
	if v.Status != domain.VialUsedClinical || v.Version != 2 || v.PatientMRN == nil || *v.PatientMRN != "MRN-1234" {
		t.Fatalf("vial after use = %+v", v)
	}

	_, err = svc.UseStock(context.Background(), inventory.UseInput{VialID: ids[0], Action: "USE", UserID: userAdmin})
	if !errors.Is(err, inventory.ErrUnavailable) {
		t.Fatalf("second use err = %v, want ErrUnavailable", err)
	}
}

func TestUseStockConflictsAndValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ids := receive(t, svc, drugBSA, wardED, "AV-2024-X", "2024-07-15", 1)
	ctx := context.Background()

	if _, err := svc.UseStock(ctx, inventory.UseInput{VialID: ids[0], Action: "USE", UserID: userNurse, Version: ptr(5)}); !errors.Is(err, inventory.ErrConflict) {
		t.Fatalf("stale version err = %v", err)
	}
	if _, err := svc.UseStock(ctx, inventory.UseInput{VialID: ids[0], Action: "DISCARD", UserID: userNurse}); !errors.Is(err, inventory.ErrInvalidInput) {
		t.Fatalf("discard without reason err = %v", err)
	}
	if _, err := svc.UseStock(ctx, inventory.UseInput{VialID: ids[0], Action: "USE", UserID: userNurse, PatientMRN: "x"}); !errors.Is(err, inventory.ErrInvalidInput) {
		t.Fatalf("bad mrn err = %v", err)
	}
	if _, err := svc.UseStock(ctx, inventory.UseInput{VialID: 404, Action: "USE", UserID: userNurse}); !errors.Is(err, inventory.ErrNotFound) {
		t.Fatalf("missing vial err = %v", err)
	}
	res, err := svc.UseStock(ctx, inventory.UseInput{VialID: ids[0], Action: "DISCARD", DiscardReason: "Expired", UserID: userNurse})
	if err != nil {
		t.Fatal(err)
	}
	if res.NeedsNotification {
		t.Fatal("no minimum configured at the ward, notification not expected")
	}
}

func TestHubToOwnWardCompletesImmediately(t *testing.T) {
	svc, db, _ := newService(t)
	ids := receive(t, svc, drugTNK, hubPA, "TNK-2024-A", "2024-09-13", 2)

	res, err := svc.CreateTransfer(context.Background(), userTech, inventory.CreateTransferInput{
		FromLocationID: hubPA, ToLocationID: wardED, VialIDs: ids,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.TransferCompleted || res.NeedsApproval || res.ItemCount != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, id := range ids {
		v := vialAt(t, db, id)
		if v.LocationID != wardED || v.Status != domain.VialAvailable {
			t.Fatalf("vial not handed over: %+v", v)
		}
	}
}

func TestHubToHubApprovalFlow(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	ids := receive(t, svc, drugTNK, hubPA, "TNK-2024-B", "2024-06-30", 2)

	res, err := svc.CreateTransfer(ctx, userAdmin, inventory.CreateTransferInput{FromLocationID: hubPA, ToLocationID: hubWY, VialIDs: ids})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.TransferPending || !res.NeedsApproval {
		t.Fatalf("hub to hub should wait for approval: %+v", res)
	}
	if v := vialAt(t, db, ids[0]); v.Status != domain.VialInTransit || v.LocationID != hubPA {
		t.Fatalf("pending vials should be reserved at the source: %+v", v)
	}

	if err := svc.ApproveTransfer(ctx, userAdmin, res.TransferID, ptr(1)); !errors.Is(err, inventory.ErrForbidden) {
		t.Fatalf("self approval err = %v", err)
	}
	if err := svc.ApproveTransfer(ctx, userPA2, res.TransferID, ptr(1)); !errors.Is(err, inventory.ErrForbidden) {
		t.Fatalf("same hub approval err = %v", err)
	}
	if err := svc.CompleteTransfer(ctx, userWYPharm, res.TransferID, ptr(1)); !errors.Is(err, inventory.ErrInvalidState) {
		t.Fatalf("complete while pending err = %v", err)
	}
	if err := svc.ApproveTransfer(ctx, userWYPharm, res.TransferID, ptr(0)); !errors.Is(err, inventory.ErrConflict) {
		t.Fatalf("stale approval err = %v", err)
	}
	if err := svc.ApproveTransfer(ctx, userWYPharm, res.TransferID, ptr(1)); err != nil {
		t.Fatal(err)
	}

	tv, err := svc.Transfer(ctx, res.TransferID)
	if err != nil {
		t.Fatal(err)
	}
	if tv.Status != domain.TransferInTransit || tv.Version != 2 || tv.ApprovedByName == nil || *tv.ApprovedByName != "wy_pharm" {
		t.Fatalf("after approval: %+v", tv.Transfer)
	}

	if err := svc.CompleteTransfer(ctx, userWYPharm, res.TransferID, ptr(2)); err != nil {
		t.Fatal(err)
	}
	for _, id := range ids {
		v := vialAt(t, db, id)
		if v.LocationID != hubWY || v.Status != domain.VialAvailable {
			t.Fatalf("vial not received: %+v", v)
		}
	}
	if err := svc.CancelTransfer(ctx, userAdmin, res.TransferID, nil); !errors.Is(err, inventory.ErrInvalidState) {
		t.Fatalf("cancel after completion err = %v", err)
	}
}

func TestApprovalNeedsDelegationRights(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	ids := receive(t, svc, drugTNK, hubPA, "TNK-2024-B", "2024-06-30", 1)

	res, err := svc.CreateTransfer(ctx, userAdmin, inventory.CreateTransferInput{FromLocationID: hubPA, ToLocationID: hubWY, VialIDs: ids})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`UPDATE users SET can_delegate = 0 WHERE id = ?`, userWYPharm); err != nil {
		t.Fatal(err)
	}
	if err := svc.ApproveTransfer(ctx, userWYPharm, res.TransferID, ptr(1)); !errors.Is(err, inventory.ErrForbidden) {
		t.Fatalf("approval without delegation err = %v", err)
	}

	if _, err := db.Exec(`UPDATE users SET can_delegate = 1 WHERE id = ?`, userWYPharm); err != nil {
		t.Fatal(err)
	}
	if err := svc.ApproveTransfer(ctx, userWYPharm, res.TransferID, ptr(1)); err != nil {
		t.Fatal(err)
	}
}

func TestCreateTransferRejections(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	edIDs := receive(t, svc, drugBSA, wardED, "AV-2024-X", "2024-07-15", 1)
	hubIDs := receive(t, svc, drugBSA, hubPA, "AV-2024-Y", "2024-09-28", 1)

	if _, err := svc.CreateTransfer(ctx, userAdmin, inventory.CreateTransferInput{FromLocationID: wardED, ToLocationID: wardWY, VialIDs: edIDs}); !errors.Is(err, inventory.ErrInvalidRoute) {
		t.Fatalf("cross-hub ward transfer err = %v", err)
	}
	if _, err := svc.CreateTransfer(ctx, userAdmin, inventory.CreateTransferInput{FromLocationID: wardED, ToLocationID: wardICU, VialIDs: hubIDs}); !errors.Is(err, inventory.ErrUnavailable) {
		t.Fatalf("vial at wrong location err = %v", err)
	}
	if _, err := svc.CreateTransfer(ctx, userAdmin, inventory.CreateTransferInput{FromLocationID: wardED, ToLocationID: wardICU}); !errors.Is(err, inventory.ErrInvalidInput) {
		t.Fatalf("empty vial list err = %v", err)
	}
	if _, err := svc.CreateTransfer(ctx, userNurse, inventory.CreateTransferInput{FromLocationID: hubPA, ToLocationID: remoteQN, VialIDs: hubIDs}); !errors.Is(err, inventory.ErrForbidden) {
		t.Fatalf("nurse moving another site's stock err = %v", err)
	}
}

func TestCancelReleasesVialsAtSource(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	ids := receive(t, svc, drugBSA, wardED, "AV-2024-X", "2024-07-15", 1)

	res, err := svc.CreateTransfer(ctx, userNurse, inventory.CreateTransferInput{FromLocationID: wardED, ToLocationID: hubPA, VialIDs: ids})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.TransferInTransit {
		t.Fatalf("ward to hub status = %s", res.Status)
	}
	if err := svc.CancelTransfer(ctx, userNurse, res.TransferID, ptr(1)); err != nil {
		t.Fatal(err)
	}
	v := vialAt(t, db, ids[0])
	if v.Status != domain.VialAvailable || v.LocationID != wardED || v.Version != 3 {
		t.Fatalf("vial after cancel = %+v", v)
	}

	j, err := svc.Journey(ctx, v.AssetID)
	if err != nil {
		t.Fatal(err)
	}
	wantTypes := []string{inventory.EventTransferCancelled, inventory.EventTransferStarted, inventory.EventCreated}
	if len(j.Timeline) != len(wantTypes) {
		t.Fatalf("timeline = %+v", j.Timeline)
	}
	for i, want := range wantTypes {
		if j.Timeline[i].Type != want {
			t.Fatalf("timeline[%d] = %s, want %s", i, j.Timeline[i].Type, want)
		}
	}
	if ev := j.Timeline[0]; ev.User != "ed_nurse" || ev.Location != "Port Augusta ED" {
		t.Fatalf("cancel event = %+v", ev)
	}
}

func TestTransfersListsItemsNewestFirst(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	first := receive(t, svc, drugTNK, hubPA, "TNK-2024-A", "2024-05-21", 1)
	second := receive(t, svc, drugTNK, hubPA, "TNK-2024-C", "2024-12-01", 1)

	a, err := svc.CreateTransfer(ctx, userAdmin, inventory.CreateTransferInput{FromLocationID: hubPA, ToLocationID: remoteQN, VialIDs: first})
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.CreateTransfer(ctx, userAdmin, inventory.CreateTransferInput{FromLocationID: hubPA, ToLocationID: wardICU, VialIDs: second})
	if err != nil {
		t.Fatal(err)
	}

	list, err := svc.Transfers(ctx, hubPA)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != b.TransferID || list[1].ID != a.TransferID {
		t.Fatalf("transfers out of order: %+v", list)
	}
	if list[1].ItemCount != 1 || len(list[1].Items) != 1 || list[1].Items[0].StatusColor != domain.ColorRed {
		t.Fatalf("transfer items not annotated: %+v", list[1])
	}
	if list[1].ToLocation != "Quorn" || list[1].CreatedByName != "admin" {
		t.Fatalf("names not joined: %+v", list[1])
	}
}

func TestDashboardScopesByRole(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	receive(t, svc, drugTNK, hubPA, "TNK-2024-A", "2024-09-13", 2) // 135 days
	receive(t, svc, drugTNK, hubPA, "TNK-2024-C", "2024-05-21", 1) // 20 days
	receive(t, svc, drugBSA, wardED, "AV-2024-X", "2024-07-15", 1) // 75 days

	admin, err := svc.Dashboard(ctx, userAdmin)
	if err != nil {
		t.Fatal(err)
	}
	want := inventory.DashboardStats{TotalStock: 4, ExpiringSoon: 1, WarningStock: 1, HealthyStock: 2}
	if admin.Stats != want {
		t.Fatalf("admin stats = %+v, want %+v", admin.Stats, want)
	}
	if admin.Stock[0].BatchNumber != "TNK-2024-C" || admin.Stock[0].DaysUntilExpiry != 20 {
		t.Fatalf("stock not ordered by expiry: %+v", admin.Stock[0])
	}

	nurse, err := svc.Dashboard(ctx, userNurse)
	if err != nil {
		t.Fatal(err)
	}
	if nurse.Stats.TotalStock != 1 || nurse.Stock[0].StatusColor != domain.ColorAmber {
		t.Fatalf("nurse dashboard = %+v", nurse.Stats)
	}
	if _, err := svc.Dashboard(ctx, 99); !errors.Is(err, inventory.ErrNotFound) {
		t.Fatalf("unknown user err = %v", err)
	}
}

func TestSearch(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	receive(t, svc, drugTNK, hubPA, "TNK-2024-A", "2024-09-13", 2)
	receive(t, svc, drugBSA, wardED, "AV-2024-X", "2024-07-15", 1)

	empty, err := svc.Search(ctx, "  ", "ALL")
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty search = %v, %v", empty, err)
	}
	byBatch, err := svc.Search(ctx, "TNK-2024", "ALL")
	if err != nil || len(byBatch) != 2 {
		t.Fatalf("batch search = %d, %v", len(byBatch), err)
	}
	byDrug, err := svc.Search(ctx, "snake", "AVAILABLE")
	if err != nil || len(byDrug) != 1 || byDrug[0].LocationName != "Port Augusta ED" {
		t.Fatalf("drug search = %+v, %v", byDrug, err)
	}
	used, err := svc.Search(ctx, "", "USED_CLINICAL")
	if err != nil || len(used) != 0 {
		t.Fatalf("status search = %d, %v", len(used), err)
	}
}

func TestSearchMatchesWildcardsLiterally(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	receive(t, svc, drugTNK, hubPA, "LOT_2031", "2031-06-30", 1)
	receive(t, svc, drugTNK, hubPA, "LOTX2031", "2031-06-30", 2)

	got, err := svc.Search(ctx, "LOT_2031", "ALL")
	if err != nil || len(got) != 1 || got[0].BatchNumber != "LOT_2031" {
		t.Fatalf("underscore search = %+v, %v", got, err)
	}
	if pct, err := svc.Search(ctx, "%", "ALL"); err != nil || len(pct) != 0 {
		t.Fatalf("percent search = %d, %v", len(pct), err)
	}
}

func TestJourneyTimeline(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	res, err := svc.ReceiveStock(ctx, inventory.ReceiveInput{
		DrugID: drugTNK, LocationID: hubPA, BatchNumber: "TNK-2024-A", ExpiryDate: "2024-09-13", Quantity: 1, UserID: userTech,
	})
	if err != nil {
		t.Fatal(err)
	}
	ids := vialIDs(t, svc, res.AssetIDs)
	if _, err := svc.CreateTransfer(ctx, userAdmin, inventory.CreateTransferInput{FromLocationID: hubPA, ToLocationID: wardED, VialIDs: ids}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.UseStock(ctx, inventory.UseInput{VialID: ids[0], Action: "USE", UserID: userNurse, PatientMRN: "MRN-1234"}); err != nil {
		t.Fatal(err)
	}

	j, err := svc.Journey(ctx, res.AssetIDs[0])
	if err != nil {
		t.Fatal(err)
	}
	wantTypes := []string{inventory.EventUsed, inventory.EventTransferCompleted, inventory.EventTransferStarted, inventory.EventCreated}
	if len(j.Timeline) != len(wantTypes) {
		t.Fatalf("timeline = %+v", j.Timeline)
	}
	for i, want := range wantTypes {
		if j.Timeline[i].Type != want {
			t.Fatalf("timeline[%d] = %s, want %s", i, j.Timeline[i].Type, want)
		}
	}
	if j.Timeline[3].User != "pa_tech" || j.Timeline[0].User != "ed_nurse" {
		t.Fatalf("users not resolved: %+v", j.Timeline)
	}
	if _, err := svc.Journey(ctx, "NOPE"); !errors.Is(err, inventory.ErrNotFound) {
		t.Fatalf("unknown asset err = %v", err)
	}
}

func TestNetworkStatus(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	receive(t, svc, drugTNK, hubPA, "TNK-2024-C", "2024-05-11", 1)
	receive(t, svc, drugBSA, wardED, "AV-2024-X", "2024-07-15", 1)
	receive(t, svc, drugBSA, hubWY, "AV-2024-Y", "2024-12-15", 1)

	st, err := svc.NetworkStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st[hubPA] != (inventory.LocationHealth{Expiry: "critical", Level: "critical"}) {
		t.Fatalf("hub PA = %+v", st[hubPA])
	}
	if st[wardED].Expiry != "warning" || st[wardED].Level != "healthy" {
		t.Fatalf("ward ED = %+v", st[wardED])
	}
	if st[hubWY] != (inventory.LocationHealth{Expiry: "healthy", Level: "healthy"}) {
		t.Fatalf("hub WY = %+v", st[hubWY])
	}
	if _, ok := st[remoteQN]; !ok {
		t.Fatal("locations without stock must still be reported")
	}
}

func TestUsageReport(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	ids := receive(t, svc, drugTNK, hubPA, "TNK-2024-A", "2024-09-13", 3)
	for i, id := range ids {
		in := inventory.UseInput{VialID: id, Action: "USE", UserID: userAdmin}
		if i == 2 {
			in.Action, in.DiscardReason = "DISCARD", "Broken"
		}
		if _, err := svc.UseStock(ctx, in); err != nil {
			t.Fatal(err)
		}
	}

	rep, err := svc.UsageReport(ctx, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if rep.StartDate != "2024-04-01" || rep.EndDate != "2024-05-01" {
		t.Fatalf("default window = %s..%s", rep.StartDate, rep.EndDate)
	}
	if len(rep.Data) != 1 {
		t.Fatalf("rows = %+v", rep.Data)
	}
	row := rep.Data[0]
	if row.ClinicalUse != 2 || row.Wastage != 1 || !row.ClinicalValue.Equal(decimal.NewFromInt(5000)) || !row.WastageValue.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("row = %+v", row)
	}
	if !rep.Totals.ClinicalValue.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("totals = %+v", rep.Totals)
	}

	if _, err := svc.UsageReport(ctx, "2024-06-01", "2024-05-01"); !errors.Is(err, inventory.ErrInvalidInput) {
		t.Fatalf("inverted range err = %v", err)
	}
}

func TestDestinations(t *testing.T) {
	svc, _, _ := newService(t)
	dests, err := svc.Destinations(context.Background(), wardED)
	if err != nil {
		t.Fatal(err)
	}
	got := map[int64]bool{}
	for _, d := range dests {
		got[d.ID] = true
	}
	if len(dests) != 2 || !got[hubPA] || !got[wardICU] {
		t.Fatalf("ward destinations = %+v", dests)
	}
}
