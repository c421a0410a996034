package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/leadveil/internal/leadindex"
	"github.com/hazyhaar/leadveil/internal/locks"
	"github.com/hazyhaar/leadveil/internal/pending"
	"github.com/hazyhaar/leadveil/internal/settings"
	"github.com/hazyhaar/leadveil/internal/sheetrpc"
)

var (
	errSchema   = errors.New("schema mismatch")
	errNoColumn = errors.New("phone column missing")
)

// passthrough accepts any cell that already looks like E.164.
func passthrough(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "+") && len(raw) >= 8 {
		return raw, true
	}
	return "", false
}

type fixture struct {
	fake *sheetrpc.Fake
	rec  *Reconciler
	now  time.Time
}

func newFixture(t *testing.T, tabs []string, lockAfter int) *fixture {
	t.Helper()
	fakeTabs := append(append([]string(nil), tabs...), "Locks", "Settings")
	f := sheetrpc.NewFake(fakeTabs...)
	idx := leadindex.New(f, leadindex.Config{
		Tabs:           tabs,
		PhoneLabel:     "Phone",
		Normalize:      passthrough,
		ColumnNotFound: errNoColumn,
	}, nil)
	tbl := locks.NewTable(f, "Locks", errSchema, nil)
	st := settings.NewStore(f, "Settings", 60, nil)
	r := New(f, idx, tbl, st, Config{LeadSheets: tabs, LockAfterCalls: lockAfter}, errSchema, nil)
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	r.SetNow(func() time.Time { return now })
	return &fixture{fake: f, rec: r, now: now}
}

func leadGrid(phones ...string) [][]string {
	grid := [][]string{{"Name", "Phone"}}
	for i, p := range phones {
		grid = append(grid, []string{"Lead " + string(rune('A'+i)), p})
	}
	return grid
}

func TestFlush_LocksAtThreshold(t *testing.T) {
	// WHAT: Reaching the call threshold writes a lock record and hides the
	// lead's row; staying below it records the count without hiding.
	// WHY: Hiding is the whole point, and premature hiding loses leads.
	fx := newFixture(t, []string{"Sales"}, 2)
	fx.fake.SetCells("Sales", leadGrid("+14155551212", "+14155550000"))
	ctx := context.Background()

	stats, err := fx.rec.Flush(ctx, []pending.Entry{
		{Phone: "+14155551212", Delta: 1, EventID: "fp-1"},
	})
	if err != nil {
		t.Fatalf("flush 1: %v", err)
	}
	if stats.Locked != 0 || fx.fake.RowHidden("Sales", 2) {
		t.Fatal("one call must not lock")
	}

	stats, err = fx.rec.Flush(ctx, []pending.Entry{
		{Phone: "+14155551212", Delta: 1, EventID: "fp-2"},
	})
	if err != nil {
		t.Fatalf("flush 2: %v", err)
	}
	if stats.Locked != 1 {
		t.Fatalf("locked = %d, want 1", stats.Locked)
	}
	if !fx.fake.RowHidden("Sales", 2) {
		t.Error("row 2 should be hidden after the second call")
	}
	if fx.fake.RowHidden("Sales", 3) {
		t.Error("row 3 was never called and must stay visible")
	}

	_, recs, err := locks.NewTable(fx.fake, "Locks", errSchema, nil).Read(ctx)
	if err != nil {
		t.Fatalf("read locks: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("lock records = %d, want 1", len(recs))
	}
	r := recs[0]
	wantUntil := fx.now.Add(60 * time.Minute).UTC().Format(time.RFC3339)
	if r.CallCount != 2 || r.LockedUntil != wantUntil || r.LeadSheet != "Sales" || r.LeadRow != 2 {
		t.Errorf("record = %+v, want count 2 until %s", r, wantUntil)
	}
}

func TestFlush_UnknownPhoneDropped(t *testing.T) {
	// WHAT: An increment for a phone absent from every lead tab is dropped
	// without creating a lock record.
	// WHY: The lock table mirrors leads; orphan rows would never be swept.
	fx := newFixture(t, []string{"Sales"}, 2)
	fx.fake.SetCells("Sales", leadGrid("+14155551212"))

	stats, err := fx.rec.Flush(context.Background(), []pending.Entry{
		{Phone: "+19998887777", Delta: 2, EventID: "fp-1"},
	})
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if stats.Dropped != 1 || stats.Applied != 0 {
		t.Errorf("stats = %+v, want 1 dropped, 0 applied", stats)
	}
	if cells := fx.fake.Cells("Locks"); len(cells) != 0 {
		t.Errorf("lock tab = %+v, want empty", cells)
	}
}

func TestFlush_ActiveLockNotExtended(t *testing.T) {
	// WHAT: Calls arriving during an active lock bump CallCount but leave
	// LockedUntil exactly where it was.
	// WHY: A talkative caller must not hide a lead forever.
	fx := newFixture(t, []string{"Sales"}, 2)
	fx.fake.SetCells("Sales", leadGrid("+14155551212"))
	until := fx.now.Add(30 * time.Minute).UTC().Format(time.RFC3339)
	fx.fake.SetCells("Locks", [][]string{
		{"Phone", "LeadSheet", "LeadRow", "CallCount", "LockedUntil", "LastEventId", "UpdatedAt"},
		{"+14155551212", "Sales", "2", "2", until, "fp-2", "t0"},
	})

	if _, err := fx.rec.Flush(context.Background(), []pending.Entry{
		{Phone: "+14155551212", Delta: 1, EventID: "fp-3"},
	}); err != nil {
		t.Fatalf("flush: %v", err)
	}
	row := fx.fake.Cells("Locks")[1]
	if row[3] != "3" {
		t.Errorf("CallCount = %q, want 3", row[3])
	}
	if row[4] != until {
		t.Errorf("LockedUntil = %q, want unchanged %q", row[4], until)
	}
}

func TestFlush_PerTabHoldMinutes(t *testing.T) {
	// WHAT: A tab with a settings override locks for its own duration.
	// WHY: Cooldowns are tuned per pipeline, not globally.
	fx := newFixture(t, []string{"Sales", "Warm"}, 1)
	fx.fake.SetCells("Sales", leadGrid("+14155551212"))
	fx.fake.SetCells("Warm", leadGrid("+14155550000"))
	fx.fake.SetCells("Settings", [][]string{
		{"LeadSheet", "HoldMinutes"},
		{"Warm", "15"},
	})
	st := settings.NewStore(fx.fake, "Settings", 60, nil)
	if err := st.Load(context.Background()); err != nil {
		t.Fatalf("settings load: %v", err)
	}
	fx.rec.settings = st

	if _, err := fx.rec.Flush(context.Background(), []pending.Entry{
		{Phone: "+14155550000", Delta: 1, EventID: "fp-1"},
	}); err != nil {
		t.Fatalf("flush: %v", err)
	}
	row := fx.fake.Cells("Locks")[1]
	want := fx.now.Add(15 * time.Minute).UTC().Format(time.RFC3339)
	if row[4] != want {
		t.Errorf("LockedUntil = %q, want %q (15m override)", row[4], want)
	}
}

func TestFlush_MultiTabDuplicatePhone(t *testing.T) {
	// WHAT: A phone present on two tabs locks only on the first configured
	// tab, and only that tab's row is hidden.
	// WHY: First-tab-wins is the documented duplicate policy.
	fx := newFixture(t, []string{"Sales", "Warm"}, 1)
	fx.fake.SetCells("Sales", leadGrid("+14155551212"))
	fx.fake.SetCells("Warm", leadGrid("+14155551212"))

	if _, err := fx.rec.Flush(context.Background(), []pending.Entry{
		{Phone: "+14155551212", Delta: 1, EventID: "fp-1"},
	}); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !fx.fake.RowHidden("Sales", 2) {
		t.Error("Sales row should be hidden")
	}
	if fx.fake.RowHidden("Warm", 2) {
		t.Error("Warm row must stay visible")
	}
	_, recs, _ := locks.NewTable(fx.fake, "Locks", errSchema, nil).Read(context.Background())
	if len(recs) != 1 || recs[0].LeadSheet != "Sales" {
		t.Errorf("records = %+v, want one Sales record", recs)
	}
}

func TestFlush_V1SchemaRefusesMultiTab(t *testing.T) {
	// WHAT: A legacy v1 lock table combined with multiple lead tabs fails
	// with the schema error before any write.
	// WHY: v1 records carry no tab name; writing them would be ambiguous.
	fx := newFixture(t, []string{"Sales", "Warm"}, 2)
	fx.fake.SetCells("Sales", leadGrid("+14155551212"))
	fx.fake.SetCells("Warm", leadGrid("+14155550000"))
	fx.fake.SetCells("Locks", [][]string{
		{"Phone", "LeadRow", "CallCount", "LockedUntil", "LastEventId", "UpdatedAt"},
	})
	before := fx.fake.WriteCalls()

	_, err := fx.rec.Flush(context.Background(), []pending.Entry{
		{Phone: "+14155551212", Delta: 1, EventID: "fp-1"},
	})
	if !errors.Is(err, errSchema) {
		t.Fatalf("err = %v, want wrapped schema error", err)
	}
	if fx.fake.WriteCalls() != before {
		t.Error("refusal must not write anything")
	}
}

func TestSweep_ExpiredLockUnhidesAndClears(t *testing.T) {
	// WHAT: An expired lock unhides the row, empties LockedUntil, stamps
	// UpdatedAt and keeps CallCount.
	// WHY: The cooldown is temporary; the call history is not.
	fx := newFixture(t, []string{"Sales"}, 2)
	fx.fake.SetCells("Sales", leadGrid("+14155551212"))
	expired := fx.now.Add(-time.Minute).UTC().Format(time.RFC3339)
	fx.fake.SetCells("Locks", [][]string{
		{"Phone", "LeadSheet", "LeadRow", "CallCount", "LockedUntil", "LastEventId", "UpdatedAt"},
		{"+14155551212", "Sales", "2", "2", expired, "fp-2", "t0"},
	})
	fx.fake.SetRowsHidden(context.Background(), []sheetrpc.RowVisibility{{TabID: 100, Row: 2}}, true)

	stats, err := fx.rec.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Unlocked != 1 {
		t.Fatalf("unlocked = %d, want 1", stats.Unlocked)
	}
	if fx.fake.RowHidden("Sales", 2) {
		t.Error("row should be visible after sweep")
	}
	row := fx.fake.Cells("Locks")[1]
	if row[4] != "" {
		t.Errorf("LockedUntil = %q, want cleared", row[4])
	}
	if row[3] != "2" {
		t.Errorf("CallCount = %q, want preserved 2", row[3])
	}
	if row[6] == "t0" {
		t.Error("UpdatedAt should be stamped by the sweep")
	}
}

func TestSweep_FutureLockUntouched(t *testing.T) {
	// WHAT: A lock that has not expired is left hidden and unmodified.
	// WHY: The sweep must only act on deadlines that passed.
	fx := newFixture(t, []string{"Sales"}, 2)
	fx.fake.SetCells("Sales", leadGrid("+14155551212"))
	future := fx.now.Add(time.Hour).UTC().Format(time.RFC3339)
	fx.fake.SetCells("Locks", [][]string{
		{"Phone", "LeadSheet", "LeadRow", "CallCount", "LockedUntil", "LastEventId", "UpdatedAt"},
		{"+14155551212", "Sales", "2", "2", future, "fp-2", "t0"},
	})
	fx.fake.SetRowsHidden(context.Background(), []sheetrpc.RowVisibility{{TabID: 100, Row: 2}}, true)

	stats, err := fx.rec.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Unlocked != 0 {
		t.Errorf("unlocked = %d, want 0", stats.Unlocked)
	}
	if !fx.fake.RowHidden("Sales", 2) {
		t.Error("row must remain hidden")
	}
}

func TestSweep_RowMovedUsesLiveIndex(t *testing.T) {
	// WHAT: When a row was inserted above the lead after locking, the sweep
	// unhides the lead's current row, not the stale stored one.
	// WHY: Row numbers shift under manual edits; the live index is truth.
	fx := newFixture(t, []string{"Sales"}, 2)
	fx.fake.SetCells("Sales", leadGrid("+14155550000", "+14155551212"))
	expired := fx.now.Add(-time.Minute).UTC().Format(time.RFC3339)
	fx.fake.SetCells("Locks", [][]string{
		{"Phone", "LeadSheet", "LeadRow", "CallCount", "LockedUntil", "LastEventId", "UpdatedAt"},
		{"+14155551212", "Sales", "3", "2", expired, "fp-2", "t0"},
	})
	fx.fake.SetRowsHidden(context.Background(), []sheetrpc.RowVisibility{{TabID: 100, Row: 3}}, true)

	// Someone inserts a row above; the lead slides from row 3 to row 4.
	fx.fake.InsertRowAbove("Sales", 2)

	stats, err := fx.rec.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Unlocked != 1 {
		t.Fatalf("unlocked = %d, want 1", stats.Unlocked)
	}
	if fx.fake.RowHidden("Sales", 4) {
		t.Error("current row 4 should be visible")
	}
}

func TestSweep_Idempotent(t *testing.T) {
	// WHAT: A second sweep right after a successful one issues no writes.
	// WHY: The sweep runs on a timer; repeats must be free.
	fx := newFixture(t, []string{"Sales"}, 2)
	fx.fake.SetCells("Sales", leadGrid("+14155551212"))
	expired := fx.now.Add(-time.Minute).UTC().Format(time.RFC3339)
	fx.fake.SetCells("Locks", [][]string{
		{"Phone", "LeadSheet", "LeadRow", "CallCount", "LockedUntil", "LastEventId", "UpdatedAt"},
		{"+14155551212", "Sales", "2", "2", expired, "fp-2", "t0"},
	})
	ctx := context.Background()
	if _, err := fx.rec.Sweep(ctx); err != nil {
		t.Fatalf("sweep 1: %v", err)
	}

	before := fx.fake.WriteCalls()
	stats, err := fx.rec.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep 2: %v", err)
	}
	if stats.Unlocked != 0 {
		t.Errorf("unlocked = %d, want 0", stats.Unlocked)
	}
	if fx.fake.WriteCalls() != before {
		t.Error("second sweep must not write")
	}
}

func TestSweep_V1RecordUsesConfiguredTab(t *testing.T) {
	// WHAT: An expired v1 record (no tab column) unhides on the single
	// configured lead tab.
	// WHY: Legacy tables stay sweepable on single-tab deployments.
	fx := newFixture(t, []string{"Sales"}, 2)
	fx.fake.SetCells("Sales", leadGrid("+14155551212"))
	expired := fx.now.Add(-time.Minute).UTC().Format(time.RFC3339)
	fx.fake.SetCells("Locks", [][]string{
		{"Phone", "LeadRow", "CallCount", "LockedUntil", "LastEventId", "UpdatedAt"},
		{"+14155551212", "2", "2", expired, "fp-2", "t0"},
	})
	fx.fake.SetRowsHidden(context.Background(), []sheetrpc.RowVisibility{{TabID: 100, Row: 2}}, true)

	stats, err := fx.rec.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Unlocked != 1 || fx.fake.RowHidden("Sales", 2) {
		t.Errorf("unlocked = %d hidden = %v, want 1 and visible", stats.Unlocked, fx.fake.RowHidden("Sales", 2))
	}
	row := fx.fake.Cells("Locks")[1]
	if row[3] != "" || row[2] != "2" {
		t.Errorf("row = %+v, want LockedUntil cleared and CallCount kept", row)
	}
}
