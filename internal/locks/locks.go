// Package locks reads and writes the persisted lock table: one row per
// (phone, lead tab) holding call counts and the hidden-until deadline.
//
// Two on-sheet schemas exist. v2 is the current one:
//
//	Phone | LeadSheet | LeadRow | CallCount | LockedUntil | LastEventId | UpdatedAt
//
// v1 is a legacy single-tab layout without the LeadSheet column. It is still
// readable, but only valid when exactly one lead tab is configured.
package locks

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hazyhaar/leadveil/internal/sheetrpc"
)

// Schema identifies the on-sheet lock table layout.
type Schema int

const (
	// SchemaV2 is the current layout with a LeadSheet column.
	SchemaV2 Schema = iota
	// SchemaV1 is the legacy single-tab layout.
	SchemaV1
)

// chunkSize bounds rows per write call.
const chunkSize = 200

// Record is one lock row. RowNum is its 1-based position in the lock tab;
// zero means the record has not been persisted yet.
type Record struct {
	Phone       string
	LeadSheet   string
	LeadRow     int
	CallCount   int
	LockedUntil string
	LastEventID string
	UpdatedAt   string

	RowNum int
}

// Key returns the identity of a record under the given schema: (phone, tab)
// for v2, phone alone for v1.
func Key(schema Schema, phone, leadSheet string) string {
	if schema == SchemaV1 {
		return phone
	}
	return phone + "\x00" + leadSheet
}

// Table is the lock tab accessor.
type Table struct {
	client sheetrpc.Client
	tab    string
	logger *slog.Logger

	// ErrSchema is wrapped into schema-detection failures.
	ErrSchema error
}

// NewTable creates a Table for the given lock tab.
func NewTable(client sheetrpc.Client, tab string, errSchema error, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{client: client, tab: tab, logger: logger, ErrSchema: errSchema}
}

// Read fetches the whole lock table and detects its schema. An empty tab is
// reported as v2 with no records; the header is created on first write.
func (t *Table) Read(ctx context.Context) (Schema, []Record, error) {
	rows, err := t.client.ReadRange(ctx, sheetrpc.RangeRef(t.tab, "A1:G"))
	if err != nil {
		return SchemaV2, nil, fmt.Errorf("locks: read %s: %w", t.tab, err)
	}
	if len(rows) == 0 {
		return SchemaV2, nil, nil
	}

	schema, ok := detectSchema(rows[0])
	if !ok {
		err := t.ErrSchema
		if err == nil {
			err = fmt.Errorf("unrecognized header")
		}
		return SchemaV2, nil, fmt.Errorf("locks: tab %s: %w (header %v)", t.tab, err, rows[0])
	}
	if schema == SchemaV1 {
		t.logger.Warn("locks: legacy v1 schema detected; migrate to the LeadSheet layout", "tab", t.tab)
	}

	var recs []Record
	for i := 1; i < len(rows); i++ {
		rec, ok := parseRecord(schema, rows[i])
		if !ok {
			continue
		}
		rec.RowNum = i + 1
		recs = append(recs, rec)
	}
	return schema, recs, nil
}

// EnsureHeader writes the v2 header when the tab is empty.
func (t *Table) EnsureHeader(ctx context.Context) error {
	rows, err := t.client.ReadRange(ctx, sheetrpc.RangeRef(t.tab, "A1:G1"))
	if err != nil {
		return fmt.Errorf("locks: read header: %w", err)
	}
	if len(rows) > 0 && len(rows[0]) > 0 && strings.TrimSpace(rows[0][0]) != "" {
		return nil
	}
	header := []string{"Phone", "LeadSheet", "LeadRow", "CallCount", "LockedUntil", "LastEventId", "UpdatedAt"}
	if err := t.client.UpdateRange(ctx, sheetrpc.RangeRef(t.tab, "A1:G1"), [][]string{header}); err != nil {
		return fmt.Errorf("locks: write header: %w", err)
	}
	return nil
}

// Update rewrites existing records (RowNum > 0) in place, batched in chunks.
func (t *Table) Update(ctx context.Context, schema Schema, recs []Record) error {
	var data []sheetrpc.RangeValues
	for _, rec := range recs {
		if rec.RowNum <= 0 {
			continue
		}
		data = append(data, sheetrpc.RangeValues{
			Range:  t.rowRange(schema, rec.RowNum),
			Values: [][]string{marshalRecord(schema, rec)},
		})
	}
	for start := 0; start < len(data); start += chunkSize {
		end := min(start+chunkSize, len(data))
		if err := t.client.BatchUpdate(ctx, data[start:end]); err != nil {
			return fmt.Errorf("locks: update chunk: %w", err)
		}
	}
	return nil
}

// Append adds new records (RowNum == 0) to the end of the table, batched in
// chunks.
func (t *Table) Append(ctx context.Context, schema Schema, recs []Record) error {
	var rows [][]string
	for _, rec := range recs {
		if rec.RowNum > 0 {
			continue
		}
		rows = append(rows, marshalRecord(schema, rec))
	}
	if len(rows) == 0 {
		return nil
	}
	if err := t.EnsureHeader(ctx); err != nil {
		return err
	}
	ref := sheetrpc.RangeRef(t.tab, "A:G")
	if schema == SchemaV1 {
		ref = sheetrpc.RangeRef(t.tab, "A:F")
	}
	for start := 0; start < len(rows); start += chunkSize {
		end := min(start+chunkSize, len(rows))
		if err := t.client.AppendRows(ctx, ref, rows[start:end]); err != nil {
			return fmt.Errorf("locks: append chunk: %w", err)
		}
	}
	return nil
}

// ClearLock writes the tail columns of one record: LockedUntil (cleared),
// LastEventId (preserved) and UpdatedAt. CallCount and the lead location are
// untouched. Returns the range update for batching by the caller.
func (t *Table) ClearLock(schema Schema, rec Record, updatedAt string) sheetrpc.RangeValues {
	var ref string
	if schema == SchemaV1 {
		ref = sheetrpc.RangeRef(t.tab, fmt.Sprintf("D%d:F%d", rec.RowNum, rec.RowNum))
	} else {
		ref = sheetrpc.RangeRef(t.tab, fmt.Sprintf("E%d:G%d", rec.RowNum, rec.RowNum))
	}
	return sheetrpc.RangeValues{
		Range:  ref,
		Values: [][]string{{"", rec.LastEventID, updatedAt}},
	}
}

// BatchUpdate applies prepared range updates in chunks.
func (t *Table) BatchUpdate(ctx context.Context, data []sheetrpc.RangeValues) error {
	for start := 0; start < len(data); start += chunkSize {
		end := min(start+chunkSize, len(data))
		if err := t.client.BatchUpdate(ctx, data[start:end]); err != nil {
			return fmt.Errorf("locks: batch update: %w", err)
		}
	}
	return nil
}

func (t *Table) rowRange(schema Schema, rowNum int) string {
	if schema == SchemaV1 {
		return sheetrpc.RangeRef(t.tab, fmt.Sprintf("A%d:F%d", rowNum, rowNum))
	}
	return sheetrpc.RangeRef(t.tab, fmt.Sprintf("A%d:G%d", rowNum, rowNum))
}

func detectSchema(header []string) (Schema, bool) {
	cell := func(i int) string {
		if i < len(header) {
			return strings.TrimSpace(header[i])
		}
		return ""
	}
	if !strings.EqualFold(cell(0), "Phone") {
		return SchemaV2, false
	}
	switch {
	case strings.EqualFold(cell(1), "LeadSheet"):
		return SchemaV2, true
	case strings.EqualFold(cell(1), "LeadRow"):
		return SchemaV1, true
	}
	return SchemaV2, false
}

func parseRecord(schema Schema, row []string) (Record, bool) {
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	var rec Record
	if schema == SchemaV1 {
		rec = Record{
			Phone:       cell(0),
			LeadRow:     atoi(cell(1)),
			CallCount:   atoi(cell(2)),
			LockedUntil: cell(3),
			LastEventID: cell(4),
			UpdatedAt:   cell(5),
		}
	} else {
		rec = Record{
			Phone:       cell(0),
			LeadSheet:   cell(1),
			LeadRow:     atoi(cell(2)),
			CallCount:   atoi(cell(3)),
			LockedUntil: cell(4),
			LastEventID: cell(5),
			UpdatedAt:   cell(6),
		}
	}
	if rec.Phone == "" {
		return Record{}, false
	}
	return rec, true
}

func marshalRecord(schema Schema, rec Record) []string {
	if schema == SchemaV1 {
		return []string{
			rec.Phone,
			strconv.Itoa(rec.LeadRow),
			strconv.Itoa(rec.CallCount),
			rec.LockedUntil,
			rec.LastEventID,
			rec.UpdatedAt,
		}
	}
	return []string{
		rec.Phone,
		rec.LeadSheet,
		strconv.Itoa(rec.LeadRow),
		strconv.Itoa(rec.CallCount),
		rec.LockedUntil,
		rec.LastEventID,
		rec.UpdatedAt,
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
