// Package sheetrpc is the remote spreadsheet contract consumed by the core:
// metadata fetch, batch value reads and writes, row appends, and
// row-visibility updates. All writes use raw value input.
//
// The Google Sheets implementation lives in google.go; Fake is an in-memory
// implementation for tests.
package sheetrpc

import (
	"context"
	"strings"
)

// RangeValues pairs an A1 range with a 2D string grid for batched updates.
type RangeValues struct {
	Range  string
	Values [][]string
}

// RowVisibility addresses one 1-based row within a tab for hide/unhide.
type RowVisibility struct {
	TabID int64
	Row   int64
}

// Client is the remote spreadsheet surface. Implementations must be safe for
// concurrent use.
type Client interface {
	// TabIDs maps tab names to their opaque sheet ids.
	TabIDs(ctx context.Context) (map[string]int64, error)
	// ReadRange fetches cell values for an A1 range as a 2D string array.
	// Trailing empty rows and cells may be absent.
	ReadRange(ctx context.Context, a1 string) ([][]string, error)
	// UpdateRange overwrites an A1 range with the given values.
	UpdateRange(ctx context.Context, a1 string, values [][]string) error
	// BatchUpdate applies several range updates in one call.
	BatchUpdate(ctx context.Context, data []RangeValues) error
	// AppendRows appends rows after the last data row of the range's table,
	// with insert-rows semantics.
	AppendRows(ctx context.Context, a1 string, rows [][]string) error
	// SetRowsHidden sets the hiddenByUser row attribute for every listed row
	// in one batched call.
	SetRowsHidden(ctx context.Context, rows []RowVisibility, hidden bool) error
}

// RangeRef builds an A1 reference for cells within tab, quoting the tab name
// when it contains characters beyond letters, digits and underscore.
func RangeRef(tab, cells string) string {
	plain := true
	for _, r := range tab {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			plain = false
			break
		}
	}
	if plain && tab != "" {
		return tab + "!" + cells
	}
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'!" + cells
}
