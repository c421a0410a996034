package sheetrpc

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Fake is an in-memory Client for tests. Cell grids are keyed by tab name;
// rows and columns grow on write. Not a full A1 engine: it supports the
// range shapes the core actually issues.
type Fake struct {
	mu     sync.Mutex
	tabIDs map[string]int64
	cells  map[string][][]string
	hidden map[int64]map[int64]bool

	// Err, when set, is returned by every call. For failure-path tests.
	Err error

	// Write counters for idempotence assertions.
	UpdateCalls     int
	BatchCalls      int
	AppendCalls     int
	VisibilityCalls int
}

// NewFake creates a Fake with the given tabs, ids assigned from 100 upward.
func NewFake(tabs ...string) *Fake {
	f := &Fake{
		tabIDs: make(map[string]int64),
		cells:  make(map[string][][]string),
		hidden: make(map[int64]map[int64]bool),
	}
	for i, tab := range tabs {
		f.tabIDs[tab] = int64(100 + i)
		f.cells[tab] = nil
	}
	return f
}

// SetCells replaces a tab's grid (row 0 is sheet row 1).
func (f *Fake) SetCells(tab string, rows [][]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	grid := make([][]string, len(rows))
	for i, r := range rows {
		grid[i] = append([]string(nil), r...)
	}
	f.cells[tab] = grid
}

// Cells returns a copy of a tab's grid.
func (f *Fake) Cells(tab string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	grid := f.cells[tab]
	out := make([][]string, len(grid))
	for i, r := range grid {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// RowHidden reports the hiddenByUser attribute of a 1-based row.
func (f *Fake) RowHidden(tab string, row int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.tabIDs[tab]
	if !ok {
		return false
	}
	return f.hidden[id][row]
}

// WriteCalls sums all mutating calls made so far.
func (f *Fake) WriteCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.UpdateCalls + f.BatchCalls + f.AppendCalls + f.VisibilityCalls
}

// TabIDs implements Client.
func (f *Fake) TabIDs(ctx context.Context) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := make(map[string]int64, len(f.tabIDs))
	for k, v := range f.tabIDs {
		out[k] = v
	}
	return out, nil
}

// ReadRange implements Client.
func (f *Fake) ReadRange(ctx context.Context, a1 string) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	tab, sc, sr, ec, er, err := parseA1(a1)
	if err != nil {
		return nil, err
	}
	grid, ok := f.cells[tab]
	if !ok {
		return nil, fmt.Errorf("fake: no such tab %q", tab)
	}
	if sr == 0 {
		sr = 1
	}
	last := len(grid)
	if er > 0 && er < last {
		last = er
	}
	var out [][]string
	for r := sr; r <= last; r++ {
		row := grid[r-1]
		var cells []string
		for c := sc; c <= ec && c < len(row); c++ {
			cells = append(cells, row[c])
		}
		out = append(out, cells)
	}
	return out, nil
}

// UpdateRange implements Client.
func (f *Fake) UpdateRange(ctx context.Context, a1 string, values [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.UpdateCalls++
	return f.writeLocked(a1, values)
}

// BatchUpdate implements Client.
func (f *Fake) BatchUpdate(ctx context.Context, data []RangeValues) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.BatchCalls++
	for _, d := range data {
		if err := f.writeLocked(d.Range, d.Values); err != nil {
			return err
		}
	}
	return nil
}

// AppendRows implements Client.
func (f *Fake) AppendRows(ctx context.Context, a1 string, rows [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.AppendCalls++
	tab, _, _, _, _, err := parseA1(a1)
	if err != nil {
		return err
	}
	if _, ok := f.cells[tab]; !ok {
		return fmt.Errorf("fake: no such tab %q", tab)
	}
	for _, r := range rows {
		f.cells[tab] = append(f.cells[tab], append([]string(nil), r...))
	}
	return nil
}

// SetRowsHidden implements Client.
func (f *Fake) SetRowsHidden(ctx context.Context, rows []RowVisibility, hidden bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if len(rows) == 0 {
		return nil
	}
	f.VisibilityCalls++
	for _, r := range rows {
		if f.hidden[r.TabID] == nil {
			f.hidden[r.TabID] = make(map[int64]bool)
		}
		f.hidden[r.TabID][r.Row] = hidden
	}
	return nil
}

// InsertRowAbove shifts a tab's grid down from the given 1-based row,
// simulating a manual row insertion on the remote side.
func (f *Fake) InsertRowAbove(tab string, row int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	grid := f.cells[tab]
	if row < 1 || row > len(grid)+1 {
		return
	}
	grid = append(grid, nil)
	copy(grid[row:], grid[row-1:])
	grid[row-1] = []string{}
	f.cells[tab] = grid
}

func (f *Fake) writeLocked(a1 string, values [][]string) error {
	tab, sc, sr, _, _, err := parseA1(a1)
	if err != nil {
		return err
	}
	grid, ok := f.cells[tab]
	if !ok {
		return fmt.Errorf("fake: no such tab %q", tab)
	}
	if sr == 0 {
		sr = 1
	}
	for i, row := range values {
		r := sr - 1 + i
		for len(grid) <= r {
			grid = append(grid, nil)
		}
		for j, v := range row {
			c := sc + j
			for len(grid[r]) <= c {
				grid[r] = append(grid[r], "")
			}
			grid[r][c] = v
		}
	}
	f.cells[tab] = grid
	return nil
}

// parseA1 decodes "Tab!A1:G200" shapes: tab, 0-based start/end columns,
// 1-based start/end rows (0 = open-ended).
func parseA1(a1 string) (tab string, sc, sr, ec, er int, err error) {
	bang := strings.LastIndex(a1, "!")
	if bang < 0 {
		return "", 0, 0, 0, 0, fmt.Errorf("fake: range %q has no tab", a1)
	}
	tab = strings.Trim(a1[:bang], "'")
	tab = strings.ReplaceAll(tab, "''", "'")
	cells := a1[bang+1:]

	parse := func(ref string) (col, row int, err error) {
		i := 0
		for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
			col = col*26 + int(ref[i]-'A'+1)
			i++
		}
		if col == 0 {
			return 0, 0, fmt.Errorf("fake: bad ref %q", ref)
		}
		col--
		if i < len(ref) {
			if _, err := fmt.Sscanf(ref[i:], "%d", &row); err != nil {
				return 0, 0, fmt.Errorf("fake: bad ref %q", ref)
			}
		}
		return col, row, nil
	}

	parts := strings.SplitN(cells, ":", 2)
	sc, sr, err = parse(parts[0])
	if err != nil {
		return "", 0, 0, 0, 0, err
	}
	if len(parts) == 2 {
		ec, er, err = parse(parts[1])
		if err != nil {
			return "", 0, 0, 0, 0, err
		}
	} else {
		ec, er = sc, sr
	}
	return tab, sc, sr, ec, er, nil
}
