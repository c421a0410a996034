// Package leadindex maintains the in-memory phone → (tab, row) snapshot of
// the remote lead tabs.
//
// The index is derived, read-only state: it is rebuilt by full scans and
// swapped in atomically, so readers observe the old map or the new one,
// never a partial rebuild. Row numbers go stale when rows are inserted or
// deleted remotely, which is why the service rebuilds on a timer.
package leadindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/leadveil/internal/sheetrpc"
)

// Entry locates one lead: tab name and 1-based row number.
type Entry struct {
	Tab string
	Row int
}

// Normalizer canonicalizes a raw phone cell; ok=false means "not a phone".
type Normalizer func(raw string) (key string, ok bool)

// Config configures an Index.
type Config struct {
	// Tabs is the configured lead tab order; first occurrence wins for
	// duplicate phones.
	Tabs []string
	// PhoneLabel is the exact header text of the phone column.
	PhoneLabel string
	// Normalize canonicalizes phone cells.
	Normalize Normalizer
	// ColumnNotFound is returned (wrapped) when a tab lacks the phone column.
	ColumnNotFound error
}

// Index is the phone → lead-location map. Safe for concurrent use.
type Index struct {
	client sheetrpc.Client
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	byPhone  map[string]Entry
	loadedAt time.Time
}

// New creates an Index.
func New(client sheetrpc.Client, cfg Config, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		byPhone: make(map[string]Entry),
	}
}

// Refresh rebuilds the whole index from every configured tab. On any error
// the current index is left unchanged.
func (ix *Index) Refresh(ctx context.Context) error {
	fresh := make(map[string]Entry)
	for _, tab := range ix.cfg.Tabs {
		if err := ix.scanTab(ctx, tab, fresh); err != nil {
			return err
		}
	}
	ix.mu.Lock()
	ix.byPhone = fresh
	ix.loadedAt = time.Now()
	ix.mu.Unlock()
	ix.logger.Debug("leadindex: full refresh", "phones", len(fresh))
	return nil
}

// RefreshTab rebuilds entries for one tab, leaving other tabs' entries in
// place. Entries previously pointing at this tab are dropped first.
func (ix *Index) RefreshTab(ctx context.Context, tab string) error {
	found := false
	for _, t := range ix.cfg.Tabs {
		if t == tab {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("leadindex: %q is not a configured lead tab", tab)
	}

	ix.mu.Lock()
	fresh := make(map[string]Entry, len(ix.byPhone))
	for phone, e := range ix.byPhone {
		if e.Tab != tab {
			fresh[phone] = e
		}
	}
	ix.mu.Unlock()

	if err := ix.scanTab(ctx, tab, fresh); err != nil {
		return err
	}

	ix.mu.Lock()
	ix.byPhone = fresh
	ix.loadedAt = time.Now()
	ix.mu.Unlock()
	ix.logger.Debug("leadindex: tab refresh", "tab", tab, "phones", len(fresh))
	return nil
}

// EnsureLoaded refreshes the index if it has never been loaded.
func (ix *Index) EnsureLoaded(ctx context.Context) error {
	ix.mu.Lock()
	loaded := !ix.loadedAt.IsZero()
	ix.mu.Unlock()
	if loaded {
		return nil
	}
	return ix.Refresh(ctx)
}

// Lookup returns the lead location for a normalized phone key.
func (ix *Index) Lookup(phone string) (Entry, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	e, ok := ix.byPhone[phone]
	return e, ok
}

// LoadedAt returns the time of the last successful refresh (zero if never).
func (ix *Index) LoadedAt() time.Time {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.loadedAt
}

// Len returns the number of indexed phones.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.byPhone)
}

// scanTab reads one tab and inserts its leads into dst. Existing dst entries
// win: the first occurrence in configured tab order keeps priority.
func (ix *Index) scanTab(ctx context.Context, tab string, dst map[string]Entry) error {
	rows, err := ix.client.ReadRange(ctx, sheetrpc.RangeRef(tab, "A1:Z"))
	if err != nil {
		return fmt.Errorf("leadindex: read %s: %w", tab, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("leadindex: tab %s is empty", tab)
	}

	phoneCol := -1
	for i, header := range rows[0] {
		if header == ix.cfg.PhoneLabel {
			phoneCol = i
			break
		}
	}
	if phoneCol < 0 {
		err := ix.cfg.ColumnNotFound
		if err == nil {
			err = fmt.Errorf("phone column not found")
		}
		return fmt.Errorf("leadindex: tab %s: %w (label %q)", tab, err, ix.cfg.PhoneLabel)
	}

	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if phoneCol >= len(row) {
			continue
		}
		phone, ok := ix.cfg.Normalize(row[phoneCol])
		if !ok {
			continue
		}
		if _, exists := dst[phone]; exists {
			continue
		}
		dst[phone] = Entry{Tab: tab, Row: i + 1}
	}
	return nil
}
