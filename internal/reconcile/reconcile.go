// Package reconcile applies drained pending increments to the lock table and
// drives row visibility: the flush locks rows that crossed the call
// threshold, the sweep unhides rows whose cooldown expired.
//
// Flush and sweep are serialized on one mutex. Their writes touch different
// columns, but the lock lifecycle is much simpler to reason about when only
// one of them runs at a time.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/leadveil/internal/leadindex"
	"github.com/hazyhaar/leadveil/internal/locks"
	"github.com/hazyhaar/leadveil/internal/pending"
	"github.com/hazyhaar/leadveil/internal/settings"
	"github.com/hazyhaar/leadveil/internal/sheetrpc"
)

// Config configures a Reconciler.
type Config struct {
	// LeadSheets is the configured lead tab order.
	LeadSheets []string
	// LockAfterCalls is the counted-event threshold that places a lock.
	LockAfterCalls int
}

// FlushStats summarizes one flush cycle.
type FlushStats struct {
	Applied int // entries upserted into the lock table
	Dropped int // entries with no leads-index match
	Locked  int // rows newly hidden
}

// SweepStats summarizes one unlock sweep.
type SweepStats struct {
	Unlocked int // rows unhidden and cleared
}

// Reconciler owns the flush and sweep operations.
type Reconciler struct {
	mu        sync.Mutex
	client    sheetrpc.Client
	index     *leadindex.Index
	locks     *locks.Table
	settings  *settings.Store
	cfg       Config
	logger    *slog.Logger
	errSchema error

	now func() time.Time
}

// New creates a Reconciler. errSchema is wrapped into multi-tab/v1 refusals.
func New(client sheetrpc.Client, index *leadindex.Index, lockTable *locks.Table,
	st *settings.Store, cfg Config, errSchema error, logger *slog.Logger) *Reconciler {
	if cfg.LockAfterCalls <= 0 {
		cfg.LockAfterCalls = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		client:    client,
		index:     index,
		locks:     lockTable,
		settings:  st,
		cfg:       cfg,
		logger:    logger,
		errSchema: errSchema,
		now:       time.Now,
	}
}

// Flush applies pending increments: upserts lock records and hides rows that
// crossed the threshold. Entries whose phone is not in the leads index are
// dropped. On error the drained entries are lost; the caller records the
// failure and the next cycle starts clean.
func (r *Reconciler) Flush(ctx context.Context, entries []pending.Entry) (FlushStats, error) {
	var stats FlushStats
	if len(entries) == 0 {
		return stats, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.index.EnsureLoaded(ctx); err != nil {
		return stats, err
	}
	schema, recs, err := r.locks.Read(ctx)
	if err != nil {
		return stats, err
	}
	if schema == locks.SchemaV1 && len(r.cfg.LeadSheets) > 1 {
		return stats, fmt.Errorf("%w: legacy v1 lock schema cannot serve multiple lead tabs", r.errSchema)
	}

	lockMap := make(map[string]locks.Record, len(recs))
	for _, rec := range recs {
		lockMap[locks.Key(schema, rec.Phone, rec.LeadSheet)] = rec
	}

	now := r.now()
	nowStr := now.UTC().Format(time.RFC3339)
	var updates, appends []locks.Record
	type hideTarget struct {
		tab string
		row int
	}
	var hides []hideTarget

	for _, e := range entries {
		loc, ok := r.index.Lookup(e.Phone)
		if !ok {
			stats.Dropped++
			r.logger.Debug("flush: phone not indexed, dropping", "phone", e.Phone)
			continue
		}

		existing, has := lockMap[locks.Key(schema, e.Phone, loc.Tab)]
		curCount := 0
		lockedUntil := ""
		rowNum := 0
		if has {
			curCount = existing.CallCount
			lockedUntil = existing.LockedUntil
			rowNum = existing.RowNum
		}
		nextCount := curCount + e.Delta

		currentlyLocked := false
		if until, perr := time.Parse(time.RFC3339, lockedUntil); perr == nil && until.After(now) {
			currentlyLocked = true
		}
		// An active lock keeps its deadline; only the sweep clears it.
		if !currentlyLocked && nextCount >= r.cfg.LockAfterCalls {
			hold := time.Duration(r.settings.HoldMinutes(loc.Tab)) * time.Minute
			lockedUntil = now.Add(hold).UTC().Format(time.RFC3339)
			hides = append(hides, hideTarget{tab: loc.Tab, row: loc.Row})
			stats.Locked++
		}

		rec := locks.Record{
			Phone:       e.Phone,
			LeadSheet:   loc.Tab,
			LeadRow:     loc.Row,
			CallCount:   nextCount,
			LockedUntil: lockedUntil,
			LastEventID: e.EventID,
			UpdatedAt:   nowStr,
			RowNum:      rowNum,
		}
		if rowNum > 0 {
			updates = append(updates, rec)
		} else {
			appends = append(appends, rec)
		}
		stats.Applied++
	}

	// All record writes complete before any row is hidden.
	if err := r.locks.Update(ctx, schema, updates); err != nil {
		return stats, err
	}
	if err := r.locks.Append(ctx, schema, appends); err != nil {
		return stats, err
	}

	if len(hides) > 0 {
		tabIDs, err := r.client.TabIDs(ctx)
		if err != nil {
			return stats, fmt.Errorf("reconcile: tab ids: %w", err)
		}
		var rows []sheetrpc.RowVisibility
		for _, h := range hides {
			id, ok := tabIDs[h.tab]
			if !ok {
				return stats, fmt.Errorf("reconcile: lead tab %q not found in spreadsheet", h.tab)
			}
			rows = append(rows, sheetrpc.RowVisibility{TabID: id, Row: int64(h.row)})
		}
		if err := r.client.SetRowsHidden(ctx, rows, true); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// Sweep unhides every lead whose lock deadline has passed and clears the
// deadline, leaving CallCount intact. Safe to rerun: a record with an empty
// or future LockedUntil is ignored.
func (r *Reconciler) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.index.EnsureLoaded(ctx); err != nil {
		return stats, err
	}
	schema, recs, err := r.locks.Read(ctx)
	if err != nil {
		return stats, err
	}

	now := r.now()
	nowStr := now.UTC().Format(time.RFC3339)
	var unhides []struct {
		tab string
		row int
	}
	var clears []sheetrpc.RangeValues

	for _, rec := range recs {
		if rec.LockedUntil == "" {
			continue
		}
		until, perr := time.Parse(time.RFC3339, rec.LockedUntil)
		if perr != nil || until.After(now) {
			continue
		}

		tab := rec.LeadSheet
		if schema == locks.SchemaV1 && tab == "" && len(r.cfg.LeadSheets) == 1 {
			tab = r.cfg.LeadSheets[0]
		}
		row := rec.LeadRow
		// The live index knows where the row is today; the stored row is the
		// fallback when the lead vanished from the index.
		if e, ok := r.index.Lookup(rec.Phone); ok && e.Tab == tab {
			row = e.Row
		}
		if tab == "" || row <= 0 {
			continue
		}

		unhides = append(unhides, struct {
			tab string
			row int
		}{tab, row})
		clears = append(clears, r.locks.ClearLock(schema, rec, nowStr))
		stats.Unlocked++
	}

	if len(unhides) > 0 {
		tabIDs, err := r.client.TabIDs(ctx)
		if err != nil {
			return stats, fmt.Errorf("reconcile: tab ids: %w", err)
		}
		var rows []sheetrpc.RowVisibility
		for _, u := range unhides {
			id, ok := tabIDs[u.tab]
			if !ok {
				return stats, fmt.Errorf("reconcile: lead tab %q not found in spreadsheet", u.tab)
			}
			rows = append(rows, sheetrpc.RowVisibility{TabID: id, Row: int64(u.row)})
		}
		if err := r.client.SetRowsHidden(ctx, rows, false); err != nil {
			return stats, err
		}
	}
	if len(clears) > 0 {
		if err := r.locks.BatchUpdate(ctx, clears); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// SetNow overrides the clock. Tests only.
func (r *Reconciler) SetNow(now func() time.Time) { r.now = now }
