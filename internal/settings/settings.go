// Package settings persists per-tab cooldown minutes to a settings tab and
// keeps an in-memory overlay that is authoritative for the process lifetime.
//
// v2 layout is a two-column table headed LeadSheet | HoldMinutes. A legacy
// layout with a bare number in A2 is read as the global default when the v2
// header is absent.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/hazyhaar/leadveil/internal/sheetrpc"
)

const (
	headerSheet   = "LeadSheet"
	headerMinutes = "HoldMinutes"

	// MinHoldMinutes and MaxHoldMinutes bound any cooldown value.
	MinHoldMinutes = 1
	MaxHoldMinutes = 1440
)

// ErrOutOfRange is returned for cooldown values outside [1, 1440].
var ErrOutOfRange = fmt.Errorf("settings: hold minutes must be in [%d, %d]", MinHoldMinutes, MaxHoldMinutes)

// Store is the settings tab plus its in-memory overlay.
type Store struct {
	client sheetrpc.Client
	tab    string
	logger *slog.Logger

	mu             sync.Mutex
	defaultMinutes int
	overlay        map[string]int
}

// NewStore creates a Store. defaultMinutes is the process default used when
// a tab has no overlay value.
func NewStore(client sheetrpc.Client, tab string, defaultMinutes int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client:         client,
		tab:            tab,
		logger:         logger,
		defaultMinutes: defaultMinutes,
		overlay:        make(map[string]int),
	}
}

// Load reads the settings tab into the overlay. Unparseable rows are skipped.
func (s *Store) Load(ctx context.Context) error {
	rows, err := s.client.ReadRange(ctx, sheetrpc.RangeRef(s.tab, "A1:B2000"))
	if err != nil {
		return fmt.Errorf("settings: read %s: %w", s.tab, err)
	}
	if !hasHeader(rows) {
		// Legacy layout: a bare global default in A2.
		if len(rows) >= 2 && len(rows[1]) >= 1 {
			if m, ok := parseMinutes(rows[1][0]); ok {
				s.mu.Lock()
				s.defaultMinutes = m
				s.mu.Unlock()
				s.logger.Info("settings: legacy default loaded", "minutes", m)
			}
		}
		return nil
	}

	overlay := make(map[string]int)
	for _, row := range rows[1:] {
		if len(row) < 2 {
			continue
		}
		tab := strings.TrimSpace(row[0])
		m, ok := parseMinutes(row[1])
		if tab == "" || !ok {
			continue
		}
		overlay[tab] = m
	}
	s.mu.Lock()
	s.overlay = overlay
	s.mu.Unlock()
	s.logger.Debug("settings: loaded", "tabs", len(overlay))
	return nil
}

// Save validates and persists a per-tab cooldown, updating an existing row
// in place or appending a new one. The header row is written if missing.
func (s *Store) Save(ctx context.Context, tab string, minutes int) error {
	if minutes < MinHoldMinutes || minutes > MaxHoldMinutes {
		return ErrOutOfRange
	}
	rows, err := s.client.ReadRange(ctx, sheetrpc.RangeRef(s.tab, "A1:B2000"))
	if err != nil {
		return fmt.Errorf("settings: read %s: %w", s.tab, err)
	}
	if !hasHeader(rows) {
		// First save migrates the tab to v2: whatever a legacy layout kept in
		// row 1 is overwritten by the header. The row search below still runs
		// against the pre-write snapshot, so old body rows are left in place.
		if err := s.client.UpdateRange(ctx, sheetrpc.RangeRef(s.tab, "A1:B1"),
			[][]string{{headerSheet, headerMinutes}}); err != nil {
			return fmt.Errorf("settings: write header: %w", err)
		}
	}

	target := 0
	for i := 1; i < len(rows); i++ {
		if len(rows[i]) >= 1 && strings.TrimSpace(rows[i][0]) == tab {
			target = i + 1 // 1-based sheet row
			break
		}
	}
	value := strconv.Itoa(minutes)
	if target > 0 {
		cell := fmt.Sprintf("B%d", target)
		if err := s.client.UpdateRange(ctx, sheetrpc.RangeRef(s.tab, cell), [][]string{{value}}); err != nil {
			return fmt.Errorf("settings: update %s: %w", cell, err)
		}
	} else {
		if err := s.client.AppendRows(ctx, sheetrpc.RangeRef(s.tab, "A:B"), [][]string{{tab, value}}); err != nil {
			return fmt.Errorf("settings: append: %w", err)
		}
	}

	s.mu.Lock()
	s.overlay[tab] = minutes
	s.mu.Unlock()
	return nil
}

// SaveDefault validates and persists the process-wide default in the legacy
// single-cell slot (A2). The v2 loader ignores that cell when the header is
// present, so this is safe in both layouts.
func (s *Store) SaveDefault(ctx context.Context, minutes int) error {
	if minutes < MinHoldMinutes || minutes > MaxHoldMinutes {
		return ErrOutOfRange
	}
	if err := s.client.UpdateRange(ctx, sheetrpc.RangeRef(s.tab, "A2"),
		[][]string{{strconv.Itoa(minutes)}}); err != nil {
		return fmt.Errorf("settings: write default: %w", err)
	}
	s.mu.Lock()
	s.defaultMinutes = minutes
	s.mu.Unlock()
	return nil
}

// HoldMinutes returns the effective cooldown for a tab: the overlay value if
// present and positive, else the process default.
func (s *Store) HoldMinutes(tab string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.overlay[tab]; ok && m > 0 {
		return m
	}
	return s.defaultMinutes
}

// Default returns the process-wide default cooldown.
func (s *Store) Default() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaultMinutes
}

// Overlay returns a copy of the per-tab overrides.
func (s *Store) Overlay() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.overlay))
	for k, v := range s.overlay {
		out[k] = v
	}
	return out
}

func hasHeader(rows [][]string) bool {
	return len(rows) > 0 && len(rows[0]) >= 2 &&
		strings.EqualFold(strings.TrimSpace(rows[0][0]), headerSheet) &&
		strings.EqualFold(strings.TrimSpace(rows[0][1]), headerMinutes)
}

func parseMinutes(raw string) (int, bool) {
	m, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || m < MinHoldMinutes || m > MaxHoldMinutes {
		return 0, false
	}
	return m, true
}
