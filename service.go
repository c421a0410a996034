package leadveil

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/leadveil/internal/dedupe"
	"github.com/hazyhaar/leadveil/internal/intake"
	"github.com/hazyhaar/leadveil/internal/journal"
	"github.com/hazyhaar/leadveil/internal/leadindex"
	"github.com/hazyhaar/leadveil/internal/locks"
	"github.com/hazyhaar/leadveil/internal/pending"
	"github.com/hazyhaar/leadveil/internal/reconcile"
	"github.com/hazyhaar/leadveil/internal/settings"
	"github.com/hazyhaar/leadveil/internal/sheetrpc"
)

const (
	dedupeTTL       = 10 * time.Minute
	dedupeHighWater = 200_000

	journalCleanupEvery = 6 * time.Hour
)

// Service wires the whole pipeline: intake, dedupe, pending buffer, leads
// index, settings, lock table and the reconciler, plus the periodic tasks
// that drive them.
type Service struct {
	cfg     *Config
	logger  *slog.Logger
	client  sheetrpc.Client
	metrics *Metrics

	eval     *intake.Evaluator
	dedupe   *dedupe.Cache
	buffer   *pending.Buffer
	index    *leadindex.Index
	settings *settings.Store
	rec      *reconcile.Reconciler
	journal  *journal.Journal
}

// NewService assembles a Service from a validated Config and a spreadsheet
// client. jn may be nil when the local journal is disabled.
func NewService(cfg *Config, client sheetrpc.Client, jn *journal.Journal, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	normalize := func(raw string) (string, bool) {
		return NormalizePhone(raw, cfg.DefaultCountry)
	}
	index := leadindex.New(client, leadindex.Config{
		Tabs:           cfg.LeadSheets,
		PhoneLabel:     cfg.PhoneLabel,
		Normalize:      normalize,
		ColumnNotFound: ErrPhoneColumnMissing,
	}, logger)
	st := settings.NewStore(client, cfg.SettingsSheet, cfg.HoldMinutes, logger)
	tbl := locks.NewTable(client, cfg.LockSheet, ErrSchemaMismatch, logger)
	rec := reconcile.New(client, index, tbl, st, reconcile.Config{
		LeadSheets:     cfg.LeadSheets,
		LockAfterCalls: cfg.LockAfterCalls,
	}, ErrSchemaMismatch, logger)

	return &Service{
		cfg:     cfg,
		logger:  logger,
		client:  client,
		metrics: NewMetrics(),
		eval: intake.New(intake.Config{
			CountOutbound: cfg.CountOutbound,
			CountInbound:  cfg.CountInbound,
			Normalize:     normalize,
		}),
		dedupe:   dedupe.New(dedupeTTL, dedupeHighWater),
		buffer:   pending.NewBuffer(),
		index:    index,
		settings: st,
		rec:      rec,
		journal:  jn,
	}
}

// Run starts the periodic tasks and blocks until ctx is canceled. Settings
// are loaded once up front; a failure there is logged, not fatal, because the
// process default still applies.
func (s *Service) Run(ctx context.Context) {
	if err := s.settings.Load(ctx); err != nil {
		s.logger.Warn("settings load failed, using defaults", "error", err)
		s.metrics.SetLastError(err)
	}

	flush := time.NewTicker(s.cfg.FlushInterval)
	sweep := time.NewTicker(s.cfg.SweepInterval)
	refresh := time.NewTicker(s.cfg.RefreshInterval)
	cleanup := time.NewTicker(journalCleanupEvery)
	defer flush.Stop()
	defer sweep.Stop()
	defer refresh.Stop()
	defer cleanup.Stop()

	s.logger.Info("service running",
		"lead_sheets", s.cfg.LeadSheets,
		"flush_interval", s.cfg.FlushInterval,
		"sweep_interval", s.cfg.SweepInterval,
		"refresh_interval", s.cfg.RefreshInterval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("service stopping")
			return
		case <-flush.C:
			s.flushOnce(ctx)
		case <-sweep.C:
			s.sweepOnce(ctx)
		case <-refresh.C:
			s.refreshOnce(ctx)
		case <-cleanup.C:
			s.cleanupJournal(ctx)
		}
	}
}

// HandleEvent processes one webhook payload. It never returns an error: all
// failures are recorded in metrics and the journal. Called after the HTTP 200
// has been sent.
func (s *Service) HandleEvent(ctx context.Context, body []byte) {
	s.metrics.IncWebhookEvents()

	res := s.eval.Evaluate(body)
	if !res.Countable {
		s.logger.Debug("event not counted", "reason", res.Reason)
		s.record(ctx, journal.KindDropped, "", res.Reason)
		return
	}
	if s.dedupe.Seen(res.Fingerprint) {
		s.metrics.IncDedupeDropped()
		s.logger.Debug("duplicate event dropped", "fingerprint", res.Fingerprint)
		s.record(ctx, journal.KindDropped, res.Phone, "duplicate "+res.Fingerprint)
		return
	}
	s.dedupe.Insert(res.Fingerprint)
	s.buffer.Queue(res.Phone, 1, res.Fingerprint)
	s.metrics.IncEndedCounted()
	s.logger.Info("call end counted", "phone", res.Phone, "fingerprint", res.Fingerprint)
	s.record(ctx, journal.KindCounted, res.Phone, res.Fingerprint)
}

func (s *Service) flushOnce(ctx context.Context) {
	entries := s.buffer.Drain()
	if len(entries) == 0 {
		s.metrics.MarkFlush()
		return
	}
	stats, err := s.rec.Flush(ctx, entries)
	if err != nil {
		s.logger.Error("flush failed", "entries", len(entries), "error", err)
		s.metrics.SetLastError(err)
		s.record(ctx, journal.KindError, "", "flush: "+err.Error())
		return
	}
	s.metrics.MarkFlush()
	if stats.Locked > 0 {
		s.record(ctx, journal.KindLocked, "", fmt.Sprintf("locked %d rows", stats.Locked))
	}
	s.logger.Info("flush complete",
		"applied", stats.Applied, "dropped", stats.Dropped, "locked", stats.Locked)
}

func (s *Service) sweepOnce(ctx context.Context) {
	stats, err := s.rec.Sweep(ctx)
	if err != nil {
		s.logger.Error("sweep failed", "error", err)
		s.metrics.SetLastError(err)
		s.record(ctx, journal.KindError, "", "sweep: "+err.Error())
		return
	}
	s.metrics.MarkSweep()
	if stats.Unlocked > 0 {
		s.record(ctx, journal.KindSwept, "", fmt.Sprintf("unhid %d rows", stats.Unlocked))
		s.logger.Info("sweep complete", "unlocked", stats.Unlocked)
	}
}

func (s *Service) refreshOnce(ctx context.Context) {
	if err := s.index.Refresh(ctx); err != nil {
		s.logger.Error("index refresh failed", "error", err)
		s.metrics.SetLastError(err)
		return
	}
	s.metrics.MarkIndexRefresh()
}

func (s *Service) cleanupJournal(ctx context.Context) {
	if s.journal == nil || s.cfg.JournalRetentionDays <= 0 {
		return
	}
	n, err := s.journal.Cleanup(ctx, s.cfg.JournalRetentionDays)
	if err != nil {
		s.logger.Error("journal cleanup failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("journal cleanup", "removed", n)
	}
}

func (s *Service) record(ctx context.Context, kind, phone, detail string) {
	if s.journal == nil {
		return
	}
	s.journal.Record(ctx, kind, phone, detail)
}

// Status is the admin status view.
type Status struct {
	HoldMinutes        int             `json:"holdMinutes"`
	DefaultHoldMinutes int             `json:"defaultHoldMinutes"`
	HoldMinutesBySheet map[string]int  `json:"holdMinutesBySheet"`
	LeadsSheets        []string        `json:"leadsSheets"`
	PendingPhones      int             `json:"pendingPhones"`
	IndexedPhones      int             `json:"indexedPhones"`
	Metrics            MetricsSnapshot `json:"metrics"`
}

// CurrentStatus builds the status view. tab selects which sheet's effective
// cooldown lands in HoldMinutes; empty means the process default.
func (s *Service) CurrentStatus(tab string) Status {
	hold := s.settings.Default()
	if tab != "" {
		hold = s.settings.HoldMinutes(tab)
	}
	return Status{
		HoldMinutes:        hold,
		DefaultHoldMinutes: s.settings.Default(),
		HoldMinutesBySheet: s.settings.Overlay(),
		LeadsSheets:        s.cfg.LeadSheets,
		PendingPhones:      s.buffer.Len(),
		IndexedPhones:      s.index.Len(),
		Metrics:            s.metrics.Snapshot(),
	}
}

// LeadsSheets returns the configured tab names with the cooldown overlay.
func (s *Service) LeadsSheets() (tabs []string, overlay map[string]int) {
	return s.cfg.LeadSheets, s.settings.Overlay()
}

// SetHoldMinutes persists a cooldown: per-tab when tab is non-empty, else the
// process default.
func (s *Service) SetHoldMinutes(ctx context.Context, tab string, minutes int) error {
	if tab != "" {
		if !s.isLeadSheet(tab) {
			return fmt.Errorf("%w: %q is not a configured lead sheet", ErrInvalidInput, tab)
		}
		return s.settings.Save(ctx, tab, minutes)
	}
	return s.settings.SaveDefault(ctx, minutes)
}

func (s *Service) isLeadSheet(tab string) bool {
	for _, t := range s.cfg.LeadSheets {
		if t == tab {
			return true
		}
	}
	return false
}

// RefreshIndex rebuilds the leads index: one tab when tab is non-empty,
// otherwise a full rebuild. An unconfigured tab name is a validation error,
// not a remote failure.
func (s *Service) RefreshIndex(ctx context.Context, tab string) error {
	var err error
	if tab != "" {
		if !s.isLeadSheet(tab) {
			return fmt.Errorf("%w: %q is not a configured lead sheet", ErrInvalidInput, tab)
		}
		err = s.index.RefreshTab(ctx, tab)
	} else {
		err = s.index.Refresh(ctx)
	}
	if err != nil {
		s.metrics.SetLastError(err)
		return err
	}
	s.metrics.MarkIndexRefresh()
	return nil
}

// RecentJournal returns the newest journal entries, or nil when the journal
// is disabled.
func (s *Service) RecentJournal(ctx context.Context, limit int) ([]journal.Entry, error) {
	if s.journal == nil {
		return nil, fmt.Errorf("%w: journal is disabled", ErrNotConfigured)
	}
	return s.journal.Recent(ctx, limit)
}
