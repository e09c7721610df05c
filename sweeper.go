package sessionguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/storefront/sessionguard/internal/flows"
	"github.com/storefront/sessionguard/internal/retry"
	"github.com/storefront/sessionguard/ledger"
	"github.com/storefront/sessionguard/session"
)

// Sweep step names, as they appear in reports and logs.
const (
	StepLedger      = "ledger_expired"
	StepCompromised = "families_compromised"
	StepExpired     = "families_expired"
	StepOrphans     = "ledger_orphans"
	StepInactive    = "families_inactive"
)

// SweepReport summarizes one cleanup pass.
type SweepReport struct {
	StartedAt           time.Time
	Duration            time.Duration
	LedgerPurged        int
	FamiliesCompromised int
	FamiliesExpired     int
	OrphansPurged       int
	FamiliesInactive    int
	Errors              []error
}

// Err joins every error the pass logged, or nil for a clean pass.
func (r SweepReport) Err() error {
	return errors.Join(r.Errors...)
}

func (r *SweepReport) addError(step string, err error) {
	r.Errors = append(r.Errors, fmt.Errorf("%s: %w", step, err))
}

// Sweeper purges expired and compromised state on a fixed interval. Steps
// run independently; a failing step is logged and the pass moves on.
type Sweeper struct {
	engine *Engine
	cfg    SweeperConfig
	policy retry.Policy

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper returns a stopped sweeper. Zero fields in cfg take the
// engine's configured values.
func (e *Engine) NewSweeper(cfg SweeperConfig) *Sweeper {
	base := e.config.Sweeper
	if cfg.Interval <= 0 {
		cfg.Interval = base.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = base.BatchSize
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = base.Attempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = base.RetryBackoff
	}
	if cfg.MaxBackoff < cfg.RetryBackoff {
		cfg.MaxBackoff = max(base.MaxBackoff, cfg.RetryBackoff)
	}

	return &Sweeper{
		engine: e,
		cfg:    cfg,
		policy: retry.Policy{
			Attempts: cfg.Attempts,
			Initial:  cfg.RetryBackoff,
			Max:      cfg.MaxBackoff,
		},
	}
}

// Start runs a pass every Interval until ctx is done or Stop is called.
// Calling Start on a started sweeper does nothing.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)

		t := time.NewTicker(s.cfg.Interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.RunOnce(ctx)
			}
		}
	}(s.done)
}

// Stop cancels the loop and waits for an in-flight pass to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RunOnce performs one pass. It returns false without doing anything when
// another pass is still running.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, bool) {
	if !s.running.CompareAndSwap(false, true) {
		s.engine.metricInc(MetricSweepSkipped)
		s.engine.logger.InfoContext(ctx, "sweep skipped, previous pass still running")
		return SweepReport{}, false
	}
	defer s.running.Store(false)

	now := s.engine.now()
	report := SweepReport{StartedAt: now}
	start := time.Now()

	// Compromised families go before expired ones so that a compromised
	// family past ValidUntil still leaves a family-level ledger record.
	s.purgeLedger(ctx, now, &report)
	s.closeCompromised(ctx, &report)
	s.deleteExpired(ctx, now, &report)
	s.purgeOrphans(ctx, &report)
	s.deleteInactive(ctx, now, &report)

	report.Duration = time.Since(start)
	s.record(ctx, report)
	return report, true
}

// do runs one store call under the retry policy. Failures are recorded in
// report and logged; the caller decides whether to continue.
func (s *Sweeper) do(ctx context.Context, report *SweepReport, step string, op func(context.Context) error) bool {
	attempts, err := retry.Do(ctx, s.policy, op)
	if err == nil {
		return true
	}
	report.addError(step, err)
	s.engine.metricInc(MetricSweepErrors)
	s.engine.logger.WarnContext(ctx, "sweep step error",
		slog.String("step", step),
		slog.Int("attempts", attempts),
		slog.Bool("transient", retry.Transient(err)),
		slog.Any("error", err),
	)
	return false
}

// (a) ledger records past their expiry.
func (s *Sweeper) purgeLedger(ctx context.Context, now time.Time, report *SweepReport) {
	inv := s.engine.ledger
	for ctx.Err() == nil {
		var ids []string
		if !s.do(ctx, report, StepLedger, func(ctx context.Context) (err error) {
			ids, err = inv.Expired(ctx, now, int64(s.cfg.BatchSize))
			return err
		}) {
			return
		}

		removed := 0
		for _, id := range ids {
			if s.do(ctx, report, StepLedger, func(ctx context.Context) error {
				return inv.Remove(ctx, id)
			}) {
				removed++
			}
		}
		report.LedgerPurged += removed
		if len(ids) < s.cfg.BatchSize || removed == 0 {
			return
		}
	}
}

// (c) compromised families: a family-level ledger record first, then the
// family itself.
func (s *Sweeper) closeCompromised(ctx context.Context, report *SweepReport) {
	var ids []string
	if !s.do(ctx, report, StepCompromised, func(ctx context.Context) (err error) {
		ids, err = s.engine.families.CompromisedIDs(ctx)
		return err
	}) {
		return
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if !s.do(ctx, report, StepCompromised, func(ctx context.Context) error {
			_, err := s.engine.flow.Invalidate(ctx, flows.InvalidateRequest{
				TokenID:   id,
				TokenType: ledger.TypeFamily,
				FamilyID:  id,
			})
			return err
		}) {
			continue
		}
		if s.do(ctx, report, StepCompromised, func(ctx context.Context) error {
			_, err := s.engine.families.Delete(ctx, id)
			return err
		}) {
			report.FamiliesCompromised++
		}
	}
}

// (b) families past ValidUntil.
func (s *Sweeper) deleteExpired(ctx context.Context, now time.Time, report *SweepReport) {
	families := s.engine.families
	for ctx.Err() == nil {
		var ids []string
		if !s.do(ctx, report, StepExpired, func(ctx context.Context) (err error) {
			ids, err = families.ExpiredIDs(ctx, now, int64(s.cfg.BatchSize))
			return err
		}) {
			return
		}

		deleted := 0
		for _, id := range ids {
			if s.do(ctx, report, StepExpired, func(ctx context.Context) error {
				_, err := families.Delete(ctx, id)
				return err
			}) {
				deleted++
			}
		}
		report.FamiliesExpired += deleted
		if len(ids) < s.cfg.BatchSize || deleted == 0 {
			return
		}
	}
}

// (d) token records whose family is gone. Family-level records carry no
// reference and are never visited here.
func (s *Sweeper) purgeOrphans(ctx context.Context, report *SweepReport) {
	var cursor uint64
	for ctx.Err() == nil {
		var (
			refs map[string]string
			next uint64
		)
		if !s.do(ctx, report, StepOrphans, func(ctx context.Context) (err error) {
			refs, next, err = s.engine.ledger.FamilyRefs(ctx, cursor, int64(s.cfg.BatchSize))
			return err
		}) {
			return
		}

		for jti, fid := range refs {
			var exists bool
			if !s.do(ctx, report, StepOrphans, func(ctx context.Context) (err error) {
				exists, err = s.engine.families.Exists(ctx, fid)
				return err
			}) || exists {
				continue
			}
			if s.do(ctx, report, StepOrphans, func(ctx context.Context) error {
				return s.engine.ledger.Remove(ctx, jti)
			}) {
				report.OrphansPurged++
			}
		}

		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// (e) families idle past the inactivity timeout. Compromised families are
// left to step (c).
func (s *Sweeper) deleteInactive(ctx context.Context, now time.Time, report *SweepReport) {
	families := s.engine.families
	cutoff := now.Add(-s.engine.config.Family.InactivityTimeout)
	for ctx.Err() == nil {
		var ids []string
		if !s.do(ctx, report, StepInactive, func(ctx context.Context) (err error) {
			ids, err = families.InactiveIDs(ctx, cutoff, int64(s.cfg.BatchSize))
			return err
		}) {
			return
		}

		deleted := 0
		for _, id := range ids {
			var fam *session.Family
			if !s.do(ctx, report, StepInactive, func(ctx context.Context) (err error) {
				fam, err = families.Get(ctx, id)
				if errors.Is(err, session.ErrFamilyNotFound) {
					return nil
				}
				return err
			}) {
				continue
			}
			if fam != nil && fam.ReuseDetected {
				continue
			}
			if s.do(ctx, report, StepInactive, func(ctx context.Context) error {
				_, err := families.Delete(ctx, id)
				return err
			}) {
				deleted++
			}
		}
		report.FamiliesInactive += deleted
		if len(ids) < s.cfg.BatchSize || deleted == 0 {
			return
		}
	}
}

func (s *Sweeper) record(ctx context.Context, r SweepReport) {
	e := s.engine
	e.metricInc(MetricSweepRuns)
	if e.metrics != nil {
		e.metrics.Add(MetricSweepLedgerPurged, uint64(r.LedgerPurged))
		e.metrics.Add(MetricSweepFamiliesCompromised, uint64(r.FamiliesCompromised))
		e.metrics.Add(MetricSweepFamiliesExpired, uint64(r.FamiliesExpired))
		e.metrics.Add(MetricSweepOrphansPurged, uint64(r.OrphansPurged))
		e.metrics.Add(MetricSweepFamiliesInactive, uint64(r.FamiliesInactive))
	}

	e.logger.InfoContext(ctx, "sweep completed",
		slog.Duration("duration", r.Duration),
		slog.Int("ledger_purged", r.LedgerPurged),
		slog.Int("families_compromised", r.FamiliesCompromised),
		slog.Int("families_expired", r.FamiliesExpired),
		slog.Int("orphans_purged", r.OrphansPurged),
		slog.Int("families_inactive", r.FamiliesInactive),
		slog.Int("errors", len(r.Errors)),
	)
	e.emitAudit(ctx, auditEventSweep, len(r.Errors) == 0, "", "", nil, func() map[string]string {
		return map[string]string{
			"ledger_purged":        strconv.Itoa(r.LedgerPurged),
			"families_compromised": strconv.Itoa(r.FamiliesCompromised),
			"families_expired":     strconv.Itoa(r.FamiliesExpired),
			"orphans_purged":       strconv.Itoa(r.OrphansPurged),
			"families_inactive":    strconv.Itoa(r.FamiliesInactive),
			"errors":               strconv.Itoa(len(r.Errors)),
		}
	})
}
