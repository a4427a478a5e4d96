package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-case-sync/internal/domain"
	"github.com/tbourn/go-case-sync/internal/support"
)

// Poller reconciles open cases against the ticketing system. It is the
// safety net behind the push path: any communication or status change a
// lost or crashed event failed to mirror is picked up on the next cycle.
//
// Failures are isolated per case: one unreachable account or deleted
// ticket never aborts the rest of the batch.
type Poller struct {
	DB     *gorm.DB
	Store  CaseStore
	Notify Notifier

	Tickets support.Client

	// Lookback bounds delta computation when a case has no usable watermark.
	Lookback time.Duration
	// MaxBodyRunes caps delivered bodies; the poller uses a tighter cap than
	// the gateway since its replies are already stale.
	MaxBodyRunes int

	Log zerolog.Logger

	Now func() time.Time
}

func (p *Poller) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// RunOnce executes a single reconciliation cycle over all open cases and
// returns the number of cases that failed. The returned error is reserved
// for failures listing the batch itself.
func (p *Poller) RunOnce(ctx context.Context) (failed int, err error) {
	cases, err := p.Store.ListOpenCases(ctx, p.DB)
	if err != nil {
		return 0, err
	}

	for i := range cases {
		if ctx.Err() != nil {
			return failed, ctx.Err()
		}
		c := cases[i]
		if perr := p.pollCase(ctx, &c); perr != nil {
			failed++
			pollCaseFailures.Inc()
			p.Log.Error().
				Str("case_id", c.CaseID).
				Err(perr).
				Msg("case poll failed")
		}
	}

	pollCycles.Inc()
	p.Log.Info().
		Int("cases", len(cases)).
		Int("failed", failed).
		Msg("poll cycle complete")
	return failed, nil
}

// pollCase reconciles one case: fetch remote state, announce a status
// transition, mirror missed communications, advance the watermark, and
// stamp the check time.
func (p *Poller) pollCase(ctx context.Context, c *domain.Case) error {
	if c.CredentialRef == "" {
		// Configuration problem; the gateway already surfaced it to the
		// channel, so the poller just skips quietly.
		return ErrMissingCredential
	}

	detail, err := p.Tickets.Describe(ctx, c.CredentialRef, c.CaseID, support.DescribeOptions{
		IncludeCommunications: true,
		IncludeResolved:       true,
	})
	if errors.Is(err, support.ErrCaseNotFound) {
		p.Log.Warn().
			Str("case_id", c.CaseID).
			Msg("open case no longer exists remotely")
		return p.stampChecked(ctx, c)
	}
	if err != nil {
		return err
	}

	if detail.Status != "" && detail.Status != c.Status {
		if err := p.applyStatusChange(ctx, c, detail.Status); err != nil {
			return err
		}
	}

	delta := computeCommDelta(detail.Communications, c.LastCommunicationTime, p.now(), p.Lookback)
	for i := range delta.deliver {
		if err := p.Notify.Communication(ctx, c, delta.deliver[i], detail.Status, p.MaxBodyRunes); err != nil {
			return err
		}
	}
	if delta.maxTimestamp != "" {
		if err := p.Store.AdvanceWatermark(ctx, p.DB, c.CaseID, delta.maxTimestamp); err != nil {
			return err
		}
	}

	return p.stampChecked(ctx, c)
}

// applyStatusChange persists the observed transition and announces it.
// Transitions into resolved also set the resolution time so the grace
// countdown starts; transitions out of resolved clear it.
func (p *Poller) applyStatusChange(ctx context.Context, c *domain.Case, to domain.CaseStatus) error {
	from := c.Status
	fields := map[string]any{"status": string(to)}
	switch {
	case to.IsResolved() && !from.IsResolved():
		now := p.now()
		fields["resolved_at"] = &now
		c.ResolvedAt = &now
	case !to.IsResolved() && from.IsResolved():
		fields["resolved_at"] = (*time.Time)(nil)
		c.ResolvedAt = nil
	}
	if err := p.Store.UpdateCaseFields(ctx, p.DB, c.CaseID, fields); err != nil {
		return err
	}
	c.Status = to
	return p.Notify.StatusChange(ctx, c, from, to)
}

func (p *Poller) stampChecked(ctx context.Context, c *domain.Case) error {
	now := p.now()
	return p.Store.UpdateCaseFields(ctx, p.DB, c.CaseID, map[string]any{"last_checked": &now})
}
