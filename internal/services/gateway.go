package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-case-sync/internal/cache"
	"github.com/tbourn/go-case-sync/internal/domain"
	"github.com/tbourn/go-case-sync/internal/repo"
	"github.com/tbourn/go-case-sync/internal/support"
)

// CaseStore is the case persistence surface the services consume. The
// repo package implements it with free functions over *gorm.DB; this
// interface wraps them so tests can substitute in-memory fakes.
type CaseStore interface {
	GetCase(ctx context.Context, db *gorm.DB, caseID string) (*domain.Case, error)
	UpdateCaseFields(ctx context.Context, db *gorm.DB, caseID string, fields map[string]any) error
	AdvanceWatermark(ctx context.Context, db *gorm.DB, caseID, ts string) error
	ListOpenCases(ctx context.Context, db *gorm.DB) ([]domain.Case, error)
	ScanCases(ctx context.Context, db *gorm.DB, pred func(*domain.Case) bool) ([]domain.Case, error)
}

// EventLog is the durable dedup surface.
type EventLog interface {
	WasEventProcessed(ctx context.Context, db *gorm.DB, eventID string, now time.Time, window time.Duration) (bool, error)
	MarkEventProcessed(ctx context.Context, db *gorm.DB, eventID string, now time.Time) error
}

// GormCaseStore adapts the repo package's free functions to CaseStore.
type GormCaseStore struct{}

func (GormCaseStore) GetCase(ctx context.Context, db *gorm.DB, caseID string) (*domain.Case, error) {
	return repo.GetCase(ctx, db, caseID)
}

func (GormCaseStore) UpdateCaseFields(ctx context.Context, db *gorm.DB, caseID string, fields map[string]any) error {
	return repo.UpdateCaseFields(ctx, db, caseID, fields)
}

func (GormCaseStore) AdvanceWatermark(ctx context.Context, db *gorm.DB, caseID, ts string) error {
	return repo.AdvanceWatermark(ctx, db, caseID, ts)
}

func (GormCaseStore) ListOpenCases(ctx context.Context, db *gorm.DB) ([]domain.Case, error) {
	return repo.ListOpenCases(ctx, db)
}

func (GormCaseStore) ScanCases(ctx context.Context, db *gorm.DB, pred func(*domain.Case) bool) ([]domain.Case, error) {
	return repo.ScanCases(ctx, db, pred)
}

// GormEventLog adapts the repo package's event functions to EventLog.
type GormEventLog struct{}

func (GormEventLog) WasEventProcessed(ctx context.Context, db *gorm.DB, eventID string, now time.Time, window time.Duration) (bool, error) {
	return repo.WasEventProcessed(ctx, db, eventID, now, window)
}

func (GormEventLog) MarkEventProcessed(ctx context.Context, db *gorm.DB, eventID string, now time.Time) error {
	return repo.MarkEventProcessed(ctx, db, eventID, now)
}

// Gateway handles push events from the ticketing system. It deduplicates
// by event id (fast in-process cache backed by a durable log), classifies
// the event, and reacts: mirroring new communications, recording
// resolution, and recording reopens.
//
// Events are marked as processed before the work is performed. A crash
// mid-event therefore loses that event's notifications rather than
// duplicating them; the reconciliation poller backstops the loss.
type Gateway struct {
	DB     *gorm.DB
	Store  CaseStore
	Events EventLog

	Tickets support.Client
	Notify  Notifier

	// Dedup is the in-process fast path in front of the durable event log.
	Dedup       *cache.TTL[time.Time]
	DedupWindow time.Duration

	// Lookback bounds delta computation when a case has no usable watermark.
	Lookback time.Duration
	// MaxBodyRunes caps delivered communication bodies.
	MaxBodyRunes int

	Log zerolog.Logger

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

func (g *Gateway) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// HandleEvent processes one push event. It returns nil for all "absorbed"
// outcomes (duplicate, unknown kind, untracked case, configuration
// problem); the webhook layer acknowledges those identically so the
// ticketing system does not retry.
func (g *Gateway) HandleEvent(ctx context.Context, ev domain.PushEvent) error {
	kind := ev.Kind()
	eventsReceived.WithLabelValues(kind.String()).Inc()

	log := g.Log.With().
		Str("event_id", ev.ID).
		Str("event_type", ev.Type).
		Str("case_id", ev.CaseID).
		Logger()

	if kind == domain.KindUnknown || kind == domain.KindCreated {
		// Creation is driven by the provisioning flow, not by push events.
		log.Debug().Msg("ignoring event kind")
		return nil
	}

	dup, err := g.seenBefore(ctx, ev.ID)
	if err != nil {
		return err
	}
	if dup {
		eventsDeduplicated.Inc()
		log.Info().Msg("duplicate event dropped")
		return nil
	}
	if err := g.markSeen(ctx, ev.ID); err != nil {
		return err
	}

	c, err := g.Store.GetCase(ctx, g.DB, ev.CaseID)
	if errors.Is(err, repo.ErrNotFound) {
		log.Info().Msg("event for untracked case ignored")
		return nil
	}
	if err != nil {
		return err
	}

	switch kind {
	case domain.KindCommunicationAdded:
		return g.handleCommunication(ctx, log, c)
	case domain.KindResolved:
		return g.handleResolved(ctx, log, c)
	case domain.KindReopened:
		return g.handleReopened(ctx, log, c)
	}
	return nil
}

// seenBefore consults the in-process cache first and falls back to the
// durable log. A cache hit never touches the database.
func (g *Gateway) seenBefore(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		// Events without an id cannot be deduplicated; process them.
		return false, nil
	}
	if g.Dedup != nil {
		if _, ok := g.Dedup.Get(eventID); ok {
			return true, nil
		}
	}
	return g.Events.WasEventProcessed(ctx, g.DB, eventID, g.now(), g.DedupWindow)
}

func (g *Gateway) markSeen(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	if g.Dedup != nil {
		g.Dedup.Set(eventID, g.now())
	}
	return g.Events.MarkEventProcessed(ctx, g.DB, eventID, g.now())
}

// handleCommunication fetches the case with its recent communications and
// mirrors everything newer than the watermark into the chat channel,
// oldest first. The watermark advances to the newest communication seen,
// echoes included, so re-described replies are not re-examined.
func (g *Gateway) handleCommunication(ctx context.Context, log zerolog.Logger, c *domain.Case) error {
	if c.CredentialRef == "" {
		log.Error().Msg("case has no credential reference")
		if err := g.Notify.ConfigurationProblem(ctx, c, "no API credential is configured for this account, replies cannot be mirrored"); err != nil {
			log.Error().Err(err).Msg("failed to surface configuration problem")
		}
		return nil
	}

	detail, err := g.Tickets.Describe(ctx, c.CredentialRef, c.CaseID, support.DescribeOptions{
		IncludeCommunications: true,
		IncludeResolved:       true,
	})
	if errors.Is(err, support.ErrCaseNotFound) {
		log.Warn().Msg("case no longer exists in the ticketing system")
		return nil
	}
	if err != nil {
		return err
	}

	delta := computeCommDelta(detail.Communications, c.LastCommunicationTime, g.now(), g.Lookback)
	for i := range delta.deliver {
		if err := g.Notify.Communication(ctx, c, delta.deliver[i], detail.Status, g.MaxBodyRunes); err != nil {
			return err
		}
	}
	if delta.maxTimestamp != "" {
		if err := g.Store.AdvanceWatermark(ctx, g.DB, c.CaseID, delta.maxTimestamp); err != nil {
			return err
		}
	}
	log.Info().
		Int("delivered", len(delta.deliver)).
		Str("watermark", delta.maxTimestamp).
		Msg("communications mirrored")
	return nil
}

// handleResolved records the resolution and announces it. Already-resolved
// cases are a no-op so replayed events stay silent.
func (g *Gateway) handleResolved(ctx context.Context, log zerolog.Logger, c *domain.Case) error {
	if c.Status.IsResolved() {
		log.Debug().Msg("case already resolved")
		return nil
	}
	now := g.now()
	fields := map[string]any{
		"status":      string(domain.StatusResolved),
		"resolved_at": &now,
	}
	if err := g.Store.UpdateCaseFields(ctx, g.DB, c.CaseID, fields); err != nil {
		return err
	}
	c.Status = domain.StatusResolved
	c.ResolvedAt = &now
	return g.Notify.Resolution(ctx, c)
}

// handleReopened clears the resolution so the janitor will not dissolve
// the channel, then announces the reopen.
func (g *Gateway) handleReopened(ctx context.Context, log zerolog.Logger, c *domain.Case) error {
	fields := map[string]any{
		"status":      string(domain.StatusReopened),
		"resolved_at": (*time.Time)(nil),
	}
	if err := g.Store.UpdateCaseFields(ctx, g.DB, c.CaseID, fields); err != nil {
		return err
	}
	c.Status = domain.StatusReopened
	c.ResolvedAt = nil
	return g.Notify.Reopen(ctx, c)
}
