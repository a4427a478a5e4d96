package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-case-sync/internal/chat"
	"github.com/tbourn/go-case-sync/internal/domain"
)

// Janitor dissolves dedicated case channels once a case has stayed
// resolved for the full grace period. Cases without a dedicated channel
// have nothing to dissolve and are never touched. The case row itself is
// kept: only the channel goes away.
//
// Each step is individually idempotent, so a run that fails midway is
// simply retried by the next cycle.
type Janitor struct {
	DB    *gorm.DB
	Store CaseStore

	Chat   chat.Deleter
	Notify Notifier

	// DissolveAfter is the grace period measured from the resolution time.
	DissolveAfter time.Duration

	Log zerolog.Logger

	Now func() time.Time
}

func (j *Janitor) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

// RunOnce scans for resolved cases whose grace period has elapsed and
// dissolves their dedicated channels. It returns how many channels were
// dissolved this run.
func (j *Janitor) RunOnce(ctx context.Context) (dissolved int, err error) {
	cutoff := j.now().Add(-j.DissolveAfter)
	candidates, err := j.Store.ScanCases(ctx, j.DB, func(c *domain.Case) bool {
		return c.Status.IsResolved() &&
			!c.ChatDissolved &&
			c.CaseChatID != "" &&
			c.ResolvedAt != nil &&
			c.ResolvedAt.Before(cutoff)
	})
	if err != nil {
		return 0, err
	}

	for i := range candidates {
		if ctx.Err() != nil {
			return dissolved, ctx.Err()
		}
		c := candidates[i]
		if derr := j.dissolve(ctx, &c); derr != nil {
			j.Log.Error().
				Str("case_id", c.CaseID).
				Str("chat_id", c.CaseChatID).
				Err(derr).
				Msg("channel dissolution failed; will retry next cycle")
			continue
		}
		dissolved++
		channelsDissolved.Inc()
	}

	if len(candidates) > 0 {
		j.Log.Info().
			Int("candidates", len(candidates)).
			Int("dissolved", dissolved).
			Msg("janitor cycle complete")
	}
	return dissolved, nil
}

// dissolve warns the channel, deletes it, and stamps the case. The stamp
// happens last so a failure at any earlier step leaves the case eligible
// for the next run.
func (j *Janitor) dissolve(ctx context.Context, c *domain.Case) error {
	if err := j.Notify.PreDissolve(ctx, c); err != nil {
		return err
	}
	if err := j.Chat.DeleteChannel(ctx, c.CaseChatID); err != nil {
		return err
	}
	now := j.now()
	return j.Store.UpdateCaseFields(ctx, j.DB, c.CaseID, map[string]any{
		"chat_dissolved": true,
		"dissolved_at":   &now,
	})
}
