// Package services – Dispatcher
//
// This file implements the notification dispatcher shared by the gateway,
// the poller, and the janitor. It owns message formatting (dual-timezone
// timestamps, console deep links, body truncation with an explicit marker)
// and delivery through the chat client. A known "expected" delivery error
// (stale interaction / channel gone) is absorbed as a log-only outcome
// rather than propagated.
//
// The dispatcher has no dedup logic of its own: idempotence is guaranteed
// upstream by the gateway's event dedup and the poller's delta computation.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-case-sync/internal/chat"
	"github.com/tbourn/go-case-sync/internal/domain"
	"github.com/tbourn/go-case-sync/internal/support"
)

// truncationMarker is appended to bodies clipped by the dispatcher.
const truncationMarker = "\n\n... (content truncated, open the case link for the full reply)"

// Notifier is the notification surface the gateway, poller, and janitor
// depend on. Dispatcher is the production implementation; tests substitute
// a recording fake.
type Notifier interface {
	// Communication delivers one remote reply to the case's channel,
	// clipping the body at maxRunes.
	Communication(ctx context.Context, c *domain.Case, comm support.Communication, status domain.CaseStatus, maxRunes int) error

	// Resolution announces that the case was resolved and when its channel
	// will be dissolved.
	Resolution(ctx context.Context, c *domain.Case) error

	// Reopen announces that a resolved case was reopened.
	Reopen(ctx context.Context, c *domain.Case) error

	// StatusChange announces a remote status transition observed by the
	// poller.
	StatusChange(ctx context.Context, c *domain.Case, from, to domain.CaseStatus) error

	// PreDissolve warns the dedicated channel that it is about to be
	// deleted.
	PreDissolve(ctx context.Context, c *domain.Case) error

	// ConfigurationProblem surfaces a non-retried configuration error to the
	// case's channel.
	ConfigurationProblem(ctx context.Context, c *domain.Case, msg string) error
}

// Dispatcher formats and sends case notifications. All sends go to the
// case's notify channel (dedicated channel when present, origin chat
// otherwise).
type Dispatcher struct {
	// Chat is the delivery client.
	Chat chat.Sender
	// ConsoleURLBase prefixes the case display id to form the deep link.
	ConsoleURLBase string
	// SecondaryTZOffset is the offset of the second timezone rendered next
	// to UTC in timestamps.
	SecondaryTZOffset time.Duration
	// GraceHours is the dissolve grace period announced in resolution and
	// pre-dissolve notices.
	GraceHours int
	// Log receives delivery logs.
	Log zerolog.Logger

	// Now is the clock for "current time" stamps. Overridable in tests;
	// defaults to time.Now.
	Now func() time.Time
}

var _ Notifier = (*Dispatcher)(nil)

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Communication implements Notifier. Replies are rendered as structured
// posts: a linked case id header, status and submitter lines, then the body
// split per line.
func (d *Dispatcher) Communication(ctx context.Context, c *domain.Case, comm support.Communication, status domain.CaseStatus, maxRunes int) error {
	ts := comm.TimeCreated
	when, ok := parseWireTime(ts)
	if !ok {
		when = d.now()
	}

	icon, submitter := classifySubmitter(comm.SubmittedBy)
	lines := [][]chat.Block{
		{d.caseLink(c)},
		{bold("Status"), text(": " + status.Display())},
		{bold(icon + " Replied by"), text(": " + submitter)},
		{bold("Time"), text(": " + d.formatDualTime(when))},
		{text("")},
	}
	for _, line := range strings.Split(d.truncate(comm.Body, maxRunes), "\n") {
		lines = append(lines, []chat.Block{text(line)})
	}

	if err := d.deliverPost(ctx, c, "", lines); err != nil {
		return err
	}
	notificationsSent.WithLabelValues("communication").Inc()
	return nil
}

// Resolution implements Notifier.
func (d *Dispatcher) Resolution(ctx context.Context, c *domain.Case) error {
	lines := [][]chat.Block{
		{d.caseLink(c)},
		{bold("Time"), text(": " + d.formatDualTime(d.now()))},
		{text("")},
		{text("The case has been marked as resolved.")},
		{text("")},
		{italic(fmt.Sprintf("This channel will be dissolved automatically in %d hours.", d.GraceHours))},
		{italic("To follow up, reopen the case in the support console.")},
	}
	if err := d.deliverPost(ctx, c, "Case resolved", lines); err != nil {
		return err
	}
	notificationsSent.WithLabelValues("resolution").Inc()
	return nil
}

// Reopen implements Notifier.
func (d *Dispatcher) Reopen(ctx context.Context, c *domain.Case) error {
	lines := [][]chat.Block{
		{d.caseLink(c)},
		{bold("Time"), text(": " + d.formatDualTime(d.now()))},
		{text("")},
		{text("The case has been reopened.")},
	}
	if err := d.deliverPost(ctx, c, "Case reopened", lines); err != nil {
		return err
	}
	notificationsSent.WithLabelValues("reopen").Inc()
	return nil
}

// StatusChange implements Notifier. When the new status is resolved, the
// notice also announces the upcoming channel dissolution.
func (d *Dispatcher) StatusChange(ctx context.Context, c *domain.Case, from, to domain.CaseStatus) error {
	msg := fmt.Sprintf("Status update\n\nCase: %s\nNew status: %s", c.DisplayID, to.Display())
	if to.IsResolved() {
		msg += fmt.Sprintf("\n\nThis channel will be dissolved automatically in %d hours.", d.GraceHours)
	}
	if err := d.deliverText(ctx, c, msg); err != nil {
		return err
	}
	d.Log.Info().
		Str("case_id", c.CaseID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("status change dispatched")
	notificationsSent.WithLabelValues("status_change").Inc()
	return nil
}

// PreDissolve implements Notifier.
func (d *Dispatcher) PreDissolve(ctx context.Context, c *domain.Case) error {
	msg := fmt.Sprintf(
		"Case %s has been resolved for over %d hours.\nThis channel will now be dissolved.\n\nThe case itself remains in the support console if you need to reopen it.",
		c.DisplayID, d.GraceHours,
	)
	if err := d.deliverText(ctx, c, msg); err != nil {
		return err
	}
	notificationsSent.WithLabelValues("pre_dissolve").Inc()
	return nil
}

// ConfigurationProblem implements Notifier.
func (d *Dispatcher) ConfigurationProblem(ctx context.Context, c *domain.Case, msg string) error {
	return d.deliverText(ctx, c, fmt.Sprintf("Configuration problem for case %s: %s", c.DisplayID, msg))
}

// deliverText sends a plain text message, absorbing expected rejections.
func (d *Dispatcher) deliverText(ctx context.Context, c *domain.Case, msg string) error {
	return d.absorbRejected(c, d.Chat.SendText(ctx, c.NotifyChatID(), msg))
}

// deliverPost sends a structured post, absorbing expected rejections.
func (d *Dispatcher) deliverPost(ctx context.Context, c *domain.Case, title string, lines [][]chat.Block) error {
	return d.absorbRejected(c, d.Chat.SendPost(ctx, c.NotifyChatID(), title, lines))
}

// absorbRejected turns a known "expected" delivery rejection into a logged
// non-error. Everything else passes through.
func (d *Dispatcher) absorbRejected(c *domain.Case, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, chat.ErrDeliveryRejected) {
		deliveriesRejected.Inc()
		d.Log.Warn().
			Str("case_id", c.CaseID).
			Str("chat_id", c.NotifyChatID()).
			Err(err).
			Msg("delivery rejected; continuing")
		return nil
	}
	return err
}

// truncate clips body at maxRunes runes and appends the truncation marker.
// A maxRunes <= 0 disables clipping.
func (d *Dispatcher) truncate(body string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(body) <= maxRunes {
		return body
	}
	return string([]rune(body)[:maxRunes]) + truncationMarker
}

// formatDualTime renders t in UTC and in the configured secondary timezone.
func (d *Dispatcher) formatDualTime(t time.Time) string {
	utc := t.UTC()
	secondary := utc.Add(d.SecondaryTZOffset)
	return fmt.Sprintf("%s UTC / %s %s",
		utc.Format("2006-01-02 15:04:05"),
		secondary.Format("2006-01-02 15:04:05"),
		offsetLabel(d.SecondaryTZOffset),
	)
}

// offsetLabel renders a GMT offset label such as "GMT+8" or "GMT-5".
func offsetLabel(off time.Duration) string {
	hours := int(off / time.Hour)
	if hours < 0 {
		return fmt.Sprintf("GMT%d", hours)
	}
	return fmt.Sprintf("GMT+%d", hours)
}

// classifySubmitter distinguishes support-side replies from customer
// replies for the notice header.
func classifySubmitter(submittedBy string) (icon, label string) {
	low := strings.ToLower(submittedBy)
	if strings.Contains(low, "support") || strings.Contains(low, "agent") {
		return "🛠", "Support engineer"
	}
	if strings.TrimSpace(submittedBy) == "" {
		return "💬", "Console"
	}
	return "💬", submittedBy
}

func (d *Dispatcher) caseLink(c *domain.Case) chat.Block {
	return chat.Block{
		Tag:    "a",
		Text:   "Case ID: " + c.DisplayID,
		Href:   d.ConsoleURLBase + c.DisplayID,
		Styles: []string{"bold"},
	}
}

func text(s string) chat.Block   { return chat.Block{Tag: "text", Text: s} }
func bold(s string) chat.Block   { return chat.Block{Tag: "text", Text: s, Styles: []string{"bold"}} }
func italic(s string) chat.Block { return chat.Block{Tag: "text", Text: s, Styles: []string{"italic"}} }
