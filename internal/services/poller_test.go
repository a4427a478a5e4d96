package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-case-sync/internal/domain"
	"github.com/tbourn/go-case-sync/internal/support"
)

func newTestPoller(store *fakeStore, tickets *fakeTickets, notify *fakeNotifier) *Poller {
	return &Poller{
		Store:        store,
		Tickets:      tickets,
		Notify:       notify,
		Lookback:     15 * time.Minute,
		MaxBodyRunes: 1000,
		Log:          zerolog.Nop(),
		Now:          func() time.Time { return time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC) },
	}
}

func openCase(id string) *domain.Case {
	return &domain.Case{
		CaseID:                id,
		DisplayID:             "d-" + id,
		OriginChatID:          "oc_origin",
		CaseChatID:            "oc_" + id,
		CredentialRef:         "ref-prod",
		Status:                domain.StatusWorkInProgress,
		LastCommunicationTime: "2026-01-02T10:00:00Z",
	}
}

func TestPoller_Idempotent(t *testing.T) {
	store := newFakeStore(openCase("case-1"))
	tickets := newFakeTickets()
	tickets.details["case-1"] = &support.CaseDetail{
		CaseID: "case-1",
		Status: domain.StatusWorkInProgress,
		Communications: []support.Communication{
			{Body: "missed reply", TimeCreated: "2026-01-02T11:00:00Z"},
		},
	}
	notify := &fakeNotifier{}
	p := newTestPoller(store, tickets, notify)

	for i := 0; i < 2; i++ {
		if failed, err := p.RunOnce(context.Background()); err != nil || failed != 0 {
			t.Fatalf("RunOnce #%d: failed=%d err=%v", i, failed, err)
		}
	}

	if got := len(notify.byKind("communication")); got != 1 {
		t.Errorf("communications delivered = %d, want 1 (second cycle is a no-op)", got)
	}
	if got := store.cases["case-1"].LastCommunicationTime; got != "2026-01-02T11:00:00Z" {
		t.Errorf("watermark = %q", got)
	}
}

func TestPoller_PartialBatchIsolation(t *testing.T) {
	store := newFakeStore(openCase("case-a"), openCase("case-b"), openCase("case-c"))
	tickets := newFakeTickets()
	tickets.details["case-a"] = &support.CaseDetail{CaseID: "case-a", Status: domain.StatusWorkInProgress}
	tickets.errs["case-b"] = &support.RemoteError{Op: "describe", Code: 500, Err: errors.New("boom")}
	tickets.details["case-c"] = &support.CaseDetail{
		CaseID: "case-c",
		Status: domain.StatusWorkInProgress,
		Communications: []support.Communication{
			{Body: "reply", TimeCreated: "2026-01-02T11:00:00Z"},
		},
	}
	notify := &fakeNotifier{}
	p := newTestPoller(store, tickets, notify)

	failed, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	if got := len(notify.byKind("communication")); got != 1 {
		t.Errorf("deliveries = %d, the healthy cases must still be processed", got)
	}
	if store.cases["case-a"].LastChecked == nil || store.cases["case-c"].LastChecked == nil {
		t.Error("healthy cases must be stamped")
	}
	if store.cases["case-b"].LastChecked != nil {
		t.Error("failed case must not be stamped")
	}
}

func TestPoller_StatusChange(t *testing.T) {
	store := newFakeStore(openCase("case-1"))
	tickets := newFakeTickets()
	tickets.details["case-1"] = &support.CaseDetail{CaseID: "case-1", Status: domain.StatusPendingCustomer}
	notify := &fakeNotifier{}
	p := newTestPoller(store, tickets, notify)

	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	changes := notify.byKind("status_change")
	if len(changes) != 1 || changes[0].from != domain.StatusWorkInProgress || changes[0].to != domain.StatusPendingCustomer {
		t.Fatalf("status changes = %+v", changes)
	}
	if got := store.cases["case-1"].Status; got != domain.StatusPendingCustomer {
		t.Errorf("stored status = %q", got)
	}

	// Unchanged remote status on the next cycle stays silent.
	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := len(notify.byKind("status_change")); got != 1 {
		t.Errorf("status changes after second cycle = %d, want still 1", got)
	}
}

func TestPoller_ResolutionObservedStampsResolvedAt(t *testing.T) {
	store := newFakeStore(openCase("case-1"))
	tickets := newFakeTickets()
	tickets.details["case-1"] = &support.CaseDetail{CaseID: "case-1", Status: domain.StatusResolved}
	notify := &fakeNotifier{}
	p := newTestPoller(store, tickets, notify)

	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	c := store.cases["case-1"]
	if !c.Status.IsResolved() || c.ResolvedAt == nil {
		t.Fatalf("case = status %q resolved_at %v", c.Status, c.ResolvedAt)
	}
	if len(notify.byKind("status_change")) != 1 {
		t.Error("missing status change notice")
	}
}

func TestPoller_RemoteGoneStillStampsChecked(t *testing.T) {
	store := newFakeStore(openCase("case-1"))
	tickets := newFakeTickets() // no detail registered: Describe returns not found
	notify := &fakeNotifier{}
	p := newTestPoller(store, tickets, notify)

	failed, err := p.RunOnce(context.Background())
	if err != nil || failed != 0 {
		t.Fatalf("RunOnce: failed=%d err=%v", failed, err)
	}
	if store.cases["case-1"].LastChecked == nil {
		t.Error("vanished remote case must still be stamped as checked")
	}
	if len(notify.notices) != 0 {
		t.Errorf("notices = %+v, want none", notify.notices)
	}
}

func TestPoller_SkipsResolvedCases(t *testing.T) {
	resolved := openCase("case-done")
	resolved.Status = domain.StatusResolved
	store := newFakeStore(resolved)
	tickets := newFakeTickets()
	p := newTestPoller(store, tickets, &fakeNotifier{})

	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(tickets.describeCalls) != 0 {
		t.Error("resolved cases are not polled")
	}
}

func TestPoller_MissingCredentialCountsAsFailure(t *testing.T) {
	c := openCase("case-1")
	c.CredentialRef = ""
	store := newFakeStore(c)
	p := newTestPoller(store, newFakeTickets(), &fakeNotifier{})

	failed, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
}
