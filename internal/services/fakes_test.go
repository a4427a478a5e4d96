package services

// Hand-written fakes shared by the service tests. They implement exactly the
// interfaces the engine consumes, so the gateway, poller, and janitor can be
// exercised without a database or network.

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-case-sync/internal/domain"
	"github.com/tbourn/go-case-sync/internal/repo"
	"github.com/tbourn/go-case-sync/internal/support"
)

type fakeStore struct {
	cases    map[string]*domain.Case
	advances []string // "caseID ts" in call order
}

func newFakeStore(cs ...*domain.Case) *fakeStore {
	s := &fakeStore{cases: map[string]*domain.Case{}}
	for _, c := range cs {
		s.cases[c.CaseID] = c
	}
	return s
}

func (s *fakeStore) GetCase(_ context.Context, _ *gorm.DB, caseID string) (*domain.Case, error) {
	c, ok := s.cases[caseID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) UpdateCaseFields(_ context.Context, _ *gorm.DB, caseID string, fields map[string]any) error {
	c, ok := s.cases[caseID]
	if !ok {
		return repo.ErrNotFound
	}
	if v, ok := fields["status"]; ok {
		c.Status = domain.CaseStatus(v.(string))
	}
	if v, ok := fields["resolved_at"]; ok {
		c.ResolvedAt = v.(*time.Time)
	}
	if v, ok := fields["last_checked"]; ok {
		c.LastChecked = v.(*time.Time)
	}
	if v, ok := fields["chat_dissolved"]; ok {
		c.ChatDissolved = v.(bool)
	}
	if v, ok := fields["dissolved_at"]; ok {
		c.DissolvedAt = v.(*time.Time)
	}
	return nil
}

func (s *fakeStore) AdvanceWatermark(_ context.Context, _ *gorm.DB, caseID, ts string) error {
	c, ok := s.cases[caseID]
	if !ok {
		return repo.ErrNotFound
	}
	s.advances = append(s.advances, caseID+" "+ts)
	if c.LastCommunicationTime == "" || c.LastCommunicationTime < ts {
		c.LastCommunicationTime = ts
	}
	return nil
}

func (s *fakeStore) ListOpenCases(_ context.Context, _ *gorm.DB) ([]domain.Case, error) {
	var out []domain.Case
	for _, c := range s.cases {
		if !c.Status.IsResolved() {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *fakeStore) ScanCases(_ context.Context, _ *gorm.DB, pred func(*domain.Case) bool) ([]domain.Case, error) {
	var out []domain.Case
	for _, c := range s.cases {
		cp := *c
		if pred(&cp) {
			out = append(out, cp)
		}
	}
	return out, nil
}

type fakeEvents struct {
	processed map[string]time.Time
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{processed: map[string]time.Time{}}
}

func (e *fakeEvents) WasEventProcessed(_ context.Context, _ *gorm.DB, eventID string, now time.Time, window time.Duration) (bool, error) {
	at, ok := e.processed[eventID]
	if !ok {
		return false, nil
	}
	return at.After(now.Add(-window)), nil
}

func (e *fakeEvents) MarkEventProcessed(_ context.Context, _ *gorm.DB, eventID string, now time.Time) error {
	e.processed[eventID] = now
	return nil
}

type notice struct {
	kind     string // communication | resolution | reopen | status_change | pre_dissolve | config_problem
	caseID   string
	body     string
	from, to domain.CaseStatus
	maxRunes int
}

type fakeNotifier struct {
	notices []notice
	err     error
}

func (n *fakeNotifier) Communication(_ context.Context, c *domain.Case, comm support.Communication, status domain.CaseStatus, maxRunes int) error {
	n.notices = append(n.notices, notice{kind: "communication", caseID: c.CaseID, body: comm.Body, to: status, maxRunes: maxRunes})
	return n.err
}

func (n *fakeNotifier) Resolution(_ context.Context, c *domain.Case) error {
	n.notices = append(n.notices, notice{kind: "resolution", caseID: c.CaseID})
	return n.err
}

func (n *fakeNotifier) Reopen(_ context.Context, c *domain.Case) error {
	n.notices = append(n.notices, notice{kind: "reopen", caseID: c.CaseID})
	return n.err
}

func (n *fakeNotifier) StatusChange(_ context.Context, c *domain.Case, from, to domain.CaseStatus) error {
	n.notices = append(n.notices, notice{kind: "status_change", caseID: c.CaseID, from: from, to: to})
	return n.err
}

func (n *fakeNotifier) PreDissolve(_ context.Context, c *domain.Case) error {
	n.notices = append(n.notices, notice{kind: "pre_dissolve", caseID: c.CaseID})
	return n.err
}

func (n *fakeNotifier) ConfigurationProblem(_ context.Context, c *domain.Case, msg string) error {
	n.notices = append(n.notices, notice{kind: "config_problem", caseID: c.CaseID, body: msg})
	return n.err
}

func (n *fakeNotifier) byKind(kind string) []notice {
	var out []notice
	for _, nt := range n.notices {
		if nt.kind == kind {
			out = append(out, nt)
		}
	}
	return out
}

type fakeTickets struct {
	details       map[string]*support.CaseDetail
	errs          map[string]error
	describeCalls []string
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{details: map[string]*support.CaseDetail{}, errs: map[string]error{}}
}

func (t *fakeTickets) Describe(_ context.Context, _, caseID string, _ support.DescribeOptions) (*support.CaseDetail, error) {
	t.describeCalls = append(t.describeCalls, caseID)
	if err := t.errs[caseID]; err != nil {
		return nil, err
	}
	d, ok := t.details[caseID]
	if !ok {
		return nil, support.ErrCaseNotFound
	}
	return d, nil
}

func (t *fakeTickets) CreateCase(context.Context, string, support.CreateInput) (*support.CreateResult, error) {
	return nil, errors.New("not supported by fake")
}

func (t *fakeTickets) AddCommunication(context.Context, string, string, string, string) error {
	return errors.New("not supported by fake")
}

func (t *fakeTickets) AddAttachment(context.Context, string, []byte, string) (string, error) {
	return "", errors.New("not supported by fake")
}

type fakeDeleter struct {
	deleted []string
	err     error
}

func (d *fakeDeleter) DeleteChannel(_ context.Context, chatID string) error {
	if d.err != nil {
		return d.err
	}
	d.deleted = append(d.deleted, chatID)
	return nil
}
