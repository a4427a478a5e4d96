// Package support provides the credential-scoped client abstraction over the
// external ticketing API. Every call first resolves a scoped credential from
// the case's opaque credential reference (assume-role semantics: a long-lived
// reference is exchanged for short-lived, time-boxed access).
//
// The client deliberately builds in no retry or backoff: callers own retry
// policy, and the periodic reconciliation passes provide retry-by-recurrence
// for anything a single invocation drops.
package support

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tbourn/go-case-sync/internal/domain"
)

// ErrCaseNotFound is returned when the ticketing system has no case for the
// requested id.
var ErrCaseNotFound = errors.New("remote case not found")

// ErrNoCredential is returned when a case carries no credential reference or
// the reference cannot be resolved. This is a configuration error, not a
// transient one: it is surfaced once and not retried automatically.
var ErrNoCredential = errors.New("no credential for case")

// RemoteError wraps a transient failure against the ticketing API. Work units
// hitting one are abandoned and self-corrected on the next scheduled pass.
type RemoteError struct {
	Op   string
	Code int
	Err  error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("ticket api %s: code=%d: %v", e.Op, e.Code, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *RemoteError) Unwrap() error { return e.Err }

// Communication is one reply on a case as reported by the ticketing system.
type Communication struct {
	CaseID      string `json:"caseId"`
	Body        string `json:"body"`
	SubmittedBy string `json:"submittedBy"`
	TimeCreated string `json:"timeCreated"` // RFC 3339
}

// CaseDetail is the remote ground truth for a case.
type CaseDetail struct {
	CaseID         string            `json:"caseId"`
	DisplayID      string            `json:"displayId"`
	Status         domain.CaseStatus `json:"status"`
	Communications []Communication   `json:"communications,omitempty"`
}

// DescribeOptions controls how much detail Describe fetches.
type DescribeOptions struct {
	IncludeCommunications bool
	IncludeResolved       bool
}

// CreateInput carries the fields required to open a new case.
type CreateInput struct {
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	Severity     string `json:"severity"`
	ServiceCode  string `json:"serviceCode"`
	CategoryCode string `json:"categoryCode"`
	IssueType    string `json:"issueType"`
}

// CreateResult identifies a newly created case.
type CreateResult struct {
	CaseID    string `json:"caseId"`
	DisplayID string `json:"displayId"`
}

// Client is the capability set the sync engine needs from the ticketing
// system. All calls resolve credentialRef before touching the API and return
// typed errors instead of panicking past the caller boundary.
type Client interface {
	// Describe fetches current case state, optionally with its recent
	// communications, including resolved cases when requested.
	Describe(ctx context.Context, credentialRef, caseID string, opts DescribeOptions) (*CaseDetail, error)

	// CreateCase opens a new case and returns its ids.
	CreateCase(ctx context.Context, credentialRef string, in CreateInput) (*CreateResult, error)

	// AddCommunication appends a reply to the case, optionally referencing a
	// previously uploaded attachment set.
	AddCommunication(ctx context.Context, credentialRef, caseID, body, attachmentSetID string) error

	// AddAttachment uploads one file and returns the attachment set id to
	// pass to AddCommunication.
	AddAttachment(ctx context.Context, credentialRef string, data []byte, fileName string) (string, error)
}

// Credential is a short-lived, time-boxed access token scoped to one
// credential reference.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// CredentialSource exchanges an opaque credential reference for scoped
// access. Implementations must be safe for concurrent use.
type CredentialSource interface {
	Resolve(ctx context.Context, credentialRef string) (Credential, error)
}
