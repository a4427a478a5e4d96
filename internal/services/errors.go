// Package services implements the case-sync engine: the event ingest
// gateway, the reconciliation poller, the notification dispatcher, and the
// lifecycle janitor. This file centralizes common service-level error values
// so that they can be consistently returned by service methods and checked
// by callers.
package services

import "errors"

// ErrMissingCredential indicates that a case carries no credential
// reference, so the ticketing API cannot be called for it. This is a
// configuration error: surfaced once to the case's channel and not
// retried automatically.
var ErrMissingCredential = errors.New("case has no credential reference")
