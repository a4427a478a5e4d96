// Package handlers provides HTTP handler implementations for the webhook and
// ops API. Handlers stay thin: they bind and validate input, delegate to the
// sync engine or the case store, and translate outcomes into the standard
// response envelopes defined in response.go.
package handlers

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-case-sync/internal/domain"
	"github.com/tbourn/go-case-sync/internal/services"
)

// EventHandler processes one inbound push event. Implemented by
// services.Gateway.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev domain.PushEvent) error
}

// PollRunner triggers one reconciliation cycle. Implemented by
// services.Poller.
type PollRunner interface {
	RunOnce(ctx context.Context) (failed int, err error)
}

// CleanupRunner triggers one dissolution scan. Implemented by
// services.Janitor.
type CleanupRunner interface {
	RunOnce(ctx context.Context) (dissolved int, err error)
}

// Handler aggregates the dependencies of all HTTP endpoints.
type Handler struct {
	db      *gorm.DB
	gateway EventHandler
	poller  PollRunner
	janitor CleanupRunner
}

// New constructs a Handler wired to the given store handle and engine
// components.
func New(db *gorm.DB, gateway EventHandler, poller PollRunner, janitor CleanupRunner) *Handler {
	return &Handler{db: db, gateway: gateway, poller: poller, janitor: janitor}
}

var _ EventHandler = (*services.Gateway)(nil)
var _ PollRunner = (*services.Poller)(nil)
var _ CleanupRunner = (*services.Janitor)(nil)
