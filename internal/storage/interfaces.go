package storage

import (
	"context"

	"drunk-bob/internal/domain"
)

// DirectiveStore provides access to directives storage.
type DirectiveStore interface {
	// Insert adds a new directive. Returns ErrDuplicateKey if directive_id exists.
	Insert(ctx context.Context, d *domain.Directive) error

	// GetByID retrieves a directive by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, directiveID string) (*domain.Directive, error)

	// ListByWallet retrieves all directives for a wallet, ordered by created_at ASC.
	ListByWallet(ctx context.Context, wallet string) ([]*domain.Directive, error)

	// ListPending retrieves the pending directives of kind for wallet, oldest
	// first (created_at, then directive_id). Returns an empty slice if none.
	ListPending(ctx context.Context, wallet string, kind domain.DirectiveKind) ([]*domain.Directive, error)

	// Complete settles a pending directive. Returns ErrNotFound if it does not
	// exist and ErrNotPending if it already completed or expired.
	Complete(ctx context.Context, directiveID string, result domain.DirectiveResult) error

	// ExpireBefore marks pending directives created before cutoff (ms) as expired,
	// stamping them with now (ms). Returns the number expired.
	ExpireBefore(ctx context.Context, cutoff, now int64) (int, error)
}

// RecommendationStore provides access to recommendation_events storage.
type RecommendationStore interface {
	// InsertBulk adds multiple events atomically. Fails entire batch on any
	// duplicate (reply_id, position).
	InsertBulk(ctx context.Context, events []*domain.RecommendationEvent) error

	// GetBySession retrieves all events for a session, ordered by created_at, position ASC.
	GetBySession(ctx context.Context, sessionID string) ([]*domain.RecommendationEvent, error)
}
