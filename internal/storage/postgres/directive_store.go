package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"drunk-bob/internal/domain"
	"drunk-bob/internal/storage"
)

// DirectiveStore implements storage.DirectiveStore using PostgreSQL.
type DirectiveStore struct {
	pool *Pool
}

// NewDirectiveStore creates a new DirectiveStore.
func NewDirectiveStore(pool *Pool) *DirectiveStore {
	return &DirectiveStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DirectiveStore = (*DirectiveStore)(nil)

const directiveColumns = `
	directive_id, wallet, kind, status,
	payload, signed, signatures,
	created_at, completed_at
`

// Insert adds a new directive. Returns ErrDuplicateKey if directive_id exists.
func (s *DirectiveStore) Insert(ctx context.Context, d *domain.Directive) (err error) {
	if d == nil || d.DirectiveID == "" || d.Wallet == "" || !d.Kind.IsValid() {
		return storage.ErrInvalidInput
	}
	defer recordQuery("insert_directive", time.Now(), &err)

	status := d.Status
	if status == "" {
		status = domain.DirectivePending
	}
	payload := d.Payload
	if payload == nil {
		payload = []string{}
	}

	query := `
		INSERT INTO directives (` + directiveColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.pool.Exec(ctx, query,
		d.DirectiveID, d.Wallet, string(d.Kind), string(status),
		payload, d.Signed, d.Signatures,
		d.CreatedAt, d.CompletedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert directive: %w", err)
	}
	return nil
}

// GetByID retrieves a directive by its ID. Returns ErrNotFound if not exists.
func (s *DirectiveStore) GetByID(ctx context.Context, directiveID string) (*domain.Directive, error) {
	query := `SELECT ` + directiveColumns + ` FROM directives WHERE directive_id = $1`

	d, err := scanDirective(s.pool.QueryRow(ctx, query, directiveID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get directive by id: %w", err)
	}
	return d, nil
}

// ListByWallet retrieves all directives for a wallet, ordered by created_at ASC.
func (s *DirectiveStore) ListByWallet(ctx context.Context, wallet string) ([]*domain.Directive, error) {
	query := `
		SELECT ` + directiveColumns + `
		FROM directives
		WHERE wallet = $1
		ORDER BY created_at ASC, directive_id ASC
	`

	rows, err := s.pool.Query(ctx, query, wallet)
	if err != nil {
		return nil, fmt.Errorf("query directives by wallet: %w", err)
	}
	defer rows.Close()

	var result []*domain.Directive
	for rows.Next() {
		d, err := scanDirective(rows)
		if err != nil {
			return nil, fmt.Errorf("scan directive: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate directives: %w", err)
	}
	return result, nil
}

// ListPending retrieves the pending directives of kind for wallet, oldest first.
func (s *DirectiveStore) ListPending(ctx context.Context, wallet string, kind domain.DirectiveKind) (result []*domain.Directive, err error) {
	defer recordQuery("list_pending", time.Now(), &err)

	query := `
		SELECT ` + directiveColumns + `
		FROM directives
		WHERE wallet = $1 AND kind = $2 AND status = 'PENDING'
		ORDER BY created_at ASC, directive_id ASC
	`

	rows, err := s.pool.Query(ctx, query, wallet, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query pending directives: %w", err)
	}
	defer rows.Close()

	result = []*domain.Directive{}
	for rows.Next() {
		d, err := scanDirective(rows)
		if err != nil {
			return nil, fmt.Errorf("scan directive: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending directives: %w", err)
	}
	return result, nil
}

// Complete settles a pending directive. The status guard in the UPDATE makes
// concurrent completions of the same directive race-free.
func (s *DirectiveStore) Complete(ctx context.Context, directiveID string, result domain.DirectiveResult) (err error) {
	defer recordQuery("complete_directive", time.Now(), &err)

	query := `
		UPDATE directives
		SET status = 'COMPLETED', signed = $2, signatures = $3, completed_at = $4
		WHERE directive_id = $1 AND status = 'PENDING'
	`
	tag, err := s.pool.Exec(ctx, query, directiveID, result.Signed, result.Signatures, result.CompletedAt)
	if err != nil {
		return fmt.Errorf("complete directive: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	existing, err := s.GetByID(ctx, directiveID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s", storage.ErrNotPending, directiveID, existing.Status)
}

// ExpireBefore marks pending directives created before cutoff as expired.
func (s *DirectiveStore) ExpireBefore(ctx context.Context, cutoff, now int64) (n int, err error) {
	defer recordQuery("expire_directives", time.Now(), &err)

	query := `
		UPDATE directives
		SET status = 'EXPIRED', completed_at = $2
		WHERE status = 'PENDING' AND created_at < $1
	`
	tag, err := s.pool.Exec(ctx, query, cutoff, now)
	if err != nil {
		return 0, fmt.Errorf("expire directives: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanDirective(row pgx.Row) (*domain.Directive, error) {
	var (
		d      domain.Directive
		kind   string
		status string
	)
	err := row.Scan(
		&d.DirectiveID, &d.Wallet, &kind, &status,
		&d.Payload, &d.Signed, &d.Signatures,
		&d.CreatedAt, &d.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Kind = domain.DirectiveKind(kind)
	d.Status = domain.DirectiveStatus(status)
	return &d, nil
}
