package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"drunk-bob/internal/domain"
	"drunk-bob/internal/storage"
)

// DirectiveStore is an in-memory implementation of storage.DirectiveStore.
type DirectiveStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Directive // keyed by directive_id
}

// NewDirectiveStore creates a new in-memory directive store.
func NewDirectiveStore() *DirectiveStore {
	return &DirectiveStore{
		data: make(map[string]*domain.Directive),
	}
}

// Insert adds a new directive. Returns ErrDuplicateKey if directive_id exists.
func (s *DirectiveStore) Insert(_ context.Context, d *domain.Directive) error {
	if d == nil || d.DirectiveID == "" || d.Wallet == "" || !d.Kind.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[d.DirectiveID]; exists {
		return storage.ErrDuplicateKey
	}

	c := copyDirective(d)
	if c.Status == "" {
		c.Status = domain.DirectivePending
	}
	s.data[d.DirectiveID] = c
	return nil
}

// GetByID retrieves a directive by its ID. Returns ErrNotFound if not exists.
func (s *DirectiveStore) GetByID(_ context.Context, directiveID string) (*domain.Directive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, exists := s.data[directiveID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyDirective(d), nil
}

// ListByWallet retrieves all directives for a wallet, ordered by created_at ASC.
func (s *DirectiveStore) ListByWallet(_ context.Context, wallet string) ([]*domain.Directive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Directive
	for _, d := range s.data {
		if d.Wallet == wallet {
			result = append(result, copyDirective(d))
		}
	}
	sortDirectives(result)
	return result, nil
}

// ListPending retrieves the pending directives of kind for wallet, oldest first.
func (s *DirectiveStore) ListPending(_ context.Context, wallet string, kind domain.DirectiveKind) ([]*domain.Directive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*domain.Directive{}
	for _, d := range s.data {
		if d.Wallet == wallet && d.Kind == kind && d.Status == domain.DirectivePending {
			result = append(result, copyDirective(d))
		}
	}
	sortDirectives(result)
	return result, nil
}

// Complete settles a pending directive.
func (s *DirectiveStore) Complete(_ context.Context, directiveID string, result domain.DirectiveResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, exists := s.data[directiveID]
	if !exists {
		return storage.ErrNotFound
	}
	if d.Status != domain.DirectivePending {
		return fmt.Errorf("%w: %s is %s", storage.ErrNotPending, directiveID, d.Status)
	}

	d.Status = domain.DirectiveCompleted
	d.Signed = copyBytesSlice(result.Signed)
	d.Signatures = append([]string(nil), result.Signatures...)
	completedAt := result.CompletedAt
	d.CompletedAt = &completedAt
	return nil
}

// ExpireBefore marks pending directives created before cutoff as expired.
func (s *DirectiveStore) ExpireBefore(_ context.Context, cutoff, now int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, d := range s.data {
		if d.Status == domain.DirectivePending && d.CreatedAt < cutoff {
			d.Status = domain.DirectiveExpired
			expiredAt := now
			d.CompletedAt = &expiredAt
			n++
		}
	}
	return n, nil
}

// Verify interface compliance at compile time.
var _ storage.DirectiveStore = (*DirectiveStore)(nil)

func less(a, b *domain.Directive) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.DirectiveID < b.DirectiveID
}

func sortDirectives(ds []*domain.Directive) {
	sort.Slice(ds, func(i, j int) bool {
		return less(ds[i], ds[j])
	})
}

// copyDirective returns a deep copy to prevent external mutation.
func copyDirective(d *domain.Directive) *domain.Directive {
	c := *d
	c.Payload = append([]string(nil), d.Payload...)
	c.Signed = copyBytesSlice(d.Signed)
	c.Signatures = append([]string(nil), d.Signatures...)
	if d.CompletedAt != nil {
		at := *d.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

func copyBytesSlice(in [][]byte) [][]byte {
	if in == nil {
		return nil
	}
	out := make([][]byte, len(in))
	for i, b := range in {
		out[i] = append([]byte(nil), b...)
	}
	return out
}
