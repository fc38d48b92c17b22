package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"drunk-bob/internal/domain"
	"drunk-bob/internal/storage"
)

func newDirective(id, wallet string, kind domain.DirectiveKind, createdAt int64) *domain.Directive {
	return &domain.Directive{
		DirectiveID: id,
		Wallet:      wallet,
		Kind:        kind,
		Status:      domain.DirectivePending,
		Payload:     []string{"AQID"},
		CreatedAt:   createdAt,
	}
}

func TestDirectiveStore_InsertAndGet(t *testing.T) {
	store := NewDirectiveStore()
	ctx := context.Background()

	d := newDirective("d1", "wallet1", domain.DirectiveLock, 1704067200000)
	if err := store.Insert(ctx, d); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "d1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Wallet != "wallet1" || got.Kind != domain.DirectiveLock {
		t.Errorf("unexpected directive: %+v", got)
	}
	if got.Status != domain.DirectivePending {
		t.Errorf("Status mismatch: got %s, want PENDING", got.Status)
	}

	// Mutating the returned copy must not leak into the store.
	got.Payload[0] = "changed"
	again, _ := store.GetByID(ctx, "d1")
	if again.Payload[0] != "AQID" {
		t.Errorf("store was mutated through returned copy")
	}
}

func TestDirectiveStore_DuplicateKey(t *testing.T) {
	store := NewDirectiveStore()
	ctx := context.Background()

	d := newDirective("d1", "wallet1", domain.DirectiveLock, 1)
	if err := store.Insert(ctx, d); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}
	if err := store.Insert(ctx, d); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestDirectiveStore_InvalidInput(t *testing.T) {
	store := NewDirectiveStore()
	ctx := context.Background()

	tests := []*domain.Directive{
		nil,
		{Wallet: "w", Kind: domain.DirectiveLock},
		{DirectiveID: "d", Kind: domain.DirectiveLock},
		{DirectiveID: "d", Wallet: "w", Kind: "explode"},
	}
	for i, d := range tests {
		if err := store.Insert(ctx, d); !errors.Is(err, storage.ErrInvalidInput) {
			t.Errorf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestDirectiveStore_NotFound(t *testing.T) {
	store := NewDirectiveStore()
	ctx := context.Background()

	if _, err := store.GetByID(ctx, "nonexistent"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if pending, err := store.ListPending(ctx, "w", domain.DirectiveLock); err != nil || len(pending) != 0 {
		t.Errorf("Expected no pending directives, got %v, %v", pending, err)
	}
	if err := store.Complete(ctx, "nonexistent", domain.DirectiveResult{}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDirectiveStore_ListPendingAndComplete(t *testing.T) {
	store := NewDirectiveStore()
	ctx := context.Background()

	for _, d := range []*domain.Directive{
		newDirective("late", "w", domain.DirectiveLock, 300),
		newDirective("early", "w", domain.DirectiveLock, 100),
		newDirective("claim", "w", domain.DirectiveClaim, 50),
		newDirective("other-wallet", "x", domain.DirectiveLock, 10),
	} {
		if err := store.Insert(ctx, d); err != nil {
			t.Fatalf("Insert %s: %v", d.DirectiveID, err)
		}
	}

	pending, err := store.ListPending(ctx, "w", domain.DirectiveLock)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 2 || pending[0].DirectiveID != "early" || pending[1].DirectiveID != "late" {
		t.Fatalf("expected [early late], got %v", directiveIDs(pending))
	}

	result := domain.DirectiveResult{Signed: [][]byte{{1, 2}}, Signatures: []string{"sig"}, CompletedAt: 400}
	if err := store.Complete(ctx, "early", result); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := store.Complete(ctx, "early", result); !errors.Is(err, storage.ErrNotPending) {
		t.Errorf("Expected ErrNotPending on second complete, got %v", err)
	}

	completed, _ := store.GetByID(ctx, "early")
	if completed.Status != domain.DirectiveCompleted {
		t.Errorf("Status mismatch: got %s", completed.Status)
	}
	if completed.CompletedAt == nil || *completed.CompletedAt != 400 {
		t.Errorf("CompletedAt mismatch: %v", completed.CompletedAt)
	}
	if len(completed.Signed) != 1 || completed.Signatures[0] != "sig" {
		t.Errorf("result not stored: %+v", completed)
	}

	pending, err = store.ListPending(ctx, "w", domain.DirectiveLock)
	if err != nil {
		t.Fatalf("ListPending after complete: %v", err)
	}
	if len(pending) != 1 || pending[0].DirectiveID != "late" {
		t.Errorf("expected [late], got %v", directiveIDs(pending))
	}
}

func TestDirectiveStore_ListPendingTieBreak(t *testing.T) {
	store := NewDirectiveStore()
	ctx := context.Background()

	for _, id := range []string{"0002", "0003", "0001"} {
		if err := store.Insert(ctx, newDirective(id, "w", domain.DirectiveLock, 100)); err != nil {
			t.Fatalf("Insert %s: %v", id, err)
		}
	}

	pending, err := store.ListPending(ctx, "w", domain.DirectiveLock)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	got := directiveIDs(pending)
	want := []string{"0001", "0002", "0003"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func directiveIDs(ds []*domain.Directive) []string {
	ids := make([]string, len(ds))
	for i, d := range ds {
		ids[i] = d.DirectiveID
	}
	return ids
}

func TestDirectiveStore_ListByWallet(t *testing.T) {
	store := NewDirectiveStore()
	ctx := context.Background()

	store.Insert(ctx, newDirective("b", "w", domain.DirectiveLock, 200))
	store.Insert(ctx, newDirective("a", "w", domain.DirectiveSignMessage, 100))
	store.Insert(ctx, newDirective("c", "other", domain.DirectiveLock, 50))

	list, err := store.ListByWallet(ctx, "w")
	if err != nil {
		t.Fatalf("ListByWallet: %v", err)
	}
	if len(list) != 2 || list[0].DirectiveID != "a" || list[1].DirectiveID != "b" {
		t.Errorf("unexpected order: %+v", list)
	}
}

func TestDirectiveStore_ExpireBefore(t *testing.T) {
	store := NewDirectiveStore()
	ctx := context.Background()

	store.Insert(ctx, newDirective("old", "w", domain.DirectiveLock, 100))
	store.Insert(ctx, newDirective("new", "w", domain.DirectiveLock, 500))
	store.Insert(ctx, newDirective("done", "w", domain.DirectiveClaim, 50))
	store.Complete(ctx, "done", domain.DirectiveResult{CompletedAt: 60})

	n, err := store.ExpireBefore(ctx, 300, 1000)
	if err != nil {
		t.Fatalf("ExpireBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired, got %d", n)
	}

	old, _ := store.GetByID(ctx, "old")
	if old.Status != domain.DirectiveExpired || *old.CompletedAt != 1000 {
		t.Errorf("old not expired: %+v", old)
	}
	done, _ := store.GetByID(ctx, "done")
	if done.Status != domain.DirectiveCompleted {
		t.Errorf("completed directive changed: %s", done.Status)
	}
	if err := store.Complete(ctx, "old", domain.DirectiveResult{}); !errors.Is(err, storage.ErrNotPending) {
		t.Errorf("Expected ErrNotPending for expired directive, got %v", err)
	}
}

func TestDirectiveStore_ConcurrentComplete(t *testing.T) {
	store := NewDirectiveStore()
	ctx := context.Background()
	store.Insert(ctx, newDirective("d", "w", domain.DirectiveLock, 1))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Complete(ctx, "d", domain.DirectiveResult{CompletedAt: 2}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one completion, got %d", wins)
	}
}
