package postgres

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drunk-bob/internal/domain"
	"drunk-bob/internal/storage"
)

func createTestDirective(id, wallet string, kind domain.DirectiveKind, createdAt int64) *domain.Directive {
	return &domain.Directive{
		DirectiveID: id,
		Wallet:      wallet,
		Kind:        kind,
		Payload:     []string{"AQABAg=="},
		CreatedAt:   createdAt,
	}
}

func TestDirectiveStore_InsertAndGetByID(t *testing.T) {
	pool := newTestPool(t)

	ctx := context.Background()
	store := NewDirectiveStore(pool)

	d := createTestDirective("dir-001", "wallet-a", domain.DirectiveClaim, 1704067200000)
	d.Payload = []string{"tx-one", "tx-two"}
	require.NoError(t, store.Insert(ctx, d))

	got, err := store.GetByID(ctx, "dir-001")
	require.NoError(t, err)
	assert.Equal(t, "wallet-a", got.Wallet)
	assert.Equal(t, domain.DirectiveClaim, got.Kind)
	assert.Equal(t, domain.DirectivePending, got.Status)
	assert.Equal(t, []string{"tx-one", "tx-two"}, got.Payload)
	assert.Equal(t, int64(1704067200000), got.CreatedAt)
	assert.Nil(t, got.CompletedAt)
	assert.Empty(t, got.Signed)
}

func TestDirectiveStore_DuplicateAndNotFound(t *testing.T) {
	pool := newTestPool(t)

	ctx := context.Background()
	store := NewDirectiveStore(pool)

	d := createTestDirective("dir-dup", "wallet-a", domain.DirectiveLock, 1)
	require.NoError(t, store.Insert(ctx, d))
	assert.ErrorIs(t, store.Insert(ctx, d), storage.ErrDuplicateKey)

	_, err := store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	pending, err := store.ListPending(ctx, "nobody", domain.DirectiveLock)
	require.NoError(t, err)
	assert.Empty(t, pending)

	err = store.Complete(ctx, "missing", domain.DirectiveResult{CompletedAt: 1})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDirectiveStore_ListPendingAndComplete(t *testing.T) {
	pool := newTestPool(t)

	ctx := context.Background()
	store := NewDirectiveStore(pool)

	require.NoError(t, store.Insert(ctx, createTestDirective("second", "wallet-a", domain.DirectiveLock, 200)))
	require.NoError(t, store.Insert(ctx, createTestDirective("first", "wallet-a", domain.DirectiveLock, 100)))
	require.NoError(t, store.Insert(ctx, createTestDirective("claim", "wallet-a", domain.DirectiveClaim, 50)))

	pending, err := store.ListPending(ctx, "wallet-a", domain.DirectiveLock)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "first", pending[0].DirectiveID)
	assert.Equal(t, "second", pending[1].DirectiveID)

	result := domain.DirectiveResult{
		Signed:      [][]byte{{1, 2, 3}},
		Signatures:  []string{"5sig"},
		CompletedAt: 300,
	}
	require.NoError(t, store.Complete(ctx, "first", result))
	assert.ErrorIs(t, store.Complete(ctx, "first", result), storage.ErrNotPending)

	done, err := store.GetByID(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, domain.DirectiveCompleted, done.Status)
	assert.Equal(t, [][]byte{{1, 2, 3}}, done.Signed)
	assert.Equal(t, []string{"5sig"}, done.Signatures)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, int64(300), *done.CompletedAt)

	pending, err = store.ListPending(ctx, "wallet-a", domain.DirectiveLock)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "second", pending[0].DirectiveID)

	list, err := store.ListByWallet(ctx, "wallet-a")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "claim", list[0].DirectiveID)
	assert.Equal(t, "first", list[1].DirectiveID)
	assert.Equal(t, "second", list[2].DirectiveID)
}

func TestDirectiveStore_ConcurrentComplete(t *testing.T) {
	pool := newTestPool(t)

	ctx := context.Background()
	store := NewDirectiveStore(pool)
	require.NoError(t, store.Insert(ctx, createTestDirective("race", "wallet-a", domain.DirectiveLock, 1)))

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.Complete(ctx, "race", domain.DirectiveResult{CompletedAt: 2}) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestDirectiveStore_ExpireBefore(t *testing.T) {
	pool := newTestPool(t)

	ctx := context.Background()
	store := NewDirectiveStore(pool)

	require.NoError(t, store.Insert(ctx, createTestDirective("stale", "wallet-a", domain.DirectiveLock, 100)))
	require.NoError(t, store.Insert(ctx, createTestDirective("fresh", "wallet-a", domain.DirectiveLock, 900)))

	n, err := store.ExpireBefore(ctx, 500, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stale, err := store.GetByID(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, domain.DirectiveExpired, stale.Status)
	require.NotNil(t, stale.CompletedAt)
	assert.Equal(t, int64(1000), *stale.CompletedAt)

	assert.ErrorIs(t, store.Complete(ctx, "stale", domain.DirectiveResult{CompletedAt: 1}), storage.ErrNotPending)

	n, err = store.ExpireBefore(ctx, 500, 2000)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
