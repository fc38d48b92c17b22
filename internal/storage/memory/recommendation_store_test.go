package memory

import (
	"context"
	"errors"
	"testing"

	"drunk-bob/internal/domain"
	"drunk-bob/internal/storage"
)

func price(v float64) *float64 { return &v }

func TestRecommendationStore_InsertBulkAndGet(t *testing.T) {
	store := NewRecommendationStore()
	ctx := context.Background()

	events := []*domain.RecommendationEvent{
		{ReplyID: "r2", SessionID: "s", Position: 1, Name: "Later", CreatedAt: 200},
		{ReplyID: "r1", SessionID: "s", Position: 2, Name: "E.H. Taylor", CreatedAt: 100},
		{ReplyID: "r1", SessionID: "s", Position: 1, Name: "Blanton's", Price: price(74.99), CreatedAt: 100},
		{ReplyID: "r3", SessionID: "other", Position: 1, Name: "Elsewhere", CreatedAt: 50},
	}
	if err := store.InsertBulk(ctx, events); err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}

	got, err := store.GetBySession(ctx, "s")
	if err != nil {
		t.Fatalf("GetBySession: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	want := []string{"Blanton's", "E.H. Taylor", "Later"}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("position %d: got %s, want %s", i, got[i].Name, name)
		}
	}
	if got[0].Price == nil || *got[0].Price != 74.99 {
		t.Errorf("price not kept: %v", got[0].Price)
	}
	if got[1].Price != nil {
		t.Errorf("unknown price should stay nil")
	}
}

func TestRecommendationStore_DuplicateFailsWholeBatch(t *testing.T) {
	store := NewRecommendationStore()
	ctx := context.Background()

	if err := store.InsertBulk(ctx, []*domain.RecommendationEvent{
		{ReplyID: "r1", SessionID: "s", Position: 1, Name: "A"},
	}); err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}

	err := store.InsertBulk(ctx, []*domain.RecommendationEvent{
		{ReplyID: "r2", SessionID: "s", Position: 1, Name: "B"},
		{ReplyID: "r1", SessionID: "s", Position: 1, Name: "A again"},
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}

	err = store.InsertBulk(ctx, []*domain.RecommendationEvent{
		{ReplyID: "r4", SessionID: "s", Position: 1, Name: "C"},
		{ReplyID: "r4", SessionID: "s", Position: 1, Name: "C"},
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey for intra-batch duplicate, got %v", err)
	}

	got, _ := store.GetBySession(ctx, "s")
	if len(got) != 1 {
		t.Errorf("failed batches must not insert anything, got %d events", len(got))
	}
}

func TestRecommendationStore_InvalidInput(t *testing.T) {
	store := NewRecommendationStore()
	err := store.InsertBulk(context.Background(), []*domain.RecommendationEvent{
		{ReplyID: "r", SessionID: "s", Position: 1},
	})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for nameless event, got %v", err)
	}
}
