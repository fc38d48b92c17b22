package memory

import (
	"context"
	"sort"
	"sync"

	"drunk-bob/internal/domain"
	"drunk-bob/internal/storage"
)

type recommendationKey struct {
	replyID  string
	position int
}

// RecommendationStore is an in-memory implementation of storage.RecommendationStore.
type RecommendationStore struct {
	mu   sync.RWMutex
	data map[recommendationKey]*domain.RecommendationEvent
}

// NewRecommendationStore creates a new in-memory recommendation store.
func NewRecommendationStore() *RecommendationStore {
	return &RecommendationStore{
		data: make(map[recommendationKey]*domain.RecommendationEvent),
	}
}

// InsertBulk adds multiple events atomically. Fails entire batch on duplicate.
func (s *RecommendationStore) InsertBulk(_ context.Context, events []*domain.RecommendationEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[recommendationKey]struct{}, len(events))
	for _, e := range events {
		if e == nil || e.ReplyID == "" || e.SessionID == "" || e.Name == "" {
			return storage.ErrInvalidInput
		}
		k := recommendationKey{e.ReplyID, e.Position}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := s.data[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, e := range events {
		s.data[recommendationKey{e.ReplyID, e.Position}] = copyEvent(e)
	}
	return nil
}

// GetBySession retrieves all events for a session, ordered by created_at, position ASC.
func (s *RecommendationStore) GetBySession(_ context.Context, sessionID string) ([]*domain.RecommendationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RecommendationEvent
	for _, e := range s.data {
		if e.SessionID == sessionID {
			result = append(result, copyEvent(e))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		if result[i].ReplyID != result[j].ReplyID {
			return result[i].ReplyID < result[j].ReplyID
		}
		return result[i].Position < result[j].Position
	})
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.RecommendationStore = (*RecommendationStore)(nil)

func copyEvent(e *domain.RecommendationEvent) *domain.RecommendationEvent {
	c := *e
	if e.Price != nil {
		p := *e.Price
		c.Price = &p
	}
	return &c
}
