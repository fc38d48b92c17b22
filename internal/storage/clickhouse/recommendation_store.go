package clickhouse

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"drunk-bob/internal/domain"
	"drunk-bob/internal/observability"
	"drunk-bob/internal/storage"
)

// RecommendationStore implements storage.RecommendationStore using ClickHouse.
type RecommendationStore struct {
	conn *Conn
}

// NewRecommendationStore creates a new RecommendationStore.
func NewRecommendationStore(conn *Conn) *RecommendationStore {
	return &RecommendationStore{conn: conn}
}

// Compile-time interface check.
var _ storage.RecommendationStore = (*RecommendationStore)(nil)

// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
func (s *RecommendationStore) InsertBulk(ctx context.Context, events []*domain.RecommendationEvent) (err error) {
	if len(events) == 0 {
		return nil
	}
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "insert_recommendations", time.Since(start).Seconds(), err)
	}()

	// Check for intra-batch duplicates
	seen := make(map[string]struct{})
	for _, e := range events {
		if e == nil || e.ReplyID == "" || e.SessionID == "" || e.Name == "" {
			return storage.ErrInvalidInput
		}
		key := e.ReplyID + "|" + strconv.Itoa(e.Position)
		if _, exists := seen[key]; exists {
			return storage.ErrDuplicateKey
		}
		seen[key] = struct{}{}
	}

	// ReplacingMergeTree would silently replace, check existing rows instead
	for _, e := range events {
		exists, err := s.exists(ctx, e.ReplyID, e.Position)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO recommendation_events (
			reply_id, session_id, wallet, position,
			name, brand, spirit, proof, price,
			image_url, why, created_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			e.ReplyID, e.SessionID, e.Wallet, uint16(e.Position),
			e.Name, e.Brand, e.Spirit, uint16(e.Proof), e.Price,
			e.ImageURL, e.Why, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetBySession retrieves all events for a session.
func (s *RecommendationStore) GetBySession(ctx context.Context, sessionID string) ([]*domain.RecommendationEvent, error) {
	query := `
		SELECT
			reply_id, session_id, wallet, position,
			name, brand, spirit, proof, price,
			image_url, why, created_at
		FROM recommendation_events FINAL
		WHERE session_id = ?
		ORDER BY created_at ASC, reply_id ASC, position ASC
	`

	rows, err := s.conn.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query by session: %w", err)
	}
	defer rows.Close()

	var events []*domain.RecommendationEvent
	for rows.Next() {
		var (
			e        domain.RecommendationEvent
			position uint16
			proof    uint16
		)
		err := rows.Scan(
			&e.ReplyID, &e.SessionID, &e.Wallet, &position,
			&e.Name, &e.Brand, &e.Spirit, &proof, &e.Price,
			&e.ImageURL, &e.Why, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan recommendation row: %w", err)
		}
		e.Position = int(position)
		e.Proof = int(proof)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recommendation rows: %w", err)
	}
	return events, nil
}

// exists checks if an event with the given key exists.
func (s *RecommendationStore) exists(ctx context.Context, replyID string, position int) (bool, error) {
	query := `
		SELECT count(*) FROM recommendation_events FINAL
		WHERE reply_id = ? AND position = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, replyID, uint16(position)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
