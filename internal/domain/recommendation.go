package domain

// RecommendationEvent is one extracted recommendation from one agent reply.
// Corresponds to recommendation_events table in ClickHouse.
type RecommendationEvent struct {
	ReplyID   string   // uuid of the parsed reply
	SessionID string   // chat room or caller supplied session
	Wallet    string   // wallet address, empty when unknown
	Position  int      // 1-based order within the reply
	Name      string   // bottle name
	Brand     string   // first token of name unless known
	Spirit    string   // spirit type, "Unknown" by default
	Proof     int      // 0 when unknown
	Price     *float64 // nil when unknown
	ImageURL  string   // validated URL or placeholder
	Why       string   // agent justification
	CreatedAt int64    // Unix timestamp in milliseconds
}
