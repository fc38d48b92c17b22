package recommendation

import "strings"

// Reply headers the agent uses when it answers with a recommendation list.
const (
	TopPicksHeader    = "Based on your collection and preferences, here are my top 3 recommendations:"
	BudgetPicksHeader = "Here are my top recommendations under $"
)

// Response is the payload rendered for a recommendation reply.
type Response struct {
	Message         string   `json:"message"`
	Recommendations []Record `json:"recommendations"`
}

// IsRecommendationReply reports whether an agent reply carries a
// recommendation list worth parsing.
func IsRecommendationReply(text string) bool {
	return strings.Contains(text, TopPicksHeader) || strings.Contains(text, BudgetPicksHeader)
}

// FormatResponse wraps records with the standard header message.
func FormatResponse(records []Record) Response {
	out := make([]Record, len(records))
	for i, r := range records {
		if r.ImageURL == "" {
			r.ImageURL = PlaceholderImageURL
		}
		out[i] = r
	}
	return Response{
		Message:         TopPicksHeader,
		Recommendations: out,
	}
}
