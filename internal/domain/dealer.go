package domain

import "encoding/json"

// Sentiment labels returned by the analyzer.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// Review is a dealer review as exchanged with the dealer service. Unknown
// fields are preserved so the backend can relay documents verbatim.
type Review map[string]json.RawMessage

// Text returns the review body, or an empty string when absent.
func (r Review) Text() string {
	raw, ok := r["review"]
	if !ok {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return ""
	}
	return text
}

// SetSentiment attaches a sentiment label to the review.
func (r Review) SetSentiment(label string) {
	encoded, _ := json.Marshal(label)
	r["sentiment"] = encoded
}

// ReviewEvent is broadcast to stream subscribers after a review is stored.
type ReviewEvent struct {
	DealerID int             `json:"dealer_id"`
	Review   json.RawMessage `json:"review"`
}
