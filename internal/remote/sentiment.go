package remote

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// ErrEmptySentiment is returned when the analyzer answers without a label.
var ErrEmptySentiment = errors.New("sentiment analyzer returned no label")

// SentimentClient classifies review text through the analyzer service.
type SentimentClient struct {
	c *client
}

// NewSentimentClient constructs a SentimentClient for the analyzer at base.
func NewSentimentClient(base string, opts ...Option) (*SentimentClient, error) {
	c, err := newClient("sentiment", base, opts...)
	if err != nil {
		return nil, err
	}
	return &SentimentClient{c: c}, nil
}

// Analyze returns the sentiment label for text.
func (s *SentimentClient) Analyze(ctx context.Context, text string) (string, error) {
	var resp struct {
		Sentiment string `json:"sentiment"`
	}
	if err := s.c.do(ctx, http.MethodGet, "/analyze/"+url.PathEscape(text), nil, &resp); err != nil {
		return "", err
	}
	label := strings.TrimSpace(resp.Sentiment)
	if label == "" {
		return "", ErrEmptySentiment
	}
	return label, nil
}
