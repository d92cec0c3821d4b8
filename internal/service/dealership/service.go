package dealership

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/splax/dealership/internal/domain"
)

const defaultConcurrency = 4

var (
	// ErrBadRequest is returned for a missing or zero dealer id.
	ErrBadRequest = errors.New("bad request")
	// ErrInvalidReview is returned when a review payload cannot be forwarded.
	ErrInvalidReview = errors.New("invalid review payload")
)

// DealerSource is the remote dealer data service.
type DealerSource interface {
	FetchDealers(ctx context.Context, state string) (json.RawMessage, error)
	FetchDealer(ctx context.Context, id int) (json.RawMessage, error)
	FetchReviews(ctx context.Context, dealerID int) ([]domain.Review, error)
	InsertReview(ctx context.Context, review json.RawMessage) (json.RawMessage, error)
}

// SentimentAnalyzer labels review text.
type SentimentAnalyzer interface {
	Analyze(ctx context.Context, text string) (string, error)
}

// Broadcaster publishes payloads to stream subscribers of a topic.
type Broadcaster interface {
	Broadcast(topic string, payload []byte)
}

// Service relays dealer data and enriches reviews.
type Service struct {
	dealers     DealerSource
	sentiment   SentimentAnalyzer
	events      Broadcaster
	logger      *slog.Logger
	concurrency int
}

// New constructs a dealership Service. events may be nil.
func New(dealers DealerSource, sentiment SentimentAnalyzer, events Broadcaster, logger *slog.Logger, concurrency int) Service {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return Service{dealers: dealers, sentiment: sentiment, events: events, logger: logger, concurrency: concurrency}
}

// Dealers returns every dealer, or those of one state.
func (s Service) Dealers(ctx context.Context, state string) (json.RawMessage, error) {
	return s.dealers.FetchDealers(ctx, state)
}

// Dealer returns the details of one dealer.
func (s Service) Dealer(ctx context.Context, id int) (json.RawMessage, error) {
	if id <= 0 {
		return nil, ErrBadRequest
	}
	return s.dealers.FetchDealer(ctx, id)
}

// Reviews returns a dealer's reviews, each labelled with its sentiment.
// Labels are placed by index so the upstream order is kept.
func (s Service) Reviews(ctx context.Context, dealerID int) ([]domain.Review, error) {
	if dealerID <= 0 {
		return nil, ErrBadRequest
	}
	reviews, err := s.dealers.FetchReviews(ctx, dealerID)
	if err != nil {
		return nil, err
	}
	if reviews == nil {
		reviews = []domain.Review{}
	}

	labels := make([]string, len(reviews))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, review := range reviews {
		text := review.Text()
		if strings.TrimSpace(text) == "" {
			labels[i] = domain.SentimentNeutral
			continue
		}
		g.Go(func() error {
			label, err := s.sentiment.Analyze(gctx, text)
			if err != nil {
				return fmt.Errorf("analyze review %d: %w", i, err)
			}
			labels[i] = label
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, review := range reviews {
		if review == nil {
			review = domain.Review{}
			reviews[i] = review
		}
		review.SetSentiment(labels[i])
	}
	return reviews, nil
}

// AddReview forwards a review to the dealer service, announces it to stream
// subscribers and returns the dealer's current details. author fills the
// review name when the payload has none.
func (s Service) AddReview(ctx context.Context, author string, body []byte) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", ErrInvalidReview)
	}
	dealerID, err := reviewDealerID(fields)
	if err != nil {
		return nil, err
	}
	if _, ok := fields["dealership"]; !ok {
		fields["dealership"] = json.RawMessage(strconv.Itoa(dealerID))
	}
	if name := strings.TrimSpace(rawString(fields["name"])); name == "" && author != "" {
		encoded, _ := json.Marshal(author)
		fields["name"] = encoded
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode review: %w", err)
	}

	stored, err := s.dealers.InsertReview(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("insert review: %w", err)
	}
	s.publish(dealerID, stored)

	dealer, err := s.dealers.FetchDealer(ctx, dealerID)
	if err != nil {
		return nil, fmt.Errorf("fetch dealer %d: %w", dealerID, err)
	}
	return dealer, nil
}

func (s Service) publish(dealerID int, stored json.RawMessage) {
	if s.events == nil {
		return
	}
	event, err := json.Marshal(domain.ReviewEvent{DealerID: dealerID, Review: stored})
	if err != nil {
		s.logger.Warn("failed to marshal review event", "error", err)
		return
	}
	s.events.Broadcast(strconv.Itoa(dealerID), event)
}

// reviewDealerID reads the dealer id from "dealership" or "dealer_id".
// Numbers and numeric strings are accepted. When both are present they must
// name the same dealer, since the review is stored under "dealership".
func reviewDealerID(fields map[string]json.RawMessage) (int, error) {
	dealerID := 0
	for _, key := range []string{"dealership", "dealer_id"} {
		raw, ok := fields[key]
		if !ok || string(raw) == "null" {
			continue
		}
		n, err := positiveInt(raw)
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be a positive integer", ErrInvalidReview, key)
		}
		if dealerID != 0 && n != dealerID {
			return 0, fmt.Errorf("%w: dealership and dealer_id disagree", ErrInvalidReview)
		}
		dealerID = n
	}
	if dealerID == 0 {
		return 0, fmt.Errorf("%w: dealership is required", ErrInvalidReview)
	}
	return dealerID, nil
}

func positiveInt(raw json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		return n, nil
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(rawString(raw))); err == nil && parsed > 0 {
		return parsed, nil
	}
	return 0, errors.New("not a positive integer")
}

func rawString(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
