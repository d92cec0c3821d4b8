package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/splax/dealership/internal/domain"
)

// StateAll selects dealers from every state.
const StateAll = "All"

// DealerClient talks to the dealer data service.
type DealerClient struct {
	c *client
}

// NewDealerClient constructs a DealerClient for the service at base.
func NewDealerClient(base string, opts ...Option) (*DealerClient, error) {
	c, err := newClient("dealers", base, opts...)
	if err != nil {
		return nil, err
	}
	return &DealerClient{c: c}, nil
}

// FetchDealers returns the raw dealer list, optionally filtered by state.
func (d *DealerClient) FetchDealers(ctx context.Context, state string) (json.RawMessage, error) {
	path := "/fetchDealers"
	if s := strings.TrimSpace(state); s != "" && s != StateAll {
		path += "/" + url.PathEscape(s)
	}
	var raw json.RawMessage
	if err := d.c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// FetchDealer returns one dealer document.
func (d *DealerClient) FetchDealer(ctx context.Context, id int) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := d.c.do(ctx, http.MethodGet, fmt.Sprintf("/fetchDealer/%d", id), nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// FetchReviews returns the reviews of a dealer in service order.
func (d *DealerClient) FetchReviews(ctx context.Context, dealerID int) ([]domain.Review, error) {
	var reviews []domain.Review
	if err := d.c.do(ctx, http.MethodGet, fmt.Sprintf("/fetchReviews/dealer/%d", dealerID), nil, &reviews); err != nil {
		return nil, err
	}
	return reviews, nil
}

// InsertReview stores a review and returns the stored document.
func (d *DealerClient) InsertReview(ctx context.Context, review json.RawMessage) (json.RawMessage, error) {
	var stored json.RawMessage
	if err := d.c.do(ctx, http.MethodPost, "/insert_review", review, &stored); err != nil {
		return nil, err
	}
	return stored, nil
}
