package tools

import (
	"context"

	"go.uber.org/zap"
)

// TravelClient searches flights and hotels through the travel
// aggregation service.
type TravelClient struct {
	c *client
}

// NewTravelClient creates a travel client against baseURL.
func NewTravelClient(baseURL string, logger *zap.Logger) *TravelClient {
	return &TravelClient{c: newClient("travel", baseURL, logger)}
}

// SearchFlights queries flight offers for the given criteria.
func (t *TravelClient) SearchFlights(ctx context.Context, criteria map[string]interface{}) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := t.c.postJSON(ctx, "/travel/flights/search", criteria, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchHotels queries hotel offers for the given criteria.
func (t *TravelClient) SearchHotels(ctx context.Context, criteria map[string]interface{}) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := t.c.postJSON(ctx, "/travel/hotels/search", criteria, &out); err != nil {
		return nil, err
	}
	return out, nil
}
