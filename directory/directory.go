// Package directory resolves customer IDs to customer records, either over
// HTTP against a customer service or from a static in-memory table.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/fortressi/cartflow"
)

// Client looks customers up over HTTP.
//
// A 404 is reported as an ordinary (transient) error, not a rejection:
// directory propagation lags behind order placement, so callers are
// expected to keep retrying until the record appears.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a directory client for the given base URL.  A nil
// httpClient falls back to a client with a 5 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

// Lookup fetches the customer record for the given ID.
func (c *Client) Lookup(ctx context.Context, customerID string) (cartflow.Customer, error) {
	endpoint := c.baseURL + "/customers/" + url.PathEscape(customerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return cartflow.Customer{}, fmt.Errorf("failed to build lookup request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return cartflow.Customer{}, fmt.Errorf("customer lookup failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return cartflow.Customer{}, fmt.Errorf("customer %q not found", customerID)
	default:
		return cartflow.Customer{}, fmt.Errorf("customer lookup returned status %d", resp.StatusCode)
	}

	var customer cartflow.Customer
	if err := json.NewDecoder(resp.Body).Decode(&customer); err != nil {
		return cartflow.Customer{}, fmt.Errorf("failed to decode customer record: %w", err)
	}
	return customer, nil
}

// Static is a fixed in-memory directory.
type Static struct {
	customers map[string]cartflow.Customer
}

// NewStatic creates a static directory from the given records.
func NewStatic(customers ...cartflow.Customer) *Static {
	byID := make(map[string]cartflow.Customer, len(customers))
	for _, c := range customers {
		byID[c.ID] = c
	}
	return &Static{customers: byID}
}

// Lookup returns the record for the given ID.  An unknown ID is an
// ordinary error, retried by the caller like a propagation lag.
func (s *Static) Lookup(ctx context.Context, customerID string) (cartflow.Customer, error) {
	customer, ok := s.customers[customerID]
	if !ok {
		return cartflow.Customer{}, fmt.Errorf("customer %q not found", customerID)
	}
	return customer, nil
}
