package nutrition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// client is an HTTP client for a nutrition database service.
type client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new nutrition service client.
func NewClient(baseURL, apiKey string) Lookup {
	return &client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Resolve fetches a single ingredient record by its database code.
func (c *client) Resolve(ctx context.Context, code string) (*Record, error) {
	endpoint := fmt.Sprintf("%s/v1/ingredients/%s", c.baseURL, url.PathEscape(code))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("ingredient %q: %w", code, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nutrition api error: status %d", resp.StatusCode)
	}

	var record Record
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to decode ingredient response: %w", err)
	}
	return &record, nil
}

// Search queries the nutrition database for candidate ingredients.
func (c *client) Search(ctx context.Context, term string, limit int) ([]Record, error) {
	endpoint := fmt.Sprintf("%s/v1/ingredients?search=%s&limit=%d", c.baseURL, url.QueryEscape(term), limit)

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nutrition api error: status %d", resp.StatusCode)
	}

	var searchResp struct {
		Ingredients []Record `json:"ingredients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return searchResp.Ingredients, nil
}

// SumMacros resolves every item concurrently and sums the scaled macros.
// Each goroutine writes into its own slot, so no locking is needed.
func (c *client) SumMacros(ctx context.Context, items []IngredientAmount) (Macros, error) {
	records := make([]*Record, len(items))
	errs := make([]error, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item IngredientAmount) {
			defer wg.Done()
			records[i], errs[i] = c.Resolve(ctx, item.Code)
		}(i, item)
	}
	wg.Wait()

	var total Macros
	for i, item := range items {
		if errs[i] != nil {
			if errors.Is(errs[i], ErrNotFound) {
				return Macros{}, errs[i]
			}
			return Macros{}, fmt.Errorf("failed to resolve %q: %w", item.Code, errs[i])
		}
		total.Add(records[i].Scale(item.QuantityGrams))
	}
	return total, nil
}

func (c *client) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
}
