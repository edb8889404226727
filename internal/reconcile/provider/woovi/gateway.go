package woovi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.woovi.com"

// Gateway fetches the authoritative status of a charge for the polling
// reconciler.
type Gateway struct {
	appID   string
	baseURL string
	client  *http.Client
}

func NewGateway(appID string) *Gateway {
	return &Gateway{
		appID:   appID,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// NewGatewayWithBaseURL allows pointing at a test server.
func NewGatewayWithBaseURL(appID, baseURL string) *Gateway {
	g := NewGateway(appID)
	g.baseURL = baseURL
	return g
}

func (g *Gateway) FetchStatus(ctx context.Context, correlationID string) (string, error) {
	url := fmt.Sprintf("%s/api/v1/charge/%s", g.baseURL, correlationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", g.appID)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("woovi: status fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("woovi: status fetch returned %d", resp.StatusCode)
	}

	var out struct {
		Charge struct {
			Status string `json:"status"`
		} `json:"charge"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("woovi: decode status response: %w", err)
	}
	return out.Charge.Status, nil
}
