package mercadopago

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.mercadopago.com"

// Gateway fetches the authoritative status of a payment. Both the webhook
// path (whose notifications carry no status) and the polling reconciler go
// through here.
type Gateway struct {
	token   string
	baseURL string
	client  *http.Client
}

func NewGateway(token string) *Gateway {
	return &Gateway{
		token:   token,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// NewGatewayWithBaseURL allows pointing at a test server.
func NewGatewayWithBaseURL(token, baseURL string) *Gateway {
	g := NewGateway(token)
	g.baseURL = baseURL
	return g
}

func (g *Gateway) FetchStatus(ctx context.Context, correlationID string) (string, error) {
	url := fmt.Sprintf("%s/v1/payments/%s", g.baseURL, correlationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+g.token)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("mercadopago: status fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mercadopago: status fetch returned %d", resp.StatusCode)
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("mercadopago: decode status response: %w", err)
	}
	return out.Status, nil
}
