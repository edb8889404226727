package stripe

import (
	"context"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// Gateway asks the card provider for the real status of a payment intent.
// The polling reconciler uses it when webhooks were lost.
type Gateway struct {
	client *client.API
}

func NewGateway(apiKey string) *Gateway {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &Gateway{client: sc}
}

// FetchStatus returns the provider's native status string for the intent.
// The status vocabulary is translated downstream by the normalizer, the
// same as for webhook-delivered statuses.
func (g *Gateway) FetchStatus(ctx context.Context, correlationID string) (string, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.client.PaymentIntents.Get(correlationID, params)
	if err != nil {
		return "", err
	}
	return string(pi.Status), nil
}
