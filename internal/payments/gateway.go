package payments

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/transfer"

	pkgstripe "github.com/fleetlyhq/fleetly-backend/pkg/stripe"
)

// Gateway exposes the subset of Stripe operations the payment orchestrator
// and wallet ledger need.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams, idempotencyKey string) (*stripe.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	CreateTransfer(ctx context.Context, params *stripe.TransferParams, idempotencyKey string) (*stripe.Transfer, error)
}

type stripeGateway struct {
	api *pkgstripe.Client
}

// NewStripeGateway wraps the shared Stripe client behind the Gateway
// interface.
func NewStripeGateway(api *pkgstripe.Client) Gateway {
	if api == nil {
		return nil
	}
	return &stripeGateway{api: api}
}

func (g *stripeGateway) CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams, idempotencyKey string) (*stripe.PaymentIntent, error) {
	callCtx, cancel := g.api.CallContext(ctx)
	defer cancel()
	if params == nil {
		params = &stripe.PaymentIntentParams{}
	}
	params.Context = callCtx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	return paymentintent.New(params)
}

func (g *stripeGateway) GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	callCtx, cancel := g.api.CallContext(ctx)
	defer cancel()
	params := &stripe.PaymentIntentParams{}
	params.Context = callCtx
	return paymentintent.Get(id, params)
}

func (g *stripeGateway) CreateTransfer(ctx context.Context, params *stripe.TransferParams, idempotencyKey string) (*stripe.Transfer, error) {
	callCtx, cancel := g.api.CallContext(ctx)
	defer cancel()
	if params == nil {
		params = &stripe.TransferParams{}
	}
	params.Context = callCtx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	return transfer.New(params)
}
