package payments

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// StripeConfirmer creates a PaymentIntent with confirm=true.
type StripeConfirmer struct {
	api       *client.API
	returnURL string
}

func NewStripeConfirmer(secretKey, returnURL string) *StripeConfirmer {
	api := &client.API{}
	api.Init(secretKey, nil)

	return &StripeConfirmer{api: api, returnURL: returnURL}
}

func (s *StripeConfirmer) Confirm(ctx context.Context, in ConfirmInput) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(in.Amount),
		Currency:      stripe.String(in.Currency),
		PaymentMethod: stripe.String(in.PaymentMethodID),
		Confirm:       stripe.Bool(true),
	}
	if in.Description != "" {
		params.Description = stripe.String(in.Description)
	}
	if s.returnURL != "" {
		params.ReturnURL = stripe.String(s.returnURL)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}
	params.Context = ctx

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) {
			intent := Intent{}
			if se.PaymentIntent != nil {
				intent.ID = se.PaymentIntent.ID
				intent.Status = string(se.PaymentIntent.Status)
			}
			return intent, &ProviderError{Code: string(se.Code), Message: se.Msg}
		}
		return Intent{}, err
	}

	return Intent{
		ID:           pi.ID,
		Status:       string(pi.Status),
		ClientSecret: pi.ClientSecret,
	}, nil
}
