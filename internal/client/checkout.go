package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/geocoder89/impacthub/internal/payments"
)

func (c *Client) Checkout(ctx context.Context, req payments.Request) (payments.Result, error) {
	return call[payments.Result](ctx, c, http.MethodPost, "/checkout", nil, req)
}

// CheckoutState is what a checkout screen renders.
type CheckoutState struct {
	IsProcessing bool
	ErrorMessage string
	Result       *payments.Result
}

// CheckoutFlow drives one checkout screen. Submit is safe to call from
// several goroutines; a second call while one is in flight is ignored.
type CheckoutFlow struct {
	c *Client

	mu    sync.Mutex
	busy  bool
	state CheckoutState
}

func NewCheckoutFlow(c *Client) *CheckoutFlow {
	return &CheckoutFlow{c: c}
}

func (f *CheckoutFlow) State() CheckoutState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Submit runs the checkout and folds the answer into the screen state.
// A declined card is reported through ErrorMessage, not as an error.
func (f *CheckoutFlow) Submit(ctx context.Context, req payments.Request) (CheckoutState, error) {
	f.mu.Lock()
	if f.busy {
		st := f.state
		f.mu.Unlock()
		return st, nil
	}
	f.busy = true
	f.state = CheckoutState{IsProcessing: true}
	f.mu.Unlock()

	res, err := f.c.Checkout(ctx, req)

	next := CheckoutState{}
	var callErr error

	var rejected *RejectedError
	switch {
	case err == nil:
		next.Result = &res
		next.IsProcessing = res.IsProcessing
		next.ErrorMessage = res.ErrorMessage
	case errors.As(err, &rejected) && rejected.Code == "payment_failed":
		var declined payments.Result
		if len(rejected.Details) > 0 && json.Unmarshal(rejected.Details, &declined) == nil {
			next.Result = &declined
		}
		next.ErrorMessage = rejected.Message
		if next.ErrorMessage == "" {
			next.ErrorMessage = payments.GenericFailureMessage
		}
	case errors.As(err, &rejected):
		next.ErrorMessage = rejected.Message
		callErr = err
	default:
		next.ErrorMessage = payments.GenericFailureMessage
		callErr = err
	}

	f.mu.Lock()
	f.busy = false
	f.state = next
	f.mu.Unlock()

	return next, callErr
}
