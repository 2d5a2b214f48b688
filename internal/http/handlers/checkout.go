package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/geocoder89/impacthub/internal/payments"
	"github.com/gin-gonic/gin"
)

type Checkouter interface {
	Checkout(ctx context.Context, userID string, req payments.Request) (payments.Result, error)
}

type CheckoutHandler struct {
	svc Checkouter

	// called after a checkout touched the ledger
	onSettled func()
}

func NewCheckoutHandler(svc Checkouter, onSettled func()) *CheckoutHandler {
	return &CheckoutHandler{svc: svc, onSettled: onSettled}
}

// Checkout handles POST /checkout. A declined payment is a business
// rejection: success=false with the provider's message and the result in
// details. A payment the provider is still working on answers 202.
func (h *CheckoutHandler) Checkout(ctx *gin.Context) {
	var req payments.Request
	if !BindJSON(ctx, &req) {
		return
	}

	actor, ok := requireActor(ctx)
	if !ok {
		return
	}

	res, err := h.svc.Checkout(ctx.Request.Context(), actor.UserID, req)
	if err != nil {
		if errors.Is(err, payments.ErrNotConfigured) {
			RespondServiceUnavailable(ctx, "Payments are not available right now")
			return
		}
		RespondInternal(ctx, "Could not process checkout")
		return
	}

	if h.onSettled != nil {
		h.onSettled()
	}

	switch res.Outcome {
	case payments.OutcomeSucceeded:
		RespondOK(ctx, res)
	case payments.OutcomePending:
		ctx.JSON(http.StatusAccepted, Envelope{Success: true, Data: res})
	default:
		RespondError(ctx, http.StatusPaymentRequired, "payment_failed", res.ErrorMessage, res)
	}
}
