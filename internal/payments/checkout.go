// Package payments confirms checkouts with the payment provider and records
// them as transactions.
package payments

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"

	"github.com/geocoder89/impacthub/internal/domain/transaction"
	"github.com/geocoder89/impacthub/internal/observability"
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomePending   Outcome = "pending"
	OutcomeFailed    Outcome = "failed"
)

// intent statuses as the provider reports them
const (
	IntentSucceeded             = "succeeded"
	IntentProcessing            = "processing"
	IntentRequiresAction        = "requires_action"
	IntentRequiresPaymentMethod = "requires_payment_method"
	IntentCanceled              = "canceled"
)

const GenericFailureMessage = "Payment could not be completed. Please try another payment method."

var ErrNotConfigured = errors.New("payments are not configured")

// ProviderError is a card or request error the provider reported for this payment.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

type ConfirmInput struct {
	Amount          int64
	Currency        string
	PaymentMethodID string
	Description     string
	IdempotencyKey  string
	Metadata        map[string]string
}

type Intent struct {
	ID           string
	Status       string
	ClientSecret string
}

// Confirmer creates and confirms a payment intent in one call.
type Confirmer interface {
	Confirm(ctx context.Context, in ConfirmInput) (Intent, error)
}

type Ledger interface {
	Create(ctx context.Context, t transaction.Transaction) error
	UpdateStatus(ctx context.Context, id string, status transaction.Status, reference *string) (transaction.Transaction, error)
}

type Request struct {
	Amount          int64  `json:"amount" binding:"required,min=50,max=100000000"`
	Currency        string `json:"currency" binding:"omitempty,len=3,alpha"`
	PaymentMethodID string `json:"paymentMethodId" binding:"required,max=255"`
	Purpose         string `json:"purpose" binding:"omitempty,oneof=payment donation credit_purchase"`
	Description     string `json:"description" binding:"omitempty,max=255"`
}

// Result mirrors the checkout screen state: IsProcessing stays true only
// while the provider still has the payment.
type Result struct {
	Outcome         Outcome                 `json:"outcome"`
	IsProcessing    bool                    `json:"isProcessing"`
	ErrorMessage    string                  `json:"errorMessage,omitempty"`
	PaymentIntentID string                  `json:"paymentIntentId,omitempty"`
	ClientSecret    string                  `json:"clientSecret,omitempty"`
	Transaction     transaction.Transaction `json:"transaction"`
}

type Service struct {
	confirmer Confirmer
	ledger    Ledger
	prom      *observability.Prom
	log       *slog.Logger
}

func NewService(confirmer Confirmer, ledger Ledger, prom *observability.Prom, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{confirmer: confirmer, ledger: ledger, prom: prom, log: log}
}

// Fees estimates the provider's card fee: 2.9% + 30 minor units.
func Fees(amount int64) int64 {
	f := int64(math.Round(float64(amount)*0.029)) + 30
	if f > amount {
		return amount
	}
	return f
}

func typeFor(purpose string) transaction.Type {
	switch purpose {
	case "donation":
		return transaction.TypeDonation
	case "credit_purchase":
		return transaction.TypeCreditSale
	default:
		return transaction.TypePayment
	}
}

// Checkout records a pending transaction, confirms it with the provider and
// settles the transaction according to the provider's answer.
func (s *Service) Checkout(ctx context.Context, userID string, req Request) (Result, error) {
	if s.confirmer == nil {
		return Result{}, ErrNotConfigured
	}

	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = "usd"
	}

	t, err := transaction.New(transaction.CreateRequest{
		UserID:      userID,
		Type:        typeFor(req.Purpose),
		Amount:      req.Amount,
		Currency:    currency,
		Status:      transaction.StatusPending,
		Fees:        Fees(req.Amount),
		Description: req.Description,
	})
	if err != nil {
		return Result{}, err
	}

	if err := s.ledger.Create(ctx, t); err != nil {
		return Result{}, err
	}

	intent, confirmErr := s.confirmer.Confirm(ctx, ConfirmInput{
		Amount:          t.Amount,
		Currency:        t.Currency,
		PaymentMethodID: req.PaymentMethodID,
		Description:     req.Description,
		IdempotencyKey:  t.ID,
		Metadata:        map[string]string{"transaction_id": t.ID, "user_id": userID},
	})

	res := Decide(intent, confirmErr)
	res.Transaction = t

	var ref *string
	if intent.ID != "" {
		ref = &intent.ID
	}

	status := transaction.StatusPending
	switch res.Outcome {
	case OutcomeSucceeded:
		status = transaction.StatusCompleted
	case OutcomeFailed:
		status = transaction.StatusFailed
	}

	updated, err := s.ledger.UpdateStatus(ctx, t.ID, status, ref)
	if err != nil {
		// the provider already answered; report it even though the ledger lags
		s.log.ErrorContext(ctx, "checkout.ledger_update_failed", "transaction_id", t.ID, "err", err)
		t.Status = status
		t.Reference = ref
		res.Transaction = t
	} else {
		res.Transaction = updated
	}

	s.prom.IncCheckout(string(res.Outcome))

	if confirmErr != nil {
		s.log.WarnContext(ctx, "checkout.provider_error", "transaction_id", t.ID, "err", confirmErr)
	}

	return res, nil
}

// Decide maps the provider's {error, intent} answer to the checkout state.
func Decide(intent Intent, err error) Result {
	if err != nil {
		msg := GenericFailureMessage

		var pe *ProviderError
		if errors.As(err, &pe) && pe.Message != "" {
			msg = pe.Message
		}

		return Result{Outcome: OutcomeFailed, ErrorMessage: msg, PaymentIntentID: intent.ID}
	}

	res := Result{PaymentIntentID: intent.ID}

	switch intent.Status {
	case IntentSucceeded:
		res.Outcome = OutcomeSucceeded
	case IntentRequiresAction, IntentProcessing:
		res.Outcome = OutcomePending
		res.IsProcessing = true
		res.ClientSecret = intent.ClientSecret
	default:
		res.Outcome = OutcomeFailed
		res.ErrorMessage = GenericFailureMessage
	}

	return res
}
