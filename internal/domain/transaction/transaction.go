package transaction

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypePayment     Type = "payment"
	TypeCreditAward Type = "credit_award"
	TypeCreditSale  Type = "credit_sale"
	TypeDonation    Type = "donation"
	TypeRefund      Type = "refund"
)

func (t Type) IsValid() bool {
	switch t {
	case TypePayment, TypeCreditAward, TypeCreditSale, TypeDonation, TypeRefund:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusRefunded:
		return true
	default:
		return false
	}
}

var (
	ErrNotFound      = errors.New("transaction not found")
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Amounts are minor units (cents) to keep sums exact.
type Transaction struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Timestamp   time.Time `json:"timestamp"`
	Type        Type      `json:"type"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Status      Status    `json:"status"`
	Fees        int64     `json:"fees"`
	NetAmount   int64     `json:"netAmount"`
	Reference   *string   `json:"reference,omitempty"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type CreateRequest struct {
	UserID      string
	Type        Type
	Amount      int64
	Currency    string
	Status      Status
	Fees        int64
	Reference   *string
	Description string
}

func New(req CreateRequest) (Transaction, error) {
	if req.Amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}

	now := time.Now().UTC()
	status := req.Status
	if status == "" {
		status = StatusPending
	}
	currency := req.Currency
	if currency == "" {
		currency = "usd"
	}

	return Transaction{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Timestamp:   now,
		Type:        req.Type,
		Amount:      req.Amount,
		Currency:    currency,
		Status:      status,
		Fees:        req.Fees,
		NetAmount:   req.Amount - req.Fees,
		Reference:   req.Reference,
		Description: req.Description,
		UpdatedAt:   now,
	}, nil
}

type ListFilter struct {
	Search *string
	UserID *string
	Type   *Type
	Status *Status
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

type Stats struct {
	Count       int   `json:"count"`
	TotalAmount int64 `json:"totalAmount"`
	TotalFees   int64 `json:"totalFees"`
	TotalNet    int64 `json:"totalNet"`
	Completed   int   `json:"completed"`
	Pending     int   `json:"pending"`
	Failed      int   `json:"failed"`
}

// Summarize sums the stat cards over a list of transactions.
func Summarize(items []Transaction) Stats {
	var s Stats

	for _, t := range items {
		s.Count++
		s.TotalAmount += t.Amount
		s.TotalFees += t.Fees
		s.TotalNet += t.NetAmount

		switch t.Status {
		case StatusCompleted:
			s.Completed++
		case StatusPending:
			s.Pending++
		case StatusFailed:
			s.Failed++
		}
	}

	return s
}
