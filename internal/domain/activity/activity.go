package activity

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusVerified   Status = "verified"
	StatusUnverified Status = "unverified"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusUnverified:
		return true
	default:
		return false
	}
}

var (
	ErrNotFound          = errors.New("activity not found")
	ErrProofRequired     = errors.New("proof image is required")
	ErrAlreadyReviewed   = errors.New("activity already reviewed")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type Activity struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Type          string     `json:"type"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	ProofImage    string     `json:"proofImage"`
	Credits       int        `json:"credits"`
	Status        Status     `json:"status"`
	ReviewNote    *string    `json:"reviewNote,omitempty"`
	ReviewedBy    *string    `json:"reviewedBy,omitempty"`
	ReviewedAt    *time.Time `json:"reviewedAt,omitempty"`
	SubmittedDate time.Time  `json:"submittedDate"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type SubmitRequest struct {
	UserID      string `json:"-"`
	Type        string `json:"type" binding:"required,oneof=tree-planting cleanup recycling volunteering donation energy-saving other"`
	Title       string `json:"title" binding:"required,min=3,max=140"`
	Description string `json:"description" binding:"omitempty,max=2000"`
	ProofImage  string `json:"proofImage" binding:"required,url"`
	Credits     int    `json:"credits" binding:"omitempty,min=0,max=10000"`
}

// Validate enforces the rules binding cannot express. A blank proof image is
// rejected here even when the request skipped binding.
func (r SubmitRequest) Validate() error {
	if strings.TrimSpace(r.ProofImage) == "" {
		return ErrProofRequired
	}
	return nil
}

func NewFromSubmitRequest(req SubmitRequest) Activity {
	now := time.Now().UTC()

	return Activity{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		Type:          req.Type,
		Title:         strings.TrimSpace(req.Title),
		Description:   req.Description,
		ProofImage:    strings.TrimSpace(req.ProofImage),
		Credits:       req.Credits,
		Status:        StatusPending,
		SubmittedDate: now,
		UpdatedAt:     now,
	}
}

// CanTransition reports whether a review may move an activity from one status to another.
// Only pending activities are reviewed; a verified activity may be revoked to unverified.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusVerified || to == StatusUnverified
	case StatusVerified:
		return to == StatusUnverified
	default:
		return false
	}
}

type ListFilter struct {
	Search *string
	UserID *string
	Type   *string
	Status *Status
	Limit  int
	Offset int
}

type Stats struct {
	Total        int `json:"total"`
	Pending      int `json:"pending"`
	Verified     int `json:"verified"`
	Unverified   int `json:"unverified"`
	TotalCredits int `json:"totalCredits"`
}

type ReviewRequest struct {
	Credits *int   `json:"credits" binding:"omitempty,min=0,max=10000"`
	Note    string `json:"note" binding:"omitempty,max=500"`
}
