package ratelimit

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

const (
	ColorNormal   = "green"
	ColorWarning  = "yellow"
	ColorCritical = "red"
)

// band thresholds in percent of the limit
const (
	warningAt  = 70
	criticalAt = 90
)

var (
	ErrNotFound      = errors.New("rate limit not found")
	ErrAlreadyExists = errors.New("rate limit already exists for endpoint")
)

// Rule is a stored limit for one endpoint + method. Current, Percentage, Status
// and ProgressColor are filled from live counters, never persisted.
type Rule struct {
	ID            string    `json:"id"`
	Endpoint      string    `json:"endpoint"`
	Method        string    `json:"method"`
	Limit         int       `json:"limit"`
	Window        int       `json:"window"` // seconds
	Current       int       `json:"current"`
	Percentage    int       `json:"percentage"`
	Status        Status    `json:"status"`
	ProgressColor string    `json:"progressColor"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (r Rule) WindowDuration() time.Duration {
	return time.Duration(r.Window) * time.Second
}

// Key identifies the counter a rule enforces.
func (r Rule) Key() string {
	return Key(r.Method, r.Endpoint)
}

func Key(method, endpoint string) string {
	return strings.ToUpper(method) + " " + endpoint
}

// WithUsage stamps the live counter and the derived display fields.
func (r Rule) WithUsage(current int) Rule {
	r.Current = current
	r.Percentage = Percentage(current, r.Limit)
	r.Status = StatusFor(r.Percentage)
	r.ProgressColor = ProgressColor(r.Percentage)
	return r
}

func Percentage(current, limit int) int {
	if limit <= 0 || current <= 0 {
		return 0
	}

	return int(math.Round(float64(current) / float64(limit) * 100))
}

func StatusFor(percentage int) Status {
	switch {
	case percentage >= criticalAt:
		return StatusCritical
	case percentage >= warningAt:
		return StatusWarning
	default:
		return StatusNormal
	}
}

func ProgressColor(percentage int) string {
	switch StatusFor(percentage) {
	case StatusCritical:
		return ColorCritical
	case StatusWarning:
		return ColorWarning
	default:
		return ColorNormal
	}
}

type CreateRequest struct {
	Endpoint string `json:"endpoint" binding:"required,startswith=/,max=200"`
	Method   string `json:"method" binding:"required,oneof=GET POST PUT PATCH DELETE"`
	Limit    int    `json:"limit" binding:"required,min=1,max=1000000"`
	Window   int    `json:"window" binding:"required,min=1,max=86400"`
}

func NewFromCreateRequest(req CreateRequest) Rule {
	now := time.Now().UTC()

	return Rule{
		ID:        uuid.NewString(),
		Endpoint:  req.Endpoint,
		Method:    strings.ToUpper(req.Method),
		Limit:     req.Limit,
		Window:    req.Window,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

type UpdateRequest struct {
	Limit  *int `json:"limit" binding:"omitempty,min=1,max=1000000"`
	Window *int `json:"window" binding:"omitempty,min=1,max=86400"`
}

type ListFilter struct {
	Search *string
	Method *string
	Status *Status
	Limit  int
	Offset int
}

type Stats struct {
	Total    int `json:"total"`
	Normal   int `json:"normal"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
}

// Summarize counts rules per display band. Rules must already carry usage.
func Summarize(rules []Rule) Stats {
	s := Stats{Total: len(rules)}
	for _, r := range rules {
		switch r.Status {
		case StatusCritical:
			s.Critical++
		case StatusWarning:
			s.Warning++
		default:
			s.Normal++
		}
	}
	return s
}
