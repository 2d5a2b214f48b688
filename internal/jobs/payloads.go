package jobs

import "time"

// CreditAwardPayload is ID-based; the worker reloads what it needs.
type CreditAwardPayload struct {
	ActivityID string    `json:"activityId"`
	UserID     string    `json:"userId"`
	Credits    int       `json:"credits"`
	ReviewedBy string    `json:"reviewedBy"`
	ReviewedAt time.Time `json:"reviewedAt"`
	RequestID  string    `json:"requestId,omitempty"`
}

type CreditRevokePayload struct {
	ActivityID string `json:"activityId"`
	UserID     string `json:"userId"`
	Reason     string `json:"reason,omitempty"`
	ReviewedBy string `json:"reviewedBy"`
	RequestID  string `json:"requestId,omitempty"`
}

// IdempotencyKey makes re-verifying the same activity enqueue at most one job per type.
func IdempotencyKey(t JobType, activityID string) string {
	return string(t) + ":" + activityID
}
