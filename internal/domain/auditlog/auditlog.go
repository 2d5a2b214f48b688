package auditlog

import (
	"errors"
	"time"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

func (s Status) IsValid() bool {
	return s == StatusSuccess || s == StatusFailure
}

var ErrNotFound = errors.New("audit log not found")

// Entry is one link of the hash chain. Hash covers PrevHash plus every
// field below except Hash itself.
type Entry struct {
	ID         string            `json:"id"`
	Seq        int64             `json:"seq"`
	Timestamp  time.Time         `json:"timestamp"`
	Actor      string            `json:"actor"`
	ActorID    string            `json:"actorId,omitempty"`
	ActorRole  string            `json:"actorRole,omitempty"`
	Action     string            `json:"action"`
	Resource   string            `json:"resource,omitempty"`
	ResourceID string            `json:"resourceId,omitempty"`
	Severity   Severity          `json:"severity"`
	Status     Status            `json:"status"`
	IP         string            `json:"ip,omitempty"`
	RequestID  string            `json:"requestId,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	PrevHash   string            `json:"prevHash"`
	Hash       string            `json:"hash"`
}

// Record is what callers hand to the recorder; ids, sequence and hashes are assigned on append.
type Record struct {
	Actor      string
	ActorID    string
	ActorRole  string
	Action     string
	Resource   string
	ResourceID string
	Severity   Severity
	Status     Status
	IP         string
	RequestID  string
	Details    map[string]string
}

type ListFilter struct {
	Search   *string
	Actor    *string
	Action   *string
	Severity *Severity
	Status   *Status
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

type Stats struct {
	Total    int `json:"total"`
	Info     int `json:"info"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
	Failures int `json:"failures"`
}

type Verification struct {
	ID       string `json:"id"`
	Valid    bool   `json:"valid"`
	Expected string `json:"expected"`
	Stored   string `json:"stored"`
	// set when the stored prev hash does not match the preceding entry
	BrokenLink bool `json:"brokenLink,omitempty"`
}

type ChainReport struct {
	Checked  int    `json:"checked"`
	Valid    bool   `json:"valid"`
	FirstBad string `json:"firstBadId,omitempty"`
}
