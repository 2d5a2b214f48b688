package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// TransportError means the call never produced an API envelope: the
// connection failed, the context ended, or the body was not JSON.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectedError is a success=false envelope: the server understood the
// request and refused it.
type RejectedError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Details    json.RawMessage
	// set from Retry-After on 429
	RetryAfter time.Duration
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func newRejected(status int, header http.Header, message string, apiErr *APIError) *RejectedError {
	e := &RejectedError{StatusCode: status, Message: message}
	if apiErr != nil {
		e.Code = apiErr.Code
		e.RequestID = apiErr.RequestID
		e.Details = apiErr.Details
		if apiErr.Message != "" {
			e.Message = apiErr.Message
		}
	}
	if header != nil {
		if secs, err := strconv.Atoi(header.Get("Retry-After")); err == nil {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}

// IsRejected reports whether err is a business rejection, optionally with one of codes.
func IsRejected(err error, codes ...string) bool {
	var re *RejectedError
	if !errors.As(err, &re) {
		return false
	}
	if len(codes) == 0 {
		return true
	}
	for _, c := range codes {
		if re.Code == c {
			return true
		}
	}
	return false
}

func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
