package listview

import (
	"context"
	"errors"
	"sync"

	"github.com/geocoder89/impacthub/internal/domain/activity"
)

var ErrSubmitting = errors.New("listview: a submission is already in flight")

// SubmissionForm gates the activity submit button: it is enabled only when
// proof is attached and nothing is in flight.
type SubmissionForm struct {
	submit func(ctx context.Context, req activity.SubmitRequest) (activity.Activity, error)

	mu       sync.Mutex
	req      activity.SubmitRequest
	inFlight bool
}

func NewSubmissionForm(submit func(ctx context.Context, req activity.SubmitRequest) (activity.Activity, error)) *SubmissionForm {
	return &SubmissionForm{submit: submit}
}

func (f *SubmissionForm) Set(req activity.SubmitRequest) {
	f.mu.Lock()
	f.req = req
	f.mu.Unlock()
}

func (f *SubmissionForm) CanSubmit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.inFlight && f.req.Validate() == nil
}

// Submit sends the form. Missing proof is refused before submit is called.
func (f *SubmissionForm) Submit(ctx context.Context) (activity.Activity, error) {
	f.mu.Lock()
	if f.inFlight {
		f.mu.Unlock()
		return activity.Activity{}, ErrSubmitting
	}
	req := f.req
	if err := req.Validate(); err != nil {
		f.mu.Unlock()
		return activity.Activity{}, err
	}
	f.inFlight = true
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight = false
		f.mu.Unlock()
	}()

	return f.submit(ctx, req)
}
