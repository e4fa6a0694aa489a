package render

import (
	"time"

	"github.com/google/uuid"
)

// Job is one request to convert markup (plus optional styling) into a PDF
// byte buffer. A job is owned by exactly one execution slot at a time and
// resolves exactly once.
type Job struct {
	ID          string
	HTML        string
	CSS         string
	Options     map[string]any
	SubmittedAt time.Time
}

// NewJob builds a Job with a generated id.
func NewJob(html, css string, options map[string]any) *Job {
	return &Job{
		ID:          uuid.NewString(),
		HTML:        html,
		CSS:         css,
		Options:     options,
		SubmittedAt: time.Now().UTC(),
	}
}

// Validate rejects jobs that must never reach an engine process.
func (j *Job) Validate() error {
	if j.HTML == "" {
		return Errorf(KindInputInvalid, "html content is required")
	}
	return nil
}
