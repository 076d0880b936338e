package worker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job type constants - these must match the JobHandler.Type() values
const (
	JobTypeAnalyzeEvidence = "analyze_evidence"
)

// AnalyzeEvidencePayload is the payload for evidence analysis jobs.
// Token ties the job to the exact version of the item it was requested for.
type AnalyzeEvidencePayload struct {
	SessionID  uuid.UUID `json:"session_id"`
	EvidenceID string    `json:"evidence_id"`
	Token      uint64    `json:"token"`
}

// Job is a unit of queued work.
type Job struct {
	ID          uuid.UUID
	Type        string
	Payload     []byte
	MaxAttempts int
	Delay       time.Duration
	EnqueuedAt  time.Time
}

// EnqueueOption is a functional option for customizing job enqueue parameters.
type EnqueueOption func(*Job)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(attempts int) EnqueueOption {
	return func(j *Job) {
		j.MaxAttempts = attempts
	}
}

// WithDelay runs the job after a delay.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(j *Job) {
		j.Delay = delay
	}
}

// EnqueueJob marshals payload and queues it on the worker.
func (w *Worker) EnqueueJob(jobType string, payload any, opts ...EnqueueOption) (uuid.UUID, error) {
	// Marshal the payload to JSON
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal payload: %w", err)
	}

	job := Job{
		ID:          uuid.New(),
		Type:        jobType,
		Payload:     payloadJSON,
		MaxAttempts: w.config.MaxAttempts,
		EnqueuedAt:  time.Now(),
	}

	// Apply options
	for _, opt := range opts {
		opt(&job)
	}

	if err := w.enqueue(job); err != nil {
		return uuid.Nil, fmt.Errorf("enqueue job: %w", err)
	}

	return job.ID, nil
}

// EnqueueAnalyzeEvidence queues analysis of one evidence item.
func (w *Worker) EnqueueAnalyzeEvidence(sessionID uuid.UUID, evidenceID string, token uint64, opts ...EnqueueOption) (uuid.UUID, error) {
	payload := AnalyzeEvidencePayload{
		SessionID:  sessionID,
		EvidenceID: evidenceID,
		Token:      token,
	}

	return w.EnqueueJob(JobTypeAnalyzeEvidence, payload, opts...)
}
