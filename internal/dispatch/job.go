// internal/dispatch/job.go
package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	apperrors "bloodlink/internal/common/errors"
	"bloodlink/internal/common/validation"
	"bloodlink/internal/models"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusExhausted Status = "exhausted"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the job will never run again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusExhausted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Handle identifies an enqueued job.
type Handle string

// Job is one notification to deliver over a channel. Priority uses the
// urgency scale (1 low .. 4 emergency); larger runs first.
type Job struct {
	ID           string                 `json:"id"`
	Queue        string                 `json:"queue"`
	Type         models.Channel         `json:"type"`
	Recipient    string                 `json:"recipient"`
	TemplateID   string                 `json:"templateId"`
	Data         map[string]interface{} `json:"data"`
	Priority     int                    `json:"priority"`
	Attempts     int                    `json:"attempts"`
	MaxAttempts  int                    `json:"maxAttempts"`
	ScheduledFor time.Time              `json:"scheduledFor"`
	RequestID    string                 `json:"requestId,omitempty"`
	BestEffort   bool                   `json:"bestEffort,omitempty"`
	Status       Status                 `json:"status,omitempty"`
	LastError    string                 `json:"lastError,omitempty"`
	CreatedAt    time.Time              `json:"-"`
	UpdatedAt    time.Time              `json:"-"`

	seq       uint64
	escalated uint64
	index     int
}

func (j *Job) snapshot() Job {
	c := *j
	c.index = -1
	if j.Data != nil {
		c.Data = make(map[string]interface{}, len(j.Data))
		for k, v := range j.Data {
			c.Data[k] = v
		}
	}
	return c
}

const jobSchema = `{
	"type": "object",
	"properties": {
		"id":           {"type": "string"},
		"queue":        {"type": "string"},
		"type":         {"type": "string", "enum": ["email", "sms"]},
		"recipient":    {"type": "string", "minLength": 1},
		"templateId":   {"type": "string", "minLength": 1},
		"data":         {"type": ["object", "null"]},
		"priority":     {"type": "integer", "minimum": 1, "maximum": 4},
		"attempts":     {"type": "integer", "minimum": 0},
		"maxAttempts":  {"type": "integer", "minimum": 1},
		"scheduledFor": {"type": "string", "format": "date-time"},
		"requestId":    {"type": "string"},
		"bestEffort":   {"type": "boolean"},
		"status":       {"type": "string"},
		"lastError":    {"type": "string"}
	},
	"required": ["type", "recipient", "templateId", "data", "priority", "attempts", "maxAttempts", "scheduledFor"],
	"additionalProperties": false
}`

var wireSchema = validation.MustCompile(jobSchema)

// EncodeJob renders a job in its wire format.
func EncodeJob(j Job) ([]byte, error) {
	return json.Marshal(j)
}

// DecodeJob parses and schema-checks a job in wire format.
func DecodeJob(data []byte) (*Job, error) {
	res, err := wireSchema.ValidateBytes(data)
	if err != nil {
		return nil, apperrors.NewValidationError("job", err.Error())
	}
	if !res.Valid {
		return nil, apperrors.NewValidationError("job", res.Error())
	}

	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	j.index = -1
	return &j, nil
}

func validateJob(j *Job) error {
	if !j.Type.Valid() {
		return apperrors.NewValidationError("type", fmt.Sprintf("unknown channel %q", j.Type))
	}
	if j.Recipient == "" {
		return apperrors.NewValidationError("recipient", "recipient is required")
	}
	if j.TemplateID == "" {
		return apperrors.NewValidationError("templateId", "templateId is required")
	}
	if !models.Urgency(j.Priority).Valid() {
		return apperrors.NewValidationError("priority", fmt.Sprintf("priority %d out of range", j.Priority))
	}
	if j.MaxAttempts < 1 {
		return apperrors.NewValidationError("maxAttempts", "maxAttempts must be at least 1")
	}
	return nil
}
