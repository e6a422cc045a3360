package model

import (
	"time"
)

// JobStatus is the lifecycle state of a playbook job
type JobStatus string

// JobStatus constants
const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusError      JobStatus = "error"
)

// Valid reports whether s is one of the known statuses
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusError:
		return true
	}
	return false
}

// IsTerminal reports whether no further changes are allowed in state s
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Staying in the same non-terminal state is allowed so progress updates can
// carry the current status along.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() || !next.Valid() {
		return false
	}
	switch s {
	case StatusPending:
		return next != StatusCompleted
	case StatusProcessing:
		return next != StatusPending
	}
	return false
}

// Default submission options
const (
	DefaultAgreementType = "General Agreement"
	DefaultUserRole      = "Customer"
	DefaultRiskTolerance = "Moderate"
)

// JobSpec describes what a job analyses and on whose behalf
type JobSpec struct {
	Tenant        string `json:"tenant"`
	Filename      string `json:"filename"`
	AgreementType string `json:"agreement_type"`
	UserRole      string `json:"user_role"`
	RiskTolerance string `json:"risk_tolerance"`
}

// WithDefaults fills blank analysis options with the defaults
func (s JobSpec) WithDefaults() JobSpec {
	if s.AgreementType == "" {
		s.AgreementType = DefaultAgreementType
	}
	if s.UserRole == "" {
		s.UserRole = DefaultUserRole
	}
	if s.RiskTolerance == "" {
		s.RiskTolerance = DefaultRiskTolerance
	}
	return s
}

// Job represents one playbook generation request and its state
type Job struct {
	ID string `json:"id"`
	JobSpec
	Status         JobStatus `json:"status"`
	Progress       int       `json:"progress"`
	Message        string    `json:"message"`
	Result         *Analysis `json:"result,omitempty"`
	Error          string    `json:"error,omitempty"`
	InputKey       string    `json:"input_key,omitempty"`
	OutputKey      string    `json:"output_key,omitempty"`
	OutputFilename string    `json:"output_filename,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// JobPatch is a partial update. Nil fields are left untouched.
type JobPatch struct {
	Status         *JobStatus
	Progress       *int
	Message        *string
	Result         *Analysis
	Error          *string
	InputKey       *string
	OutputKey      *string
	OutputFilename *string
}

// JobStatusView is the read-only projection served to pollers
type JobStatusView struct {
	ID       string    `json:"id"`
	Status   JobStatus `json:"status"`
	Progress int       `json:"progress"`
	Message  string    `json:"message"`
	Error    string    `json:"error,omitempty"`
}

// StatusView projects the job for polling clients
func (j *Job) StatusView() JobStatusView {
	return JobStatusView{
		ID:       j.ID,
		Status:   j.Status,
		Progress: j.Progress,
		Message:  j.Message,
		Error:    j.Error,
	}
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
