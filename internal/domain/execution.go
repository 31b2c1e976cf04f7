package domain

import (
	"errors"
	"time"
)

// ErrNotFound is returned by storage lookups when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// Status is the lifecycle state shared by executions and steps.
// FAILED is reserved for "completed but incorrect" outcomes and is never set by the runner today.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusError   Status = "ERROR"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusError
}

// StepName identifies one stage of the diagnostic pipeline.
type StepName string

const (
	StepProfileSynthesis StepName = "profile-synthesis"
	StepDialog           StepName = "dialog"
	StepResultAnalysis   StepName = "result-analysis"
)

// Role identifies the speaker of a conversation turn.
type Role string

const (
	RolePatient Role = "patient"
	RoleService Role = "service"
)

// Payload is a structured JSON-compatible document.
type Payload map[string]any

// Execution is one end-to-end diagnostic simulation run.
type Execution struct {
	ID           string     `json:"executionId"`
	DiseaseID    string     `json:"diseaseId"`
	DiseaseName  string     `json:"diseaseName"`
	Status       Status     `json:"status"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	Result       Payload    `json:"result,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// Step is the durable record of one pipeline stage attempt.
type Step struct {
	ExecutionID  string     `json:"executionId"`
	Name         StepName   `json:"stepName"`
	Order        int        `json:"stepOrder"`
	Status       Status     `json:"status"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	Input        Payload    `json:"inputData,omitempty"`
	Output       Payload    `json:"outputData,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// Turn is a single utterance within a dialog round.
type Turn struct {
	ExecutionID string    `json:"executionId"`
	Round       int       `json:"round"`
	Role        Role      `json:"role"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// ExecutionDetail aggregates an execution with its ordered steps and turns.
type ExecutionDetail struct {
	Execution Execution `json:"execution"`
	Steps     []Step    `json:"steps"`
	Turns     []Turn    `json:"dialogs"`
}
