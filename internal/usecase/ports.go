package usecase

import (
	"context"

	"diagnosis-runner/internal/domain"
)

// Reasoner produces the simulated content of a run: the patient profile, the
// patient's replies and the verdict on the service diagnosis.
type Reasoner interface {
	SynthesizeProfile(ctx context.Context, disease domain.Disease) (domain.Profile, error)
	RespondAsPatient(ctx context.Context, profile domain.Profile, question string) (string, error)
	AnalyzeMatch(ctx context.Context, reply, expectedDisease string) (domain.MatchResult, error)
}

// DiagnosticChannel is the remote service the simulated patient talks to.
// Send blocks until the complete reply is assembled.
type DiagnosticChannel interface {
	Send(ctx context.Context, sessionID, message string, patientInfo map[string]any) (string, error)
}

// TurnAppender persists conversation turns.
type TurnAppender interface {
	AppendTurn(ctx context.Context, turn domain.Turn) error
}

// Ledger is the durable store of executions, steps and turns. Lookups return
// domain.ErrNotFound for missing records. Writes for one execution must be
// visible to the next read of that execution.
type Ledger interface {
	TurnAppender

	GetDisease(ctx context.Context, diseaseID string) (domain.Disease, error)

	CreateExecution(ctx context.Context, exec domain.Execution) error
	SaveExecution(ctx context.Context, exec domain.Execution) error
	GetExecution(ctx context.Context, executionID string) (domain.Execution, error)

	CountSteps(ctx context.Context, executionID string) (int, error)
	CreateStep(ctx context.Context, step domain.Step) error
	SaveStep(ctx context.Context, step domain.Step) error
	ListSteps(ctx context.Context, executionID string) ([]domain.Step, error)

	LatestServiceTurn(ctx context.Context, executionID string) (domain.Turn, error)
	ListTurns(ctx context.Context, executionID string) ([]domain.Turn, error)
}
