package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"diagnosis-runner/internal/domain"
)

const (
	DefaultMaxRounds = 10
	MaxRoundsLimit   = 50

	executionIDPrefix = "test_"
)

// newExecutionID is replaced in tests.
var newExecutionID = func() string {
	return executionIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

type RunInput struct {
	DiseaseID string
	// MaxRounds of zero selects the configured default.
	MaxRounds int
}

type RunOutput struct {
	ExecutionID string
	DiseaseName string
	Status      domain.Status
}

// Runner drives one execution through profile synthesis, dialog and result
// analysis, recording every stage in the ledger.
type Runner struct {
	ledger   Ledger
	reasoner Reasoner
	dialog   *DialogEngine
	logger   *slog.Logger
	now      func() time.Time

	defaultMaxRounds int
	maxRoundsLimit   int
}

type Option func(*Runner)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithMaxRounds overrides the default round budget and its upper bound. Non-positive values are ignored.
func WithMaxRounds(defaultRounds, limit int) Option {
	return func(r *Runner) {
		if defaultRounds > 0 {
			r.defaultMaxRounds = defaultRounds
		}
		if limit > 0 {
			r.maxRoundsLimit = limit
		}
	}
}

// WithPatientFallback sets the reply used when the patient reply cannot be
// generated. An empty reply turns such failures into errors.
func WithPatientFallback(reply string) Option {
	return func(r *Runner) {
		r.dialog.patientFallback = reply
	}
}

func NewRunner(ledger Ledger, reasoner Reasoner, channel DiagnosticChannel, opts ...Option) (*Runner, error) {
	if ledger == nil {
		return nil, errors.New("usecase: ledger must not be nil")
	}
	dialog, err := NewDialogEngine(ledger, reasoner, channel, nil)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		ledger:           ledger,
		reasoner:         reasoner,
		dialog:           dialog,
		logger:           slog.Default(),
		now:              time.Now,
		defaultMaxRounds: DefaultMaxRounds,
		maxRoundsLimit:   MaxRoundsLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.defaultMaxRounds > r.maxRoundsLimit {
		return nil, errors.New("usecase: default max rounds exceeds the limit")
	}
	r.dialog.logger = r.logger
	r.dialog.now = r.now
	return r, nil
}

// Run executes the whole pipeline synchronously. Once the execution record
// exists its id is returned, also alongside an error.
func (r *Runner) Run(ctx context.Context, in RunInput) (RunOutput, error) {
	diseaseID := strings.TrimSpace(in.DiseaseID)
	if diseaseID == "" {
		return RunOutput{}, newError(ErrorInvalidInput, "empty_disease_id", nil)
	}
	maxRounds := in.MaxRounds
	if maxRounds == 0 {
		maxRounds = r.defaultMaxRounds
	}
	if maxRounds < 1 || maxRounds > r.maxRoundsLimit {
		return RunOutput{}, newError(ErrorInvalidInput, "max_rounds_out_of_range", nil)
	}

	disease, err := r.ledger.GetDisease(ctx, diseaseID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return RunOutput{}, newError(ErrorNotFound, "disease_not_found", err)
		}
		return RunOutput{}, newError(ErrorInternal, "ledger_disease_read_error", err)
	}

	exec := domain.Execution{
		ID:          newExecutionID(),
		DiseaseID:   disease.ID,
		DiseaseName: disease.Name,
		Status:      domain.StatusRunning,
		StartTime:   r.now(),
	}
	if err := r.ledger.CreateExecution(ctx, exec); err != nil {
		return RunOutput{}, newError(ErrorInternal, "ledger_execution_create_error", err)
	}
	log := r.logger.With("execution_id", exec.ID, "disease_id", disease.ID)
	log.Info("execution started", "disease", disease.Name, "max_rounds", maxRounds)

	out := RunOutput{ExecutionID: exec.ID, DiseaseName: disease.Name, Status: domain.StatusRunning}

	result, runErr := r.pipeline(ctx, exec, disease, maxRounds)
	end := r.now()
	exec.EndTime = &end
	if runErr != nil {
		exec.Status = domain.StatusError
		exec.ErrorMessage = errorMessage(runErr)
		log.Error("execution failed", "err", runErr)
		if err := r.ledger.SaveExecution(context.WithoutCancel(ctx), exec); err != nil {
			log.Error("record execution failure", "err", err)
		}
		out.Status = exec.Status
		return out, runErr
	}

	exec.Status = domain.StatusSuccess
	exec.Result = result
	if err := r.ledger.SaveExecution(ctx, exec); err != nil {
		saveErr := newError(ErrorInternal, "ledger_execution_save_error", err)
		log.Error("record execution success", "err", err)
		exec.Status = domain.StatusError
		exec.Result = nil
		exec.ErrorMessage = errorMessage(saveErr)
		if err := r.ledger.SaveExecution(context.WithoutCancel(ctx), exec); err != nil {
			log.Error("record execution failure", "err", err)
		}
		out.Status = domain.StatusError
		return out, saveErr
	}
	log.Info("execution succeeded")
	out.Status = exec.Status
	return out, nil
}

func (r *Runner) pipeline(ctx context.Context, exec domain.Execution, disease domain.Disease, maxRounds int) (domain.Payload, error) {
	profile, err := runStep(ctx, r, exec, domain.StepProfileSynthesis,
		domain.Payload{"disease_id": disease.ID, "disease_name": disease.Name},
		func(ctx context.Context) (domain.Profile, error) {
			p, err := r.reasoner.SynthesizeProfile(ctx, disease)
			if err != nil {
				r.logger.Warn("profile synthesis failed, using fallback", "execution_id", exec.ID, "err", err)
				return fallbackProfile(disease), nil
			}
			return p, nil
		})
	if err != nil {
		return nil, err
	}

	summary, err := runStep(ctx, r, exec, domain.StepDialog,
		domain.Payload{"max_rounds": maxRounds},
		func(ctx context.Context) (domain.DialogSummary, error) {
			return r.dialog.Run(ctx, exec, disease, profile, maxRounds)
		})
	if err != nil {
		return nil, err
	}
	result := domain.Payload{"dialog": normalizePayload(summary)}

	last, err := r.ledger.LatestServiceTurn(ctx, exec.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		r.logger.Warn("no service reply recorded, skipping analysis", "execution_id", exec.ID)
		return result, nil
	case err != nil:
		return nil, newError(ErrorInternal, "ledger_turn_read_error", err)
	}

	match, err := runStep(ctx, r, exec, domain.StepResultAnalysis,
		domain.Payload{"doctor_response": last.Message, "expected_disease": disease.Name},
		func(ctx context.Context) (domain.MatchResult, error) {
			m, err := r.reasoner.AnalyzeMatch(ctx, last.Message, disease.Name)
			if err != nil {
				r.logger.Warn("result analysis failed, using fallback", "execution_id", exec.ID, "err", err)
				return fallbackMatch(err), nil
			}
			return m, nil
		})
	if err != nil {
		return nil, err
	}
	result["analysis"] = normalizePayload(match)
	return result, nil
}

// GetExecutionDetail returns the execution with its steps in order index
// order and its turns in round order, patient before service.
func (r *Runner) GetExecutionDetail(ctx context.Context, executionID string) (domain.ExecutionDetail, error) {
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return domain.ExecutionDetail{}, newError(ErrorInvalidInput, "empty_execution_id", nil)
	}
	exec, err := r.ledger.GetExecution(ctx, executionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ExecutionDetail{}, newError(ErrorNotFound, "execution_not_found", err)
		}
		return domain.ExecutionDetail{}, newError(ErrorInternal, "ledger_execution_read_error", err)
	}
	steps, err := r.ledger.ListSteps(ctx, executionID)
	if err != nil {
		return domain.ExecutionDetail{}, newError(ErrorInternal, "ledger_step_list_error", err)
	}
	turns, err := r.ledger.ListTurns(ctx, executionID)
	if err != nil {
		return domain.ExecutionDetail{}, newError(ErrorInternal, "ledger_turn_list_error", err)
	}

	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	sort.SliceStable(turns, func(i, j int) bool {
		if turns[i].Round != turns[j].Round {
			return turns[i].Round < turns[j].Round
		}
		return turns[i].Role == domain.RolePatient && turns[j].Role != domain.RolePatient
	})
	return domain.ExecutionDetail{Execution: exec, Steps: steps, Turns: turns}, nil
}
