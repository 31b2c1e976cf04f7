package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"diagnosis-runner/internal/domain"
)

// runStep is the only way a pipeline stage runs. It derives the next order
// index, records the step as RUNNING, invokes fn, and records the outcome
// before returning it. A failed fn leaves the step in ERROR with its message.
// A typed *Error from fn is returned as is. Any other error is returned as a
// STEP_FAILURE that wraps it, so errors.Is and errors.As still reach the cause.
func runStep[T any](ctx context.Context, r *Runner, exec domain.Execution, name domain.StepName, input domain.Payload, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	count, err := r.ledger.CountSteps(ctx, exec.ID)
	if err != nil {
		return zero, newError(ErrorInternal, "ledger_step_count_error", err)
	}
	step := domain.Step{
		ExecutionID: exec.ID,
		Name:        name,
		Order:       count + 1,
		Status:      domain.StatusRunning,
		StartTime:   r.now(),
		Input:       input,
	}
	if err := r.ledger.CreateStep(ctx, step); err != nil {
		return zero, newError(ErrorInternal, "ledger_step_create_error", err)
	}
	log := r.logger.With("execution_id", exec.ID, "step", string(name), "order", step.Order)
	log.Info("step started")

	out, fnErr := fn(ctx)
	end := r.now()
	step.EndTime = &end

	if fnErr != nil {
		step.Status = domain.StatusError
		step.ErrorMessage = errorMessage(fnErr)
		log.Error("step failed", "err", fnErr)
		if err := r.ledger.SaveStep(context.WithoutCancel(ctx), step); err != nil {
			log.Error("record step failure", "err", err)
		}
		return zero, asStepFailure(name, fnErr)
	}

	step.Status = domain.StatusSuccess
	step.Output = normalizePayload(out)
	if err := r.ledger.SaveStep(ctx, step); err != nil {
		return zero, newError(ErrorInternal, "ledger_step_save_error", err)
	}
	log.Info("step succeeded")
	return out, nil
}

// asStepFailure keeps typed failures as they are and classifies anything else as a step failure.
func asStepFailure(name domain.StepName, err error) error {
	var ucErr *Error
	if errors.As(err, &ucErr) {
		return err
	}
	return newError(ErrorStep, string(name)+"_failed", err)
}

func errorMessage(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fmt.Sprintf("%T", err)
}

// normalizePayload passes JSON objects through and wraps every other value as {"result": "<text>"}.
func normalizePayload(v any) domain.Payload {
	switch p := v.(type) {
	case nil:
		return domain.Payload{}
	case domain.Payload:
		return p
	case map[string]any:
		return domain.Payload(p)
	case domain.Profile:
		return domain.Payload(p)
	case string:
		return domain.Payload{"result": p}
	}

	raw, err := json.Marshal(v)
	if err == nil {
		var obj domain.Payload
		if json.Unmarshal(raw, &obj) == nil && obj != nil {
			return obj
		}
	}
	return domain.Payload{"result": fmt.Sprint(v)}
}
