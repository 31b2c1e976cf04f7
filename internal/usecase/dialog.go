package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"diagnosis-runner/internal/domain"
)

const (
	// OpeningLine is the patient's first message in every dialog.
	OpeningLine = "医生您好，我感觉身体不太舒服，想咨询一下。"

	dialogStatusCompleted = "completed"
	sessionPrefix         = "session_"
)

// diagnosisKeywords end the dialog when any of them appears in a service reply.
// Plain substring matching can fire on a clarifying question; whether the
// analyzer should decide termination instead is still open.
var diagnosisKeywords = []string{"诊断", "考虑", "可能是", "建议"}

func containsDiagnosis(reply string) bool {
	for _, kw := range diagnosisKeywords {
		if strings.Contains(reply, kw) {
			return true
		}
	}
	return false
}

// DialogEngine runs the bounded patient/service round loop of one execution.
// It assumes it is the only writer of turns for that execution.
type DialogEngine struct {
	turns    TurnAppender
	reasoner Reasoner
	channel  DiagnosticChannel
	logger   *slog.Logger
	now      func() time.Time

	// patientFallback replaces a failed patient reply. Empty means the failure is returned.
	patientFallback string
}

// NewDialogEngine creates a DialogEngine. A nil logger uses slog.Default.
func NewDialogEngine(turns TurnAppender, reasoner Reasoner, channel DiagnosticChannel, logger *slog.Logger) (*DialogEngine, error) {
	if turns == nil {
		return nil, errors.New("usecase: turn store must not be nil")
	}
	if reasoner == nil {
		return nil, errors.New("usecase: reasoner must not be nil")
	}
	if channel == nil {
		return nil, errors.New("usecase: diagnostic channel must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DialogEngine{
		turns:           turns,
		reasoner:        reasoner,
		channel:         channel,
		logger:          logger,
		now:             time.Now,
		patientFallback: FallbackPatientReply,
	}, nil
}

// SessionID is the remote session used for an execution's dialog.
func SessionID(executionID string) string {
	return sessionPrefix + executionID
}

// Run plays up to maxRounds rounds. It stops early after a reply containing a
// diagnosis keyword, or before a round that has no recorded service turn to
// answer. A blank reply is still a recorded turn and the dialog goes on.
// Every non-error exit reports status "completed" with the rounds finished.
func (e *DialogEngine) Run(ctx context.Context, exec domain.Execution, disease domain.Disease, profile domain.Profile, maxRounds int) (domain.DialogSummary, error) {
	if maxRounds < 1 {
		return domain.DialogSummary{}, newError(ErrorInvalidInput, "max_rounds_not_positive", nil)
	}
	sessionID := SessionID(exec.ID)
	log := e.logger.With("execution_id", exec.ID, "disease", disease.Name)

	var (
		lastReply string
		haveReply bool
		completed int
	)
	for round := 1; round <= maxRounds; round++ {
		log.Info("dialog round", "round", round, "max_rounds", maxRounds)

		message := OpeningLine
		if round > 1 {
			if !haveReply {
				log.Warn("no service reply to answer, ending dialog", "round", round)
				break
			}
			reply, err := e.patientReply(ctx, profile, lastReply)
			if err != nil {
				return domain.DialogSummary{}, err
			}
			message = reply
		}

		if err := e.appendTurn(ctx, exec.ID, round, domain.RolePatient, message); err != nil {
			return domain.DialogSummary{}, err
		}

		// The profile rides along only on the first round; later rounds rely on the remote session.
		var patientInfo map[string]any
		if round == 1 {
			patientInfo = profile
		}
		reply, err := e.channel.Send(ctx, sessionID, message, patientInfo)
		if err != nil {
			return domain.DialogSummary{}, newError(ErrorChannel, "diagnostic_channel_error", err)
		}

		if err := e.appendTurn(ctx, exec.ID, round, domain.RoleService, reply); err != nil {
			return domain.DialogSummary{}, err
		}
		completed = round
		lastReply = reply
		haveReply = true

		if containsDiagnosis(reply) {
			log.Info("diagnosis detected, ending dialog", "round", round)
			break
		}
	}
	return domain.DialogSummary{TotalRounds: completed, Status: dialogStatusCompleted}, nil
}

func (e *DialogEngine) patientReply(ctx context.Context, profile domain.Profile, question string) (string, error) {
	reply, err := e.reasoner.RespondAsPatient(ctx, profile, question)
	if err == nil {
		return reply, nil
	}
	if e.patientFallback == "" {
		return "", newError(ErrorCapability, "patient_reply_error", err)
	}
	e.logger.Warn("patient reply failed, using fallback", "err", err)
	return e.patientFallback, nil
}

func (e *DialogEngine) appendTurn(ctx context.Context, executionID string, round int, role domain.Role, message string) error {
	err := e.turns.AppendTurn(ctx, domain.Turn{
		ExecutionID: executionID,
		Round:       round,
		Role:        role,
		Message:     message,
		Timestamp:   e.now(),
	})
	if err != nil {
		return newError(ErrorInternal, "ledger_turn_write_error", err)
	}
	return nil
}
