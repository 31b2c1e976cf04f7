package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"diagnosis-runner/internal/domain"
)

type memLedger struct {
	mu         sync.Mutex
	diseases   map[string]domain.Disease
	executions map[string]domain.Execution
	steps      map[string][]domain.Step
	turns      map[string][]domain.Turn

	diseaseErr    error
	createExecErr error
	saveOKErr     error
	appendTurnErr error
	latestErr     error
	saveExecCtxs  []context.Context
}

func newMemLedger(diseases ...domain.Disease) *memLedger {
	l := &memLedger{
		diseases:   map[string]domain.Disease{},
		executions: map[string]domain.Execution{},
		steps:      map[string][]domain.Step{},
		turns:      map[string][]domain.Turn{},
	}
	for _, d := range diseases {
		l.diseases[d.ID] = d
	}
	return l
}

func (l *memLedger) GetDisease(_ context.Context, id string) (domain.Disease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.diseaseErr != nil {
		return domain.Disease{}, l.diseaseErr
	}
	d, ok := l.diseases[id]
	if !ok {
		return domain.Disease{}, domain.ErrNotFound
	}
	return d, nil
}

func (l *memLedger) CreateExecution(_ context.Context, exec domain.Execution) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.createExecErr != nil {
		return l.createExecErr
	}
	if _, ok := l.executions[exec.ID]; ok {
		return fmt.Errorf("execution %s exists", exec.ID)
	}
	l.executions[exec.ID] = exec
	return nil
}

func (l *memLedger) SaveExecution(ctx context.Context, exec domain.Execution) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.saveExecCtxs = append(l.saveExecCtxs, ctx)
	if l.saveOKErr != nil && exec.Status == domain.StatusSuccess {
		return l.saveOKErr
	}
	if _, ok := l.executions[exec.ID]; !ok {
		return domain.ErrNotFound
	}
	l.executions[exec.ID] = exec
	return nil
}

func (l *memLedger) GetExecution(_ context.Context, id string) (domain.Execution, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	exec, ok := l.executions[id]
	if !ok {
		return domain.Execution{}, domain.ErrNotFound
	}
	return exec, nil
}

func (l *memLedger) CountSteps(_ context.Context, id string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.steps[id]), nil
}

func (l *memLedger) CreateStep(_ context.Context, step domain.Step) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.steps[step.ExecutionID] {
		if s.Order == step.Order {
			return fmt.Errorf("step %d exists", step.Order)
		}
	}
	l.steps[step.ExecutionID] = append(l.steps[step.ExecutionID], step)
	return nil
}

func (l *memLedger) SaveStep(_ context.Context, step domain.Step) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	steps := l.steps[step.ExecutionID]
	for i := range steps {
		if steps[i].Order == step.Order {
			steps[i] = step
			return nil
		}
	}
	return domain.ErrNotFound
}

func (l *memLedger) ListSteps(_ context.Context, id string) ([]domain.Step, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := append([]domain.Step(nil), l.steps[id]...)
	// Reverse to prove callers sort.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order > out[j].Order })
	return out, nil
}

func (l *memLedger) AppendTurn(_ context.Context, turn domain.Turn) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.appendTurnErr != nil {
		return l.appendTurnErr
	}
	l.turns[turn.ExecutionID] = append(l.turns[turn.ExecutionID], turn)
	return nil
}

func (l *memLedger) LatestServiceTurn(_ context.Context, id string) (domain.Turn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.latestErr != nil {
		return domain.Turn{}, l.latestErr
	}
	turns := l.turns[id]
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == domain.RoleService {
			return turns[i], nil
		}
	}
	return domain.Turn{}, domain.ErrNotFound
}

func (l *memLedger) ListTurns(_ context.Context, id string) ([]domain.Turn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Turn, 0, len(l.turns[id]))
	for i := len(l.turns[id]) - 1; i >= 0; i-- {
		out = append(out, l.turns[id][i])
	}
	return out, nil
}

func (l *memLedger) stepsOf(id string) []domain.Step {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := append([]domain.Step(nil), l.steps[id]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func (l *memLedger) turnsOf(id string) []domain.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Turn(nil), l.turns[id]...)
}

type stubReasoner struct {
	profile    domain.Profile
	profileErr error

	replies  []string
	replyErr error

	match    domain.MatchResult
	matchErr error

	questions []string
	analyzed  []string
}

func (s *stubReasoner) SynthesizeProfile(context.Context, domain.Disease) (domain.Profile, error) {
	if s.profileErr != nil {
		return nil, s.profileErr
	}
	return s.profile, nil
}

func (s *stubReasoner) RespondAsPatient(_ context.Context, _ domain.Profile, question string) (string, error) {
	s.questions = append(s.questions, question)
	if s.replyErr != nil {
		return "", s.replyErr
	}
	if len(s.replies) == 0 {
		return "还是不舒服", nil
	}
	idx := len(s.questions) - 1
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	return s.replies[idx], nil
}

func (s *stubReasoner) AnalyzeMatch(_ context.Context, reply, expected string) (domain.MatchResult, error) {
	s.analyzed = append(s.analyzed, reply+"|"+expected)
	if s.matchErr != nil {
		return domain.MatchResult{}, s.matchErr
	}
	return s.match, nil
}

type sentMessage struct {
	sessionID   string
	message     string
	patientInfo map[string]any
}

type scriptedChannel struct {
	replies []string
	errAt   int
	err     error
	sent    []sentMessage
}

func (c *scriptedChannel) Send(_ context.Context, sessionID, message string, patientInfo map[string]any) (string, error) {
	c.sent = append(c.sent, sentMessage{sessionID: sessionID, message: message, patientInfo: patientInfo})
	if c.err != nil && len(c.sent) >= c.errAt {
		return "", c.err
	}
	idx := len(c.sent) - 1
	if idx >= len(c.replies) {
		idx = len(c.replies) - 1
	}
	if idx < 0 {
		return "", errors.New("no reply configured")
	}
	return c.replies[idx], nil
}

func fixedClock() func() time.Time {
	t := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}
