package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"diagnosis-runner/internal/domain"
	"diagnosis-runner/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"

	startPath     = "/diagnosis/start"
	executionPath = "/diagnosis/execution/"
)

// UseCase is the orchestrator surface exposed over HTTP.
type UseCase interface {
	Run(ctx context.Context, in usecase.RunInput) (usecase.RunOutput, error)
	GetExecutionDetail(ctx context.Context, executionID string) (domain.ExecutionDetail, error)
}

type Handler struct {
	uc     UseCase
	logger *slog.Logger
}

type startRequest struct {
	DiseaseID string `json:"diseaseId"`
	MaxRounds int    `json:"maxRounds"`
}

type startResponse struct {
	ExecutionID string `json:"executionId"`
	DiseaseName string `json:"diseaseName"`
	Status      string `json:"status"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Reason      string `json:"reason,omitempty"`
	ExecutionID string `json:"executionId,omitempty"`
}

type stepView struct {
	Name         string         `json:"stepName"`
	Order        int            `json:"stepOrder"`
	Status       string         `json:"status"`
	StartTime    time.Time      `json:"startTime"`
	EndTime      *time.Time     `json:"endTime,omitempty"`
	Input        domain.Payload `json:"inputData,omitempty"`
	Output       domain.Payload `json:"outputData,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

type turnView struct {
	Round     int       `json:"round"`
	Role      string    `json:"role"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type executionResponse struct {
	ExecutionID  string         `json:"executionId"`
	DiseaseID    string         `json:"diseaseId"`
	DiseaseName  string         `json:"diseaseName"`
	Status       string         `json:"status"`
	StartTime    time.Time      `json:"startTime"`
	EndTime      *time.Time     `json:"endTime,omitempty"`
	Result       domain.Payload `json:"result,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Steps        []stepView     `json:"steps"`
	Dialogs      []turnView     `json:"dialogs"`
}

func NewHandler(uc UseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc, logger: slog.Default()}, nil
}

// Handle routes API Gateway proxy events to the orchestrator.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)
	log := h.logger.With("correlation_id", corrID, "method", event.HTTPMethod, "path", event.Path)

	switch {
	case event.HTTPMethod == http.MethodPost && strings.TrimRight(event.Path, "/") == startPath:
		return h.start(ctx, log, corrID, event.Body), nil
	case event.HTTPMethod == http.MethodGet && strings.HasPrefix(event.Path, executionPath):
		id := event.PathParameters["executionId"]
		if id == "" {
			id = strings.TrimPrefix(event.Path, executionPath)
		}
		return h.detail(ctx, log, corrID, id), nil
	}
	log.Warn("no route")
	return jsonResponse(http.StatusNotFound, corrID, errorResponse{Error: string(usecase.ErrorNotFound), Reason: "route_not_found"}), nil
}

func (h *Handler) start(ctx context.Context, log *slog.Logger, corrID, body string) events.APIGatewayProxyResponse {
	var req startRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		log.Warn("invalid request body", "err", err)
		return jsonResponse(http.StatusBadRequest, corrID, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_json"})
	}

	out, err := h.uc.Run(ctx, usecase.RunInput{DiseaseID: req.DiseaseID, MaxRounds: req.MaxRounds})
	if err != nil {
		status, resp := mapError(err)
		resp.ExecutionID = out.ExecutionID
		log.Error("run failed", "execution_id", out.ExecutionID, "status", status, "err", err)
		return jsonResponse(status, corrID, resp)
	}
	log.Info("run finished", "execution_id", out.ExecutionID)
	return jsonResponse(http.StatusOK, corrID, startResponse{
		ExecutionID: out.ExecutionID,
		DiseaseName: out.DiseaseName,
		Status:      string(out.Status),
	})
}

func (h *Handler) detail(ctx context.Context, log *slog.Logger, corrID, executionID string) events.APIGatewayProxyResponse {
	d, err := h.uc.GetExecutionDetail(ctx, executionID)
	if err != nil {
		status, resp := mapError(err)
		log.Warn("detail failed", "execution_id", executionID, "status", status, "err", err)
		return jsonResponse(status, corrID, resp)
	}
	return jsonResponse(http.StatusOK, corrID, toExecutionResponse(d))
}

func toExecutionResponse(d domain.ExecutionDetail) executionResponse {
	out := executionResponse{
		ExecutionID:  d.Execution.ID,
		DiseaseID:    d.Execution.DiseaseID,
		DiseaseName:  d.Execution.DiseaseName,
		Status:       string(d.Execution.Status),
		StartTime:    d.Execution.StartTime,
		EndTime:      d.Execution.EndTime,
		Result:       d.Execution.Result,
		ErrorMessage: d.Execution.ErrorMessage,
		Steps:        make([]stepView, 0, len(d.Steps)),
		Dialogs:      make([]turnView, 0, len(d.Turns)),
	}
	for _, s := range d.Steps {
		out.Steps = append(out.Steps, stepView{
			Name:         string(s.Name),
			Order:        s.Order,
			Status:       string(s.Status),
			StartTime:    s.StartTime,
			EndTime:      s.EndTime,
			Input:        s.Input,
			Output:       s.Output,
			ErrorMessage: s.ErrorMessage,
		})
	}
	for _, t := range d.Turns {
		out.Dialogs = append(out.Dialogs, turnView{
			Round:     t.Round,
			Role:      string(t.Role),
			Message:   t.Message,
			Timestamp: t.Timestamp,
		})
	}
	return out
}

func mapError(err error) (int, errorResponse) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}
	}
	resp := errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}
	switch ucErr.Code {
	case usecase.ErrorNotFound:
		return http.StatusNotFound, resp
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, resp
	case usecase.ErrorChannel, usecase.ErrorCapability:
		return http.StatusBadGateway, resp
	default:
		return http.StatusInternalServerError, resp
	}
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return uuid.NewString()
}

func jsonResponse(status int, corrID string, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(raw),
	}
}
