package repository

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"diagnosis-runner/internal/domain"
)

// Speaker ranks keep the patient turn of a round sorted before the service turn.
var roleRank = map[domain.Role]int{
	domain.RolePatient: 1,
	domain.RoleService: 2,
}

func diseasePK(diseaseID string) string {
	return "DISEASE#" + diseaseID
}

func execPK(executionID string) string {
	return "EXEC#" + executionID
}

// stepSK zero pads the order so lexical key order matches numeric order.
func stepSK(order int) string {
	return fmt.Sprintf("%s%04d", skPrefixStep, order)
}

func turnSK(round int, role domain.Role) string {
	return fmt.Sprintf("%s%06d#%d", skPrefixTurn, round, roleRank[role])
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func executionItem(exec domain.Execution) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: execPK(exec.ID)},
		"SK":          &types.AttributeValueMemberS{Value: skMeta},
		"executionId": &types.AttributeValueMemberS{Value: exec.ID},
		"diseaseId":   &types.AttributeValueMemberS{Value: exec.DiseaseID},
		"diseaseName": &types.AttributeValueMemberS{Value: exec.DiseaseName},
		"status":      &types.AttributeValueMemberS{Value: string(exec.Status)},
		"startTime":   &types.AttributeValueMemberS{Value: formatTime(exec.StartTime)},
	}
	if exec.EndTime != nil {
		item["endTime"] = &types.AttributeValueMemberS{Value: formatTime(*exec.EndTime)}
	}
	if exec.ErrorMessage != "" {
		item["errorMessage"] = &types.AttributeValueMemberS{Value: exec.ErrorMessage}
	}
	if err := putPayload(item, "result", exec.Result); err != nil {
		return nil, err
	}
	return item, nil
}

func itemToExecution(item map[string]types.AttributeValue) (domain.Execution, error) {
	id, err := strAttr(item, "executionId")
	if err != nil {
		return domain.Execution{}, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.Execution{}, err
	}
	start, err := timeAttr(item, "startTime")
	if err != nil {
		return domain.Execution{}, err
	}
	end, err := optionalTimeAttr(item, "endTime")
	if err != nil {
		return domain.Execution{}, err
	}
	result, err := payloadAttr(item, "result")
	if err != nil {
		return domain.Execution{}, err
	}
	diseaseID, _ := strAttr(item, "diseaseId")
	diseaseName, _ := strAttr(item, "diseaseName")
	errMsg, _ := strAttr(item, "errorMessage")

	return domain.Execution{
		ID:           id,
		DiseaseID:    diseaseID,
		DiseaseName:  diseaseName,
		Status:       domain.Status(status),
		StartTime:    start,
		EndTime:      end,
		Result:       result,
		ErrorMessage: errMsg,
	}, nil
}

func stepItem(step domain.Step) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: execPK(step.ExecutionID)},
		"SK":          &types.AttributeValueMemberS{Value: stepSK(step.Order)},
		"executionId": &types.AttributeValueMemberS{Value: step.ExecutionID},
		"name":        &types.AttributeValueMemberS{Value: string(step.Name)},
		"order":       &types.AttributeValueMemberN{Value: strconv.Itoa(step.Order)},
		"status":      &types.AttributeValueMemberS{Value: string(step.Status)},
		"startTime":   &types.AttributeValueMemberS{Value: formatTime(step.StartTime)},
	}
	if step.EndTime != nil {
		item["endTime"] = &types.AttributeValueMemberS{Value: formatTime(*step.EndTime)}
	}
	if step.ErrorMessage != "" {
		item["errorMessage"] = &types.AttributeValueMemberS{Value: step.ErrorMessage}
	}
	if err := putPayload(item, "input", step.Input); err != nil {
		return nil, err
	}
	if err := putPayload(item, "output", step.Output); err != nil {
		return nil, err
	}
	return item, nil
}

func itemToStep(item map[string]types.AttributeValue) (domain.Step, error) {
	execID, err := strAttr(item, "executionId")
	if err != nil {
		return domain.Step{}, err
	}
	name, err := strAttr(item, "name")
	if err != nil {
		return domain.Step{}, err
	}
	order, err := intAttr(item, "order")
	if err != nil {
		return domain.Step{}, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.Step{}, err
	}
	start, err := timeAttr(item, "startTime")
	if err != nil {
		return domain.Step{}, err
	}
	end, err := optionalTimeAttr(item, "endTime")
	if err != nil {
		return domain.Step{}, err
	}
	input, err := payloadAttr(item, "input")
	if err != nil {
		return domain.Step{}, err
	}
	output, err := payloadAttr(item, "output")
	if err != nil {
		return domain.Step{}, err
	}
	errMsg, _ := strAttr(item, "errorMessage")

	return domain.Step{
		ExecutionID:  execID,
		Name:         domain.StepName(name),
		Order:        order,
		Status:       domain.Status(status),
		StartTime:    start,
		EndTime:      end,
		Input:        input,
		Output:       output,
		ErrorMessage: errMsg,
	}, nil
}

func turnItem(turn domain.Turn) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: execPK(turn.ExecutionID)},
		"SK":          &types.AttributeValueMemberS{Value: turnSK(turn.Round, turn.Role)},
		"executionId": &types.AttributeValueMemberS{Value: turn.ExecutionID},
		"round":       &types.AttributeValueMemberN{Value: strconv.Itoa(turn.Round)},
		"role":        &types.AttributeValueMemberS{Value: string(turn.Role)},
		"message":     &types.AttributeValueMemberS{Value: turn.Message},
		"timestamp":   &types.AttributeValueMemberS{Value: formatTime(turn.Timestamp)},
	}
}

func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	execID, err := strAttr(item, "executionId")
	if err != nil {
		return domain.Turn{}, err
	}
	round, err := intAttr(item, "round")
	if err != nil {
		return domain.Turn{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	message, err := strAttr(item, "message")
	if err != nil {
		return domain.Turn{}, err
	}
	ts, err := timeAttr(item, "timestamp")
	if err != nil {
		return domain.Turn{}, err
	}
	return domain.Turn{
		ExecutionID: execID,
		Round:       round,
		Role:        domain.Role(role),
		Message:     message,
		Timestamp:   ts,
	}, nil
}

func itemToDisease(item map[string]types.AttributeValue) (domain.Disease, error) {
	id, err := strAttr(item, "diseaseId")
	if err != nil {
		return domain.Disease{}, err
	}
	name, err := strAttr(item, "name")
	if err != nil {
		return domain.Disease{}, err
	}
	description, _ := strAttr(item, "description")
	department, _ := strAttr(item, "department")

	var symptoms []string
	if v, ok := item["symptoms"]; ok {
		list, ok := v.(*types.AttributeValueMemberL)
		if !ok {
			return domain.Disease{}, fmt.Errorf("repository: attribute %q is not a list", "symptoms")
		}
		for _, el := range list.Value {
			s, ok := el.(*types.AttributeValueMemberS)
			if !ok {
				return domain.Disease{}, fmt.Errorf("repository: attribute %q holds a non-string", "symptoms")
			}
			symptoms = append(symptoms, s.Value)
		}
	}

	return domain.Disease{
		ID:          id,
		Name:        name,
		Description: description,
		Department:  department,
		Symptoms:    symptoms,
	}, nil
}

// putPayload stores p as a JSON string attribute. Nil payloads are omitted.
func putPayload(item map[string]types.AttributeValue, key string, p domain.Payload) error {
	if p == nil {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	item[key] = &types.AttributeValueMemberS{Value: string(raw)}
	return nil
}

func payloadAttr(item map[string]types.AttributeValue, key string) (domain.Payload, error) {
	if _, ok := item[key]; !ok {
		return nil, nil
	}
	raw, err := strAttr(item, key)
	if err != nil {
		return nil, err
	}
	var p domain.Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("repository: decode attribute %q: %w", key, err)
	}
	return p, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}

func optionalTimeAttr(item map[string]types.AttributeValue, key string) (*time.Time, error) {
	if _, ok := item[key]; !ok {
		return nil, nil
	}
	t, err := timeAttr(item, key)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
