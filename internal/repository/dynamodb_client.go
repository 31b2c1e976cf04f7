package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"diagnosis-runner/internal/domain"
)

const (
	skMeta       = "META#"
	skPrefixStep = "STEP#"
	skPrefixTurn = "TURN#"

	condNotExists = "attribute_not_exists(PK) AND attribute_not_exists(SK)"
	condExists    = "attribute_exists(PK) AND attribute_exists(SK)"
)

// ErrConflict is returned when a conditional write finds the record already present.
var ErrConflict = errors.New("record already exists")

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client is the execution ledger backed by a single DynamoDB table.
// All reads are strongly consistent so a write is visible to the next read of
// the same execution. Concurrent writers to one execution are not supported.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// GetDisease loads a catalog disease. Returns domain.ErrNotFound when absent.
func (c *Client) GetDisease(ctx context.Context, diseaseID string) (domain.Disease, error) {
	item, err := c.getItem(ctx, diseasePK(diseaseID), skMeta)
	if err != nil {
		return domain.Disease{}, fmt.Errorf("repository: GetDisease: %w", err)
	}
	d, err := itemToDisease(item)
	if err != nil {
		return domain.Disease{}, fmt.Errorf("repository: GetDisease decode: %w", err)
	}
	return d, nil
}

// CreateExecution inserts a new execution record. Returns ErrConflict if the id is taken.
func (c *Client) CreateExecution(ctx context.Context, exec domain.Execution) error {
	if strings.TrimSpace(exec.ID) == "" {
		return errors.New("repository: CreateExecution: execution id is required")
	}
	item, err := executionItem(exec)
	if err != nil {
		return fmt.Errorf("repository: CreateExecution: %w", err)
	}
	if err := c.putItem(ctx, item, condNotExists); err != nil {
		return fmt.Errorf("repository: CreateExecution: %w", err)
	}
	return nil
}

// SaveExecution replaces an existing execution record.
func (c *Client) SaveExecution(ctx context.Context, exec domain.Execution) error {
	item, err := executionItem(exec)
	if err != nil {
		return fmt.Errorf("repository: SaveExecution: %w", err)
	}
	if err := c.putItem(ctx, item, condExists); err != nil {
		return fmt.Errorf("repository: SaveExecution: %w", err)
	}
	return nil
}

// GetExecution loads an execution record. Returns domain.ErrNotFound when absent.
func (c *Client) GetExecution(ctx context.Context, executionID string) (domain.Execution, error) {
	item, err := c.getItem(ctx, execPK(executionID), skMeta)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("repository: GetExecution: %w", err)
	}
	exec, err := itemToExecution(item)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("repository: GetExecution decode: %w", err)
	}
	return exec, nil
}

// CountSteps returns how many step records exist for an execution.
func (c *Client) CountSteps(ctx context.Context, executionID string) (int, error) {
	total := 0
	var startKey map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: execPK(executionID)},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixStep},
			},
			Select:            types.SelectCount,
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return 0, fmt.Errorf("repository: CountSteps query: %w", err)
		}
		total += int(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// CreateStep inserts a step record. The order is part of the key, so reusing
// an order index for the same execution returns ErrConflict.
func (c *Client) CreateStep(ctx context.Context, step domain.Step) error {
	if step.Order < 1 {
		return errors.New("repository: CreateStep: order must be >= 1")
	}
	item, err := stepItem(step)
	if err != nil {
		return fmt.Errorf("repository: CreateStep: %w", err)
	}
	if err := c.putItem(ctx, item, condNotExists); err != nil {
		return fmt.Errorf("repository: CreateStep: %w", err)
	}
	return nil
}

// SaveStep replaces an existing step record.
func (c *Client) SaveStep(ctx context.Context, step domain.Step) error {
	item, err := stepItem(step)
	if err != nil {
		return fmt.Errorf("repository: SaveStep: %w", err)
	}
	if err := c.putItem(ctx, item, condExists); err != nil {
		return fmt.Errorf("repository: SaveStep: %w", err)
	}
	return nil
}

// ListSteps returns the steps of an execution ordered by order index ascending.
func (c *Client) ListSteps(ctx context.Context, executionID string) ([]domain.Step, error) {
	items, err := c.queryPrefix(ctx, executionID, skPrefixStep)
	if err != nil {
		return nil, fmt.Errorf("repository: ListSteps: %w", err)
	}
	steps := make([]domain.Step, 0, len(items))
	for _, item := range items {
		s, err := itemToStep(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListSteps unmarshal: %w", err)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// AppendTurn persists one conversation turn. A second turn for the same round and role returns ErrConflict.
func (c *Client) AppendTurn(ctx context.Context, turn domain.Turn) error {
	if turn.Round < 1 {
		return errors.New("repository: AppendTurn: round must be >= 1")
	}
	if turn.Role != domain.RolePatient && turn.Role != domain.RoleService {
		return fmt.Errorf("repository: AppendTurn: unknown role %q", turn.Role)
	}
	if err := c.putItem(ctx, turnItem(turn), condNotExists); err != nil {
		return fmt.Errorf("repository: AppendTurn: %w", err)
	}
	return nil
}

// LatestServiceTurn returns the service turn with the highest round, or domain.ErrNotFound.
func (c *Client) LatestServiceTurn(ctx context.Context, executionID string) (domain.Turn, error) {
	var startKey map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			FilterExpression:       aws.String("#role = :role"),
			ExpressionAttributeNames: map[string]string{
				"#role": "role",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: execPK(executionID)},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
				":role":   &types.AttributeValueMemberS{Value: string(domain.RoleService)},
			},
			// Newest round first.
			ScanIndexForward:  aws.Bool(false),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return domain.Turn{}, fmt.Errorf("repository: LatestServiceTurn query: %w", err)
		}
		if len(out.Items) > 0 {
			turn, err := itemToTurn(out.Items[0])
			if err != nil {
				return domain.Turn{}, fmt.Errorf("repository: LatestServiceTurn unmarshal: %w", err)
			}
			return turn, nil
		}
		if len(out.LastEvaluatedKey) == 0 {
			return domain.Turn{}, domain.ErrNotFound
		}
		startKey = out.LastEvaluatedKey
	}
}

// ListTurns returns all turns of an execution ordered by round, patient before service.
func (c *Client) ListTurns(ctx context.Context, executionID string) ([]domain.Turn, error) {
	items, err := c.queryPrefix(ctx, executionID, skPrefixTurn)
	if err != nil {
		return nil, fmt.Errorf("repository: ListTurns: %w", err)
	}
	turns := make([]domain.Turn, 0, len(items))
	for _, item := range items {
		t, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListTurns unmarshal: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (c *Client) getItem(ctx context.Context, pk, sk string) (map[string]types.AttributeValue, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, domain.ErrNotFound
	}
	return out.Item, nil
}

func (c *Client) putItem(ctx context.Context, item map[string]types.AttributeValue, condition string) error {
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String(condition),
	})
	if err == nil {
		return nil
	}
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		if condition == condNotExists {
			return ErrConflict
		}
		return domain.ErrNotFound
	}
	return err
}

// queryPrefix reads every item of an execution whose sort key has prefix, ascending.
func (c *Client) queryPrefix(ctx context.Context, executionID, prefix string) ([]map[string]types.AttributeValue, error) {
	var (
		items    []map[string]types.AttributeValue
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: execPK(executionID)},
				":prefix": &types.AttributeValueMemberS{Value: prefix},
			},
			ScanIndexForward:  aws.Bool(true),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		startKey = out.LastEvaluatedKey
	}
}
