// Package bootstrap assembles the orchestrator from AWS clients and process configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"diagnosis-runner/internal/integrations/doctor"
	"diagnosis-runner/internal/integrations/openai"
	"diagnosis-runner/internal/integrations/paramstore"
	"diagnosis-runner/internal/reasoning"
	"diagnosis-runner/internal/repository"
	"diagnosis-runner/internal/usecase"
)

type Config struct {
	LedgerTable    string
	ParamPrefix    string
	DoctorBaseURL  string
	DoctorTimeout  time.Duration
	DoctorTokenTTL time.Duration
	OpenAIBaseURL  string

	DefaultMaxRounds int
	MaxRoundsLimit   int

	// AgentsFile, when set, replaces the <prefix>/agents parameter.
	AgentsFile string
}

func (c Config) validate() error {
	if strings.TrimSpace(c.LedgerTable) == "" {
		return errors.New("bootstrap: ledger table is required")
	}
	if strings.TrimSpace(c.ParamPrefix) == "" {
		return errors.New("bootstrap: parameter prefix is required")
	}
	return nil
}

func (c Config) param(name string) string {
	return strings.TrimRight(c.ParamPrefix, "/") + "/" + name
}

// NewRunner wires the ledger, reasoning capability and doctor channel into a usecase.Runner.
func NewRunner(ctx context.Context, awsCfg aws.Config, cfg Config, logger *slog.Logger) (*usecase.Runner, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create parameter store client: %w", err)
	}
	ledger, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.LedgerTable)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create ledger: %w", err)
	}

	llm, err := openai.NewClient(params, cfg.ParamPrefix, openai.WithBaseURL(cfg.OpenAIBaseURL))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create openai client: %w", err)
	}
	capability, err := reasoning.New(llm,
		reasoning.WithConfigSource(agentsSource(params, cfg)),
		reasoning.WithLogger(logger.With("component", "reasoning")),
	)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create reasoning capability: %w", err)
	}

	channel, err := newDoctorChannel(ctx, params, cfg)
	if err != nil {
		return nil, err
	}

	runner, err := usecase.NewRunner(ledger, capability, channel,
		usecase.WithLogger(logger),
		usecase.WithMaxRounds(cfg.DefaultMaxRounds, cfg.MaxRoundsLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create runner: %w", err)
	}
	return runner, nil
}

func newDoctorChannel(ctx context.Context, params paramstore.Getter, cfg Config) (*doctor.Client, error) {
	baseURL := strings.TrimSpace(cfg.DoctorBaseURL)
	if baseURL == "" {
		baseURL = doctor.DefaultBaseURL
	}
	creds := func(ctx context.Context) (doctor.Credentials, error) {
		var c doctor.Credentials
		if err := paramstore.GetJSON(ctx, params, cfg.param("doctor-credentials"), &c); err != nil {
			return doctor.Credentials{}, err
		}
		return c, nil
	}
	tokens, err := doctor.NewTokenSource(context.WithoutCancel(ctx), baseURL, nil, creds, cfg.DoctorTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create doctor token source: %w", err)
	}
	channel, err := doctor.NewClient(tokens, doctor.WithBaseURL(baseURL), doctor.WithTimeout(cfg.DoctorTimeout))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create doctor client: %w", err)
	}
	return channel, nil
}

// agentsSource reads agent definitions from AgentsFile or the parameter store.
// A missing parameter selects the built-in defaults.
func agentsSource(params paramstore.Getter, cfg Config) reasoning.ConfigSource {
	if path := strings.TrimSpace(cfg.AgentsFile); path != "" {
		return func(context.Context) ([]byte, error) {
			return os.ReadFile(path)
		}
	}
	name := cfg.param("agents")
	return func(ctx context.Context) ([]byte, error) {
		raw, err := params.GetParameter(ctx, name)
		if paramstore.IsParameterNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []byte(raw), nil
	}
}
