// Package cli implements diagctl, a command line front end for running
// diagnostic simulations outside the API Gateway request timeout.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"

	"diagnosis-runner/internal/bootstrap"
	"diagnosis-runner/internal/domain"
	"diagnosis-runner/internal/integrations/doctor"
	"diagnosis-runner/internal/usecase"
)

// Service is the orchestrator surface the commands drive.
type Service interface {
	Run(ctx context.Context, in usecase.RunInput) (usecase.RunOutput, error)
	GetExecutionDetail(ctx context.Context, executionID string) (domain.ExecutionDetail, error)
}

// ServiceFactory builds the Service once flags are parsed.
type ServiceFactory func(ctx context.Context, opts *RootOptions) (Service, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	LedgerTable      string
	ParamPrefix      string
	DoctorBaseURL    string
	DoctorTimeout    time.Duration
	DoctorTokenTTL   time.Duration
	OpenAIBaseURL    string
	AgentsFile       string
	DefaultMaxRounds int
	MaxRoundsLimit   int

	NewService ServiceFactory
}

var validFormats = []string{"text", "json"}

// NewRootCommand creates the diagctl root command wired to AWS.
func NewRootCommand() *cobra.Command {
	return newRootCommand(awsService)
}

func newRootCommand(factory ServiceFactory) *cobra.Command {
	opts := &RootOptions{NewService: factory}

	cmd := &cobra.Command{
		Use:   "diagctl",
		Short: "Run and inspect diagnostic simulations",
		Long: `diagctl drives a simulated patient through a conversation with the remote
diagnostic service and records every step in the execution ledger.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					configureLogging(opts.Verbose)
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
	}

	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.LedgerTable, "table", os.Getenv("LEDGER_TABLE"), "DynamoDB ledger table")
	pf.StringVar(&opts.ParamPrefix, "param-prefix", os.Getenv("PARAM_PREFIX"), "SSM parameter prefix")
	pf.StringVar(&opts.DoctorBaseURL, "doctor-url", envString("DOCTOR_BASE_URL", doctor.DefaultBaseURL), "diagnostic service base URL")
	pf.DurationVar(&opts.DoctorTimeout, "doctor-timeout", time.Duration(envInt("DOCTOR_TIMEOUT_SECONDS", 60))*time.Second, "diagnostic service request timeout")
	pf.DurationVar(&opts.DoctorTokenTTL, "doctor-token-ttl", time.Duration(envInt("DOCTOR_TOKEN_TTL_MINUTES", 120))*time.Minute, "assumed lifetime of a diagnostic service token")
	pf.StringVar(&opts.OpenAIBaseURL, "openai-url", os.Getenv("OPENAI_BASE_URL"), "OpenAI-compatible API base URL")
	pf.StringVar(&opts.AgentsFile, "agents", "", "YAML agent definitions (overrides the parameter store)")
	pf.IntVar(&opts.DefaultMaxRounds, "default-max-rounds", envInt("DEFAULT_MAX_ROUNDS", usecase.DefaultMaxRounds), "rounds used when --max-rounds is not set")
	pf.IntVar(&opts.MaxRoundsLimit, "max-rounds-limit", envInt("MAX_ROUNDS_LIMIT", usecase.MaxRoundsLimit), "upper bound for --max-rounds")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newShowCommand(opts))
	return cmd
}

func configureLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func awsService(ctx context.Context, opts *RootOptions) (Service, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return bootstrap.NewRunner(ctx, awsCfg, bootstrap.Config{
		LedgerTable:      opts.LedgerTable,
		ParamPrefix:      opts.ParamPrefix,
		DoctorBaseURL:    opts.DoctorBaseURL,
		DoctorTimeout:    opts.DoctorTimeout,
		DoctorTokenTTL:   opts.DoctorTokenTTL,
		OpenAIBaseURL:    opts.OpenAIBaseURL,
		AgentsFile:       opts.AgentsFile,
		DefaultMaxRounds: opts.DefaultMaxRounds,
		MaxRoundsLimit:   opts.MaxRoundsLimit,
	}, slog.Default())
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return n
}
