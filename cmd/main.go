package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"

	"diagnosis-runner/handler"
	"diagnosis-runner/internal/bootstrap"
	"diagnosis-runner/internal/integrations/doctor"
	"diagnosis-runner/internal/usecase"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	cfg := bootstrap.Config{
		LedgerTable:      mustEnv("LEDGER_TABLE"),
		ParamPrefix:      mustEnv("PARAM_PREFIX"),
		DoctorBaseURL:    envString("DOCTOR_BASE_URL", doctor.DefaultBaseURL),
		DoctorTimeout:    time.Duration(envInt("DOCTOR_TIMEOUT_SECONDS", 60)) * time.Second,
		DoctorTokenTTL:   time.Duration(envInt("DOCTOR_TOKEN_TTL_MINUTES", 120)) * time.Minute,
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		DefaultMaxRounds: envInt("DEFAULT_MAX_ROUNDS", usecase.DefaultMaxRounds),
		MaxRoundsLimit:   envInt("MAX_ROUNDS_LIMIT", usecase.MaxRoundsLimit),
	}

	// ---- AWS SDK config ----
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	runner, err := bootstrap.NewRunner(ctx, awsCfg, cfg, logger)
	if err != nil {
		slog.Error("failed to create runner", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(runner)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
