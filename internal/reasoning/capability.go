package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"diagnosis-runner/internal/domain"
)

// ChatClient is the LLM surface the capability needs. *openai.Client satisfies it.
type ChatClient interface {
	Chat(ctx context.Context, in domain.ChatRequest) (string, error)
}

// ConfigSource returns raw YAML agent definitions. Returning no bytes selects the defaults.
type ConfigSource func(ctx context.Context) ([]byte, error)

// Capability generates profiles, patient replies and match verdicts with an LLM.
type Capability struct {
	llm    ChatClient
	source ConfigSource
	logger *slog.Logger

	cfgMu     sync.RWMutex
	cfg       Config
	cfgLoaded bool
}

type Option func(*Capability)

// WithConfigSource loads agent definitions lazily on first use.
func WithConfigSource(src ConfigSource) Option {
	return func(c *Capability) {
		c.source = src
	}
}

// WithConfig fixes the agent definitions and skips any source.
func WithConfig(cfg Config) Option {
	return func(c *Capability) {
		c.cfg = cfg
		c.cfgLoaded = true
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Capability) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(llm ChatClient, opts ...Option) (*Capability, error) {
	if llm == nil {
		return nil, errors.New("reasoning: chat client must not be nil")
	}
	c := &Capability{llm: llm, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	if !c.cfgLoaded && c.source == nil {
		c.cfg = DefaultConfig()
		c.cfgLoaded = true
	}
	return c, nil
}

// ensureConfig loads the agent definitions once. A failed load is retried on the next call.
func (c *Capability) ensureConfig(ctx context.Context) (Config, error) {
	c.cfgMu.RLock()
	if c.cfgLoaded {
		cfg := c.cfg
		c.cfgMu.RUnlock()
		return cfg, nil
	}
	c.cfgMu.RUnlock()

	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	if c.cfgLoaded {
		return c.cfg, nil
	}
	raw, err := c.source(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("reasoning: load agents: %w", err)
	}
	cfg, err := ParseConfig(raw)
	if err != nil {
		return Config{}, err
	}
	c.cfg = cfg
	c.cfgLoaded = true
	return cfg, nil
}

func (c *Capability) complete(ctx context.Context, agent Agent, prompt string, jsonOut bool) (string, error) {
	return c.llm.Chat(ctx, domain.ChatRequest{
		Model:       agent.Model,
		Messages:    []domain.ChatMessage{{Role: "user", Content: prompt}},
		Temperature: agent.Temperature,
		MaxTokens:   agent.MaxTokens,
		JSONObject:  jsonOut,
	})
}

// SynthesizeProfile asks the profile agent for a patient profile of the disease.
func (c *Capability) SynthesizeProfile(ctx context.Context, disease domain.Disease) (domain.Profile, error) {
	cfg, err := c.ensureConfig(ctx)
	if err != nil {
		return nil, err
	}
	prompt := render(cfg.Profile.PromptTemplate, map[string]string{
		"disease_name": disease.Name,
		"symptoms":     strings.Join(disease.Symptoms, ", "),
	})
	raw, err := c.complete(ctx, cfg.Profile, prompt, true)
	if err != nil {
		return nil, fmt.Errorf("reasoning: synthesize profile: %w", err)
	}
	var profile domain.Profile
	if err := decodeObject(raw, &profile); err != nil {
		return nil, err
	}
	c.logger.Info("profile synthesized", "disease", disease.Name, "fields", len(profile))
	return profile, nil
}

// RespondAsPatient answers the service question in the voice of the profiled patient.
func (c *Capability) RespondAsPatient(ctx context.Context, profile domain.Profile, question string) (string, error) {
	cfg, err := c.ensureConfig(ctx)
	if err != nil {
		return "", err
	}
	profileText, err := profileJSON(profile)
	if err != nil {
		return "", err
	}
	prompt := render(cfg.Patient.PromptTemplate, map[string]string{
		"patient_profile": profileText,
		"doctor_question": question,
	})
	raw, err := c.complete(ctx, cfg.Patient, prompt, false)
	if err != nil {
		return "", fmt.Errorf("reasoning: respond as patient: %w", err)
	}
	reply := strings.TrimSpace(raw)
	if reply == "" {
		return "", errors.New("reasoning: empty patient reply")
	}
	return reply, nil
}

// AnalyzeMatch extracts the service diagnosis from reply and compares it with expectedDisease.
func (c *Capability) AnalyzeMatch(ctx context.Context, reply, expectedDisease string) (domain.MatchResult, error) {
	cfg, err := c.ensureConfig(ctx)
	if err != nil {
		return domain.MatchResult{}, err
	}
	prompt := render(cfg.Analyzer.PromptTemplate, map[string]string{
		"doctor_response":  reply,
		"expected_disease": expectedDisease,
	})
	raw, err := c.complete(ctx, cfg.Analyzer, prompt, true)
	if err != nil {
		return domain.MatchResult{}, fmt.Errorf("reasoning: analyze match: %w", err)
	}
	var out domain.MatchResult
	if err := decodeObject(raw, &out); err != nil {
		return domain.MatchResult{}, err
	}
	if strings.TrimSpace(out.DiagnosedDisease) == "" {
		return domain.MatchResult{}, errors.New("reasoning: verdict missing diagnosed_disease")
	}
	c.logger.Info("match analyzed", "expected", expectedDisease, "diagnosed", out.DiagnosedDisease, "is_match", out.IsMatch)
	return out, nil
}
