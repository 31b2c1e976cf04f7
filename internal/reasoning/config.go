package reasoning

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultModel = "gpt-4"

// Agent configures one reasoning role.
type Agent struct {
	Model          string   `yaml:"model"`
	Temperature    *float64 `yaml:"temperature"`
	MaxTokens      int      `yaml:"max_tokens"`
	PromptTemplate string   `yaml:"prompt_template"`
}

// Config holds the three agent roles. Fields left empty take the defaults.
type Config struct {
	Profile  Agent `yaml:"profile"`
	Patient  Agent `yaml:"patient"`
	Analyzer Agent `yaml:"analyzer"`
}

func DefaultConfig() Config {
	return Config{
		Profile: Agent{
			Model:          defaultModel,
			Temperature:    ptr(0.5),
			MaxTokens:      1500,
			PromptTemplate: defaultProfileTemplate,
		},
		Patient: Agent{
			Model:          defaultModel,
			Temperature:    ptr(0.8),
			MaxTokens:      1000,
			PromptTemplate: defaultPatientTemplate,
		},
		Analyzer: Agent{
			Model:          defaultModel,
			Temperature:    ptr(0.3),
			MaxTokens:      1000,
			PromptTemplate: defaultAnalyzerTemplate,
		},
	}
}

// ParseConfig decodes YAML agent definitions and fills unset fields from
// DefaultConfig. Empty input yields the defaults.
func ParseConfig(raw []byte) (Config, error) {
	var cfg Config
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("reasoning: decode agents: %w", err)
		}
	}
	def := DefaultConfig()
	cfg.Profile = cfg.Profile.withDefaults(def.Profile)
	cfg.Patient = cfg.Patient.withDefaults(def.Patient)
	cfg.Analyzer = cfg.Analyzer.withDefaults(def.Analyzer)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (a Agent) withDefaults(def Agent) Agent {
	if strings.TrimSpace(a.Model) == "" {
		a.Model = def.Model
	}
	if a.Temperature == nil {
		a.Temperature = def.Temperature
	}
	if a.MaxTokens == 0 {
		a.MaxTokens = def.MaxTokens
	}
	if strings.TrimSpace(a.PromptTemplate) == "" {
		a.PromptTemplate = def.PromptTemplate
	}
	return a
}

func (c Config) validate() error {
	roles := []struct {
		name  string
		agent Agent
	}{
		{"profile", c.Profile},
		{"patient", c.Patient},
		{"analyzer", c.Analyzer},
	}
	for _, r := range roles {
		if t := *r.agent.Temperature; t < 0 || t > 2 {
			return fmt.Errorf("reasoning: %s temperature %v out of range [0, 2]", r.name, t)
		}
		if r.agent.MaxTokens < 0 {
			return fmt.Errorf("reasoning: %s max_tokens must not be negative", r.name)
		}
	}
	return nil
}

func ptr[T any](v T) *T {
	return &v
}
