// Package reelconfig loads the agent's typed configuration from the
// environment, generalizing the teacher's
// LoadAgentConfigWithEnvOverrides (agent/config_loader.go) pattern:
// start from documented defaults, then let environment variables
// override, then validate.
package reelconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// TranscriptPolicy controls when the transcript adapter is invoked.
type TranscriptPolicy string

const (
	TranscriptsAlways TranscriptPolicy = "always"
	TranscriptsSmart  TranscriptPolicy = "smart"
	TranscriptsNever  TranscriptPolicy = "never"
)

// Config is the complete typed configuration for one run, per spec.md
// §4.1's table plus the three credentials from §6.
type Config struct {
	Model     string
	MaxResults int
	Parallel  int
	Retry     int
	TimeoutMS int

	SerperNum      int
	SerperGL       string
	SerperHL       string
	SerperLocation string

	Transcripts        TranscriptPolicy
	PerCreatorCap      int
	MaxIterations      int
	MaxTranscriptChars int

	// USUnknownAllowed resolves the spec's open question: whether
	// us_decision=unknown rows are kept in the final result. Default
	// true, per spec.md §9's stated current policy.
	USUnknownAllowed bool

	OpenAIAPIKey string
	SerperAPIKey string
	SCAPIKey     string
}

// ConfigError signals a missing credential or invalid enum value. The
// CLI maps this to exit code 71 per spec.md §6.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return "config_error: " + e.Message }

// Default returns the documented defaults from spec.md §4.1, with no
// credentials populated.
func Default() *Config {
	return &Config{
		Model:              "gpt-4o",
		MaxResults:         30,
		Parallel:           16,
		Retry:              3,
		TimeoutMS:          30000,
		SerperNum:          10,
		SerperGL:           "us",
		SerperHL:           "en",
		SerperLocation:     "United States",
		Transcripts:        TranscriptsSmart,
		PerCreatorCap:      2,
		MaxIterations:      10,
		MaxTranscriptChars: 500,
		USUnknownAllowed:   true,
	}
}

// fileOverrides mirrors Config with pointer fields so a YAML override
// file can set only the keys it names, leaving everything else at
// Default()'s value. Field names follow the --config file's keys
// rather than Config's Go names, matching the env vars' spelling.
type fileOverrides struct {
	Model              *string `yaml:"model"`
	MaxResults         *int    `yaml:"max_results"`
	Parallel           *int    `yaml:"parallel"`
	Retry              *int    `yaml:"retry"`
	TimeoutMS          *int    `yaml:"timeout_ms"`
	SerperNum          *int    `yaml:"serper_num"`
	SerperGL           *string `yaml:"serper_gl"`
	SerperHL           *string `yaml:"serper_hl"`
	SerperLocation     *string `yaml:"serper_location"`
	Transcripts        *string `yaml:"transcripts"`
	PerCreatorCap      *int    `yaml:"per_creator_cap"`
	MaxIterations      *int    `yaml:"max_iterations"`
	MaxTranscriptChars *int    `yaml:"max_transcript_chars"`
	USUnknownAllowed   *bool   `yaml:"us_unknown_allowed"`
}

// applyFile unmarshals a YAML override file and layers its keys onto
// cfg, which must already hold Default()'s values. An absent file path
// is not an error: --config is optional.
func applyFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reelconfig: read config file: %w", err)
	}
	var o fileOverrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("reelconfig: parse config file: %w", err)
	}
	if o.Model != nil {
		cfg.Model = *o.Model
	}
	if o.MaxResults != nil {
		cfg.MaxResults = *o.MaxResults
	}
	if o.Parallel != nil {
		cfg.Parallel = *o.Parallel
	}
	if o.Retry != nil {
		cfg.Retry = *o.Retry
	}
	if o.TimeoutMS != nil {
		cfg.TimeoutMS = *o.TimeoutMS
	}
	if o.SerperNum != nil {
		cfg.SerperNum = *o.SerperNum
	}
	if o.SerperGL != nil {
		cfg.SerperGL = *o.SerperGL
	}
	if o.SerperHL != nil {
		cfg.SerperHL = *o.SerperHL
	}
	if o.SerperLocation != nil {
		cfg.SerperLocation = *o.SerperLocation
	}
	if o.Transcripts != nil {
		policy := TranscriptPolicy(strings.ToLower(*o.Transcripts))
		switch policy {
		case TranscriptsAlways, TranscriptsSmart, TranscriptsNever:
			cfg.Transcripts = policy
		default:
			return &ConfigError{Message: fmt.Sprintf("invalid transcripts value %q in config file", *o.Transcripts)}
		}
	}
	if o.PerCreatorCap != nil {
		cfg.PerCreatorCap = *o.PerCreatorCap
	}
	if o.MaxIterations != nil {
		cfg.MaxIterations = *o.MaxIterations
	}
	if o.MaxTranscriptChars != nil {
		cfg.MaxTranscriptChars = *o.MaxTranscriptChars
	}
	if o.USUnknownAllowed != nil {
		cfg.USUnknownAllowed = *o.USUnknownAllowed
	}
	return nil
}

// Load reads .env (if present, teacher's godotenv.Load() pattern from
// main.go), then applies environment overrides on top of Default(), then
// validates. Missing credentials or an invalid TRANSCRIPTS value return
// a *ConfigError. Equivalent to LoadWithFile("").
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile is Load, but first layers an optional --config YAML
// file's keys onto Default() before environment overrides are applied,
// so environment variables take precedence over the file's keys.
func LoadWithFile(configPath string) (*Config, error) {
	_ = godotenv.Load() // optional; absence is not an error

	cfg := Default()

	if err := applyFile(cfg, configPath); err != nil {
		return nil, err
	}

	overrideString(&cfg.Model, "MODEL")
	overrideInt(&cfg.MaxResults, "MAX_RESULTS")
	overrideInt(&cfg.Parallel, "PARALLEL")
	overrideInt(&cfg.Retry, "RETRY")
	overrideInt(&cfg.TimeoutMS, "TIMEOUT_MS")
	overrideInt(&cfg.SerperNum, "SERPER_NUM")
	overrideString(&cfg.SerperGL, "SERPER_GL")
	overrideString(&cfg.SerperHL, "SERPER_HL")
	overrideString(&cfg.SerperLocation, "SERPER_LOCATION")
	overrideInt(&cfg.PerCreatorCap, "PER_CREATOR_CAP")
	overrideInt(&cfg.MaxIterations, "MAX_ITERATIONS")
	overrideInt(&cfg.MaxTranscriptChars, "MAX_TRANSCRIPT_CHARS")

	if v := os.Getenv("TRANSCRIPTS"); v != "" {
		policy := TranscriptPolicy(strings.ToLower(v))
		switch policy {
		case TranscriptsAlways, TranscriptsSmart, TranscriptsNever:
			cfg.Transcripts = policy
		default:
			return nil, &ConfigError{Message: fmt.Sprintf("invalid TRANSCRIPTS value %q", v)}
		}
	}

	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.SerperAPIKey = os.Getenv("SERPER_API_KEY")
	cfg.SCAPIKey = os.Getenv("SC_API_KEY")

	if err := cfg.validateCredentials(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validateCredentials() error {
	var missing []string
	if c.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.SerperAPIKey == "" {
		missing = append(missing, "SERPER_API_KEY")
	}
	if c.SCAPIKey == "" {
		missing = append(missing, "SC_API_KEY")
	}
	if len(missing) > 0 {
		return &ConfigError{Message: fmt.Sprintf("missing required credentials: %s", strings.Join(missing, ", "))}
	}
	return nil
}

// Snapshot renders the non-secret parts of the configuration for
// metadata.json's config_snapshot field. Credentials are deliberately
// excluded, per spec.md §4.2's "no secrets are logged" invariant.
func (c *Config) Snapshot() map[string]any {
	return map[string]any{
		"model":                 c.Model,
		"max_results":           c.MaxResults,
		"parallel":              c.Parallel,
		"retry":                 c.Retry,
		"timeout_ms":            c.TimeoutMS,
		"serper_num":            c.SerperNum,
		"serper_gl":             c.SerperGL,
		"serper_hl":             c.SerperHL,
		"serper_location":       c.SerperLocation,
		"transcripts":           string(c.Transcripts),
		"per_creator_cap":       c.PerCreatorCap,
		"max_iterations":        c.MaxIterations,
		"max_transcript_chars":  c.MaxTranscriptChars,
		"us_unknown_allowed":    c.USUnknownAllowed,
	}
}

// SnapshotYAML renders the same non-secret fields as Snapshot in YAML,
// for --dry-run output and anywhere a human reads the resolved config
// rather than a machine parsing metadata.json's JSON.
func (c *Config) SnapshotYAML() (string, error) {
	out, err := yaml.Marshal(c.Snapshot())
	if err != nil {
		return "", fmt.Errorf("reelconfig: marshal yaml snapshot: %w", err)
	}
	return string(out), nil
}

func overrideString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
