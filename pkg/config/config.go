package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/richard-senior/kicktipp/internal/logger"
	"github.com/richard-senior/kicktipp/pkg/kicktipp"
	"github.com/richard-senior/kicktipp/pkg/notify"
	"github.com/richard-senior/kicktipp/pkg/predictor"
	"github.com/richard-senior/kicktipp/pkg/tipp"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "kicktipp.yaml"

// Storage says where artifacts go. An empty DBPath disables the sqlite store.
type Storage struct {
	DBPath string `yaml:"db_path"` // (default: out/kicktipp.db)
	OutDir string `yaml:"out_dir"` // json and markdown artifacts (default: out)
}

type Logging struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Output string `yaml:"output"` // console, file or both (default: console)
	File   string `yaml:"file"`
}

type HTTP struct {
	Proxy    string `yaml:"proxy"`
	CABundle string `yaml:"ca_bundle"`
}

// Config is the whole configuration file
type Config struct {
	Kicktipp  kicktipp.Config      `yaml:"kicktipp"`
	Predictor predictor.Config     `yaml:"predictor"`
	Matcher   tipp.MatcherConfig   `yaml:"matcher"`
	Validator tipp.ValidatorConfig `yaml:"validator"`
	Backfill  tipp.BackfillConfig  `yaml:"backfill"`
	Submit    tipp.SubmitConfig    `yaml:"submit"`
	Run       tipp.RunConfig       `yaml:"run"`
	Storage   Storage              `yaml:"storage"`
	Notify    notify.Config        `yaml:"notify"`
	Logging   Logging              `yaml:"logging"`
	HTTP      HTTP                 `yaml:"http"`
}

// Default returns a configuration with every constant filled in
func Default() *Config {
	return &Config{
		Kicktipp:  kicktipp.Config{BaseURL: kicktipp.DefaultBaseURL},
		Predictor: predictor.DefaultConfig(),
		Matcher:   tipp.DefaultMatcherConfig(),
		Validator: tipp.DefaultValidatorConfig(),
		Backfill:  tipp.DefaultBackfillConfig(),
		Submit:    tipp.DefaultSubmitConfig(),
		Run:       tipp.DefaultRunConfig(),
		Storage:   Storage{DBPath: "out/kicktipp.db", OutDir: "out"},
		Logging:   Logging{Level: "info", Output: "console", File: logger.DefaultLogFile},
	}
}

// Load reads path over the defaults and applies the environment.
// A missing file is not an error when path is the default one.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
		logger.Debug("No config file, using defaults and environment")
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides secrets and the pool from the environment
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set("KICKTIPP_USERNAME", &c.Kicktipp.Username)
	set("KICKTIPP_PASSWORD", &c.Kicktipp.Password)
	set("KICKTIPP_POOL_SLUG", &c.Kicktipp.Pool)
	set("ANTHROPIC_API_KEY", &c.Predictor.APIKey)
	set("ANTHROPIC_MODEL", &c.Predictor.Model)
	set("TELEGRAM_BOT_TOKEN", &c.Notify.TelegramToken)
	set("HTTPS_PROXY", &c.HTTP.Proxy)
	if v, ok := lookup("TELEGRAM_CHAT_ID"); ok {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			c.Notify.ChatID = id
		} else {
			logger.Warn("Ignoring invalid TELEGRAM_CHAT_ID", v)
		}
	}
}

// Validate checks every section and reports the first problem
func (c *Config) Validate() error {
	checks := []struct {
		section string
		check   func() error
	}{
		{"kicktipp", c.Kicktipp.Validate},
		{"predictor", c.Predictor.Validate},
		{"matcher", c.Matcher.Validate},
		{"validator", c.Validator.Validate},
		{"backfill", c.Backfill.Validate},
		{"submit", c.Submit.Validate},
		{"run", c.Run.Validate},
		{"notify", c.Notify.Validate},
		{"logging", c.Logging.Validate},
	}
	for _, ch := range checks {
		if err := ch.check(); err != nil {
			return fmt.Errorf("invalid %s config: %w", ch.section, err)
		}
	}
	return nil
}

func (l Logging) Validate() error {
	if _, err := logger.ParseLevel(l.Level); err != nil {
		return err
	}
	if _, err := l.OutputMode(); err != nil {
		return err
	}
	return nil
}

// OutputMode maps Output onto the logger's output selector
func (l Logging) OutputMode() (rune, error) {
	switch strings.ToLower(l.Output) {
	case "", "console":
		return 'c', nil
	case "file":
		return 'f', nil
	case "both":
		return 'b', nil
	}
	return 0, fmt.Errorf("unknown log output %q, expected console, file or both", l.Output)
}

// Apply configures the package logger
func (l Logging) Apply() error {
	level, err := logger.ParseLevel(l.Level)
	if err != nil {
		return err
	}
	mode, err := l.OutputMode()
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	if l.File != "" {
		logger.SetLogFile(l.File)
	}
	return logger.SetLogOutput(mode)
}

// Settings extracts the orchestrator settings
func (c *Config) Settings() tipp.Settings {
	return tipp.Settings{
		Run:       c.Run,
		Matcher:   c.Matcher,
		Validator: c.Validator,
		Backfill:  c.Backfill,
		Submit:    c.Submit,
	}
}
