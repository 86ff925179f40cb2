// config.go holds .analyst config types, defaults and flag resolution.
package analystcli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"github.com/contenox/analyst/workflow"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const configDir = ".analyst"

// localConfig holds values from .analyst/config.yaml. Flags override it and
// zero fields are filled from defaultConfig.
type localConfig struct {
	DB                   string        `yaml:"db"`
	Ollama               string        `yaml:"ollama"`
	Model                string        `yaml:"model"`
	Temperature          float64       `yaml:"temperature"`
	TokenizerModel       string        `yaml:"tokenizer_model"`
	NATSURL              string        `yaml:"nats_url"`
	MetricsAddr          string        `yaml:"metrics_addr"`
	BreakerThreshold     int           `yaml:"breaker_threshold"`
	BreakerReset         time.Duration `yaml:"breaker_reset"`
	Timeout              time.Duration `yaml:"timeout"`
	MaxTotalTurns        int           `yaml:"max_total_turns"`
	MaxValidationRetries *int          `yaml:"max_validation_retries"`
	MaxExecutionRetries  *int          `yaml:"max_execution_retries"`
	MinFilterQueryChars  int           `yaml:"min_filter_query_chars"`
	ContextTokenBudget   int           `yaml:"context_token_budget"`
}

func defaultConfig() localConfig {
	def := workflow.DefaultConfig()
	return localConfig{
		Ollama:               "http://127.0.0.1:11434",
		Model:                "qwen2.5:7b",
		TokenizerModel:       "gpt-4o",
		BreakerThreshold:     3,
		BreakerReset:         30 * time.Second,
		Timeout:              5 * time.Minute,
		MaxTotalTurns:        def.MaxTotalTurns,
		MaxValidationRetries: &def.MaxValidationRetries,
		MaxExecutionRetries:  &def.MaxExecutionRetries,
		MinFilterQueryChars:  def.MinFilterQueryChars,
		ContextTokenBudget:   def.ContextTokenBudget,
	}
}

// loadLocalConfig tries ./.analyst/config.yaml then ~/.analyst/config.yaml
// and returns the merged config plus the file it came from ("" if none).
func loadLocalConfig() (localConfig, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return localConfig{}, "", err
	}
	try := []string{filepath.Join(cwd, configDir, "config.yaml")}
	if home, err := os.UserHomeDir(); err == nil {
		try = append(try, filepath.Join(home, configDir, "config.yaml"))
	}
	for _, p := range try {
		cfg, err := readConfig(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return localConfig{}, "", err
		}
		return cfg, p, nil
	}
	cfg := localConfig{}
	if err := withDefaults(&cfg); err != nil {
		return localConfig{}, "", err
	}
	return cfg, "", nil
}

func readConfig(path string) (localConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return localConfig{}, err
	}
	var cfg localConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return localConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := withDefaults(&cfg); err != nil {
		return localConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func withDefaults(cfg *localConfig) error {
	return mergo.Merge(cfg, defaultConfig())
}

// applyFlags lets explicitly set flags win over the file.
func (c *localConfig) applyFlags(flags *pflag.FlagSet) {
	if flags.Changed("db") {
		c.DB, _ = flags.GetString("db")
	}
	if flags.Changed("ollama") {
		c.Ollama, _ = flags.GetString("ollama")
	}
	if flags.Changed("model") {
		c.Model, _ = flags.GetString("model")
	}
	if flags.Changed("nats-url") {
		c.NATSURL, _ = flags.GetString("nats-url")
	}
	if flags.Changed("metrics-addr") {
		c.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("max-turns") {
		c.MaxTotalTurns, _ = flags.GetInt("max-turns")
	}
	if flags.Changed("timeout") {
		c.Timeout, _ = flags.GetDuration("timeout")
	}
}

// dbPath resolves the SQLite file, defaulting next to the config file.
func (c localConfig) dbPath(configPath string) string {
	if c.DB != "" {
		return c.DB
	}
	dir := filepath.Dir(configPath)
	if configPath == "" {
		cwd, _ := os.Getwd()
		dir = filepath.Join(cwd, configDir)
	}
	return filepath.Join(dir, "local.db")
}

func (c localConfig) workflowConfig() workflow.Config {
	cfg := workflow.Config{
		MaxTotalTurns:       c.MaxTotalTurns,
		MinFilterQueryChars: c.MinFilterQueryChars,
		ContextTokenBudget:  c.ContextTokenBudget,
	}
	if c.MaxValidationRetries != nil {
		cfg.MaxValidationRetries = *c.MaxValidationRetries
	}
	if c.MaxExecutionRetries != nil {
		cfg.MaxExecutionRetries = *c.MaxExecutionRetries
	}
	return cfg
}
