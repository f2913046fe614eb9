// Package config holds reef configuration: typed defaults plus viper-backed
// loading from ~/.reef/config.yaml and REEF_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all reef configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Decay     DecayConfig     `mapstructure:"decay"`
	Safety    SafetyConfig    `mapstructure:"safety"`
	Index     IndexConfig     `mapstructure:"index"`
	Judge     JudgeConfig     `mapstructure:"judge"`
}

type ServerConfig struct {
	Bind string `mapstructure:"bind"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LifecycleConfig controls calcification scoring.
type LifecycleConfig struct {
	MaturityDays       int     `mapstructure:"maturity_days"`       // time signal saturates here
	UsageThreshold     int     `mapstructure:"usage_threshold"`     // access count where usage saturates
	ConsensusThreshold int     `mapstructure:"consensus_threshold"` // inbound links where consensus saturates
	WeightTime         float64 `mapstructure:"weight_time"`
	WeightUsage        float64 `mapstructure:"weight_usage"`
	WeightCeremony     float64 `mapstructure:"weight_ceremony"`
	WeightConsensus    float64 `mapstructure:"weight_consensus"`
	AttachThreshold    float64 `mapstructure:"attach_threshold"`
	GrowThreshold      float64 `mapstructure:"grow_threshold"`
	CalcifyThreshold   float64 `mapstructure:"calcify_threshold"`
}

// DecayConfig controls eligibility scoring and the challenge run.
type DecayConfig struct {
	StaleDays        int     `mapstructure:"stale_days"`
	MinAccess        int     `mapstructure:"min_access"`
	OrphanDays       int     `mapstructure:"orphan_days"`
	Threshold        float64 `mapstructure:"threshold"`
	BatchSize        int     `mapstructure:"batch_size"`
	DefendBaseline   int     `mapstructure:"defend_baseline"`
	JudgeTimeoutSecs int     `mapstructure:"judge_timeout_secs"`
}

type SafetyConfig struct {
	DeletionRateCeiling float64 `mapstructure:"deletion_rate_ceiling"`
	QuarantineDays      int     `mapstructure:"quarantine_days"`
}

type IndexConfig struct {
	RebuildAfterWrites int `mapstructure:"rebuild_after_writes"`
}

type JudgeConfig struct {
	Provider         string   `mapstructure:"provider"` // "human", "local-cli", "anthropic", "ollama"
	Model            string   `mapstructure:"model"`
	AnthropicKey     string   `mapstructure:"anthropic_key"`
	OllamaURL        string   `mapstructure:"ollama_url"`
	OllamaModel      string   `mapstructure:"ollama_model"`
	SensitiveMarkers []string `mapstructure:"sensitive_markers"` // content markers forcing local-only judgment
}

// Default returns a Config with the documented defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37888,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Lifecycle: LifecycleConfig{
			MaturityDays:       30,
			UsageThreshold:     10,
			ConsensusThreshold: 3,
			WeightTime:         0.2,
			WeightUsage:        0.3,
			WeightCeremony:     0.2,
			WeightConsensus:    0.3,
			AttachThreshold:    0.15,
			GrowThreshold:      0.4,
			CalcifyThreshold:   0.7,
		},
		Decay: DecayConfig{
			StaleDays:        60,
			MinAccess:        3,
			OrphanDays:       30,
			Threshold:        0.3,
			BatchSize:        20,
			DefendBaseline:   2,
			JudgeTimeoutSecs: 5,
		},
		Safety: SafetyConfig{
			DeletionRateCeiling: 0.25,
			QuarantineDays:      7,
		},
		Index: IndexConfig{
			RebuildAfterWrites: 8,
		},
		Judge: JudgeConfig{
			Provider:         "human",
			Model:            "haiku",
			OllamaURL:        "http://localhost:11434",
			OllamaModel:      "llama3.2",
			SensitiveMarkers: []string{"pii:", "legal:", "secret:"},
		},
	}
}

// DefaultConfigDir returns ~/.reef.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".reef"), nil
}

const defaultConfigYAML = `# reef configuration
# All values shown are the defaults. Every threshold can also be set via
# REEF_* environment variables, e.g. REEF_SAFETY_DELETION_RATE_CEILING=0.5

# lifecycle:
#   maturity_days: 30
#   usage_threshold: 10
#   consensus_threshold: 3
#   calcify_threshold: 0.7

# decay:
#   stale_days: 60
#   min_access: 3
#   orphan_days: 30
#   batch_size: 20

# safety:
#   deletion_rate_ceiling: 0.25
#   quarantine_days: 7

# judge:
#   provider: human
`

// Load reads configuration from dir/config.yaml, layered over Default() and
// under REEF_* environment variables. A missing config file is not an error;
// on first run a commented default file is written so the knobs are
// discoverable.
func Load(dir string) (Config, error) {
	cfg := Default()

	if dir == "" {
		var err error
		dir, err = DefaultConfigDir()
		if err != nil {
			return cfg, err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return cfg, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(dir); err != nil {
		return cfg, err
	}

	v := viper.New()
	setDefaults(v, cfg)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix("REEF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func ensureDefaultConfigFile(dir string) error {
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}

// setDefaults registers every key so env overrides work without a file.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("server.bind", cfg.Server.Bind)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("lifecycle.maturity_days", cfg.Lifecycle.MaturityDays)
	v.SetDefault("lifecycle.usage_threshold", cfg.Lifecycle.UsageThreshold)
	v.SetDefault("lifecycle.consensus_threshold", cfg.Lifecycle.ConsensusThreshold)
	v.SetDefault("lifecycle.weight_time", cfg.Lifecycle.WeightTime)
	v.SetDefault("lifecycle.weight_usage", cfg.Lifecycle.WeightUsage)
	v.SetDefault("lifecycle.weight_ceremony", cfg.Lifecycle.WeightCeremony)
	v.SetDefault("lifecycle.weight_consensus", cfg.Lifecycle.WeightConsensus)
	v.SetDefault("lifecycle.attach_threshold", cfg.Lifecycle.AttachThreshold)
	v.SetDefault("lifecycle.grow_threshold", cfg.Lifecycle.GrowThreshold)
	v.SetDefault("lifecycle.calcify_threshold", cfg.Lifecycle.CalcifyThreshold)
	v.SetDefault("decay.stale_days", cfg.Decay.StaleDays)
	v.SetDefault("decay.min_access", cfg.Decay.MinAccess)
	v.SetDefault("decay.orphan_days", cfg.Decay.OrphanDays)
	v.SetDefault("decay.threshold", cfg.Decay.Threshold)
	v.SetDefault("decay.batch_size", cfg.Decay.BatchSize)
	v.SetDefault("decay.defend_baseline", cfg.Decay.DefendBaseline)
	v.SetDefault("decay.judge_timeout_secs", cfg.Decay.JudgeTimeoutSecs)
	v.SetDefault("safety.deletion_rate_ceiling", cfg.Safety.DeletionRateCeiling)
	v.SetDefault("safety.quarantine_days", cfg.Safety.QuarantineDays)
	v.SetDefault("index.rebuild_after_writes", cfg.Index.RebuildAfterWrites)
	v.SetDefault("judge.provider", cfg.Judge.Provider)
	v.SetDefault("judge.model", cfg.Judge.Model)
	v.SetDefault("judge.anthropic_key", cfg.Judge.AnthropicKey)
	v.SetDefault("judge.ollama_url", cfg.Judge.OllamaURL)
	v.SetDefault("judge.ollama_model", cfg.Judge.OllamaModel)
	v.SetDefault("judge.sensitive_markers", cfg.Judge.SensitiveMarkers)
}

// Validate rejects configurations that would make scoring meaningless.
func (c Config) Validate() error {
	sum := c.Lifecycle.WeightTime + c.Lifecycle.WeightUsage +
		c.Lifecycle.WeightCeremony + c.Lifecycle.WeightConsensus
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("lifecycle weights must sum to 1.0, got %.2f", sum)
	}
	if c.Safety.DeletionRateCeiling <= 0 || c.Safety.DeletionRateCeiling > 1 {
		return fmt.Errorf("deletion rate ceiling must be in (0,1], got %.2f", c.Safety.DeletionRateCeiling)
	}
	if c.Safety.QuarantineDays < 1 {
		return fmt.Errorf("quarantine window must be at least 1 day, got %d", c.Safety.QuarantineDays)
	}
	if c.Decay.BatchSize < 1 {
		return fmt.Errorf("decay batch size must be positive, got %d", c.Decay.BatchSize)
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
