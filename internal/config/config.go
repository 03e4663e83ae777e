// Package config loads the autoscaler's global configuration and resolves
// per-policy overlays against global defaults.
//
// Global settings come from environment variables (ALBSCALER_* prefix) and an
// optional YAML config file. Policy definitions come from the policy store;
// the operator seeds them from YAML files via `albscaler policies apply`.
// Merging an overlay into the defaults is a pure function so two evaluators
// resolving the same policy always agree.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/interfaces"
)

// Config is the fully-resolved global configuration.
type Config struct {
	// BytePlus API credentials and region.
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// DatabasePath is the sqlite file backing all stores. ":memory:" is
	// accepted for tests.
	DatabasePath string `mapstructure:"database_path"`

	// PrometheusURL enables the promql: load-source scheme when set.
	PrometheusURL string `mapstructure:"prometheus_url"`

	AlertWebhookURL string `mapstructure:"alert_webhook_url"`

	LogLevel       string `mapstructure:"log_level"`
	LogDevelopment bool   `mapstructure:"log_development"`

	// DryRun forces dry-run mode for every policy regardless of the policy's
	// own flag.
	DryRun bool `mapstructure:"dry_run"`

	// EvaluationParallelism bounds how many policies one batch evaluates
	// concurrently. Policies are always serialized individually via leases.
	EvaluationParallelism int `mapstructure:"evaluation_parallelism"`

	// LeaseTTL is how long a per-policy evaluation lease lives if the holder
	// never releases it.
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`

	// InitialDelay staggers the start of a run, for sub-minute triggers
	// fanned out across multiple invokers.
	InitialDelay time.Duration `mapstructure:"initial_delay"`

	// Interval is the ticker period in serve mode.
	Interval time.Duration `mapstructure:"interval"`

	// MetricsListenAddr is where serve mode exposes /metrics.
	MetricsListenAddr string `mapstructure:"metrics_listen_addr"`

	Defaults PolicyDefaults `mapstructure:"defaults"`
}

// PolicyDefaults are the base values merged under every policy overlay.
type PolicyDefaults struct {
	TargetQPSPerInstance    float64       `mapstructure:"target_qps_per_instance"`
	Mode                    string        `mapstructure:"mode"`
	ScaleUpThresholdRatio   float64       `mapstructure:"scale_up_threshold_ratio"`
	ScaleDownThresholdRatio float64       `mapstructure:"scale_down_threshold_ratio"`
	ScaleUpIncrement        int           `mapstructure:"scale_up_increment"`
	ScaleDownDecrement      int           `mapstructure:"scale_down_decrement"`
	ScaleUpCooldown         time.Duration `mapstructure:"scale_up_cooldown"`
	ScaleDownCooldown       time.Duration `mapstructure:"scale_down_cooldown"`
	GeneralCooldown         time.Duration `mapstructure:"general_cooldown"`
	MetricPeriod            time.Duration `mapstructure:"metric_period"`
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBaseOpen         time.Duration `mapstructure:"circuit_base_open"`
	CircuitBackoffFactor    float64       `mapstructure:"circuit_backoff_factor"`
	CircuitMaxOpen          time.Duration `mapstructure:"circuit_max_open"`
}

// Default returns the built-in configuration. Values mirror the thresholds
// and cooldowns the service shipped with.
func Default() *Config {
	return &Config{
		Region:                "ap-southeast-1",
		DatabasePath:          "albscaler.db",
		LogLevel:              "info",
		EvaluationParallelism: 4,
		LeaseTTL:              90 * time.Second,
		Interval:              time.Minute,
		MetricsListenAddr:     ":9090",
		Defaults: PolicyDefaults{
			TargetQPSPerInstance:    50,
			Mode:                    string(interfaces.ModeDynamic),
			ScaleUpThresholdRatio:   0.8,
			ScaleDownThresholdRatio: 0.6,
			ScaleUpIncrement:        1,
			ScaleDownDecrement:      1,
			ScaleUpCooldown:         5 * time.Minute,
			ScaleDownCooldown:       10 * time.Minute,
			GeneralCooldown:         3 * time.Minute,
			MetricPeriod:            5 * time.Minute,
			CircuitBreakerThreshold: 5,
			CircuitBaseOpen:         10 * time.Minute,
			CircuitBackoffFactor:    2.0,
			CircuitMaxOpen:          2 * time.Hour,
		},
	}
}

// Load reads configuration from the optional config file and the
// environment, layered over Default().
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("ALBSCALER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	bindDefaults(v, cfg)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// bindDefaults registers every key with viper so AutomaticEnv picks up the
// matching ALBSCALER_* variables even without a config file.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("region", cfg.Region)
	v.SetDefault("access_key_id", cfg.AccessKeyID)
	v.SetDefault("secret_access_key", cfg.SecretAccessKey)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("prometheus_url", cfg.PrometheusURL)
	v.SetDefault("alert_webhook_url", cfg.AlertWebhookURL)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_development", cfg.LogDevelopment)
	v.SetDefault("dry_run", cfg.DryRun)
	v.SetDefault("evaluation_parallelism", cfg.EvaluationParallelism)
	v.SetDefault("lease_ttl", cfg.LeaseTTL)
	v.SetDefault("initial_delay", cfg.InitialDelay)
	v.SetDefault("interval", cfg.Interval)
	v.SetDefault("metrics_listen_addr", cfg.MetricsListenAddr)

	v.SetDefault("defaults.target_qps_per_instance", cfg.Defaults.TargetQPSPerInstance)
	v.SetDefault("defaults.mode", cfg.Defaults.Mode)
	v.SetDefault("defaults.scale_up_threshold_ratio", cfg.Defaults.ScaleUpThresholdRatio)
	v.SetDefault("defaults.scale_down_threshold_ratio", cfg.Defaults.ScaleDownThresholdRatio)
	v.SetDefault("defaults.scale_up_increment", cfg.Defaults.ScaleUpIncrement)
	v.SetDefault("defaults.scale_down_decrement", cfg.Defaults.ScaleDownDecrement)
	v.SetDefault("defaults.scale_up_cooldown", cfg.Defaults.ScaleUpCooldown)
	v.SetDefault("defaults.scale_down_cooldown", cfg.Defaults.ScaleDownCooldown)
	v.SetDefault("defaults.general_cooldown", cfg.Defaults.GeneralCooldown)
	v.SetDefault("defaults.metric_period", cfg.Defaults.MetricPeriod)
	v.SetDefault("defaults.circuit_breaker_threshold", cfg.Defaults.CircuitBreakerThreshold)
	v.SetDefault("defaults.circuit_base_open", cfg.Defaults.CircuitBaseOpen)
	v.SetDefault("defaults.circuit_backoff_factor", cfg.Defaults.CircuitBackoffFactor)
	v.SetDefault("defaults.circuit_max_open", cfg.Defaults.CircuitMaxOpen)
}

// Validate checks global settings, collecting every problem before failing.
func (c *Config) Validate() error {
	var problems []string

	if c.Region == "" {
		problems = append(problems, "region is required")
	}
	if c.DatabasePath == "" {
		problems = append(problems, "database_path is required")
	}
	if c.EvaluationParallelism <= 0 {
		problems = append(problems, "evaluation_parallelism must be > 0")
	}
	if c.LeaseTTL <= 0 {
		problems = append(problems, "lease_ttl must be > 0")
	}
	if c.Interval <= 0 {
		problems = append(problems, "interval must be > 0")
	}
	if problems2 := validateDefaults(c.Defaults); len(problems2) > 0 {
		problems = append(problems, problems2...)
	}

	return interfaces.NewConfigurationError("global config", problems)
}

func validateDefaults(d PolicyDefaults) []string {
	var problems []string
	if d.TargetQPSPerInstance <= 0 {
		problems = append(problems, "defaults.target_qps_per_instance must be > 0")
	}
	if d.Mode != string(interfaces.ModeDynamic) && d.Mode != string(interfaces.ModeThreshold) {
		problems = append(problems, "defaults.mode must be dynamic or threshold")
	}
	if d.ScaleUpThresholdRatio <= 0 || d.ScaleUpThresholdRatio > 1 {
		problems = append(problems, "defaults.scale_up_threshold_ratio must be in (0, 1]")
	}
	if d.ScaleDownThresholdRatio <= 0 || d.ScaleDownThresholdRatio > 1 {
		problems = append(problems, "defaults.scale_down_threshold_ratio must be in (0, 1]")
	}
	if d.ScaleDownThresholdRatio >= d.ScaleUpThresholdRatio {
		problems = append(problems, "defaults.scale_down_threshold_ratio must be less than defaults.scale_up_threshold_ratio")
	}
	if d.ScaleUpIncrement <= 0 {
		problems = append(problems, "defaults.scale_up_increment must be > 0")
	}
	if d.ScaleDownDecrement <= 0 {
		problems = append(problems, "defaults.scale_down_decrement must be > 0")
	}
	if d.ScaleUpCooldown < 0 || d.ScaleDownCooldown < 0 || d.GeneralCooldown < 0 {
		problems = append(problems, "cooldowns must be >= 0")
	}
	if d.MetricPeriod <= 0 {
		problems = append(problems, "defaults.metric_period must be > 0")
	}
	if d.CircuitBreakerThreshold <= 0 {
		problems = append(problems, "defaults.circuit_breaker_threshold must be > 0")
	}
	if d.CircuitBaseOpen <= 0 {
		problems = append(problems, "defaults.circuit_base_open must be > 0")
	}
	if d.CircuitBackoffFactor < 1 {
		problems = append(problems, "defaults.circuit_backoff_factor must be >= 1")
	}
	if d.CircuitMaxOpen < d.CircuitBaseOpen {
		problems = append(problems, "defaults.circuit_max_open must be >= defaults.circuit_base_open")
	}
	return problems
}
