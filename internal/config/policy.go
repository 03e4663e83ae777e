package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/interfaces"
)

// PolicySpec is one policy definition as written by the operator. Zero
// values inherit from the global defaults; booleans use pointers so that an
// explicit false survives the merge.
type PolicySpec struct {
	Name             string `yaml:"name"`
	LoadSourceRef    string `yaml:"loadSourceRef"`
	CapacityGroupRef string `yaml:"capacityGroupRef"`
	Region           string `yaml:"region,omitempty"`

	TargetQPSPerInstance float64 `yaml:"targetQPSPerInstance,omitempty"`
	Mode                 string  `yaml:"mode,omitempty"`

	ScaleUpThresholdRatio   float64 `yaml:"scaleUpThresholdRatio,omitempty"`
	ScaleDownThresholdRatio float64 `yaml:"scaleDownThresholdRatio,omitempty"`
	ScaleUpIncrement        int     `yaml:"scaleUpIncrement,omitempty"`
	ScaleDownDecrement      int     `yaml:"scaleDownDecrement,omitempty"`

	AllowScaleToZero *bool `yaml:"allowScaleToZero,omitempty"`

	// Durations are YAML strings like "5m" or "300s".
	ScaleUpCooldown   string `yaml:"scaleUpCooldown,omitempty"`
	ScaleDownCooldown string `yaml:"scaleDownCooldown,omitempty"`
	GeneralCooldown   string `yaml:"generalCooldown,omitempty"`
	MetricPeriod      string `yaml:"metricPeriod,omitempty"`

	CircuitBreakerThreshold int     `yaml:"circuitBreakerThreshold,omitempty"`
	CircuitBaseOpen         string  `yaml:"circuitBaseOpen,omitempty"`
	CircuitBackoffFactor    float64 `yaml:"circuitBackoffFactor,omitempty"`
	CircuitMaxOpen          string  `yaml:"circuitMaxOpen,omitempty"`

	DryRun  *bool `yaml:"dryRun,omitempty"`
	Enabled *bool `yaml:"enabled,omitempty"`
}

// PolicyFile is the document accepted by `albscaler policies apply -f`.
type PolicyFile struct {
	Policies []PolicySpec `yaml:"policies"`
}

// ParsePolicyFile reads and parses a policy definition file.
func ParsePolicyFile(path string) (*PolicyFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var f PolicyFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if len(f.Policies) == 0 {
		return nil, fmt.Errorf("policy file %s defines no policies", path)
	}
	return &f, nil
}

// Resolve merges the spec over the defaults and produces a fully-populated
// Policy. Pure: neither input is modified. Malformed duration strings fail
// the resolve, all of them reported together; the result is not otherwise
// validated, so call ValidatePolicy before storing or evaluating it.
func Resolve(d PolicyDefaults, region string, spec PolicySpec) (interfaces.Policy, error) {
	p := interfaces.Policy{
		Name:             spec.Name,
		LoadSourceRef:    spec.LoadSourceRef,
		CapacityGroupRef: spec.CapacityGroupRef,
		Region:           region,

		TargetQPSPerInstance:    d.TargetQPSPerInstance,
		Mode:                    interfaces.ScalingMode(d.Mode),
		ScaleUpThresholdRatio:   d.ScaleUpThresholdRatio,
		ScaleDownThresholdRatio: d.ScaleDownThresholdRatio,
		ScaleUpIncrement:        d.ScaleUpIncrement,
		ScaleDownDecrement:      d.ScaleDownDecrement,
		ScaleUpCooldown:         d.ScaleUpCooldown,
		ScaleDownCooldown:       d.ScaleDownCooldown,
		GeneralCooldown:         d.GeneralCooldown,
		MetricPeriod:            d.MetricPeriod,
		CircuitBreakerThreshold: d.CircuitBreakerThreshold,
		CircuitBaseOpen:         d.CircuitBaseOpen,
		CircuitBackoffFactor:    d.CircuitBackoffFactor,
		CircuitMaxOpen:          d.CircuitMaxOpen,

		Enabled: true,
	}

	if spec.Region != "" {
		p.Region = spec.Region
	}
	if spec.TargetQPSPerInstance != 0 {
		p.TargetQPSPerInstance = spec.TargetQPSPerInstance
	}
	if spec.Mode != "" {
		p.Mode = interfaces.ScalingMode(spec.Mode)
	}
	if spec.ScaleUpThresholdRatio != 0 {
		p.ScaleUpThresholdRatio = spec.ScaleUpThresholdRatio
	}
	if spec.ScaleDownThresholdRatio != 0 {
		p.ScaleDownThresholdRatio = spec.ScaleDownThresholdRatio
	}
	if spec.ScaleUpIncrement != 0 {
		p.ScaleUpIncrement = spec.ScaleUpIncrement
	}
	if spec.ScaleDownDecrement != 0 {
		p.ScaleDownDecrement = spec.ScaleDownDecrement
	}
	if spec.AllowScaleToZero != nil {
		p.AllowScaleToZero = *spec.AllowScaleToZero
	}
	if spec.CircuitBreakerThreshold != 0 {
		p.CircuitBreakerThreshold = spec.CircuitBreakerThreshold
	}
	if spec.CircuitBackoffFactor != 0 {
		p.CircuitBackoffFactor = spec.CircuitBackoffFactor
	}
	if spec.DryRun != nil {
		p.DryRun = *spec.DryRun
	}
	if spec.Enabled != nil {
		p.Enabled = *spec.Enabled
	}

	var problems []string
	overrideDuration(&p.ScaleUpCooldown, "scaleUpCooldown", spec.ScaleUpCooldown, &problems)
	overrideDuration(&p.ScaleDownCooldown, "scaleDownCooldown", spec.ScaleDownCooldown, &problems)
	overrideDuration(&p.GeneralCooldown, "generalCooldown", spec.GeneralCooldown, &problems)
	overrideDuration(&p.MetricPeriod, "metricPeriod", spec.MetricPeriod, &problems)
	overrideDuration(&p.CircuitBaseOpen, "circuitBaseOpen", spec.CircuitBaseOpen, &problems)
	overrideDuration(&p.CircuitMaxOpen, "circuitMaxOpen", spec.CircuitMaxOpen, &problems)
	if len(problems) > 0 {
		return interfaces.Policy{}, interfaces.NewConfigurationError("policy "+spec.Name, problems)
	}

	return p, nil
}

// overrideDuration replaces *dst when raw is set. A string that does not
// parse as a Go duration is collected as a problem, never silently
// inherited from the defaults.
func overrideDuration(dst *time.Duration, field, raw string, problems *[]string) {
	if raw == "" {
		return
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s: invalid duration %q", field, raw))
		return
	}
	*dst = parsed
}

// ValidatePolicy checks a resolved policy, collecting every problem.
func ValidatePolicy(p interfaces.Policy) error {
	var problems []string

	if p.Name == "" {
		problems = append(problems, "name is required")
	}
	if p.LoadSourceRef == "" {
		problems = append(problems, "loadSourceRef is required")
	}
	if p.CapacityGroupRef == "" {
		problems = append(problems, "capacityGroupRef is required")
	}
	if p.TargetQPSPerInstance <= 0 {
		problems = append(problems, "targetQPSPerInstance must be > 0")
	}
	if p.Mode != interfaces.ModeDynamic && p.Mode != interfaces.ModeThreshold {
		problems = append(problems, fmt.Sprintf("mode %q must be dynamic or threshold", p.Mode))
	}
	if p.Mode == interfaces.ModeThreshold {
		if p.ScaleUpThresholdRatio <= 0 || p.ScaleUpThresholdRatio > 1 {
			problems = append(problems, "scaleUpThresholdRatio must be in (0, 1]")
		}
		if p.ScaleDownThresholdRatio <= 0 || p.ScaleDownThresholdRatio > 1 {
			problems = append(problems, "scaleDownThresholdRatio must be in (0, 1]")
		}
		if p.ScaleDownThresholdRatio >= p.ScaleUpThresholdRatio {
			problems = append(problems, "scaleDownThresholdRatio must be less than scaleUpThresholdRatio")
		}
		if p.ScaleUpIncrement <= 0 {
			problems = append(problems, "scaleUpIncrement must be > 0")
		}
		if p.ScaleDownDecrement <= 0 {
			problems = append(problems, "scaleDownDecrement must be > 0")
		}
	}
	if p.ScaleUpCooldown < 0 || p.ScaleDownCooldown < 0 || p.GeneralCooldown < 0 {
		problems = append(problems, "cooldowns must be >= 0")
	}
	if p.MetricPeriod <= 0 {
		problems = append(problems, "metricPeriod must be > 0")
	}
	if p.CircuitBreakerThreshold <= 0 {
		problems = append(problems, "circuitBreakerThreshold must be > 0")
	}
	if p.CircuitBackoffFactor < 1 {
		problems = append(problems, "circuitBackoffFactor must be >= 1")
	}
	if p.CircuitMaxOpen < p.CircuitBaseOpen {
		problems = append(problems, "circuitMaxOpen must be >= circuitBaseOpen")
	}

	return interfaces.NewConfigurationError("policy "+p.Name, problems)
}
