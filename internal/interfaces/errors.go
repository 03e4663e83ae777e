package interfaces

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the failure taxonomy. Callers classify with errors.Is;
// wrapped messages carry the backend detail.
var (
	// ErrMetricUnavailable marks a transient metric-backend failure. It
	// increments the policy's consecutive error count and never changes
	// capacity.
	ErrMetricUnavailable = errors.New("metric unavailable")

	// ErrCapacityBackend marks a transient capacity-backend failure.
	ErrCapacityBackend = errors.New("capacity backend error")

	// ErrDuplicateActivity reports that an identical activity key is already
	// recorded. This is benign: the decision was already captured by an
	// earlier (possibly concurrent) invocation.
	ErrDuplicateActivity = errors.New("duplicate activity")

	// ErrPersistence marks a store failure. The affected policy's evaluation
	// aborts; siblings continue.
	ErrPersistence = errors.New("persistence error")
)

// ConfigurationError reports one or more invalid policy or global
// configuration values. It is fatal for the affected policy.
type ConfigurationError struct {
	Subject  string
	Problems []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("invalid configuration for %s: %s", e.Subject, e.Problems[0])
	}
	return fmt.Sprintf("invalid configuration for %s:\n- %s", e.Subject, strings.Join(e.Problems, "\n- "))
}

// NewConfigurationError returns nil when problems is empty.
func NewConfigurationError(subject string, problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return &ConfigurationError{Subject: subject, Problems: problems}
}
