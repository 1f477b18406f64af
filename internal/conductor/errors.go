package conductor

import (
	"errors"
	"fmt"
)

// ErrUnknownPerformance is wrapped by ConfigurationError.
var ErrUnknownPerformance = errors.New("unknown performance")

// ConfigurationError reports a performance name that the active environment
// does not define.
type ConfigurationError struct {
	Name        string
	Environment string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("performance %q is not defined for environment %q", e.Name, e.Environment)
}

func (e *ConfigurationError) Unwrap() error { return ErrUnknownPerformance }
