package plan

import "fmt"

// ConfigurationError is fatal at compile time: it blocks the entire run
// before any step executes. Cyclic dependencies, references to undeclared
// jobs, axes, actions, or environments, and malformed conditions all surface
// as this type.
type ConfigurationError struct {
	Detail string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Detail
}

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Detail: fmt.Sprintf(format, args...)}
}

// CyclicDependencyError is a ConfigurationError variant that names at least
// one job involved in the detected cycle.
type CyclicDependencyError struct {
	Job string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("configuration error: cyclic dependency involving job %q", e.Job)
}
