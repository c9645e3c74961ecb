package training

import "fmt"

// ConfigError reports an unsupported configuration value: an unknown network
// architecture, dataset type or scheduler. It is fatal before any training
// work starts.
type ConfigError struct {
	Field string
	Value string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("unsupported value %q for %s", e.Value, e.Field)
}
