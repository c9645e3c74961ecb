package dataset

import (
	"fmt"
	"os"
	"strings"
)

// StoreLabels writes the class vocabulary to path, one class name per line
// in label order. The file is consumed by inference and evaluation tooling,
// so it must be written once per training run before labels leave the
// process.
func StoreLabels(path string, classNames []string) error {
	content := strings.Join(classNames, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to store labels: %w", err)
	}
	return nil
}
