package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Reader discovers and reads .rego policy files from a directory, adapted
// from the teacher's internal/opa/policy_reader.go verbatim.
type Reader struct{}

func NewReader() *Reader {
	return &Reader{}
}

func (r *Reader) ReadPolicies(policiesDir string) (map[string]string, error) {
	policies := make(map[string]string)

	entries, err := os.ReadDir(policiesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read policies directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rego") ||
			strings.HasSuffix(entry.Name(), "_test.rego") {
			continue
		}

		path := filepath.Join(policiesDir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
		}

		policies[entry.Name()] = string(content)
		zap.S().Named("policy").Debugf("read policy: %s", entry.Name())
	}

	if len(policies) == 0 {
		return nil, fmt.Errorf("no .rego policy files found in directory: %s", policiesDir)
	}

	zap.S().Named("policy").Infof("read %d policy files from: %s", len(policies), policiesDir)
	return policies, nil
}
