package voicesession

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

//go:embed instruction.txt
var defaultInstruction string

// DefaultInstruction is the built-in conversational policy for the intake
// assistant.
func DefaultInstruction() string {
	return strings.TrimSpace(defaultInstruction)
}

// LoadInstruction reads the policy text from path, or returns the built-in
// policy when path is empty.
func LoadInstruction(path string) (string, error) {
	if path == "" {
		return DefaultInstruction(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system instruction: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("system instruction %s is empty", path)
	}
	return text, nil
}
