package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	convergeerrors "github.com/convergetool/converge/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// ParseConfig loads a task file from disk, validates it, and returns the
// resulting model.
func ParseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, convergeerrors.NewParseError(path, 0, err)
	}

	return ParseBytes(data, path)
}

// ParseBytes parses and validates an in-memory task document. The path is
// used only for error reporting; rendered templates pass their origin here.
func ParseBytes(data []byte, path string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, convergeerrors.NewParseError(path, extractLine(err), err)
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}

	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	_, scanErr := fmt.Sscanf(matches[1], "%d", &line)
	if scanErr != nil {
		return 0
	}

	return line
}
