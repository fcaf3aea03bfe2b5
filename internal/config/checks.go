package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// GroupConfig is one titled block of the checks file.
type GroupConfig struct {
	Title  string        `yaml:"title"`
	Checks []CheckConfig `yaml:"checks"`
}

type CheckConfig struct {
	Name         string `yaml:"name"`
	Type         string `yaml:"type"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ExpectedCode int    `yaml:"expected_code"`
	SSC          bool   `yaml:"ssc"`
	URL          string `yaml:"url"`
}

// LoadChecks reads the checks file. It is called on every scheduling cycle
// so edits take effect without a restart.
func LoadChecks(filename string) ([]GroupConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read checks file: %w", err)
	}
	return ParseChecks(data)
}

func ParseChecks(data []byte) ([]GroupConfig, error) {
	var groups []GroupConfig
	if err := yaml.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("failed to parse checks YAML: %w", err)
	}

	seen := make(map[string]bool, len(groups))
	for i, group := range groups {
		if strings.TrimSpace(group.Title) == "" {
			return nil, fmt.Errorf("group %d has no title", i)
		}
		if seen[group.Title] {
			return nil, fmt.Errorf("duplicate group title: %s", group.Title)
		}
		seen[group.Title] = true

		for j, check := range group.Checks {
			if err := validateCheck(check); err != nil {
				return nil, fmt.Errorf("group %q check %d: %w", group.Title, j, err)
			}
		}
	}
	return groups, nil
}

func validateCheck(check CheckConfig) error {
	if check.Name == "" {
		return fmt.Errorf("name is required")
	}
	if check.Host == "" {
		return fmt.Errorf("check '%s' has no host", check.Name)
	}
	switch check.Type {
	case "http":
		if check.ExpectedCode == 0 {
			return fmt.Errorf("check '%s' is http but has no expected_code", check.Name)
		}
	case "port":
		if check.Port <= 0 || check.Port > 65535 {
			return fmt.Errorf("check '%s' has invalid port: %d", check.Name, check.Port)
		}
	case "ping":
	default:
		// Unknown types are kept; the runner reports them as failed results.
	}
	return nil
}
