package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arsalan-anwari/tether-io/internal/types"
)

// Scenario is one sandbox sweep case from the operator-editable scenario file.
type Scenario struct {
	Domain string `yaml:"domain"`
	M      uint32 `yaml:"m"`
	N      uint32 `yaml:"n"`
	KBits  uint32 `yaml:"kBits"`
	SeedA  uint32 `yaml:"seedA"`
	SeedB  uint32 `yaml:"seedB"`
}

// DataDomain parses the scenario's domain name.
func (s Scenario) DataDomain() (types.DataDomain, error) {
	return types.ParseDataDomain(s.Domain)
}

// ScenarioFile is the top-level document of sandbox.yaml.
type ScenarioFile struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// LoadScenarios reads a sandbox scenario file.
func LoadScenarios(path string) (*ScenarioFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, types.ErrFileNotFound)
		}
		return nil, fmt.Errorf("%s: %w", path, types.ErrCouldNotParseFile)
	}

	var file ScenarioFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%s: %w", path, types.ErrInvalidFormat)
	}
	return &file, nil
}
