package symbols

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the layout of a symbols YAML file.
type File struct {
	BaseAssets []string `yaml:"base_assets"`
	Quotes     []string `yaml:"quotes"`
}

// LoadFile reads a symbols YAML file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read symbols file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse symbols file: %w", err)
	}
	if len(f.BaseAssets) == 0 {
		return nil, fmt.Errorf("symbols file %s: base_assets is required", path)
	}
	return &f, nil
}

// Load builds a registry from a symbols YAML file.
func Load(path string) (*Registry, error) {
	f, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return Build(f.BaseAssets, f.Quotes)
}
