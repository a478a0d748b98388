package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/localclipper/clipper/internal/domain"
)

// LoadDefaults reads initial job settings from a YAML file.
// Keys missing from the file keep the built-in defaults; an empty path
// returns the built-in defaults unchanged.
func LoadDefaults(path string) (domain.Configuration, error) {
	cfg := domain.DefaultConfiguration()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open defaults file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse defaults file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
