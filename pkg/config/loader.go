package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths are checked in order when Load is called with an empty
// explicit path.
var DefaultSearchPaths = []string{
	"/etc/lxc-autoscaler/config.yaml",
	"/usr/local/etc/lxc-autoscaler/config.yaml",
	"./config.yaml",
}

// Load locates, reads, substitutes, and validates the configuration file.
// If path is empty, DefaultSearchPaths are checked in order.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", resolved, err)
	}

	var generic interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("config: invalid YAML syntax in %s: %w", resolved, err)
	}

	substituted, err := yaml.Marshal(substituteEnv(generic))
	if err != nil {
		return nil, fmt.Errorf("config: re-encode %s: %w", resolved, err)
	}

	var doc Document
	if err := yaml.Unmarshal(substituted, &doc); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", resolved, err)
	}

	return FromDocument(doc)
}

func resolvePath(path string) (string, error) {
	candidates := DefaultSearchPaths
	if path != "" {
		candidates = []string{path}
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("config: no configuration file found, searched: %v", candidates)
}
