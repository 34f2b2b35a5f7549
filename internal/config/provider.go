package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// RetrySettings overrides the reconciler's retry defaults. Zero values mean
// "use the default".
type RetrySettings struct {
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
}

// ProviderConfig holds the DNS provider type, retry options, and
// provider-specific connection settings.
type ProviderConfig struct {
	Provider string            `yaml:"provider"`
	Retry    RetrySettings     `yaml:"retry"`
	Settings map[string]string `yaml:"settings"`
}

// LoadProviderConfig reads the DNS provider configuration from the path
// specified by the DNS_PROVIDER_PATH environment variable, defaulting to
// "configs/dns-provider.yaml".
func LoadProviderConfig() (*ProviderConfig, error) {
	path := os.Getenv("DNS_PROVIDER_PATH")
	if path == "" {
		path = "configs/dns-provider.yaml"
	}
	return LoadProviderConfigFromPath(path)
}

// LoadProviderConfigFromPath reads the DNS provider configuration from the
// given file path.
func LoadProviderConfigFromPath(path string) (*ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading provider config file: %w", err)
	}

	var cfg ProviderConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing provider config file: %w", err)
	}

	if cfg.Provider == "" {
		return nil, fmt.Errorf("provider config: missing required field 'provider'")
	}
	if cfg.Retry.MaxAttempts < 0 {
		return nil, fmt.Errorf("provider config: negative retry.max_attempts")
	}

	// Expand ${ENV_VAR} references in setting values.
	for k, v := range cfg.Settings {
		cfg.Settings[k] = os.ExpandEnv(v)
	}

	return &cfg, nil
}
