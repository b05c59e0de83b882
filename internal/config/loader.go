package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file on top of the defaults
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadWithEnv loads configuration from a file and applies environment variable overrides
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	// Validate after env overrides
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration after env overrides: %w", err)
	}

	return cfg, nil
}

func read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("VPN_ACCESS_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("VPN_ACCESS_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}

	if v := os.Getenv("VPN_ACCESS_ADMIN_TOKEN"); v != "" {
		cfg.Admin.Token = v
	}

	if v := os.Getenv("VPN_ACCESS_HOOK_TOKEN"); v != "" {
		cfg.Hook.Token = v
	}

	if v := os.Getenv("VPN_ACCESS_ENCRYPTION_KEY"); v != "" {
		cfg.Encryption.Key = v
	}

	if v := os.Getenv("VPN_SERVER_HOST"); v != "" {
		cfg.VPN.Host = v
	}

	if v := os.Getenv("VPN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VPN_PORT has invalid value %q: %w", v, err)
		}
		cfg.VPN.Port = port
	}

	if v := os.Getenv("VPN_PROTOCOL"); v != "" {
		cfg.VPN.Protocol = v
	}

	if v := os.Getenv("VPN_CLIENT_TEMPLATE"); v != "" {
		cfg.Profile.TemplatePath = v
	}

	if v, ok := os.LookupEnv("VPN_MFA_ENABLED"); ok {
		cfg.MFA.Enabled = v == "true"
	}

	if v := os.Getenv("VPN_ALLOWED_ROLES"); v != "" {
		var roles []string
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}
		cfg.Access.AllowedRoles = roles
	}

	if v := os.Getenv("VPN_STATUS_PATH"); v != "" {
		cfg.Status.Path = v
	}

	return nil
}
