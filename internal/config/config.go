package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	CA         CAConfig         `yaml:"ca"`
	VPN        VPNConfig        `yaml:"vpn"`
	Profile    ProfileConfig    `yaml:"profile"`
	MFA        MFAConfig        `yaml:"mfa"`
	Access     AccessConfig     `yaml:"access"`
	Status     StatusConfig     `yaml:"status"`
	Admin      AdminConfig      `yaml:"admin"`
	Hook       HookConfig       `yaml:"hook"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains server configuration
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CAConfig describes the external certificate authority scripts
type CAConfig struct {
	CreateScript string `yaml:"create_script"`
	RevokeScript string `yaml:"revoke_script"`
	Timeout      string `yaml:"timeout"`
	ClientPrefix string `yaml:"client_prefix"`
}

// VPNConfig contains the tunnel server parameters written into client profiles
type VPNConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Protocol string `yaml:"protocol"`
}

// ProfileConfig points at the client profile template
type ProfileConfig struct {
	TemplatePath string `yaml:"template_path"`
}

// MFAConfig controls second factor enrollment
type MFAConfig struct {
	Enabled bool   `yaml:"enabled"`
	Issuer  string `yaml:"issuer"`
}

// AccessConfig lists the user roles eligible for VPN access
type AccessConfig struct {
	AllowedRoles []string `yaml:"allowed_roles"`
}

// StatusConfig points at the daemon status file
type StatusConfig struct {
	Path string `yaml:"path"`
}

// AdminConfig contains admin configuration
type AdminConfig struct {
	Token string `yaml:"token"`
}

// HookConfig contains the token used by daemon connect/disconnect hooks
type HookConfig struct {
	Token string `yaml:"token"`
}

// EncryptionConfig contains encryption configuration
type EncryptionConfig struct {
	Key string `yaml:"key"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	File          string `yaml:"file"`
	RetentionDays int    `yaml:"retention_days"`
}

// Default returns a configuration populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{ListenAddr: ":5000"},
		Database: DatabaseConfig{Path: "/var/lib/vpnaccess/vpnaccess.db"},
		CA: CAConfig{
			CreateScript: "./vpn/scripts/create-client.sh",
			RevokeScript: "./vpn/scripts/revoke-client.sh",
			Timeout:      "60s",
			ClientPrefix: "user",
		},
		VPN:     VPNConfig{Port: 1194, Protocol: "udp"},
		Profile: ProfileConfig{TemplatePath: "./vpn/configs/client.conf"},
		MFA:     MFAConfig{Issuer: "VPN Access"},
		Access:  AccessConfig{AllowedRoles: []string{"admin", "teacher"}},
		Status:  StatusConfig{Path: "/var/log/openvpn/status.log"},
		Logging: LoggingConfig{Level: "info", Format: "text", RetentionDays: 90},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}

	// Database validation
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// CA validation
	if c.CA.CreateScript == "" {
		return fmt.Errorf("ca.create_script is required")
	}
	if c.CA.RevokeScript == "" {
		return fmt.Errorf("ca.revoke_script is required")
	}
	if d, err := time.ParseDuration(c.CA.Timeout); err != nil {
		return fmt.Errorf("ca.timeout is invalid: %w", err)
	} else if d <= 0 {
		return fmt.Errorf("ca.timeout must be positive")
	}
	if c.CA.ClientPrefix == "" {
		return fmt.Errorf("ca.client_prefix is required")
	}

	// VPN validation
	if c.VPN.Host == "" {
		return fmt.Errorf("vpn.host is required")
	}
	if c.VPN.Port <= 0 || c.VPN.Port > 65535 {
		return fmt.Errorf("vpn.port must be between 1 and 65535")
	}
	if c.VPN.Protocol != "udp" && c.VPN.Protocol != "tcp" {
		return fmt.Errorf("vpn.protocol must be 'udp' or 'tcp'")
	}

	if c.Profile.TemplatePath == "" {
		return fmt.Errorf("profile.template_path is required")
	}

	if c.MFA.Enabled && c.MFA.Issuer == "" {
		return fmt.Errorf("mfa.issuer is required when mfa is enabled")
	}

	if len(c.Access.AllowedRoles) == 0 {
		return fmt.Errorf("access.allowed_roles must not be empty")
	}

	// Admin validation
	if c.Admin.Token == "" {
		return fmt.Errorf("admin.token is required")
	}
	if c.Admin.Token == "your-secure-admin-token-change-me-in-production" {
		fmt.Fprintf(os.Stderr, "WARNING: Using default admin token. Please change it in production!\n")
	}

	// Encryption validation
	if len(c.Encryption.Key) != 64 { // 32 bytes = 64 hex chars
		return fmt.Errorf("encryption.key must be 64 hex characters (32 bytes)")
	}

	// Logging validation
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be 'json' or 'text'")
	}
	if c.Logging.RetentionDays < 0 {
		return fmt.Errorf("logging.retention_days must not be negative")
	}

	return nil
}

// GetCATimeout returns the script timeout as time.Duration
func (c *Config) GetCATimeout() time.Duration {
	d, _ := time.ParseDuration(c.CA.Timeout)
	return d
}

// GetRetention returns how long connection events are kept. Zero disables pruning.
func (c *Config) GetRetention() time.Duration {
	return time.Duration(c.Logging.RetentionDays) * 24 * time.Hour
}
