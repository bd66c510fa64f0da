package core

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the driver configuration.
type Config struct {
	// ExecutablesRoot holds the renderer install, plugins, app.config and tools.
	ExecutablesRoot string          `yaml:"executables_root"`
	WorkDir         string          `yaml:"work_dir"`
	TempDir         string          `yaml:"temp_dir"`
	Ledger          string          `yaml:"ledger"`
	Concurrency     int             `yaml:"concurrency"`
	Agent           AgentConfig     `yaml:"agent"`
	Publish         PublishConfig   `yaml:"publish"`
	Telemetry       TelemetryConfig `yaml:"telemetry"`
}

type AgentConfig struct {
	Listen   string `yaml:"listen"`
	Token    string `yaml:"-"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	ClientCA string `yaml:"client_ca"`
}

type PublishConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	KeyPath    string `yaml:"key_path"`
	Password   string `yaml:"-"`
	KnownHosts string `yaml:"known_hosts"`
	RemoteDir  string `yaml:"remote_dir"`
	Retries    int    `yaml:"retries"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// ConfigDir is $XDG_CONFIG_HOME/framefarm or ~/.config/framefarm.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "framefarm")
}

// DefaultConfig returns the settings used when no config file exists.
func DefaultConfig() Config {
	dir := ConfigDir()
	return Config{
		WorkDir:     filepath.Join(os.TempDir(), "framefarm"),
		Ledger:      filepath.Join(dir, "ledger.db"),
		Concurrency: 2,
		Agent:       AgentConfig{Listen: "127.0.0.1:8787"},
		Publish: PublishConfig{
			Port:       22,
			KeyPath:    filepath.Join(dir, "ssh", "id_ed25519"),
			KnownHosts: filepath.Join(dir, "ssh", "known_hosts"),
			RemoteDir:  "renders",
			Retries:    2,
		},
	}
}

// LoadConfig reads YAML configuration over the defaults. If path is empty it
// resolves ConfigDir()/config.yaml, which may be absent.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = filepath.Join(ConfigDir(), "config.yaml")
	}
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return cfg, fmt.Errorf("open config: %w", err)
	}

	// Secrets come from secrets.env or the environment, never from YAML.
	secrets, _ := LoadSecretsEnv("")
	for _, k := range []string{EnvAgentToken, EnvPublishPassword, EnvPublishKey} {
		if v := os.Getenv(k); v != "" {
			secrets[k] = v
		}
	}
	if v := secrets[EnvAgentToken]; v != "" {
		cfg.Agent.Token = v
	}
	if v := secrets[EnvPublishPassword]; v != "" {
		cfg.Publish.Password = v
	}
	if v := secrets[EnvPublishKey]; v != "" {
		cfg.Publish.KeyPath = v
	}
	return cfg, nil
}
