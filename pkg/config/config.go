// Package config loads the agent's local, per-host configuration: its
// persistent node identity, how to reach the control plane, and the
// cluster API key. File values are the baseline; environment variables
// override them, matching the teacher's config precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the agent looks for its config file absent an
// override.
const DefaultPath = "/etc/lilac/agent.yaml"

// RegistryCredentials are optional private-registry credentials, loaded
// once at startup per spec §4.1 step 1 ("no per-job prompting").
type RegistryCredentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Server   string `yaml:"server"`
}

// AgentConfig is the agent's local state: everything it needs to identify
// itself and reach the control plane, persisted across restarts.
type AgentConfig struct {
	NodeID             string               `yaml:"node_id"`
	ControlPlaneURL    string               `yaml:"control_plane_url"`
	ClusterAPIKey      string               `yaml:"cluster_api_key"`
	HeartbeatInterval  string               `yaml:"heartbeat_interval,omitempty"`
	DockerHost         string               `yaml:"docker_host,omitempty"`
	RegistryCredential *RegistryCredentials `yaml:"registry_credentials,omitempty"`
}

// Load reads path, generating and persisting a new node UUID if the file
// is absent or has no node_id set, then applies LILAC_AGENT_* environment
// overrides.
func Load(path string) (*AgentConfig, error) {
	if path == "" {
		path = DefaultPath
	}

	cfg := &AgentConfig{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// First run on this host: proceed with an empty config; NodeID is
		// generated and persisted to path below.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("persist generated node id: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes cfg to path, creating parent directories as needed.
func Save(path string, cfg *AgentConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *AgentConfig) {
	if v := os.Getenv("LILAC_AGENT_NODE_ID"); v != "" {
		cfg.NodeID = v
	}
	if v := os.Getenv("LILAC_AGENT_CONTROL_PLANE_URL"); v != "" {
		cfg.ControlPlaneURL = v
	}
	if v := os.Getenv("LILAC_AGENT_CLUSTER_API_KEY"); v != "" {
		cfg.ClusterAPIKey = v
	}
	if v := os.Getenv("LILAC_AGENT_HEARTBEAT_INTERVAL"); v != "" {
		cfg.HeartbeatInterval = v
	}
	if v := os.Getenv("LILAC_AGENT_DOCKER_HOST"); v != "" {
		cfg.DockerHost = v
	}
}
