package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSaveRoot is where Checkpoint keeps per-game snapshot folders
const DefaultSaveRoot = "/3ds/Checkpoint/saves"

// ReplicaKind selects the transport used to reach a replica
type ReplicaKind string

const (
	KindFTP   ReplicaKind = "ftp"
	KindLocal ReplicaKind = "local"
)

// TargetPolicy decides which replicas receive a game held by a single replica
// when more than two replicas are configured
type TargetPolicy string

const (
	// TargetBroadcast copies to every replica lacking the game
	TargetBroadcast TargetPolicy = "broadcast"

	// TargetFirst copies only to the lowest-sorted replica lacking the game
	TargetFirst TargetPolicy = "first"
)

// Config represents the complete savesync configuration
type Config struct {
	Replicas map[string]ReplicaConfig `yaml:"replicas"`
	Paths    PathsConfig              `yaml:"paths"`
	Sync     SyncConfig               `yaml:"sync"`
	Transfer TransferConfig           `yaml:"transfer"`
}

// ReplicaConfig describes one storage endpoint
type ReplicaConfig struct {
	DisplayName string      `yaml:"display_name"`
	Kind        ReplicaKind `yaml:"kind"`
	IP          string      `yaml:"ip"`
	Port        int         `yaml:"port"`
	User        string      `yaml:"user"`
	Password    string      `yaml:"password"`
	// Path is the mount point of a local replica
	Path string `yaml:"path"`
}

// PathsConfig configures remote and local paths
type PathsConfig struct {
	SaveRoot   string `yaml:"save_root"`
	StagingDir string `yaml:"staging_dir"`
	StateDir   string `yaml:"state_dir"`
}

// SyncConfig configures planning behavior
type SyncConfig struct {
	TargetPolicy TargetPolicy `yaml:"target_policy"`
	Filter       string       `yaml:"filter"`
}

// TransferConfig configures the transfer executor
type TransferConfig struct {
	Parallelism int           `yaml:"parallelism"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes, defaults and validates configuration bytes. Both the YAML
// layout and a bare JSON map of replica id to replica settings are accepted.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if len(cfg.Replicas) == 0 {
		var bare map[string]ReplicaConfig
		if err := yaml.Unmarshal(data, &bare); err == nil && looksLikeReplicas(bare) {
			cfg = Config{Replicas: bare}
		}
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func looksLikeReplicas(m map[string]ReplicaConfig) bool {
	if len(m) == 0 {
		return false
	}
	for _, r := range m {
		if r.IP == "" && r.Path == "" {
			return false
		}
	}
	return true
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	for id, r := range c.Replicas {
		r.IP = os.ExpandEnv(r.IP)
		r.User = os.ExpandEnv(r.User)
		r.Password = os.ExpandEnv(r.Password)
		r.Path = os.ExpandEnv(r.Path)
		c.Replicas[id] = r
	}
	c.Paths.SaveRoot = os.ExpandEnv(c.Paths.SaveRoot)
	c.Paths.StagingDir = os.ExpandEnv(c.Paths.StagingDir)
	c.Paths.StateDir = os.ExpandEnv(c.Paths.StateDir)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	for id, r := range c.Replicas {
		if r.Kind == "" {
			r.Kind = KindFTP
		}
		if r.DisplayName == "" {
			r.DisplayName = id
		}
		if r.Kind == KindFTP && r.User == "" {
			r.User = "anonymous"
			if r.Password == "" {
				r.Password = "anonymous@"
			}
		}
		c.Replicas[id] = r
	}
	if c.Paths.SaveRoot == "" {
		c.Paths.SaveRoot = DefaultSaveRoot
	}
	if c.Paths.StagingDir == "" {
		c.Paths.StagingDir = filepath.Join(os.TempDir(), "savesync")
	}
	if c.Sync.TargetPolicy == "" {
		c.Sync.TargetPolicy = TargetBroadcast
	}
	if c.Transfer.Parallelism <= 0 {
		c.Transfer.Parallelism = 1
	}
	if c.Transfer.DialTimeout <= 0 {
		c.Transfer.DialTimeout = 10 * time.Second
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if len(c.Replicas) == 0 {
		return fmt.Errorf("at least one replica is required")
	}

	for _, id := range c.ReplicaIDs() {
		r := c.Replicas[id]
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("replica id must not be empty")
		}
		switch r.Kind {
		case KindFTP:
			if r.IP == "" {
				return fmt.Errorf("replicas.%s.ip is required", id)
			}
			if r.Port < 1 || r.Port > 65535 {
				return fmt.Errorf("replicas.%s.port must be between 1 and 65535: %d", id, r.Port)
			}
		case KindLocal:
			if r.Path == "" {
				return fmt.Errorf("replicas.%s.path is required for local replicas", id)
			}
			if !filepath.IsAbs(r.Path) {
				return fmt.Errorf("replicas.%s.path must be an absolute path: %s", id, r.Path)
			}
		default:
			return fmt.Errorf("invalid replicas.%s.kind: %s (must be ftp or local)", id, r.Kind)
		}
	}

	// Remote paths always use forward slashes
	if !path.IsAbs(c.Paths.SaveRoot) {
		return fmt.Errorf("paths.save_root must be an absolute path: %s", c.Paths.SaveRoot)
	}
	if c.Paths.StateDir != "" && !filepath.IsAbs(c.Paths.StateDir) {
		return fmt.Errorf("paths.state_dir must be an absolute path: %s", c.Paths.StateDir)
	}

	switch c.Sync.TargetPolicy {
	case TargetBroadcast, TargetFirst:
		// valid
	default:
		return fmt.Errorf("invalid sync.target_policy: %s (must be broadcast or first)", c.Sync.TargetPolicy)
	}

	return nil
}

// ReplicaIDs returns the configured replica ids in sorted order
func (c *Config) ReplicaIDs() []string {
	ids := make([]string, 0, len(c.Replicas))
	for id := range c.Replicas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Address returns host:port for an FTP replica
func (r ReplicaConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.IP, r.Port)
}

// StateFilePath returns the path to the last-run record, or "" when no state
// directory is configured
func (c *Config) StateFilePath() string {
	if c.Paths.StateDir == "" {
		return ""
	}
	return filepath.Join(c.Paths.StateDir, "last-run.json")
}
