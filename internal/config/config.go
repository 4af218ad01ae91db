package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RunOptions is the option bundle handed to every playbook run.
type RunOptions struct {
	// Connection is the default transport: "local" or "ssh"
	Connection string `yaml:"connection"`

	// RemoteUser is used for hosts that do not name their own user
	RemoteUser string `yaml:"remote_user"`

	// PrivateKeyFile is used for hosts that do not name their own key
	PrivateKeyFile string `yaml:"private_key_file"`

	// Forks caps how many hosts run a task at the same time
	Forks int `yaml:"forks"`

	// Timeout bounds connection setup per host
	Timeout time.Duration `yaml:"timeout"`

	// Become enables privilege escalation for every task
	Become       bool   `yaml:"become"`
	BecomeMethod string `yaml:"become_method"`
	BecomeUser   string `yaml:"become_user"`

	// Check runs modules without making changes
	Check bool `yaml:"check"`

	// Diff asks modules to report before/after content
	Diff bool `yaml:"diff"`
}

// Config represents plumbapi configuration options
type Config struct {
	// Listen is the HTTP listen address
	Listen string `yaml:"listen"`

	// Inventory is a YAML path, a comma separated host list or an ec2:// source
	Inventory string `yaml:"inventory"`

	// Playbook is the playbook run on every trigger
	Playbook string `yaml:"playbook"`

	// ExtraVars override every other variable source
	ExtraVars map[string]any `yaml:"extra_vars"`

	// Passwords holds conn_pass / become_pass
	Passwords map[string]string `yaml:"passwords"`

	// RunLock, when set, is a lock file that serializes runs across processes
	RunLock string `yaml:"run_lock"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	Options RunOptions `yaml:"options"`
}

// DefaultConfig returns a Config with the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Listen:    "0.0.0.0:5000",
		Inventory: "hosts",
		Playbook:  "myplaybook.yml",
		ExtraVars: map[string]any{},
		Passwords: map[string]string{"vault_pass": "secret"},
		LogLevel:  "info",
		Options: RunOptions{
			Connection:   "local",
			RemoteUser:   "slotlocker",
			Forks:        100,
			Timeout:      30 * time.Second,
			BecomeMethod: "sudo",
			BecomeUser:   "root",
			Check:        false,
			Diff:         false,
		},
	}
}

// LoadConfig loads configuration from the specified file path.
// If the file doesn't exist, returns default configuration without error.
// If the file exists but is malformed, returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// durations arrive as strings ("45s")
	type yamlOptions struct {
		Connection     string `yaml:"connection"`
		RemoteUser     string `yaml:"remote_user"`
		PrivateKeyFile string `yaml:"private_key_file"`
		Forks          int    `yaml:"forks"`
		Timeout        string `yaml:"timeout"`
		Become         *bool  `yaml:"become"`
		BecomeMethod   string `yaml:"become_method"`
		BecomeUser     string `yaml:"become_user"`
		Check          *bool  `yaml:"check"`
		Diff           *bool  `yaml:"diff"`
	}
	type yamlConfig struct {
		Listen    string            `yaml:"listen"`
		Inventory string            `yaml:"inventory"`
		Playbook  string            `yaml:"playbook"`
		ExtraVars map[string]any    `yaml:"extra_vars"`
		Passwords map[string]string `yaml:"passwords"`
		RunLock   string            `yaml:"run_lock"`
		LogLevel  string            `yaml:"log_level"`
		Options   yamlOptions       `yaml:"options"`
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if yc.Listen != "" {
		cfg.Listen = yc.Listen
	}
	if yc.Inventory != "" {
		cfg.Inventory = yc.Inventory
	}
	if yc.Playbook != "" {
		cfg.Playbook = yc.Playbook
	}
	if yc.ExtraVars != nil {
		cfg.ExtraVars = yc.ExtraVars
	}
	if yc.Passwords != nil {
		cfg.Passwords = yc.Passwords
	}
	if yc.RunLock != "" {
		cfg.RunLock = yc.RunLock
	}
	if yc.LogLevel != "" {
		cfg.LogLevel = yc.LogLevel
	}

	o := yc.Options
	if o.Connection != "" {
		cfg.Options.Connection = o.Connection
	}
	if o.RemoteUser != "" {
		cfg.Options.RemoteUser = o.RemoteUser
	}
	if o.PrivateKeyFile != "" {
		cfg.Options.PrivateKeyFile = o.PrivateKeyFile
	}
	if o.Forks != 0 {
		cfg.Options.Forks = o.Forks
	}
	if o.Timeout != "" {
		timeout, err := time.ParseDuration(o.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout format %q: %w", o.Timeout, err)
		}
		cfg.Options.Timeout = timeout
	}
	if o.Become != nil {
		cfg.Options.Become = *o.Become
	}
	if o.BecomeMethod != "" {
		cfg.Options.BecomeMethod = o.BecomeMethod
	}
	if o.BecomeUser != "" {
		cfg.Options.BecomeUser = o.BecomeUser
	}
	if o.Check != nil {
		cfg.Options.Check = *o.Check
	}
	if o.Diff != nil {
		cfg.Options.Diff = *o.Diff
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks option values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	switch c.Options.Connection {
	case "local", "ssh":
	default:
		return fmt.Errorf("invalid connection %q: must be local or ssh", c.Options.Connection)
	}
	if c.Options.Forks < 1 {
		return fmt.Errorf("invalid forks %d: must be at least 1", c.Options.Forks)
	}
	switch c.Options.BecomeMethod {
	case "sudo", "su":
	default:
		return fmt.Errorf("invalid become_method %q: must be sudo or su", c.Options.BecomeMethod)
	}
	return nil
}
