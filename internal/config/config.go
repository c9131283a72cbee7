package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	// DefaultCommand is the command to run when no arguments are provided
	// Valid values: "help", "list", "tui"
	DefaultCommand string `yaml:"default_command"`

	PBS   PBS   `yaml:"pbs"`
	Paths Paths `yaml:"paths"`

	// FeedCommand overrides the remote command that prints the job list as JSON.
	// Empty means "python3 {linux_base_path}/{user}/{remote_script_name} --json".
	FeedCommand string `yaml:"feed_command"`

	// DriveMapping maps a local drive letter to a server hostname
	DriveMapping map[string]string `yaml:"drive_mapping"`
	Servers      []Server          `yaml:"servers"`

	SSH  SSH  `yaml:"ssh"`
	Tail Tail `yaml:"tail"`
	Log  Log  `yaml:"log"`

	// DatabasePath is the sqlite file holding feed diagnostics and operation history
	DatabasePath string `yaml:"database_path"`
}

// PBS holds the scheduler command paths
type PBS struct {
	QdelPath         string `yaml:"qdel_path"`
	QsubPath         string `yaml:"qsub_path"`
	QstatPath        string `yaml:"qstat_path"`
	SubmitScriptName string `yaml:"submit_script_name"`
}

// Paths holds the remote filesystem layout
type Paths struct {
	LinuxBasePath    string `yaml:"linux_base_path"`
	RemoteScriptName string `yaml:"remote_script_name"`
}

// Server is one PBS server reachable over SSH
type Server struct {
	Name     string `yaml:"name"`
	Hostname string `yaml:"hostname"`
	// KeyFile overrides ssh.key_file for this server
	KeyFile string `yaml:"key_file"`
}

// SSH configures the remote command channel
type SSH struct {
	User string `yaml:"user"`
	// KeyFile is the private key used for all servers without their own key_file
	KeyFile string `yaml:"key_file"`
	// ConnectionTimeout is the per-connection timeout in seconds
	ConnectionTimeout int `yaml:"connection_timeout"`
	// Transport is "native" (built-in client) or "openssh" (the ssh binary)
	Transport string `yaml:"transport"`
	// KnownHosts enables host key checking against the given file (native transport)
	KnownHosts string `yaml:"known_hosts"`
	// Parallelism bounds concurrent connections during a fetch; 0 means one per server
	Parallelism int `yaml:"parallelism"`
}

// Tail configures log following
type Tail struct {
	Lines        int    `yaml:"lines"`
	PollInterval int    `yaml:"poll_interval"`
	LogRelPath   string `yaml:"log_relpath"`
}

// Log configures diagnostic logging
type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Transport names
const (
	TransportNative  = "native"
	TransportOpenSSH = "openssh"
)

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DefaultCommand: "help",
		PBS: PBS{
			QdelPath:         "/opt/pbs/bin/qdel",
			QsubPath:         "/opt/pbs/bin/qsub",
			QstatPath:        "/opt/pbs/bin/qstat",
			SubmitScriptName: "submit.sh",
		},
		Paths: Paths{
			RemoteScriptName: "que.py",
		},
		DriveMapping: map[string]string{},
		SSH: SSH{
			ConnectionTimeout: 10,
			Transport:         TransportNative,
		},
		Tail: Tail{
			Lines:        50,
			PollInterval: 3,
			LogRelPath:   "Simulation/messag",
		},
		Log: Log{
			Level: "warn",
		},
	}
}

var (
	configDir  string
	legacyPath string
)

func init() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	configDir = filepath.Join(home, ".config", "pbs-jobs")
	legacyPath = filepath.Join(home, ".pbs_monitor", "config.yaml")
}

// ConfigDir returns the directory holding the config file, database and logs
func ConfigDir() string {
	return configDir
}

// SearchPaths returns the locations Load tries when no explicit path is given
func SearchPaths() []string {
	paths := []string{"config.yaml"}
	if configDir != "" {
		paths = append(paths, filepath.Join(configDir, "config.yaml"))
	}
	if legacyPath != "" {
		paths = append(paths, legacyPath)
	}
	return paths
}

// ErrNotFound is returned by Load when no config file exists
var ErrNotFound = errors.New("configuration file not found")

// Load reads the config file at path, or the first existing file in SearchPaths.
// It returns the path that was read.
func Load(path string) (*Config, string, error) {
	cfg := DefaultConfig()

	candidates := SearchPaths()
	if path != "" {
		candidates = []string{path}
	}

	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return cfg, candidate, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return cfg, candidate, fmt.Errorf("parse %s: %w", candidate, err)
		}
		cfg.normalize()
		return cfg, candidate, nil
	}

	return cfg, "", fmt.Errorf("%w (searched %s)", ErrNotFound, strings.Join(candidates, ", "))
}

// normalize upper-cases drive letters
func (c *Config) normalize() {
	mapping := make(map[string]string, len(c.DriveMapping))
	for drive, host := range c.DriveMapping {
		mapping[strings.ToUpper(strings.TrimSuffix(drive, ":"))] = host
	}
	c.DriveMapping = mapping
}

// Validate checks required keys. Problems that do not prevent operation are
// returned as warnings.
func (c *Config) Validate() (warnings []string, err error) {
	var errs []error

	if c.PBS.QdelPath == "" {
		errs = append(errs, errors.New("missing key: 'pbs.qdel_path'"))
	}
	if c.PBS.QsubPath == "" {
		errs = append(errs, errors.New("missing key: 'pbs.qsub_path'"))
	}
	if c.PBS.SubmitScriptName == "" {
		errs = append(errs, errors.New("missing key: 'pbs.submit_script_name'"))
	}
	if c.Paths.LinuxBasePath == "" {
		errs = append(errs, errors.New("missing key: 'paths.linux_base_path'"))
	}
	if c.Paths.RemoteScriptName == "" && c.FeedCommand == "" {
		errs = append(errs, errors.New("missing key: 'paths.remote_script_name'"))
	}

	if len(c.Servers) == 0 {
		errs = append(errs, errors.New("'servers' list cannot be empty"))
	}
	names := make(map[string]bool)
	hosts := make(map[string]bool)
	for i, srv := range c.Servers {
		if srv.Hostname == "" {
			errs = append(errs, fmt.Errorf("server %d: missing 'hostname'", i+1))
		}
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("server %d: missing 'name'", i+1))
		} else if names[srv.Name] {
			errs = append(errs, fmt.Errorf("server %d: duplicate name %q", i+1, srv.Name))
		}
		names[srv.Name] = true
		hosts[srv.Hostname] = true
	}

	if len(c.DriveMapping) == 0 {
		errs = append(errs, errors.New("'drive_mapping' cannot be empty"))
	}
	byHost := make(map[string][]string)
	for drive, host := range c.DriveMapping {
		if len(drive) != 1 {
			errs = append(errs, fmt.Errorf("drive_mapping: %q is not a single drive letter", drive))
		}
		byHost[host] = append(byHost[host], drive)
		if !hosts[host] {
			warnings = append(warnings, fmt.Sprintf("drive %s: maps to %s which is not a configured server", drive, host))
		}
	}
	for host, drives := range byHost {
		if len(drives) > 1 {
			sort.Strings(drives)
			warnings = append(warnings, fmt.Sprintf("drives %s all map to %s; reverse lookup picks one arbitrarily", strings.Join(drives, ", "), host))
		}
	}
	sort.Strings(warnings)

	switch c.SSH.Transport {
	case "", TransportNative, TransportOpenSSH:
	default:
		errs = append(errs, fmt.Errorf("ssh.transport: unknown transport %q", c.SSH.Transport))
	}

	return warnings, errors.Join(errs...)
}

// RemoteUser returns the login name used on every server
func (c *Config) RemoteUser() string {
	if c.SSH.User != "" {
		return c.SSH.User
	}
	if u, err := user.Current(); err == nil {
		// Windows reports DOMAIN\user
		name := u.Username
		if idx := strings.LastIndex(name, `\`); idx >= 0 {
			name = name[idx+1:]
		}
		return name
	}
	return os.Getenv("USER")
}

// ConnectionTimeout returns the per-connection timeout
func (c *Config) ConnectionTimeout() time.Duration {
	if c.SSH.ConnectionTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.SSH.ConnectionTimeout) * time.Second
}

// PollInterval returns the log tail poll interval
func (c *Config) PollInterval() time.Duration {
	if c.Tail.PollInterval <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.Tail.PollInterval) * time.Second
}

// RemoteScriptDir is {linux_base_path}/{user}
func (c *Config) RemoteScriptDir() string {
	return strings.TrimSuffix(c.Paths.LinuxBasePath, "/") + "/" + c.RemoteUser()
}

// RemoteFeedCommand returns the command that prints the job list as JSON on a server
func (c *Config) RemoteFeedCommand() string {
	if c.FeedCommand != "" {
		return c.FeedCommand
	}
	return fmt.Sprintf("python3 %s/%s --json", c.RemoteScriptDir(), c.Paths.RemoteScriptName)
}

// DBPath returns the sqlite database path
func (c *Config) DBPath() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return filepath.Join(configDir, "pbs-jobs.db")
}

// KeyFileFor returns the private key for a server: its own key_file, the
// global ssh.key_file, or ~/.ssh/id_rsa when it exists. Empty means none.
func (c *Config) KeyFileFor(srv Server) string {
	if srv.KeyFile != "" {
		return srv.KeyFile
	}
	if c.SSH.KeyFile != "" {
		return c.SSH.KeyFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	def := filepath.Join(home, ".ssh", "id_rsa")
	if _, err := os.Stat(def); err == nil {
		return def
	}
	return ""
}

// ServerByName finds a server by its display name
func (c *Config) ServerByName(name string) (Server, bool) {
	for _, srv := range c.Servers {
		if srv.Name == name {
			return srv, true
		}
	}
	return Server{}, false
}

// ServerByHostname finds a server by its hostname
func (c *Config) ServerByHostname(hostname string) (Server, bool) {
	for _, srv := range c.Servers {
		if srv.Hostname == hostname {
			return srv, true
		}
	}
	return Server{}, false
}
