package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	InputDir  string `toml:"input_dir"`
	DataDir   string `toml:"data_dir"`
	LogDir    string `toml:"log_dir"`
	SampleDir string `toml:"sample_dir"`
}

// Archives controls archive discovery and handle management.
type Archives struct {
	// Extensions is the allow-list of archive suffixes. Multi-part suffixes such
	// as ".tar.gz" are matched as a whole. Membership alone never qualifies a
	// file; its content signature must also match.
	Extensions     []string `toml:"extensions"`
	MaxOpenHandles int      `toml:"max_open_handles"`
	FollowSymlinks bool     `toml:"follow_symlinks"`
}

// Decode controls how member bytes become text.
type Decode struct {
	// Encoding is an IANA character set name (utf-8, latin1, windows-1252, utf-16le, ...).
	Encoding string `toml:"encoding"`
	// Errors selects the decode-error policy: "strict" fails the job,
	// "replace" substitutes U+FFFD, "ignore" drops invalid sequences.
	Errors            string   `toml:"errors"`
	SecondarySuffixes []string `toml:"secondary_suffixes"`
	MaxMemberBytes    int64    `toml:"max_member_bytes"`
}

// Workflow contains worker pool sizing and timing, in seconds.
type Workflow struct {
	Workers             int  `toml:"workers"`
	PollInterval        int  `toml:"poll_interval"`
	ErrorRetryInterval  int  `toml:"error_retry_interval"`
	HeartbeatInterval   int  `toml:"heartbeat_interval"`
	ClaimTimeout        int  `toml:"claim_timeout"`
	MaxStoreFailures    int  `toml:"max_store_failures"`
	ResetClaimedOnStart bool `toml:"reset_claimed_on_start"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for textmill.
//
// Configuration sections by subsystem:
//   - Paths: input archives, database, logs, and materialized samples
//   - Archives: extension allow-list and archive handle cache size
//   - Decode: character encoding, decode-error policy, member compression suffixes
//   - Workflow: worker count, polling, heartbeat and claim timeouts
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Archives Archives `toml:"archives"`
	Decode   Decode   `toml:"decode"`
	Workflow Workflow `toml:"workflow"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigRelativePath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigRelativePath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(defaultProjectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories textmill writes to. The input
// directory is never created; a missing input root is reported by the caller.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the job store location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, defaultDatabaseName)
}

// LockPath returns the lock file guarding a single extraction run per database.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, defaultLockName)
}

// LogFilePath returns the persistent log file location.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, defaultLogFileName)
}

// PollInterval returns the idle wait between claim attempts in follow mode.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.PollInterval) * time.Second
}

// ErrorRetryInterval returns the backoff applied after a store failure.
func (c *Config) ErrorRetryInterval() time.Duration {
	return time.Duration(c.Workflow.ErrorRetryInterval) * time.Second
}

// HeartbeatInterval returns how often a worker refreshes its claim.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Workflow.HeartbeatInterval) * time.Second
}

// ClaimTimeout returns the heartbeat age after which a claim is considered abandoned.
func (c *Config) ClaimTimeout() time.Duration {
	return time.Duration(c.Workflow.ClaimTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() (string, error) {
	var buf strings.Builder
	encoder := toml.NewEncoder(&buf)
	encoder.SetIndentTables(true)
	if err := encoder.Encode(c); err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return buf.String(), nil
}
