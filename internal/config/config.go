package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
	StateDir  string `toml:"state_dir"`
	APIBind   string `toml:"api_bind"`
	APIToken  string `toml:"api_token"`
	// EnvFile is loaded before environment overrides are applied.
	EnvFile string `toml:"env_file"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
	MaxSizeMB     int    `toml:"max_size_mb"`
}

// Orchestrator contains worker pool, queue and scheduler settings.
type Orchestrator struct {
	Concurrency           int    `toml:"concurrency"`
	QueueCapacity         int    `toml:"queue_capacity"`
	QueueFullPolicy       string `toml:"queue_full_policy"`
	SchedulerPollSeconds  int    `toml:"scheduler_poll_seconds"`
	RunOnceTimeoutSeconds int    `toml:"run_once_timeout_seconds"`
	StageTimeoutSeconds   int    `toml:"stage_timeout_seconds"`
	DryRun                bool   `toml:"dry_run"`
	DuplicatePolicy       string `toml:"duplicate_policy"`
	Timezone              string `toml:"timezone"`
}

// Orchestrator policy values.
const (
	DuplicateAllow       = "allow"
	DuplicateSkipPending = "skip_pending"
	QueueFullReject      = "reject"
	QueueFullBlock       = "block"
)

// RetryPolicy configures stage retries. Zero fields inherit from the
// [retry] section when used as a per-stage override.
type RetryPolicy struct {
	MaxAttempts      int      `toml:"max_attempts"`
	BaseDelaySeconds float64  `toml:"base_delay_seconds"`
	Multiplier       float64  `toml:"multiplier"`
	MaxDelaySeconds  float64  `toml:"max_delay_seconds"`
	Retryable        []string `toml:"retryable"`
}

// Retry holds the default policy plus per-stage overrides.
type Retry struct {
	MaxAttempts      int                    `toml:"max_attempts"`
	BaseDelaySeconds float64                `toml:"base_delay_seconds"`
	Multiplier       float64                `toml:"multiplier"`
	MaxDelaySeconds  float64                `toml:"max_delay_seconds"`
	Retryable        []string               `toml:"retryable"`
	Stages           map[string]RetryPolicy `toml:"stages"`
}

// Policy returns the default policy without stage overrides.
func (r Retry) Policy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      r.MaxAttempts,
		BaseDelaySeconds: r.BaseDelaySeconds,
		Multiplier:       r.Multiplier,
		MaxDelaySeconds:  r.MaxDelaySeconds,
		Retryable:        append([]string(nil), r.Retryable...),
	}
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobSucceeded   bool   `toml:"job_succeeded"`
	JobFailed      bool   `toml:"job_failed"`
	JobCancelled   bool   `toml:"job_cancelled"`
}

// Provider kinds.
const (
	ProviderLLM     = "llm"
	ProviderCommand = "command"
	ProviderDryRun  = "dryrun"
)

// Provider declares one capability backend.
type Provider struct {
	Name         string   `toml:"name"`
	Kind         string   `toml:"kind"`
	Capabilities []string `toml:"capabilities"`

	// llm
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	APIKeyEnv      string `toml:"api_key_env"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`

	// command
	Command            string   `toml:"command"`
	Args               []string `toml:"args"`
	PermanentExitCodes []int    `toml:"permanent_exit_codes"`
	Output             string   `toml:"output"`
	// ProbeArgs are run by probing preflight checks, e.g. ["--version"].
	ProbeArgs []string `toml:"probe_args"`

	// dryrun
	DelayMillis int `toml:"delay_millis"`
}

// Supports reports whether the provider declares the capability.
func (p Provider) Supports(capability string) bool {
	for _, c := range p.Capabilities {
		if strings.EqualFold(c, capability) {
			return true
		}
	}
	return false
}

// ScriptRules bounds the script validation gate.
type ScriptRules struct {
	MinWords       int `toml:"min_words"`
	MaxWords       int `toml:"max_words"`
	MaxTitleLength int `toml:"max_title_length"`
	// MaxTitleSimilarity rejects titles whose token cosine similarity to one
	// of the line's last TitleWindow succeeded titles exceeds it. Zero
	// disables the check.
	MaxTitleSimilarity float64 `toml:"max_title_similarity"`
	TitleWindow        int     `toml:"title_window"`
}

// Line is one independently scheduled content line.
type Line struct {
	ID             string              `toml:"id"`
	DisplayName    string              `toml:"display_name"`
	SchedulePaused bool                `toml:"schedule_paused"`
	Priority       int                 `toml:"priority"`
	Schedule       []string            `toml:"schedule"`
	Stages         []string            `toml:"stages"`
	Providers      map[string][]string `toml:"providers"`
	Topics         []string            `toml:"topics"`
	BannedTopics   []string            `toml:"banned_topics"`
	Style          string              `toml:"style"`
	VoiceID        string              `toml:"voice_id"`
	ThumbnailStyle string              `toml:"thumbnail_style"`
	Tags           []string            `toml:"tags"`
	TargetMinutes  float64             `toml:"target_minutes"`
	Script         ScriptRules         `toml:"script"`
}

// Config encapsulates all configuration values for ytauto.
//
// Configuration sections by subsystem:
//   - Paths: output, log and state directories plus the API bind address
//   - Logging: log format, level, and retention
//   - Orchestrator: worker pool, queue capacity, scheduler polling, dry-run
//   - Retry: default stage retry policy and per-stage overrides
//   - Notifications: ntfy push notification settings
//   - Providers: capability backends (LLM, external commands, simulator)
//   - Lines: content lines with their schedule, stages and provider chains
type Config struct {
	Paths         Paths         `toml:"paths"`
	Logging       Logging       `toml:"logging"`
	Orchestrator  Orchestrator  `toml:"orchestrator"`
	Retry         Retry         `toml:"retry"`
	Notifications Notifications `toml:"notifications"`
	Providers     []Provider    `toml:"providers"`
	Lines         []Line        `toml:"lines"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
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

// Parse decodes TOML content without touching the filesystem search path.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
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

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(projectConfigName)
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

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputDir, c.Paths.LogDir, c.Paths.StateDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// Line returns the line with the given id, matched case-insensitively.
func (c *Config) Line(id string) (Line, bool) {
	for _, line := range c.Lines {
		if strings.EqualFold(line.ID, strings.TrimSpace(id)) {
			return line, true
		}
	}
	return Line{}, false
}

// Provider returns the provider with the given name.
func (c *Config) Provider(name string) (Provider, bool) {
	for _, p := range c.Providers {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			return p, true
		}
	}
	return Provider{}, false
}

// LineIDs lists configured lines in declaration order.
func (c *Config) LineIDs() []string {
	ids := make([]string, 0, len(c.Lines))
	for _, line := range c.Lines {
		ids = append(ids, line.ID)
	}
	return ids
}

// HistoryPath is the SQLite job history database.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, historyFileName)
}

// LockPath is the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, lockFileName)
}

// SocketPath is the daemon JSON-RPC unix socket.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, socketFileName)
}

// PIDPath records the running daemon's process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, pidFileName)
}

// StagePolicy resolves the effective retry policy for a stage.
func (c *Config) StagePolicy(stage string) RetryPolicy {
	policy := c.Retry.Policy()
	override, ok := c.Retry.Stages[strings.ToLower(strings.TrimSpace(stage))]
	if !ok {
		return policy
	}
	if override.MaxAttempts > 0 {
		policy.MaxAttempts = override.MaxAttempts
	}
	if override.BaseDelaySeconds > 0 {
		policy.BaseDelaySeconds = override.BaseDelaySeconds
	}
	if override.Multiplier > 0 {
		policy.Multiplier = override.Multiplier
	}
	if override.MaxDelaySeconds > 0 {
		policy.MaxDelaySeconds = override.MaxDelaySeconds
	}
	if len(override.Retryable) > 0 {
		policy.Retryable = append([]string(nil), override.Retryable...)
	}
	return policy
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

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
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
