package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

func (c *Config) normalize() error {
	if err := c.loadEnvFile(); err != nil {
		return err
	}
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLogging()
	if err := c.normalizeOrchestrator(); err != nil {
		return err
	}
	c.normalizeRetry()
	c.normalizeNotifications()
	c.normalizeProviders()
	c.normalizeLines()
	return nil
}

// loadEnvFile reads paths.env_file into the process environment. Variables
// already set win over the file. A missing file is not an error.
func (c *Config) loadEnvFile() error {
	path := strings.TrimSpace(c.Paths.EnvFile)
	if path == "" {
		return nil
	}
	expanded, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("paths.env_file: %w", err)
	}
	if _, err := os.Stat(expanded); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(expanded); err != nil {
		return fmt.Errorf("load env file %q: %w", expanded, err)
	}
	c.Paths.EnvFile = expanded
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := lookupEnv("OUTPUT_DIR"); ok {
		c.Paths.OutputDir = value
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	var err error
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := lookupEnv("YTAUTO_API_TOKEN"); ok {
			c.Paths.APIToken = value
		}
	}
	return nil
}

func (c *Config) normalizeLogging() {
	if value, ok := lookupEnv("LOG_FORMAT"); ok {
		c.Logging.Format = value
	}
	if value, ok := lookupEnv("LOG_LEVEL"); ok {
		c.Logging.Level = value
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
}

func (c *Config) normalizeOrchestrator() error {
	o := &c.Orchestrator
	if value, ok := lookupEnv("DRY_RUN"); ok {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("DRY_RUN: %w", err)
		}
		o.DryRun = enabled
	}
	if value, ok := lookupEnv("SCHEDULE_TIMEZONE"); ok {
		o.Timezone = value
	}
	o.QueueFullPolicy = strings.ToLower(strings.TrimSpace(o.QueueFullPolicy))
	if o.QueueFullPolicy == "" {
		o.QueueFullPolicy = defaultQueueFullPolicy
	}
	o.DuplicatePolicy = strings.ToLower(strings.TrimSpace(o.DuplicatePolicy))
	if o.DuplicatePolicy == "" {
		o.DuplicatePolicy = defaultDuplicatePolicy
	}
	o.Timezone = strings.TrimSpace(o.Timezone)
	if o.Timezone == "" {
		o.Timezone = defaultTimezone
	}
	if o.SchedulerPollSeconds == 0 {
		o.SchedulerPollSeconds = defaultSchedulerPoll
	}
	if o.RunOnceTimeoutSeconds == 0 {
		o.RunOnceTimeoutSeconds = defaultRunOnceTimeout
	}
	return nil
}

func (c *Config) normalizeRetry() {
	r := &c.Retry
	if r.MaxAttempts == 0 {
		r.MaxAttempts = defaultRetryMaxAttempts
	}
	if r.Multiplier == 0 {
		r.Multiplier = defaultRetryMultiplier
	}
	r.Retryable = normalizeList(r.Retryable, strings.ToLower)
	if len(r.Stages) > 0 {
		stages := make(map[string]RetryPolicy, len(r.Stages))
		for name, policy := range r.Stages {
			policy.Retryable = normalizeList(policy.Retryable, strings.ToLower)
			stages[strings.ToLower(strings.TrimSpace(name))] = policy
		}
		r.Stages = stages
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := lookupEnv("NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = value
		}
	}
	if c.Notifications.RequestTimeout == 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeProviders() {
	if len(c.Providers) == 0 {
		c.Providers = []Provider{DefaultSimulator()}
		return
	}
	for i := range c.Providers {
		p := &c.Providers[i]
		p.Name = strings.TrimSpace(p.Name)
		p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
		p.Capabilities = normalizeList(p.Capabilities, strings.ToLower)
		switch p.Kind {
		case ProviderLLM:
			p.BaseURL = strings.TrimSpace(p.BaseURL)
			if p.BaseURL == "" {
				p.BaseURL = defaultLLMBaseURL
			}
			if strings.TrimSpace(p.Referer) == "" {
				p.Referer = defaultLLMReferer
			}
			if strings.TrimSpace(p.Title) == "" {
				p.Title = defaultLLMTitle
			}
			if strings.TrimSpace(p.APIKeyEnv) == "" {
				p.APIKeyEnv = defaultLLMAPIKeyEnv
			}
			p.APIKey = strings.TrimSpace(p.APIKey)
			if p.APIKey == "" {
				if value, ok := lookupEnv(p.APIKeyEnv); ok {
					p.APIKey = value
				}
			}
			p.Model = strings.TrimSpace(p.Model)
			if len(p.Capabilities) == 0 {
				p.Capabilities = []string{"script"}
			}
		case ProviderCommand:
			p.Command = strings.TrimSpace(p.Command)
		case ProviderDryRun:
			if len(p.Capabilities) == 0 {
				p.Capabilities = DefaultStages()
			}
		}
		if p.TimeoutSeconds <= 0 {
			p.TimeoutSeconds = defaultProviderTimeout
		}
	}
}

func (c *Config) normalizeLines() {
	if len(c.Lines) == 0 {
		c.Lines = DefaultLines()
	}
	for i := range c.Lines {
		line := &c.Lines[i]
		line.ID = strings.ToLower(strings.TrimSpace(line.ID))
		line.DisplayName = strings.TrimSpace(line.DisplayName)
		if value, ok := lookupEnv("SCHEDULE_" + strings.ToUpper(line.ID)); ok {
			line.Schedule = []string{value}
		}
		line.Schedule = normalizeList(line.Schedule, nil)
		line.Stages = normalizeList(line.Stages, strings.ToLower)
		if len(line.Stages) == 0 {
			line.Stages = DefaultStages()
		}
		chains := make(map[string][]string, len(line.Stages))
		for stage, names := range line.Providers {
			chains[strings.ToLower(strings.TrimSpace(stage))] = normalizeList(names, nil)
		}
		// Stages without an explicit chain use every provider that declares
		// the capability, in declaration order.
		for _, stage := range line.Stages {
			if len(chains[stage]) > 0 {
				continue
			}
			var names []string
			for _, p := range c.Providers {
				if p.Supports(stage) {
					names = append(names, p.Name)
				}
			}
			chains[stage] = names
		}
		line.Providers = chains
		line.BannedTopics = normalizeList(line.BannedTopics, strings.ToLower)
		if line.TargetMinutes <= 0 {
			line.TargetMinutes = defaultTargetMinutes
		}
		if line.Script.MinWords == 0 {
			line.Script.MinWords = defaultScriptMinWords
		}
		if line.Script.MaxWords == 0 {
			line.Script.MaxWords = defaultScriptMaxWords
		}
		if line.Script.MaxTitleLength == 0 {
			line.Script.MaxTitleLength = defaultScriptMaxTitle
		}
		if line.Script.MaxTitleSimilarity > 0 && line.Script.TitleWindow == 0 {
			line.Script.TitleWindow = defaultTitleWindow
		}
	}
}

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// normalizeList trims entries, drops blanks and duplicates, and applies fold
// when non-nil.
func normalizeList(values []string, fold func(string) string) []string {
	if len(values) == 0 {
		return values
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if fold != nil {
			v = fold(v)
		}
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
