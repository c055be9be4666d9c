package config

import "ytauto/internal/capability"

const (
	defaultConfigPath          = "~/.config/ytauto/config.toml"
	projectConfigName          = "ytauto.toml"
	defaultOutputDir           = "~/.local/share/ytauto/output"
	defaultLogDir              = "~/.local/share/ytauto/logs"
	defaultStateDir            = "~/.local/share/ytauto/state"
	defaultEnvFile             = ".env"
	defaultAPIBind             = "127.0.0.1:7491"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30
	defaultLogMaxSizeMB        = 50
	defaultConcurrency         = 2
	defaultSchedulerPoll       = 30
	defaultRunOnceTimeout      = 3600
	defaultStageTimeout        = 900
	defaultTimezone            = "Asia/Seoul"
	defaultRetryMaxAttempts    = 3
	defaultRetryBaseDelay      = 2.0
	defaultRetryMultiplier     = 2.0
	defaultRetryMaxDelay       = 120.0
	defaultNotifyTimeout       = 10
	defaultProviderTimeout     = 120
	defaultScriptMinWords      = 1200
	defaultScriptMaxWords      = 2000
	defaultScriptMaxTitle      = 100
	defaultTitleWindow         = 30
	defaultSimulatorName       = "simulator"
	defaultTargetMinutes       = 8
	historyFileName            = "history.db"
	lockFileName               = "ytauto.lock"
	socketFileName             = "ytauto.sock"
	pidFileName                = "ytauto.pid"
	defaultLLMBaseURL          = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMReferer          = "https://github.com/ytauto/ytauto"
	defaultLLMTitle            = "ytauto"
	defaultLLMAPIKeyEnv        = "YTAUTO_LLM_API_KEY"
	defaultQueueFullPolicy     = QueueFullReject
	defaultDuplicatePolicy     = DuplicateAllow
	defaultSimulatorDelayMilli = 0
)

// Default returns a Config populated with repository defaults. Lines and
// providers are filled in by normalize when the file declares none.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
			StateDir:  defaultStateDir,
			APIBind:   defaultAPIBind,
			EnvFile:   defaultEnvFile,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
			MaxSizeMB:     defaultLogMaxSizeMB,
		},
		Orchestrator: Orchestrator{
			Concurrency:           defaultConcurrency,
			QueueFullPolicy:       defaultQueueFullPolicy,
			SchedulerPollSeconds:  defaultSchedulerPoll,
			RunOnceTimeoutSeconds: defaultRunOnceTimeout,
			StageTimeoutSeconds:   defaultStageTimeout,
			DuplicatePolicy:       defaultDuplicatePolicy,
			Timezone:              defaultTimezone,
		},
		Retry: Retry{
			MaxAttempts:      defaultRetryMaxAttempts,
			BaseDelaySeconds: defaultRetryBaseDelay,
			Multiplier:       defaultRetryMultiplier,
			MaxDelaySeconds:  defaultRetryMaxDelay,
			Retryable:        []string{"rate_limited", "provider_unavailable"},
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			JobSucceeded:   true,
			JobFailed:      true,
		},
	}
}

// DefaultLines returns the built-in content lines.
func DefaultLines() []Line {
	return []Line{
		{
			ID:          "horror",
			DisplayName: "Dark Tales",
			Schedule:    []string{"0 18 * * 1,3,5"},
			Topics: []string{
				"unexplained mysteries",
				"creepy stories",
				"paranormal events",
				"urban legends",
				"true crime mysteries",
			},
			BannedTopics:   []string{"gore", "suicide", "self-harm", "child abuse"},
			Style:          "storytelling",
			ThumbnailStyle: "dark_dramatic",
			Tags:           []string{"horror stories", "scary stories", "creepypasta", "true scary stories"},
			TargetMinutes:  10,
		},
		{
			ID:          "facts",
			DisplayName: "Mind Blown Facts",
			Schedule:    []string{"0 18 * * 2,4,6"},
			Topics: []string{
				"science facts",
				"psychology facts",
				"history mysteries",
				"space exploration",
				"human body",
			},
			BannedTopics:   []string{"misinformation", "conspiracy theories"},
			Style:          "educational",
			ThumbnailStyle: "bright_curious",
			Tags:           []string{"facts", "amazing facts", "science facts", "education"},
			TargetMinutes:  6.5,
		},
		{
			ID:          "finance",
			DisplayName: "Wealth Insights",
			Schedule:    []string{"0 9 * * *"},
			Topics: []string{
				"investing strategies",
				"passive income",
				"stock market",
				"real estate",
				"crypto basics",
				"financial independence",
			},
			BannedTopics:   []string{"get rich quick", "gambling", "pump and dump"},
			Style:          "educational",
			ThumbnailStyle: "professional_money",
			Tags:           []string{"personal finance", "investing", "money tips", "financial freedom"},
			TargetMinutes:  7.5,
		},
	}
}

// DefaultSimulator is the provider used when none are configured and for
// every stage in dry-run mode.
func DefaultSimulator() Provider {
	return Provider{
		Name:         defaultSimulatorName,
		Kind:         ProviderDryRun,
		Capabilities: DefaultStages(),
		DelayMillis:  defaultSimulatorDelayMilli,
	}
}

// DefaultStages is the full production pipeline in canonical order.
func DefaultStages() []string {
	names := capability.All()
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, string(n))
	}
	return out
}
