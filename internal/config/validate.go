package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ytauto/internal/capability"
	"ytauto/internal/services"
)

// Validate ensures the configuration is usable. Failures are
// ConfigurationError values so callers can classify them with errors.Is.
// Schedule expressions are parsed when the scheduler entries are built.
func (c *Config) Validate() error {
	for _, check := range []func() error{
		c.validateOrchestrator,
		c.validateRetry,
		c.validateNotifications,
		c.validateProviders,
		c.validateLines,
	} {
		if err := check(); err != nil {
			return services.Wrap(services.KindConfiguration, "", "validate config", err.Error(), nil)
		}
	}
	return nil
}

func (c *Config) validateOrchestrator() error {
	o := c.Orchestrator
	if err := ensurePositiveMap(map[string]int{
		"orchestrator.concurrency":              o.Concurrency,
		"orchestrator.scheduler_poll_seconds":   o.SchedulerPollSeconds,
		"orchestrator.run_once_timeout_seconds": o.RunOnceTimeoutSeconds,
	}); err != nil {
		return err
	}
	if o.QueueCapacity < 0 {
		return errors.New("orchestrator.queue_capacity must be >= 0 (0 means unbounded)")
	}
	if o.StageTimeoutSeconds < 0 {
		return errors.New("orchestrator.stage_timeout_seconds must be >= 0 (0 disables the timeout)")
	}
	switch o.QueueFullPolicy {
	case QueueFullReject, QueueFullBlock:
	default:
		return fmt.Errorf("orchestrator.queue_full_policy must be %q or %q, got %q", QueueFullReject, QueueFullBlock, o.QueueFullPolicy)
	}
	switch o.DuplicatePolicy {
	case DuplicateAllow, DuplicateSkipPending:
	default:
		return fmt.Errorf("orchestrator.duplicate_policy must be %q or %q, got %q", DuplicateAllow, DuplicateSkipPending, o.DuplicatePolicy)
	}
	if _, err := time.LoadLocation(o.Timezone); err != nil {
		return fmt.Errorf("orchestrator.timezone: %w", err)
	}
	return nil
}

func (c *Config) validateRetry() error {
	if err := validatePolicy("retry", c.Retry.Policy(), true); err != nil {
		return err
	}
	for stage, policy := range c.Retry.Stages {
		if !capability.Name(stage).Valid() {
			return fmt.Errorf("retry.stages.%s: unknown stage", stage)
		}
		if err := validatePolicy("retry.stages."+stage, policy, false); err != nil {
			return err
		}
	}
	return nil
}

func validatePolicy(prefix string, p RetryPolicy, required bool) error {
	if required && p.MaxAttempts < 1 {
		return fmt.Errorf("%s.max_attempts must be >= 1", prefix)
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("%s.max_attempts must be >= 1", prefix)
	}
	if p.BaseDelaySeconds < 0 || p.MaxDelaySeconds < 0 {
		return fmt.Errorf("%s delays must be >= 0", prefix)
	}
	if required && p.Multiplier < 1 {
		return fmt.Errorf("%s.multiplier must be >= 1", prefix)
	}
	for _, kind := range p.Retryable {
		if services.Kind(kind).Class() != services.ClassTransient && services.Kind(kind).Class() != services.ClassPermanent {
			return fmt.Errorf("%s.retryable: %q is not a provider error kind", prefix, kind)
		}
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateProviders() error {
	seen := make(map[string]struct{}, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d].name must be set", i)
		}
		key := strings.ToLower(p.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("providers: duplicate name %q", p.Name)
		}
		seen[key] = struct{}{}
		if len(p.Capabilities) == 0 {
			return fmt.Errorf("provider %q: capabilities must list at least one capability", p.Name)
		}
		for _, name := range p.Capabilities {
			if !capability.Name(name).Valid() {
				return fmt.Errorf("provider %q: unknown capability %q", p.Name, name)
			}
		}
		switch p.Kind {
		case ProviderLLM:
			for _, name := range p.Capabilities {
				if name != string(capability.Script) {
					return fmt.Errorf("provider %q: llm providers only serve the script capability", p.Name)
				}
			}
			if p.Model == "" {
				return fmt.Errorf("provider %q: model must be set", p.Name)
			}
		case ProviderCommand:
			if p.Command == "" {
				return fmt.Errorf("provider %q: command must be set", p.Name)
			}
			if p.Supports(string(capability.Script)) {
				return fmt.Errorf("provider %q: command providers cannot serve the script capability", p.Name)
			}
		case ProviderDryRun:
			if p.DelayMillis < 0 {
				return fmt.Errorf("provider %q: delay_millis must be >= 0", p.Name)
			}
		default:
			return fmt.Errorf("provider %q: unknown kind %q (want %s, %s or %s)", p.Name, p.Kind, ProviderLLM, ProviderCommand, ProviderDryRun)
		}
	}
	return nil
}

func (c *Config) validateLines() error {
	if len(c.Lines) == 0 {
		return errors.New("lines: at least one line must be configured")
	}
	seen := make(map[string]struct{}, len(c.Lines))
	for i, line := range c.Lines {
		if line.ID == "" {
			return fmt.Errorf("lines[%d].id must be set", i)
		}
		if _, dup := seen[line.ID]; dup {
			return fmt.Errorf("lines: duplicate id %q", line.ID)
		}
		seen[line.ID] = struct{}{}
		if len(line.Stages) == 0 {
			return fmt.Errorf("line %q: stages must not be empty", line.ID)
		}
		for _, stage := range line.Stages {
			if !capability.Name(stage).Valid() {
				return fmt.Errorf("line %q: unknown stage %q", line.ID, stage)
			}
			chain := line.Providers[stage]
			if len(chain) == 0 && !c.Orchestrator.DryRun {
				return fmt.Errorf("line %q: no provider serves stage %q", line.ID, stage)
			}
			for _, name := range chain {
				p, ok := c.Provider(name)
				if !ok {
					return fmt.Errorf("line %q: stage %q references unknown provider %q", line.ID, stage, name)
				}
				if !p.Supports(stage) {
					return fmt.Errorf("line %q: provider %q does not support stage %q", line.ID, name, stage)
				}
			}
		}
		for stage := range line.Providers {
			if !capability.Name(stage).Valid() {
				return fmt.Errorf("line %q: providers lists unknown stage %q", line.ID, stage)
			}
		}
		for _, rule := range line.Schedule {
			if strings.TrimSpace(rule) == "" {
				return fmt.Errorf("line %q: empty schedule rule", line.ID)
			}
		}
		s := line.Script
		if s.MinWords < 0 || s.MaxWords < 0 || s.MaxTitleLength < 0 {
			return fmt.Errorf("line %q: script limits must be >= 0", line.ID)
		}
		if s.MaxWords > 0 && s.MinWords > s.MaxWords {
			return fmt.Errorf("line %q: script.min_words must not exceed script.max_words", line.ID)
		}
		if s.MaxTitleSimilarity < 0 || s.MaxTitleSimilarity > 1 {
			return fmt.Errorf("line %q: script.max_title_similarity must be within [0, 1]", line.ID)
		}
		if s.TitleWindow < 0 {
			return fmt.Errorf("line %q: script.title_window must be >= 0", line.ID)
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
