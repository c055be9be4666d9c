package providers

import (
	"sort"
	"strings"
	"time"

	"github.com/WatchBeam/clock"

	"ytauto/internal/capability"
	"ytauto/internal/config"
	"ytauto/internal/providers/command"
	"ytauto/internal/providers/dryrun"
	"ytauto/internal/providers/llm"
	"ytauto/internal/services"
)

// Options customizes Build.
type Options struct {
	Clock clock.Clock
	// Runner overrides how command providers execute. Nil runs the real
	// binary.
	Runner command.Runner
}

// Registry maps provider names to their implementations.
type Registry struct {
	byName    map[string]capability.Provider
	order     []string
	simulator string
}

// Build instantiates every configured provider. Unknown kinds and templates
// that do not parse are ConfigurationErrors.
func Build(cfg *config.Config, opts Options) (*Registry, error) {
	if cfg == nil {
		return nil, services.New(services.KindConfiguration, "providers: config is required")
	}
	r := &Registry{byName: make(map[string]capability.Provider, len(cfg.Providers)+1)}
	for _, p := range cfg.Providers {
		impl, err := build(p, opts)
		if err != nil {
			return nil, err
		}
		if err := r.Register(impl); err != nil {
			return nil, err
		}
		if p.Kind == config.ProviderDryRun && r.simulator == "" {
			r.simulator = impl.Name()
		}
	}
	if r.simulator == "" {
		def := config.DefaultSimulator()
		if _, taken := r.Lookup(def.Name); taken {
			return nil, services.Errorf(services.KindConfiguration,
				"provider %q is reserved for the simulator", def.Name)
		}
		if err := r.Register(dryrun.New(def.Name, dryrun.Options{Clock: opts.Clock})); err != nil {
			return nil, err
		}
		r.simulator = def.Name
	}
	return r, nil
}

func build(p config.Provider, opts Options) (capability.Provider, error) {
	switch p.Kind {
	case config.ProviderLLM:
		client := llm.NewClient(llm.Config{
			APIKey:         p.APIKey,
			BaseURL:        p.BaseURL,
			Model:          p.Model,
			Referer:        p.Referer,
			Title:          p.Title,
			TimeoutSeconds: p.TimeoutSeconds,
		})
		return llm.NewWriter(p.Name, client), nil
	case config.ProviderCommand:
		return command.New(command.Config{
			Name:               p.Name,
			Command:            p.Command,
			Args:               p.Args,
			Output:             p.Output,
			PermanentExitCodes: p.PermanentExitCodes,
			Runner:             opts.Runner,
		})
	case config.ProviderDryRun:
		return dryrun.New(p.Name, dryrun.Options{
			Delay: time.Duration(p.DelayMillis) * time.Millisecond,
			Clock: opts.Clock,
		}), nil
	default:
		return nil, services.Errorf(services.KindConfiguration, "provider %q: unknown kind %q", p.Name, p.Kind)
	}
}

// Register adds a provider. Names are unique case-insensitively.
func (r *Registry) Register(p capability.Provider) error {
	if p == nil || strings.TrimSpace(p.Name()) == "" {
		return services.New(services.KindConfiguration, "providers: provider must have a name")
	}
	key := strings.ToLower(p.Name())
	if _, dup := r.byName[key]; dup {
		return services.Errorf(services.KindConfiguration, "providers: duplicate name %q", p.Name())
	}
	r.byName[key] = p
	r.order = append(r.order, p.Name())
	return nil
}

// Lookup returns the provider named name.
func (r *Registry) Lookup(name string) (capability.Provider, bool) {
	p, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Names lists registered providers in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Simulator returns the name of the provider used for dry runs.
func (r *Registry) Simulator() string { return r.simulator }

// Resolve returns provider name as T, or an error when it is missing or does
// not implement the capability.
func Resolve[T any](r *Registry, name string, capName capability.Name) (T, error) {
	var zero T
	p, ok := r.Lookup(name)
	if !ok {
		return zero, services.Errorf(services.KindConfiguration, "unknown provider %q", name)
	}
	typed, ok := p.(T)
	if !ok {
		return zero, services.Errorf(services.KindConfiguration, "provider %q does not implement %s", name, capName)
	}
	return typed, nil
}

// Supporting lists registered providers implementing capName, sorted by name.
func (r *Registry) Supporting(capName capability.Name) []string {
	var names []string
	for _, p := range r.byName {
		if Implements(p, capName) {
			names = append(names, p.Name())
		}
	}
	sort.Strings(names)
	return names
}

// Implements reports whether p implements the interface behind capName.
func Implements(p capability.Provider, capName capability.Name) bool {
	switch capName {
	case capability.Script:
		_, ok := p.(capability.ScriptGenerator)
		return ok
	case capability.Speech:
		_, ok := p.(capability.SpeechSynthesizer)
		return ok
	case capability.Images:
		_, ok := p.(capability.ImageGenerator)
		return ok
	case capability.Clips:
		_, ok := p.(capability.ClipGenerator)
		return ok
	case capability.Compose:
		_, ok := p.(capability.VideoComposer)
		return ok
	case capability.Thumbnail:
		_, ok := p.(capability.ThumbnailGenerator)
		return ok
	case capability.Upload:
		_, ok := p.(capability.VideoUploader)
		return ok
	default:
		return false
	}
}
