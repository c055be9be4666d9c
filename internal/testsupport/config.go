package testsupport

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"ytauto/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t         testing.TB
	baseDir   string
	fragments []string
	after     []func(*config.Config)
}

// NewConfig produces a normalized, validated config rooted in a unique temp
// directory. Environment overrides that would leak in from the host are
// cleared for the duration of the test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	for _, key := range []string{"DRY_RUN", "LOG_LEVEL", "LOG_FORMAT", "OUTPUT_DIR", "SCHEDULE_TIMEZONE", "NTFY_TOPIC", "YTAUTO_API_TOKEN"} {
		t.Setenv(key, "")
	}

	base := t.TempDir()
	builder := &configBuilder{t: t, baseDir: base}
	for _, opt := range opts {
		opt(builder)
	}

	var doc strings.Builder
	fmt.Fprintf(&doc, "[paths]\noutput_dir = %q\nlog_dir = %q\nstate_dir = %q\napi_bind = \"127.0.0.1:0\"\nenv_file = %q\n\n",
		filepath.ToSlash(filepath.Join(base, "output")),
		filepath.ToSlash(filepath.Join(base, "logs")),
		filepath.ToSlash(filepath.Join(base, "state")),
		filepath.ToSlash(filepath.Join(base, "missing.env")),
	)
	for _, fragment := range builder.fragments {
		doc.WriteString(fragment)
		doc.WriteString("\n")
	}

	cfg, err := config.Parse([]byte(doc.String()))
	if err != nil {
		t.Fatalf("testsupport config: %v\n%s", err, doc.String())
	}
	for _, fn := range builder.after {
		fn(cfg)
	}
	return cfg
}

// WithTOML appends a TOML fragment to the generated document before it is
// parsed, so normalization and validation apply to it.
func WithTOML(fragment string) ConfigOption {
	return func(b *configBuilder) {
		b.fragments = append(b.fragments, fragment)
	}
}

// WithDryRun forces dry-run mode after parsing.
func WithDryRun() ConfigOption {
	return func(b *configBuilder) {
		b.after = append(b.after, func(cfg *config.Config) { cfg.Orchestrator.DryRun = true })
	}
}

// WithConcurrency overrides the worker count after parsing.
func WithConcurrency(n int) ConfigOption {
	return func(b *configBuilder) {
		b.after = append(b.after, func(cfg *config.Config) { cfg.Orchestrator.Concurrency = n })
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.OutputDir)
}
