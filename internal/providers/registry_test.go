package providers_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"ytauto/internal/capability"
	"ytauto/internal/providers"
	"ytauto/internal/services"
	"ytauto/internal/testsupport"
)

const providerTOML = `
[[providers]]
name = "writer"
kind = "llm"
model = "test-model"
api_key = "secret"

[[providers]]
name = "tts"
kind = "command"
capabilities = ["speech"]
command = "edge-tts"
args = ["--text-file", "{{.Input}}", "--write-media", "{{.Output}}"]

[[lines]]
id = "facts"
stages = ["script", "speech"]
`

func TestBuildRegistersConfiguredProviders(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTOML(providerTOML))
	reg, err := providers.Build(cfg, providers.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff([]string{"writer", "tts", "simulator"}, reg.Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
	if reg.Simulator() != "simulator" {
		t.Fatalf("expected implicit simulator, got %q", reg.Simulator())
	}

	if _, err := providers.Resolve[capability.ScriptGenerator](reg, "Writer", capability.Script); err != nil {
		t.Fatalf("resolve writer: %v", err)
	}
	if _, err := providers.Resolve[capability.ScriptGenerator](reg, "tts", capability.Script); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("tts cannot write scripts, got %v", err)
	}
	if _, err := providers.Resolve[capability.SpeechSynthesizer](reg, "nope", capability.Speech); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for unknown provider, got %v", err)
	}
	if diff := cmp.Diff([]string{"simulator", "tts"}, reg.Supporting(capability.Speech)); diff != "" {
		t.Fatalf("speech providers mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildRejectsBadArgTemplate(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTOML(`
[[providers]]
name = "broken"
kind = "command"
capabilities = ["thumbnail"]
command = "convert"
args = ["{{.Output"]

[[lines]]
id = "facts"
stages = ["thumbnail"]
`))
	if _, err := providers.Build(cfg, providers.Options{}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestDefaultConfigUsesSimulator(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	reg, err := providers.Build(cfg, providers.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, name := range capability.All() {
		p, ok := reg.Lookup(reg.Simulator())
		if !ok || !providers.Implements(p, name) {
			t.Fatalf("simulator should implement %s", name)
		}
	}
}
