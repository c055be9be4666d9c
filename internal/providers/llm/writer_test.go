package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ytauto/internal/capability"
	"ytauto/internal/services"
)

type fakeCompleter struct {
	system, user string
	content      string
	err          error
}

func (f *fakeCompleter) CompleteJSON(_ context.Context, system, user string, _ float64) (string, error) {
	f.system, f.user = system, user
	return f.content, f.err
}

func horrorBrief() capability.Brief {
	return capability.Brief{
		LineID:         "horror",
		DisplayName:    "Dark Tales",
		Topics:         []string{"urban legends"},
		BannedTopics:   []string{"gore"},
		Style:          "storytelling",
		Tags:           []string{"horror stories"},
		TargetDuration: 10 * time.Minute,
	}
}

func TestWriterBuildsScriptFromPayload(t *testing.T) {
	fake := &fakeCompleter{content: "```json\n" + `{
		"title": "The House on Elm",
		"hook": "Nobody who entered came out the same.",
		"body": "It began on a Tuesday. [SECTION] Then the lights went out.",
		"cta": "Subscribe for more.",
		"tags": ["Horror Stories", "haunted"],
		"keywords": ["haunted house"],
		"scene_prompts": ["an old house at dusk", "a dark hallway"]
	}` + "\n```"}
	w := NewWriter("openrouter", fake, WithTopicPicker(func(topics []string) string { return topics[0] }))

	got, err := w.GenerateScript(context.Background(), horrorBrief())
	if err != nil {
		t.Fatalf("GenerateScript: %v", err)
	}
	want := capability.ScriptArtifact{
		Title:        "The House on Elm",
		Hook:         "Nobody who entered came out the same.",
		Body:         "It began on a Tuesday. [SECTION] Then the lights went out.",
		CTA:          "Subscribe for more.",
		Tags:         []string{"horror stories", "haunted"},
		Keywords:     []string{"haunted house"},
		ScenePrompts: []string{"an old house at dusk", "a dark hallway"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("script mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(fake.system, "horror") {
		t.Fatalf("system prompt should use the horror voice: %q", fake.system)
	}
	for _, want := range []string{"urban legends", "Never mention or allude to: gore", "about 10 minutes"} {
		if !strings.Contains(fake.user, want) {
			t.Fatalf("user prompt missing %q:\n%s", want, fake.user)
		}
	}
}

func TestWriterTagsProviderOnFailure(t *testing.T) {
	fake := &fakeCompleter{err: services.Wrap(services.KindRateLimited, "", "llm request", "http 429", nil)}
	w := NewWriter("openrouter", fake)

	_, err := w.GenerateScript(context.Background(), horrorBrief())
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if d := services.Describe(err); d.Provider != "openrouter" || d.Kind != services.KindRateLimited {
		t.Fatalf("unexpected details %+v", d)
	}
}

func TestWriterRejectsUnparseablePayload(t *testing.T) {
	w := NewWriter("openrouter", &fakeCompleter{content: "once upon a time"})
	_, err := w.GenerateScript(context.Background(), horrorBrief())
	if services.KindOf(err) != services.KindUnknown {
		t.Fatalf("expected unknown kind, got %v", err)
	}

	w = NewWriter("openrouter", &fakeCompleter{content: `{"title":"empty"}`})
	if _, err := w.GenerateScript(context.Background(), horrorBrief()); err == nil {
		t.Fatal("expected error for a script without body")
	}
}
