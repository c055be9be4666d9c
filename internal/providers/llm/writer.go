package llm

import (
	"context"
	"math/rand/v2"
	"strings"

	"ytauto/internal/capability"
	"ytauto/internal/services"
)

const scriptTemperature = 0.7

// Completer issues one JSON chat completion. *Client implements it.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error)
}

// TopicPicker chooses the topic for one script from a line's topics.
type TopicPicker func(topics []string) string

// Writer generates scripts through an LLM.
type Writer struct {
	name   string
	client Completer
	pick   TopicPicker
}

// WriterOption customizes a Writer.
type WriterOption func(*Writer)

// WithTopicPicker overrides the random topic choice.
func WithTopicPicker(pick TopicPicker) WriterOption {
	return func(w *Writer) {
		if pick != nil {
			w.pick = pick
		}
	}
}

// NewWriter wraps client as the named script provider.
func NewWriter(name string, client Completer, opts ...WriterOption) *Writer {
	w := &Writer{name: name, client: client, pick: randomTopic}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name implements capability.Provider.
func (w *Writer) Name() string { return w.name }

type scriptPayload struct {
	Title        string   `json:"title"`
	Hook         string   `json:"hook"`
	Body         string   `json:"body"`
	CTA          string   `json:"cta"`
	Description  string   `json:"description"`
	Tags         []string `json:"tags"`
	Keywords     []string `json:"keywords"`
	ScenePrompts []string `json:"scene_prompts"`
}

// GenerateScript implements capability.ScriptGenerator.
func (w *Writer) GenerateScript(ctx context.Context, brief capability.Brief) (capability.ScriptArtifact, error) {
	const op = "generate script"
	topic := w.pick(brief.Topics)
	if topic == "" {
		topic = displayName(brief)
	}
	content, err := w.client.CompleteJSON(ctx, systemPrompt(brief), scriptPrompt(brief, topic), scriptTemperature)
	if err != nil {
		return capability.ScriptArtifact{}, services.Annotate(err, func(e *services.Error) {
			e.Provider = w.name
			e.Operation = op
		})
	}
	var payload scriptPayload
	if err := DecodeJSON(content, &payload); err != nil {
		return capability.ScriptArtifact{}, &services.Error{
			Kind: services.KindUnknown, Provider: w.name, Operation: op,
			Message: "decode script payload", Err: err,
		}
	}
	if strings.TrimSpace(payload.Body) == "" {
		return capability.ScriptArtifact{}, &services.Error{
			Kind: services.KindUnknown, Provider: w.name, Operation: op,
			Message: "script payload has no body",
		}
	}
	title := strings.TrimSpace(payload.Title)
	if title == "" {
		title = topic
	}
	return capability.ScriptArtifact{
		Title:        title,
		Hook:         strings.TrimSpace(payload.Hook),
		Body:         strings.TrimSpace(payload.Body),
		CTA:          strings.TrimSpace(payload.CTA),
		Description:  strings.TrimSpace(payload.Description),
		Tags:         mergeTags(brief.Tags, payload.Tags),
		Keywords:     payload.Keywords,
		ScenePrompts: payload.ScenePrompts,
	}, nil
}

func randomTopic(topics []string) string {
	if len(topics) == 0 {
		return ""
	}
	return topics[rand.IntN(len(topics))]
}

func mergeTags(lists ...[]string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, tag := range list {
			tag = strings.TrimSpace(tag)
			key := strings.ToLower(tag)
			if tag == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, tag)
		}
	}
	return out
}
