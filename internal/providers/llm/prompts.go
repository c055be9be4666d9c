package llm

import (
	"fmt"
	"strings"
	"time"

	"ytauto/internal/capability"
)

type lineVoice struct {
	system  string
	markers []string
}

var lineVoices = map[string]lineVoice{
	"horror": {
		system: "You are an expert horror storytelling scriptwriter for YouTube. " +
			"Write scripts that build tension, create suspense, and deliver satisfying reveals. " +
			"Use pacing techniques such as a slow build, sudden shifts and ominous pauses.",
		markers: []string{"suspense", "dread", "revelation", "twist", "unease"},
	},
	"facts": {
		system: "You are an expert educational content scriptwriter for YouTube. " +
			"Write scripts that deliver wow moments and explain complex ideas simply. " +
			"Use the curiosity gap technique and surprising reveals.",
		markers: []string{"surprise", "amazement", "curiosity", "realization", "fascination"},
	},
	"finance": {
		system: "You are an expert finance content scriptwriter for YouTube. " +
			"Write scripts that deliver valuable insights with urgency, using real examples and clear actionables.",
		markers: []string{"urgency", "opportunity", "warning", "revelation", "motivation"},
	},
}

// wordsPerMinute approximates narration pace.
const wordsPerMinute = 150

func systemPrompt(brief capability.Brief) string {
	if voice, ok := lineVoices[strings.ToLower(brief.LineID)]; ok {
		return voice.system
	}
	style := strings.TrimSpace(brief.Style)
	if style == "" {
		style = "engaging"
	}
	return fmt.Sprintf("You are an expert %s scriptwriter for a YouTube channel called %q.", style, displayName(brief))
}

func scriptPrompt(brief capability.Brief, topic string) string {
	var b strings.Builder
	minutes := brief.TargetDuration.Round(time.Minute).Minutes()
	if minutes < 1 {
		minutes = 8
	}
	fmt.Fprintf(&b, "Write a YouTube script for the channel %q.\n", displayName(brief))
	fmt.Fprintf(&b, "Topic: %s\n", topic)
	if brief.Style != "" {
		fmt.Fprintf(&b, "Style: %s\n", brief.Style)
	}
	fmt.Fprintf(&b, "Target length: about %.0f minutes spoken (roughly %d words)\n", minutes, int(minutes)*wordsPerMinute)
	if brief.MinWords > 0 && brief.MaxWords > 0 {
		fmt.Fprintf(&b, "The spoken text must be between %d and %d words.\n", brief.MinWords, brief.MaxWords)
	}
	if len(brief.BannedTopics) > 0 {
		fmt.Fprintf(&b, "Never mention or allude to: %s\n", strings.Join(brief.BannedTopics, ", "))
	}
	b.WriteString("\nStructure:\n")
	b.WriteString("1. HOOK: the first five seconds; a pattern interrupt or provocative question.\n")
	fmt.Fprintf(&b, "2. BODY: three to five key points building on each other, separated by [SECTION]. Evoke %s.\n", strings.Join(markersFor(brief), ", "))
	b.WriteString("3. CTA: a subtle subscription call-to-action woven into the closing.\n")
	b.WriteString("\nKeep it free of profanity.\n")
	b.WriteString(`
Return JSON:
{
  "title": "SEO-optimized title (under 60 chars)",
  "hook": "opening lines",
  "body": "full body with [SECTION] breaks",
  "cta": "closing call-to-action",
  "description": "upload description, two or three sentences",
  "tags": ["tag"],
  "keywords": ["seo keyword"],
  "scene_prompts": ["one visual prompt per section"]
}`)
	return b.String()
}

func markersFor(brief capability.Brief) []string {
	if voice, ok := lineVoices[strings.ToLower(brief.LineID)]; ok {
		return voice.markers
	}
	return []string{"curiosity", "surprise"}
}

func displayName(brief capability.Brief) string {
	if name := strings.TrimSpace(brief.DisplayName); name != "" {
		return name
	}
	return brief.LineID
}
