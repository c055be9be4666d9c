package capability

import (
	"context"
	"strings"
	"time"
)

// Name identifies one production capability. Stage names in configuration use
// the same identifiers.
type Name string

const (
	Script    Name = "script"
	Speech    Name = "speech"
	Images    Name = "images"
	Clips     Name = "clips"
	Compose   Name = "compose"
	Thumbnail Name = "thumbnail"
	Upload    Name = "upload"
)

// All returns every capability in canonical production order.
func All() []Name {
	return []Name{Script, Speech, Images, Clips, Compose, Thumbnail, Upload}
}

// Valid reports whether n names a known capability.
func (n Name) Valid() bool {
	for _, known := range All() {
		if n == known {
			return true
		}
	}
	return false
}

// Brief carries the line-level parameters every capability may consult.
type Brief struct {
	LineID         string
	DisplayName    string
	Topics         []string
	BannedTopics   []string
	Style          string
	VoiceID        string
	ThumbnailStyle string
	Tags           []string
	TargetDuration time.Duration
	// MinWords and MaxWords bound the spoken script length. Zero means
	// unbounded.
	MinWords       int
	MaxWords       int
	WorkDir        string
}

// ScriptArtifact is the narration script and upload metadata.
type ScriptArtifact struct {
	Title       string   `json:"title"`
	Hook        string   `json:"hook"`
	Body        string   `json:"body"`
	CTA         string   `json:"cta"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Keywords    []string `json:"keywords"`
	// ScenePrompts describe visuals for each scene, in narration order.
	ScenePrompts []string `json:"scene_prompts"`
}

// FullText joins the spoken parts of the script.
func (s ScriptArtifact) FullText() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{s.Hook, s.Body, s.CTA} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n")
}

// WordCount counts whitespace-separated words of the spoken text.
func (s ScriptArtifact) WordCount() int {
	return len(strings.Fields(s.FullText()))
}

// AudioArtifact is synthesized narration.
type AudioArtifact struct {
	Path     string        `json:"path"`
	Duration time.Duration `json:"duration"`
	VoiceID  string        `json:"voice_id"`
}

// ImageArtifact is one still generated for a scene.
type ImageArtifact struct {
	Path   string `json:"path"`
	Prompt string `json:"prompt"`
	Scene  int    `json:"scene"`
}

// ClipArtifact is a short motion clip derived from an image.
type ClipArtifact struct {
	Path     string        `json:"path"`
	Source   string        `json:"source"`
	Duration time.Duration `json:"duration"`
}

// VideoArtifact is the composed video file.
type VideoArtifact struct {
	Path     string        `json:"path"`
	Duration time.Duration `json:"duration"`
	Bytes    int64         `json:"bytes"`
}

// ThumbnailArtifact is the thumbnail image.
type ThumbnailArtifact struct {
	Path      string `json:"path"`
	TitleText string `json:"title_text"`
}

// UploadArtifact identifies the published video on the hosting platform.
type UploadArtifact struct {
	VideoID string `json:"video_id"`
	URL     string `json:"url"`
}

// ScriptGenerator produces a script for a line.
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, brief Brief) (ScriptArtifact, error)
}

// SpeechSynthesizer narrates a script.
type SpeechSynthesizer interface {
	SynthesizeSpeech(ctx context.Context, brief Brief, script ScriptArtifact) (AudioArtifact, error)
}

// ImageGenerator renders one still per scene prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, brief Brief, prompt string, scene int) (ImageArtifact, error)
}

// ClipGenerator animates a still into a short clip.
type ClipGenerator interface {
	GenerateVideoClip(ctx context.Context, brief Brief, image ImageArtifact) (ClipArtifact, error)
}

// Composition is everything the composer needs.
type Composition struct {
	Script ScriptArtifact
	Audio  AudioArtifact
	Images []ImageArtifact
	Clips  []ClipArtifact
}

// VideoComposer assembles narration and visuals into a video.
type VideoComposer interface {
	ComposeVideo(ctx context.Context, brief Brief, comp Composition) (VideoArtifact, error)
}

// ThumbnailGenerator renders the thumbnail for a title.
type ThumbnailGenerator interface {
	GenerateThumbnail(ctx context.Context, brief Brief, title string) (ThumbnailArtifact, error)
}

// Publication is what gets uploaded.
type Publication struct {
	Video     VideoArtifact
	Thumbnail ThumbnailArtifact
	Script    ScriptArtifact
}

// VideoUploader publishes a video.
type VideoUploader interface {
	UploadVideo(ctx context.Context, brief Brief, pub Publication) (UploadArtifact, error)
}

// Provider is a named bundle of capability implementations. A provider
// implements any subset of the capability interfaces.
type Provider interface {
	Name() string
}
