package dryrun

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/google/uuid"

	"ytauto/internal/capability"
	"ytauto/internal/services"
)

const (
	simulatedWordsPerMinute = 150
	simulatedScenes         = 4
	defaultWords            = 1500
)

// Options configures a Simulator.
type Options struct {
	// Delay is slept before every call, honouring cancellation.
	Delay time.Duration
	Clock clock.Clock
}

// Simulator implements every capability without touching external services.
// File artifacts are small placeholder files written to the job work dir so
// downstream validation behaves as it would for real media.
type Simulator struct {
	name  string
	delay time.Duration
	clock clock.Clock
}

// New returns a simulator registered under name.
func New(name string, opts Options) *Simulator {
	clk := opts.Clock
	if clk == nil {
		clk = clock.C
	}
	return &Simulator{name: name, delay: opts.Delay, clock: clk}
}

// Name implements capability.Provider.
func (s *Simulator) Name() string { return s.name }

func (s *Simulator) wait(ctx context.Context, stage string) error {
	if s.delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-s.clock.After(s.delay):
		return nil
	case <-ctx.Done():
		return &services.Error{Kind: services.KindCancelled, Stage: stage, Provider: s.name, Message: "simulation aborted", Err: ctx.Err()}
	}
}

// GenerateScript produces a script sized to the brief's word bounds.
func (s *Simulator) GenerateScript(ctx context.Context, brief capability.Brief) (capability.ScriptArtifact, error) {
	if err := s.wait(ctx, string(capability.Script)); err != nil {
		return capability.ScriptArtifact{}, err
	}
	topic := "an untold story"
	if len(brief.Topics) > 0 {
		topic = brief.Topics[0]
	}
	name := brief.DisplayName
	if name == "" {
		name = brief.LineID
	}
	hook := fmt.Sprintf("What if everything you knew about %s was wrong?", topic)
	cta := "If this changed how you see things, subscribe for the next one."
	target := scriptWords(brief) - len(strings.Fields(hook)) - len(strings.Fields(cta))

	sentence := strings.Fields(fmt.Sprintf("This is a simulated passage about %s written for %s.", topic, name))
	if target < len(sentence) {
		target = len(sentence)
	}
	words := make([]string, 0, target+simulatedScenes)
	for i := 0; len(words) < target; i++ {
		if i > 0 && i%(target/simulatedScenes/len(sentence)+1) == 0 {
			words = append(words, "[SECTION]")
		}
		words = append(words, sentence...)
	}
	if len(words) > target {
		words = words[:target]
	}

	prompts := make([]string, simulatedScenes)
	for i := range prompts {
		prompts[i] = fmt.Sprintf("%s, scene %d, %s style", topic, i+1, brief.ThumbnailStyle)
	}
	return capability.ScriptArtifact{
		Title:        truncate(fmt.Sprintf("The Truth About %s", titleCase(topic)), 60),
		Hook:         hook,
		Body:         strings.Join(words, " "),
		CTA:          cta,
		Description:  fmt.Sprintf("A simulated episode of %s about %s.", name, topic),
		Tags:         append([]string(nil), brief.Tags...),
		Keywords:     []string{topic},
		ScenePrompts: prompts,
	}, nil
}

// SynthesizeSpeech writes a placeholder narration file.
func (s *Simulator) SynthesizeSpeech(ctx context.Context, brief capability.Brief, script capability.ScriptArtifact) (capability.AudioArtifact, error) {
	stage := string(capability.Speech)
	if err := s.wait(ctx, stage); err != nil {
		return capability.AudioArtifact{}, err
	}
	path, err := s.placeholder(stage, brief, "narration.mp3", script.FullText())
	if err != nil {
		return capability.AudioArtifact{}, err
	}
	duration := time.Duration(float64(script.WordCount()) / simulatedWordsPerMinute * float64(time.Minute))
	return capability.AudioArtifact{Path: path, Duration: duration.Round(time.Second), VoiceID: brief.VoiceID}, nil
}

// GenerateImage writes a placeholder still.
func (s *Simulator) GenerateImage(ctx context.Context, brief capability.Brief, prompt string, scene int) (capability.ImageArtifact, error) {
	stage := string(capability.Images)
	if err := s.wait(ctx, stage); err != nil {
		return capability.ImageArtifact{}, err
	}
	path, err := s.placeholder(stage, brief, fmt.Sprintf("scene-%02d.png", scene), prompt)
	if err != nil {
		return capability.ImageArtifact{}, err
	}
	return capability.ImageArtifact{Path: path, Prompt: prompt, Scene: scene}, nil
}

// GenerateVideoClip writes a placeholder clip.
func (s *Simulator) GenerateVideoClip(ctx context.Context, brief capability.Brief, image capability.ImageArtifact) (capability.ClipArtifact, error) {
	stage := string(capability.Clips)
	if err := s.wait(ctx, stage); err != nil {
		return capability.ClipArtifact{}, err
	}
	path, err := s.placeholder(stage, brief, fmt.Sprintf("clip-%02d.mp4", image.Scene), image.Path)
	if err != nil {
		return capability.ClipArtifact{}, err
	}
	return capability.ClipArtifact{Path: path, Source: image.Path, Duration: 5 * time.Second}, nil
}

// ComposeVideo writes a placeholder video listing its inputs.
func (s *Simulator) ComposeVideo(ctx context.Context, brief capability.Brief, comp capability.Composition) (capability.VideoArtifact, error) {
	stage := string(capability.Compose)
	if err := s.wait(ctx, stage); err != nil {
		return capability.VideoArtifact{}, err
	}
	lines := []string{"audio " + comp.Audio.Path}
	for _, img := range comp.Images {
		lines = append(lines, "image "+img.Path)
	}
	for _, clip := range comp.Clips {
		lines = append(lines, "clip "+clip.Path)
	}
	path, err := s.placeholder(stage, brief, "final.mp4", strings.Join(lines, "\n"))
	if err != nil {
		return capability.VideoArtifact{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return capability.VideoArtifact{}, s.fail(stage, "stat video", err)
	}
	return capability.VideoArtifact{Path: path, Duration: comp.Audio.Duration, Bytes: info.Size()}, nil
}

// GenerateThumbnail writes a placeholder thumbnail.
func (s *Simulator) GenerateThumbnail(ctx context.Context, brief capability.Brief, title string) (capability.ThumbnailArtifact, error) {
	stage := string(capability.Thumbnail)
	if err := s.wait(ctx, stage); err != nil {
		return capability.ThumbnailArtifact{}, err
	}
	path, err := s.placeholder(stage, brief, "thumbnail.jpg", title)
	if err != nil {
		return capability.ThumbnailArtifact{}, err
	}
	return capability.ThumbnailArtifact{Path: path, TitleText: title}, nil
}

// UploadVideo pretends to publish and returns a synthetic id.
func (s *Simulator) UploadVideo(ctx context.Context, _ capability.Brief, pub capability.Publication) (capability.UploadArtifact, error) {
	stage := string(capability.Upload)
	if err := s.wait(ctx, stage); err != nil {
		return capability.UploadArtifact{}, err
	}
	if pub.Video.Path == "" {
		return capability.UploadArtifact{}, &services.Error{
			Kind: services.KindInvalidInput, Stage: stage, Provider: s.name, Message: "nothing to upload",
		}
	}
	id := "sim-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:11]
	return capability.UploadArtifact{VideoID: id, URL: "https://youtu.be/" + id}, nil
}

func (s *Simulator) placeholder(stage string, brief capability.Brief, name, content string) (string, error) {
	dir := strings.TrimSpace(brief.WorkDir)
	if dir == "" {
		var err error
		if dir, err = os.MkdirTemp("", "ytauto-dryrun-"); err != nil {
			return "", s.fail(stage, "create work dir", err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", s.fail(stage, "create work dir", err)
	}
	path := filepath.Join(dir, name)
	body := fmt.Sprintf("ytauto dry-run placeholder (%s)\n%s\n", stage, content)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", s.fail(stage, "write placeholder", err)
	}
	return path, nil
}

func (s *Simulator) fail(stage, op string, err error) error {
	return &services.Error{Kind: services.KindInternal, Stage: stage, Provider: s.name, Operation: op, Message: err.Error(), Err: err}
}

func scriptWords(brief capability.Brief) int {
	lo, hi := brief.MinWords, brief.MaxWords
	switch {
	case lo > 0 && hi >= lo:
		return (lo + hi) / 2
	case lo > 0:
		return lo + lo/4
	case hi > 0:
		return hi * 3 / 4
	}
	if brief.TargetDuration > 0 {
		return int(brief.TargetDuration.Minutes() * simulatedWordsPerMinute)
	}
	return defaultWords
}
