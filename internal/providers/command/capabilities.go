package command

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ytauto/internal/capability"
	"ytauto/internal/services"
)

// narrationWordsPerMinute estimates audio length when the command cannot
// report it.
const narrationWordsPerMinute = 150

// SynthesizeSpeech writes the spoken text to narration.txt and expects the
// command to render audio at the output path.
func (p *Provider) SynthesizeSpeech(ctx context.Context, brief capability.Brief, script capability.ScriptArtifact) (capability.AudioArtifact, error) {
	stage := string(capability.Speech)
	workDir, input, err := p.prepare(stage, brief, "narration.txt", []byte(script.FullText()))
	if err != nil {
		return capability.AudioArtifact{}, err
	}
	inv, err := p.invoke(ctx, stage, brief, workDir, input, 0, "narration.mp3")
	if err != nil {
		return capability.AudioArtifact{}, err
	}
	if _, err := p.requireOutput(stage, inv); err != nil {
		return capability.AudioArtifact{}, err
	}
	return capability.AudioArtifact{
		Path:     inv.data.Output,
		Duration: estimateNarration(script.WordCount()),
		VoiceID:  brief.VoiceID,
	}, nil
}

// GenerateImage writes the prompt to scene-NN.txt and expects one image.
func (p *Provider) GenerateImage(ctx context.Context, brief capability.Brief, prompt string, scene int) (capability.ImageArtifact, error) {
	stage := string(capability.Images)
	workDir, input, err := p.prepare(stage, brief, fmt.Sprintf("scene-%02d.txt", scene), []byte(prompt))
	if err != nil {
		return capability.ImageArtifact{}, err
	}
	inv, err := p.invoke(ctx, stage, brief, workDir, input, scene, fmt.Sprintf("scene-%02d.png", scene))
	if err != nil {
		return capability.ImageArtifact{}, err
	}
	if _, err := p.requireOutput(stage, inv); err != nil {
		return capability.ImageArtifact{}, err
	}
	return capability.ImageArtifact{Path: inv.data.Output, Prompt: prompt, Scene: scene}, nil
}

// GenerateVideoClip passes the image path as input.
func (p *Provider) GenerateVideoClip(ctx context.Context, brief capability.Brief, image capability.ImageArtifact) (capability.ClipArtifact, error) {
	stage := string(capability.Clips)
	workDir, err := p.workDir(stage, brief)
	if err != nil {
		return capability.ClipArtifact{}, err
	}
	inv, err := p.invoke(ctx, stage, brief, workDir, image.Path, image.Scene, fmt.Sprintf("clip-%02d.mp4", image.Scene))
	if err != nil {
		return capability.ClipArtifact{}, err
	}
	if _, err := p.requireOutput(stage, inv); err != nil {
		return capability.ClipArtifact{}, err
	}
	return capability.ClipArtifact{Path: inv.data.Output, Source: image.Path, Duration: 5 * time.Second}, nil
}

type composeManifest struct {
	Title  string   `json:"title"`
	Audio  string   `json:"audio"`
	Images []string `json:"images"`
	Clips  []string `json:"clips"`
	// DurationSeconds is the narration length the video should match.
	DurationSeconds float64 `json:"duration_seconds"`
}

// ComposeVideo writes a JSON manifest of every input and expects the final
// video at the output path.
func (p *Provider) ComposeVideo(ctx context.Context, brief capability.Brief, comp capability.Composition) (capability.VideoArtifact, error) {
	stage := string(capability.Compose)
	manifest := composeManifest{
		Title:           comp.Script.Title,
		Audio:           comp.Audio.Path,
		DurationSeconds: comp.Audio.Duration.Seconds(),
	}
	for _, img := range comp.Images {
		manifest.Images = append(manifest.Images, img.Path)
	}
	for _, clip := range comp.Clips {
		manifest.Clips = append(manifest.Clips, clip.Path)
	}
	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return capability.VideoArtifact{}, p.fail(services.KindInternal, stage, "encode manifest", "manifest", err)
	}
	workDir, input, err := p.prepare(stage, brief, "compose.json", encoded)
	if err != nil {
		return capability.VideoArtifact{}, err
	}
	inv, err := p.invoke(ctx, stage, brief, workDir, input, 0, "final.mp4")
	if err != nil {
		return capability.VideoArtifact{}, err
	}
	info, err := p.requireOutput(stage, inv)
	if err != nil {
		return capability.VideoArtifact{}, err
	}
	return capability.VideoArtifact{Path: inv.data.Output, Duration: comp.Audio.Duration, Bytes: info.Size()}, nil
}

// GenerateThumbnail writes the title to thumbnail.txt.
func (p *Provider) GenerateThumbnail(ctx context.Context, brief capability.Brief, title string) (capability.ThumbnailArtifact, error) {
	stage := string(capability.Thumbnail)
	workDir, input, err := p.prepare(stage, brief, "thumbnail.txt", []byte(title))
	if err != nil {
		return capability.ThumbnailArtifact{}, err
	}
	inv, err := p.invoke(ctx, stage, brief, workDir, input, 0, "thumbnail.jpg")
	if err != nil {
		return capability.ThumbnailArtifact{}, err
	}
	if _, err := p.requireOutput(stage, inv); err != nil {
		return capability.ThumbnailArtifact{}, err
	}
	return capability.ThumbnailArtifact{Path: inv.data.Output, TitleText: title}, nil
}

type uploadManifest struct {
	Video       string   `json:"video"`
	Thumbnail   string   `json:"thumbnail,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// UploadVideo writes an upload manifest and reads the video id from stdout,
// either as {"video_id": ..., "url": ...} or as a bare first line.
func (p *Provider) UploadVideo(ctx context.Context, brief capability.Brief, pub capability.Publication) (capability.UploadArtifact, error) {
	stage := string(capability.Upload)
	encoded, err := json.MarshalIndent(uploadManifest{
		Video:       pub.Video.Path,
		Thumbnail:   pub.Thumbnail.Path,
		Title:       pub.Script.Title,
		Description: pub.Script.Description,
		Tags:        pub.Script.Tags,
	}, "", "  ")
	if err != nil {
		return capability.UploadArtifact{}, p.fail(services.KindInternal, stage, "encode manifest", "manifest", err)
	}
	workDir, input, err := p.prepare(stage, brief, "upload.json", encoded)
	if err != nil {
		return capability.UploadArtifact{}, err
	}
	inv, err := p.invoke(ctx, stage, brief, workDir, input, 0, "upload.out")
	if err != nil {
		return capability.UploadArtifact{}, err
	}
	out, ok := parseUpload(inv.stdout)
	if !ok {
		return capability.UploadArtifact{}, p.fail(services.KindUnknown, stage, "run "+p.command,
			"command printed no video id", nil)
	}
	return out, nil
}

func parseUpload(stdout []byte) (capability.UploadArtifact, bool) {
	trimmed := strings.TrimSpace(string(stdout))
	if trimmed == "" {
		return capability.UploadArtifact{}, false
	}
	var out capability.UploadArtifact
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal([]byte(trimmed), &out); err != nil || out.VideoID == "" {
			return capability.UploadArtifact{}, false
		}
	} else {
		out.VideoID = strings.TrimSpace(strings.SplitN(trimmed, "\n", 2)[0])
	}
	if out.URL == "" {
		out.URL = "https://youtu.be/" + out.VideoID
	}
	return out, true
}

func (p *Provider) workDir(stage string, brief capability.Brief) (string, error) {
	dir, err := ensureWorkDir(brief)
	if err != nil {
		return "", p.fail(services.KindInternal, stage, "prepare work dir", dir, err)
	}
	return dir, nil
}

func (p *Provider) prepare(stage string, brief capability.Brief, name string, content []byte) (string, string, error) {
	dir, err := p.workDir(stage, brief)
	if err != nil {
		return "", "", err
	}
	input, err := writeInput(dir, name, content)
	if err != nil {
		return "", "", p.fail(services.KindInternal, stage, "write input", name, err)
	}
	return dir, input, nil
}

func estimateNarration(words int) time.Duration {
	if words <= 0 {
		return 0
	}
	return time.Duration(float64(words) / narrationWordsPerMinute * float64(time.Minute))
}
