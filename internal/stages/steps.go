package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"ytauto/internal/capability"
	"ytauto/internal/config"
	"ytauto/internal/pipeline"
	"ytauto/internal/providers"
	"ytauto/internal/services"
)

// builder turns one configured stage into a StageSpec whose chain is names.
type builder func(reg *providers.Registry, names []string, line config.Line, opts Options) (pipeline.StageSpec, error)

var builders = map[capability.Name]builder{
	capability.Script:    scriptStage,
	capability.Speech:    speechStage,
	capability.Images:    imagesStage,
	capability.Clips:     clipsStage,
	capability.Compose:   composeStage,
	capability.Thumbnail: thumbnailStage,
	capability.Upload:    uploadStage,
}

// requires lists the stages whose output a stage reads.
var requires = map[capability.Name][]capability.Name{
	capability.Speech:    {capability.Script},
	capability.Images:    {capability.Script},
	capability.Clips:     {capability.Images},
	capability.Compose:   {capability.Script, capability.Speech},
	capability.Thumbnail: {capability.Script},
	capability.Upload:    {capability.Script, capability.Compose},
}

func resolveChain[T any](reg *providers.Registry, capName capability.Name, names []string) (map[string]T, error) {
	impls := make(map[string]T, len(names))
	for _, name := range names {
		impl, err := providers.Resolve[T](reg, name, capName)
		if err != nil {
			return nil, err
		}
		impls[name] = impl
	}
	return impls, nil
}

func pick[T any](impls map[string]T, provider string) (T, error) {
	impl, ok := impls[provider]
	if !ok {
		var zero T
		return zero, services.Errorf(services.KindInternal, "provider %q was not resolved for this stage", provider)
	}
	return impl, nil
}

// upstream reads the output of an earlier stage.
func upstream[T any](prod *pipeline.Production, stage capability.Name) (T, error) {
	v, ok := pipeline.Artifact[T](prod, string(stage))
	if !ok {
		return v, services.Errorf(services.KindInternal, "%s output is not available", stage)
	}
	return v, nil
}

func scriptStage(reg *providers.Registry, names []string, line config.Line, opts Options) (pipeline.StageSpec, error) {
	impls, err := resolveChain[capability.ScriptGenerator](reg, capability.Script, names)
	if err != nil {
		return pipeline.StageSpec{}, err
	}
	rules := ScriptRules{
		MinWords:           line.Script.MinWords,
		MaxWords:           line.Script.MaxWords,
		MaxTitleLength:     line.Script.MaxTitleLength,
		BannedTopics:       line.BannedTopics,
		MaxTitleSimilarity: line.Script.MaxTitleSimilarity,
	}
	if opts.Titles != nil && line.Script.MaxTitleSimilarity > 0 {
		rules.PreviousTitles = recentTitles(opts.Titles, line.ID, line.Script.TitleWindow)
	}
	gate := ScriptGate(rules)
	return pipeline.Step(string(capability.Script),
		func(ctx context.Context, provider string, prod *pipeline.Production) (capability.ScriptArtifact, string, error) {
			gen, err := pick(impls, provider)
			if err != nil {
				return capability.ScriptArtifact{}, "", err
			}
			script, err := gen.GenerateScript(ctx, prod.Brief)
			return script, script.Title, err
		}, gate), nil
}

// recentTitles reads the line's published titles at gate time so every job
// sees the titles of jobs that finished before it.
func recentTitles(src TitleSource, lineID string, window int) func() []string {
	return func() []string {
		ctx, cancel := context.WithTimeout(context.Background(), titleLookupTimeout)
		defer cancel()
		titles, err := src.RecentTitles(ctx, lineID, window)
		if err != nil {
			return nil
		}
		return titles
	}
}

func speechStage(reg *providers.Registry, names []string, _ config.Line, _ Options) (pipeline.StageSpec, error) {
	impls, err := resolveChain[capability.SpeechSynthesizer](reg, capability.Speech, names)
	if err != nil {
		return pipeline.StageSpec{}, err
	}
	return pipeline.Step(string(capability.Speech),
		func(ctx context.Context, provider string, prod *pipeline.Production) (capability.AudioArtifact, string, error) {
			tts, err := pick(impls, provider)
			if err != nil {
				return capability.AudioArtifact{}, "", err
			}
			script, err := upstream[capability.ScriptArtifact](prod, capability.Script)
			if err != nil {
				return capability.AudioArtifact{}, "", err
			}
			audio, err := tts.SynthesizeSpeech(ctx, prod.Brief, script)
			return audio, audio.Path, err
		}, audioGate), nil
}

func imagesStage(reg *providers.Registry, names []string, _ config.Line, _ Options) (pipeline.StageSpec, error) {
	impls, err := resolveChain[capability.ImageGenerator](reg, capability.Images, names)
	if err != nil {
		return pipeline.StageSpec{}, err
	}
	return pipeline.Step(string(capability.Images),
		func(ctx context.Context, provider string, prod *pipeline.Production) ([]capability.ImageArtifact, string, error) {
			gen, err := pick(impls, provider)
			if err != nil {
				return nil, "", err
			}
			script, err := upstream[capability.ScriptArtifact](prod, capability.Script)
			if err != nil {
				return nil, "", err
			}
			prompts := script.ScenePrompts
			if len(prompts) == 0 {
				prompts = []string{script.Title}
			}
			images := make([]capability.ImageArtifact, 0, len(prompts))
			for i, prompt := range prompts {
				img, err := gen.GenerateImage(ctx, prod.Brief, prompt, i+1)
				if err != nil {
					return nil, "", err
				}
				images = append(images, img)
			}
			return images, artifactDir(images[0].Path, len(images)), nil
		}, imagesGate), nil
}

func clipsStage(reg *providers.Registry, names []string, _ config.Line, _ Options) (pipeline.StageSpec, error) {
	impls, err := resolveChain[capability.ClipGenerator](reg, capability.Clips, names)
	if err != nil {
		return pipeline.StageSpec{}, err
	}
	return pipeline.Step(string(capability.Clips),
		func(ctx context.Context, provider string, prod *pipeline.Production) ([]capability.ClipArtifact, string, error) {
			gen, err := pick(impls, provider)
			if err != nil {
				return nil, "", err
			}
			images, err := upstream[[]capability.ImageArtifact](prod, capability.Images)
			if err != nil {
				return nil, "", err
			}
			clips := make([]capability.ClipArtifact, 0, len(images))
			for _, img := range images {
				clip, err := gen.GenerateVideoClip(ctx, prod.Brief, img)
				if err != nil {
					return nil, "", err
				}
				clips = append(clips, clip)
			}
			if len(clips) == 0 {
				return nil, "", nil
			}
			return clips, artifactDir(clips[0].Path, len(clips)), nil
		}, clipsGate), nil
}

func composeStage(reg *providers.Registry, names []string, _ config.Line, _ Options) (pipeline.StageSpec, error) {
	impls, err := resolveChain[capability.VideoComposer](reg, capability.Compose, names)
	if err != nil {
		return pipeline.StageSpec{}, err
	}
	return pipeline.Step(string(capability.Compose),
		func(ctx context.Context, provider string, prod *pipeline.Production) (capability.VideoArtifact, string, error) {
			composer, err := pick(impls, provider)
			if err != nil {
				return capability.VideoArtifact{}, "", err
			}
			comp := capability.Composition{}
			if comp.Script, err = upstream[capability.ScriptArtifact](prod, capability.Script); err != nil {
				return capability.VideoArtifact{}, "", err
			}
			if comp.Audio, err = upstream[capability.AudioArtifact](prod, capability.Speech); err != nil {
				return capability.VideoArtifact{}, "", err
			}
			// Visuals are optional; a line may compose from narration alone.
			comp.Images, _ = pipeline.Artifact[[]capability.ImageArtifact](prod, string(capability.Images))
			comp.Clips, _ = pipeline.Artifact[[]capability.ClipArtifact](prod, string(capability.Clips))
			video, err := composer.ComposeVideo(ctx, prod.Brief, comp)
			return video, video.Path, err
		}, VideoGate), nil
}

func thumbnailStage(reg *providers.Registry, names []string, _ config.Line, _ Options) (pipeline.StageSpec, error) {
	impls, err := resolveChain[capability.ThumbnailGenerator](reg, capability.Thumbnail, names)
	if err != nil {
		return pipeline.StageSpec{}, err
	}
	return pipeline.Step(string(capability.Thumbnail),
		func(ctx context.Context, provider string, prod *pipeline.Production) (capability.ThumbnailArtifact, string, error) {
			gen, err := pick(impls, provider)
			if err != nil {
				return capability.ThumbnailArtifact{}, "", err
			}
			script, err := upstream[capability.ScriptArtifact](prod, capability.Script)
			if err != nil {
				return capability.ThumbnailArtifact{}, "", err
			}
			thumb, err := gen.GenerateThumbnail(ctx, prod.Brief, script.Title)
			return thumb, thumb.Path, err
		}, thumbnailGate), nil
}

func uploadStage(reg *providers.Registry, names []string, _ config.Line, _ Options) (pipeline.StageSpec, error) {
	impls, err := resolveChain[capability.VideoUploader](reg, capability.Upload, names)
	if err != nil {
		return pipeline.StageSpec{}, err
	}
	return pipeline.Step(string(capability.Upload),
		func(ctx context.Context, provider string, prod *pipeline.Production) (capability.UploadArtifact, string, error) {
			up, err := pick(impls, provider)
			if err != nil {
				return capability.UploadArtifact{}, "", err
			}
			pub := capability.Publication{}
			if pub.Script, err = upstream[capability.ScriptArtifact](prod, capability.Script); err != nil {
				return capability.UploadArtifact{}, "", err
			}
			if pub.Video, err = upstream[capability.VideoArtifact](prod, capability.Compose); err != nil {
				return capability.UploadArtifact{}, "", err
			}
			pub.Thumbnail, _ = pipeline.Artifact[capability.ThumbnailArtifact](prod, string(capability.Thumbnail))
			out, err := up.UploadVideo(ctx, prod.Brief, pub)
			return out, out.URL, err
		}, uploadGate), nil
}

func artifactDir(first string, n int) string {
	dir := filepath.Dir(first)
	if strings.TrimSpace(first) == "" {
		dir = "."
	}
	return fmt.Sprintf("%s (%d files)", dir, n)
}
