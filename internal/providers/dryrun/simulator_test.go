package dryrun_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/WatchBeam/clock"

	"ytauto/internal/capability"
	"ytauto/internal/providers/dryrun"
	"ytauto/internal/services"
)

func TestSimulatorProducesFullProduction(t *testing.T) {
	sim := dryrun.New("simulator", dryrun.Options{})
	brief := capability.Brief{
		LineID: "facts", DisplayName: "Mind Blown Facts", Topics: []string{"space exploration"},
		MinWords: 1200, MaxWords: 2000, WorkDir: t.TempDir(),
	}
	ctx := context.Background()

	script, err := sim.GenerateScript(ctx, brief)
	if err != nil {
		t.Fatalf("GenerateScript: %v", err)
	}
	if n := script.WordCount(); n < 1200 || n > 2000 {
		t.Fatalf("word count %d outside bounds", n)
	}
	if !strings.Contains(script.Body, "[SECTION]") || script.Title != "The Truth About Space Exploration" {
		t.Fatalf("unexpected script %q / %q", script.Title, script.Body[:40])
	}

	audio, err := sim.SynthesizeSpeech(ctx, brief, script)
	if err != nil || audio.Duration < 8*time.Minute {
		t.Fatalf("SynthesizeSpeech: %+v %v", audio, err)
	}
	var images []capability.ImageArtifact
	for i, prompt := range script.ScenePrompts {
		img, err := sim.GenerateImage(ctx, brief, prompt, i+1)
		if err != nil {
			t.Fatalf("GenerateImage: %v", err)
		}
		images = append(images, img)
	}
	video, err := sim.ComposeVideo(ctx, brief, capability.Composition{Script: script, Audio: audio, Images: images})
	if err != nil {
		t.Fatalf("ComposeVideo: %v", err)
	}
	if info, err := os.Stat(video.Path); err != nil || info.Size() != video.Bytes || video.Bytes == 0 {
		t.Fatalf("video file mismatch: %+v %v", video, err)
	}
	up, err := sim.UploadVideo(ctx, brief, capability.Publication{Video: video, Script: script})
	if err != nil || !strings.HasPrefix(up.VideoID, "sim-") || !strings.HasSuffix(up.URL, up.VideoID) {
		t.Fatalf("UploadVideo: %+v %v", up, err)
	}
}

func TestSimulatorDelayHonoursCancellation(t *testing.T) {
	mock := clock.NewMockClock()
	sim := dryrun.New("simulator", dryrun.Options{Delay: time.Minute, Clock: mock})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := sim.GenerateThumbnail(ctx, capability.Brief{WorkDir: t.TempDir()}, "x")
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, services.ErrCancelled) {
			t.Fatalf("expected cancelled error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("simulator ignored cancellation")
	}
}

func TestSimulatorRefusesEmptyUpload(t *testing.T) {
	sim := dryrun.New("simulator", dryrun.Options{})
	_, err := sim.UploadVideo(context.Background(), capability.Brief{}, capability.Publication{})
	if services.KindOf(err) != services.KindInvalidInput {
		t.Fatalf("expected invalid_input, got %v", err)
	}
}
