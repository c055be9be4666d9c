package stages

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"ytauto/internal/capability"
	"ytauto/internal/textutil"
)

const (
	minHookChars = 20
	minCTAChars  = 10
)

var profanity = regexp.MustCompile(`(?i)\b(fuck|shit|damn|ass)\b`)

// ScriptRules bounds the script gate. Zero limits are unchecked.
type ScriptRules struct {
	MinWords       int
	MaxWords       int
	MaxTitleLength int
	BannedTopics   []string
	// MaxTitleSimilarity bounds how close a title may be to any title
	// returned by PreviousTitles.
	MaxTitleSimilarity float64
	PreviousTitles     func() []string
}

// ScriptGate rejects scripts that are out of bounds or touch a banned topic.
func ScriptGate(rules ScriptRules) func(capability.ScriptArtifact) (bool, []string) {
	return func(s capability.ScriptArtifact) (bool, []string) {
		var issues []string
		title := strings.TrimSpace(s.Title)
		switch {
		case title == "":
			issues = append(issues, "title is empty")
		case rules.MaxTitleLength > 0 && utf8.RuneCountInString(title) > rules.MaxTitleLength:
			issues = append(issues, fmt.Sprintf("title is %d characters (max %d)", utf8.RuneCountInString(title), rules.MaxTitleLength))
		}
		if title != "" && rules.MaxTitleSimilarity > 0 && rules.PreviousTitles != nil {
			if match, score := textutil.Nearest(title, rules.PreviousTitles()); score > rules.MaxTitleSimilarity {
				issues = append(issues, fmt.Sprintf("title is %.0f%% similar to recent title %q", score*100, match))
			}
		}
		if len(strings.TrimSpace(s.Hook)) < minHookChars {
			issues = append(issues, fmt.Sprintf("hook is missing or shorter than %d characters", minHookChars))
		}
		if len(strings.TrimSpace(s.CTA)) < minCTAChars {
			issues = append(issues, fmt.Sprintf("call-to-action is missing or shorter than %d characters", minCTAChars))
		}
		words := s.WordCount()
		if rules.MinWords > 0 && words < rules.MinWords {
			issues = append(issues, fmt.Sprintf("script too short: %d words (min %d)", words, rules.MinWords))
		}
		if rules.MaxWords > 0 && words > rules.MaxWords {
			issues = append(issues, fmt.Sprintf("script too long: %d words (max %d)", words, rules.MaxWords))
		}
		if !strings.Contains(s.Body, "[SECTION]") && !strings.Contains(s.Body, "\n\n") {
			issues = append(issues, "body lacks section breaks")
		}
		text := strings.ToLower(title + "\n" + s.FullText())
		for _, topic := range rules.BannedTopics {
			if topic = strings.ToLower(strings.TrimSpace(topic)); topic != "" && strings.Contains(text, topic) {
				issues = append(issues, fmt.Sprintf("mentions banned topic %q", topic))
			}
		}
		if profanity.MatchString(text) {
			issues = append(issues, "contains profanity")
		}
		return len(issues) == 0, issues
	}
}

// FileGate requires path to name a non-empty regular file.
func FileGate(what, path string) []string {
	if strings.TrimSpace(path) == "" {
		return []string{what + " path is empty"}
	}
	info, err := os.Stat(path)
	switch {
	case err != nil:
		return []string{fmt.Sprintf("%s missing: %v", what, err)}
	case info.IsDir():
		return []string{fmt.Sprintf("%s %s is a directory", what, path)}
	case info.Size() == 0:
		return []string{fmt.Sprintf("%s %s is empty", what, path)}
	}
	return nil
}

func audioGate(a capability.AudioArtifact) (bool, []string) {
	issues := FileGate("narration", a.Path)
	return len(issues) == 0, issues
}

func imagesGate(images []capability.ImageArtifact) (bool, []string) {
	if len(images) == 0 {
		return false, []string{"no images generated"}
	}
	var issues []string
	for _, img := range images {
		issues = append(issues, FileGate(fmt.Sprintf("scene %d image", img.Scene), img.Path)...)
	}
	return len(issues) == 0, issues
}

func clipsGate(clips []capability.ClipArtifact) (bool, []string) {
	if len(clips) == 0 {
		return false, []string{"no clips generated"}
	}
	var issues []string
	for _, clip := range clips {
		issues = append(issues, FileGate("clip", clip.Path)...)
	}
	return len(issues) == 0, issues
}

// VideoGate requires a non-empty video file whose reported size is positive.
func VideoGate(v capability.VideoArtifact) (bool, []string) {
	issues := FileGate("video", v.Path)
	if v.Bytes <= 0 {
		issues = append(issues, "video reports zero bytes")
	}
	return len(issues) == 0, issues
}

func thumbnailGate(t capability.ThumbnailArtifact) (bool, []string) {
	issues := FileGate("thumbnail", t.Path)
	return len(issues) == 0, issues
}

func uploadGate(u capability.UploadArtifact) (bool, []string) {
	if strings.TrimSpace(u.VideoID) == "" {
		return false, []string{"upload returned no video id"}
	}
	return true, nil
}
