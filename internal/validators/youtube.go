package validators

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// YouTubeValidator validates YouTube links
type YouTubeValidator struct {
	// linkPattern is the rule the submission form applies: http(s), youtube.com
	// or youtu.be with an optional www., and something after the slash
	linkPattern *regexp.Regexp
	// videoIDPattern matches YouTube video IDs (11 characters, alphanumeric with - and _)
	videoIDPattern *regexp.Regexp
}

// NewYouTubeValidator creates a new YouTube link validator
func NewYouTubeValidator() *YouTubeValidator {
	return &YouTubeValidator{
		linkPattern:    regexp.MustCompile(`^https?://(www\.)?(youtube\.com|youtu\.be)/.+`),
		videoIDPattern: regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`),
	}
}

// SourceType returns the source type for this validator
func (v *YouTubeValidator) SourceType() SourceType {
	return SourceYouTube
}

func normalizeHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

// CanHandle returns true if the link points at a YouTube host
func (v *YouTubeValidator) CanHandle(link string) bool {
	parsed, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return false
	}

	switch normalizeHost(parsed.Host) {
	case "youtube.com", "youtu.be":
		return true
	default:
		return false
	}
}

// Validate accepts any link matching the form rule. The video ID, when the
// link carries one, is extracted as extra information; its absence is not
// an error because the backend resolves playlists and channels itself.
func (v *YouTubeValidator) Validate(link string) Result {
	link = strings.TrimSpace(link)

	if !v.linkPattern.MatchString(link) {
		reason := "not a YouTube URL"
		if parsed, err := url.Parse(link); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			reason = "invalid URL scheme"
		}
		return Result{SourceType: SourceYouTube, URL: link, Error: reason}
	}

	result := Result{
		Valid:      true,
		SourceType: SourceYouTube,
		URL:        link,
		Canonical:  link,
	}

	parsed, err := url.Parse(link)
	if err != nil {
		return result
	}

	var videoID, kind string
	if normalizeHost(parsed.Host) == "youtu.be" {
		videoID, kind = strings.TrimPrefix(parsed.Path, "/"), "video"
	} else {
		videoID, kind = videoFromPath(parsed)
	}
	if i := strings.IndexAny(videoID, "/?"); i != -1 {
		videoID = videoID[:i]
	}

	if v.videoIDPattern.MatchString(videoID) {
		result.VideoID = videoID
		result.Kind = kind
		result.Canonical = fmt.Sprintf("https://www.youtube.com/watch?v=%s", videoID)
		return result
	}
	result.Kind = pageKind(parsed.Path)
	return result
}

// videoFromPath extracts the video ID from youtube.com path layouts
func videoFromPath(parsed *url.URL) (videoID, kind string) {
	path := parsed.Path

	switch {
	case strings.HasPrefix(path, "/watch"):
		return parsed.Query().Get("v"), "video"
	case strings.HasPrefix(path, "/shorts/"):
		return strings.TrimPrefix(path, "/shorts/"), "short"
	case strings.HasPrefix(path, "/embed/"):
		return strings.TrimPrefix(path, "/embed/"), "video"
	case strings.HasPrefix(path, "/v/"):
		return strings.TrimPrefix(path, "/v/"), "video"
	case strings.HasPrefix(path, "/live/"):
		return strings.TrimPrefix(path, "/live/"), "live"
	}
	return "", ""
}

func pageKind(path string) string {
	switch {
	case strings.HasPrefix(path, "/playlist"):
		return "playlist"
	case strings.HasPrefix(path, "/@"), strings.HasPrefix(path, "/channel/"), strings.HasPrefix(path, "/c/"):
		return "channel"
	}
	return ""
}
