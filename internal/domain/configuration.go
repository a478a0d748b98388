package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/language"
)

const (
	DefaultMaxClips = 15
	DefaultClipLen  = 30
	DefaultAspect   = "9:16"
)

var ErrInvalidConfiguration = errors.New("invalid configuration")

// Style holds caption and background styling for rendered clips
type Style struct {
	Font         string `json:"font" yaml:"font"`
	FontSize     int    `json:"font_size" yaml:"font_size"`
	CaptionStyle string `json:"caption_style" yaml:"caption_style"`
	Background   string `json:"background" yaml:"background"`
	Palette      string `json:"palette" yaml:"palette"`
}

// DefaultStyle returns the styling the settings form starts with
func DefaultStyle() Style {
	return Style{
		Font:         "Arial",
		FontSize:     48,
		CaptionStyle: "white-outline",
		Background:   "#000000",
		Palette:      "default",
	}
}

// Configuration controls how a job is processed by the backend
type Configuration struct {
	Lang     string  `json:"lang,omitempty" yaml:"lang"`
	MaxClips int     `json:"max_clips" yaml:"max_clips"`
	ClipLen  float64 `json:"clip_len" yaml:"clip_len"`
	Style    Style   `json:"style" yaml:"style"`
	Aspect   string  `json:"aspect" yaml:"aspect"`
	Emojis   bool    `json:"emojis" yaml:"emojis"`
	POToken  string  `json:"po_token,omitempty" yaml:"-"`
}

// DefaultConfiguration mirrors the initial values of the settings form
func DefaultConfiguration() Configuration {
	return Configuration{
		MaxClips: DefaultMaxClips,
		ClipLen:  DefaultClipLen,
		Style:    DefaultStyle(),
		Aspect:   DefaultAspect,
		Emojis:   true,
	}
}

// Validate enforces the numeric invariants and a parseable language hint
func (c Configuration) Validate() error {
	if c.MaxClips < 1 {
		return fmt.Errorf("%w: max_clips must be at least 1, got %d", ErrInvalidConfiguration, c.MaxClips)
	}
	if c.ClipLen <= 0 {
		return fmt.Errorf("%w: clip_len must be positive, got %g", ErrInvalidConfiguration, c.ClipLen)
	}
	if _, err := NormalizeLang(c.Lang); err != nil {
		return err
	}
	if c.Aspect != "" && !validAspect(c.Aspect) {
		return fmt.Errorf("%w: aspect %q is not W:H", ErrInvalidConfiguration, c.Aspect)
	}
	return nil
}

// NormalizeLang canonicalizes a transcription language hint.
// An empty hint means auto-detect and is returned unchanged.
func NormalizeLang(lang string) (string, error) {
	lang = strings.TrimSpace(lang)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return "", nil
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return "", fmt.Errorf("%w: unknown language %q", ErrInvalidConfiguration, lang)
	}
	return tag.String(), nil
}

func validAspect(aspect string) bool {
	w, h, ok := strings.Cut(aspect, ":")
	if !ok {
		return false
	}
	wi, err1 := strconv.Atoi(w)
	hi, err2 := strconv.Atoi(h)
	return err1 == nil && err2 == nil && wi > 0 && hi > 0
}

// FormFields flattens the configuration for multipart submissions.
// Style travels as a JSON document in a single field.
func (c Configuration) FormFields() (map[string]string, error) {
	style, err := json.Marshal(c.Style)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal style: %w", err)
	}

	fields := map[string]string{
		"max_clips": strconv.Itoa(c.MaxClips),
		"clip_len":  strconv.FormatFloat(c.ClipLen, 'f', -1, 64),
		"style":     string(style),
		"aspect":    c.Aspect,
		"emojis":    strconv.FormatBool(c.Emojis),
	}
	if c.Lang != "" {
		fields["lang"] = c.Lang
	}
	if c.POToken != "" {
		fields["po_token"] = c.POToken
	}
	return fields, nil
}

// Preset is a named, server-provided example configuration
type Preset struct {
	Name   string
	Config Configuration
}
