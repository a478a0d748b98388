package aggregator

import (
	"github.com/localclipper/clipper/internal/domain"
)

// Kind identifies which part of the configuration a fragment owns
type Kind string

const (
	KindLang   Kind = "lang"
	KindClips  Kind = "clips"
	KindStyle  Kind = "style"
	KindAspect Kind = "aspect"
	KindEmojis Kind = "emojis"
	KindToken  Kind = "token"
)

// derivation order; fragments own disjoint fields so order only matters for determinism
var kinds = []Kind{KindLang, KindClips, KindStyle, KindAspect, KindEmojis, KindToken}

// Fragment is a partial configuration value produced by one input
type Fragment interface {
	Kind() Kind
	apply(cfg *domain.Configuration)
}

// LangFragment sets the transcription language hint; empty means auto-detect
type LangFragment struct {
	Lang string
}

func (LangFragment) Kind() Kind { return KindLang }

func (f LangFragment) apply(cfg *domain.Configuration) {
	cfg.Lang = f.Lang
}

// ClipsFragment sets the clip count and length
type ClipsFragment struct {
	MaxClips int
	ClipLen  float64
}

func (ClipsFragment) Kind() Kind { return KindClips }

func (f ClipsFragment) apply(cfg *domain.Configuration) {
	cfg.MaxClips = f.MaxClips
	cfg.ClipLen = f.ClipLen
}

type StyleFragment struct {
	Style domain.Style
}

func (StyleFragment) Kind() Kind { return KindStyle }

func (f StyleFragment) apply(cfg *domain.Configuration) {
	cfg.Style = f.Style
}

type AspectFragment struct {
	Aspect string
}

func (AspectFragment) Kind() Kind { return KindAspect }

func (f AspectFragment) apply(cfg *domain.Configuration) {
	cfg.Aspect = f.Aspect
}

type EmojisFragment struct {
	Emojis bool
}

func (EmojisFragment) Kind() Kind { return KindEmojis }

func (f EmojisFragment) apply(cfg *domain.Configuration) {
	cfg.Emojis = f.Emojis
}

// TokenFragment sets the secret download token; empty clears it
type TokenFragment struct {
	POToken string
}

func (TokenFragment) Kind() Kind { return KindToken }

func (f TokenFragment) apply(cfg *domain.Configuration) {
	cfg.POToken = f.POToken
}

// FragmentsOf splits a full configuration into one fragment per kind
func FragmentsOf(cfg domain.Configuration) []Fragment {
	return []Fragment{
		LangFragment{Lang: cfg.Lang},
		ClipsFragment{MaxClips: cfg.MaxClips, ClipLen: cfg.ClipLen},
		StyleFragment{Style: cfg.Style},
		AspectFragment{Aspect: cfg.Aspect},
		EmojisFragment{Emojis: cfg.Emojis},
		TokenFragment{POToken: cfg.POToken},
	}
}
