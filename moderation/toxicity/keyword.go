package toxicity

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const KeywordBackendName = "keyword-fallback"

type KeywordConfig struct {
	Base   int
	High   int
	Medium int
	Low    int
	// scores are clamped to this value
	Max int

	HighWords   []string
	MediumWords []string
	LowWords    []string
}

func DefaultKeywordConfig() KeywordConfig {
	return KeywordConfig{
		Base:   300,
		High:   3000,
		Medium: 1500,
		Low:    800,
		Max:    9500,
		HighWords: []string{
			"kill", "die", "murder", "suicide", "terrorist", "bomb", "weapon",
			"fuck", "shit", "bitch", "asshole", "cunt",
		},
		MediumWords: []string{
			"hate", "stupid", "idiot", "moron", "loser", "pathetic", "disgusting",
			"bastard", "bloody", "damn", "retard",
		},
		LowWords: []string{
			"hell", "crap", "sucks", "annoying", "boring", "lame", "dumb", "weird",
		},
	}
}

// Local scorer which never fails. Each listed keyword found anywhere in the
// (normalized) text adds its tier increment once.
type KeywordScorer struct {
	config KeywordConfig
	high   []string
	medium []string
	low    []string
}

var _ Backend = (*KeywordScorer)(nil)

// Zero fields are filled from DefaultKeywordConfig. A config without any
// keywords gets the default lists, and the default base score.
func NewKeywordScorer(config KeywordConfig) *KeywordScorer {
	def := DefaultKeywordConfig()
	if len(config.HighWords) == 0 && len(config.MediumWords) == 0 && len(config.LowWords) == 0 {
		config.HighWords = def.HighWords
		config.MediumWords = def.MediumWords
		config.LowWords = def.LowWords
		if config.Base == 0 {
			config.Base = def.Base
		}
	}
	if config.High == 0 && len(config.HighWords) > 0 {
		config.High = def.High
	}
	if config.Medium == 0 && len(config.MediumWords) > 0 {
		config.Medium = def.Medium
	}
	if config.Low == 0 && len(config.LowWords) > 0 {
		config.Low = def.Low
	}
	if config.Max <= 0 {
		config.Max = def.Max
	}
	return &KeywordScorer{
		config: config,
		high:   normalizeWords(config.HighWords),
		medium: normalizeWords(config.MediumWords),
		low:    normalizeWords(config.LowWords),
	}
}

func (k *KeywordScorer) Name() string {
	return KeywordBackendName
}

// Score in basis points, in [0, Max].
func (k *KeywordScorer) Score(text string) int {
	norm := normalizeText(text)
	score := k.config.Base
	for _, w := range k.high {
		if strings.Contains(norm, w) {
			score += k.config.High
		}
	}
	for _, w := range k.medium {
		if strings.Contains(norm, w) {
			score += k.config.Medium
		}
	}
	for _, w := range k.low {
		if strings.Contains(norm, w) {
			score += k.config.Low
		}
	}
	if score > k.config.Max {
		score = k.config.Max
	}
	if score < 0 {
		score = 0
	}
	return score
}

func (k *KeywordScorer) Classify(ctx context.Context, text string) (*Classification, error) {
	return &Classification{
		Label: "toxic",
		Score: float64(k.Score(text)) / 10000,
	}, nil
}

// Lower-cases and strips combining marks, so "STÜPID" matches "stupid".
func normalizeText(text string) string {
	// transformers carry state, so the chain is built per call
	normFunc := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	lower := strings.ToLower(text)
	out, _, err := transform.String(normFunc, lower)
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		return lower
	}
	return out
}

func normalizeWords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = normalizeText(strings.TrimSpace(w))
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
