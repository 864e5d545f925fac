package toxicity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywordScorer(t *testing.T) {
	assert := assert.New(t)

	config := DefaultKeywordConfig()
	config.Base = 500
	k := NewKeywordScorer(config)
	assert.Equal(2800, k.Score("you are stupid and annoying"))

	k = NewKeywordScorer(DefaultKeywordConfig())
	fixtures := []struct {
		text  string
		score int
	}{
		{text: "", score: 300},
		{text: "have a lovely day", score: 300},
		{text: "I will kill you", score: 3300},
		{text: "STÜPID", score: 1800},
		// each keyword counts once, however often it appears
		{text: "stupid stupid stupid", score: 1800},
		{text: "kill die murder bomb", score: 9500},
		{text: "that movie was boring and lame", score: 1900},
	}
	for _, f := range fixtures {
		assert.Equal(f.score, k.Score(f.text), f.text)
	}
}

func TestKeywordScorerBounds(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	k := NewKeywordScorer(DefaultKeywordConfig())
	texts := []string{
		"",
		"hello",
		"kill die murder suicide terrorist bomb weapon fuck shit bitch asshole cunt hate stupid idiot",
		"é́̂ \x00 \xff\xfe",
	}
	for _, txt := range texts {
		s := k.Score(txt)
		assert.GreaterOrEqual(s, 0)
		assert.LessOrEqual(s, 9500)

		c, err := k.Classify(ctx, txt)
		assert.NoError(err)
		assert.InDelta(float64(s)/10000, c.Score, 0.00001)
	}

	// custom lists are normalized the same way as text
	k = NewKeywordScorer(KeywordConfig{Base: 0, High: 5000, HighWords: []string{" Crème "}, Max: 10000})
	assert.Equal(5000, k.Score("CREME brulee"))
	assert.Equal(KeywordBackendName, k.Name())
}

func TestKeywordScorerZeroConfig(t *testing.T) {
	assert := assert.New(t)

	k := NewKeywordScorer(KeywordConfig{})
	def := NewKeywordScorer(DefaultKeywordConfig())
	for _, txt := range []string{"", "you are a stupid idiot", "kill die murder bomb weapon"} {
		assert.Equal(def.Score(txt), k.Score(txt), txt)
	}
	assert.Equal(9500, k.Score("kill die murder bomb weapon"))

	// a list without an increment gets the default one
	k = NewKeywordScorer(KeywordConfig{MediumWords: []string{"meh"}})
	assert.Equal(1500, k.Score("meh"))
}
