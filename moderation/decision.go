package moderation

import (
	"github.com/sol-ai/modagent/moderation/toxicity"
)

const DefaultThreshold = 2500

type Decision struct {
	PostID  uint64
	Score   int
	IsToxic bool
	Backend string
}

// A score exactly at the threshold is toxic.
func Decide(postID uint64, res toxicity.Result, threshold int) Decision {
	return Decision{
		PostID:  postID,
		Score:   res.Score,
		IsToxic: res.Score >= threshold,
		Backend: res.Backend,
	}
}
