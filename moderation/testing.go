package moderation

import (
	"log/slog"
	"time"

	"github.com/sol-ai/modagent/ledger"
	"github.com/sol-ai/modagent/moderation/cursorstore"
	"github.com/sol-ai/modagent/moderation/toxicity"
)

const TestAgentAccount = "0x000000000000000000000000000000000000a11c"

// Agent wired to an in-memory ledger, keyword-only scoring, and near-zero
// delays. For tests here and in other packages.
func AgentTestFixture(l *ledger.MemLedger) *Agent {
	return NewAgent(AgentConfig{
		Client:  l,
		Signer:  ledger.NewMemSigner(TestAgentAccount),
		Scorer:  toxicity.NewScorer(toxicity.ScorerConfig{Keyword: toxicity.DefaultKeywordConfig()}),
		Cursors: cursorstore.NewMemCursorStore(),
		Poller: PollerConfig{
			Interval:      10 * time.Millisecond,
			ReadRetry:     RetryPolicy{Attempts: 3, Delay: time.Millisecond},
			RetryAttempts: 3,
		},
		Dispatcher: DispatcherConfig{
			ReceiptTimeout: 200 * time.Millisecond,
			StepRetry:      RetryPolicy{Attempts: 3, Delay: time.Millisecond},
		},
		Logger: slog.Default(),
	})
}
