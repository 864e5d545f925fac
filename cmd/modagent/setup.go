package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/sol-ai/modagent/ledger"
	"github.com/sol-ai/modagent/ledger/evm"
	"github.com/sol-ai/modagent/moderation"
	"github.com/sol-ai/modagent/moderation/cachestore"
	"github.com/sol-ai/modagent/moderation/cursorstore"
	"github.com/sol-ai/modagent/moderation/flaglog"
	"github.com/sol-ai/modagent/moderation/flagstore"
	"github.com/sol-ai/modagent/moderation/toxicity"
	"github.com/sol-ai/modagent/util/cliutil"

	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v2"
)

const redisPrefix = "modagent/"

// Builds the classifier chain: HuggingFace, then the Gemini models, then keywords.
func setupScorer(ctx context.Context, cctx *cli.Context, logger *slog.Logger, rdb *redis.Client) (*toxicity.Scorer, error) {
	var backends []toxicity.Backend
	if token := cctx.String("hf-token"); token != "" {
		backends = append(backends, toxicity.NewHuggingFaceBackend(cctx.String("hf-url"), token, logger))
	} else {
		logger.Info("HuggingFace token not configured, skipping HuggingFace classifier")
	}
	if key := cctx.String("gemini-api-key"); key != "" {
		gbs, err := toxicity.NewGeminiBackends(ctx, key, cctx.StringSlice("gemini-models"))
		if err != nil {
			return nil, err
		}
		for _, gb := range gbs {
			backends = append(backends, gb)
		}
	} else {
		logger.Info("Gemini API key not configured, skipping Gemini classifiers")
	}

	var cache cachestore.CacheStore
	if rdb != nil {
		cache = cachestore.NewRedisCacheStore(rdb, redisPrefix, 24*time.Hour)
	} else {
		cache = cachestore.NewMemCacheStore(10_000, time.Hour)
	}

	scorer := toxicity.NewScorer(toxicity.ScorerConfig{
		Keyword:   toxicity.DefaultKeywordConfig(),
		Timeout:   cctx.Duration("classifier-timeout"),
		RateLimit: cctx.Float64("classifier-rate-limit"),
		RateBurst: 1,
		Cache:     cache,
		Logger:    logger,
	}, backends...)
	logger.Info("classifier chain configured", "backends", scorer.Backends())
	return scorer, nil
}

func gweiToWei(gwei float64) *big.Int {
	wei, _ := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(1e9)).Int(nil)
	return wei
}

// Connects to the ledger and builds the signer. Problems here are reported
// through the agent (Health, and Start refusing) rather than failing startup.
func setupLedger(ctx context.Context, cctx *cli.Context, logger *slog.Logger) (ledger.Client, ledger.Signer, error) {
	if cctx.Bool("dry-run") {
		logger.Warn("dry run: using an in-memory ledger, nothing is written to the chain")
		return ledger.NewMemLedger(), ledger.NewMemSigner(moderation.TestAgentAccount), nil
	}

	client, err := evm.Dial(ctx, evm.Config{
		RPCURL:             cctx.String("rpc-url"),
		SocialPostsAddress: cctx.String("social-posts-address"),
		ModeratorAddress:   cctx.String("moderator-address"),
		Logger:             logger,
	})
	if err != nil {
		return nil, nil, err
	}

	expected := big.NewInt(cctx.Int64("chain-id"))
	cidctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	chainID, err := client.ChainID(cidctx)
	if err != nil {
		return client, nil, fmt.Errorf("ledger RPC unreachable: %w", err)
	}
	if chainID.Cmp(expected) != 0 {
		return client, nil, fmt.Errorf("ledger chain id mismatch: RPC reports %s, configured %s", chainID, expected)
	}

	signer, err := evm.NewKeySigner(cctx.String("agent-private-key"), chainID, cctx.String("moderator-address"))
	if err != nil {
		return client, nil, err
	}
	logger.Info("ledger connected", "chainID", chainID, "agent", signer.Address())
	return client, signer, nil
}

func setupAgent(ctx context.Context, cctx *cli.Context, logger *slog.Logger) (*moderation.Agent, error) {
	var rdb *redis.Client
	if url := cctx.String("redis-url"); url != "" {
		var err error
		rdb, err = cliutil.SetupRedis(ctx, url)
		if err != nil {
			return nil, err
		}
	}

	scorer, err := setupScorer(ctx, cctx, logger, rdb)
	if err != nil {
		return nil, err
	}

	var (
		flags   flagstore.FlagStore = flagstore.NewMemFlagStore()
		cursors cursorstore.CursorStore
		rec     flaglog.Recorder
	)
	if rdb != nil {
		flags = flagstore.NewRedisFlagStore(rdb, redisPrefix)
		cursors = cursorstore.NewRedisCursorStore(rdb, redisPrefix)
	}
	if dburl := cctx.String("database-url"); dburl != "" {
		db, err := cliutil.SetupDatabase(dburl, cctx.Int("max-db-connections"))
		if err != nil {
			return nil, err
		}
		sqlRec, err := flaglog.NewSQLRecorder(db)
		if err != nil {
			return nil, err
		}
		rec = sqlRec
		if cursors == nil {
			cursors, err = cursorstore.NewSQLCursorStore(db, "modagent")
			if err != nil {
				return nil, err
			}
		}
	}

	var notifier moderation.Notifier
	if hook := cctx.String("slack-webhook-url"); hook != "" {
		notifier = moderation.NewSlackNotifier(hook, cctx.String("explorer-tx-url"))
	}

	client, signer, configErr := setupLedger(ctx, cctx, logger)

	threshold := cctx.Int("threshold")
	if threshold < 0 || threshold > 10000 {
		return nil, fmt.Errorf("threshold must be between 0 and 10000 basis points: %d", threshold)
	}
	multiplier := cctx.Float64("gas-multiplier")
	if multiplier < 1 || math.IsNaN(multiplier) {
		return nil, fmt.Errorf("gas multiplier must be at least 1: %v", multiplier)
	}

	return moderation.NewAgent(moderation.AgentConfig{
		Client:  client,
		Signer:  signer,
		Scorer:  scorer,
		Flags:   flags,
		Cursors: cursors,
		Poller: moderation.PollerConfig{
			Interval:      cctx.Duration("poll-interval"),
			Threshold:     threshold,
			RetryAttempts: cctx.Int("retry-attempts"),
		},
		Dispatcher: moderation.DispatcherConfig{
			GasMultiplier:  multiplier,
			GasPrice:       gweiToWei(cctx.Float64("gas-price-gwei")),
			ReceiptTimeout: cctx.Duration("receipt-timeout"),
			Recorder:       rec,
			Notifier:       notifier,
		},
		ConfigErr: configErr,
		Logger:    logger,
	}), nil
}
