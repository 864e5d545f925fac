package main

import (
	"context"
	"fmt"
	"log/slog"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sol-ai/modagent/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "modagent",
		Usage:   "off-chain moderation agent for on-chain social feeds",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"MODAGENT_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.IntFlag{
			Name:    "threshold",
			Usage:   "toxicity score, in basis points, at or above which posts are flagged",
			Value:   2500,
			EnvVars: []string{"MODAGENT_THRESHOLD", "TOXICITY_THRESHOLD"},
		},
		&cli.StringFlag{
			Name:    "hf-token",
			Usage:   "HuggingFace inference API token; enables the HuggingFace classifier",
			EnvVars: []string{"HF_TOKEN", "HUGGINGFACE_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "hf-url",
			Usage:   "HuggingFace text classification endpoint",
			Value:   "https://api-inference.huggingface.co/models/unitary/toxic-bert",
			EnvVars: []string{"MODAGENT_HF_URL"},
		},
		&cli.StringFlag{
			Name:    "gemini-api-key",
			Usage:   "Gemini API key; enables the Gemini classifiers",
			EnvVars: []string{"GEMINI_API_KEY"},
		},
		&cli.StringSliceFlag{
			Name:    "gemini-models",
			Usage:   "Gemini models to rotate across, one classifier each",
			Value:   cli.NewStringSlice("gemini-2.0-flash", "gemini-2.0-flash-lite", "gemini-1.5-flash"),
			EnvVars: []string{"MODAGENT_GEMINI_MODELS"},
		},
		&cli.DurationFlag{
			Name:    "classifier-timeout",
			Usage:   "timeout for a single remote classifier call",
			Value:   30 * time.Second,
			EnvVars: []string{"MODAGENT_CLASSIFIER_TIMEOUT"},
		},
		&cli.Float64Flag{
			Name:    "classifier-rate-limit",
			Usage:   "max requests per second to each remote classifier (0 for unlimited)",
			Value:   1,
			EnvVars: []string{"MODAGENT_CLASSIFIER_RATE_LIMIT"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL, for the flag cache, score cache, and cursor: redis://<user>:<pass>@<hostname>:6379/<db>",
			EnvVars: []string{"MODAGENT_REDIS_URL", "REDIS_URL"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		scoreCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the moderation agent and its control API",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "rpc-url",
			Usage:   "JSON-RPC endpoint of the ledger",
			Value:   "https://dream-rpc.somnia.network",
			EnvVars: []string{"MODAGENT_RPC_URL", "RPC_URL"},
		},
		&cli.Int64Flag{
			Name:    "chain-id",
			Usage:   "ledger chain id, checked against the RPC endpoint",
			Value:   50312,
			EnvVars: []string{"MODAGENT_CHAIN_ID", "CHAIN_ID"},
		},
		&cli.StringFlag{
			Name:    "social-posts-address",
			Usage:   "address of the SocialPosts contract",
			EnvVars: []string{"SOCIAL_POSTS_CONTRACT"},
		},
		&cli.StringFlag{
			Name:    "moderator-address",
			Usage:   "address of the moderation contract",
			EnvVars: []string{"MODERATOR_CONTRACT"},
		},
		&cli.StringFlag{
			Name:    "agent-private-key",
			Usage:   "hex-encoded private key of the moderation agent account",
			EnvVars: []string{"AGENT_PRIVATE_KEY"},
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "how often to check the ledger for new posts",
			Value:   15 * time.Second,
			EnvVars: []string{"MODAGENT_POLL_INTERVAL"},
		},
		&cli.Float64Flag{
			Name:    "gas-price-gwei",
			Usage:   "fixed gas price for flag transactions",
			Value:   10,
			EnvVars: []string{"MODAGENT_GAS_PRICE_GWEI"},
		},
		&cli.Float64Flag{
			Name:    "gas-multiplier",
			Usage:   "safety multiplier applied to gas estimates",
			Value:   1.2,
			EnvVars: []string{"MODAGENT_GAS_MULTIPLIER"},
		},
		&cli.DurationFlag{
			Name:    "receipt-timeout",
			Usage:   "how long to wait for a flag transaction receipt",
			Value:   2 * time.Minute,
			EnvVars: []string{"MODAGENT_RECEIPT_TIMEOUT"},
		},
		&cli.IntFlag{
			Name:    "retry-attempts",
			Usage:   "how many later cycles retry a failed post (0 disables)",
			Value:   3,
			EnvVars: []string{"MODAGENT_RETRY_ATTEMPTS"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database for the flag audit log and cursor (eg, sqlite://data/modagent/modagent.db, postgres://...)",
			EnvVars: []string{"MODAGENT_DATABASE_URL", "DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MODAGENT_MAX_DB_CONNECTIONS"},
			Value:   10,
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "Slack incoming webhook for flag notifications",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "explorer-tx-url",
			Usage:   "block explorer transaction URL prefix, for notification links",
			Value:   "https://shannon-explorer.somnia.network/tx/",
			EnvVars: []string{"MODAGENT_EXPLORER_TX_URL"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":5000",
			EnvVars: []string{"MODAGENT_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":5001",
			EnvVars: []string{"MODAGENT_METRICS_LISTEN"},
		},
		&cli.BoolFlag{
			Name:    "auto-start",
			Usage:   "start the moderation loop immediately, instead of waiting for POST /start",
			Value:   true,
			EnvVars: []string{"MODAGENT_AUTO_START"},
		},
		&cli.BoolFlag{
			Name:    "dry-run",
			Usage:   "use an in-memory ledger instead of the RPC endpoint",
			EnvVars: []string{"MODAGENT_DRY_RUN"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := cliutil.ConfigLogger(cctx.String("log-level"), os.Stdout)
		shutdownOTEL := configOTEL("modagent")
		defer shutdownOTEL()

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		agent, err := setupAgent(ctx, cctx, logger)
		if err != nil {
			return err
		}
		srv := NewServer(agent, Config{
			Logger: logger,
			Bind:   cctx.String("bind"),
		})

		// prometheus HTTP endpoint: /metrics
		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		if cctx.Bool("auto-start") {
			if _, err := agent.Start(); err != nil {
				logger.Error("moderation loop not started", "err", err)
			}
		}

		eg, egctx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			return agent.RunPersistCursor(egctx)
		})
		eg.Go(func() error {
			return srv.RunAPI()
		})
		eg.Go(func() error {
			<-egctx.Done()
			logger.Info("shutting down")
			sctx, scancel := context.WithTimeout(context.Background(), 3*time.Minute)
			defer scancel()
			if err := srv.Shutdown(sctx); err != nil {
				logger.Error("HTTP server shutdown error", "err", err)
			}
			if err := agent.Shutdown(sctx); err != nil {
				logger.Error("agent shutdown error", "err", err)
			}
			return nil
		})
		if err := eg.Wait(); err != nil {
			return fmt.Errorf("modagent service: %w", err)
		}
		logger.Info("graceful shutdown complete")
		return nil
	},
}

var scoreCmd = &cli.Command{
	Name:      "score",
	Usage:     "score text through the classifier chain, without flagging anything",
	ArgsUsage: "<text>",
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		logger := cliutil.ConfigLogger(cctx.String("log-level"), os.Stderr)
		text := strings.Join(cctx.Args().Slice(), " ")
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("need text to score")
		}
		scorer, err := setupScorer(ctx, cctx, logger, nil)
		if err != nil {
			return err
		}
		res := scorer.Score(ctx, text)
		toxic := res.Score >= cctx.Int("threshold")
		fmt.Printf("score=%d percentage=%.2f toxic=%t backend=%s\n", res.Score, float64(res.Score)/100, toxic, res.Backend)
		return nil
	},
}
