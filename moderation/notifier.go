package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sol-ai/modagent/moderation/flaglog"
	"github.com/sol-ai/modagent/util"
)

// Interface for a type that can handle sending notifications
type Notifier interface {
	SendFlag(ctx context.Context, rec *flaglog.FlagRecord) error
}

type SlackNotifier struct {
	SlackWebhookURL string
	Client          *http.Client
	// optional, eg "https://explorer.example/tx/"; the tx hash is appended
	ExplorerTxURL string
}

var _ Notifier = (*SlackNotifier)(nil)

func NewSlackNotifier(webhookURL, explorerTxURL string) *SlackNotifier {
	return &SlackNotifier{
		SlackWebhookURL: webhookURL,
		Client:          util.RobustHTTPClient(),
		ExplorerTxURL:   explorerTxURL,
	}
}

// Only new flags and hard failures are worth a message.
func (n *SlackNotifier) SendFlag(ctx context.Context, rec *flaglog.FlagRecord) error {
	switch rec.Outcome {
	case flaglog.OutcomeFlagged, flaglog.OutcomeFailed:
	default:
		return nil
	}
	return n.sendSlackMsg(ctx, n.slackBody(rec))
}

type SlackWebhookBody struct {
	Text string `json:"text"`
}

// Sends a simple slack message to a channel via "incoming webhook".
//
// The slack incoming webhook must be already configured in the slack workplace.
func (n *SlackNotifier) sendSlackMsg(ctx context.Context, msg string) error {
	body, err := json.Marshal(SlackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.SlackWebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if resp.StatusCode != 200 || buf.String() != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}

func (n *SlackNotifier) slackBody(rec *flaglog.FlagRecord) string {
	var msg string
	if rec.Outcome == flaglog.OutcomeFailed {
		msg = "⚠️ Moderation Flag Failed ⚠️\n"
	} else {
		msg = "🚩 Post Flagged On-Chain 🚩\n"
	}
	msg += fmt.Sprintf("Post `%d` / score `%d` bp (%.2f%%) / backend `%s`\n", rec.PostID, rec.Score, float64(rec.Score)/100, rec.Backend)
	if rec.TxHash != "" {
		if n.ExplorerTxURL != "" {
			msg += fmt.Sprintf("<%s%s|%s>\n", n.ExplorerTxURL, rec.TxHash, rec.TxHash)
		} else {
			msg += fmt.Sprintf("`%s`\n", rec.TxHash)
		}
	}
	if rec.Error != "" {
		msg += fmt.Sprintf("Error: %s\n", rec.Error)
	}
	return msg
}
