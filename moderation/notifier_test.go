package moderation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sol-ai/modagent/moderation/flaglog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlackNotifier(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	var bodies []SlackWebhookBody
	reply := "ok"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var body SlackWebhookBody
		_ = json.Unmarshal(b, &body)
		bodies = append(bodies, body)
		io.WriteString(w, reply)
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, "https://explorer.example/tx/")

	require.NoError(n.SendFlag(ctx, &flaglog.FlagRecord{
		PostID:  12,
		Score:   8150,
		Backend: "toxic-bert",
		TxHash:  "0xabc",
		Outcome: flaglog.OutcomeFlagged,
	}))
	require.Len(bodies, 1)
	assert.Contains(bodies[0].Text, "Post `12`")
	assert.Contains(bodies[0].Text, "81.50%")
	assert.Contains(bodies[0].Text, "<https://explorer.example/tx/0xabc|0xabc>")

	// not worth a message
	require.NoError(n.SendFlag(ctx, &flaglog.FlagRecord{PostID: 12, Outcome: flaglog.OutcomeAlreadyFlagged}))
	assert.Len(bodies, 1)

	require.NoError(n.SendFlag(ctx, &flaglog.FlagRecord{
		PostID:  13,
		Score:   3000,
		Backend: "keyword-fallback",
		Outcome: flaglog.OutcomeFailed,
		Error:   "nonce too low",
	}))
	require.Len(bodies, 2)
	assert.Contains(bodies[1].Text, "Failed")
	assert.Contains(bodies[1].Text, "Error: nonce too low")

	reply = "invalid_payload"
	assert.Error(n.SendFlag(ctx, &flaglog.FlagRecord{PostID: 14, Outcome: flaglog.OutcomeFlagged}))
}
