package toxicity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sol-ai/modagent/util"
)

const DefaultHuggingFaceURL = "https://api-inference.huggingface.co/models/unitary/toxic-bert"

// Hosted inference API client for text-classification models like
// unitary/toxic-bert.
type HuggingFaceBackend struct {
	Client   *http.Client
	Endpoint string
	Token    string
	// label whose score is reported; others are ignored
	ToxicLabel string
	name       string
}

var _ Backend = (*HuggingFaceBackend)(nil)

func NewHuggingFaceBackend(endpoint, token string, logger *slog.Logger) *HuggingFaceBackend {
	if endpoint == "" {
		endpoint = DefaultHuggingFaceURL
	}
	return &HuggingFaceBackend{
		Client:     util.QuotaAwareHTTPClient(logger),
		Endpoint:   endpoint,
		Token:      token,
		ToxicLabel: "toxic",
		name:       modelName(endpoint),
	}
}

// last path segment of the model endpoint, eg "toxic-bert"
func modelName(endpoint string) string {
	s := strings.TrimRight(endpoint, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return "huggingface"
	}
	return s
}

func (hf *HuggingFaceBackend) Name() string {
	return hf.name
}

type hfLabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type hfRequest struct {
	Inputs string `json:"inputs"`
}

func (hf *HuggingFaceBackend) Classify(ctx context.Context, text string) (*Classification, error) {
	body, err := json.Marshal(hfRequest{Inputs: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hf.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if hf.Token != "" {
		req.Header.Set("Authorization", "Bearer "+hf.Token)
	}

	resp, err := hf.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("huggingface request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		rle := &RateLimitError{Backend: hf.name}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			rle.RetryAfter = time.Duration(secs) * time.Second
		}
		return nil, rle
	}
	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("huggingface API status=%d: %s", resp.StatusCode, truncate(string(respBytes), 200))
	}

	labels, err := parseHFResponse(respBytes)
	if err != nil {
		return nil, err
	}
	for _, ls := range labels {
		if strings.EqualFold(ls.Label, hf.ToxicLabel) {
			return &Classification{Label: ls.Label, Score: ls.Score}, nil
		}
	}
	// model answered but did not rate the toxic label at all
	return &Classification{Label: hf.ToxicLabel, Score: 0}, nil
}

// The API returns [[{label,score},...]] for single inputs, but some models
// and older deployments return the flat form.
func parseHFResponse(b []byte) ([]hfLabelScore, error) {
	var nested [][]hfLabelScore
	if err := json.Unmarshal(b, &nested); err == nil {
		if len(nested) == 0 {
			return nil, fmt.Errorf("empty huggingface response")
		}
		return nested[0], nil
	}
	var flat []hfLabelScore
	if err := json.Unmarshal(b, &flat); err != nil {
		return nil, fmt.Errorf("unexpected huggingface response: %w", err)
	}
	return flat, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
