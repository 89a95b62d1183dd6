package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/mohammad-safakhou/chainbrief/config"
)

// BriefStruct is the structured half of an LLM brief.
type BriefStruct struct {
	TopWallets    []string           `json:"top_wallets"`
	NotableEvents []string           `json:"notable_events"`
	Signals       map[string]float64 `json:"signals"`
	RiskFlags     []string           `json:"risk_flags"`
	Confidence    float64            `json:"confidence"`
}

// BriefValidation carries the model's own consistency check.
type BriefValidation struct {
	ConsistencyOK bool     `json:"consistency_ok"`
	Discrepancies []string `json:"discrepancies"`
}

// BriefResult is the fixed response schema expected from the model. Fields
// are pointers so a degraded (non-JSON) response yields nulls rather than
// zero values.
type BriefResult struct {
	SummaryText *string          `json:"summary_text"`
	Struct      *BriefStruct     `json:"struct"`
	Validation  *BriefValidation `json:"validation"`

	Model            string  `json:"-"`
	PromptTokens     int     `json:"-"`
	CompletionTokens int     `json:"-"`
	Cost             float64 `json:"-"`
	Degraded         bool    `json:"-"`
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg    config.LLMConfig
	client *http.Client
	logger *log.Logger
}

func New(cfg config.LLMConfig) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: log.New(os.Stdout, "[LLM] ", log.LstdFlags),
	}
}

// Available reports whether the client holds credentials.
func (c *Client) Available() bool { return c.cfg.APIKey != "" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateBrief asks the model for a brief in the fixed JSON schema. A
// response that is not valid JSON degrades silently: the result comes back
// with null fields and Degraded set, never an error, so the deterministic
// brief always survives.
func (c *Client) GenerateBrief(ctx context.Context, system, user string) (BriefResult, string, error) {
	if !c.Available() {
		return BriefResult{Degraded: true}, "", fmt.Errorf("llm: no api key configured")
	}
	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		ResponseFormat: &struct {
			Type string `json:"type"`
		}{Type: "json_object"},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return BriefResult{Degraded: true}, "", err
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return BriefResult{Degraded: true}, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return BriefResult{Degraded: true}, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return BriefResult{Degraded: true}, "", fmt.Errorf("llm: %s: %s", resp.Status, string(b))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return BriefResult{Degraded: true}, "", err
	}
	if chat.Error != nil {
		return BriefResult{Degraded: true}, "", fmt.Errorf("llm: %s", chat.Error.Message)
	}
	if len(chat.Choices) == 0 {
		return BriefResult{Degraded: true}, chat.ID, fmt.Errorf("llm: empty response")
	}

	result := BriefResult{
		Model:            c.cfg.Model,
		PromptTokens:     chat.Usage.PromptTokens,
		CompletionTokens: chat.Usage.CompletionTokens,
		Cost:             c.EstimateCost(chat.Usage.PromptTokens, chat.Usage.CompletionTokens),
	}
	content := chat.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		c.logger.Printf("model returned non-json content, degrading to nulls: %v", err)
		result.SummaryText = nil
		result.Struct = nil
		result.Validation = nil
		result.Degraded = true
	}
	return result, chat.ID, nil
}

// EstimateCost converts token usage to dollars with the configured rates.
func (c *Client) EstimateCost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000*c.cfg.CostPer1K +
		float64(completionTokens)/1000*c.cfg.CostPer1KOutput
}
