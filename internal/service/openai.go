package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/set-night/modelarena/internal/config"
	"github.com/set-night/modelarena/internal/domain"
)

const maxErrorBodyLen = 300

type ChatRequest struct {
	Model               string        `json:"model,omitempty"`
	Messages            []ChatMessage `json:"messages"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
	Temperature         *float64      `json:"temperature,omitempty"`
	TopP                *float64      `json:"top_p,omitempty"`
}

type ChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// OpenAIClient calls models directly on the OpenAI chat completions API.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	return &OpenAIClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: config.RequestTimeout},
	}
}

func (c *OpenAIClient) Call(ctx context.Context, messages []ChatMessage, backend domain.BackendDescriptor) CallOutcome {
	if c.apiKey == "" {
		return Failure(errors.New("OpenAI API key not set"))
	}

	req := newChatRequest(backend.Model, messages)
	req.Model = backend.Model

	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	return doChat(ctx, c.httpClient, c.baseURL+"/chat/completions", headers, req)
}

// newChatRequest applies the shared completion settings. Reasoning models
// (o1, o3, o4-mini, ...) reject sampling parameters, so they are left out.
func newChatRequest(model string, messages []ChatMessage) ChatRequest {
	req := ChatRequest{
		Messages:            messages,
		MaxCompletionTokens: config.CompletionMaxTokens,
	}
	if !isReasoningModel(model) {
		temperature := config.CompletionTemperature
		topP := config.CompletionTopP
		req.Temperature = &temperature
		req.TopP = &topP
	}
	return req
}

func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	return len(m) >= 2 && m[0] == 'o' && m[1] >= '0' && m[1] <= '9'
}

func doChat(ctx context.Context, httpClient *http.Client, url string, headers map[string]string, chatReq ChatRequest) CallOutcome {
	payload, err := json.Marshal(chatReq)
	if err != nil {
		return Failure(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Failure(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return Failure(fmt.Errorf("chat request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Failure(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return Failure(fmt.Errorf("status %d: %s", resp.StatusCode, errorMessage(body)))
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return Failure(fmt.Errorf("parse response: %w", err))
	}
	if len(chatResp.Choices) == 0 {
		return Failure(errors.New("response contained no choices"))
	}

	var tokens *int
	if chatResp.Usage.TotalTokens > 0 {
		total := chatResp.Usage.TotalTokens
		tokens = &total
	}
	return Success(chatResp.Choices[0].Message.Content, tokens)
}

func errorMessage(body []byte) string {
	var apiErr apiErrorBody
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return apiErr.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBodyLen {
		msg = msg[:maxErrorBodyLen] + "..."
	}
	return msg
}
