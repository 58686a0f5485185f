package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/set-night/modelarena/internal/config"
	"github.com/set-night/modelarena/internal/domain"
)

// AzureClient calls hosted deployments on an Azure OpenAI resource.
type AzureClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

func NewAzureClient(apiKey, endpoint string) *AzureClient {
	return &AzureClient{
		apiKey:     apiKey,
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: config.RequestTimeout},
	}
}

func (c *AzureClient) Call(ctx context.Context, messages []ChatMessage, backend domain.BackendDescriptor) CallOutcome {
	if c.apiKey == "" || c.endpoint == "" {
		return Failure(errors.New("Azure OpenAI API key or endpoint not set"))
	}

	target := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.endpoint, url.PathEscape(backend.Deployment), url.QueryEscape(backend.APIVersion))

	headers := map[string]string{"api-key": c.apiKey}
	return doChat(ctx, c.httpClient, target, headers, newChatRequest(backend.Deployment, messages))
}
