package config

import "time"

const (
	// AI request timeout, per model call
	RequestTimeout = 90 * time.Second

	// Completion settings sent to every provider
	CompletionMaxTokens   = 1000
	CompletionTemperature = 0.7
	CompletionTopP        = 0.95

	// Azure OpenAI API version used by the built-in catalogue
	AzureAPIVersion = "2024-12-01-preview"

	// Recent transactions returned with the balance
	CreditsTransactionsLimit = 10

	// Rate limiter housekeeping
	RateLimiterCleanup = 5 * time.Minute
	RateLimiterIdleTTL = 15 * time.Minute

	// HTTP server
	ReadHeaderTimeout = 10 * time.Second
	ShutdownTimeout   = 30 * time.Second

	// Telegram log message limit
	MaxTelegramMessageLen = 4096
)

// CatalogueEntry is one built-in model: a label offered to clients and the
// backend it maps to.
type CatalogueEntry struct {
	Provider   string `json:"provider"`
	Label      string `json:"label"`
	Model      string `json:"model,omitempty"`
	Deployment string `json:"deployment,omitempty"`
	APIVersion string `json:"api_version,omitempty"`
}

// DefaultCatalogue is used when MODEL_MAP_PATH is not set.
var DefaultCatalogue = []CatalogueEntry{
	{Provider: "openai", Label: "GPT-4o", Model: "gpt-4o"},
	{Provider: "openai", Label: "o4 – mini", Model: "o4-mini"},
	{Provider: "openai", Label: "GPT-4.1 -mini", Model: "gpt-4.1-mini"},
	{Provider: "azure", Label: "GPT-4o", Deployment: "gpt-4o", APIVersion: AzureAPIVersion},
	{Provider: "azure", Label: "o4 – mini", Deployment: "o4-mini", APIVersion: AzureAPIVersion},
	{Provider: "azure", Label: "GPT-4.1 -mini", Deployment: "gpt-4.1-mini", APIVersion: AzureAPIVersion},
}
