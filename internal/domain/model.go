package domain

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
)

type Provider string

const (
	// ProviderOpenAI addresses models directly by model identifier.
	ProviderOpenAI Provider = "openai"
	// ProviderAzure addresses hosted deployments by deployment name and API version.
	ProviderAzure Provider = "azure"
)

// DefaultModelPrice is charged for a model slot whose price is absent or malformed.
var DefaultModelPrice = decimal.NewFromInt(1)

// ModelSelector is one model chosen for a comparison request.
type ModelSelector struct {
	Provider Provider        `json:"provider"`
	Label    string          `json:"label"`
	Price    decimal.Decimal `json:"price"`
}

// Key is the response map key for the selector: "{provider}-{label}".
func (m ModelSelector) Key() string {
	return string(m.Provider) + "-" + m.Label
}

// NewModelSelector normalizes a selector read from a client request.
// An empty provider means openai; the raw price goes through ParsePrice.
func NewModelSelector(provider, label string, rawPrice json.RawMessage) ModelSelector {
	p := Provider(provider)
	if p == "" {
		p = ProviderOpenAI
	}
	return ModelSelector{Provider: p, Label: label, Price: ParsePrice(rawPrice)}
}

// ParsePrice reads a JSON number or numeric string. Anything else, including
// negative values and amounts IsStorableAmount rejects, yields DefaultModelPrice.
func ParsePrice(raw json.RawMessage) decimal.Decimal {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return DefaultModelPrice
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return DefaultModelPrice
		}
	}

	price, err := decimal.NewFromString(text)
	if err != nil || price.IsNegative() || !IsStorableAmount(price) {
		return DefaultModelPrice
	}
	return price
}

// TotalCost sums the per-model prices of a selection.
func TotalCost(models []ModelSelector) decimal.Decimal {
	total := decimal.Zero
	for _, m := range models {
		total = total.Add(m.Price)
	}
	return total
}

// BackendDescriptor is what a model-call client needs to reach one model.
// Direct providers set Model; hosted deployments set Deployment and APIVersion.
type BackendDescriptor struct {
	Provider   Provider
	Model      string
	Deployment string
	APIVersion string
}
