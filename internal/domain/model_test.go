package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"absent", "", "1"},
		{"null", "null", "1"},
		{"number", "0.25", "0.25"},
		{"integer", "3", "3"},
		{"numeric string", `"0.5"`, "0.5"},
		{"zero", "0", "0"},
		{"garbage string", `"cheap"`, "1"},
		{"object", `{"amount": 2}`, "1"},
		{"bool", "true", "1"},
		{"negative", "-2", "1"},
		{"huge exponent", "1e100000000", "1"},
		{"tiny exponent", "1e-30", "1"},
		{"below credit scale", "0.0000001", "1"},
		{"trailing zeros past scale", "0.1000000", "0.1"},
		{"integer part too large", "12345678901234567", "1"},
		{"largest storable", "999999999999.999999", "999999999999.999999"},
		{"huge exponent string", `"1e100000000"`, "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePrice(json.RawMessage(tt.raw))
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ParsePrice(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestTotalCost_HugeExponentFallsBack(t *testing.T) {
	models := []ModelSelector{
		NewModelSelector("openai", "a", json.RawMessage("0.1")),
		NewModelSelector("openai", "b", json.RawMessage("1e100000000")),
	}

	if got := TotalCost(models); !got.Equal(decimal.RequireFromString("1.1")) {
		t.Errorf("Expected total 1.1, got %s", got)
	}
}

func TestIsStorableAmount(t *testing.T) {
	tests := []struct {
		amount string
		want   bool
	}{
		{"0", true},
		{"0.000001", true},
		{"-0.5", true},
		{"0.0000001", false},
		{"1000000000000", false},
		{"-1000000000000", false},
		{"1e-100", false},
		{"1e13", false},
	}
	for _, tt := range tests {
		if got := IsStorableAmount(decimal.RequireFromString(tt.amount)); got != tt.want {
			t.Errorf("IsStorableAmount(%s) = %v, want %v", tt.amount, got, tt.want)
		}
	}
}

func TestTotalCost_IsExact(t *testing.T) {
	models := []ModelSelector{
		NewModelSelector("openai", "GPT-4o", json.RawMessage("0.1")),
		NewModelSelector("azure", "GPT-4o", json.RawMessage("0.1")),
		NewModelSelector("openai", "o4 – mini", json.RawMessage("0.1")),
	}

	got := TotalCost(models)
	if got.String() != "0.3" {
		t.Errorf("Expected total 0.3, got %s", got)
	}
}

func TestTotalCost_MalformedPricesDefault(t *testing.T) {
	models := []ModelSelector{
		NewModelSelector("openai", "GPT-4o", nil),
		NewModelSelector("azure", "GPT-4o", json.RawMessage(`"n/a"`)),
	}

	if got := TotalCost(models); !got.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Expected total 2, got %s", got)
	}
}

func TestNewModelSelector_DefaultsProvider(t *testing.T) {
	m := NewModelSelector("", "GPT-4o", nil)
	if m.Provider != ProviderOpenAI {
		t.Errorf("Expected provider openai, got %q", m.Provider)
	}
	if m.Key() != "openai-GPT-4o" {
		t.Errorf("Expected key openai-GPT-4o, got %q", m.Key())
	}
}

func TestSessionName(t *testing.T) {
	if got := SessionName("  hello \n  world "); got != "hello world" {
		t.Errorf("Expected %q, got %q", "hello world", got)
	}

	long := ""
	for i := 0; i < 100; i++ {
		long += "я"
	}
	got := []rune(SessionName(long))
	if len(got) != sessionNameMaxRunes {
		t.Errorf("Expected %d runes, got %d", sessionNameMaxRunes, len(got))
	}
}
