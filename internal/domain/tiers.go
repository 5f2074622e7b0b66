package domain

import "strings"

// Built-in tier classification tables. The budget service copies these at
// construction so runtime overrides never mutate package state.

var defaultModelTiers = map[string]BudgetTier{
	"codellama":         TierLightweight,
	"deepseek-coder":    TierLightweight,
	"starcoder":         TierLightweight,
	"claude-haiku":      TierMidweight,
	"claude-3-haiku":    TierMidweight,
	"llama-3":           TierMidweight,
	"mistral":           TierMidweight,
	"qwen":              TierMidweight,
	"gpt-4":             TierHeavyweight,
	"claude-3-opus":     TierHeavyweight,
	"claude-3-sonnet":   TierHeavyweight,
	"claude-3.5-sonnet": TierHeavyweight,
	"claude-3.7-sonnet": TierHeavyweight,
}

var defaultProviderTiers = map[string]BudgetTier{
	"openai":    TierHeavyweight,
	"anthropic": TierHeavyweight,
	"ollama":    TierMidweight,
	"local":     TierLightweight,
}

func DefaultModelTiers() map[string]BudgetTier {
	out := make(map[string]BudgetTier, len(defaultModelTiers))
	for model, tier := range defaultModelTiers {
		out[model] = tier
	}
	return out
}

func DefaultProviderTiers() map[string]BudgetTier {
	out := make(map[string]BudgetTier, len(defaultProviderTiers))
	for provider, tier := range defaultProviderTiers {
		out[provider] = tier
	}
	return out
}

// ResolveTier picks a tier for a request: exact model match first, then the
// component override, then the provider default, then heavyweight as the most
// conservative choice.
func ResolveTier(
	component, provider, model string,
	componentTiers map[string]BudgetTier,
	providerTiers map[string]BudgetTier,
	modelTiers map[string]BudgetTier,
) BudgetTier {
	if model != "" {
		if tier, ok := modelTiers[strings.ToLower(model)]; ok {
			return tier
		}
	}

	if component != "" {
		if tier, ok := componentTiers[component]; ok {
			return tier
		}
	}

	if provider != "" {
		if tier, ok := providerTiers[strings.ToLower(provider)]; ok {
			return tier
		}
	}

	return TierHeavyweight
}
