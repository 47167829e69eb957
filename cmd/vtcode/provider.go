package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/vtcode/vtcode/internal/agent"
	"github.com/vtcode/vtcode/internal/agent/providers"
	"github.com/vtcode/vtcode/internal/config"
)

// buildProvider constructs the default LLM provider from configuration.
// VTCode selects one provider per run (no multi-channel routing); C6's
// fallback executor wraps this provider with cfg.LLM.FallbackChain and
// cfg.LLM.Routing when additional providers are configured.
func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if name == "" {
		return nil, fmt.Errorf("llm.default_provider is required")
	}
	providerCfg, ok := cfg.LLM.Providers[name]
	if !ok {
		return nil, fmt.Errorf("no configuration found for provider %q", name)
	}

	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:     providerCfg.APIKey,
			BaseURL:    providerCfg.BaseURL,
			MaxRetries: 3,
			RetryDelay: time.Second,
		})
	case "openai":
		return providers.NewOpenAIProvider(providerCfg.APIKey), nil
	case "google":
		return providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:     providerCfg.APIKey,
			MaxRetries: 3,
			RetryDelay: time.Second,
		})
	case "azure":
		return providers.NewAzureOpenAIProvider(providers.AzureOpenAIConfig{
			Endpoint:   providerCfg.BaseURL,
			APIKey:     providerCfg.APIKey,
			APIVersion: providerCfg.APIVersion,
		})
	case "bedrock":
		return providers.NewBedrockProvider(providers.BedrockConfig{
			Region: cfg.LLM.Bedrock.Region,
		})
	case "ollama":
		return providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      providerCfg.BaseURL,
			DefaultModel: providerCfg.DefaultModel,
			Timeout:      30 * time.Second,
		}), nil
	case "openrouter":
		return providers.NewOpenRouterProvider(providers.OpenRouterConfig{
			APIKey:       providerCfg.APIKey,
			DefaultModel: providerCfg.DefaultModel,
		})
	case "copilot-proxy":
		return providers.NewCopilotProxyProvider(providers.CopilotProxyConfig{
			BaseURL: providerCfg.BaseURL,
		})
	default:
		return nil, fmt.Errorf("unsupported provider %q", name)
	}
}
