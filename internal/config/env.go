package config

import (
	"os"
	"strconv"
)

// ChannelEnv holds one chat platform's credential and DM policy inputs.
type ChannelEnv struct {
	BotToken  string
	AppToken  string // Slack only; both tokens are required there
	DMPolicy  string
	AllowFrom string // comma-separated allow list
}

// Env is a snapshot of every environment input the config patcher and auth
// reconciler recognize. Captured once so patching stays a pure function of
// (document, Env).
type Env struct {
	GatewayPort  int
	GatewayToken string
	DevMode      bool

	// Model-gateway override, "<provider>/<modelId>" plus account identifiers.
	AIGatewayModel     string
	AIGatewayAccountID string
	AIGatewayName      string
	AIGatewayAPIKey    string

	Telegram ChannelEnv
	Discord  ChannelEnv
	Slack    ChannelEnv

	// ProviderKeys maps a model provider to its directly supplied API key.
	ProviderKeys map[string]string

	// CodexAPIKey is the fallback code-execution provider credential; when it
	// is an unexpired signed token it is installed as a profile directly.
	CodexAPIKey string
}

// providerKeyEnv maps model providers to their conventional env vars.
var providerKeyEnv = map[string]string{
	"anthropic":  "ANTHROPIC_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"google":     "GEMINI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

// ReadEnv captures the recognized environment inputs.
func ReadEnv() Env {
	env := Env{
		GatewayToken:       os.Getenv("OPENCLAW_GATEWAY_TOKEN"),
		DevMode:            isTruthy(os.Getenv("OPENCLAW_DEV_MODE")),
		AIGatewayModel:     os.Getenv("AI_GATEWAY_MODEL"),
		AIGatewayAccountID: os.Getenv("AI_GATEWAY_ACCOUNT_ID"),
		AIGatewayName:      os.Getenv("AI_GATEWAY_NAME"),
		AIGatewayAPIKey:    os.Getenv("AI_GATEWAY_API_KEY"),
		Telegram: ChannelEnv{
			BotToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
			DMPolicy:  os.Getenv("TELEGRAM_DM_POLICY"),
			AllowFrom: os.Getenv("TELEGRAM_ALLOW_FROM"),
		},
		Discord: ChannelEnv{
			BotToken:  os.Getenv("DISCORD_BOT_TOKEN"),
			DMPolicy:  os.Getenv("DISCORD_DM_POLICY"),
			AllowFrom: os.Getenv("DISCORD_ALLOW_FROM"),
		},
		Slack: ChannelEnv{
			BotToken:  os.Getenv("SLACK_BOT_TOKEN"),
			AppToken:  os.Getenv("SLACK_APP_TOKEN"),
			DMPolicy:  os.Getenv("SLACK_DM_POLICY"),
			AllowFrom: os.Getenv("SLACK_ALLOW_FROM"),
		},
		ProviderKeys: make(map[string]string),
		CodexAPIKey:  os.Getenv("OPENAI_CODEX_API_KEY"),
	}

	env.GatewayPort = 18789
	if v := os.Getenv("OPENCLAW_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			env.GatewayPort = port
		}
	}

	for provider, envVar := range providerKeyEnv {
		if v := os.Getenv(envVar); v != "" {
			env.ProviderKeys[provider] = v
		}
	}
	return env
}

// ProviderKey returns the direct env credential for a provider, if any.
func (e Env) ProviderKey(provider string) string {
	if e.ProviderKeys == nil {
		return ""
	}
	return e.ProviderKeys[provider]
}
