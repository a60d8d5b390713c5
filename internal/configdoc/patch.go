package configdoc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/basket/clawkeep/internal/config"
)

// Wire API flavors installed for the model-gateway override.
const (
	apiAnthropicMessages = "anthropic-messages"
	apiOpenAICompletions = "openai-completions"
)

// telegramChannel is the wholesale replacement shape for channels.telegram.
type telegramChannel struct {
	BotToken  string   `json:"botToken"`
	Enabled   bool     `json:"enabled"`
	DMPolicy  string   `json:"dmPolicy"`
	AllowFrom []string `json:"allowFrom,omitempty"`
}

// dmConfig is the nested DM policy shape Discord and Slack use.
type dmConfig struct {
	Policy    string   `json:"policy"`
	AllowFrom []string `json:"allowFrom,omitempty"`
}

type discordChannel struct {
	Token   string   `json:"token"`
	Enabled bool     `json:"enabled"`
	DM      dmConfig `json:"dm"`
}

type slackChannel struct {
	BotToken string   `json:"botToken"`
	AppToken string   `json:"appToken"`
	Enabled  bool     `json:"enabled"`
	DM       dmConfig `json:"dm"`
}

// Patcher deep-merges environment-derived settings into the config document.
// Patch is safe to run on every boot against a restored, freshly onboarded,
// or hand-edited document, and applying it twice is the same as once.
type Patcher struct {
	keeper config.Config
	logger *slog.Logger
}

func NewPatcher(keeper config.Config, logger *slog.Logger) *Patcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Patcher{keeper: keeper, logger: logger}
}

// Patch applies every recognized environment input to the document.
func (p *Patcher) Patch(doc *Document, env config.Env) error {
	if err := p.patchGateway(doc, env); err != nil {
		return err
	}
	if err := p.patchModelOverride(doc, env); err != nil {
		return err
	}
	if err := p.patchChannels(doc, env); err != nil {
		return err
	}
	if err := p.patchPlugins(doc); err != nil {
		return err
	}
	return nil
}

// patchGateway pins the gateway's network and auth settings.
func (p *Patcher) patchGateway(doc *Document, env config.Env) error {
	if err := doc.Set("gateway.port", env.GatewayPort); err != nil {
		return err
	}
	if err := doc.Set("gateway.mode", "lan"); err != nil {
		return err
	}
	if err := doc.Set("gateway.trustedProxies", []string{"127.0.0.1"}); err != nil {
		return err
	}
	if env.GatewayToken != "" {
		if err := doc.Set("gateway.auth.token", env.GatewayToken); err != nil {
			return err
		}
	}
	if env.DevMode {
		if err := doc.Set("gateway.controlUi.allowInsecureAuth", true); err != nil {
			return err
		}
	}
	return nil
}

// patchModelOverride synthesizes a model-gateway provider entry and makes it
// the default primary model. It applies fully or not at all.
func (p *Patcher) patchModelOverride(doc *Document, env config.Env) error {
	ref := strings.TrimSpace(env.AIGatewayModel)
	if ref == "" {
		return nil
	}
	provider, modelID, ok := strings.Cut(ref, "/")
	if !ok || provider == "" || modelID == "" {
		p.logger.Warn("model override skipped: reference is not <provider>/<modelId>", "ref", ref)
		return nil
	}
	if env.AIGatewayAccountID == "" || env.AIGatewayName == "" || env.AIGatewayAPIKey == "" {
		p.logger.Warn("model override skipped: gateway account, name or api key missing", "provider", provider)
		return nil
	}

	baseURL := fmt.Sprintf("https://gateway.ai.cloudflare.com/v1/%s/%s/%s",
		env.AIGatewayAccountID, env.AIGatewayName, provider)
	if provider == "workers-ai" {
		// workers-ai nests its OpenAI-compatible surface one segment deeper.
		baseURL += "/v1"
	}
	api := apiOpenAICompletions
	if provider == "anthropic" {
		api = apiAnthropicMessages
	}

	type providerModel struct {
		ID string `json:"id"`
	}
	entry := struct {
		BaseURL string          `json:"baseUrl"`
		APIKey  string          `json:"apiKey"`
		API     string          `json:"api"`
		Models  []providerModel `json:"models"`
	}{
		BaseURL: baseURL,
		APIKey:  env.AIGatewayAPIKey,
		API:     api,
		Models:  []providerModel{{ID: modelID}},
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("configdoc: encode provider entry: %w", err)
	}
	if err := doc.SetRaw("models.providers."+escapePathKey(provider), string(raw)); err != nil {
		return err
	}
	if err := doc.Set("agents.defaults.model.primary", ref); err != nil {
		return err
	}
	p.logger.Info("model override applied", "provider", provider, "model", modelID, "api", api)
	return nil
}

// patchChannels replaces the channel subtrees wholesale when credentials are
// present. Field merges are deliberately avoided: stale keys from older
// schema versions must not survive.
func (p *Patcher) patchChannels(doc *Document, env config.Env) error {
	if env.Telegram.BotToken != "" {
		policy, allow := dmPolicy(env.Telegram)
		raw, err := json.Marshal(telegramChannel{
			BotToken:  env.Telegram.BotToken,
			Enabled:   true,
			DMPolicy:  policy,
			AllowFrom: allow,
		})
		if err != nil {
			return fmt.Errorf("configdoc: encode telegram channel: %w", err)
		}
		if err := doc.SetRaw("channels.telegram", string(raw)); err != nil {
			return err
		}
	}
	if env.Discord.BotToken != "" {
		policy, allow := dmPolicy(env.Discord)
		raw, err := json.Marshal(discordChannel{
			Token:   env.Discord.BotToken,
			Enabled: true,
			DM:      dmConfig{Policy: policy, AllowFrom: allow},
		})
		if err != nil {
			return fmt.Errorf("configdoc: encode discord channel: %w", err)
		}
		if err := doc.SetRaw("channels.discord", string(raw)); err != nil {
			return err
		}
	}
	if env.Slack.BotToken != "" && env.Slack.AppToken != "" {
		policy, allow := dmPolicy(env.Slack)
		raw, err := json.Marshal(slackChannel{
			BotToken: env.Slack.BotToken,
			AppToken: env.Slack.AppToken,
			Enabled:  true,
			DM:       dmConfig{Policy: policy, AllowFrom: allow},
		})
		if err != nil {
			return fmt.Errorf("configdoc: encode slack channel: %w", err)
		}
		if err := doc.SetRaw("channels.slack", string(raw)); err != nil {
			return err
		}
	}
	return nil
}

// dmPolicy resolves a channel's DM policy. An "open" policy without an
// explicit allow list defaults to the wildcard.
func dmPolicy(ch config.ChannelEnv) (string, []string) {
	policy := strings.TrimSpace(ch.DMPolicy)
	if policy == "" {
		policy = "pairing"
	}
	var allow []string
	for _, entry := range strings.Split(ch.AllowFrom, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			allow = append(allow, entry)
		}
	}
	if policy == "open" && len(allow) == 0 {
		allow = []string{"*"}
	}
	return policy, allow
}

// patchPlugins registers the local extensions directory in the plugin search
// path (append-if-absent) and enables the bridge extension's entry.
func (p *Patcher) patchPlugins(doc *Document) error {
	extDir := p.keeper.ExtensionsDir()

	paths := doc.Get("plugins.load.paths")
	found := false
	for _, entry := range paths.Array() {
		if entry.String() == extDir {
			found = true
			break
		}
	}
	if !found {
		if err := doc.Set("plugins.load.paths.-1", extDir); err != nil {
			return err
		}
	}
	return doc.Set("plugins.entries.clawkeep-bridge.enabled", true)
}

// escapePathKey escapes characters gjson/sjson treat specially in path keys.
func escapePathKey(key string) string {
	replacer := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return replacer.Replace(key)
}
