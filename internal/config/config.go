// Package config loads and validates the proxy configuration.
//
// Precedence, highest first: environment variables, an optional TOML config
// file, built-in defaults.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the fully resolved application configuration.
type Config struct {
	Server      Server      `koanf:"server"`
	Log         Log         `koanf:"log"`
	Anthropic   Anthropic   `koanf:"anthropic"`
	OAuth       OAuth       `koanf:"oauth"`
	Credentials Credentials `koanf:"credentials"`
	Defaults    Defaults    `koanf:"defaults"`
	Models      []string    `koanf:"models" validate:"min=1"`
}

// Server configures the inbound listener. The proxy binds loopback only;
// inbound callers are not authenticated.
type Server struct {
	Host string `koanf:"host" validate:"required"`
	Port int    `koanf:"port" validate:"min=1,max=65535"`
}

// Addr returns the listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Log configures the slog output.
type Log struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// Anthropic configures the Messages API upstream.
type Anthropic struct {
	APIBase string   `koanf:"api_base" validate:"url"`
	Version string   `koanf:"version" validate:"required"`
	Beta    []string `koanf:"beta"`
}

// OAuth configures the PKCE flow. The client identifier is public; no
// secrets are compiled in or stored here.
type OAuth struct {
	AuthorizeBase string `koanf:"authorize_base" validate:"url"`
	TokenBase     string `koanf:"token_base" validate:"url"`
	ClientID      string `koanf:"client_id" validate:"required"`
	RedirectURI   string `koanf:"redirect_uri" validate:"url"`
	Scope         string `koanf:"scope" validate:"required"`
}

// Credential storage backends.
const (
	StorageFile    = "file"
	StorageKeyring = "keyring"
)

// Credentials configures where the OAuth credential is persisted.
type Credentials struct {
	Storage string `koanf:"storage" validate:"oneof=file keyring"`
	File    string `koanf:"file" validate:"required"`
}

// Defaults holds request fallbacks.
type Defaults struct {
	Model     string `koanf:"model" validate:"required"`
	MaxTokens int64  `koanf:"max_tokens" validate:"min=1"`
}

// defaults mirror the upstream values the proxy was built against. The beta
// list matches what the Claude Code client negotiates for OAuth access.
func defaults() map[string]any {
	return map[string]any{
		"server.host":        "127.0.0.1",
		"server.port":        8081,
		"log.level":          "info",
		"log.format":         "text",
		"anthropic.api_base": "https://api.anthropic.com",
		"anthropic.version":  "2023-06-01",
		"anthropic.beta": []string{
			"oauth-2025-04-20",
			"claude-code-20250219",
			"interleaved-thinking-2025-05-14",
			"fine-grained-tool-streaming-2025-05-14",
		},
		"oauth.authorize_base": "https://claude.ai",
		"oauth.token_base":     "https://console.anthropic.com",
		"oauth.client_id":      "9d1c250a-e61b-44d9-88ed-5944d1962f5e",
		"oauth.redirect_uri":   "https://console.anthropic.com/oauth/code/callback",
		"oauth.scope":          "org:create_api_key user:profile user:inference",
		"credentials.storage":  StorageFile,
		"credentials.file":     "~/.anthropic-oauth-proxy/tokens.json",
		"defaults.model":       "claude-sonnet-4-0",
		"defaults.max_tokens":  int64(4096),
		"models": []string{
			"claude-opus-4-1",
			"claude-sonnet-4-0",
			"claude-3-7-sonnet-latest",
			"claude-3-5-haiku-latest",
		},
	}
}

// envKeys maps the documented environment variables onto config keys.
// Comma-separated variables become lists.
var envKeys = map[string]string{
	"HOST":               "server.host",
	"PORT":               "server.port",
	"LOG_LEVEL":          "log.level",
	"LOG_FORMAT":         "log.format",
	"ANTHROPIC_VERSION":  "anthropic.version",
	"ANTHROPIC_BETA":     "anthropic.beta",
	"API_BASE":           "anthropic.api_base",
	"AUTH_BASE":          "oauth.authorize_base",
	"AUTH_BASE_TOKEN":    "oauth.token_base",
	"CLIENT_ID":          "oauth.client_id",
	"REDIRECT_URI":       "oauth.redirect_uri",
	"SCOPE":              "oauth.scope",
	"TOKEN_STORAGE":      "credentials.storage",
	"TOKEN_FILE":         "credentials.file",
	"DEFAULT_MODEL":      "defaults.model",
	"DEFAULT_MAX_TOKENS": "defaults.max_tokens",
	"MODELS":             "models",
}

// listKeys are config keys populated from comma-joined env values.
var listKeys = map[string]bool{
	"anthropic.beta": true,
	"models":         true,
}

// Load resolves the configuration. path optionally names a TOML file; an
// empty path skips the file layer.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		EnvironFunc: os.Environ,
		TransformFunc: func(key, value string) (string, any) {
			target, ok := envKeys[key]
			if !ok {
				return "", nil
			}
			if listKeys[target] {
				parts := strings.Split(value, ",")
				for i := range parts {
					parts[i] = strings.TrimSpace(parts[i])
				}
				return target, parts
			}
			return target, value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
