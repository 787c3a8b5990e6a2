package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/florianilch/notion-clipper/internal/authflow"
	"github.com/florianilch/notion-clipper/internal/notion"
	"github.com/florianilch/notion-clipper/internal/tokenstore"
)

const (
	// EnvPrefix prefixes configuration environment variables. Nested keys
	// are separated by a double underscore: CLIPPER_NOTION__CLIENT_ID.
	EnvPrefix = "CLIPPER_"

	appName         = "notion-clipper"
	keyringUser     = "default"
	configFileName  = "config.toml"
	tokenFileName   = "credentials.json"
	stateFileName   = "state.db"
	defaultRedirect = "http://127.0.0.1:8338/callback"
	defaultAddr     = "127.0.0.1:8339"
)

// TokenStorageType selects where credentials are kept.
type TokenStorageType string

const (
	TokenStorageTypeFile    TokenStorageType = "file"
	TokenStorageTypeKeyring TokenStorageType = "keyring"
	// TokenStorageTypeEnv reads a static integration token from auth.token.
	TokenStorageTypeEnv TokenStorageType = "env"
)

// Config is the complete application configuration.
type Config struct {
	Notion NotionConfig `koanf:"notion"`
	Auth   AuthConfig   `koanf:"auth"`
	State  StateConfig  `koanf:"state"`
	Server ServerConfig `koanf:"server"`
	Log    LogConfig    `koanf:"log"`
}

// NotionConfig identifies the OAuth client and the API to talk to.
type NotionConfig struct {
	ClientID          string  `koanf:"client_id"`
	ClientSecret      string  `koanf:"client_secret"`
	RedirectURL       string  `koanf:"redirect_url" validate:"required,http_url"`
	AuthURL           string  `koanf:"auth_url" validate:"required,http_url"`
	TokenURL          string  `koanf:"token_url" validate:"required,http_url"`
	APIBaseURL        string  `koanf:"api_base_url" validate:"required,http_url"`
	Version           string  `koanf:"version" validate:"required"`
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gte=0"`
}

// AuthConfig selects the credential backend.
type AuthConfig struct {
	Storage TokenStorageType `koanf:"storage" validate:"oneof=file keyring env"`
	File    string           `koanf:"file" validate:"required_if=Storage file"`
	Token   string           `koanf:"token" validate:"required_if=Storage env"`
}

// StateConfig locates the preference database.
type StateConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// ServerConfig configures the HTTP bridge.
type ServerConfig struct {
	Addr           string   `koanf:"addr" validate:"required,hostname_port"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level    string `koanf:"level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format   string `koanf:"format" validate:"oneof=text json"`
	Exporter string `koanf:"exporter" validate:"omitempty,oneof=none otlp-http otlp-grpc stdout"`
}

// ConfigDir returns the directory holding configuration and local state.
func ConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "." + appName
	}
	return filepath.Join(dir, appName)
}

// DefaultConfigPath is where LoadConfig looks when no path is given.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), configFileName)
}

func defaults() map[string]any {
	dir := ConfigDir()
	return map[string]any{
		"notion.redirect_url":        defaultRedirect,
		"notion.auth_url":            authflow.Endpoint.AuthURL,
		"notion.token_url":           authflow.Endpoint.TokenURL,
		"notion.api_base_url":        notion.DefaultBaseURL,
		"notion.version":             notion.DefaultVersion,
		"notion.requests_per_second": float64(notion.DefaultRequestsPerSecond),
		"auth.storage":               string(TokenStorageTypeFile),
		"auth.file":                  filepath.Join(dir, tokenFileName),
		"state.path":                 filepath.Join(dir, stateFileName),
		"server.addr":                defaultAddr,
		"log.level":                  "info",
		"log.format":                 "text",
		"log.exporter":               "none",
	}
}

// LoadConfig layers defaults, the TOML file at path, CLIPPER_* environment
// variables and overrides, in increasing precedence, then validates the
// result. An empty path reads the default file if it exists.
func LoadConfig(path string, overrides map[string]any, environ func() []string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		if _, err := os.Stat(DefaultConfigPath()); err == nil {
			path = DefaultConfigPath()
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s does not exist", path)
			}
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if environ == nil {
		environ = os.Environ
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envKey,
		EnvironFunc:   environ,
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("loading overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps CLIPPER_NOTION__CLIENT_ID to notion.client_id.
func envKey(k, v string) (string, any) {
	k = strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
	k = strings.ReplaceAll(k, "__", ".")
	if k == "server.allowed_origins" {
		return k, strings.Split(v, ",")
	}
	return k, v
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that an OAuth client is configured
// whenever credentials come from an interactive sign-in.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q validation", configKey(fe.Namespace()), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Auth.Storage != TokenStorageTypeEnv {
		if c.Notion.ClientID == "" || c.Notion.ClientSecret == "" {
			return errors.New("invalid config: notion.client_id and notion.client_secret are required " +
				"(set CLIPPER_NOTION__CLIENT_ID and CLIPPER_NOTION__CLIENT_SECRET, or use auth.storage=env with an integration token)")
		}
	}
	return nil
}

// configKey turns a validator namespace like Config.Notion.RedirectURL into
// the dotted struct path without the root type.
func configKey(ns string) string {
	_, rest, found := strings.Cut(ns, ".")
	if !found {
		return ns
	}
	return rest
}

// NewTokenStore creates the token store for the configured backend.
func (a AuthConfig) NewTokenStore() (*tokenstore.TokenStore, error) {
	switch a.Storage {
	case TokenStorageTypeFile:
		return tokenstore.New(tokenstore.NewFileBackend(a.File)), nil
	case TokenStorageTypeKeyring:
		return tokenstore.New(tokenstore.NewKeyringBackend(appName, keyringUser)), nil
	case TokenStorageTypeEnv:
		return tokenstore.New(tokenstore.NewEnvBackend(a.Token)), nil
	default:
		return nil, fmt.Errorf("unsupported token storage %q", a.Storage)
	}
}
