package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// OAuthConfig holds the Google OAuth settings for the Gmail connection.
// The client secret never appears here: the authorization code is exchanged
// by the backend at ExchangeURL, so only public values are configured.
type OAuthConfig struct {
	// ClientID is the public Google OAuth client identifier.
	ClientID string `mapstructure:"client_id" yaml:"client_id"`

	// RedirectURI must match the URI registered for the client. The token
	// exchange repeats it verbatim; a mismatch is rejected by Google.
	RedirectURI string `mapstructure:"redirect_uri" yaml:"redirect_uri"`

	// ExchangeURL is the trusted backend endpoint that swaps an
	// authorization code for an access token.
	ExchangeURL string `mapstructure:"exchange_url" yaml:"exchange_url"`

	// ListenAddr is the loopback address the callback listener binds to.
	// It must agree with RedirectURI.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// ExtractionConfig bounds a single extraction run.
type ExtractionConfig struct {
	// DaysBack is the default age filter for the Gmail search.
	DaysBack int `mapstructure:"days_back" yaml:"days_back"`

	// MaxMessages caps how many listed messages are fetched and parsed.
	MaxMessages int `mapstructure:"max_messages" yaml:"max_messages"`

	// DefaultCurrency tags amounts matched by the generic total/amount
	// pattern, which carries no currency marker of its own.
	DefaultCurrency string `mapstructure:"default_currency" yaml:"default_currency"`
}

// Config is the top-level application configuration.
type Config struct {
	OAuth      OAuthConfig      `mapstructure:"oauth" yaml:"oauth"`
	Extraction ExtractionConfig `mapstructure:"extraction" yaml:"extraction"`
	DBPath     string           `mapstructure:"db_path" yaml:"db_path"`
	LogPath    string           `mapstructure:"log_path" yaml:"log_path"`
}

// DefaultConfigPath returns ~/.config/cashmail/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "cashmail", "config.yaml")
}

func defaultConfig() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".config", "cashmail")
	return &Config{
		OAuth: OAuthConfig{
			RedirectURI: "http://127.0.0.1:8459/oauth2/callback",
			ListenAddr:  "127.0.0.1:8459",
		},
		Extraction: ExtractionConfig{
			DaysBack:        30,
			MaxMessages:     50,
			DefaultCurrency: "ILS",
		},
		DBPath:  filepath.Join(base, "cashmail.db"),
		LogPath: filepath.Join(base, "cashmail.log"),
	}
}

// Load reads configuration from the given YAML file using Viper. A missing
// file yields the defaults; a malformed one is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	def := defaultConfig()
	v.SetDefault("oauth.redirect_uri", def.OAuth.RedirectURI)
	v.SetDefault("oauth.listen_addr", def.OAuth.ListenAddr)
	v.SetDefault("extraction.days_back", def.Extraction.DaysBack)
	v.SetDefault("extraction.max_messages", def.Extraction.MaxMessages)
	v.SetDefault("extraction.default_currency", def.Extraction.DefaultCurrency)
	v.SetDefault("db_path", def.DBPath)
	v.SetDefault("log_path", def.LogPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return def, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return def, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := def
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to a YAML file at path, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.Set("oauth", cfg.OAuth)
	v.Set("extraction", cfg.Extraction)
	v.Set("db_path", cfg.DBPath)
	v.Set("log_path", cfg.LogPath)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}
