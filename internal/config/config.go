// Package config resolves crowsong settings from defaults, a TOML file, a
// .env file, the environment and flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment variables read by Load.
const (
	EnvEndpoint = "ENDPOINT"
	EnvAPIKey   = "API_KEY"
	EnvUserID   = "USER_ID"
	EnvApp      = "CROWSONG_APP"
)

const (
	DefaultApp     = "crowsong"
	DefaultUserID  = "crowsong"
	DefaultTimeout = 30 * time.Second
)

// Config is everything a command needs to reach a Views service.
type Config struct {
	Endpoint string
	APIKey   string
	App      string
	UserID   string
	CACert   string // PEM bundle; empty accepts any server certificate
	Timeout  time.Duration
	Debug    bool
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{App: DefaultApp, UserID: DefaultUserID, Timeout: DefaultTimeout}
}

type fileConfig struct {
	Endpoint string `toml:"endpoint"`
	APIKey   string `toml:"api_key"`
	App      string `toml:"app"`
	UserID   string `toml:"user_id"`
	CACert   string `toml:"cacert"`
	Timeout  string `toml:"timeout"`
	Debug    bool   `toml:"debug"`
}

// Sources names where Load looks. Empty paths are skipped; a missing
// DotEnv file is not an error, a missing File is.
type Sources struct {
	File   string
	DotEnv string
	Getenv func(string) string
}

// Load layers defaults, src.File, src.DotEnv and the environment. Flags are
// applied by the caller on top of the result.
func Load(src Sources) (Config, error) {
	cfg := Default()
	if src.File != "" {
		if err := applyFile(&cfg, src.File); err != nil {
			return Config{}, err
		}
	}
	if src.DotEnv != "" {
		// Existing variables win over the file.
		if err := godotenv.Load(src.DotEnv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", src.DotEnv, err)
		}
	}
	getenv := src.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	applyEnv(&cfg, getenv)
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	set := func(key string, dst *string, v string) {
		if meta.IsDefined(key) {
			if v = strings.TrimSpace(v); v != "" {
				*dst = v
			}
		}
	}
	set("endpoint", &cfg.Endpoint, raw.Endpoint)
	set("api_key", &cfg.APIKey, raw.APIKey)
	set("app", &cfg.App, raw.App)
	set("user_id", &cfg.UserID, raw.UserID)
	set("cacert", &cfg.CACert, raw.CACert)
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if meta.IsDefined("debug") {
		cfg.Debug = raw.Debug
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	for key, dst := range map[string]*string{
		EnvEndpoint: &cfg.Endpoint,
		EnvAPIKey:   &cfg.APIKey,
		EnvUserID:   &cfg.UserID,
		EnvApp:      &cfg.App,
	} {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
}

// Validate reports settings a session cannot be established without.
func (c Config) Validate() error {
	var problems []error
	if c.Endpoint == "" {
		problems = append(problems, fmt.Errorf("endpoint not set (flag --endpoint or %s)", EnvEndpoint))
	}
	if c.APIKey == "" {
		problems = append(problems, fmt.Errorf("api key not set (flag --api-key or %s)", EnvAPIKey))
	}
	if c.Timeout <= 0 {
		problems = append(problems, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	return errors.Join(problems...)
}
