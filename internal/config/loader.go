package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/dectalkbot/pkg/provider/tts"
)

// Environment variables that override the file.
const (
	EnvDiscordToken  = "DISCORD_TOKEN"
	EnvDiscordOwners = "DISCORD_OWNERS"
	EnvPrefix        = "TTS_PREFIX"
	EnvMaxLength     = "TTS_LEN"
	EnvTargetPeak    = "TTS_PEAK"
	EnvDatabaseURL   = "DATABASE_URL"
)

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped. With no arguments it reads ".env".
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and validates the result. An empty path skips the
// file, so the bot can be configured from the environment alone.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
	}
	cfg, err := parse(data, os.LookupEnv)
	if err != nil {
		if path == "" {
			return nil, err
		}
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. The environment is not consulted. Useful in tests
// where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data, func(string) (string, bool) { return "", false })
}

// parse is the single decode path shared by Load, LoadFromReader and the
// watcher.
func parse(data []byte, lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}
	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the environment variables that are set.
// DISCORD_OWNERS is a comma-separated list of user IDs. DATABASE_URL also
// selects the postgres backend unless the file chose one explicitly.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	var errs []error

	if v, ok := lookup(EnvDiscordToken); ok {
		cfg.Discord.Token = v
	}
	if v, ok := lookup(EnvDiscordOwners); ok {
		cfg.Discord.Owners = nil
		for id := range strings.SplitSeq(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.Discord.Owners = append(cfg.Discord.Owners, id)
			}
		}
	}
	if v, ok := lookup(EnvPrefix); ok {
		cfg.TTS.Prefix = v
	}
	if v, ok := lookup(EnvMaxLength); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q is not an integer", EnvMaxLength, v))
		} else {
			cfg.TTS.MaxLength = n
		}
	}
	if v, ok := lookup(EnvTargetPeak); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q is not a number", EnvTargetPeak, v))
		} else {
			cfg.TTS.TargetPeak = f
		}
	}
	if v, ok := lookup(EnvDatabaseURL); ok && v != "" {
		cfg.Storage.PostgresDSN = v
		if cfg.Storage.Backend == "" {
			cfg.Storage.Backend = StoragePostgres
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Discord
	if cfg.Discord.Token == "" {
		errs = append(errs, fmt.Errorf("discord.token is required (or set %s)", EnvDiscordToken))
	}

	// TTS
	if cfg.TTS.Binary == "" {
		errs = append(errs, errors.New("tts.binary is required"))
	}
	if cfg.TTS.Timeout < 0 {
		errs = append(errs, fmt.Errorf("tts.timeout %s is negative", cfg.TTS.Timeout))
	}
	if cfg.TTS.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("tts.max_concurrent %d is negative", cfg.TTS.MaxConcurrent))
	}
	if cfg.TTS.Prefix == "" {
		errs = append(errs, errors.New("tts.prefix must not be empty"))
	}
	if !(cfg.TTS.TargetPeak >= 0 && cfg.TTS.TargetPeak <= 1) {
		errs = append(errs, fmt.Errorf("tts.target_peak %v is out of range [0, 1]", cfg.TTS.TargetPeak))
	}
	if cfg.TTS.DefaultPreset != "" {
		if _, err := tts.LookupPreset(cfg.TTS.DefaultPreset); err != nil {
			errs = append(errs, fmt.Errorf("tts.default_preset: %w", err))
		}
	}
	if cfg.TTS.MaxPendingPerGuild < 0 {
		errs = append(errs, fmt.Errorf("tts.max_pending_per_guild %d is negative", cfg.TTS.MaxPendingPerGuild))
	}

	// Storage
	if cfg.Storage.Backend != "" && !cfg.Storage.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: file, postgres", cfg.Storage.Backend))
	}
	if cfg.Storage.Backend == StoragePostgres && cfg.Storage.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("storage.postgres_dsn is required when backend is postgres (or set %s)", EnvDatabaseURL))
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("resilience.max_failures %d is negative", cfg.Resilience.MaxFailures))
	}
	if cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("resilience.reset_timeout %s is negative", cfg.Resilience.ResetTimeout))
	}

	return errors.Join(errs...)
}
