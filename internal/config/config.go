// Package config provides the configuration schema, loader, environment
// overrides, storage backend registry and hot-reload watcher for dectalkbot.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level returns the slog level for l. Unknown levels map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StorageBackend selects where the stores persist their documents.
type StorageBackend string

const (
	// StorageFile keeps one YAML document per store in a directory.
	StorageFile StorageBackend = "file"

	// StoragePostgres keeps the documents in a Postgres table.
	StoragePostgres StorageBackend = "postgres"
)

// IsValid reports whether b is a recognised storage backend.
func (b StorageBackend) IsValid() bool {
	return b == StorageFile || b == StoragePostgres
}

// Config is the root configuration structure.
// It is typically loaded with [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Discord    DiscordConfig    `yaml:"discord"`
	TTS        TTSConfig        `yaml:"tts"`
	Storage    StorageConfig    `yaml:"storage"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// ServerConfig holds the HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the address serving /healthz, /readyz and /metrics.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// DiscordConfig holds gateway credentials and bot owners.
type DiscordConfig struct {
	// Token is the bot token. Usually supplied through DISCORD_TOKEN.
	Token string `yaml:"token"`

	// GuildID scopes slash command registration to one guild. Empty
	// registers commands globally.
	GuildID string `yaml:"guild_id"`

	// Owners are user IDs exempt from the length cap and allowed to run
	// every command.
	Owners []string `yaml:"owners"`
}

// TTSConfig configures the speech engine and the message pipeline.
type TTSConfig struct {
	// Binary is the path of the DECtalk "say" executable.
	Binary string `yaml:"binary"`

	// WorkDir is where the engine writes its WAV files. Defaults to the
	// binary's directory.
	WorkDir string `yaml:"work_dir"`

	// Timeout bounds a single engine run.
	Timeout time.Duration `yaml:"timeout"`

	// MaxConcurrent bounds concurrent engine runs across all guilds.
	MaxConcurrent int `yaml:"max_concurrent"`

	// Prefix is the default trigger prefix for guilds that never set one.
	Prefix string `yaml:"prefix"`

	// MaxLength caps spoken text in characters. A negative value disables
	// the cap. Zero, whether unset or written explicitly (max_length: 0,
	// TTS_LEN=0), means [DefaultMaxLength].
	MaxLength int `yaml:"max_length"`

	// TargetPeak is the normalisation target as a fraction of full scale.
	// Zero, whether unset or written explicitly (target_peak: 0,
	// TTS_PEAK=0), means [DefaultTargetPeak]; a zero peak would only ever
	// produce silence.
	TargetPeak float64 `yaml:"target_peak"`

	// DefaultPreset names the voice used for users who never set one.
	DefaultPreset string `yaml:"default_preset"`

	// MaxPendingPerGuild bounds messages queued for playback per guild.
	MaxPendingPerGuild int `yaml:"max_pending_per_guild"`

	// JoinTimeout bounds a voice channel join.
	JoinTimeout time.Duration `yaml:"join_timeout"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend StorageBackend `yaml:"backend"`

	// Dir is the document directory of the file backend.
	Dir string `yaml:"dir"`

	// PostgresDSN is the connection string of the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ResilienceConfig tunes the speech engine circuit breaker.
type ResilienceConfig struct {
	// MaxFailures is the number of consecutive engine failures that open
	// the breaker.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open before a probe.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// Defaults.
const (
	DefaultListenAddr         = ":9090"
	DefaultBinary             = "dectalk/say"
	DefaultTimeout            = 30 * time.Second
	DefaultMaxConcurrent      = 4
	DefaultPrefix             = "!"
	DefaultMaxLength          = 200
	DefaultTargetPeak         = 0.6
	DefaultPreset             = "Paul"
	DefaultMaxPendingPerGuild = 8
	DefaultJoinTimeout        = 10 * time.Second
	DefaultStorageDir         = "data"
	DefaultMaxFailures        = 5
	DefaultResetTimeout       = 30 * time.Second
)

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Server.ListenAddr, DefaultListenAddr)
	setDefault(&c.Server.LogLevel, LogInfo)

	setDefault(&c.TTS.Binary, DefaultBinary)
	setDefault(&c.TTS.Timeout, DefaultTimeout)
	setDefault(&c.TTS.MaxConcurrent, DefaultMaxConcurrent)
	setDefault(&c.TTS.Prefix, DefaultPrefix)
	setDefault(&c.TTS.MaxLength, DefaultMaxLength)
	setDefault(&c.TTS.TargetPeak, DefaultTargetPeak)
	setDefault(&c.TTS.DefaultPreset, DefaultPreset)
	setDefault(&c.TTS.MaxPendingPerGuild, DefaultMaxPendingPerGuild)
	setDefault(&c.TTS.JoinTimeout, DefaultJoinTimeout)

	setDefault(&c.Storage.Backend, StorageFile)
	setDefault(&c.Storage.Dir, DefaultStorageDir)

	setDefault(&c.Resilience.MaxFailures, DefaultMaxFailures)
	setDefault(&c.Resilience.ResetTimeout, DefaultResetTimeout)
}

// LengthCap returns MaxLength in the form the orchestrator expects, where
// zero means unlimited.
func (t TTSConfig) LengthCap() int {
	return max(t.MaxLength, 0)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}
