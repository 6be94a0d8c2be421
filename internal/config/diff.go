package config

import "slices"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// SettingsChanged is true when tts.max_length, tts.target_peak or
	// discord.owners changed. These apply without restart.
	SettingsChanged bool

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names changed fields that only take effect after a
	// restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.TTS.MaxLength != new.TTS.MaxLength ||
		old.TTS.TargetPeak != new.TTS.TargetPeak ||
		!slices.Equal(old.Discord.Owners, new.Discord.Owners) {
		d.SettingsChanged = true
	}

	restart := func(field string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, field)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("discord.token", old.Discord.Token != new.Discord.Token)
	restart("discord.guild_id", old.Discord.GuildID != new.Discord.GuildID)
	restart("tts.binary", old.TTS.Binary != new.TTS.Binary)
	restart("tts.work_dir", old.TTS.WorkDir != new.TTS.WorkDir)
	restart("tts.timeout", old.TTS.Timeout != new.TTS.Timeout)
	restart("tts.max_concurrent", old.TTS.MaxConcurrent != new.TTS.MaxConcurrent)
	restart("tts.prefix", old.TTS.Prefix != new.TTS.Prefix)
	restart("tts.default_preset", old.TTS.DefaultPreset != new.TTS.DefaultPreset)
	restart("tts.max_pending_per_guild", old.TTS.MaxPendingPerGuild != new.TTS.MaxPendingPerGuild)
	restart("tts.join_timeout", old.TTS.JoinTimeout != new.TTS.JoinTimeout)
	restart("storage", old.Storage != new.Storage)
	restart("resilience", old.Resilience != new.Resilience)

	return d
}
