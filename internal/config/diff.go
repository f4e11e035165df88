package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only the log level and the seed voices are applied without a restart; every
// other changed section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AddedVoices lists seed voices present in new but not in old, by name.
	AddedVoices []VoiceConfig

	// RestartRequired names the sections whose changes only take effect
	// after a restart (e.g., "storage", "model").
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldVoices := make(map[string]struct{}, len(old.Voices))
	for _, v := range old.Voices {
		oldVoices[v.Name] = struct{}{}
	}
	for _, v := range new.Voices {
		if _, ok := oldVoices[v.Name]; !ok {
			d.AddedVoices = append(d.AddedVoices, v)
		}
	}

	if !serverEqual(old.Server, new.Server) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !storageEqual(old.Storage, new.Storage) {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.Database != new.Database {
		d.RestartRequired = append(d.RestartRequired, "database")
	}
	if !modelEqual(old.Model, new.Model) {
		d.RestartRequired = append(d.RestartRequired, "model")
	}
	return d
}

// serverEqual ignores the log level, which is hot-reloaded.
func serverEqual(a, b ServerConfig) bool {
	if a.ListenAddr != b.ListenAddr || a.APIPrefix != b.APIPrefix || a.MaxUploadBytes != b.MaxUploadBytes {
		return false
	}
	if !slices.Equal(a.CORSOrigins, b.CORSOrigins) {
		return false
	}
	if (a.TLS == nil) != (b.TLS == nil) {
		return false
	}
	return a.TLS == nil || *a.TLS == *b.TLS
}

func storageEqual(a, b StorageConfig) bool {
	return a == b
}

func modelEqual(a, b ModelConfig) bool {
	return a.Name == b.Name &&
		a.BaseURL == b.BaseURL &&
		slices.Equal(a.ModelPaths, b.ModelPaths) &&
		a.GPU() == b.GPU() &&
		a.Quantization == b.Quantization &&
		a.Language == b.Language &&
		a.Timeout == b.Timeout &&
		a.DefaultInstruction == b.DefaultInstruction &&
		a.FallbackInstruction == b.FallbackInstruction &&
		slices.Equal(a.Fallbacks, b.Fallbacks)
}
