// Package config provides the configuration schema, loader, and backend
// registry for the MineStream voice engine.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/minestream/internal/voicestore"
	"github.com/MrWong99/minestream/pkg/provider/tts"
)

// LogLevel controls log verbosity for the MineStream server.
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

// Slog maps l to the matching [slog.Level]. Unknown or empty levels map to
// [slog.LevelInfo].
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// StorageBackend selects where uploaded references and generated audio live.
type StorageBackend string

const (
	// StorageDisk keeps audio files in two local directories.
	StorageDisk StorageBackend = "disk"

	// StorageNATS keeps audio files in two JetStream object store buckets.
	StorageNATS StorageBackend = "nats"
)

// IsValid reports whether s is a recognised storage backend.
func (s StorageBackend) IsValid() bool {
	return s == StorageDisk || s == StorageNATS
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr   = ":8000"
	DefaultAPIPrefix    = "/api/v1"
	DefaultUploadDir    = "vault/voices"
	DefaultOutputDir    = "vault/generated"
	DefaultUploadBucket = "minestream-voices"
	DefaultOutputBucket = "minestream-generated"
	DefaultModelPath    = "Qwen/Qwen2-Audio-7B-Instruct"
	DefaultLanguage     = "auto"
	DefaultTimeout      = Duration(120 * time.Second)

	// DefaultMaxUploadBytes caps multipart reference uploads (32 MiB).
	DefaultMaxUploadBytes int64 = 32 << 20
)

// Duration is a [time.Duration] that decodes from strings such as "90s" in
// both YAML and TOML files.
type Duration time.Duration

// UnmarshalText parses s with [time.ParseDuration].
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText renders d in [time.Duration.String] form.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for MineStream.
// It is typically loaded from a YAML or TOML file using [Load].
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Storage  StorageConfig  `yaml:"storage" toml:"storage"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Model    ModelConfig    `yaml:"model" toml:"model"`

	// Voices lists designed voices created at startup when no profile with
	// the same name exists. When the key is absent the built-in seeds are
	// used; an explicit empty list disables seeding.
	Voices []VoiceConfig `yaml:"voices" toml:"voices"`
}

// ServerConfig holds network and logging settings for the HTTP server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr"`

	// LogLevel controls verbosity. It is hot-reloaded by the [Watcher].
	LogLevel LogLevel `yaml:"log_level" toml:"log_level"`

	// APIPrefix is the path prefix of the voice and synthesis routes.
	APIPrefix string `yaml:"api_prefix" toml:"api_prefix"`

	// CORSOrigins lists allowed browser origins. Empty allows any origin.
	CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins"`

	// MaxUploadBytes caps multipart reference uploads.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" toml:"max_upload_bytes"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls" toml:"tls"`
}

// TLSConfig holds paths to the certificate and private key used for TLS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" toml:"cert_file"`
	KeyFile  string `yaml:"key_file" toml:"key_file"`
}

// StorageConfig selects and configures audio persistence.
type StorageConfig struct {
	Backend StorageBackend `yaml:"backend" toml:"backend"`

	// UploadDir holds canonical reference recordings (disk backend).
	UploadDir string `yaml:"upload_dir" toml:"upload_dir"`

	// OutputDir holds generated speech files (disk backend).
	OutputDir string `yaml:"output_dir" toml:"output_dir"`

	NATS NATSConfig `yaml:"nats" toml:"nats"`
}

// NATSConfig configures the JetStream object store backend.
type NATSConfig struct {
	URL          string `yaml:"url" toml:"url"`
	UploadBucket string `yaml:"upload_bucket" toml:"upload_bucket"`
	OutputBucket string `yaml:"output_bucket" toml:"output_bucket"`
}

// DatabaseConfig configures the voice profile database.
type DatabaseConfig struct {
	// DSN is a PostgreSQL connection string. When empty, profiles are kept
	// in memory and lost on restart.
	DSN string `yaml:"dsn" toml:"dsn"`
}

// ModelConfig configures the speech model backend.
type ModelConfig struct {
	// Name selects the backend factory from the [Registry] (e.g., "qwen").
	Name string `yaml:"name" toml:"name"`

	// BaseURL is the inference server address for HTTP backends.
	BaseURL string `yaml:"base_url" toml:"base_url"`

	// ModelPaths lists the checkpoints the backend loads.
	ModelPaths []string `yaml:"model_paths" toml:"model_paths"`

	// UseGPU requests CUDA placement. Nil means true.
	UseGPU *bool `yaml:"use_gpu" toml:"use_gpu"`

	// Quantization is one of "fp16", "int8" or "none".
	Quantization string `yaml:"quantization" toml:"quantization"`

	Language string   `yaml:"language" toml:"language"`
	Timeout  Duration `yaml:"timeout" toml:"timeout"`

	// DefaultInstruction is used when a request names no usable voice.
	DefaultInstruction string `yaml:"default_instruction" toml:"default_instruction"`

	// FallbackInstruction is used when cloning fails. Empty means
	// DefaultInstruction.
	FallbackInstruction string `yaml:"fallback_instruction" toml:"fallback_instruction"`

	// Fallbacks lists further inference endpoints tried when the primary
	// one is unhealthy.
	Fallbacks []ModelEndpoint `yaml:"fallbacks" toml:"fallbacks"`
}

// ModelEndpoint names one additional backend endpoint. An empty Name reuses
// the primary backend's name.
type ModelEndpoint struct {
	Name    string `yaml:"name" toml:"name"`
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

// GPU reports whether CUDA placement is requested.
func (m ModelConfig) GPU() bool {
	return m.UseGPU == nil || *m.UseGPU
}

// LoadOptions returns the placement settings handed to the backend.
func (m ModelConfig) LoadOptions() tts.LoadOptions {
	return tts.LoadOptions{
		ModelPaths:   m.ModelPaths,
		UseGPU:       m.GPU(),
		Quantization: m.Quantization,
	}
}

// WithEndpoint returns a copy of m targeting e instead of the primary
// endpoint. Fallbacks inherit every other setting.
func (m ModelConfig) WithEndpoint(e ModelEndpoint) ModelConfig {
	out := m
	if e.Name != "" {
		out.Name = e.Name
	}
	out.BaseURL = e.BaseURL
	out.Fallbacks = nil
	return out
}

// VoiceConfig describes one designed voice to seed.
type VoiceConfig struct {
	Name   string `yaml:"name" toml:"name"`
	Tag    string `yaml:"tag" toml:"tag"`
	Prompt string `yaml:"prompt" toml:"prompt"`
}

// Seeds returns the profiles to seed at startup.
func (c *Config) Seeds() []voicestore.Profile {
	if c.Voices == nil {
		return voicestore.DefaultSeeds()
	}
	out := make([]voicestore.Profile, 0, len(c.Voices))
	for _, v := range c.Voices {
		out = append(out, voicestore.Profile{
			Name:   v.Name,
			Tag:    v.Tag,
			Kind:   voicestore.KindDesigned,
			Prompt: v.Prompt,
		})
	}
	return out
}

// ApplyDefaults fills every unset field of cfg with its default value.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.APIPrefix == "" {
		s.APIPrefix = DefaultAPIPrefix
	}
	if s.MaxUploadBytes == 0 {
		s.MaxUploadBytes = DefaultMaxUploadBytes
	}

	st := &cfg.Storage
	if st.Backend == "" {
		st.Backend = StorageDisk
	}
	if st.UploadDir == "" {
		st.UploadDir = DefaultUploadDir
	}
	if st.OutputDir == "" {
		st.OutputDir = DefaultOutputDir
	}
	if st.NATS.UploadBucket == "" {
		st.NATS.UploadBucket = DefaultUploadBucket
	}
	if st.NATS.OutputBucket == "" {
		st.NATS.OutputBucket = DefaultOutputBucket
	}

	m := &cfg.Model
	if m.Name == "" {
		if m.BaseURL != "" {
			m.Name = "qwen"
		} else {
			m.Name = "sine"
		}
	}
	if len(m.ModelPaths) == 0 {
		m.ModelPaths = []string{DefaultModelPath}
	}
	if m.Quantization == "" {
		m.Quantization = tts.QuantFP16
	}
	if m.Language == "" {
		m.Language = DefaultLanguage
	}
	if m.Timeout == 0 {
		m.Timeout = DefaultTimeout
	}
}
