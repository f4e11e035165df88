package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/minestream/pkg/provider/tts"
)

// EnvPrefix prefixes every environment variable read by [ApplyEnv].
const EnvPrefix = "MINESTREAM_"

// Format identifies a configuration file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFor picks the file syntax from the extension of path. Anything other
// than ".toml" is read as YAML.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// ValidModelNames lists the backend names known to the default registry.
// Used by [Validate] to warn about unrecognised names.
var ValidModelNames = []string{"qwen", "sine"}

// LoadDotEnv loads KEY=VALUE pairs from files (default ".env") into the
// process environment. Variables that are already set are left alone and
// missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", f, err)
		}
	}
	return nil
}

// Load reads the configuration file at path, applies environment overrides
// and defaults, and returns a validated [Config]. An empty path yields the
// defaults plus environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		return finish(&Config{}, os.LookupEnv)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := Decode(f, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return finish(cfg, os.LookupEnv)
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Environment variables are not consulted.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := Decode(r, FormatYAML)
	if err != nil {
		return nil, err
	}
	return finish(cfg, func(string) (string, bool) { return "", false })
}

// Decode parses r in the given format without applying defaults. Unknown
// keys are rejected in both formats.
func Decode(r io.Reader, format Format) (*Config, error) {
	cfg := &Config{}
	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: decode toml: %w", err)
		}
	default:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}
	return cfg, nil
}

func finish(cfg *Config, lookup func(string) (string, bool)) (*Config, error) {
	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the MINESTREAM_* variables reported by lookup.
// TTS_MODEL_PATH accepts a comma-separated list.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}

	str("LISTEN_ADDR", &cfg.Server.ListenAddr)
	if v, ok := lookup(EnvPrefix + "LOG_LEVEL"); ok && v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
	if v, ok := lookup(EnvPrefix + "STORAGE_BACKEND"); ok && v != "" {
		cfg.Storage.Backend = StorageBackend(strings.ToLower(v))
	}
	str("UPLOAD_DIR", &cfg.Storage.UploadDir)
	str("OUTPUT_DIR", &cfg.Storage.OutputDir)
	str("NATS_URL", &cfg.Storage.NATS.URL)
	str("DATABASE_URL", &cfg.Database.DSN)
	str("MODEL_BASE_URL", &cfg.Model.BaseURL)
	str("QUANTIZATION", &cfg.Model.Quantization)

	if v, ok := lookup(EnvPrefix + "TTS_MODEL_PATH"); ok && v != "" {
		var paths []string
		for p := range strings.SplitSeq(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
		cfg.Model.ModelPaths = paths
	}
	if v, ok := lookup(EnvPrefix + "USE_GPU"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %sUSE_GPU %q is not a boolean", EnvPrefix, v)
		}
		cfg.Model.UseGPU = &b
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
	if cfg.Server.APIPrefix != "" && !strings.HasPrefix(cfg.Server.APIPrefix, "/") {
		errs = append(errs, fmt.Errorf("server.api_prefix %q must start with /", cfg.Server.APIPrefix))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must not be negative"))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is configured"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is configured"))
		}
	}

	// Storage
	switch cfg.Storage.Backend {
	case "", StorageDisk:
		if cfg.Storage.UploadDir != "" && cfg.Storage.UploadDir == cfg.Storage.OutputDir {
			errs = append(errs, errors.New("storage.upload_dir and storage.output_dir must differ"))
		}
	case StorageNATS:
		n := cfg.Storage.NATS
		if n.URL == "" {
			errs = append(errs, errors.New("storage.nats.url is required when storage.backend is nats"))
		}
		if n.UploadBucket != "" && n.UploadBucket == n.OutputBucket {
			errs = append(errs, errors.New("storage.nats.upload_bucket and storage.nats.output_bucket must differ"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: disk, nats", cfg.Storage.Backend))
	}

	// Model
	m := cfg.Model
	validateModelName(m.Name)
	switch m.Quantization {
	case "", tts.QuantFP16, tts.QuantInt8, tts.QuantNone:
	default:
		errs = append(errs, fmt.Errorf("model.quantization %q is invalid; valid values: fp16, int8, none", m.Quantization))
	}
	if m.Timeout < 0 {
		errs = append(errs, errors.New("model.timeout must not be negative"))
	}
	if m.Name == "qwen" && m.BaseURL == "" {
		errs = append(errs, errors.New("model.base_url is required for the qwen backend"))
	}
	for i, fb := range m.Fallbacks {
		if fb.BaseURL == "" {
			errs = append(errs, fmt.Errorf("model.fallbacks[%d].base_url is required", i))
		}
	}

	// Voices
	seen := make(map[string]int, len(cfg.Voices))
	for i, v := range cfg.Voices {
		prefix := fmt.Sprintf("voices[%d]", i)
		if v.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else if j, dup := seen[v.Name]; dup {
			errs = append(errs, fmt.Errorf("%s.name %q duplicates voices[%d]", prefix, v.Name, j))
		} else {
			seen[v.Name] = i
		}
		if strings.TrimSpace(v.Prompt) == "" {
			errs = append(errs, fmt.Errorf("%s.prompt is required", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateModelName logs a warning if name is non-empty and not found in
// [ValidModelNames].
func validateModelName(name string) {
	if name == "" || slices.Contains(ValidModelNames, name) {
		return
	}
	slog.Warn("unknown model backend name, may be a typo or a custom registration",
		"name", name,
		"known", ValidModelNames,
	)
}
