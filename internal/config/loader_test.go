package config_test

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/minestream/internal/config"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		mention string
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: verbose\n",
			mention: "log_level",
		},
		{
			name:    "relative api prefix",
			yaml:    "server:\n  api_prefix: api\n",
			mention: "api_prefix",
		},
		{
			name:    "tls without key",
			yaml:    "server:\n  tls:\n    cert_file: cert.pem\n",
			mention: "key_file",
		},
		{
			name:    "unknown storage backend",
			yaml:    "storage:\n  backend: s3\n",
			mention: "storage.backend",
		},
		{
			name:    "nats without url",
			yaml:    "storage:\n  backend: nats\n",
			mention: "storage.nats.url",
		},
		{
			name:    "shared directories",
			yaml:    "storage:\n  upload_dir: vault\n  output_dir: vault\n",
			mention: "must differ",
		},
		{
			name:    "invalid quantization",
			yaml:    "model:\n  quantization: fp8\n",
			mention: "quantization",
		},
		{
			name:    "qwen without base url",
			yaml:    "model:\n  name: qwen\n",
			mention: "base_url",
		},
		{
			name:    "fallback without base url",
			yaml:    "model:\n  fallbacks:\n    - name: sine\n",
			mention: "fallbacks[0]",
		},
		{
			name:    "voice without prompt",
			yaml:    "voices:\n  - name: Mute\n",
			mention: "voices[0].prompt",
		},
		{
			name:    "invalid timeout",
			yaml:    "model:\n  timeout: forever\n",
			mention: "duration",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.mention) {
				t.Errorf("error should mention %q, got: %v", tc.mention, err)
			}
		})
	}
}

func TestValidate_DuplicateVoiceNames(t *testing.T) {
	yaml := `
voices:
  - name: Narrator
    prompt: Deep and slow.
  - name: Narrator
    prompt: Bright and fast.
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for duplicate voice names, got nil")
	}
	if !strings.Contains(err.Error(), "duplicates voices[0]") {
		t.Errorf("error should name the first occurrence, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	yaml := `
server:
  log_level: loud
storage:
  backend: tape
model:
  quantization: fp4
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"log_level", "storage.backend", "quantization"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

// ── Environment overrides ─────────────────────────────────────────────────────

func TestApplyEnv(t *testing.T) {
	cfg := &config.Config{}
	err := config.ApplyEnv(cfg, envMap(map[string]string{
		"MINESTREAM_UPLOAD_DIR":     "/data/voices",
		"MINESTREAM_OUTPUT_DIR":     "/data/generated",
		"MINESTREAM_DATABASE_URL":   "postgres://db/minestream",
		"MINESTREAM_TTS_MODEL_PATH": "Qwen/Design, Qwen/Base ,",
		"MINESTREAM_USE_GPU":        "false",
		"MINESTREAM_QUANTIZATION":   "int8",
		"MINESTREAM_LISTEN_ADDR":    ":7000",
		"MINESTREAM_LOG_LEVEL":      "WARN",
		"MINESTREAM_NATS_URL":       "nats://broker:4222",
		"MINESTREAM_MODEL_BASE_URL": "http://gpu:8001",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Storage.UploadDir != "/data/voices" || cfg.Storage.OutputDir != "/data/generated" {
		t.Errorf("storage dirs: got %q, %q", cfg.Storage.UploadDir, cfg.Storage.OutputDir)
	}
	if cfg.Database.DSN != "postgres://db/minestream" {
		t.Errorf("database.dsn: got %q", cfg.Database.DSN)
	}
	if got := cfg.Model.ModelPaths; len(got) != 2 || got[0] != "Qwen/Design" || got[1] != "Qwen/Base" {
		t.Errorf("model_paths: got %q", got)
	}
	if cfg.Model.GPU() {
		t.Error("use_gpu: got true, want false")
	}
	if cfg.Model.Quantization != "int8" {
		t.Errorf("quantization: got %q", cfg.Model.Quantization)
	}
	if cfg.Server.ListenAddr != ":7000" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogWarn {
		t.Errorf("log_level: got %q, want warn", cfg.Server.LogLevel)
	}
	if cfg.Storage.NATS.URL != "nats://broker:4222" || cfg.Model.BaseURL != "http://gpu:8001" {
		t.Errorf("nats url / base url: got %q, %q", cfg.Storage.NATS.URL, cfg.Model.BaseURL)
	}
}

func TestApplyEnv_InvalidBool(t *testing.T) {
	err := config.ApplyEnv(&config.Config{}, envMap(map[string]string{"MINESTREAM_USE_GPU": "maybe"}))
	if err == nil || !strings.Contains(err.Error(), "USE_GPU") {
		t.Fatalf("expected USE_GPU error, got %v", err)
	}
}

func TestApplyEnv_EmptyValuesIgnored(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{UploadDir: "keep"}}
	if err := config.ApplyEnv(cfg, envMap(map[string]string{"MINESTREAM_UPLOAD_DIR": ""})); err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.UploadDir != "keep" {
		t.Errorf("upload_dir: got %q, want keep", cfg.Storage.UploadDir)
	}
}

// ── Files ─────────────────────────────────────────────────────────────────────

const sampleTOML = `
[server]
listen_addr = ":9100"
log_level = "warn"

[storage]
upload_dir = "/srv/voices"
output_dir = "/srv/generated"

[model]
name = "qwen"
base_url = "http://gpu:8001"
timeout = "45s"
use_gpu = false

[[model.fallbacks]]
base_url = "http://gpu-2:8001"

[[voices]]
name = "Cyber System"
tag = "Sci-Fi"
prompt = "A precise synthetic voice."
`

func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minestream.toml")
	if err := os.WriteFile(path, []byte(sampleTOML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":9100" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Model.Timeout.Std().Seconds() != 45 {
		t.Errorf("timeout: got %v", cfg.Model.Timeout.Std())
	}
	if len(cfg.Model.Fallbacks) != 1 {
		t.Errorf("fallbacks: got %+v", cfg.Model.Fallbacks)
	}
	if len(cfg.Voices) != 1 || cfg.Voices[0].Tag != "Sci-Fi" {
		t.Errorf("voices: got %+v", cfg.Voices)
	}
	if cfg.Storage.Backend != config.StorageDisk {
		t.Errorf("storage.backend default: got %q", cfg.Storage.Backend)
	}
}

func TestDecode_TOMLUnknownField(t *testing.T) {
	_, err := config.Decode(strings.NewReader("[server]\nport = 80\n"), config.FormatTOML)
	if err == nil {
		t.Fatal("expected error for unknown TOML key, got nil")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  upload_dir: from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MINESTREAM_UPLOAD_DIR", "from-env")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.UploadDir != "from-env" {
		t.Errorf("upload_dir: got %q, want from-env", cfg.Storage.UploadDir)
	}
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("MINESTREAM_OUTPUT_DIR", "/tmp/out")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.OutputDir != "/tmp/out" {
		t.Errorf("output_dir: got %q", cfg.Storage.OutputDir)
	}
	if cfg.Server.APIPrefix != config.DefaultAPIPrefix {
		t.Errorf("api_prefix: got %q", cfg.Server.APIPrefix)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestFormatFor(t *testing.T) {
	tests := map[string]config.Format{
		"config.yaml":  config.FormatYAML,
		"config.yml":   config.FormatYAML,
		"config.TOML":  config.FormatTOML,
		"/etc/ms.toml": config.FormatTOML,
		"noext":        config.FormatYAML,
	}
	for path, want := range tests {
		if got := config.FormatFor(path); got != want {
			t.Errorf("FormatFor(%q) = %q, want %q", path, got, want)
		}
	}
}

// ── .env ──────────────────────────────────────────────────────────────────────

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "MINESTREAM_TEST_DOTENV_A=from-dotenv\nMINESTREAM_TEST_DOTENV_B=from-dotenv\n"
	if err := os.WriteFile(envFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	// Registers cleanup for both keys; B is set beforehand and must win.
	t.Setenv("MINESTREAM_TEST_DOTENV_A", "")
	os.Unsetenv("MINESTREAM_TEST_DOTENV_A")
	t.Setenv("MINESTREAM_TEST_DOTENV_B", "from-process")

	if err := config.LoadDotEnv(envFile, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("MINESTREAM_TEST_DOTENV_A"); got != "from-dotenv" {
		t.Errorf("A = %q, want from-dotenv", got)
	}
	if got := os.Getenv("MINESTREAM_TEST_DOTENV_B"); got != "from-process" {
		t.Errorf("B = %q, want from-process", got)
	}
}
