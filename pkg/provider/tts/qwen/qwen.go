// Package qwen provides a tts.Backend that talks to a Qwen3-TTS inference
// server over HTTP.
//
// The server hosts two checkpoints: a voice-design model that renders text
// from a natural-language voice description, and a base model that clones a
// speaker from a reference recording. Both endpoints answer with a WAV file.
//
//	POST /v1/load    JSON {model_paths, device, dtype}      -> JSON {device}
//	POST /v1/design  JSON {text, instruct, speed, language} -> audio/wav
//	POST /v1/clone   multipart (ref_audio, text, ...)       -> audio/wav
//	GET  /health                                            -> 200
//
// Typical usage:
//
//	b, err := qwen.New("http://localhost:8001",
//	    qwen.WithLanguage("auto"),
//	    qwen.WithTimeout(2*time.Minute),
//	    qwen.WithLoadOptions(tts.LoadOptions{UseGPU: true, Quantization: "fp16"}),
//	)
//	if err := b.Load(ctx); err != nil { ... }
//	batch, err := b.Design(ctx, tts.DesignRequest{Text: "Hello", Instruction: "A calm narrator"})
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/minestream/pkg/audio"
	"github.com/MrWong99/minestream/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Backend = (*Backend)(nil)

const (
	defaultLanguage = "auto"
	defaultTimeout  = 120 * time.Second
	loadEndpoint    = "/v1/load"
	designEndpoint  = "/v1/design"
	cloneEndpoint   = "/v1/clone"
	healthEndpoint  = "/health"

	// maxResponseBytes caps WAV responses (about 20 minutes of 24 kHz float audio).
	maxResponseBytes = 256 << 20
)

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithLanguage sets the language hint sent with every synthesis request.
// Defaults to "auto".
func WithLanguage(lang string) Option {
	return func(b *Backend) {
		b.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 120 s because
// CPU inference of a long sentence is slow.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) {
		b.httpClient.Timeout = d
	}
}

// WithLoadOptions sets the model paths, device and quantization sent on Load.
func WithLoadOptions(o tts.LoadOptions) Option {
	return func(b *Backend) {
		b.load = o
	}
}

// WithHTTPClient replaces the HTTP client. Mostly useful in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) {
		b.httpClient = c
	}
}

// Backend implements tts.Backend against a Qwen3-TTS inference server.
// The HTTP client is safe for concurrent use, but the server runs a single
// model instance, so callers should serialise synthesis calls.
type Backend struct {
	serverURL  string
	language   string
	httpClient *http.Client
	load       tts.LoadOptions

	mu     sync.Mutex
	loaded bool
	device string
}

// New creates a Backend that targets the inference server at serverURL
// (e.g., "http://localhost:8001"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Backend, error) {
	if serverURL == "" {
		return nil, errors.New("qwen: serverURL must not be empty")
	}
	b := &Backend{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		load:      tts.LoadOptions{UseGPU: true, Quantization: tts.QuantFP16},
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// ---- internal request/response types ----

// loadRequest is the JSON body sent to POST /v1/load.
type loadRequest struct {
	ModelPaths []string `json:"model_paths,omitempty"`
	Device     string   `json:"device"`
	DType      string   `json:"dtype"`
}

// loadResponse is the JSON body returned by POST /v1/load. Device is the
// placement the server actually chose, which may differ from the request when
// no GPU is present.
type loadResponse struct {
	Device string `json:"device"`
}

// designRequest is the JSON body sent to POST /v1/design.
type designRequest struct {
	Text     string  `json:"text"`
	Instruct string  `json:"instruct"`
	Speed    float64 `json:"speed"`
	Language string  `json:"language"`
}

// errorResponse is the JSON body the server returns on failure.
type errorResponse struct {
	Detail string `json:"detail"`
}

// dtype maps a quantization mode to the server's dtype names.
func dtype(quant string) string {
	switch quant {
	case tts.QuantInt8:
		return "int8"
	case tts.QuantNone:
		return "float32"
	default:
		return "bfloat16"
	}
}

// ---- Load ----

// Load asks the server to load the configured checkpoints onto the requested
// device. Subsequent calls return nil without contacting the server.
func (b *Backend) Load(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded {
		return nil
	}

	body := loadRequest{
		ModelPaths: b.load.ModelPaths,
		Device:     b.load.Device(),
		DType:      dtype(b.load.Quantization),
	}
	var resp loadResponse
	if err := b.postJSON(ctx, loadEndpoint, body, &resp); err != nil {
		return err
	}

	b.device = resp.Device
	if b.device == "" {
		b.device = b.load.Device()
	}
	b.loaded = true
	return nil
}

// Device reports the device class the server loaded the model onto, or the
// requested device before Load has completed.
func (b *Backend) Device() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device != "" {
		return b.device
	}
	return b.load.Device()
}

// Close releases idle HTTP connections.
func (b *Backend) Close() error {
	b.httpClient.CloseIdleConnections()
	return nil
}

// Ping checks that the inference server answers its health endpoint.
func (b *Backend) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.serverURL+healthEndpoint, nil)
	if err != nil {
		return fmt.Errorf("qwen: create health request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qwen: GET %s: %w", healthEndpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("qwen: GET %s returned status %d", healthEndpoint, resp.StatusCode)
	}
	return nil
}

// ---- Design ----

// Design performs a single POST /v1/design call and decodes the WAV response.
func (b *Backend) Design(ctx context.Context, req tts.DesignRequest) ([]tts.Waveform, error) {
	if req.Text == "" {
		return nil, errors.New("qwen: design text must not be empty")
	}
	body := designRequest{
		Text:     req.Text,
		Instruct: req.Instruction,
		Speed:    speedOrDefault(req.Speed),
		Language: b.languageFor(req.Language),
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("qwen: marshal design request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.serverURL+designEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("qwen: create design request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav")

	return b.doWAV(httpReq, designEndpoint)
}

// ---- Clone ----

// Clone uploads the reference recording to POST /v1/clone and decodes the
// WAV response. Without a transcript the server is told to use the speaker
// embedding only (x_vector_only_mode).
func (b *Backend) Clone(ctx context.Context, req tts.CloneRequest) ([]tts.Waveform, error) {
	if req.Text == "" {
		return nil, errors.New("qwen: clone text must not be empty")
	}
	if len(req.Reference) == 0 {
		return nil, errors.New("qwen: clone requires reference audio")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	name := req.ReferenceName
	if name == "" {
		name = "reference.wav"
	}
	fw, err := mw.CreateFormFile("ref_audio", name)
	if err != nil {
		return nil, fmt.Errorf("qwen: create form file: %w", err)
	}
	if _, err := fw.Write(req.Reference); err != nil {
		return nil, fmt.Errorf("qwen: write form file: %w", err)
	}

	fields := map[string]string{
		"text":               req.Text,
		"speed":              strconv.FormatFloat(speedOrDefault(req.Speed), 'f', -1, 64),
		"language":           b.languageFor(req.Language),
		"x_vector_only_mode": strconv.FormatBool(req.EmbeddingOnly()),
	}
	if !req.EmbeddingOnly() {
		fields["ref_text"] = req.Transcript
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("qwen: write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("qwen: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.serverURL+cloneEndpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("qwen: create clone request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", "audio/wav")

	return b.doWAV(httpReq, cloneEndpoint)
}

// ---- helpers ----

// doWAV sends req and decodes a WAV body into a single-waveform batch.
func (b *Backend) doWAV(req *http.Request, endpoint string) ([]tts.Waveform, error) {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qwen: POST %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, endpoint)
	}

	wav, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("qwen: read WAV response: %w", err)
	}

	pcm, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("qwen: decode WAV response: %w", err)
	}
	mono := audio.Convert(pcm, audio.Format{SampleRate: pcm.SampleRate, Channels: 1})

	return []tts.Waveform{{
		Samples:    audio.PCM16ToFloat(mono.Data),
		SampleRate: mono.SampleRate,
	}}, nil
}

// postJSON sends body as JSON to endpoint and decodes the JSON reply into out.
func (b *Backend) postJSON(ctx context.Context, endpoint string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("qwen: marshal %s request: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.serverURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("qwen: create %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qwen: POST %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp, endpoint)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("qwen: decode %s response: %w", endpoint, err)
	}
	return nil
}

// statusError builds an error for a non-200 reply, attaching the server's
// detail message when one is present.
func statusError(resp *http.Response, endpoint string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := fmt.Sprintf("qwen: POST %s returned status %d", endpoint, resp.StatusCode)
	var er errorResponse
	if json.Unmarshal(raw, &er) == nil && er.Detail != "" {
		msg += ": " + er.Detail
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("%s: %w", msg, tts.ErrRejected)
	}
	return errors.New(msg)
}

func (b *Backend) languageFor(lang string) string {
	if lang != "" {
		return lang
	}
	return b.language
}

func speedOrDefault(s float64) float64 {
	if s <= 0 {
		return 1.0
	}
	return s
}
