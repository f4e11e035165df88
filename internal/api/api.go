// Package api exposes MineStream over HTTP.
//
// Routes under the configured prefix (default /api/v1):
//
//	POST /clone/extract              multipart audio, name, tag[, transcript]
//	POST /clone/lock                 multipart audio, name[, prompt, transcript]
//	POST /clone/design               JSON {name, tag, prompt}
//	GET  /clone/list
//	GET  /clone/download/{voiceID}
//	POST /tts/generate               JSON {text, voice_id, voice_prompt, speed}
//
// plus GET /audio/download/{filename} at the root for generated files.
// Errors are JSON objects of the form {"detail": "..."}.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrWong99/minestream/internal/cloning"
	"github.com/MrWong99/minestream/internal/failure"
	"github.com/MrWong99/minestream/internal/observe"
	"github.com/MrWong99/minestream/internal/orchestrator"
	"github.com/MrWong99/minestream/internal/voicestore"
)

const (
	// DefaultPrefix is the default route prefix for the versioned API.
	DefaultPrefix = "/api/v1"

	// DefaultMaxUploadBytes caps request bodies carrying audio.
	DefaultMaxUploadBytes = 32 << 20

	// maxJSONBytes caps JSON request bodies.
	maxJSONBytes = 1 << 20

	// audioDownloadPath is where generated files are served from.
	audioDownloadPath = "/audio/download/"
)

// Generator synthesises speech. [orchestrator.Orchestrator] satisfies it.
type Generator interface {
	Generate(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// Voices manages voice profiles. [cloning.Service] satisfies it.
type Voices interface {
	Extract(ctx context.Context, req cloning.ExtractRequest) (*voicestore.Profile, error)
	Lock(ctx context.Context, req cloning.LockRequest) (*voicestore.Profile, error)
	Design(ctx context.Context, req cloning.DesignRequest) (*voicestore.Profile, error)
	List(ctx context.Context) ([]voicestore.Record, error)
	Download(ctx context.Context, voiceID string) (io.ReadCloser, error)
}

// Outputs serves generated files. [audiostore.Store] satisfies it.
type Outputs interface {
	Retrieve(ctx context.Context, filename string) (io.ReadCloser, error)
}

// Server holds the HTTP handlers. It is safe for concurrent use.
type Server struct {
	gen       Generator
	voices    Voices
	outputs   Outputs
	prefix    string
	maxUpload int64
}

// Option configures a [Server].
type Option func(*Server)

// WithPrefix sets the route prefix for the versioned API.
func WithPrefix(prefix string) Option {
	return func(s *Server) { s.prefix = prefix }
}

// WithMaxUploadBytes caps multipart request bodies.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// New returns a Server.
func New(gen Generator, voices Voices, outputs Outputs, opts ...Option) *Server {
	s := &Server{
		gen:       gen,
		voices:    voices,
		outputs:   outputs,
		prefix:    DefaultPrefix,
		maxUpload: DefaultMaxUploadBytes,
	}
	for _, o := range opts {
		o(s)
	}
	s.prefix = "/" + strings.Trim(s.prefix, "/")
	if s.prefix == "/" {
		s.prefix = ""
	}
	return s
}

// Register adds all API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	p := s.prefix
	mux.HandleFunc("POST "+p+"/clone/extract", s.handleExtract)
	mux.HandleFunc("POST "+p+"/clone/lock", s.handleLock)
	mux.HandleFunc("POST "+p+"/clone/design", s.handleDesign)
	mux.HandleFunc("GET "+p+"/clone/list", s.handleList)
	mux.HandleFunc("GET "+p+"/clone/download/{voiceID}", s.handleVoiceDownload)
	mux.HandleFunc("POST "+p+"/tts/generate", s.handleGenerate)
	mux.HandleFunc("GET "+audioDownloadPath+"{filename}", s.handleAudioDownload)
}

// voiceResponse is returned by the profile-creating endpoints.
type voiceResponse struct {
	Status string            `json:"status"`
	Voice  voicestore.Record `json:"voice"`
}

// handleExtract handles POST /clone/extract.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	data, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.voices.Extract(r.Context(), cloning.ExtractRequest{
		Audio:      data,
		Name:       r.FormValue("name"),
		Tag:        r.FormValue("tag"),
		Transcript: r.FormValue("transcript"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, voiceResponse{Status: "cloned", Voice: p.Record()})
}

// handleLock handles POST /clone/lock.
func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	data, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.voices.Lock(r.Context(), cloning.LockRequest{
		Audio:      data,
		Name:       r.FormValue("name"),
		Prompt:     r.FormValue("prompt"),
		Transcript: r.FormValue("transcript"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, voiceResponse{Status: "locked", Voice: p.Record()})
}

// designRequest is the JSON body for POST /clone/design.
type designRequest struct {
	Name   string `json:"name"`
	Tag    string `json:"tag"`
	Prompt string `json:"prompt"`
}

// handleDesign handles POST /clone/design.
func (s *Server) handleDesign(w http.ResponseWriter, r *http.Request) {
	var req designRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.voices.Design(r.Context(), cloning.DesignRequest(req))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, voiceResponse{Status: "designed", Voice: p.Record()})
}

// handleList handles GET /clone/list.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := s.voices.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []voicestore.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"voices": records})
}

// handleVoiceDownload handles GET /clone/download/{voiceID}.
func (s *Server) handleVoiceDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("voiceID")
	rc, err := s.voices.Download(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	serveWAV(w, r, rc, id+".wav")
}

// generateRequest is the JSON body for POST /tts/generate.
type generateRequest struct {
	Text        string  `json:"text"`
	VoiceID     string  `json:"voice_id"`
	VoicePrompt string  `json:"voice_prompt"`
	Speed       float64 `json:"speed"`
}

// generateResponse is returned by POST /tts/generate.
type generateResponse struct {
	Status        string `json:"status"`
	AudioURL      string `json:"audio_url"`
	Filename      string `json:"filename"`
	TextProcessed string `json:"text_processed"`
	Strategy      string `json:"strategy"`
	Fallback      bool   `json:"fallback"`
	Latency       string `json:"latency"`
}

// handleGenerate handles POST /tts/generate.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.gen.Generate(r.Context(), orchestrator.Request(req))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{
		Status:        "success",
		AudioURL:      audioDownloadPath + res.Filename,
		Filename:      res.Filename,
		TextProcessed: res.Text,
		Strategy:      res.Strategy.String(),
		Fallback:      res.Fallback,
		Latency:       fmt.Sprintf("%.2fs", res.Latency.Seconds()),
	})
}

// handleAudioDownload handles GET /audio/download/{filename}.
func (s *Server) handleAudioDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	rc, err := s.outputs.Retrieve(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	serveWAV(w, r, rc, name)
}

// readUpload parses a multipart request and returns the "audio" part.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		return nil, bodyError(err)
	}
	f, _, err := r.FormFile("audio")
	if err != nil {
		return nil, failure.Validation(errors.New("audio file is required"))
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, bodyError(err)
	}
	return data, nil
}

// errTooLarge marks request bodies over the configured limit.
var errTooLarge = errors.New("request body too large")

func bodyError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return fmt.Errorf("%w: limit is %d bytes", errTooLarge, mbe.Limit)
	}
	return failure.Validation(fmt.Errorf("malformed request body: %w", err))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return bodyError(err)
	}
	return nil
}

func serveWAV(w http.ResponseWriter, r *http.Request, rc io.ReadCloser, name string) {
	defer rc.Close()
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		observe.Logger(r.Context()).Warn("audio download interrupted", "file", name, "err", err)
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Detail string `json:"detail"`
}

// writeError maps err to a status code and writes it as {"detail": ...}.
// Internal storage details are not echoed to clients; backend messages are.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := failure.HTTPStatus(err)
	detail := err.Error()
	switch {
	case errors.Is(err, errTooLarge):
		code = http.StatusRequestEntityTooLarge
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
		detail = "request cancelled while waiting for the model"
	case code >= 500 && !errors.Is(err, failure.ErrInference):
		detail = "internal error"
	}

	log := observe.Logger(r.Context())
	if code >= 500 {
		log.Error("request failed", "path", r.URL.Path, "kind", failure.Kind(err), "err", err)
	} else {
		log.Debug("request rejected", "path", r.URL.Path, "status", code, "err", err)
	}
	writeJSON(w, code, errorBody{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"detail":"encoding failed"}`, http.StatusInternalServerError)
	}
}
