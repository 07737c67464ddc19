// Package server exposes the digit classifier over HTTP.
//
//	POST /predict  multipart upload, first file part  -> {"numero": 7}
//	GET  /health                                      -> {"status": "ok", "engine": "native"}
//
// Errors are JSON objects {"error": "..."} with status 400 (bad upload or
// undecodable image), 405 (wrong method), 413 (upload too large) or 500
// (inference failure).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/born-ml/digits/internal/inference"
	"github.com/born-ml/digits/internal/preprocess"
)

// DefaultMaxUploadBytes bounds the request body of /predict.
const DefaultMaxUploadBytes = 10 << 20

// Predictor answers predictions for uploaded images. *inference.Service
// implements it.
type Predictor interface {
	PredictImage(ctx context.Context, data []byte) (inference.Prediction, error)
	Engine() inference.EngineKind
}

// PredictResponse is the body of a successful /predict call.
type PredictResponse struct {
	Numero int `json:"numero"`
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status string `json:"status"`
	Engine string `json:"engine"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandlerOptions configures NewHandler.
type HandlerOptions struct {
	CORSOrigins    []string // nil allows any origin
	MaxUploadBytes int64    // 0 uses DefaultMaxUploadBytes
	Logger         *slog.Logger
}

// Handler serves the HTTP API. It holds no per-request state.
type Handler struct {
	predictor Predictor
	maxUpload int64
	logger    *slog.Logger
	mux       *http.ServeMux
	root      http.Handler
}

// NewHandler wires the routes around an injected predictor.
func NewHandler(p Predictor, opts HandlerOptions) *Handler {
	h := &Handler{
		predictor: p,
		maxUpload: opts.MaxUploadBytes,
		logger:    opts.Logger,
		mux:       http.NewServeMux(),
	}
	if h.maxUpload <= 0 {
		h.maxUpload = DefaultMaxUploadBytes
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	origins := opts.CORSOrigins
	if origins == nil {
		origins = []string{"*"}
	}

	h.mux.HandleFunc("/predict", h.Predict)
	h.mux.HandleFunc("/health", h.Health)
	h.root = withRequestID(withCORS(origins, h.mux))
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

// Health reports liveness and the engine in use.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.methodNotAllowed(w, r, "GET, HEAD")
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Engine: string(h.predictor.Engine())})
}

// Predict classifies the first file part of a multipart upload.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, r, http.MethodPost)
		return
	}
	logger := h.logger.With("request_id", RequestID(r.Context()))

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	data, err := firstFile(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn("upload too large", "limit", tooLarge.Limit)
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		logger.Warn("bad upload", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pred, err := h.predictor.PredictImage(r.Context(), data)
	if err != nil {
		if errors.Is(err, preprocess.ErrDecode) {
			logger.Warn("undecodable image", "bytes", len(data), "error", err)
			writeError(w, http.StatusBadRequest, "invalid image: supported formats are PNG, JPEG, GIF, BMP and WebP")
			return
		}
		logger.Error("prediction failed", "error", err)
		writeError(w, http.StatusInternalServerError, "prediction failed")
		return
	}

	logger.Info("prediction", "digit", pred.Digit, "bytes", len(data))
	writeJSON(w, http.StatusOK, PredictResponse{Numero: pred.Digit})
}

// firstFile returns the content of the first multipart part carrying a
// file name, whatever its field name.
func firstFile(r *http.Request) ([]byte, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("expected multipart/form-data upload: %w", err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errors.New("no file part in upload")
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read upload: %w", err)
		}
		if part.FileName() == "" {
			if err := drain(part); err != nil {
				return nil, err
			}
			continue
		}
		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read file part: %w", err)
		}
		return data, nil
	}
}

func drain(part *multipart.Part) error {
	defer part.Close()
	if _, err := io.Copy(io.Discard, part); err != nil {
		return fmt.Errorf("failed to read upload: %w", err)
	}
	return nil
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, r *http.Request, allow string) {
	w.Header().Set("Allow", allow)
	writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
