package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/backdrop/internal/compose"
	"github.com/MeKo-Tech/backdrop/internal/models"
	"github.com/MeKo-Tech/backdrop/internal/pipeline"
	"github.com/MeKo-Tech/backdrop/internal/utils"
	"github.com/MeKo-Tech/backdrop/internal/version"
)

const serviceName = "backdrop"

// httpError carries the status code a request failure maps to.
type httpError struct {
	Status  int
	Message string
	Err     error
}

func (e *httpError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *httpError) Unwrap() error { return e.Err }

func badRequest(message string, err error) *httpError {
	return &httpError{Status: http.StatusBadRequest, Message: message, Err: err}
}

// statusForError maps an error to a status code and client-facing message.
func statusForError(err error) (int, string) {
	var he *httpError
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &he):
		return he.Status, he.Message
	case errors.As(err, &mbe), strings.Contains(strings.ToLower(err.Error()), "request body too large"):
		return http.StatusRequestEntityTooLarge, "File too large"
	case errors.Is(err, utils.ErrUnsupportedMediaType), errors.Is(err, utils.ErrUnsupportedExtension):
		return http.StatusUnsupportedMediaType, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Processing timed out"
	case errors.Is(err, pipeline.ErrProcessingFailed):
		return http.StatusUnprocessableEntity, err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// indexHandler answers GET and HEAD on the service root.
func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeErrorResponse(w, r, "Not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	response := IndexResponse{
		Service:      serviceName,
		Version:      version.Version,
		DefaultModel: s.pipeline.DefaultModel(),
		Endpoints: []string{
			"GET /health", "GET /models", "POST /remove-bg", "POST /remove-bg/batch",
			"POST /replace-bg", "POST /upload-image", "GET /download", "GET /ws", "GET /metrics",
		},
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode index response", "error", err)
	}
}

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if r.Method == http.MethodHead {
		return
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode health response", "error", err)
	}
}

// modelsHandler lists the registered segmentation models.
func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	def := s.pipeline.DefaultModel()
	infos := models.ListAvailableModels(s.modelsDir)
	list := make([]ModelInfo, len(infos))
	for i, info := range infos {
		list[i] = ModelInfo{
			Name:        info.ID,
			Family:      info.Family,
			Path:        info.Path,
			InputSize:   info.InputSize,
			Available:   info.Available,
			Default:     info.ID == def,
			Description: info.Description,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ModelsResponse{Models: list, Count: len(list), Default: def}); err != nil {
		slog.Error("Failed to encode models response", "error", err)
	}
}

// upload is a decoded image file from a multipart form.
type upload struct {
	Image    image.Image
	Filename string
	Format   string
	Size     int64
}

// parseForm limits the body and parses the multipart form.
func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) error {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		if status, _ := statusForError(err); status == http.StatusRequestEntityTooLarge {
			return err
		}
		return badRequest("Failed to parse form data", err)
	}
	return nil
}

// readUpload decodes the first file present under one of names.
func (s *Server) readUpload(r *http.Request, names ...string) (*upload, error) {
	for _, name := range names {
		file, header, err := r.FormFile(name)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			return nil, badRequest("Failed to read "+name, err)
		}
		defer func() { _ = file.Close() }()
		return s.decodeUpload(file, header)
	}
	return nil, badRequest("Missing upload field: "+strings.Join(names, " or "), nil)
}

func (s *Server) decodeUpload(file multipart.File, header *multipart.FileHeader) (*upload, error) {
	if header.Filename == "" {
		return nil, badRequest("No file selected", nil)
	}
	if err := utils.ValidateUpload(header.Filename, header.Header.Get("Content-Type")); err != nil {
		return nil, err
	}
	if header.Size > s.maxUploadMB*1024*1024 {
		return nil, &httpError{Status: http.StatusRequestEntityTooLarge, Message: "File too large"}
	}
	uploadSizeBytes.Observe(float64(header.Size))

	img, format, err := utils.DecodeImageWithin(file, utils.DefaultImageConstraints())
	if errors.Is(err, utils.ErrImageDimensions) {
		return nil, badRequest("Invalid image dimensions", err)
	}
	if err != nil {
		return nil, badRequest("Invalid image format", err)
	}
	return &upload{Image: img, Filename: header.Filename, Format: format, Size: header.Size}, nil
}

// formValue reads a field from the query string or the form.
func formValue(r *http.Request, key string) string {
	if v := r.FormValue(key); v != "" {
		return v
	}
	return r.URL.Query().Get(key)
}

// composeOptions overlays request fields on the server defaults.
func (s *Server) composeOptions(r *http.Request) (compose.Options, error) {
	opts := s.defaults
	if v := formValue(r, "target_ratio"); v != "" {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil || !(ratio > 0 && ratio <= 1) {
			return opts, badRequest("target_ratio must be a number in (0,1]", compose.ErrInvalidRatio)
		}
		opts.TargetRatio = ratio
	}
	for key, dst := range map[string]*bool{
		"smart_placement": &opts.SmartPlacement,
		"normalize":       &opts.Normalize,
	} {
		v := formValue(r, key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, badRequest(key+" must be a boolean", err)
		}
		*dst = b
	}
	return opts, nil
}

// writeImage encodes img in format with the matching content type.
func (s *Server) writeImage(w http.ResponseWriter, img image.Image, format string) {
	w.Header().Set("Content-Type", utils.ContentType(format))
	if err := utils.EncodeImage(w, img, format); err != nil {
		slog.Error("Failed to encode image response", "format", format, "error", err)
	}
}

// writeError logs err and writes the mapped JSON error response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusForError(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "Request failed",
		"request_id", RequestID(r.Context()),
		"path", r.URL.Path,
		"status", status,
		"error", err)
	s.writeErrorResponse(w, r, message, status)
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Success:   false,
		Error:     message,
		RequestID: RequestID(r.Context()),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to write error response", "error", err)
	}
}
