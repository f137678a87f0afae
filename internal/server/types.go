package server

import (
	"context"
	"errors"
	"image"
	"net/http"
	"time"

	"github.com/MeKo-Tech/backdrop/internal/compose"
	"github.com/MeKo-Tech/backdrop/internal/cutout"
	"github.com/MeKo-Tech/backdrop/internal/models"
	"github.com/MeKo-Tech/backdrop/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Processor is the subset of the pipeline the server needs.
type Processor interface {
	RemoveBackground(ctx context.Context, img image.Image, modelID string) (*cutout.Cutout, error)
	ReplaceBackground(ctx context.Context, fg, bg image.Image, modelID string, opts compose.Options) (*pipeline.Result, error)
	RemoveBackgrounds(ctx context.Context, images []image.Image, modelID string, config pipeline.ParallelConfig) ([]*cutout.Cutout, error)
	DefaultModel() string
	Close() error
}

var _ Processor = (*pipeline.Pipeline)(nil)

// ErrNoProcessor is returned by NewServer without a pipeline.
var ErrNoProcessor = errors.New("server requires a processing pipeline")

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline    Processor
	corsOrigin  string
	maxUploadMB int64
	timeout     time.Duration
	modelsDir   string
	removeModel string
	defaults    compose.Options
	batchLimit  int
	storageDir  string
	rateLimiter *RateLimiter
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	ModelsDir   string
	// RemoveModel is used by /remove-bg when the request names no model.
	RemoveModel string
	// Compose holds the defaults for /replace-bg form fields.
	Compose    compose.Options
	BatchLimit int
	// StorageDir keeps /upload-image inputs and outputs; empty disables /download.
	StorageDir string
	RateLimit  RateLimitConfig
}

// RateLimitConfig limits requests per client IP.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
}

// DefaultConfig mirrors the config package defaults.
func DefaultConfig() Config {
	return Config{
		Host:        "localhost",
		Port:        8080,
		CORSOrigin:  "*",
		MaxUploadMB: 50,
		TimeoutSec:  60,
		RemoveModel: models.U2Net,
		Compose:     compose.DefaultOptions(),
		BatchLimit:  10,
	}
}

// Response types for API endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

type IndexResponse struct {
	Service      string   `json:"service"`
	Version      string   `json:"version"`
	DefaultModel string   `json:"default_model"`
	Endpoints    []string `json:"endpoints"`
}

type ModelInfo struct {
	Name        string `json:"name"`
	Family      string `json:"family"`
	Path        string `json:"path"`
	InputSize   int    `json:"input_size"`
	Available   bool   `json:"available"`
	Default     bool   `json:"default"`
	Description string `json:"description"`
}

type ModelsResponse struct {
	Models  []ModelInfo `json:"models"`
	Count   int         `json:"count"`
	Default string      `json:"default"`
}

type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// NewServer wraps an already built pipeline.
func NewServer(config Config, pl Processor) (*Server, error) {
	if pl == nil {
		return nil, ErrNoProcessor
	}
	def := DefaultConfig()
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = def.MaxUploadMB
	}
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = def.TimeoutSec
	}
	if config.RemoveModel == "" {
		config.RemoveModel = def.RemoveModel
	}
	if config.Compose.TargetRatio == 0 {
		config.Compose = def.Compose
	}
	if config.BatchLimit <= 0 {
		config.BatchLimit = def.BatchLimit
	}

	s := &Server{
		pipeline:    pl,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeout:     time.Duration(config.TimeoutSec) * time.Second,
		modelsDir:   config.ModelsDir,
		removeModel: config.RemoveModel,
		defaults:    config.Compose,
		batchLimit:  config.BatchLimit,
		storageDir:  config.StorageDir,
	}
	if config.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(
			config.RateLimit.RequestsPerMinute,
			config.RateLimit.RequestsPerHour,
			config.RateLimit.MaxRequestsPerDay,
		)
	}
	return s, nil
}

// Close releases server resources.
func (s *Server) Close() error {
	if s.pipeline != nil {
		return s.pipeline.Close()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.corsMiddleware(s.indexHandler))
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/models", s.corsMiddleware(s.modelsHandler))
	mux.HandleFunc("/remove-bg", s.corsMiddleware(s.rateLimitMiddleware(s.removeBackgroundHandler)))
	mux.HandleFunc("/remove-bg/batch", s.corsMiddleware(s.rateLimitMiddleware(s.batchRemoveHandler)))
	mux.HandleFunc("/replace-bg", s.corsMiddleware(s.rateLimitMiddleware(s.replaceBackgroundHandler)))
	mux.HandleFunc("/upload-image", s.corsMiddleware(s.rateLimitMiddleware(s.uploadImageHandler)))
	mux.HandleFunc("/download", s.corsMiddleware(s.downloadHandler))
	// The websocket upgrade needs the raw ResponseWriter, so /ws skips corsMiddleware.
	mux.HandleFunc("/ws", s.rateLimitMiddleware(s.webSocketHandler))
	mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns a mux with all routes installed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}
