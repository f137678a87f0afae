package server

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/MeKo-Tech/backdrop/internal/models"
	"github.com/MeKo-Tech/backdrop/internal/utils"
)

// Subdirectories of the storage dir used by /upload-image and /download.
const (
	storageInputDir  = "input"
	storageOutputDir = "output"
)

// requestModel returns the requested model, or fallback when none is named.
func requestModel(r *http.Request, fallback string) (string, error) {
	model := formValue(r, "model")
	if model == "" {
		return fallback, nil
	}
	if _, err := models.Lookup(model); err != nil {
		return "", badRequest("Unknown model: "+model, err)
	}
	return model, nil
}

// removeBackgroundHandler returns the cutout of the uploaded image.
func (s *Server) removeBackgroundHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.parseForm(w, r); err != nil {
		s.fail(w, r, "remove", "", err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	up, err := s.readUpload(r, "file", "image")
	if err != nil {
		s.fail(w, r, "remove", "", err)
		return
	}
	model, err := requestModel(r, s.removeModel)
	if err != nil {
		s.fail(w, r, "remove", "", err)
		return
	}
	format, err := utils.ParseFormat(formValue(r, "format"))
	if err != nil {
		s.fail(w, r, "remove", model, badRequest(err.Error(), err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	start := time.Now()
	c, err := s.pipeline.RemoveBackground(ctx, up.Image, model)
	duration := time.Since(start)
	if err != nil {
		s.fail(w, r, "remove", model, err)
		return
	}

	processingRequestsTotal.WithLabelValues("remove", model, "success").Inc()
	processingDuration.WithLabelValues("remove").Observe(duration.Seconds())
	slog.Info("Background removed",
		"request_id", RequestID(r.Context()),
		"model", model,
		"filename", up.Filename,
		"width", c.Width(),
		"height", c.Height(),
		"duration_ms", duration.Milliseconds())

	w.Header().Set("X-Model", model)
	w.Header().Set("X-Foreground-Pixels", strconv.Itoa(c.Mask.Count()))
	s.writeImage(w, c.Image, format)
}

// replaceBackgroundHandler composites the uploaded subject onto the uploaded background.
func (s *Server) replaceBackgroundHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.parseForm(w, r); err != nil {
		s.fail(w, r, "replace", "", err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	fg, err := s.readUpload(r, "image", "foreground")
	if err != nil {
		s.fail(w, r, "replace", "", err)
		return
	}
	bg, err := s.readUpload(r, "background")
	if err != nil {
		s.fail(w, r, "replace", "", err)
		return
	}
	model, err := requestModel(r, s.pipeline.DefaultModel())
	if err != nil {
		s.fail(w, r, "replace", "", err)
		return
	}
	opts, err := s.composeOptions(r)
	if err != nil {
		s.fail(w, r, "replace", model, err)
		return
	}
	format, err := utils.ParseFormat(formValue(r, "format"))
	if err != nil {
		s.fail(w, r, "replace", model, badRequest(err.Error(), err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	res, err := s.pipeline.ReplaceBackground(ctx, fg.Image, bg.Image, model, opts)
	if err != nil {
		s.fail(w, r, "replace", model, err)
		return
	}

	p := res.Placement
	processingRequestsTotal.WithLabelValues("replace", model, "success").Inc()
	processingDuration.WithLabelValues("replace").Observe(float64(res.Timing.TotalMs) / 1000)
	observePlacement(p.Policy, p.Scale, p.Clamped, p.Empty)
	slog.Info("Background replaced",
		"request_id", RequestID(r.Context()),
		"model", model,
		"policy", p.Policy,
		"scale", p.Scale,
		"x", p.X,
		"y", p.Y,
		"clamped", p.Clamped,
		"empty", p.Empty,
		"total_ms", res.Timing.TotalMs)

	w.Header().Set("X-Model", model)
	w.Header().Set("X-Placement-Policy", p.Policy)
	w.Header().Set("X-Placement-Scale", strconv.FormatFloat(p.Scale, 'f', 4, 64))
	w.Header().Set("X-Placement-Offset", strconv.Itoa(p.X)+","+strconv.Itoa(p.Y))
	w.Header().Set("X-Processing-Time-Ms", strconv.FormatInt(res.Timing.TotalMs, 10))
	s.writeImage(w, res.Image, format)
}

// uploadImageHandler cuts out the upload with the service default model and
// returns it as <stem>_processed.png. With a storage dir, input and output
// are kept for /download.
func (s *Server) uploadImageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.parseForm(w, r); err != nil {
		s.fail(w, r, "upload", "", err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	up, err := s.readUpload(r, "image")
	if err != nil {
		s.fail(w, r, "upload", "", err)
		return
	}
	model := s.pipeline.DefaultModel()

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	start := time.Now()
	c, err := s.pipeline.RemoveBackground(ctx, up.Image, model)
	if err != nil {
		s.fail(w, r, "upload", model, err)
		return
	}
	processingRequestsTotal.WithLabelValues("upload", model, "success").Inc()
	processingDuration.WithLabelValues("upload").Observe(time.Since(start).Seconds())

	name := utils.OutputName(up.Filename, ".png")
	if s.storageDir != "" {
		inputName := utils.SanitizeName(filepath.Base(up.Filename))
		if err := utils.SaveImage(filepath.Join(s.storageDir, storageInputDir, inputName), up.Image); err != nil {
			slog.Warn("Failed to store upload", "request_id", RequestID(r.Context()), "error", err)
		}
		if err := utils.SaveImage(filepath.Join(s.storageDir, storageOutputDir, name), c.Image); err != nil {
			s.fail(w, r, "upload", model, err)
			return
		}
	}

	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	s.writeImage(w, c.Image, utils.FormatPNG)
}

// downloadHandler serves a stored result by name from the output directory.
func (s *Server) downloadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.storageDir == "" {
		s.writeErrorResponse(w, r, "Downloads are disabled", http.StatusNotFound)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = filepath.Base(r.URL.Query().Get("path"))
	}
	if name == "" || name == "." || name != filepath.Base(name) {
		s.writeErrorResponse(w, r, "Invalid path", http.StatusBadRequest)
		return
	}

	f, err := os.OpenInRoot(filepath.Join(s.storageDir, storageOutputDir), name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.writeErrorResponse(w, r, "File not found", http.StatusNotFound)
		} else {
			s.writeErrorResponse(w, r, "Invalid path", http.StatusBadRequest)
		}
		return
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		s.writeErrorResponse(w, r, "File not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(w, r, name, fi.ModTime(), f)
}

// fail records an error metric and writes the mapped response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, operation, model string, err error) {
	processingRequestsTotal.WithLabelValues(operation, model, "error").Inc()
	s.writeError(w, r, err)
}
