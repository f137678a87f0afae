package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/backdrop/internal/models"
	"github.com/MeKo-Tech/backdrop/internal/pipeline"
	"github.com/MeKo-Tech/backdrop/internal/utils"
)

// BatchRemoveRequest is the JSON body of /remove-bg/batch. Image data is
// base64 encoded by encoding/json.
type BatchRemoveRequest struct {
	Images []BatchImageRequest `json:"images"`
	Model  string              `json:"model,omitempty"`
	Format string              `json:"format,omitempty"`
}

// BatchImageRequest represents a single image in a batch request.
type BatchImageRequest struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// BatchRemoveResponse represents the response for batch processing.
type BatchRemoveResponse struct {
	Success bool                   `json:"success"`
	Model   string                 `json:"model"`
	Results []BatchRemoveResult    `json:"results"`
	Summary BatchProcessingSummary `json:"summary"`
}

// BatchRemoveResult is the outcome for one image.
type BatchRemoveResult struct {
	Name             string `json:"name"`
	Output           string `json:"output,omitempty"`
	Success          bool   `json:"success"`
	Width            int    `json:"width,omitempty"`
	Height           int    `json:"height,omitempty"`
	ForegroundPixels int    `json:"foreground_pixels,omitempty"`
	Data             []byte `json:"data,omitempty"`
	Error            string `json:"error,omitempty"`
}

// BatchProcessingSummary provides summary statistics for batch processing.
type BatchProcessingSummary struct {
	TotalItems    int     `json:"total_items"`
	Successful    int     `json:"successful"`
	Failed        int     `json:"failed"`
	TotalDuration float64 `json:"total_duration_seconds"`
	AvgItemTime   float64 `json:"avg_item_time_seconds"`
}

// batchRemoveHandler removes the background of several images in one request.
func (s *Server) batchRemoveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB*1024*1024)
	var req BatchRemoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if status, _ := statusForError(err); status == http.StatusRequestEntityTooLarge {
			s.fail(w, r, "batch", "", err)
			return
		}
		s.fail(w, r, "batch", "", badRequest("Failed to parse JSON request", err))
		return
	}
	if len(req.Images) == 0 {
		s.fail(w, r, "batch", "", badRequest("No images provided in batch request", nil))
		return
	}
	if len(req.Images) > s.batchLimit {
		s.fail(w, r, "batch", "", badRequest(fmt.Sprintf("Batch size too large (maximum %d items)", s.batchLimit), nil))
		return
	}

	model := req.Model
	if model == "" {
		model = s.removeModel
	}
	if _, err := models.Lookup(model); err != nil {
		s.fail(w, r, "batch", "", badRequest("Unknown model: "+model, err))
		return
	}
	format, err := utils.ParseFormat(req.Format)
	if err != nil {
		s.fail(w, r, "batch", model, badRequest(err.Error(), err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	start := time.Now()
	results := s.processBatchRequest(ctx, req.Images, model, format)
	total := time.Since(start)

	summary := BatchProcessingSummary{TotalItems: len(results), TotalDuration: total.Seconds()}
	for _, res := range results {
		if res.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}
	summary.AvgItemTime = summary.TotalDuration / float64(summary.TotalItems)

	processingRequestsTotal.WithLabelValues("batch", model, "success").Inc()
	processingDuration.WithLabelValues("batch").Observe(total.Seconds())
	slog.Info("Batch processed",
		"request_id", RequestID(r.Context()),
		"model", model,
		"items", summary.TotalItems,
		"failed", summary.Failed,
		"duration_ms", total.Milliseconds())

	w.Header().Set("Content-Type", "application/json")
	response := BatchRemoveResponse{Success: summary.Failed == 0, Model: model, Results: results, Summary: summary}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode batch response", "error", err)
	}
}

// processBatchRequest decodes every item, cuts out the decodable ones in
// parallel and encodes the results in request order.
func (s *Server) processBatchRequest(ctx context.Context, items []BatchImageRequest, model, format string) []BatchRemoveResult {
	results := make([]BatchRemoveResult, len(items))
	images := make([]image.Image, 0, len(items))
	indices := make([]int, 0, len(items))

	for i, item := range items {
		results[i].Name = item.Name
		if len(item.Data) == 0 {
			results[i].Error = "No image data provided"
			continue
		}
		img, _, err := utils.DecodeImageWithin(bytes.NewReader(item.Data), utils.DefaultImageConstraints())
		if errors.Is(err, utils.ErrImageDimensions) {
			results[i].Error = "Invalid image dimensions"
			continue
		}
		if err != nil {
			results[i].Error = "Invalid image format"
			continue
		}
		images = append(images, img)
		indices = append(indices, i)
	}
	if len(images) == 0 {
		return results
	}

	cutouts, err := s.pipeline.RemoveBackgrounds(ctx, images, model, pipeline.ParallelConfig{
		ErrorHandler: func(index int, err error) {
			results[indices[index]].Error = err.Error()
		},
	})
	if cutouts == nil && err != nil {
		for _, i := range indices {
			results[i].Error = err.Error()
		}
		return results
	}

	for j, c := range cutouts {
		if c == nil {
			continue
		}
		res := &results[indices[j]]
		var buf bytes.Buffer
		if err := utils.EncodeImage(&buf, c.Image, format); err != nil {
			res.Error = err.Error()
			continue
		}
		res.Success = true
		res.Output = utils.OutputName(res.Name, utils.Extension(format))
		res.Width = c.Width()
		res.Height = c.Height()
		res.ForegroundPixels = c.Mask.Count()
		res.Data = buf.Bytes()
	}
	return results
}
