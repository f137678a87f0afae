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

	"github.com/MeKo-Tech/backdrop/internal/compose"
	"github.com/MeKo-Tech/backdrop/internal/models"
	"github.com/MeKo-Tech/backdrop/internal/utils"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocket request types.
const (
	wsTypeRemove  = "remove"
	wsTypeReplace = "replace"
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketRequest is one job sent by a client. Image data is base64
// encoded by encoding/json; nil option fields keep the server defaults.
type WebSocketRequest struct {
	Type           string   `json:"type"`
	RequestID      string   `json:"request_id,omitempty"`
	Image          []byte   `json:"image,omitempty"`
	Background     []byte   `json:"background,omitempty"`
	Model          string   `json:"model,omitempty"`
	Format         string   `json:"format,omitempty"`
	TargetRatio    *float64 `json:"target_ratio,omitempty"`
	SmartPlacement *bool    `json:"smart_placement,omitempty"`
	Normalize      *bool    `json:"normalize,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketResponse reports progress or the outcome of a request.
type WebSocketResponse struct {
	Type      string           `json:"type"`
	Status    string           `json:"status"` // "processing", "completed", "error"
	Progress  float64          `json:"progress,omitempty"`
	Result    *WebSocketResult `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorType string           `json:"error_type,omitempty"`
	RequestID string           `json:"request_id,omitempty"`
}

// WebSocketResult carries the encoded output image.
type WebSocketResult struct {
	Model     string             `json:"model"`
	Format    string             `json:"format"`
	Width     int                `json:"width"`
	Height    int                `json:"height"`
	Placement *compose.Placement `json:"placement,omitempty"`
	Data      []byte             `json:"data"`
}

// webSocketHandler handles WebSocket connections for interactive clients.
func (s *Server) webSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	s.handleWebSocketConnection(r.Context(), conn)
}

// handleWebSocketConnection processes messages until the client goes away.
func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(2 * s.maxUploadMB * 1024 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(ctx, conn, data)
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		}
	}
}

// handleWebSocketMessage decodes and runs one request.
func (s *Server) handleWebSocketMessage(ctx context.Context, conn WebSocketConnWriter, data []byte) {
	var req WebSocketRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, "", "invalid_request", fmt.Sprintf("Failed to parse request: %v", err))
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	switch req.Type {
	case wsTypeRemove, wsTypeReplace:
	default:
		s.sendWebSocketError(conn, req.RequestID, "invalid_request", "Unsupported request type: "+req.Type)
		return
	}

	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      req.Type + "_response",
		Status:    "processing",
		RequestID: req.RequestID,
	})

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, errType, err := s.processWebSocketRequest(ctx, conn, req)
	operation := "websocket_" + req.Type
	if err != nil {
		processingRequestsTotal.WithLabelValues(operation, "", "error").Inc()
		s.sendWebSocketError(conn, req.RequestID, errType, err.Error())
		return
	}
	processingRequestsTotal.WithLabelValues(operation, result.Model, "success").Inc()
	processingDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      req.Type + "_response",
		Status:    "completed",
		Progress:  1.0,
		Result:    result,
		RequestID: req.RequestID,
	})
}

// processWebSocketRequest runs a validated request and encodes the output.
func (s *Server) processWebSocketRequest(ctx context.Context, conn WebSocketConnWriter, req WebSocketRequest) (*WebSocketResult, string, error) {
	fg, err := decodeWebSocketImage(req.Image, "image")
	if err != nil {
		return nil, "invalid_request", err
	}
	format, err := utils.ParseFormat(req.Format)
	if err != nil {
		return nil, "invalid_request", err
	}
	if req.Model != "" {
		if _, err := models.Lookup(req.Model); err != nil {
			return nil, "invalid_request", err
		}
	}

	var out image.Image
	result := &WebSocketResult{Format: format}
	switch req.Type {
	case wsTypeRemove:
		model := req.Model
		if model == "" {
			model = s.removeModel
		}
		c, err := s.pipeline.RemoveBackground(ctx, fg, model)
		if err != nil {
			return nil, "processing_error", err
		}
		result.Model = model
		out = c.Image
	case wsTypeReplace:
		bg, err := decodeWebSocketImage(req.Background, "background")
		if err != nil {
			return nil, "invalid_request", err
		}
		opts, err := s.webSocketOptions(req)
		if err != nil {
			return nil, "invalid_request", err
		}
		s.sendWebSocketResponse(conn, WebSocketResponse{
			Type:      req.Type + "_response",
			Status:    "processing",
			Progress:  0.5,
			RequestID: req.RequestID,
		})
		res, err := s.pipeline.ReplaceBackground(ctx, fg, bg, req.Model, opts)
		if err != nil {
			return nil, "processing_error", err
		}
		observePlacement(res.Placement.Policy, res.Placement.Scale, res.Placement.Clamped, res.Placement.Empty)
		result.Model = res.Model
		result.Placement = &res.Placement
		out = res.Image
	}

	var buf bytes.Buffer
	if err := utils.EncodeImage(&buf, out, format); err != nil {
		return nil, "processing_error", err
	}
	b := out.Bounds()
	result.Width, result.Height = b.Dx(), b.Dy()
	result.Data = buf.Bytes()
	return result, "", nil
}

func decodeWebSocketImage(data []byte, field string) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("no %s data provided", field)
	}
	img, _, err := utils.DecodeImageWithin(bytes.NewReader(data), utils.DefaultImageConstraints())
	if errors.Is(err, utils.ErrImageDimensions) {
		return nil, fmt.Errorf("invalid %s dimensions: %w", field, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", field, err)
	}
	return img, nil
}

// webSocketOptions overlays request options on the server defaults.
func (s *Server) webSocketOptions(req WebSocketRequest) (compose.Options, error) {
	opts := s.defaults
	if req.TargetRatio != nil {
		if r := *req.TargetRatio; !(r > 0 && r <= 1) {
			return opts, compose.ErrInvalidRatio
		}
		opts.TargetRatio = *req.TargetRatio
	}
	if req.SmartPlacement != nil {
		opts.SmartPlacement = *req.SmartPlacement
	}
	if req.Normalize != nil {
		opts.Normalize = *req.Normalize
	}
	return opts, nil
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal WebSocket response", "error", err)
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return
	}

	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      "error",
		Status:    "error",
		Error:     message,
		ErrorType: errorType,
		RequestID: requestID,
	})
}
