package segment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RemoteConfig configures the HTTP backend.
type RemoteConfig struct {
	// BaseURL of a service exposing POST /remove-bg.
	BaseURL string
	Timeout time.Duration
	// MaxResponseBytes caps the size of the returned image.
	MaxResponseBytes int64
}

// ErrRemoteStatus is returned for non-2xx responses.
var ErrRemoteStatus = errors.New("remote segmentation failed")

// Remote delegates segmentation to another backdrop-compatible service. It
// uploads the image as multipart field "file" and expects an encoded cutout
// back.
type Remote struct {
	endpoint *url.URL
	client   *http.Client
	maxBytes int64
}

// NewRemote validates config and returns a remote segmenter.
func NewRemote(config RemoteConfig) (*Remote, error) {
	if config.BaseURL == "" {
		return nil, errors.New("remote base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid remote base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported remote URL scheme %q", base.Scheme)
	}
	endpoint := base.JoinPath("remove-bg")

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxBytes := config.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	return &Remote{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}, nil
}

// Segment uploads img and returns the encoded response body.
func (r *Remote) Segment(ctx context.Context, img *image.NRGBA, modelID string) (Result, error) {
	body, contentType, err := multipartImage(img)
	if err != nil {
		return Result{}, err
	}

	u := *r.endpoint
	if modelID != "" {
		q := u.Query()
		q.Set("model", modelID)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "image/png")

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("remote request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return Result{}, fmt.Errorf("failed to read remote response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("%w: status %d: %s", ErrRemoteStatus, resp.StatusCode, snippet(payload))
	}
	if int64(len(payload)) > r.maxBytes {
		return Result{}, fmt.Errorf("%w: response exceeds %d bytes", ErrRemoteStatus, r.maxBytes)
	}
	return EncodedResult(payload), nil
}

func multipartImage(img *image.NRGBA) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s.png"`, uuid.NewString()))
	header.Set("Content-Type", "image/png")
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if err := png.Encode(part, img); err != nil {
		return nil, "", fmt.Errorf("failed to encode upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
