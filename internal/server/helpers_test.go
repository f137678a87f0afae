package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/MeKo-Tech/backdrop/internal/pipeline"
	"github.com/MeKo-Tech/backdrop/internal/testutil"
	"github.com/stretchr/testify/require"
)

// newTestServer builds a server over a real pipeline with a synthetic segmenter.
func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *testutil.BackdropSegmenter) {
	t.Helper()
	seg := testutil.NewBackdropSegmenter()
	pl, err := pipeline.NewBuilder().WithSegmenter(seg).Build()
	require.NoError(t, err)

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewServer(cfg, pl)
	require.NoError(t, err)
	return s, seg
}

// subjectPNG is a 64x64 backdrop with a 32x32 subject in the middle.
func subjectPNG(t *testing.T) []byte {
	t.Helper()
	return testutil.EncodePNG(t, testutil.CreateSubjectImage(64, 64, image.Rect(16, 16, 48, 48)))
}

type formFile struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

// createMultipartRequest builds a multipart POST with explicit part content types.
func createMultipartRequest(t *testing.T, path string, files []formFile, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.filename))
		if f.contentType != "" {
			h.Set("Content-Type", f.contentType)
		}
		part, err := writer.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func pngFile(field, filename string, data []byte) formFile {
	return formFile{field: field, filename: filename, contentType: "image/png", data: data}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}
