// Package support holds the godog step definitions for the HTTP API suite.
package support

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"

	"github.com/MeKo-Tech/backdrop/internal/pipeline"
	"github.com/MeKo-Tech/backdrop/internal/server"
	"github.com/MeKo-Tech/backdrop/internal/testutil"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	Config    server.Config
	Segmenter *testutil.BackdropSegmenter
	Server    *httptest.Server
	Backend   *server.Server

	// Named images prepared by Given steps, PNG encoded.
	Images map[string][]byte

	LastStatus  int
	LastHeaders http.Header
	LastBody    []byte

	TempDir string
}

// NewTestContext returns a context with default server settings.
func NewTestContext() (*TestContext, error) {
	dir, err := os.MkdirTemp("", "backdrop-api-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return &TestContext{
		Config:    server.DefaultConfig(),
		Segmenter: testutil.NewBackdropSegmenter(),
		Images:    make(map[string][]byte),
		TempDir:   dir,
	}, nil
}

// URL returns the absolute URL of path on the running server, starting it
// on first use.
func (testCtx *TestContext) URL(path string) (string, error) {
	if testCtx.Server == nil {
		if err := testCtx.startServer(); err != nil {
			return "", err
		}
	}
	return testCtx.Server.URL + path, nil
}

func (testCtx *TestContext) startServer() error {
	pl, err := pipeline.NewBuilder().WithSegmenter(testCtx.Segmenter).Build()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	srv, err := server.NewServer(testCtx.Config, pl)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	testCtx.Backend = srv
	testCtx.Server = httptest.NewServer(srv.Handler())
	return nil
}

// Cleanup stops the server and removes scenario files.
func (testCtx *TestContext) Cleanup() error {
	if testCtx.Server != nil {
		testCtx.Server.Close()
		testCtx.Server = nil
	}
	if testCtx.Backend != nil {
		_ = testCtx.Backend.Close()
	}
	return os.RemoveAll(testCtx.TempDir)
}
