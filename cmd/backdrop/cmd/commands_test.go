package cmd

import (
	"bytes"
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/backdrop/internal/batch"
	"github.com/MeKo-Tech/backdrop/internal/config"
	"github.com/MeKo-Tech/backdrop/internal/pipeline"
	"github.com/MeKo-Tech/backdrop/internal/testutil"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSubject(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	testutil.SaveImage(t, testutil.CreateSubjectImage(48, 64, image.Rect(12, 8, 36, 56)), path)
	return path
}

func TestRemoveCommand(t *testing.T) {
	seg := useFakeSegmenter(t)
	in := t.TempDir()
	out := t.TempDir()
	writeSubject(t, in, "a.png")
	writeSubject(t, in, "b.png")

	output, err := executeCommandAndCaptureOutput(t, rootCmd,
		[]string{"remove", in, "--output-dir", out, "--report", "json", "--quiet", "--model", "u2netp"})
	require.NoError(t, err, output)

	var report struct {
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &report), output)
	assert.Equal(t, 2, report.Succeeded)
	assert.Zero(t, report.Failed)

	assert.True(t, testutil.FileExists(filepath.Join(out, "a_processed.png")))
	assert.True(t, testutil.FileExists(filepath.Join(out, "b_processed.png")))
	assert.Equal(t, []string{"u2netp", "u2netp"}, seg.Models())
}

func TestRemoveCommand_RequiresArgs(t *testing.T) {
	_, err := executeCommandAndCaptureOutput(t, rootCmd, []string{"remove"})
	assert.Error(t, err)
}

func TestReplaceCommand(t *testing.T) {
	useFakeSegmenter(t)
	in := t.TempDir()
	out := t.TempDir()
	fg := writeSubject(t, in, "person.png")
	bg := filepath.Join(t.TempDir(), "bg.png")
	testutil.SaveImage(t, testutil.CreateNoiseImage(120, 90, 3), bg)

	output, err := executeCommandAndCaptureOutput(t, rootCmd,
		[]string{"replace", "--background", bg, fg, "--output-dir", out, "--report", "json", "--quiet", "--target-ratio", "0.5"})
	require.NoError(t, err, output)

	img := testutil.LoadImage(t, filepath.Join(out, "person_processed.png"))
	assert.Equal(t, image.Rect(0, 0, 120, 90), img.Bounds())
}

func TestReplaceCommand_RequiresBackground(t *testing.T) {
	useFakeSegmenter(t)
	require.NoError(t, replaceCmd.Flags().Set("background", ""))

	err := replaceCmd.RunE(replaceCmd, []string{"x.png"})
	assert.EqualError(t, err, "--background is required")
}

func TestModelsCommand(t *testing.T) {
	output, err := executeCommandAndCaptureOutput(t, rootCmd, []string{"models", "--json"})
	require.NoError(t, err, output)

	var infos []map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &infos))
	ids := make([]string, len(infos))
	for i, info := range infos {
		ids[i] = info["id"].(string)
	}
	assert.Contains(t, ids, "u2net")
	assert.Contains(t, ids, "isnet-general-use")
	assert.Contains(t, ids, "bria-rmbg")
}

func TestProgressReporter(t *testing.T) {
	bc := batch.DefaultConfig()
	assert.Nil(t, progressReporter(&bytes.Buffer{}, bc), "no reporter unless requested")

	bc.ShowProgress = true
	assert.IsType(t, &pipeline.LogProgressCallback{}, progressReporter(&bytes.Buffer{}, bc),
		"redirected output gets log lines")

	bc.Quiet = true
	assert.Nil(t, progressReporter(&bytes.Buffer{}, bc))
}

func TestReleaseRuntime(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.NotPanics(t, func() { releaseRuntime(&cfg) })
	cfg.Segmentation.Backend = config.BackendRemote
	assert.NotPanics(t, func() { releaseRuntime(&cfg) })
}

func TestReplaceHelpDescribesPlacement(t *testing.T) {
	assert.Contains(t, replaceCmd.Long, "always stands on\nthe ground line")
	assert.Contains(t, replaceCmd.Long, "shrunk by 0.9")
	assert.Contains(t, replaceCmd.Flags().Lookup("target-ratio").Usage, "width or height")
}

func TestConfigInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backdrop.yaml")
	output, err := executeCommandAndCaptureOutput(t, rootCmd, []string{"config", "init", path})
	require.NoError(t, err, output)
	assert.Contains(t, output, "Wrote "+path)

	loader := config.NewLoaderWithViper(viper.New())
	cfg, err := loader.LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Server.Port, cfg.Server.Port)

	_, err = executeCommandAndCaptureOutput(t, rootCmd, []string{"config", "init", path})
	assert.Error(t, err, "existing files are not overwritten")
}

func TestConfigShowCommand(t *testing.T) {
	output, err := executeCommandAndCaptureOutput(t, rootCmd, []string{"config", "show"})
	require.NoError(t, err)
	assert.Contains(t, output, "segmentation:")
	assert.Contains(t, output, "target_ratio:")
	assert.Contains(t, output, "# Configuration search paths:")
	assert.Contains(t, output, "# Environment prefix: BACKDROP")
}

func TestServerConfigFromFlags(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.StorageDir = "/srv/backdrop"

	sc := serverConfigFromFlags(serveCmd, &cfg)
	assert.Equal(t, "localhost", sc.Host)
	assert.Equal(t, 8080, sc.Port)
	assert.Equal(t, "/srv/backdrop", sc.StorageDir)
	assert.Equal(t, 10, sc.BatchLimit)
	assert.InDelta(t, 0.6, sc.Compose.TargetRatio, 1e-9)

	require.NoError(t, serveCmd.Flags().Set("port", "9191"))
	require.NoError(t, serveCmd.Flags().Set("rate-limit-enabled", "true"))
	t.Cleanup(func() {
		_ = serveCmd.Flags().Set("port", "8080")
		_ = serveCmd.Flags().Set("rate-limit-enabled", "false")
	})

	sc = serverConfigFromFlags(serveCmd, &cfg)
	assert.Equal(t, 9191, sc.Port)
	assert.True(t, sc.RateLimit.Enabled)
}

func TestEvalCommand(t *testing.T) {
	useFakeSegmenter(t)
	dataset := t.TempDir()
	caseDir := filepath.Join(dataset, "case-1")
	require.NoError(t, os.MkdirAll(caseDir, 0o750))
	subject := image.Rect(12, 8, 36, 56)
	testutil.SaveImage(t, testutil.CreateSubjectImage(48, 64, subject), filepath.Join(caseDir, "input.png"))
	testutil.SaveImage(t, testutil.CreateCutout(48, 64, subject), filepath.Join(caseDir, "expected.png"))

	output, err := executeCommandAndCaptureOutput(t, rootCmd,
		[]string{"eval", "--dataset", dataset, "--models", "u2net", "--results-dir", t.TempDir(), "--json"})
	require.NoError(t, err, output)

	var reports []map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &reports), output)
	require.Len(t, reports, 1)
	assert.Equal(t, "u2net", reports[0]["model"])
}
