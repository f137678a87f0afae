package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/backdrop/internal/pipeline"
	"github.com/MeKo-Tech/backdrop/internal/testutil"
)

func newPipeline(t *testing.T, seg *testutil.BackdropSegmenter) *pipeline.Pipeline {
	t.Helper()
	pl, err := pipeline.NewBuilder().WithSegmenter(seg).WithDefaultModel("u2net").Build()
	require.NoError(t, err)
	return pl
}

func writeScenes(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		testutil.SaveImage(t, testutil.CreateSubjectImage(40, 60, image.Rect(10, 10, 30, 50)), filepath.Join(dir, n))
	}
}

func TestProcessBatch_RemovesBackgrounds(t *testing.T) {
	in := testutil.CreateTempDir(t)
	out := filepath.Join(testutil.CreateTempDir(t), "out")
	writeScenes(t, in, "a.png", "b.png")

	cfg := DefaultConfig()
	cfg.OutputDir = out
	cfg.Workers = 2
	res, err := ProcessBatch(context.Background(), newPipeline(t, testutil.NewBackdropSegmenter()), []string{in}, cfg)
	require.NoError(t, err)

	require.Len(t, res.Items, 2)
	assert.Equal(t, 2, res.Succeeded())
	assert.Zero(t, res.Failed())
	assert.Equal(t, filepath.Join(out, "a_processed.png"), res.Items[0].Output)
	assert.Equal(t, "u2net", res.Items[0].Model)

	img := testutil.LoadImage(t, res.Items[1].Output)
	_, _, _, a := img.At(0, 0).RGBA()
	assert.Zero(t, a, "background must be transparent")
	_, _, _, a = img.At(20, 30).RGBA()
	assert.Equal(t, uint32(0xffff), a)
}

func TestProcessBatch_ReportsProgress(t *testing.T) {
	in := testutil.CreateTempDir(t)
	writeScenes(t, in, "a.png", "b.png", "c.png")

	var logs bytes.Buffer
	cfg := DefaultConfig()
	cfg.OutputDir = testutil.CreateTempDir(t)
	cfg.ShowProgress = true
	cfg.Progress = pipeline.NewLogProgressCallback(slog.New(slog.NewJSONHandler(&logs, nil)), slog.LevelInfo, 1)
	_, err := ProcessBatch(context.Background(), newPipeline(t, testutil.NewBackdropSegmenter()), []string{in}, cfg)
	require.NoError(t, err)

	assert.Contains(t, logs.String(), `"msg":"Batch started","total":3`)
	assert.Equal(t, 3, bytes.Count(logs.Bytes(), []byte(`"msg":"Batch progress"`)))
	assert.Contains(t, logs.String(), `"msg":"Batch completed"`)

	logs.Reset()
	cfg.Quiet = true
	_, err = ProcessBatch(context.Background(), newPipeline(t, testutil.NewBackdropSegmenter()), []string{in}, cfg)
	require.NoError(t, err)
	assert.Empty(t, logs.String(), "quiet suppresses progress")
}

func TestProcessBatch_ReplacesBackgrounds(t *testing.T) {
	in := testutil.CreateTempDir(t)
	writeScenes(t, in, "subject.png")
	bgPath := filepath.Join(testutil.CreateTempDir(t), "bg.png")
	testutil.SaveImage(t, testutil.CreateNoiseImage(200, 100, 3), bgPath)

	cfg := DefaultConfig()
	cfg.Background = bgPath
	cfg.Format = "webp"
	res, err := ProcessBatch(context.Background(), newPipeline(t, testutil.NewBackdropSegmenter()), []string{filepath.Join(in, "subject.png")}, cfg)
	require.NoError(t, err)

	item := res.Items[0]
	assert.Equal(t, filepath.Join(in, "subject_processed.webp"), item.Output)
	assert.Equal(t, 200, item.Width)
	assert.Equal(t, 100, item.Height)
	assert.True(t, testutil.FileExists(item.Output))
}

func TestProcessBatch_SkipsPreviousOutputs(t *testing.T) {
	in := testutil.CreateTempDir(t)
	writeScenes(t, in, "a.png", "a_processed.png")

	res, err := ProcessBatch(context.Background(), newPipeline(t, testutil.NewBackdropSegmenter()), []string{in}, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, filepath.Join(in, "a.png"), res.Items[0].Input)
}

func TestProcessBatch_Errors(t *testing.T) {
	in := testutil.CreateTempDir(t)
	_, err := ProcessBatch(context.Background(), newPipeline(t, testutil.NewBackdropSegmenter()), []string{in}, DefaultConfig())
	assert.ErrorIs(t, err, ErrNoImages)

	writeScenes(t, in, "a.png")
	cfg := DefaultConfig()
	cfg.Format = "gif"
	_, err = ProcessBatch(context.Background(), newPipeline(t, testutil.NewBackdropSegmenter()), []string{in}, cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Background = filepath.Join(in, "missing.png")
	_, err = ProcessBatch(context.Background(), newPipeline(t, testutil.NewBackdropSegmenter()), []string{in}, cfg)
	assert.ErrorContains(t, err, "background")
}

func TestProcessBatch_StopsOnFailure(t *testing.T) {
	in := testutil.CreateTempDir(t)
	writeScenes(t, in, "a.png", "b.png")
	seg := testutil.NewBackdropSegmenter()
	seg.Err = errors.New("model offline")

	_, err := ProcessBatch(context.Background(), newPipeline(t, seg), []string{in}, DefaultConfig())
	assert.ErrorContains(t, err, "model offline")
}

func TestProcessBatch_ContinueOnError(t *testing.T) {
	in := testutil.CreateTempDir(t)
	writeScenes(t, in, "a.png")
	require.NoError(t, os.WriteFile(filepath.Join(in, "broken.png"), []byte("nope"), 0o600))

	cfg := DefaultConfig()
	cfg.ContinueOnError = true
	res, err := ProcessBatch(context.Background(), newPipeline(t, testutil.NewBackdropSegmenter()), []string{in}, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded())
	assert.Equal(t, 1, res.Failed())

	text, err := res.FormatResults("text")
	require.NoError(t, err)
	assert.Contains(t, text, "FAIL")
	assert.Contains(t, text, "OK")

	var buf bytes.Buffer
	require.NoError(t, res.SaveResults(&buf, "json"))
	var report struct {
		Images []struct {
			Input string `json:"input"`
			Error string `json:"error"`
		} `json:"images"`
		Failed int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
	assert.Equal(t, 1, report.Failed)
	assert.NotEmpty(t, report.Images[1].Error)

	csvOut, err := res.FormatResults("csv")
	require.NoError(t, err)
	assert.Contains(t, csvOut, "input,output,model,width,height,duration_ms,error")

	_, err = res.FormatResults("xml")
	assert.Error(t, err)

	buf.Reset()
	res.PrintStats(&buf)
	assert.Contains(t, buf.String(), "Failed: 1")
}

func TestPlanOutputs(t *testing.T) {
	jobs := planOutputs([]string{"x/a.png", "y/a.jpg", "z/b.png"}, "out", ".png")
	assert.Equal(t, filepath.Join("out", "a_processed.png"), jobs[0].output)
	assert.Equal(t, filepath.Join("out", "a_processed_2.png"), jobs[1].output)
	assert.Equal(t, filepath.Join("out", "b_processed.png"), jobs[2].output)

	jobs = planOutputs([]string{filepath.Join("x", "a.png")}, "", ".webp")
	assert.Equal(t, filepath.Join("x", "a_processed.webp"), jobs[0].output)
}
