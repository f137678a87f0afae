package pipeline

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsoleProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleProgressCallback(&buf, "remove ")
	c.OnStart(2)
	c.OnProgress(1, 2)
	c.OnProgress(2, 2)
	c.OnError(1, errors.New("broken"))
	c.OnComplete()

	out := buf.String()
	assert.Contains(t, out, "remove 0/2")
	assert.Contains(t, out, "2/2")
	assert.Contains(t, out, "item 1 failed: broken")
	assert.Contains(t, out, "done in")
}

func TestLogProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	l := NewLogProgressCallback(logger, slog.LevelInfo, 2)
	l.OnStart(3)
	l.OnProgress(1, 3)
	l.OnProgress(2, 3)
	l.OnProgress(3, 3)
	l.OnError(0, errors.New("x"))
	l.OnComplete()

	out := buf.String()
	assert.Contains(t, out, `"msg":"Batch started"`)
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte(`"msg":"Batch progress"`)))
	assert.Contains(t, out, `"msg":"Batch item failed"`)
	assert.Contains(t, out, `"msg":"Batch completed"`)
}
