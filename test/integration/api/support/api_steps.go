package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/backdrop/internal/testutil"
	"github.com/MeKo-Tech/backdrop/internal/utils"
	"github.com/cucumber/godog"
)

var client = &http.Client{Timeout: 30 * time.Second}

// aPortraitNamed prepares a w x h image with a centered subject.
func (testCtx *TestContext) aPortraitNamed(name string, w, h int) error {
	subject := image.Rect(w/4, h/4, 3*w/4, 3*h/4)
	return testCtx.storeImage(name, testutil.CreateSubjectImage(w, h, subject))
}

// aBackgroundNamed prepares a seeded noise background.
func (testCtx *TestContext) aBackgroundNamed(name string, w, h int) error {
	return testCtx.storeImage(name, testutil.CreateNoiseImage(w, h, 42))
}

func (testCtx *TestContext) storeImage(name string, img image.Image) error {
	var buf bytes.Buffer
	if err := utils.EncodeImage(&buf, img, utils.FormatPNG); err != nil {
		return err
	}
	testCtx.Images[name] = buf.Bytes()
	return nil
}

func (testCtx *TestContext) rateLimitingAllowsPerMinute(n int) error {
	testCtx.Config.RateLimit.Enabled = true
	testCtx.Config.RateLimit.RequestsPerMinute = n
	return nil
}

func (testCtx *TestContext) theSegmenterFails() error {
	testCtx.Segmenter.Err = fmt.Errorf("model crashed")
	return nil
}

// iPOSTFiles sends a multipart request. Fields are given as a table of
// field, value rows; values of the form "image:<name>" attach a prepared
// image, "file:<filename>:<content-type>:<text>" attach raw content.
func (testCtx *TestContext) iPOSTFiles(path string, table *godog.Table) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for _, row := range table.Rows {
		if len(row.Cells) != 2 {
			return fmt.Errorf("expected field and value columns")
		}
		field, value := row.Cells[0].Value, row.Cells[1].Value
		if field == "field" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "image:"):
			name := strings.TrimPrefix(value, "image:")
			data, ok := testCtx.Images[name]
			if !ok {
				return fmt.Errorf("no image named %q", name)
			}
			if err := writePart(writer, field, name+".png", "image/png", data); err != nil {
				return err
			}
		case strings.HasPrefix(value, "file:"):
			parts := strings.SplitN(strings.TrimPrefix(value, "file:"), ":", 3)
			if len(parts) != 3 {
				return fmt.Errorf("file values need filename, content type and content")
			}
			if err := writePart(writer, field, parts[0], parts[1], []byte(parts[2])); err != nil {
				return err
			}
		default:
			if err := writer.WriteField(field, value); err != nil {
				return err
			}
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}

	url, err := testCtx.URL(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return testCtx.do(req)
}

func writePart(w *multipart.Writer, field, filename, contentType string, data []byte) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}

func (testCtx *TestContext) iGET(path string) error {
	url, err := testCtx.URL(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

func (testCtx *TestContext) do(req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	testCtx.LastStatus = resp.StatusCode
	testCtx.LastHeaders = resp.Header
	testCtx.LastBody = body
	return nil
}

func (testCtx *TestContext) theResponseStatusShouldBe(status int) error {
	if testCtx.LastStatus != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, testCtx.LastStatus, testCtx.LastBody)
	}
	return nil
}

func (testCtx *TestContext) theHeaderShouldBe(name, value string) error {
	if got := testCtx.LastHeaders.Get(name); got != value {
		return fmt.Errorf("expected header %s=%q, got %q", name, value, got)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldHaveHeader(name string) error {
	if testCtx.LastHeaders.Get(name) == "" {
		return fmt.Errorf("expected header %s to be set", name)
	}
	return nil
}

func (testCtx *TestContext) theErrorShouldBe(message string) error {
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(testCtx.LastBody, &resp); err != nil {
		return fmt.Errorf("response is not a JSON error: %w", err)
	}
	if resp.Success {
		return fmt.Errorf("expected success=false")
	}
	if resp.Error != message {
		return fmt.Errorf("expected error %q, got %q", message, resp.Error)
	}
	return nil
}

func (testCtx *TestContext) decodeResponseImage() (image.Image, error) {
	img, _, err := utils.DecodeImage(bytes.NewReader(testCtx.LastBody))
	if err != nil {
		return nil, fmt.Errorf("response is not an image: %w", err)
	}
	return img, nil
}

func (testCtx *TestContext) theResponseShouldBeAnImageOf(w, h int) error {
	img, err := testCtx.decodeResponseImage()
	if err != nil {
		return err
	}
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		return fmt.Errorf("expected %dx%d image, got %dx%d", w, h, b.Dx(), b.Dy())
	}
	return nil
}

func (testCtx *TestContext) pixelShouldBeTransparent(x, y int) error {
	return testCtx.checkAlpha(x, y, func(a uint32) bool { return a == 0 }, "transparent")
}

func (testCtx *TestContext) pixelShouldBeOpaque(x, y int) error {
	return testCtx.checkAlpha(x, y, func(a uint32) bool { return a == 0xffff }, "opaque")
}

func (testCtx *TestContext) checkAlpha(x, y int, ok func(uint32) bool, want string) error {
	img, err := testCtx.decodeResponseImage()
	if err != nil {
		return err
	}
	_, _, _, a := img.At(x, y).RGBA()
	if !ok(a) {
		return fmt.Errorf("expected pixel (%d,%d) to be %s, alpha %d", x, y, want, a)
	}
	return nil
}

func (testCtx *TestContext) everyPixelShouldBeOpaque() error {
	img, err := testCtx.decodeResponseImage()
	if err != nil {
		return err
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return fmt.Errorf("pixel (%d,%d) has alpha %d", x, y, a)
			}
		}
	}
	return nil
}

func (testCtx *TestContext) theSegmenterShouldHaveUsed(model string) error {
	models := testCtx.Segmenter.Models()
	if len(models) == 0 || models[len(models)-1] != model {
		return fmt.Errorf("expected model %s, segmenter saw %v", model, models)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldListModels(count int) error {
	var resp struct {
		Count   int    `json:"count"`
		Default string `json:"default"`
	}
	if err := json.Unmarshal(testCtx.LastBody, &resp); err != nil {
		return err
	}
	if resp.Count != count {
		return fmt.Errorf("expected %d models, got %d", count, resp.Count)
	}
	if resp.Default == "" {
		return fmt.Errorf("expected a default model")
	}
	return nil
}

func (testCtx *TestContext) iSendRequestsTo(n int, path string, table *godog.Table) error {
	for range n {
		if err := testCtx.iPOSTFiles(path, table); err != nil {
			return err
		}
	}
	return nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// RegisterAPISteps registers the HTTP step definitions.
func (testCtx *TestContext) RegisterAPISteps(sc *godog.ScenarioContext) {
	sc.Step(`^a portrait "([^"]*)" of (\d+)x(\d+)$`, func(name, w, h string) error {
		return testCtx.aPortraitNamed(name, atoi(w), atoi(h))
	})
	sc.Step(`^a textured background "([^"]*)" of (\d+)x(\d+)$`, func(name, w, h string) error {
		return testCtx.aBackgroundNamed(name, atoi(w), atoi(h))
	})
	sc.Step(`^rate limiting allows (\d+) requests? per minute$`, func(n string) error {
		return testCtx.rateLimitingAllowsPerMinute(atoi(n))
	})
	sc.Step(`^the segmenter fails$`, testCtx.theSegmenterFails)

	sc.Step(`^I POST to "([^"]*)" with:$`, testCtx.iPOSTFiles)
	sc.Step(`^I POST (\d+) times to "([^"]*)" with:$`, func(n, path string, table *godog.Table) error {
		return testCtx.iSendRequestsTo(atoi(n), path, table)
	})
	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)

	sc.Step(`^the response status should be (\d+)$`, func(status string) error {
		return testCtx.theResponseStatusShouldBe(atoi(status))
	})
	sc.Step(`^the header "([^"]*)" should be "([^"]*)"$`, testCtx.theHeaderShouldBe)
	sc.Step(`^the response should have header "([^"]*)"$`, testCtx.theResponseShouldHaveHeader)
	sc.Step(`^the error should be "([^"]*)"$`, testCtx.theErrorShouldBe)
	sc.Step(`^the response should be a (\d+)x(\d+) image$`, func(w, h string) error {
		return testCtx.theResponseShouldBeAnImageOf(atoi(w), atoi(h))
	})
	sc.Step(`^pixel (\d+),(\d+) should be transparent$`, func(x, y string) error {
		return testCtx.pixelShouldBeTransparent(atoi(x), atoi(y))
	})
	sc.Step(`^pixel (\d+),(\d+) should be opaque$`, func(x, y string) error {
		return testCtx.pixelShouldBeOpaque(atoi(x), atoi(y))
	})
	sc.Step(`^every pixel should be opaque$`, testCtx.everyPixelShouldBeOpaque)
	sc.Step(`^the segmenter should have used "([^"]*)"$`, testCtx.theSegmenterShouldHaveUsed)
	sc.Step(`^the response should list (\d+) models$`, func(n string) error {
		return testCtx.theResponseShouldListModels(atoi(n))
	})
}
