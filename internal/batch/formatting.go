package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FormatResults renders the batch summary as text, json or csv.
func (r *Result) FormatResults(format string) (string, error) {
	switch format {
	case "json":
		return r.formatJSON()
	case "csv":
		return r.formatCSV()
	case "", "text":
		return r.formatText(), nil
	default:
		return "", fmt.Errorf("unsupported report format: %s", format)
	}
}

type jsonItem struct {
	Item
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func (r *Result) formatJSON() (string, error) {
	report := struct {
		Images     []jsonItem `json:"images"`
		Succeeded  int        `json:"succeeded"`
		Failed     int        `json:"failed"`
		DurationMs int64      `json:"duration_ms"`
	}{
		Images:     make([]jsonItem, len(r.Items)),
		Succeeded:  r.Succeeded(),
		Failed:     r.Failed(),
		DurationMs: r.Duration.Milliseconds(),
	}
	for i, it := range r.Items {
		report.Images[i] = jsonItem{Item: it, DurationMs: it.Duration.Milliseconds()}
		if it.Err != nil {
			report.Images[i].Error = it.Err.Error()
		}
	}
	bts, err := json.MarshalIndent(report, "", "  ")
	return string(bts), err
}

func (r *Result) formatCSV() (string, error) {
	var out strings.Builder
	w := csv.NewWriter(&out)
	rows := [][]string{{"input", "output", "model", "width", "height", "duration_ms", "error"}}
	for _, it := range r.Items {
		errText := ""
		if it.Err != nil {
			errText = it.Err.Error()
		}
		rows = append(rows, []string{
			it.Input,
			it.Output,
			it.Model,
			strconv.Itoa(it.Width),
			strconv.Itoa(it.Height),
			strconv.FormatInt(it.Duration.Milliseconds(), 10),
			errText,
		})
	}
	if err := w.WriteAll(rows); err != nil {
		return "", err
	}
	return out.String(), nil
}

func (r *Result) formatText() string {
	var out strings.Builder
	for _, it := range r.Items {
		if it.Err != nil {
			fmt.Fprintf(&out, "FAIL %s: %v\n", it.Input, it.Err)
			continue
		}
		fmt.Fprintf(&out, "OK   %s -> %s (%dx%d)\n", it.Input, it.Output, it.Width, it.Height)
	}
	return out.String()
}
