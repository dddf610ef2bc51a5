package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"screenfill/domain/entities"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeModel answers chat completions with scripted replies and records the
// size of every uploaded image.
type fakeModel struct {
	mu      sync.Mutex
	replies []string
	sizes   []image.Point
	auth    []string
}

func (m *fakeModel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var parts []ContentPart
	if err := json.Unmarshal(req.Messages[len(req.Messages)-1].Content, &parts); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var size image.Point
	for _, p := range parts {
		if p.ImageURL == nil {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(p.ImageURL.URL, "data:image/png;base64,"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		img, err := png.Decode(bytes.NewReader(raw))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		size = img.Bounds().Size()
	}

	m.mu.Lock()
	m.sizes = append(m.sizes, size)
	m.auth = append(m.auth, r.Header.Get("Authorization"))
	reply := `{}`
	if len(m.replies) > 0 {
		reply, m.replies = m.replies[0], m.replies[1:]
	}
	m.mu.Unlock()

	resp := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": reply}},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func newClient(t *testing.T, model *fakeModel, opts ...VisionOption) *VisionClient {
	t.Helper()
	srv := httptest.NewServer(model)
	t.Cleanup(srv.Close)
	c, err := NewVisionClient("sk-test", srv.URL+"/", "gpt-4o", quietLogger(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestDetectBoundingBoxesFencedReply(t *testing.T) {
	model := &fakeModel{replies: []string{"```json\n{\"boxes\": [{\"type\": \"textbox\", \"x\": 30, \"y\": 40}]}\n```"}}
	c := newClient(t, model)

	boxes, err := c.DetectBoundingBoxes(context.Background(), image.NewGray(image.Rect(0, 0, 100, 80)))
	if err != nil {
		t.Fatalf("DetectBoundingBoxes: %v", err)
	}
	want := []entities.BoundingBox{{Type: "textbox", X: 40, Y: 50}}
	if fmt.Sprint(boxes) != fmt.Sprint(want) {
		t.Errorf("boxes = %v, want %v", boxes, want)
	}
	if model.auth[0] != "Bearer sk-test" {
		t.Errorf("Authorization = %q", model.auth[0])
	}
	if model.sizes[0] != image.Pt(100, 80) {
		t.Errorf("uploaded %v, want 100x80", model.sizes[0])
	}
}

func TestDetectTextRegionsTilesTallCaptures(t *testing.T) {
	model := &fakeModel{replies: []string{
		`{"texts": [{"text": "Name", "x": 5, "y": 90, "width": 30, "height": 8}]}`,
		`Here you go: {"texts": [{"text": "Name", "x": 5, "y": 10, "width": 30, "height": 8}, {"text": "City", "x": 5, "y": 50, "width": 20, "height": 8}]}`,
		`{"texts": [{"text": "Zip", "x": 5, "y": 20, "width": 15, "height": 8}, {"text": "  ", "x": 1, "y": 1}]}`,
	}}
	c := newClient(t, model, WithTiling(100, 20))

	texts, err := c.DetectTextRegions(context.Background(), image.NewGray(image.Rect(0, 0, 50, 250)))
	if err != nil {
		t.Fatalf("DetectTextRegions: %v", err)
	}
	want := []entities.TextRegion{
		{Text: "Name", X: 5, Y: 90, Width: 30, Height: 8},
		{Text: "City", X: 5, Y: 130, Width: 20, Height: 8},
		{Text: "Zip", X: 5, Y: 180, Width: 15, Height: 8},
	}
	if fmt.Sprint(texts) != fmt.Sprint(want) {
		t.Errorf("texts = %v, want %v", texts, want)
	}
	wantSizes := []image.Point{{50, 100}, {50, 100}, {50, 90}}
	if fmt.Sprint(model.sizes) != fmt.Sprint(wantSizes) {
		t.Errorf("tiles = %v, want %v", model.sizes, wantSizes)
	}
}

func TestMaxWidthMapsBackToCapture(t *testing.T) {
	model := &fakeModel{replies: []string{`{"boxes": [{"type": "dropdown", "x": 10, "y": 5}]}`}}
	c := newClient(t, model, WithMaxWidth(100), WithClickShift(0))

	boxes, err := c.DetectBoundingBoxes(context.Background(), image.NewGray(image.Rect(0, 0, 200, 50)))
	if err != nil {
		t.Fatal(err)
	}
	if len(boxes) != 1 || boxes[0].X != 20 || boxes[0].Y != 10 {
		t.Errorf("boxes = %v, want dropdown at (20,10)", boxes)
	}
	if model.sizes[0] != image.Pt(100, 25) {
		t.Errorf("uploaded %v, want 100x25", model.sizes[0])
	}
}

func TestVisionErrors(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer failing.Close()
	c, err := NewVisionClient("sk-test", failing.URL, "", quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	img := image.NewGray(image.Rect(0, 0, 10, 10))
	if _, err := c.DetectBoundingBoxes(context.Background(), img); err == nil || !strings.Contains(err.Error(), "API error") {
		t.Errorf("err = %v, want API error", err)
	}

	garbage := newClient(t, &fakeModel{replies: []string{"no json here"}})
	if _, err := garbage.DetectTextRegions(context.Background(), img); err == nil {
		t.Error("expected parse error")
	}

	if _, err := c.DetectTextRegions(context.Background(), nil); err == nil {
		t.Error("expected error for nil capture")
	}

	if _, err := NewVisionClient("", "http://x", "m", quietLogger()); err == nil {
		t.Error("expected error without API key")
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```\ntrailing", `{"a":1}`},
		{`Sure! {"a":{"b":2}} hope this helps`, `{"a":{"b":2}}`},
		{`nothing`, `nothing`},
	}
	for _, tt := range tests {
		if got := extractJSON(tt.in); got != tt.want {
			t.Errorf("extractJSON(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
