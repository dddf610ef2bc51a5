// Package ai wraps a vision-capable chat model as the perception Detector.
package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"screenfill/domain/entities"
	"screenfill/domain/interfaces"

	"github.com/nfnt/resize"
	"github.com/sirupsen/logrus"
)

const (
	boxesPrompt = `Find every input widget in this screenshot (text boxes, dropdowns, checkboxes, radio buttons, date pickers).
Reply with JSON only: {"boxes": [{"type": "textbox|dropdown|checkbox|radio|date", "x": <left>, "y": <top>}]}.
Coordinates are pixels of this image, top-left corner of each widget.`

	textPrompt = `Read every visible text label in this screenshot.
Reply with JSON only: {"texts": [{"text": "...", "x": <left>, "y": <top>, "width": <w>, "height": <h>}]}.
Coordinates are pixels of this image.`

	// dedupeRadius merges hits reported twice by overlapping tiles.
	dedupeRadius = 6
)

// VisionClient implements interfaces.Detector over an OpenAI-compatible
// chat completions endpoint.
type VisionClient struct {
	apiKey     string
	baseURL    string
	model      string
	client     *http.Client
	logger     *logrus.Logger
	tileHeight int
	overlap    int
	maxWidth   uint
	clickShift int
}

// VisionOption configures a VisionClient.
type VisionOption func(*VisionClient)

// WithHTTPClient replaces the default client.
func WithHTTPClient(hc *http.Client) VisionOption {
	return func(c *VisionClient) { c.client = hc }
}

// WithTiling splits captures taller than height into overlapping strips.
func WithTiling(height, overlap int) VisionOption {
	return func(c *VisionClient) { c.tileHeight, c.overlap = height, overlap }
}

// WithMaxWidth downsizes wider tiles before upload; coordinates are mapped
// back to capture pixels.
func WithMaxWidth(w uint) VisionOption {
	return func(c *VisionClient) { c.maxWidth = w }
}

// WithClickShift moves reported widget corners inward by px so a click lands
// inside the widget rather than on its border.
func WithClickShift(px int) VisionOption {
	return func(c *VisionClient) { c.clickShift = px }
}

// NewVisionClient returns a detector for model at baseURL.
func NewVisionClient(apiKey, baseURL, model string, logger *logrus.Logger, opts ...VisionOption) (*VisionClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is not set")
	}
	if model == "" {
		model = "gpt-4o"
	}
	c := &VisionClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		client:     &http.Client{Timeout: 120 * time.Second},
		logger:     logger,
		tileHeight: 1600,
		overlap:    120,
		maxWidth:   2048,
		clickShift: 10,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var _ interfaces.Detector = (*VisionClient)(nil)

// DetectBoundingBoxes implements interfaces.Detector.
func (c *VisionClient) DetectBoundingBoxes(ctx context.Context, img image.Image) ([]entities.BoundingBox, error) {
	var out []entities.BoundingBox
	err := c.eachTile(ctx, img, boxesPrompt, func(t tile, reply string) error {
		var parsed struct {
			Boxes []entities.BoundingBox `json:"boxes"`
		}
		if err := json.Unmarshal([]byte(extractJSON(reply)), &parsed); err != nil {
			return fmt.Errorf("failed to parse boxes: %w", err)
		}
		for _, b := range parsed.Boxes {
			b.X, b.Y = t.toCapture(b.X, b.Y)
			b.X += c.clickShift
			b.Y += c.clickShift
			if !containsBox(out, b) {
				out = append(out, b)
			}
		}
		return nil
	})
	return out, err
}

// DetectTextRegions implements interfaces.Detector.
func (c *VisionClient) DetectTextRegions(ctx context.Context, img image.Image) ([]entities.TextRegion, error) {
	var out []entities.TextRegion
	err := c.eachTile(ctx, img, textPrompt, func(t tile, reply string) error {
		var parsed struct {
			Texts []entities.TextRegion `json:"texts"`
		}
		if err := json.Unmarshal([]byte(extractJSON(reply)), &parsed); err != nil {
			return fmt.Errorf("failed to parse text regions: %w", err)
		}
		for _, r := range parsed.Texts {
			if strings.TrimSpace(r.Text) == "" {
				continue
			}
			r.X, r.Y = t.toCapture(r.X, r.Y)
			r.Width = int(float64(r.Width) * t.factor)
			r.Height = int(float64(r.Height) * t.factor)
			if !containsText(out, r) {
				out = append(out, r)
			}
		}
		return nil
	})
	return out, err
}

// tile is one uploaded strip: its origin in the capture and the factor from
// uploaded pixels back to capture pixels.
type tile struct {
	img     image.Image
	originY int
	factor  float64
}

func (t tile) toCapture(x, y int) (int, int) {
	return int(float64(x) * t.factor), t.originY + int(float64(y)*t.factor)
}

func (c *VisionClient) tiles(img image.Image) []tile {
	b := img.Bounds()
	h := b.Dy()
	step := h
	if c.tileHeight > 0 && h > c.tileHeight {
		step = c.tileHeight - c.overlap
		if step <= 0 {
			step = c.tileHeight
		}
	}

	var out []tile
	for y := 0; y < h; y += step {
		bottom := y + step + c.overlap
		if step == h || bottom > h {
			bottom = h
		}
		strip := image.NewRGBA(image.Rect(0, 0, b.Dx(), bottom-y))
		draw.Draw(strip, strip.Bounds(), img, image.Pt(b.Min.X, b.Min.Y+y), draw.Src)

		t := tile{img: strip, originY: y, factor: 1}
		if c.maxWidth > 0 && uint(b.Dx()) > c.maxWidth {
			t.img = resize.Resize(c.maxWidth, 0, strip, resize.Bilinear)
			t.factor = float64(b.Dx()) / float64(t.img.Bounds().Dx())
		}
		out = append(out, t)
		if bottom == h {
			break
		}
	}
	return out
}

func (c *VisionClient) eachTile(ctx context.Context, img image.Image, prompt string, fn func(tile, string) error) error {
	if img == nil || img.Bounds().Empty() {
		return fmt.Errorf("%w: empty capture", entities.ErrUnreadableImage)
	}
	tiles := c.tiles(img)
	for i, t := range tiles {
		reply, err := c.callAPI(ctx, prompt, t.img)
		if err != nil {
			return fmt.Errorf("tile %d/%d: %w", i+1, len(tiles), err)
		}
		if err := fn(t, reply); err != nil {
			return fmt.Errorf("tile %d/%d: %w", i+1, len(tiles), err)
		}
	}
	c.logger.WithFields(logrus.Fields{"tiles": len(tiles), "model": c.model}).Debug("Vision request done")
	return nil
}

func (c *VisionClient) callAPI(ctx context.Context, prompt string, img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	requestBody := map[string]interface{}{
		"model": c.model,
		"messages": []Message{
			{
				Role:    "system",
				Content: "You locate user interface elements in screenshots. Always respond with valid JSON.",
			},
			{
				Role: "user",
				Content: []ContentPart{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageURL: &ImageURL{URL: dataURL, Detail: "high"}},
				},
			},
		},
		"temperature":     0,
		"response_format": map[string]string{"type": "json_object"},
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	var apiResponse APIResponse
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return "", err
	}
	if len(apiResponse.Choices) == 0 {
		return "", fmt.Errorf("no response from API")
	}
	return apiResponse.Choices[0].Message.Content, nil
}

// extractJSON strips markdown fences and surrounding prose from a reply.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		var jsonLines []string
		inCodeBlock := false
		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				if inCodeBlock {
					break
				}
				inCodeBlock = true
				continue
			}
			if inCodeBlock {
				jsonLines = append(jsonLines, line)
			}
		}
		if len(jsonLines) > 0 {
			return strings.Join(jsonLines, "\n")
		}
	}

	startIdx := strings.Index(text, "{")
	endIdx := strings.LastIndex(text, "}")
	if startIdx != -1 && endIdx > startIdx {
		return text[startIdx : endIdx+1]
	}
	return text
}

func near(ax, ay, bx, by int) bool {
	return abs(ax-bx) <= dedupeRadius && abs(ay-by) <= dedupeRadius
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func containsBox(list []entities.BoundingBox, b entities.BoundingBox) bool {
	for _, o := range list {
		if o.Type == b.Type && near(o.X, o.Y, b.X, b.Y) {
			return true
		}
	}
	return false
}

func containsText(list []entities.TextRegion, r entities.TextRegion) bool {
	for _, o := range list {
		if o.Text == r.Text && near(o.X, o.Y, r.X, r.Y) {
			return true
		}
	}
	return false
}

type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type APIResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}
