package entities

// Position is a point in logical screen space.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// TextRegion is one OCR hit in capture pixels.
type TextRegion struct {
	Text   string `json:"text"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// BoundingBox is one detected input widget in capture pixels (top-left).
type BoundingBox struct {
	Type string `json:"type"` // textbox, dropdown, checkbox, ...
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

// LabelCandidate is a text label by its top-left corner.
type LabelCandidate struct {
	Text string `json:"text"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

// FieldAnchor is a detected input widget by its top-left corner.
type FieldAnchor struct {
	Type string `json:"type"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

// Association pairs a label with the field it describes.
type Association struct {
	Label     string `json:"label"`
	FieldType string `json:"field_type"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
}
