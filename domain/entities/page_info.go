package entities

// ScrollAnchor locates one field on a scrollable page. X and Y are valid only
// while the page is scrolled exactly ScrollOffset clicks from the top.
type ScrollAnchor struct {
	FieldID      string `json:"field_id"`
	ScrollOffset int    `json:"scroll_offset"`
	X            int    `json:"x"`
	Y            int    `json:"y"`
}

// PageState is the mutable session state of one orchestrator run.
type PageState struct {
	CurrentPage  string
	ScrollOffset int // clicks from the top
	ScrollExtent int // total clicks from top to footer, 0 if unmeasured

	anchors map[string]ScrollAnchor
	order   []string
}

// NewPageState returns an empty state positioned at the top of page.
func NewPageState(page string) *PageState {
	return &PageState{
		CurrentPage: page,
		anchors:     make(map[string]ScrollAnchor),
	}
}

// Reset switches to page and drops everything cached for the previous one.
func (s *PageState) Reset(page string) {
	s.CurrentPage = page
	s.ScrollOffset = 0
	s.ScrollExtent = 0
	s.ClearAnchors()
}

// ClearAnchors forgets all recorded anchors.
func (s *PageState) ClearAnchors() {
	s.anchors = make(map[string]ScrollAnchor)
	s.order = nil
}

// Record stores an anchor. The first anchor recorded for a field wins.
func (s *PageState) Record(a ScrollAnchor) bool {
	if s.anchors == nil {
		s.anchors = make(map[string]ScrollAnchor)
	}
	if _, ok := s.anchors[a.FieldID]; ok {
		return false
	}
	s.anchors[a.FieldID] = a
	s.order = append(s.order, a.FieldID)
	return true
}

// Anchor returns the recorded anchor for a field.
func (s *PageState) Anchor(fieldID string) (ScrollAnchor, bool) {
	a, ok := s.anchors[fieldID]
	return a, ok
}

// Has reports whether a field has been discovered.
func (s *PageState) Has(fieldID string) bool {
	_, ok := s.anchors[fieldID]
	return ok
}

// DiscoveryOrder lists discovered fields in the order they were found.
func (s *PageState) DiscoveryOrder() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len is the number of discovered fields.
func (s *PageState) Len() int {
	return len(s.order)
}
