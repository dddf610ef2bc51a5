package fieldcache

import (
	"context"
	"fmt"
	"image"
	"io"
	"io/fs"
	"reflect"
	"testing"

	"screenfill/application/locator"
	"screenfill/domain/entities"
	"screenfill/infrastructure/simulator"

	"github.com/sirupsen/logrus"
)

type templateMap map[string]*entities.ReferenceTemplate

func (m templateMap) Template(page, name string) (*entities.ReferenceTemplate, error) {
	if t, ok := m[name]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("template %s/%s: %w", page, name, fs.ErrNotExist)
}

type fixture struct {
	desk      *simulator.Desktop
	cache     *Cache
	state     *entities.PageState
	templates templateMap
}

// newFixture builds a 200x600 page seen through a 200x150 viewport, 5px per
// wheel click. last_name is visible at the top, city only from offset 15 and
// the footer only from offset 28.
func newFixture(t *testing.T, settings Settings) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	desk := simulator.New(simulator.Texture(200, 600, 4, 21), 200, 150, simulator.Options{Scale: 2, PixelsPerClick: 5}, logger)
	other := simulator.New(simulator.Texture(100, 100, 4, 903), 100, 100, simulator.Options{Scale: 2}, logger)
	templates := templateMap{
		"last_name": desk.Template("last_name", image.Rect(20, 10, 60, 34)),
		"city":      desk.Template("city", image.Rect(100, 200, 140, 224)),
		"footer":    desk.Template("footer", image.Rect(40, 260, 120, 290)),
		"nowhere":   other.Template("nowhere", image.Rect(10, 10, 50, 34)),
	}
	settings.Settle = 0
	cache := New(locator.New(desk, logger), desk, templates, settings, logger)
	return &fixture{desk: desk, cache: cache, state: entities.NewPageState("Address"), templates: templates}
}

func netScroll(desk *simulator.Desktop) int {
	total := 0
	for _, e := range desk.EventsOf("scroll") {
		total += e.Count
	}
	return total
}

func TestMeasureScrollExtent(t *testing.T) {
	f := newFixture(t, DefaultSettings)
	ctx := context.Background()

	extent, err := f.cache.MeasureScrollExtent(ctx, f.state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if extent != 30 {
		t.Errorf("expected extent 30, got %d", extent)
	}
	if f.state.ScrollExtent != 30 {
		t.Errorf("expected state extent 30, got %d", f.state.ScrollExtent)
	}
	if f.state.ScrollOffset != 0 || f.desk.OffsetClicks() != 0 {
		t.Errorf("expected page back at top, state %d desk %d", f.state.ScrollOffset, f.desk.OffsetClicks())
	}
	if n := netScroll(f.desk); n != 0 {
		t.Errorf("expected scrolls to cancel out, net %d", n)
	}
	if p := f.desk.Pointer(); p != image.Pt(100, 75) {
		t.Errorf("expected pointer parked at centre, got %v", p)
	}
}

func TestMeasureScrollExtentCapsWhenFooterMissing(t *testing.T) {
	settings := DefaultSettings
	settings.MaxScroll = 20
	settings.FooterLandmark = "nowhere"
	f := newFixture(t, settings)

	extent, err := f.cache.MeasureScrollExtent(context.Background(), f.state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if extent != 20 {
		t.Errorf("expected capped extent 20, got %d", extent)
	}
	if f.desk.OffsetClicks() != 0 {
		t.Errorf("expected page at top, got %d", f.desk.OffsetClicks())
	}
}

func TestMeasureScrollExtentWithoutFooterTemplate(t *testing.T) {
	settings := DefaultSettings
	settings.FooterLandmark = "absent"
	f := newFixture(t, settings)

	if _, err := f.cache.MeasureScrollExtent(context.Background(), f.state); err == nil {
		t.Fatal("expected error for missing footer landmark")
	}
}

func TestDiscoverRecordsAnchors(t *testing.T) {
	f := newFixture(t, DefaultSettings)
	ctx := context.Background()
	if _, err := f.cache.MeasureScrollExtent(ctx, f.state); err != nil {
		t.Fatalf("measure: %v", err)
	}
	f.desk.ResetEvents()

	found, missing, err := f.cache.Discover(ctx, f.state, []string{"city", "last_name", "nowhere", "unknown"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]entities.ScrollAnchor{
		"last_name": {FieldID: "last_name", ScrollOffset: 0, X: 40, Y: 22},
		"city":      {FieldID: "city", ScrollOffset: 15, X: 120, Y: 137},
	}
	if !reflect.DeepEqual(found, want) {
		t.Errorf("anchors mismatch:\n got %+v\nwant %+v", found, want)
	}
	if !reflect.DeepEqual(missing, []string{"unknown", "nowhere"}) {
		t.Errorf("expected missing [unknown nowhere], got %v", missing)
	}
	if order := f.state.DiscoveryOrder(); !reflect.DeepEqual(order, []string{"last_name", "city"}) {
		t.Errorf("expected discovery order [last_name city], got %v", order)
	}
	if f.state.ScrollOffset != 0 || f.desk.OffsetClicks() != 0 {
		t.Errorf("expected page back at top, state %d desk %d", f.state.ScrollOffset, f.desk.OffsetClicks())
	}
	if n := netScroll(f.desk); n != 0 {
		t.Errorf("expected scrolls to cancel out, net %d", n)
	}
}

func TestDiscoverStopsWhenAllFound(t *testing.T) {
	f := newFixture(t, DefaultSettings)
	f.state.ScrollExtent = 30

	if _, _, err := f.cache.Discover(context.Background(), f.state, []string{"city"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// offsets 0, 5, 10, 15
	if f.desk.Captures() != 4 {
		t.Errorf("expected 4 captures, got %d", f.desk.Captures())
	}
}

func TestDiscoverEmptyRequiredSet(t *testing.T) {
	f := newFixture(t, DefaultSettings)
	f.state.ScrollExtent = 30

	found, missing, err := f.cache.Discover(context.Background(), f.state, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 0 || len(missing) != 0 {
		t.Errorf("expected nothing, got %v %v", found, missing)
	}
	if len(f.desk.Events()) != 0 || f.desk.Captures() != 0 {
		t.Errorf("expected no input or captures, got %v and %d captures", f.desk.Events(), f.desk.Captures())
	}
}

func TestResolveRestoresOffsetOnce(t *testing.T) {
	f := newFixture(t, DefaultSettings)
	ctx := context.Background()
	f.state.ScrollExtent = 30
	if _, _, err := f.cache.Discover(ctx, f.state, []string{"last_name", "city"}); err != nil {
		t.Fatalf("discover: %v", err)
	}
	f.desk.ResetEvents()

	pos, ok, err := f.cache.Resolve(ctx, f.state, "city")
	if err != nil || !ok {
		t.Fatalf("resolve city: ok=%v err=%v", ok, err)
	}
	if pos != (entities.Position{X: 120, Y: 137}) {
		t.Errorf("unexpected city position %+v", pos)
	}
	if f.desk.OffsetClicks() != 15 {
		t.Errorf("expected desk at offset 15, got %d", f.desk.OffsetClicks())
	}

	scrolls := len(f.desk.EventsOf("scroll"))
	if _, _, err := f.cache.Resolve(ctx, f.state, "city"); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if len(f.desk.EventsOf("scroll")) != scrolls {
		t.Error("expected second resolve at the same offset to not scroll")
	}

	if _, _, err := f.cache.Resolve(ctx, f.state, "last_name"); err != nil {
		t.Fatalf("resolve last_name: %v", err)
	}
	if f.desk.OffsetClicks() != 0 || f.state.ScrollOffset != 0 {
		t.Errorf("expected top, desk %d state %d", f.desk.OffsetClicks(), f.state.ScrollOffset)
	}

	if _, ok, _ := f.cache.Resolve(ctx, f.state, "unknown"); ok {
		t.Error("expected unknown field to be unresolved")
	}
}

func TestResetToTop(t *testing.T) {
	f := newFixture(t, DefaultSettings)
	ctx := context.Background()
	if err := f.desk.Scroll(ctx, -40); err != nil {
		t.Fatal(err)
	}
	f.state.ScrollOffset = 17

	if err := f.cache.ResetToTop(ctx, f.state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.desk.OffsetClicks() != 0 || f.state.ScrollOffset != 0 {
		t.Errorf("expected top, desk %d state %d", f.desk.OffsetClicks(), f.state.ScrollOffset)
	}
	scrolls := f.desk.EventsOf("scroll")
	if last := scrolls[len(scrolls)-1]; last.Count != 100 {
		t.Errorf("expected a 100 click reset, got %d", last.Count)
	}
}
