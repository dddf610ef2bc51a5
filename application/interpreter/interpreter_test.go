package interpreter

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"reflect"
	"testing"
	"time"

	"screenfill/application/locator"
	"screenfill/domain/entities"
	"screenfill/infrastructure/simulator"

	"github.com/sirupsen/logrus"
)

type fakeSite struct {
	templates map[string]*entities.ReferenceTemplate // "page/name"
	options   map[string]entities.SelectionOptions
}

func (s *fakeSite) Template(page, name string) (*entities.ReferenceTemplate, error) {
	if t, ok := s.templates[page+"/"+name]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%s/%s: %w", page, name, fs.ErrNotExist)
}

func (s *fakeSite) SelectionOptions(page, field string) (entities.SelectionOptions, error) {
	if o, ok := s.options[field]; ok {
		return o, nil
	}
	return nil, fmt.Errorf("%s/%s.json: %w", page, field, fs.ErrNotExist)
}

type recorder struct {
	updates []string
}

func (r *recorder) SetState(entities.OverlayState) {}
func (r *recorder) Update(msg string)              { r.updates = append(r.updates, msg) }

func newInterpreter(t *testing.T, site *fakeSite, opts ...Option) (*Interpreter, *simulator.Desktop, *[]time.Duration) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	desk := simulator.New(simulator.Texture(120, 300, 3, 8), 120, 90, simulator.Options{}, logger)
	if site == nil {
		site = &fakeSite{}
	}
	var slept []time.Duration
	opts = append([]Option{WithSleep(func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})}, opts...)
	settings := Settings{Modifier: "ctrl", PollInterval: time.Millisecond, PollRetries: 3}
	return New(desk, locator.New(desk, logger), site, settings, logger, opts...), desk, &slept
}

func step(action entities.ActionName, params map[string]interface{}, body ...entities.ActionStep) entities.ActionStep {
	return entities.ActionStep{Action: action, Params: params, Steps: body}
}

func events(desk *simulator.Desktop) []string {
	var out []string
	for _, e := range desk.Events() {
		out = append(out, e.String())
	}
	return out
}

func TestTextBinding(t *testing.T) {
	tests := []struct {
		name  string
		value entities.FieldValue
		step  entities.ActionStep
		want  string
	}{
		{"literal wins", entities.Scalar("ignored"), step(entities.ActionType, map[string]interface{}{"text": "literal"}), "literal"},
		{"scalar", entities.Scalar("Smith"), step(entities.ActionType, nil), "Smith"},
		{
			"mapping key",
			entities.Mapping(map[string]string{"last_name": "Doe", "birth_date": "01011990"}),
			step(entities.ActionType, map[string]interface{}{"text_key": "last_name"}),
			"Doe",
		},
		{"tuple index", entities.List("A1", "B2"), step(entities.ActionType, map[string]interface{}{"tuple_index": 1}), "B2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, desk, _ := newInterpreter(t, nil)
			_, err := in.Execute(context.Background(), Job{Field: "f", Value: tt.value, Recipe: entities.Recipe{tt.step}})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			typed := desk.EventsOf("type")
			if len(typed) != 1 || typed[0].Text != tt.want {
				t.Errorf("expected to type %q, got %v", tt.want, typed)
			}
		})
	}
}

func TestTextBindingErrors(t *testing.T) {
	tests := []struct {
		name  string
		value entities.FieldValue
		step  entities.ActionStep
	}{
		{"missing key", entities.Mapping(map[string]string{"a": "1"}), step(entities.ActionType, map[string]interface{}{"text_key": "b"})},
		{"index out of range", entities.List("x"), step(entities.ActionType, map[string]interface{}{"tuple_index": 3})},
		{"tuples outside loop", entities.Tuples([]string{"a"}), step(entities.ActionType, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, _, _ := newInterpreter(t, nil)
			_, err := in.Execute(context.Background(), Job{Field: "f", Value: tt.value, Recipe: entities.Recipe{tt.step}})
			if !errors.Is(err, entities.ErrBinding) {
				t.Errorf("expected ErrBinding, got %v", err)
			}
		})
	}
}

func TestTupleLoopSkipsTrailingStepsOnLastPass(t *testing.T) {
	in, desk, _ := newInterpreter(t, nil)
	recipe := entities.Recipe{
		step(entities.ActionLoopTupleArray, map[string]interface{}{"skip_in_last_loop": 1},
			step(entities.ActionType, map[string]interface{}{"tuple_index": 0}),
			step(entities.ActionType, map[string]interface{}{"tuple_index": 1}),
			step(entities.ActionPress, map[string]interface{}{"key": "tab"}),
		),
	}
	value := entities.Tuples([]string{"99213", "1"}, []string{"99214", "2"})

	out, err := in.Execute(context.Background(), Job{Field: "procedures", Value: value, Recipe: recipe})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"type(99213)", "type(1)", "press(tab,1)", "type(99214)", "type(2)"}
	if got := events(desk); !reflect.DeepEqual(got, want) {
		t.Errorf("events mismatch:\n got %v\nwant %v", got, want)
	}
	if out.Steps != 5 {
		t.Errorf("expected 5 steps, got %d", out.Steps)
	}
}

func TestArrayLoopBindsEachElement(t *testing.T) {
	in, desk, _ := newInterpreter(t, nil)
	recipe := entities.Recipe{
		step(entities.ActionLoopArray, map[string]interface{}{"skip_in_last_loop": 1},
			step(entities.ActionType, nil),
			step(entities.ActionPress, map[string]interface{}{"key": "enter"}),
		),
	}
	_, err := in.Execute(context.Background(), Job{Field: "diagnoses", Value: entities.List("J01", "J02", "J03"), Recipe: recipe})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"type(J01)", "press(enter,1)", "type(J02)", "press(enter,1)", "type(J03)"}
	if got := events(desk); !reflect.DeepEqual(got, want) {
		t.Errorf("events mismatch:\n got %v\nwant %v", got, want)
	}
}

func TestLoopElementOverridesLiteralText(t *testing.T) {
	tests := []struct {
		name   string
		action entities.ActionName
		value  entities.FieldValue
		params map[string]interface{}
		want   []string
	}{
		{
			"array",
			entities.ActionLoopArray,
			entities.List("J01", "J02"),
			map[string]interface{}{"text": "PLACEHOLDER"},
			[]string{"type(J01)", "type(J02)"},
		},
		{
			"tuples",
			entities.ActionLoopTupleArray,
			entities.Tuples([]string{"99213", "1"}, []string{"99214", "2"}),
			map[string]interface{}{"text": "PLACEHOLDER", "tuple_index": 1},
			[]string{"type(1)", "type(2)"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, desk, _ := newInterpreter(t, nil)
			recipe := entities.Recipe{step(tt.action, nil, step(entities.ActionType, tt.params))}
			if _, err := in.Execute(context.Background(), Job{Field: "f", Value: tt.value, Recipe: recipe}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := events(desk); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("events mismatch: got %v want %v", got, tt.want)
			}
		})
	}
}

func TestNestedLoopRejected(t *testing.T) {
	in, _, _ := newInterpreter(t, nil)
	recipe := entities.Recipe{
		step(entities.ActionLoopArray, nil,
			step(entities.ActionLoopArray, nil, step(entities.ActionType, nil)),
		),
	}
	_, err := in.Execute(context.Background(), Job{Field: "f", Value: entities.List("a"), Recipe: recipe})
	if !errors.Is(err, entities.ErrInvalidRecipe) {
		t.Errorf("expected ErrInvalidRecipe, got %v", err)
	}
}

func TestSelectionMarkerResolvesPress(t *testing.T) {
	site := &fakeSite{options: map[string]entities.SelectionOptions{
		"relationship": {"Self": {Key: "S", Repeat: 1}, "Spouse": {Key: "S", Repeat: 2}},
	}}
	in, desk, _ := newInterpreter(t, site)
	recipe := entities.Recipe{
		step(entities.ActionHotkey, map[string]interface{}{"keys": []interface{}{"home"}}),
		step(entities.ActionCheckSelection, nil),
		step(entities.ActionPress, map[string]interface{}{"key": "down"}),
	}
	out, err := in.Execute(context.Background(), Job{Field: "relationship", Value: entities.Scalar("Spouse"), Recipe: recipe})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	presses := desk.EventsOf("press")
	if len(presses) != 1 || presses[0].Keys[0] != "S" || presses[0].Count != 2 {
		t.Errorf("expected S pressed twice, got %v", presses)
	}
	if out.Steps != 2 {
		t.Errorf("expected marker not to count as a step, got %d", out.Steps)
	}
}

func TestSelectionMarkerInTupleLoop(t *testing.T) {
	site := &fakeSite{options: map[string]entities.SelectionOptions{
		"dependents": {"Self": {Key: "S", Repeat: 1}, "Child": {Key: "C", Repeat: 1}},
	}}
	in, desk, _ := newInterpreter(t, site)
	recipe := entities.Recipe{
		step(entities.ActionLoopTupleArray, nil,
			step(entities.ActionCheckSelection, nil),
			step(entities.ActionPress, map[string]interface{}{"tuple_index": 0}),
			step(entities.ActionType, map[string]interface{}{"tuple_index": 1}),
		),
	}
	value := entities.Tuples([]string{"Self", "1"}, []string{"Child", "2"})
	if _, err := in.Execute(context.Background(), Job{Field: "dependents", Value: value, Recipe: recipe}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"press(S,1)", "type(1)", "press(C,1)", "type(2)"}
	if got := events(desk); !reflect.DeepEqual(got, want) {
		t.Errorf("events mismatch: got %v want %v", got, want)
	}
}

func TestSelectionLookupMiss(t *testing.T) {
	site := &fakeSite{options: map[string]entities.SelectionOptions{"relationship": {"Self": {Key: "S", Repeat: 1}}}}
	in, desk, _ := newInterpreter(t, site)
	recipe := entities.Recipe{
		step(entities.ActionCheckSelection, nil),
		step(entities.ActionPress, nil),
	}
	_, err := in.Execute(context.Background(), Job{Field: "relationship", Value: entities.Scalar("Child"), Recipe: recipe})
	if !errors.Is(err, entities.ErrSelectionLookup) {
		t.Fatalf("expected ErrSelectionLookup, got %v", err)
	}
	var se *entities.StepError
	if !errors.As(err, &se) || se.Field != "relationship" || se.StepIndex != 1 {
		t.Errorf("expected step error on relationship step 1, got %v", err)
	}
	if len(desk.Events()) != 0 {
		t.Errorf("expected no input, got %v", events(desk))
	}
}

func TestSelectionMarkerMustPrecedePress(t *testing.T) {
	site := &fakeSite{options: map[string]entities.SelectionOptions{"sex": {"F": {Key: "F", Repeat: 1}}}}
	tests := []entities.Recipe{
		{step(entities.ActionCheckSelection, nil), step(entities.ActionClick, nil)},
		{step(entities.ActionCheckSelection, nil)},
	}
	for n, recipe := range tests {
		in, _, _ := newInterpreter(t, site)
		_, err := in.Execute(context.Background(), Job{Field: "sex", Value: entities.Scalar("F"), Recipe: recipe})
		if !errors.Is(err, entities.ErrInvalidRecipe) {
			t.Errorf("case %d: expected ErrInvalidRecipe, got %v", n, err)
		}
	}
}

func TestUnknownActionAbortsField(t *testing.T) {
	in, desk, _ := newInterpreter(t, nil)
	recipe := entities.Recipe{
		step(entities.ActionClick, nil),
		step("double_tap", nil),
		step(entities.ActionClick, nil),
	}
	_, err := in.Execute(context.Background(), Job{Field: "f", Value: entities.Scalar("x"), Recipe: recipe})
	if !errors.Is(err, entities.ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
	if n := len(desk.EventsOf("click")); n != 1 {
		t.Errorf("expected 1 click before abort, got %d", n)
	}
}

func TestEmptyRecipe(t *testing.T) {
	in, _, _ := newInterpreter(t, nil)
	_, err := in.Execute(context.Background(), Job{Field: "f"})
	if !errors.Is(err, entities.ErrMissingRecipe) {
		t.Errorf("expected ErrMissingRecipe, got %v", err)
	}
}

func TestHotkeyModifierPlaceholder(t *testing.T) {
	in, desk, _ := newInterpreter(t, nil)
	recipe := entities.Recipe{
		step(entities.ActionHotkey, map[string]interface{}{"keys": []interface{}{entities.ModifierKeyPlaceholder, "A"}}),
		step(entities.ActionReleaseModifiers, nil),
	}
	if _, err := in.Execute(context.Background(), Job{Field: "f", Value: entities.Scalar(""), Recipe: recipe}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"chord(ctrl+a)", "release"}
	if got := events(desk); !reflect.DeepEqual(got, want) {
		t.Errorf("events mismatch: got %v want %v", got, want)
	}
}

func TestPlatformModifier(t *testing.T) {
	if PlatformModifier("darwin") != "command" || PlatformModifier("linux") != "ctrl" || PlatformModifier("windows") != "ctrl" {
		t.Error("unexpected platform modifier")
	}
}

func TestMoveUsesFieldTargetThenParams(t *testing.T) {
	in, desk, _ := newInterpreter(t, nil)
	recipe := entities.Recipe{step(entities.ActionMove, map[string]interface{}{"x": 1, "y": 2})}

	if _, err := in.Execute(context.Background(), Job{Field: "f", Target: &entities.Position{X: 30, Y: 40}, Recipe: recipe}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := in.Execute(context.Background(), Job{Field: "g", Recipe: recipe}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"move(30,40)", "move(1,2)"}
	if got := events(desk); !reflect.DeepEqual(got, want) {
		t.Errorf("events mismatch: got %v want %v", got, want)
	}

	_, err := in.Execute(context.Background(), Job{Field: "h", Recipe: entities.Recipe{step(entities.ActionMove, nil)}})
	if !errors.Is(err, entities.ErrBinding) {
		t.Errorf("expected ErrBinding without target, got %v", err)
	}
}

func TestWaitForTemplateRetargetsMove(t *testing.T) {
	popup := simulator.Texture(30, 20, 3, 42)
	site := &fakeSite{templates: map[string]*entities.ReferenceTemplate{
		"/select_button": {Name: "select_button", Image: popup},
	}}
	in, desk, _ := newInterpreter(t, site)
	desk.ShowOverlay(popup, image.Pt(50, 40), 1)

	recipe := entities.Recipe{
		step(entities.ActionMove, nil),
		step(entities.ActionClick, nil),
		step(entities.ActionWaitForTemplate, map[string]interface{}{"template_name": "select_button"}),
		step(entities.ActionMove, nil),
	}
	_, err := in.Execute(context.Background(), Job{Page: "insurance", Field: "payer", Target: &entities.Position{X: 10, Y: 10}, Recipe: recipe})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	moves := desk.EventsOf("move")
	if len(moves) != 2 || moves[0].X != 10 || moves[1].X != 65 || moves[1].Y != 50 {
		t.Errorf("expected moves to (10,10) then (65,50), got %v", moves)
	}
}

func TestWaitForTemplateFailureAborts(t *testing.T) {
	site := &fakeSite{templates: map[string]*entities.ReferenceTemplate{
		"billing/popup": {Name: "popup", Image: simulator.Texture(24, 24, 3, 77)},
	}}
	in, desk, _ := newInterpreter(t, site)
	recipe := entities.Recipe{
		step(entities.ActionWaitForTemplate, map[string]interface{}{"template_name": "popup", "retries": 2}),
		step(entities.ActionClick, nil),
	}
	_, err := in.Execute(context.Background(), Job{Page: "billing", Field: "payer", Recipe: recipe})
	if !errors.Is(err, entities.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
	if desk.Captures() != 2 {
		t.Errorf("expected 2 polls, got %d", desk.Captures())
	}
	if len(desk.EventsOf("click")) != 0 {
		t.Error("expected no click after failed wait")
	}
}

func TestWaitAndScroll(t *testing.T) {
	in, desk, slept := newInterpreter(t, nil)
	recipe := entities.Recipe{
		step(entities.ActionWait, map[string]interface{}{"seconds": 1.5}),
		step(entities.ActionScroll, map[string]interface{}{"clicks": -3}),
		step(entities.ActionWait, nil),
	}
	out, err := in.Execute(context.Background(), Job{Field: "f", Recipe: recipe})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(*slept, []time.Duration{1500 * time.Millisecond, time.Second}) {
		t.Errorf("unexpected sleeps %v", *slept)
	}
	if out.Scrolled != -3 || desk.OffsetClicks() != 3 {
		t.Errorf("expected 3 clicks down, outcome %d desk %d", out.Scrolled, desk.OffsetClicks())
	}
}

func TestPlatformFailureIsWrapped(t *testing.T) {
	in, desk, _ := newInterpreter(t, nil)
	desk.FailOn("click", errors.New("input device gone"))
	_, err := in.Execute(context.Background(), Job{Field: "f", Recipe: entities.Recipe{step(entities.ActionClick, nil)}})
	if !errors.Is(err, entities.ErrPlatform) {
		t.Errorf("expected ErrPlatform, got %v", err)
	}
}

func TestStatusUpdates(t *testing.T) {
	rec := &recorder{}
	in, _, _ := newInterpreter(t, nil, WithStatus(rec))
	recipe := entities.Recipe{step(entities.ActionClick, nil), step(entities.ActionType, nil)}
	if _, err := in.Execute(context.Background(), Job{Field: "city", Value: entities.Scalar("Austin"), Recipe: recipe}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"city: click", "city: type"}
	if !reflect.DeepEqual(rec.updates, want) {
		t.Errorf("got %v want %v", rec.updates, want)
	}
}
