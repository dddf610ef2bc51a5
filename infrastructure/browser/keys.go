package browser

import (
	"fmt"
	"strings"
	"unicode"
)

// keySpec describes one key as DOM input events see it.
type keySpec struct {
	key  string // KeyboardEvent.key
	code string // KeyboardEvent.code
	vk   int64  // Windows virtual key code, used by CDP
}

var namedKeys = map[string]keySpec{
	"enter":     {"Enter", "Enter", 13},
	"return":    {"Enter", "Enter", 13},
	"tab":       {"Tab", "Tab", 9},
	"esc":       {"Escape", "Escape", 27},
	"escape":    {"Escape", "Escape", 27},
	"backspace": {"Backspace", "Backspace", 8},
	"delete":    {"Delete", "Delete", 46},
	"del":       {"Delete", "Delete", 46},
	"insert":    {"Insert", "Insert", 45},
	"space":     {" ", "Space", 32},
	"up":        {"ArrowUp", "ArrowUp", 38},
	"down":      {"ArrowDown", "ArrowDown", 40},
	"left":      {"ArrowLeft", "ArrowLeft", 37},
	"right":     {"ArrowRight", "ArrowRight", 39},
	"home":      {"Home", "Home", 36},
	"end":       {"End", "End", 35},
	"pageup":    {"PageUp", "PageUp", 33},
	"pagedown":  {"PageDown", "PageDown", 34},
	"shift":     {"Shift", "ShiftLeft", 16},
	"ctrl":      {"Control", "ControlLeft", 17},
	"control":   {"Control", "ControlLeft", 17},
	"alt":       {"Alt", "AltLeft", 18},
	"option":    {"Alt", "AltLeft", 18},
	"command":   {"Meta", "MetaLeft", 91},
	"cmd":       {"Meta", "MetaLeft", 91},
	"meta":      {"Meta", "MetaLeft", 91},
	"win":       {"Meta", "MetaLeft", 91},
}

func init() {
	for i := 1; i <= 12; i++ {
		name := fmt.Sprintf("F%d", i)
		namedKeys[strings.ToLower(name)] = keySpec{name, name, int64(111 + i)}
	}
}

// modifierKeys are released by ReleaseAllModifiers on every backend.
var modifierKeys = []string{"Shift", "Control", "Alt", "Meta"}

// lookupKey maps a recipe key name ("tab", "ctrl", "a") to its DOM form.
func lookupKey(name string) (keySpec, error) {
	if k, ok := namedKeys[strings.ToLower(strings.TrimSpace(name))]; ok {
		return k, nil
	}
	r := []rune(name)
	if len(r) != 1 {
		return keySpec{}, fmt.Errorf("unknown key %q", name)
	}
	c := r[0]
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		up := unicode.ToUpper(c)
		return keySpec{string(c), "Key" + string(up), int64(up)}, nil
	case c >= '0' && c <= '9':
		return keySpec{string(c), "Digit" + string(c), int64(c)}, nil
	}
	return keySpec{key: string(c)}, nil
}

func isModifier(k keySpec) bool {
	for _, m := range modifierKeys {
		if k.key == m {
			return true
		}
	}
	return false
}
