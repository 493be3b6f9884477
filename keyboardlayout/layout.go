// Package keyboardlayout holds the key definitions the keyboard
// simulator resolves characters and named keys against.
package keyboardlayout

import "sync"

// KeyInput is a key name as accepted by the keyboard API: a printable
// character ("a", "@") or a named key ("Enter", "Shift", "ArrowLeft").
type KeyInput string

// KeyDefinition describes how one physical key is dispatched on the
// wire: its DOM code, key value, Windows virtual-key code, and the
// value/code produced while shift is held.
type KeyDefinition struct {
	Code         string
	Key          string
	KeyCode      int64
	ShiftKey     string
	ShiftKeyCode int64
	Text         string
	Location     int64
}

// KeyboardLayout maps key inputs to definitions. Keys is keyed by DOM
// code ("KeyA", "Enter"); ValidKeys contains every accepted KeyInput,
// including shifted values.
type KeyboardLayout struct {
	ValidKeys map[KeyInput]bool
	Keys      map[KeyInput]KeyDefinition
}

// KeyDefinition looks a definition up by key value ("a", "Enter",
// "Shift") rather than by code.
func (kl KeyboardLayout) KeyDefinition(key KeyInput) (KeyDefinition, bool) {
	for _, d := range kl.Keys {
		if d.Key == string(key) {
			return d, true
		}
	}
	return KeyDefinition{}, false
}

// ShiftKeyDefinition looks a definition up by its shifted value, so
// that e.g. "@" resolves to Digit2 with shift applied.
func (kl KeyboardLayout) ShiftKeyDefinition(key KeyInput) KeyDefinition {
	if key == "" {
		return KeyDefinition{}
	}
	for _, d := range kl.Keys {
		if d.ShiftKey == string(key) {
			return d
		}
	}
	return KeyDefinition{}
}

var (
	initOnce sync.Once
	layouts  map[string]KeyboardLayout
)

// GetKeyboardLayout returns the layout registered under name. Only
// "us" is bundled; unknown names fall back to it.
func GetKeyboardLayout(name string) KeyboardLayout {
	initOnce.Do(initLayouts)
	if l, ok := layouts[name]; ok {
		return l
	}
	return layouts["us"]
}

func initLayouts() {
	keys := map[KeyInput]KeyDefinition{
		// Alphanumeric block.
		"Backquote":    {Code: "Backquote", Key: "`", KeyCode: 192, ShiftKey: "~"},
		"Digit1":       {Code: "Digit1", Key: "1", KeyCode: 49, ShiftKey: "!"},
		"Digit2":       {Code: "Digit2", Key: "2", KeyCode: 50, ShiftKey: "@"},
		"Digit3":       {Code: "Digit3", Key: "3", KeyCode: 51, ShiftKey: "#"},
		"Digit4":       {Code: "Digit4", Key: "4", KeyCode: 52, ShiftKey: "$"},
		"Digit5":       {Code: "Digit5", Key: "5", KeyCode: 53, ShiftKey: "%"},
		"Digit6":       {Code: "Digit6", Key: "6", KeyCode: 54, ShiftKey: "^"},
		"Digit7":       {Code: "Digit7", Key: "7", KeyCode: 55, ShiftKey: "&"},
		"Digit8":       {Code: "Digit8", Key: "8", KeyCode: 56, ShiftKey: "*"},
		"Digit9":       {Code: "Digit9", Key: "9", KeyCode: 57, ShiftKey: "("},
		"Digit0":       {Code: "Digit0", Key: "0", KeyCode: 48, ShiftKey: ")"},
		"Minus":        {Code: "Minus", Key: "-", KeyCode: 189, ShiftKey: "_"},
		"Equal":        {Code: "Equal", Key: "=", KeyCode: 187, ShiftKey: "+"},
		"BracketLeft":  {Code: "BracketLeft", Key: "[", KeyCode: 219, ShiftKey: "{"},
		"BracketRight": {Code: "BracketRight", Key: "]", KeyCode: 221, ShiftKey: "}"},
		"Backslash":    {Code: "Backslash", Key: "\\", KeyCode: 220, ShiftKey: "|"},
		"Semicolon":    {Code: "Semicolon", Key: ";", KeyCode: 186, ShiftKey: ":"},
		"Quote":        {Code: "Quote", Key: "'", KeyCode: 222, ShiftKey: "\""},
		"Comma":        {Code: "Comma", Key: ",", KeyCode: 188, ShiftKey: "<"},
		"Period":       {Code: "Period", Key: ".", KeyCode: 190, ShiftKey: ">"},
		"Slash":        {Code: "Slash", Key: "/", KeyCode: 191, ShiftKey: "?"},
		"Space":        {Code: "Space", Key: " ", KeyCode: 32},

		// Control keys.
		"Backspace":    {Code: "Backspace", Key: "Backspace", KeyCode: 8},
		"Tab":          {Code: "Tab", Key: "Tab", KeyCode: 9, Text: "\t"},
		"Enter":        {Code: "Enter", Key: "Enter", KeyCode: 13, Text: "\r"},
		"Escape":       {Code: "Escape", Key: "Escape", KeyCode: 27},
		"CapsLock":     {Code: "CapsLock", Key: "CapsLock", KeyCode: 20},
		"ShiftLeft":    {Code: "ShiftLeft", Key: "Shift", KeyCode: 16, Location: 1},
		"ShiftRight":   {Code: "ShiftRight", Key: "Shift", KeyCode: 16, Location: 2},
		"ControlLeft":  {Code: "ControlLeft", Key: "Control", KeyCode: 17, Location: 1},
		"ControlRight": {Code: "ControlRight", Key: "Control", KeyCode: 17, Location: 2},
		"AltLeft":      {Code: "AltLeft", Key: "Alt", KeyCode: 18, Location: 1},
		"AltRight":     {Code: "AltRight", Key: "Alt", KeyCode: 18, Location: 2},
		"MetaLeft":     {Code: "MetaLeft", Key: "Meta", KeyCode: 91, Location: 1},
		"MetaRight":    {Code: "MetaRight", Key: "Meta", KeyCode: 92, Location: 2},

		// Navigation block.
		"Insert":     {Code: "Insert", Key: "Insert", KeyCode: 45},
		"Delete":     {Code: "Delete", Key: "Delete", KeyCode: 46},
		"Home":       {Code: "Home", Key: "Home", KeyCode: 36},
		"End":        {Code: "End", Key: "End", KeyCode: 35},
		"PageUp":     {Code: "PageUp", Key: "PageUp", KeyCode: 33},
		"PageDown":   {Code: "PageDown", Key: "PageDown", KeyCode: 34},
		"ArrowLeft":  {Code: "ArrowLeft", Key: "ArrowLeft", KeyCode: 37},
		"ArrowUp":    {Code: "ArrowUp", Key: "ArrowUp", KeyCode: 38},
		"ArrowRight": {Code: "ArrowRight", Key: "ArrowRight", KeyCode: 39},
		"ArrowDown":  {Code: "ArrowDown", Key: "ArrowDown", KeyCode: 40},
	}

	for r := 'a'; r <= 'z'; r++ {
		code := "Key" + string(r-'a'+'A')
		keys[KeyInput(code)] = KeyDefinition{
			Code:     code,
			Key:      string(r),
			KeyCode:  int64(r - 'a' + 'A'),
			ShiftKey: string(r - 'a' + 'A'),
		}
	}
	for i := int64(1); i <= 12; i++ {
		code := "F" + itoa(i)
		keys[KeyInput(code)] = KeyDefinition{Code: code, Key: code, KeyCode: 111 + i}
	}

	valid := make(map[KeyInput]bool, 2*len(keys))
	for _, d := range keys {
		valid[KeyInput(d.Key)] = true
		if d.ShiftKey != "" {
			valid[KeyInput(d.ShiftKey)] = true
		}
	}

	layouts = map[string]KeyboardLayout{
		"us": {ValidKeys: valid, Keys: keys},
	}
}

func itoa(i int64) string {
	if i >= 10 {
		return string('0'+byte(i/10)) + string('0'+byte(i%10))
	}
	return string('0' + byte(i))
}

// qwertyNeighbors maps each key of the US layout to the characters
// physically adjacent to it, used for plausible mistyped characters.
var qwertyNeighbors = map[rune]string{
	'q': "wa1", 'w': "qase2", 'e': "wsdr3", 'r': "edft4", 't': "rfgy5",
	'y': "tghu6", 'u': "yhji7", 'i': "ujko8", 'o': "iklp9", 'p': "ol0",
	'a': "qwsz", 's': "awedxz", 'd': "serfcx", 'f': "drtgvc",
	'g': "ftyhbv", 'h': "gyujnb", 'j': "huikmn", 'k': "jiolm",
	'l': "kop", 'z': "asx", 'x': "zsdc", 'c': "xdfv", 'v': "cfgb",
	'b': "vghn", 'n': "bhjm", 'm': "njk",
	'1': "2q", '2': "13w", '3': "24e", '4': "35r", '5': "46t",
	'6': "57y", '7': "68u", '8': "79i", '9': "80o", '0': "9p",
	',': "ml.", '.': ",l/", ';': "lp'", '\'': ";[",
}

// Neighbors returns the characters adjacent to r on a US QWERTY
// keyboard, or "" when r has no adjacency entry. Uppercase letters
// share their lowercase key's neighborhood.
func Neighbors(r rune) string {
	if r >= 'A' && r <= 'Z' {
		r = r - 'A' + 'a'
	}
	return qwertyNeighbors[r]
}
