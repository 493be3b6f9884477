package common

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
	"unicode"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"

	"github.com/mimicbrowser/mimic/keyboardlayout"
)

// Modifier bits as the Input domain encodes them.
const (
	ModifierKeyAlt int64 = 1 << iota
	ModifierKeyControl
	ModifierKeyMeta
	ModifierKeyShift
)

// Characters that attract an extra pause when a person types them.
const pausePunctuation = ".,!?;:"

// TypingConfig tunes the humanized typing model. It is immutable after
// the keyboard is constructed; DefaultTypingConfig returns the tuned
// defaults.
type TypingConfig struct {
	// Delay is the fixed inter-key delay used when humanization is
	// off.
	Delay time.Duration

	// KeyDelayMin/Max bound the uniform base delay drawn after every
	// character while humanizing.
	KeyDelayMin time.Duration
	KeyDelayMax time.Duration

	// TypoChance is the per-character probability of a typo episode.
	TypoChance float64

	// Relative weights of the episode kinds; they need not sum to 1.
	WeightSubstitution  float64
	WeightTransposition float64
	WeightDoublePress   float64
	WeightHesitation    float64
	WeightMissedSpace   float64

	// RealizeDelayMin/Max bound the pause before a mistake is noticed,
	// CorrectDelayMin/Max the pause after each corrective backspace.
	RealizeDelayMin time.Duration
	RealizeDelayMax time.Duration
	CorrectDelayMin time.Duration
	CorrectDelayMax time.Duration

	// Independently gated extra pauses added on top of the base delay.
	PunctuationPauseChance float64
	PunctuationPauseMin    time.Duration
	PunctuationPauseMax    time.Duration
	ThinkingPauseChance    float64
	ThinkingPauseMin       time.Duration
	ThinkingPauseMax       time.Duration
	DistractionChance      float64
	DistractionMin         time.Duration
	DistractionMax         time.Duration

	// HotkeyHoldMin/Max bound how long a combination is held before
	// release.
	HotkeyHoldMin time.Duration
	HotkeyHoldMax time.Duration
}

// DefaultTypingConfig returns the typing model used when no config is
// supplied: roughly 60-180ms between keys, a mistake on one character
// in twenty, and rare longer pauses.
func DefaultTypingConfig() TypingConfig {
	return TypingConfig{
		Delay:       75 * time.Millisecond,
		KeyDelayMin: 60 * time.Millisecond,
		KeyDelayMax: 180 * time.Millisecond,

		TypoChance:          0.05,
		WeightSubstitution:  0.40,
		WeightTransposition: 0.20,
		WeightDoublePress:   0.20,
		WeightHesitation:    0.10,
		WeightMissedSpace:   0.10,

		RealizeDelayMin: 200 * time.Millisecond,
		RealizeDelayMax: 500 * time.Millisecond,
		CorrectDelayMin: 80 * time.Millisecond,
		CorrectDelayMax: 200 * time.Millisecond,

		PunctuationPauseChance: 0.30,
		PunctuationPauseMin:    150 * time.Millisecond,
		PunctuationPauseMax:    400 * time.Millisecond,
		ThinkingPauseChance:    0.04,
		ThinkingPauseMin:       350 * time.Millisecond,
		ThinkingPauseMax:       900 * time.Millisecond,
		DistractionChance:      0.008,
		DistractionMin:         1200 * time.Millisecond,
		DistractionMax:         2500 * time.Millisecond,

		HotkeyHoldMin: 40 * time.Millisecond,
		HotkeyHoldMax: 120 * time.Millisecond,
	}
}

// Keyboard synthesizes key events on a session's target. It tracks
// held modifier keys across calls, so it is not safe for concurrent
// use.
type Keyboard struct {
	ctx     context.Context
	session session
	rand    *rand.Rand
	cfg     TypingConfig

	modifiers   int64
	pressedKeys map[int64]bool
	layoutName  string
	layout      keyboardlayout.KeyboardLayout
}

// NewKeyboard creates a keyboard with the default typing model.
func NewKeyboard(ctx context.Context, s session) *Keyboard {
	return NewKeyboardWithConfig(ctx, s, DefaultTypingConfig(), nil)
}

// NewKeyboardWithConfig creates a keyboard with an explicit typing
// model and randomness source. A nil source gets a time-seeded one;
// tests pass a fixed seed for reproducible episodes.
func NewKeyboardWithConfig(
	ctx context.Context, s session, cfg TypingConfig, r *rand.Rand,
) *Keyboard {
	return &Keyboard{
		ctx:         ctx,
		session:     s,
		rand:        newRand(r),
		cfg:         cfg,
		pressedKeys: make(map[int64]bool),
		layoutName:  "us",
		layout:      keyboardlayout.GetKeyboardLayout("us"),
	}
}

// Down sends a key down without releasing it. A held modifier key
// contributes its bit to the modifier mask of every subsequent
// dispatch until Up.
func (k *Keyboard) Down(key string) error {
	return k.down(keyboardlayout.KeyInput(key))
}

// Up releases a key previously pressed with Down.
func (k *Keyboard) Up(key string) error {
	return k.up(keyboardlayout.KeyInput(key))
}

// Press sends a key down followed by a key up. A key containing '+'
// ("Control+a") is pressed as a combination through Hotkey; a lone "+"
// is the plus key itself.
func (k *Keyboard) Press(key string) error {
	if keys := split(key); len(keys) > 1 {
		return k.Hotkey(keys...)
	}
	return k.press(key)
}

// Hotkey presses the given keys as one combination: every key goes
// down in order, with Alt, Control, Meta and Shift adding their bit to
// the held modifier mask, then after a brief hold everything is
// released in reverse order.
func (k *Keyboard) Hotkey(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	for _, key := range keys {
		if err := k.Down(key); err != nil {
			return err
		}
	}
	hold := betweenDuration(k.rand, k.cfg.HotkeyHoldMin, k.cfg.HotkeyHoldMax)
	if err := k.wait(hold); err != nil {
		return err
	}
	for i := len(keys) - 1; i >= 0; i-- {
		if err := k.Up(keys[i]); err != nil {
			return err
		}
	}
	return nil
}

// InsertText inserts text into the focused element without synthesizing
// key events, the way IME composition does.
func (k *Keyboard) InsertText(text string) error {
	action := input.InsertText(text)
	if err := action.Do(cdp.WithExecutor(k.ctx, k.session)); err != nil {
		return fmt.Errorf("inserting text: %w", err)
	}
	return nil
}

// Type dispatches text one character at a time. With humanize off,
// characters are separated by the fixed configured delay. With
// humanize on, the typing model injects mistake-and-correction
// episodes and variable pacing; whichever episodes run, the visible
// resulting text is always exactly text.
func (k *Keyboard) Type(text string, humanize bool) error {
	if humanize {
		return k.typeHumanized([]rune(text))
	}
	for _, c := range text {
		if err := k.typeKey(c); err != nil {
			return err
		}
		if err := k.wait(k.cfg.Delay); err != nil {
			return err
		}
	}
	return nil
}

func (k *Keyboard) typeHumanized(runes []rune) error {
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if chance(k.rand, k.cfg.TypoChance) {
			consumed, err := k.runEpisode(k.pickEpisode(c, i, runes), c, i, runes)
			if err != nil {
				return err
			}
			i += consumed
		} else if err := k.typeKey(c); err != nil {
			return err
		}
		if err := k.wait(k.keystrokeDelay(c)); err != nil {
			return err
		}
	}
	return nil
}

type typoEpisode int

const (
	episodeSubstitution typoEpisode = iota
	episodeTransposition
	episodeDoublePress
	episodeHesitation
	episodeMissedSpace
)

// pickEpisode draws an episode kind by weight and degrades it to
// adjacent-substitution when its precondition does not hold for the
// character at hand.
func (k *Keyboard) pickEpisode(c rune, i int, runes []rune) typoEpisode {
	kind := k.drawEpisode()
	switch kind {
	case episodeTransposition:
		if i+1 >= len(runes) || !unicode.IsLetter(runes[i+1]) {
			return episodeSubstitution
		}
	case episodeMissedSpace:
		if c != ' ' || i+1 >= len(runes) {
			return episodeSubstitution
		}
	}
	return kind
}

func (k *Keyboard) drawEpisode() typoEpisode {
	weights := [...]float64{
		k.cfg.WeightSubstitution,
		k.cfg.WeightTransposition,
		k.cfg.WeightDoublePress,
		k.cfg.WeightHesitation,
		k.cfg.WeightMissedSpace,
	}
	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return episodeHesitation
	}
	x := k.rand.Float64() * total
	for kind, w := range weights {
		x -= w
		if x < 0 {
			return typoEpisode(kind)
		}
	}
	return episodeMissedSpace
}

// runEpisode executes one episode's micro-script and returns how many
// extra runes beyond the current one it consumed.
func (k *Keyboard) runEpisode(kind typoEpisode, c rune, i int, runes []rune) (int, error) {
	switch kind {
	case episodeTransposition:
		return 1, k.transpositionEpisode(c, runes[i+1])
	case episodeDoublePress:
		return 0, k.doublePressEpisode(c)
	case episodeHesitation:
		return 0, k.hesitationEpisode(c)
	case episodeMissedSpace:
		return 1, k.missedSpaceEpisode(runes[i+1])
	default:
		return 0, k.substitutionEpisode(c)
	}
}

// substitutionEpisode types a physically adjacent wrong character,
// notices, backspaces and retypes. Characters without an adjacency
// entry hesitate instead.
func (k *Keyboard) substitutionEpisode(c rune) error {
	neighbors := keyboardlayout.Neighbors(c)
	if neighbors == "" {
		return k.hesitationEpisode(c)
	}
	wrong := []rune(neighbors)[k.rand.Intn(len(neighbors))]
	if err := k.typeKey(wrong); err != nil {
		return err
	}
	if err := k.wait(k.realizeDelay()); err != nil {
		return err
	}
	if err := k.press("Backspace"); err != nil {
		return err
	}
	if err := k.wait(k.correctDelay()); err != nil {
		return err
	}
	return k.typeKey(c)
}

// transpositionEpisode types the current and next characters swapped,
// then backspaces both and retypes them in order.
func (k *Keyboard) transpositionEpisode(c, next rune) error {
	if err := k.typeKey(next); err != nil {
		return err
	}
	if err := k.typeKey(c); err != nil {
		return err
	}
	if err := k.wait(k.realizeDelay()); err != nil {
		return err
	}
	for j := 0; j < 2; j++ {
		if err := k.press("Backspace"); err != nil {
			return err
		}
		if err := k.wait(k.correctDelay()); err != nil {
			return err
		}
	}
	if err := k.typeKey(c); err != nil {
		return err
	}
	return k.typeKey(next)
}

// doublePressEpisode types the character twice and removes the extra
// copy.
func (k *Keyboard) doublePressEpisode(c rune) error {
	if err := k.typeKey(c); err != nil {
		return err
	}
	if err := k.typeKey(c); err != nil {
		return err
	}
	if err := k.wait(k.realizeDelay()); err != nil {
		return err
	}
	return k.press("Backspace")
}

// hesitationEpisode stalls before typing the character correctly.
func (k *Keyboard) hesitationEpisode(c rune) error {
	if err := k.wait(k.realizeDelay()); err != nil {
		return err
	}
	return k.typeKey(c)
}

// missedSpaceEpisode skips the space, types the following character,
// then backs up and inserts both in order.
func (k *Keyboard) missedSpaceEpisode(next rune) error {
	if err := k.typeKey(next); err != nil {
		return err
	}
	if err := k.wait(k.realizeDelay()); err != nil {
		return err
	}
	if err := k.press("Backspace"); err != nil {
		return err
	}
	if err := k.wait(k.correctDelay()); err != nil {
		return err
	}
	if err := k.typeKey(' '); err != nil {
		return err
	}
	return k.typeKey(next)
}

// keystrokeDelay draws the pause after one character: a uniform base
// plus independently gated extras. The extras are not exclusive; a
// punctuation pause and a thinking pause can land on the same
// character.
func (k *Keyboard) keystrokeDelay(c rune) time.Duration {
	d := betweenDuration(k.rand, k.cfg.KeyDelayMin, k.cfg.KeyDelayMax)
	if strings.ContainsRune(pausePunctuation, c) && chance(k.rand, k.cfg.PunctuationPauseChance) {
		d += betweenDuration(k.rand, k.cfg.PunctuationPauseMin, k.cfg.PunctuationPauseMax)
	}
	if chance(k.rand, k.cfg.ThinkingPauseChance) {
		d += betweenDuration(k.rand, k.cfg.ThinkingPauseMin, k.cfg.ThinkingPauseMax)
	}
	if chance(k.rand, k.cfg.DistractionChance) {
		d += betweenDuration(k.rand, k.cfg.DistractionMin, k.cfg.DistractionMax)
	}
	return d
}

func (k *Keyboard) realizeDelay() time.Duration {
	return betweenDuration(k.rand, k.cfg.RealizeDelayMin, k.cfg.RealizeDelayMax)
}

func (k *Keyboard) correctDelay() time.Duration {
	return betweenDuration(k.rand, k.cfg.CorrectDelayMin, k.cfg.CorrectDelayMax)
}

// typeKey dispatches one character as a full key press when the layout
// knows it, falling back to text insertion for anything else.
func (k *Keyboard) typeKey(c rune) error {
	key := string(c)
	if k.layout.ValidKeys[keyboardlayout.KeyInput(key)] {
		return k.press(key)
	}
	return k.InsertText(key)
}

func (k *Keyboard) press(key string) error {
	kbKey := keyboardlayout.KeyInput(key)
	if err := k.down(kbKey); err != nil {
		return err
	}
	return k.up(kbKey)
}

func (k *Keyboard) down(key keyboardlayout.KeyInput) error {
	keyDef := k.keyDefinitionFromKey(key)
	if keyDef.Key == "" && keyDef.Code == "" {
		return fmt.Errorf("unknown key %q", key)
	}
	k.modifiers |= k.modifierBitFromKeyName(keyDef.Key)
	text := keyDef.Text
	autoRepeat := k.pressedKeys[keyDef.KeyCode]
	k.pressedKeys[keyDef.KeyCode] = true

	keyType := input.KeyDown
	if text == "" {
		keyType = input.KeyRawDown
	}

	action := input.DispatchKeyEvent(keyType).
		WithModifiers(input.Modifier(k.modifiers)).
		WithKey(keyDef.Key).
		WithWindowsVirtualKeyCode(keyDef.KeyCode).
		WithCode(keyDef.Code).
		WithLocation(keyDef.Location).
		WithIsKeypad(keyDef.Location == 3).
		WithText(text).
		WithUnmodifiedText(text).
		WithAutoRepeat(autoRepeat)
	if err := action.Do(cdp.WithExecutor(k.ctx, k.session)); err != nil {
		return fmt.Errorf("dispatching key down %q: %w", keyDef.Key, err)
	}
	return nil
}

func (k *Keyboard) up(key keyboardlayout.KeyInput) error {
	keyDef := k.keyDefinitionFromKey(key)
	if keyDef.Key == "" && keyDef.Code == "" {
		return fmt.Errorf("unknown key %q", key)
	}
	k.modifiers &^= k.modifierBitFromKeyName(keyDef.Key)
	delete(k.pressedKeys, keyDef.KeyCode)

	action := input.DispatchKeyEvent(input.KeyUp).
		WithModifiers(input.Modifier(k.modifiers)).
		WithKey(keyDef.Key).
		WithWindowsVirtualKeyCode(keyDef.KeyCode).
		WithCode(keyDef.Code).
		WithLocation(keyDef.Location)
	if err := action.Do(cdp.WithExecutor(k.ctx, k.session)); err != nil {
		return fmt.Errorf("dispatching key up %q: %w", keyDef.Key, err)
	}
	return nil
}

func (k *Keyboard) keyDefinitionFromKey(key keyboardlayout.KeyInput) keyboardlayout.KeyDefinition {
	shift := k.modifiers & ModifierKeyShift

	// Find directly from the keyboard layout, then by key value, then
	// by shifted key value.
	srcKeyDef, ok := k.layout.Keys[key]
	if !ok {
		srcKeyDef, ok = k.layout.KeyDefinition(key)
	}
	if !ok {
		srcKeyDef = k.layout.ShiftKeyDefinition(key)
		shift = k.modifiers | ModifierKeyShift
	}

	var keyDef keyboardlayout.KeyDefinition
	keyDef.Code = srcKeyDef.Code
	if srcKeyDef.Key != "" {
		keyDef.Key = srcKeyDef.Key
	}
	if len(srcKeyDef.Key) == 1 {
		keyDef.Text = srcKeyDef.Key
	}
	if srcKeyDef.KeyCode != 0 {
		keyDef.KeyCode = srcKeyDef.KeyCode
	}
	if srcKeyDef.Location != 0 {
		keyDef.Location = srcKeyDef.Location
	}
	if srcKeyDef.Text != "" {
		keyDef.Text = srcKeyDef.Text
	}
	if shift != 0 && srcKeyDef.ShiftKey != "" {
		keyDef.Key = srcKeyDef.ShiftKey
		keyDef.Text = srcKeyDef.ShiftKey
	}
	if shift != 0 && srcKeyDef.ShiftKeyCode != 0 {
		keyDef.KeyCode = srcKeyDef.ShiftKeyCode
	}
	// Chrome inserts no text while a non-shift modifier is held.
	if k.modifiers&^ModifierKeyShift != 0 {
		keyDef.Text = ""
	}
	return keyDef
}

func (k *Keyboard) modifierBitFromKeyName(keyName string) int64 {
	switch keyName {
	case "Alt":
		return ModifierKeyAlt
	case "Control":
		return ModifierKeyControl
	case "Meta":
		return ModifierKeyMeta
	case "Shift":
		return ModifierKeyShift
	}
	return 0
}

func (k *Keyboard) wait(d time.Duration) error {
	return sleepCtx(k.ctx, d)
}

// split splits a combination on '+' while keeping a leading '+' as a
// key: "Control++" is Control and the plus key, "+" the plus key alone.
func split(keys string) []string {
	var (
		kk = make([]string, 0)
		s  strings.Builder
	)
	for _, r := range keys {
		if r == '+' && s.Len() > 0 {
			kk = append(kk, s.String())
			s.Reset()
		} else {
			s.WriteRune(r)
		}
	}
	kk = append(kk, s.String())
	return kk
}
