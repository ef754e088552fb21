// Package input turns viewer gestures into remote mouse and keyboard commands
// and carries them over the data channel as JSON.
package input

import (
	"encoding/json"
	"fmt"

	"github.com/tomaslejdung/superdesk/pkg/fault"
)

// Type is the device class of a command.
type Type string

const (
	TypeMouse    Type = "mouse"
	TypeKeyboard Type = "keyboard"
	TypeTouch    Type = "touch"
	// TypeScreen carries host screen metadata rather than input.
	TypeScreen Type = "screen"
)

// Action names what the command does within its Type.
type Action string

const (
	ActionMove        Action = "move"
	ActionClick       Action = "click"
	ActionDoubleClick Action = "doubleClick"
	ActionScroll      Action = "scroll"
	ActionPress       Action = "press"
	ActionType        Action = "type"
	ActionSpecial     Action = "special"
	ActionSize        Action = "size"
)

// Button is a mouse button.
type Button string

const (
	ButtonLeft  Button = "left"
	ButtonRight Button = "right"
)

// Modifiers are the modifier keys held during a key press.
type Modifiers struct {
	Ctrl  bool `json:"ctrl,omitempty"`
	Alt   bool `json:"alt,omitempty"`
	Shift bool `json:"shift,omitempty"`
	Meta  bool `json:"meta,omitempty"`
}

// MouseData is the payload of mouse and touch commands. Nil fields are omitted
// on the wire; a two-finger pan scroll has no position.
type MouseData struct {
	X      *int   `json:"x,omitempty"`
	Y      *int   `json:"y,omitempty"`
	Button Button `json:"button,omitempty"`
	DeltaX *int   `json:"deltaX,omitempty"`
	DeltaY *int   `json:"deltaY,omitempty"`
}

// KeyboardData is the payload of keyboard commands.
type KeyboardData struct {
	Key  string `json:"key,omitempty"`
	Text string `json:"text,omitempty"`
	Modifiers
}

// ScreenData reports the host's capture resolution.
type ScreenData struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Command is one input event. Exactly one of Mouse, Keyboard or Screen is set,
// matching Type.
type Command struct {
	Type     Type
	Action   Action
	Mouse    *MouseData
	Keyboard *KeyboardData
	Screen   *ScreenData
}

type wireCommand struct {
	Type   Type            `json:"type"`
	Action Action          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// MarshalJSON encodes the command as {type, action, data}.
func (c Command) MarshalJSON() ([]byte, error) {
	var payload any
	switch c.Type {
	case TypeMouse, TypeTouch:
		payload = c.Mouse
	case TypeKeyboard:
		payload = c.Keyboard
	case TypeScreen:
		payload = c.Screen
	default:
		return nil, fmt.Errorf("unknown command type %q", c.Type)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		data = []byte("{}")
	}
	return json.Marshal(wireCommand{Type: c.Type, Action: c.Action, Data: data})
}

// UnmarshalJSON decodes {type, action, data} into the matching payload.
func (c *Command) UnmarshalJSON(b []byte) error {
	var w wireCommand
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := Command{Type: w.Type, Action: w.Action}
	data := w.Data
	if len(data) == 0 {
		data = []byte("{}")
	}
	switch w.Type {
	case TypeMouse, TypeTouch:
		out.Mouse = &MouseData{}
		if err := json.Unmarshal(data, out.Mouse); err != nil {
			return fmt.Errorf("decode %s data: %w", w.Type, err)
		}
	case TypeKeyboard:
		out.Keyboard = &KeyboardData{}
		if err := json.Unmarshal(data, out.Keyboard); err != nil {
			return fmt.Errorf("decode keyboard data: %w", err)
		}
	case TypeScreen:
		out.Screen = &ScreenData{}
		if err := json.Unmarshal(data, out.Screen); err != nil {
			return fmt.Errorf("decode screen data: %w", err)
		}
	default:
		return fmt.Errorf("unknown command type %q", w.Type)
	}
	*c = out
	return nil
}

// Encode returns the compact text form sent over the data channel.
func Encode(c Command) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses one data channel message into a validated command.
func Decode(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, fault.New(fault.Configuration, "input.decode", err)
	}
	if err := c.Validate(); err != nil {
		return Command{}, err
	}
	return c, nil
}

var validActions = map[Type][]Action{
	TypeMouse:    {ActionMove, ActionClick, ActionDoubleClick, ActionScroll},
	TypeTouch:    {ActionMove, ActionClick, ActionDoubleClick, ActionScroll},
	TypeKeyboard: {ActionPress, ActionType, ActionSpecial},
	TypeScreen:   {ActionSize},
}

// Validate checks the action belongs to the type and the payload is usable.
func (c Command) Validate() error {
	actions, ok := validActions[c.Type]
	if !ok {
		return fault.Newf(fault.Configuration, "input.validate", "unknown command type %q", c.Type)
	}
	found := false
	for _, a := range actions {
		if a == c.Action {
			found = true
			break
		}
	}
	if !found {
		return fault.Newf(fault.Configuration, "input.validate", "action %q is not valid for %s", c.Action, c.Type)
	}

	switch c.Type {
	case TypeMouse, TypeTouch:
		if c.Mouse == nil {
			return fault.Newf(fault.Configuration, "input.validate", "%s command has no data", c.Type)
		}
		if c.Action != ActionScroll && (c.Mouse.X == nil || c.Mouse.Y == nil) {
			return fault.Newf(fault.Configuration, "input.validate", "%s %s needs a position", c.Type, c.Action)
		}
	case TypeKeyboard:
		if c.Keyboard == nil {
			return fault.Newf(fault.Configuration, "input.validate", "keyboard command has no data")
		}
		if c.Action == ActionSpecial && !IsSpecialKey(c.Keyboard.Key) {
			return fault.Newf(fault.Configuration, "input.validate", "unknown special key %q", c.Keyboard.Key)
		}
	case TypeScreen:
		if c.Screen == nil || c.Screen.Width <= 0 || c.Screen.Height <= 0 {
			return fault.Newf(fault.Configuration, "input.validate", "screen size must be positive")
		}
	}
	return nil
}

func intp(v int) *int { return &v }

// MouseMove moves the pointer to (x, y).
func MouseMove(x, y int) Command {
	return Command{Type: TypeMouse, Action: ActionMove, Mouse: &MouseData{X: intp(x), Y: intp(y)}}
}

// MouseClick clicks button at (x, y).
func MouseClick(x, y int, button Button) Command {
	return Command{Type: TypeMouse, Action: ActionClick, Mouse: &MouseData{X: intp(x), Y: intp(y), Button: button}}
}

// MouseDoubleClick double clicks at (x, y).
func MouseDoubleClick(x, y int) Command {
	return Command{Type: TypeMouse, Action: ActionDoubleClick, Mouse: &MouseData{X: intp(x), Y: intp(y)}}
}

// MouseScrollAt scrolls vertically by deltaY with the pointer at (x, y).
func MouseScrollAt(x, y, deltaY int) Command {
	return Command{Type: TypeMouse, Action: ActionScroll, Mouse: &MouseData{X: intp(x), Y: intp(y), DeltaY: intp(deltaY)}}
}

// MouseScroll scrolls by (deltaX, deltaY) wherever the pointer is.
func MouseScroll(deltaX, deltaY int) Command {
	return Command{Type: TypeMouse, Action: ActionScroll, Mouse: &MouseData{DeltaX: intp(deltaX), DeltaY: intp(deltaY)}}
}

// KeyPress presses key with the given modifiers held.
func KeyPress(key string, mods Modifiers) Command {
	return Command{Type: TypeKeyboard, Action: ActionPress, Keyboard: &KeyboardData{Key: key, Modifiers: mods}}
}

// KeyType types text.
func KeyType(text string) Command {
	return Command{Type: TypeKeyboard, Action: ActionType, Keyboard: &KeyboardData{Text: text}}
}

// KeySpecial presses a named special key.
func KeySpecial(key SpecialKey) Command {
	return Command{Type: TypeKeyboard, Action: ActionSpecial, Keyboard: &KeyboardData{Key: string(key)}}
}

// ScreenSize announces the host capture resolution.
func ScreenSize(width, height int) Command {
	return Command{Type: TypeScreen, Action: ActionSize, Screen: &ScreenData{Width: width, Height: height}}
}
