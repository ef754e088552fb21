package main

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tomaslejdung/superdesk/pkg/input"
)

// keyAction is one keystroke to send to the host.
type keyAction struct {
	text    string
	special input.SpecialKey
	key     string
	mods    input.Modifiers
}

func (k keyAction) apply(c *input.Codec) error {
	switch {
	case k.special != "":
		return c.Special(k.special)
	case k.text != "":
		c.Text(k.text)
	default:
		c.KeyPress(k.key, k.mods)
	}
	return nil
}

var specialKeys = map[tea.KeyType]input.SpecialKey{
	tea.KeyEnter:     input.KeyEnter,
	tea.KeyTab:       input.KeyTab,
	tea.KeyBackspace: input.KeyBackspace,
	tea.KeyDelete:    input.KeyDelete,
	tea.KeyEsc:       input.KeyEscape,
	tea.KeyHome:      input.KeyHome,
	tea.KeyEnd:       input.KeyEnd,
	tea.KeyPgUp:      input.KeyPageUp,
	tea.KeyPgDown:    input.KeyPageDown,
	tea.KeyUp:        input.KeyUp,
	tea.KeyDown:      input.KeyDown,
	tea.KeyLeft:      input.KeyLeft,
	tea.KeyRight:     input.KeyRight,
}

// viewerKey maps a terminal key to a keystroke for the host. Keys with no
// equivalent report false.
func viewerKey(msg tea.KeyMsg) (keyAction, bool) {
	if special, ok := specialKeys[msg.Type]; ok {
		return keyAction{special: special}, true
	}

	switch msg.Type {
	case tea.KeyRunes:
		if msg.Alt {
			return keyAction{key: string(msg.Runes), mods: input.Modifiers{Alt: true}}, true
		}
		return keyAction{text: string(msg.Runes)}, true
	case tea.KeySpace:
		return keyAction{text: " "}, true
	case tea.KeyShiftTab:
		return keyAction{key: "tab", mods: input.Modifiers{Shift: true}}, true
	}

	if msg.Type >= tea.KeyCtrlA && msg.Type <= tea.KeyCtrlZ {
		letter := string(rune('a' + int(msg.Type-tea.KeyCtrlA)))
		return keyAction{key: letter, mods: input.Modifiers{Ctrl: true}}, true
	}
	return keyAction{}, false
}
