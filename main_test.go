package main

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomaslejdung/superdesk/pkg/capture"
	"github.com/tomaslejdung/superdesk/pkg/coords"
	"github.com/tomaslejdung/superdesk/pkg/input"
	"github.com/tomaslejdung/superdesk/pkg/session"
	"github.com/tomaslejdung/superdesk/pkg/settings"
)

func TestParseFlags(t *testing.T) {
	defaults := settings.DefaultSettings()

	cfg, err := parseFlags([]string{"join", "abcd-1234", "--view-width", "800"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, modeJoin, cfg.Mode)
	assert.Equal(t, "abcd-1234", cfg.Code)
	assert.Equal(t, 800, cfg.ViewWidth)
	assert.Equal(t, defaults.SignalURL, cfg.SignalURL)

	cfg, err = parseFlags([]string{"--codec", "H264", "host"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, modeHost, cfg.Mode)
	assert.Equal(t, capture.CodecH264, cfg.Codec)

	cfg, err = parseFlags([]string{"serve", "-p", "9000", "-c", "relay.yaml"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "relay.yaml", cfg.RelayConfig)
}

func TestParseFlagsErrors(t *testing.T) {
	defaults := settings.DefaultSettings()

	_, err := parseFlags(nil, defaults)
	assert.True(t, errors.Is(err, errUsage))

	_, err = parseFlags([]string{"join"}, defaults)
	assert.ErrorContains(t, err, "session code")

	_, err = parseFlags([]string{"host", "extra"}, defaults)
	assert.Error(t, err)

	_, err = parseFlags([]string{"watch"}, defaults)
	assert.ErrorContains(t, err, "unknown command")

	cfg, err := parseFlags([]string{"-h"}, defaults)
	require.NoError(t, err)
	assert.True(t, cfg.Help)
}

func TestSignalURLDerivesConfigServer(t *testing.T) {
	defaults := settings.DefaultSettings()

	cfg, err := parseFlags([]string{"host", "--signal", "wss://relay.example.com/ws?x=1"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, "https://relay.example.com", cfg.ConfigServer)

	cfg, err = parseFlags([]string{"host", "--signal", "ws://10.0.0.2:8080/ws", "--config-server", "http://cfg"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, "http://cfg", cfg.ConfigServer)

	cfg, err = parseFlags([]string{"host", "--local"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, LocalSignalServer, cfg.SignalURL)
	assert.Equal(t, "http://localhost:8080", cfg.ConfigServer)
}

func TestSettingsFrom(t *testing.T) {
	cfg, err := parseFlags([]string{"host", "--codec", "vp9", "--turn", "turn:t.example.com"}, settings.DefaultSettings())
	require.NoError(t, err)

	s := settingsFrom(settings.DefaultSettings(), cfg)
	assert.Equal(t, "vp9", s.Codec)
	assert.Equal(t, "turn:t.example.com", s.TURNServer)
}

func TestViewerKey(t *testing.T) {
	tests := []struct {
		name string
		msg  tea.KeyMsg
		want keyAction
		ok   bool
	}{
		{"runes", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("hé")}, keyAction{text: "hé"}, true},
		{"space", tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}, keyAction{text: " "}, true},
		{"alt", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x"), Alt: true}, keyAction{key: "x", mods: input.Modifiers{Alt: true}}, true},
		{"enter", tea.KeyMsg{Type: tea.KeyEnter}, keyAction{special: input.KeyEnter}, true},
		{"tab", tea.KeyMsg{Type: tea.KeyTab}, keyAction{special: input.KeyTab}, true},
		{"pgdown", tea.KeyMsg{Type: tea.KeyPgDown}, keyAction{special: input.KeyPageDown}, true},
		{"esc", tea.KeyMsg{Type: tea.KeyEsc}, keyAction{special: input.KeyEscape}, true},
		{"ctrl+a", tea.KeyMsg{Type: tea.KeyCtrlA}, keyAction{key: "a", mods: input.Modifiers{Ctrl: true}}, true},
		{"ctrl+z", tea.KeyMsg{Type: tea.KeyCtrlZ}, keyAction{key: "z", mods: input.Modifiers{Ctrl: true}}, true},
		{"f1", tea.KeyMsg{Type: tea.KeyF1}, keyAction{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := viewerKey(tt.msg)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

type recordingSink struct{ cmds []input.Command }

func (r *recordingSink) SendInputEvent(cmd input.Command) { r.cmds = append(r.cmds, cmd) }

func TestKeyActionApply(t *testing.T) {
	sink := &recordingSink{}
	codec := input.NewCodec(sink, coords.Size{Width: 400, Height: 300}, nil)

	require.NoError(t, keyAction{text: "hi"}.apply(codec))
	require.NoError(t, keyAction{special: input.KeyUp}.apply(codec))
	require.NoError(t, keyAction{key: "c", mods: input.Modifiers{Ctrl: true}}.apply(codec))

	require.Len(t, sink.cmds, 3)
	assert.Equal(t, input.KeyType("hi"), sink.cmds[0])
	assert.Equal(t, input.KeySpecial(input.KeyUp), sink.cmds[1])
	assert.Equal(t, input.KeyPress("c", input.Modifiers{Ctrl: true}), sink.cmds[2])
}

func testModel(mode string) model {
	return initialModel(&app{cfg: Config{Mode: mode, ScreenWidth: 1920, ScreenHeight: 1080, Codec: capture.CodecVP8}})
}

func TestModelShowsSessionCode(t *testing.T) {
	m := testModel(modeHost)
	next, _ := m.Update(stateMsg{session.State{
		Phase:     session.PhaseHostingWaiting,
		Active:    true,
		Role:      session.RoleHost,
		SessionID: "ABCD2345",
	}})
	m = next.(model)

	view := m.View()
	assert.Contains(t, view, "ABCD-2345")
	assert.Contains(t, view, "waiting...")
	assert.Contains(t, view, "new code")

	_, cmd := m.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	assert.NotNil(t, cmd)
}

func TestModelViewerDoesNotQuitOnTypedQ(t *testing.T) {
	m := testModel(modeJoin)
	next, _ := m.Update(stateMsg{session.State{
		Phase:     session.PhaseGuestConnected,
		Active:    true,
		Role:      session.RoleGuest,
		SessionID: "ABCD2345",
	}})
	m = next.(model)

	_, cmd := m.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.Nil(t, cmd)

	_, cmd = m.handleKey(tea.KeyMsg{Type: tea.KeyCtrlQ})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestModelShowsErrors(t *testing.T) {
	m := testModel(modeJoin)
	next, _ := m.Update(errMsg{errors.New("session not found")})
	m = next.(model)
	assert.Contains(t, m.View(), "session not found")
	assert.Contains(t, m.View(), "retry")
}

func TestFormatCode(t *testing.T) {
	assert.Equal(t, "ABCD-2345", formatCode("ABCD2345"))
	assert.Equal(t, "", formatCode(""))
	assert.Equal(t, "SHORT", formatCode("SHORT"))
}
