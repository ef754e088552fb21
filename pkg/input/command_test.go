package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomaslejdung/superdesk/pkg/fault"
)

func TestEncodeWireShape(t *testing.T) {
	cases := []struct {
		name string
		cmd  Command
		want string
	}{
		{"click", MouseClick(0, 5, ButtonLeft), `{"type":"mouse","action":"click","data":{"x":0,"y":5,"button":"left"}}`},
		{"pan scroll", MouseScroll(-3, 4), `{"type":"mouse","action":"scroll","data":{"deltaX":-3,"deltaY":4}}`},
		{"press with modifiers", KeyPress("a", Modifiers{Ctrl: true, Shift: true}), `{"type":"keyboard","action":"press","data":{"key":"a","ctrl":true,"shift":true}}`},
		{"text", KeyType("hi"), `{"type":"keyboard","action":"type","data":{"text":"hi"}}`},
		{"special", KeySpecial(KeyEscape), `{"type":"keyboard","action":"special","data":{"key":"escape"}}`},
		{"screen", ScreenSize(2560, 1440), `{"type":"screen","action":"size","data":{"width":2560,"height":1440}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Encode(tc.cmd)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, got)
		})
	}
}

func TestDecodeAcceptsHandWrittenMessages(t *testing.T) {
	cmd, err := Decode([]byte(`{"type":"mouse","action":"doubleClick","data":{"x":12,"y":34}}`))
	require.NoError(t, err)
	assert.Equal(t, MouseDoubleClick(12, 34), cmd)

	cmd, err = Decode([]byte(`{"type":"keyboard","action":"press","data":{"key":"v","meta":true}}`))
	require.NoError(t, err)
	assert.Equal(t, KeyPress("v", Modifiers{Meta: true}), cmd)
}

func TestDecodeRejectsInvalid(t *testing.T) {
	bad := []string{
		`not json`,
		`{"type":"gamepad","action":"press","data":{}}`,
		`{"type":"mouse","action":"press","data":{"x":1,"y":1}}`,
		`{"type":"mouse","action":"click","data":{"button":"left"}}`,
		`{"type":"keyboard","action":"special","data":{"key":"f13"}}`,
		`{"type":"screen","action":"size","data":{"width":0,"height":10}}`,
	}
	for _, msg := range bad {
		_, err := Decode([]byte(msg))
		assert.ErrorIs(t, err, fault.ErrConfiguration, msg)
	}
}

type recordingInjector struct {
	cmds []Command
}

func (r *recordingInjector) Inject(cmd Command) error {
	r.cmds = append(r.cmds, cmd)
	return nil
}

func TestDispatcherRoutesCommands(t *testing.T) {
	inj := &recordingInjector{}
	d := NewDispatcher(inj, testLogger())
	var screen ScreenData
	d.OnScreenSize(func(s ScreenData) { screen = s })

	d.Handle([]byte(`{"type":"mouse","action":"move","data":{"x":1,"y":2}}`))
	d.Handle([]byte(`garbage`))
	d.Handle([]byte(`{"type":"screen","action":"size","data":{"width":1280,"height":720}}`))

	require.Len(t, inj.cmds, 1)
	assert.Equal(t, MouseMove(1, 2), inj.cmds[0])
	assert.Equal(t, ScreenData{Width: 1280, Height: 720}, screen)
	assert.NoError(t, LogInjector{Logger: testLogger()}.Inject(inj.cmds[0]))
}
