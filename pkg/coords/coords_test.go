package coords

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomaslejdung/superdesk/pkg/fault"
)

func TestMapPhoneTapToScreenCenter(t *testing.T) {
	m := NewMapper(Size{Width: 390, Height: 844})

	got, err := m.Map(Point{X: 195, Y: 422})
	require.NoError(t, err)
	assert.InDelta(t, 960, got.X, 1)
	assert.InDelta(t, 540, got.Y, 1)
}

func TestMapCornersAreExact(t *testing.T) {
	cases := []struct {
		name   string
		view   Size
		remote Size
	}{
		{"phone to 1080p", Size{390, 844}, Size{1920, 1080}},
		{"tablet to 4k", Size{1024, 768}, Size{3840, 2160}},
		{"odd sizes", Size{333, 777}, Size{1366, 768}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			origin, err := Translate(tc.view, tc.remote, Point{})
			require.NoError(t, err)
			assert.Equal(t, Point{}, origin)

			corner, err := Translate(tc.view, tc.remote, Point{X: tc.view.Width, Y: tc.view.Height})
			require.NoError(t, err)
			assert.InDelta(t, tc.remote.Width, corner.X, 1)
			assert.InDelta(t, tc.remote.Height, corner.Y, 1)
		})
	}
}

func TestMapZeroViewIsConfigurationError(t *testing.T) {
	m := NewMapper(Size{Width: 0, Height: 844})

	_, err := m.Map(Point{X: 10, Y: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrConfiguration)

	_, err = Translate(Size{390, 844}, Size{1920, 0}, Point{X: 1, Y: 1})
	assert.ErrorIs(t, err, fault.ErrConfiguration)
}
