package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := New(Configuration, "refresh", errors.New("not hosting"))

	assert.ErrorIs(t, err, ErrConfiguration)
	assert.NotErrorIs(t, err, ErrTransport)
	assert.Equal(t, "refresh: configuration error: not hosting", err.Error())
}

func TestKindOfThroughWrapping(t *testing.T) {
	inner := Newf(PeerLost, "", "host disconnected")
	wrapped := fmt.Errorf("session: %w", inner)

	assert.Equal(t, PeerLost, KindOf(wrapped))
	assert.ErrorIs(t, wrapped, ErrPeerLost)
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := errors.New("dial refused")
	err := New(Transport, "connect", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "transport", Transport.String())
	assert.Equal(t, "session not found", SessionNotFound.String())
}
