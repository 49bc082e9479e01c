package assess

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closedEndpoint(t *testing.T) Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ep, err := ParseEndpoint(ln.Addr().String())
	require.NoError(t, err)
	ln.Close()
	return ep
}

func TestProbe(t *testing.T) {
	ctx := context.Background()

	t.Run("port closed", func(t *testing.T) {
		peer := newFakePeer()
		a := NewAssessor(peer.dial, fastTiming(), quietLogger())
		ok, msg := a.Probe(ctx, closedEndpoint(t), a.Timing().ProbeTimeout)
		assert.False(t, ok)
		assert.Equal(t, MsgPortNotOpen, msg)
		assert.Zero(t, peer.dials)
	})

	t.Run("no protocol session", func(t *testing.T) {
		peer := newFakePeer()
		peer.connectErr = errors.New("handshake refused")
		a := NewAssessor(peer.dial, fastTiming(), quietLogger())
		ok, msg := a.Probe(ctx, listenEndpoint(t), a.Timing().ProbeTimeout)
		assert.False(t, ok)
		assert.Equal(t, MsgNoSession, msg)
		assert.Equal(t, 1, peer.closeCount())
	})

	t.Run("unit 1 not served", func(t *testing.T) {
		peer := newFakePeer()
		peer.units = map[byte]bool{7: true}
		a := NewAssessor(peer.dial, fastTiming(), quietLogger())
		ok, msg := a.Probe(ctx, listenEndpoint(t), a.Timing().ProbeTimeout)
		assert.True(t, ok)
		assert.Equal(t, MsgNeedsValidUnit, msg)
		assert.Equal(t, 1, peer.closeCount())
	})

	t.Run("responding", func(t *testing.T) {
		peer := newFakePeer()
		a := NewAssessor(peer.dial, fastTiming(), quietLogger())
		ok, msg := a.Probe(ctx, listenEndpoint(t), a.Timing().ProbeTimeout)
		assert.True(t, ok)
		assert.Equal(t, MsgResponding, msg)
		calls := peer.readCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, readCall{fc: 3, address: 0, quantity: 1, unit: 1, at: calls[0].at}, calls[0])
	})

	t.Run("fault", func(t *testing.T) {
		peer := newFakePeer()
		peer.onRead = func(readCall) { panic("decoder blew up") }
		a := NewAssessor(peer.dial, fastTiming(), quietLogger())
		ok, msg := a.Probe(ctx, listenEndpoint(t), a.Timing().ProbeTimeout)
		assert.False(t, ok)
		assert.Equal(t, "decoder blew up", msg)
		assert.Equal(t, 1, peer.closeCount())
	})
}

func TestParseEndpoint(t *testing.T) {
	ep, err := ParseEndpoint("10.1.2.3")
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Host: "10.1.2.3", Port: 502}, ep)

	ep, err = ParseEndpoint("plc.local:5020")
	require.NoError(t, err)
	assert.Equal(t, "plc.local:5020", ep.String())

	_, err = ParseEndpoint("plc.local:notaport")
	assert.Error(t, err)
	_, err = ParseEndpoint("")
	assert.Error(t, err)
}
