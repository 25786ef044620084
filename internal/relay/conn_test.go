package relay

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/ghostrelay"
	"github.com/luciancaetano/ghostrelay/internal/protocol"
)

func pipeConn(t *testing.T, queueSize int) (*Conn, net.Conn) {
	t.Helper()

	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() {
		serverSide.Close()
		clientSide.Close()
	})

	cfg := DefaultConfig()
	cfg.QueueSize = queueSize
	cfg.WriteTimeout = 0
	return NewConn(serverSide, cfg, testLogger()), clientSide
}

// TestConnInitialState tests a freshly wrapped connection
func TestConnInitialState(t *testing.T) {
	t.Parallel()

	c, _ := pipeConn(t, 4)

	assert.Equal(t, ghostrelay.StateConnecting, c.State())
	assert.Equal(t, c.Key().String()[:8], c.ID())
	assert.Empty(t, c.Version())
	assert.NoError(t, c.Context().Err())
}

// TestConnStateOnlyAdvances tests that terminal states are never left
func TestConnStateOnlyAdvances(t *testing.T) {
	t.Parallel()

	c, _ := pipeConn(t, 4)

	assert.True(t, c.advance(ghostrelay.StateActive))
	assert.True(t, c.advance(ghostrelay.StateClosed))
	assert.False(t, c.advance(ghostrelay.StateActive))
	assert.False(t, c.advance(ghostrelay.StateClosing))
	assert.Equal(t, ghostrelay.StateClosed, c.State())
}

// TestConnSetIdentity tests that a join renames without touching the key
func TestConnSetIdentity(t *testing.T) {
	t.Parallel()

	c, _ := pipeConn(t, 4)
	key := c.Key()

	c.setIdentity(protocol.JoinInfo{ID: "ghost", Version: "1.2"})
	assert.Equal(t, "ghost", c.ID())
	assert.Equal(t, "1.2", c.Version())
	assert.Equal(t, key, c.Key())
}

// TestConnWriteLoop tests that queued frames reach the socket in order
func TestConnWriteLoop(t *testing.T) {
	t.Parallel()

	c, peer := pipeConn(t, 4)
	go c.writeLoop()

	require.NoError(t, c.Send([]byte("one")))
	require.NoError(t, c.Send([]byte("two")))

	buf := make([]byte, 6)
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := io.ReadFull(peer, buf)
	require.NoError(t, err)
	assert.Equal(t, "onetwo", string(buf))

	c.Close()
	select {
	case <-c.writerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("write loop did not stop")
	}
}

// TestConnOverflowDisconnects tests that a stalled reader gets disconnected
// instead of blocking the sender
func TestConnOverflowDisconnects(t *testing.T) {
	t.Parallel()

	c, _ := pipeConn(t, 2)
	c.advance(ghostrelay.StateActive)
	go c.writeLoop()

	// Nobody reads the pipe, so the write loop blocks on the first frame
	// and the queue fills up behind it.
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = c.Send([]byte("frame"))
		time.Sleep(time.Millisecond)
	}
	require.ErrorIs(t, err, ghostrelay.ErrQueueFull)

	assert.Equal(t, ghostrelay.StateClosing, c.State())
	assert.Error(t, c.Context().Err())
	assert.ErrorIs(t, c.Send([]byte("late")), ghostrelay.ErrConnectionClosed)

	select {
	case <-c.writerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("write loop did not stop after overflow")
	}
}

// TestConnCloseIdempotent tests repeated Close calls
func TestConnCloseIdempotent(t *testing.T) {
	t.Parallel()

	c, _ := pipeConn(t, 4)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	assert.Equal(t, ghostrelay.StateClosing, c.State())
}

// TestConnReject tests that a rejected connection goes straight to Closed
func TestConnReject(t *testing.T) {
	t.Parallel()

	c, peer := pipeConn(t, 4)
	c.reject()

	assert.Equal(t, ghostrelay.StateClosed, c.State())
	_, err := peer.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}
