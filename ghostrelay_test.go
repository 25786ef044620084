package ghostrelay_test

import (
	"errors"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/luciancaetano/ghostrelay"
)

func TestStateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state ghostrelay.State
		want  string
	}{
		{ghostrelay.StateConnecting, "connecting"},
		{ghostrelay.StateActive, "active"},
		{ghostrelay.StateClosing, "closing"},
		{ghostrelay.StateClosed, "closed"},
		{ghostrelay.State(42), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestListenError(t *testing.T) {
	t.Parallel()

	inner := &net.OpError{Op: "listen", Net: "tcp", Err: syscall.EADDRINUSE}
	var err error = &ghostrelay.ListenError{Network: "tcp", Addr: ":45565", Err: inner}

	assert.Contains(t, err.Error(), "listen tcp :45565")
	assert.True(t, errors.Is(err, syscall.EADDRINUSE))

	var le *ghostrelay.ListenError
	assert.True(t, errors.As(err, &le))
	assert.Equal(t, ":45565", le.Addr)
}
