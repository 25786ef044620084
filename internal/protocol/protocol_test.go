package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawFrame(size uint32, key uint8, payload []byte) []byte {
	out := make([]byte, HeaderSize, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(out, size)
	out[4] = key
	return append(out, payload...)
}

// TestEncode tests the wire layout produced by Encode
func TestEncode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		packet    Packet
		wantError bool
	}{
		{name: "data with payload", packet: NewData([]byte("hello"))},
		{name: "data with nil payload", packet: NewData(nil)},
		{name: "high data key", packet: Packet{Key: 0xFF, Payload: []byte{0x00, 0xFF}}},
		{name: "join", packet: NewJoin("ghost", "1.0.0")},
		{name: "leave", packet: NewLeave()},
		{name: "reserved key", packet: Packet{Key: 0, Payload: []byte("x")}, wantError: true},
		{name: "short join", packet: Packet{Key: KeyJoin, Payload: []byte("x")}, wantError: true},
		{name: "leave with payload", packet: Packet{Key: KeyLeave, Payload: []byte("x")}, wantError: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out, err := Encode(tt.packet)
			if tt.wantError {
				var fe *FormatError
				assert.ErrorAs(t, err, &fe)
				return
			}
			require.NoError(t, err)

			assert.Len(t, out, HeaderSize+len(tt.packet.Payload))
			assert.Equal(t, tt.packet.Size(), binary.BigEndian.Uint32(out[:4]))
			assert.Equal(t, tt.packet.Key, out[4])
			assert.True(t, bytes.Equal(tt.packet.Payload, out[HeaderSize:]))
		})
	}
}

// TestRoundTrip verifies decode(encode(p)) == p for valid packets
func TestRoundTrip(t *testing.T) {
	t.Parallel()

	packets := []Packet{
		NewJoin("player-1", "v0.3"),
		NewJoin("", ""),
		NewLeave(),
		NewData([]byte("ghost position 1.0 2.0 3.0")),
		NewData(bytes.Repeat([]byte{0xAB}, DefaultMaxFrameSize-HeaderSize)),
		{Key: 42, Payload: []byte{0, 1, 2, 3}},
	}

	for _, p := range packets {
		encoded, err := Encode(p)
		require.NoError(t, err)

		got, n, err := Decode(encoded, DefaultMaxFrameSize)
		require.NoError(t, err)
		assert.Equal(t, len(encoded), n)
		assert.Equal(t, p.Key, got.Key)
		assert.True(t, bytes.Equal(p.Payload, got.Payload), "payload mismatch for key %d", p.Key)
		assert.Equal(t, p.Size(), got.Size())
	}
}

// TestDecodeErrors tests frames that must be rejected or wait for more data
func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     []byte
		wantMore bool
	}{
		{name: "empty", data: nil, wantMore: true},
		{name: "partial size", data: []byte{0, 0, 0}, wantMore: true},
		{name: "partial payload", data: rawFrame(10, KeyData, []byte("ab")), wantMore: true},
		{name: "size zero", data: rawFrame(0, KeyData, nil)},
		{name: "size below header", data: rawFrame(4, KeyData, nil)},
		{name: "size above max", data: rawFrame(DefaultMaxFrameSize+1, KeyData, nil)},
		{name: "huge size header only", data: []byte{0xFF, 0xFF, 0xFF, 0xFF}},
		{name: "reserved key", data: rawFrame(6, 0, []byte("x"))},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, n, err := Decode(tt.data, DefaultMaxFrameSize)
			assert.Zero(t, n)
			if tt.wantMore {
				assert.ErrorIs(t, err, ErrNeedMoreData)
				return
			}
			var fe *FormatError
			assert.ErrorAs(t, err, &fe)
		})
	}
}

// TestDecodeRelayedFrames tests that frames built the way the relay builds
// them decode and split back into their envelope for every kind
func TestDecodeRelayedFrames(t *testing.T) {
	t.Parallel()

	join := NewJoin("y", "1.0")

	tests := []struct {
		name    string
		key     uint8
		content []byte
		players int
	}{
		{name: "join", key: KeyJoin, content: join.Payload, players: 2},
		{name: "leave", key: KeyLeave, content: nil, players: 1},
		{name: "data", key: KeyData, content: []byte("hello"), players: 2},
		{name: "high data key", key: 0xFE, content: []byte{0, 1, 2}, players: 3},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			frame := AppendFrame(nil, tt.key, AppendEnvelope(nil, "y", tt.players, tt.content))

			d := NewDecoder(0)
			d.Feed(frame)
			p, err := d.Next()
			require.NoError(t, err)
			assert.Equal(t, tt.key, p.Key)
			assert.Zero(t, d.Buffered())

			env, err := ParseEnvelope(p.Payload)
			require.NoError(t, err)
			assert.Equal(t, "y", env.SenderID)
			assert.Equal(t, tt.players, env.Players)
			assert.True(t, bytes.Equal(tt.content, env.Content))

			// An envelope is never a valid client frame for join or leave.
			if tt.key == KeyJoin || tt.key == KeyLeave {
				var fe *FormatError
				assert.ErrorAs(t, p.Validate(), &fe)
			}
		})
	}
}

// TestValidate tests the layout rules for frames sent by clients
func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		packet    Packet
		wantError bool
	}{
		{name: "join", packet: NewJoin("a", "1")},
		{name: "leave", packet: NewLeave()},
		{name: "data", packet: NewData([]byte("x"))},
		{name: "empty data", packet: NewData(nil)},
		{name: "reserved key", packet: Packet{Key: 0}, wantError: true},
		{name: "join one byte short", packet: Packet{Key: KeyJoin, Payload: make([]byte, JoinPayloadSize-1)}, wantError: true},
		{name: "join one byte long", packet: Packet{Key: KeyJoin, Payload: make([]byte, JoinPayloadSize+1)}, wantError: true},
		{name: "leave with payload", packet: Packet{Key: KeyLeave, Payload: []byte("x")}, wantError: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.packet.Validate()
			if !tt.wantError {
				assert.NoError(t, err)
				return
			}
			var fe *FormatError
			assert.ErrorAs(t, err, &fe)
		})
	}
}

// TestDecodeUnbounded tests that a zero max disables the size cap
func TestDecodeUnbounded(t *testing.T) {
	t.Parallel()

	p := NewData(bytes.Repeat([]byte("z"), 4096))
	encoded, err := Encode(p)
	require.NoError(t, err)

	_, _, err = Decode(encoded, DefaultMaxFrameSize)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, p.Size(), fe.Size)

	got, _, err := Decode(encoded, 0)
	require.NoError(t, err)
	assert.Len(t, got.Payload, 4096)
}

// TestDecodeDoesNotAlias tests that decoded payloads survive buffer reuse
func TestDecodeDoesNotAlias(t *testing.T) {
	t.Parallel()

	encoded, err := Encode(NewData([]byte("stable")))
	require.NoError(t, err)

	p, _, err := Decode(encoded, 0)
	require.NoError(t, err)

	for i := range encoded {
		encoded[i] = 0
	}
	assert.Equal(t, "stable", string(p.Payload))
}

// TestDecoderChunked feeds a stream one byte at a time
func TestDecoderChunked(t *testing.T) {
	t.Parallel()

	want := []Packet{
		NewJoin("a", "1"),
		NewData([]byte("first")),
		NewData([]byte("second")),
		NewLeave(),
	}

	var stream []byte
	for _, p := range want {
		b, err := Encode(p)
		require.NoError(t, err)
		stream = append(stream, b...)
	}

	d := NewDecoder(DefaultMaxFrameSize)
	var got []Packet
	for _, b := range stream {
		d.Feed([]byte{b})
		for {
			p, err := d.Next()
			if errors.Is(err, ErrNeedMoreData) {
				break
			}
			require.NoError(t, err)
			got = append(got, p)
		}
	}

	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Key, got[i].Key)
		assert.True(t, bytes.Equal(want[i].Payload, got[i].Payload))
	}
	assert.Zero(t, d.Buffered())
}

// TestDecoderRejectsBeforeBuffering tests that an oversized header fails
// without waiting for the body
func TestDecoderRejectsBeforeBuffering(t *testing.T) {
	t.Parallel()

	d := NewDecoder(64)
	d.Feed(rawFrame(1<<20, KeyData, nil)[:4])

	_, err := d.Next()
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.EqualValues(t, 1<<20, fe.Size)
}

// TestKind tests the mapping from key to category
func TestKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindJoin, Packet{Key: KeyJoin}.Kind())
	assert.Equal(t, KindLeave, Packet{Key: KeyLeave}.Kind())
	assert.Equal(t, KindData, Packet{Key: KeyData}.Kind())
	assert.Equal(t, KindData, Packet{Key: 200}.Kind())
	assert.Equal(t, "join", KindJoin.String())
	assert.Equal(t, "leave", KindLeave.String())
	assert.Equal(t, "data", KindData.String())
}

// TestJoin tests parsing of padded join fields
func TestJoin(t *testing.T) {
	t.Parallel()

	info, err := NewJoin("ghost-7", "2.1").Join()
	require.NoError(t, err)
	assert.Equal(t, JoinInfo{ID: "ghost-7", Version: "2.1"}, info)

	spaced := make([]byte, JoinPayloadSize)
	for i := range spaced {
		spaced[i] = ' '
	}
	copy(spaced, "x")
	copy(spaced[JoinFieldSize:], "v9")
	info, err = Packet{Key: KeyJoin, Payload: spaced}.Join()
	require.NoError(t, err)
	assert.Equal(t, "x", info.ID)
	assert.Equal(t, "v9", info.Version)

	long := bytes.Repeat([]byte("n"), 100)
	info, err = NewJoin(string(long), "").Join()
	require.NoError(t, err)
	assert.Len(t, info.ID, JoinFieldSize)

	_, err = NewData([]byte("x")).Join()
	assert.Error(t, err)
}

// TestEnvelope tests building and splitting the broadcast envelope
func TestEnvelope(t *testing.T) {
	t.Parallel()

	b := AppendEnvelope(nil, "y", 2, []byte("hello"))
	assert.Equal(t, "y::2::hello", string(b))

	env, err := ParseEnvelope(b)
	require.NoError(t, err)
	assert.Equal(t, "y", env.SenderID)
	assert.Equal(t, 2, env.Players)
	assert.Equal(t, "hello", string(env.Content))

	env, err = ParseEnvelope([]byte("gone::0::"))
	require.NoError(t, err)
	assert.Equal(t, "gone", env.SenderID)
	assert.Empty(t, env.Content)

	env, err = ParseEnvelope([]byte("a::3::x::y"))
	require.NoError(t, err)
	assert.Equal(t, "x::y", string(env.Content))

	for _, bad := range []string{"", "no-separator", "a::b", "a::notanumber::c"} {
		_, err := ParseEnvelope([]byte(bad))
		assert.Error(t, err, bad)
	}
}

// BenchmarkEncode benchmarks frame encoding
func BenchmarkEncode(b *testing.B) {
	p := NewData(bytes.Repeat([]byte("g"), 64))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Encode(p)
	}
}

// BenchmarkDecoder benchmarks stream reassembly
func BenchmarkDecoder(b *testing.B) {
	frame, _ := Encode(NewData(bytes.Repeat([]byte("g"), 64)))
	d := NewDecoder(DefaultMaxFrameSize)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Feed(frame)
		if _, err := d.Next(); err != nil {
			b.Fatal(err)
		}
	}
}
