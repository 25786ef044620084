package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	sizeFieldLen = 4

	// HeaderSize is the length of the size prefix plus the key byte.
	HeaderSize = sizeFieldLen + 1

	// DefaultMaxFrameSize bounds an inbound frame, header included.
	DefaultMaxFrameSize = 512

	// JoinFieldSize is the fixed width of each string field in a Join payload.
	JoinFieldSize = 64
	// JoinPayloadSize is the exact payload length of a Join frame.
	JoinPayloadSize = 2 * JoinFieldSize

	// EnvelopeSeparator delimits the fields of a server broadcast envelope.
	EnvelopeSeparator = "::"
)

// Packet keys. Any key >= KeyData is an opaque data frame.
const (
	KeyJoin  uint8 = 1
	KeyLeave uint8 = 2
	KeyData  uint8 = 3
)

// ErrNeedMoreData is returned when the buffered bytes do not yet hold a full frame.
var ErrNeedMoreData = errors.New("protocol: need more data")

// FormatError reports a frame that can never become valid no matter how
// many more bytes arrive.
type FormatError struct {
	Size   uint32
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("protocol: malformed frame (size %d): %s", e.Size, e.Reason)
}

// Kind is the closed set of packet categories carried by the protocol.
type Kind uint8

const (
	KindData Kind = iota
	KindJoin
	KindLeave
)

func (k Kind) String() string {
	switch k {
	case KindJoin:
		return "join"
	case KindLeave:
		return "leave"
	default:
		return "data"
	}
}

// Packet is a decoded frame. Packets are treated as immutable once built.
type Packet struct {
	Key     uint8
	Payload []byte
}

// Kind maps the wire key onto its category.
func (p Packet) Kind() Kind {
	switch p.Key {
	case KeyJoin:
		return KindJoin
	case KeyLeave:
		return KindLeave
	default:
		return KindData
	}
}

// Size returns the encoded frame length, header included.
func (p Packet) Size() uint32 {
	return uint32(HeaderSize + len(p.Payload))
}

// JoinInfo is the content of a Join payload with padding removed.
type JoinInfo struct {
	ID      string
	Version string
}

// Join parses the payload of a Join packet.
func (p Packet) Join() (JoinInfo, error) {
	if p.Key != KeyJoin {
		return JoinInfo{}, fmt.Errorf("protocol: packet key %d is not a join", p.Key)
	}
	if len(p.Payload) != JoinPayloadSize {
		return JoinInfo{}, fmt.Errorf("protocol: join payload is %d bytes, want %d", len(p.Payload), JoinPayloadSize)
	}
	return JoinInfo{
		ID:      trimField(p.Payload[:JoinFieldSize]),
		Version: trimField(p.Payload[JoinFieldSize:]),
	}, nil
}

func trimField(b []byte) string {
	return strings.Trim(string(b), "\x00 ")
}

// NewJoin builds a Join packet. Fields longer than JoinFieldSize are truncated,
// shorter ones are NUL padded.
func NewJoin(id, version string) Packet {
	payload := make([]byte, JoinPayloadSize)
	copy(payload[:JoinFieldSize], id)
	copy(payload[JoinFieldSize:], version)
	return Packet{Key: KeyJoin, Payload: payload}
}

// NewLeave builds an empty Leave packet.
func NewLeave() Packet {
	return Packet{Key: KeyLeave}
}

// NewData builds a data packet with the default data key.
func NewData(payload []byte) Packet {
	return Packet{Key: KeyData, Payload: payload}
}

// Encode returns the wire form of p: [uint32 size][uint8 key][payload], big-endian.
func Encode(p Packet) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return AppendFrame(make([]byte, 0, HeaderSize+len(p.Payload)), p.Key, p.Payload), nil
}

// AppendFrame appends a frame with the given key and payload to dst.
// The caller is responsible for the key and payload being valid.
func AppendFrame(dst []byte, key uint8, payload []byte) []byte {
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:sizeFieldLen], uint32(HeaderSize+len(payload)))
	hdr[sizeFieldLen] = key
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// Validate checks p against the layout a client must send: a non-zero key, a
// Join payload of exactly JoinPayloadSize bytes and an empty Leave payload.
// Relayed frames carry an envelope instead and do not pass it.
func (p Packet) Validate() error {
	size := uint64(HeaderSize) + uint64(len(p.Payload))
	if size > math.MaxUint32 {
		return &FormatError{Size: math.MaxUint32, Reason: "payload does not fit a 32-bit size"}
	}
	switch {
	case p.Key == 0:
		return &FormatError{Size: uint32(size), Reason: "key 0 is reserved"}
	case p.Key == KeyJoin && len(p.Payload) != JoinPayloadSize:
		return &FormatError{Size: uint32(size), Reason: fmt.Sprintf("join payload must be %d bytes", JoinPayloadSize)}
	case p.Key == KeyLeave && len(p.Payload) != 0:
		return &FormatError{Size: uint32(size), Reason: "leave payload must be empty"}
	}
	return nil
}

// Decode reads one frame from the front of data. It returns the packet and
// the number of bytes consumed, ErrNeedMoreData when data holds only part of
// a frame, or a *FormatError when the framing is invalid (size below the
// header, size above maxFrameSize, key 0). Payload layout is not checked; see
// Packet.Validate. A maxFrameSize of 0 disables the upper bound. The returned
// payload does not alias data.
func Decode(data []byte, maxFrameSize int) (Packet, int, error) {
	if len(data) < sizeFieldLen {
		return Packet{}, 0, ErrNeedMoreData
	}

	size := binary.BigEndian.Uint32(data[:sizeFieldLen])
	if size < HeaderSize {
		return Packet{}, 0, &FormatError{Size: size, Reason: fmt.Sprintf("smaller than the %d byte header", HeaderSize)}
	}
	if maxFrameSize > 0 && uint64(size) > uint64(maxFrameSize) {
		return Packet{}, 0, &FormatError{Size: size, Reason: fmt.Sprintf("exceeds maximum frame size %d", maxFrameSize)}
	}
	if uint64(len(data)) < uint64(size) {
		return Packet{}, 0, ErrNeedMoreData
	}

	key := data[sizeFieldLen]
	if key == 0 {
		return Packet{}, 0, &FormatError{Size: size, Reason: "key 0 is reserved"}
	}

	p := Packet{Key: key}
	if body := data[HeaderSize:size]; len(body) > 0 {
		p.Payload = bytes.Clone(body)
	}
	return p, int(size), nil
}

// Decoder reassembles frames from a byte stream delivered in arbitrary chunks.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf []byte
	max int
}

// NewDecoder returns a Decoder enforcing maxFrameSize (0 = unbounded).
func NewDecoder(maxFrameSize int) *Decoder {
	return &Decoder{max: maxFrameSize}
}

// Feed appends stream bytes to the internal buffer.
func (d *Decoder) Feed(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// Next returns the next complete packet, ErrNeedMoreData, or a *FormatError.
// After a FormatError the stream is unrecoverable.
func (d *Decoder) Next() (Packet, error) {
	p, n, err := Decode(d.buf, d.max)
	if err != nil {
		return Packet{}, err
	}
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
	return p, nil
}

// Buffered reports how many bytes are waiting for a complete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Envelope is the server's textual wrapping of a relayed packet:
// {senderId}::{playerCount}::{content}.
type Envelope struct {
	SenderID string
	Players  int
	Content  []byte
}

// AppendEnvelope appends the envelope encoding to dst.
func AppendEnvelope(dst []byte, senderID string, players int, content []byte) []byte {
	dst = append(dst, senderID...)
	dst = append(dst, EnvelopeSeparator...)
	dst = strconv.AppendInt(dst, int64(players), 10)
	dst = append(dst, EnvelopeSeparator...)
	return append(dst, content...)
}

// ParseEnvelope splits an envelope produced by AppendEnvelope. Content aliases b.
func ParseEnvelope(b []byte) (Envelope, error) {
	sep := []byte(EnvelopeSeparator)

	i := bytes.Index(b, sep)
	if i < 0 {
		return Envelope{}, errors.New("protocol: envelope has no sender separator")
	}
	sender, rest := b[:i], b[i+len(sep):]

	j := bytes.Index(rest, sep)
	if j < 0 {
		return Envelope{}, errors.New("protocol: envelope has no player count separator")
	}
	players, err := strconv.Atoi(string(rest[:j]))
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: envelope player count: %w", err)
	}

	return Envelope{
		SenderID: string(sender),
		Players:  players,
		Content:  rest[j+len(sep):],
	}, nil
}
