package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/luciancaetano/ghostrelay/internal/protocol"
)

// Message is a relayed packet with its envelope split out.
type Message struct {
	Kind     protocol.Kind
	Key      uint8
	Envelope protocol.Envelope
}

// Client is a minimal relay client speaking the framed TCP protocol.
type Client struct {
	conn net.Conn
	dec  *protocol.Decoder

	wmu sync.Mutex
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, dec: protocol.NewDecoder(0)}
}

// Dial connects to a relay at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

func (c *Client) write(p protocol.Packet) error {
	frame, err := protocol.Encode(p)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.conn.Write(frame)
	return err
}

// Join announces id and version to the other players.
func (c *Client) Join(id, version string) error {
	return c.write(protocol.NewJoin(id, version))
}

// Send relays payload as a data packet.
func (c *Client) Send(payload []byte) error {
	return c.write(protocol.NewData(payload))
}

// Leave asks the relay to drop this connection.
func (c *Client) Leave() error {
	return c.write(protocol.NewLeave())
}

// Receive blocks until the next relayed message arrives.
func (c *Client) Receive() (Message, error) {
	buf := make([]byte, 1024)
	for {
		p, err := c.dec.Next()
		if err == nil {
			env, err := protocol.ParseEnvelope(p.Payload)
			if err != nil {
				return Message{}, err
			}
			return Message{Kind: p.Kind(), Key: p.Key, Envelope: env}, nil
		}
		if !errors.Is(err, protocol.ErrNeedMoreData) {
			return Message{}, err
		}

		n, err := c.conn.Read(buf)
		if n > 0 {
			c.dec.Feed(buf[:n])
			continue
		}
		if err == nil {
			err = io.ErrNoProgress
		}
		return Message{}, err
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
