// Package network provides the framed transport abstraction. A Connection
// carries whole frames; the newline delimiter of the TCP wire format never
// leaves this package.
package network

import (
	"bufio"
	"net"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Connection is a bidirectional framed byte stream to one client.
type Connection interface {
	// ReadFrame blocks until one full frame arrives and returns it without
	// its delimiter.
	ReadFrame() (string, error)
	// WriteFrame sends one frame. Implementations must serialize concurrent
	// writers so frames never interleave on the wire.
	WriteFrame(frame string) error
	Close() error
	RemoteAddr() net.Addr
}

// TCPConnection frames a raw TCP stream with a single '\n' per frame.
type TCPConnection struct {
	conn      net.Conn
	reader    *bufio.Reader
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewTCPConnection(conn net.Conn) *TCPConnection {
	return &TCPConnection{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 4096),
	}
}

func (c *TCPConnection) ReadFrame() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *TCPConnection) WriteFrame(frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write([]byte(frame + "\n"))
	return err
}

// Close shuts the socket down. Any blocked ReadFrame or WriteFrame returns
// with an error, which is how a session's pending I/O observes cancellation.
func (c *TCPConnection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *TCPConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// WSConnection adapts a websocket to the framed transport: one text message
// per frame, so browser clients speak the same protocol without newline
// bookkeeping.
type WSConnection struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewWSConnection(conn *websocket.Conn) *WSConnection {
	return &WSConnection{conn: conn}
}

func (c *WSConnection) ReadFrame() (string, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
}

func (c *WSConnection) WriteFrame(frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (c *WSConnection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *WSConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
