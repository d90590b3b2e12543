// Package uploader holds the client side of the sharing protocol: the
// chunked sender that drains an encoded bundle to the host's upload
// endpoint, and the one-shot messenger used for notification messages.
package uploader

import (
	"encoding/base64"
	"log"
	"os"

	"golang.org/x/net/websocket"
)

// ChunkSize is the number of encoded bytes per message.
const ChunkSize = 2048

// MessageConn is a message-oriented channel. The websocket connection
// satisfies it through wsConn; tests substitute fakes.
type MessageConn interface {
	Send(msg string) error
	Receive() (string, error)
	Close() error
}

type wsConn struct {
	ws *websocket.Conn
}

func (c wsConn) Send(msg string) error {
	return websocket.Message.Send(c.ws, msg)
}

func (c wsConn) Receive() (string, error) {
	var msg string
	err := websocket.Message.Receive(c.ws, &msg)
	return msg, err
}

func (c wsConn) Close() error { return c.ws.Close() }

// Dial opens a websocket message channel to url (ws://host:port/path).
func Dial(url string) (MessageConn, error) {
	ws, err := websocket.Dial(url, "", "http://localhost/")
	if err != nil {
		return nil, err
	}
	return wsConn{ws: ws}, nil
}

// Sender drains one local bundle across a message channel in fixed-size
// chunks of base64-encoded data. The protocol is strict ping-pong: each
// chunk waits for a reply before the next is sent, so at most one chunk is
// ever in flight.
type Sender struct {
	payload []byte // base64-encoded bundle
	conn    MessageConn

	// Done receives exactly one value when the channel has closed:
	// nil on success, the channel error otherwise.
	Done chan error
}

// NewSender encodes the file at filePath and prepares it for conn.
func NewSender(filePath string, conn MessageConn) (*Sender, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(encoded, raw)
	return &Sender{
		payload: encoded,
		conn:    conn,
		Done:    make(chan error, 1),
	}, nil
}

// Start runs the send loop on its own goroutine so the caller is never
// blocked. Completion is reported on Done.
func (s *Sender) Start() {
	go func() {
		err := s.run()
		if err != nil {
			log.Printf("uploader: send failed: %v", err)
		}
		s.Done <- err
	}()
}

// run sends the payload chunk by chunk and closes the channel when drained.
// An empty payload closes immediately. Any channel error abandons the
// session; there is no retry.
func (s *Sender) run() error {
	defer s.conn.Close()
	for off := 0; off < len(s.payload); off += ChunkSize {
		end := off + ChunkSize
		if end > len(s.payload) {
			end = len(s.payload)
		}
		if err := s.conn.Send(string(s.payload[off:end])); err != nil {
			return err
		}
		if _, err := s.conn.Receive(); err != nil {
			return err
		}
	}
	return nil
}
