// Package wsupload implements the server side of the chunked base64 upload
// protocol: a per-connection state machine that accumulates encoded chunks,
// acks each one, and on close decodes and unpacks the bundle.
//
// The package is transport-free; the websocket layer feeds it Append and
// Close events.
package wsupload

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"journalshare/internal/journal"
)

// AckToken is the reply sent for every received chunk. The sender reads it
// as permission to transmit the next chunk (strict ping-pong, one chunk in
// flight).
const AckToken = "NEXT"

// ErrDecode reports that the accumulated payload is not valid base64.
var ErrDecode = errors.New("corrupt base64 payload")

// State is the session's position in its lifecycle.
type State int

const (
	StateReceiving State = iota
	StateClosing
	StateIngested
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceiving:
		return "receiving"
	case StateClosing:
		return "closing"
	case StateIngested:
		return "ingested"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IngestFunc receives the unpacked bundle. It is called at most once per
// session, after a successful decode and unpack.
type IngestFunc func(filePath string, md journal.Metadata, preview []byte) error

// Session is the state for one upload connection. Sessions are never shared
// across connections and are not safe for concurrent use; the connection's
// read loop drives them serially.
type Session struct {
	dir    string
	buf    *os.File
	ingest IngestFunc
	state  State
}

// NewSession allocates session scratch state under scratchDir.
func NewSession(scratchDir string, ingest IngestFunc) (*Session, error) {
	dir, err := os.MkdirTemp(scratchDir, "upload-")
	if err != nil {
		return nil, err
	}
	buf, err := os.CreateTemp(dir, "encoded-")
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return &Session{dir: dir, buf: buf, ingest: ingest, state: StateReceiving}, nil
}

// State returns the session's current state.
func (s *Session) State() State { return s.state }

// Append accumulates one raw chunk verbatim and returns the ack token the
// peer must receive before sending the next chunk.
func (s *Session) Append(chunk []byte) (string, error) {
	if s.state != StateReceiving {
		return "", fmt.Errorf("append in state %s", s.state)
	}
	if _, err := s.buf.Write(chunk); err != nil {
		s.fail()
		return "", err
	}
	return AckToken, nil
}

// Close finalizes the session: the accumulated payload is base64-decoded,
// unpacked as a journal bundle, and handed to the ingest func. All session
// temp state is removed whether ingestion succeeds or fails.
func (s *Session) Close() error {
	if s.state != StateReceiving {
		return nil
	}
	s.state = StateClosing
	defer os.RemoveAll(s.dir)

	if err := s.buf.Close(); err != nil {
		s.state = StateFailed
		return err
	}
	encoded, err := os.ReadFile(s.buf.Name())
	if err != nil {
		s.state = StateFailed
		return err
	}

	decoded, err := decodePayload(encoded)
	if err != nil {
		s.state = StateFailed
		return err
	}

	archivePath := filepath.Join(s.dir, "bundle"+journal.Extension)
	if err := os.WriteFile(archivePath, decoded, 0o644); err != nil {
		s.state = StateFailed
		return err
	}
	md, preview, dataPath, err := journal.Unpack(archivePath, s.dir)
	if err != nil {
		s.state = StateFailed
		return err
	}
	if err := s.ingest(dataPath, md, preview); err != nil {
		s.state = StateFailed
		return err
	}
	s.state = StateIngested
	return nil
}

func (s *Session) fail() {
	s.state = StateFailed
	_ = s.buf.Close()
	_ = os.RemoveAll(s.dir)
}

// decodePayload decodes the accumulated base64 stream. Senders may wrap the
// encoding in newlines (MIME style); all whitespace is stripped first.
func decodePayload(encoded []byte) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(stripSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return decoded, nil
}

func stripSpace(b []byte) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n':
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
