package uploader

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn scripts the peer's side: every Send is recorded and every
// Receive returns the next ack.
type fakeConn struct {
	sent    []string
	recvErr error
	sendErr error
	closed  bool
}

func (c *fakeConn) Send(msg string) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) Receive() (string, error) {
	if c.recvErr != nil {
		return "", c.recvErr
	}
	return "NEXT", nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func writeFile(t *testing.T, size int) string {
	t.Helper()
	raw := make([]byte, size)
	for i := range raw {
		raw[i] = byte(i)
	}
	path := filepath.Join(t.TempDir(), "bundle.journal")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func waitDone(t *testing.T, s *Sender) error {
	t.Helper()
	select {
	case err := <-s.Done:
		return err
	case <-time.After(time.Second):
		t.Fatal("sender never finished")
		return nil
	}
}

func TestSenderChunksPayload(t *testing.T) {
	// 3750 raw bytes encode to exactly 5000, so the wire sees 2048+2048+904.
	path := writeFile(t, 3750)
	conn := &fakeConn{}
	s, err := NewSender(path, conn)
	require.NoError(t, err)

	s.Start()
	require.NoError(t, waitDone(t, s))

	require.Len(t, conn.sent, 3)
	assert.Len(t, conn.sent[0], ChunkSize)
	assert.Len(t, conn.sent[1], ChunkSize)
	assert.Len(t, conn.sent[2], 904)
	assert.True(t, conn.closed)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(conn.sent[0] + conn.sent[1] + conn.sent[2])
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestSenderEmptyFile(t *testing.T) {
	path := writeFile(t, 0)
	conn := &fakeConn{}
	s, err := NewSender(path, conn)
	require.NoError(t, err)

	s.Start()
	require.NoError(t, waitDone(t, s))
	assert.Empty(t, conn.sent)
	assert.True(t, conn.closed)
}

func TestSenderAbandonsOnSendError(t *testing.T) {
	path := writeFile(t, 100)
	boom := errors.New("peer gone")
	conn := &fakeConn{sendErr: boom}
	s, err := NewSender(path, conn)
	require.NoError(t, err)

	s.Start()
	require.ErrorIs(t, waitDone(t, s), boom)
	assert.True(t, conn.closed)
}

func TestSenderAbandonsOnMissingAck(t *testing.T) {
	path := writeFile(t, 100)
	boom := errors.New("read: connection reset")
	conn := &fakeConn{recvErr: boom}
	s, err := NewSender(path, conn)
	require.NoError(t, err)

	s.Start()
	require.ErrorIs(t, waitDone(t, s), boom)
	require.Len(t, conn.sent, 1) // first chunk went out, no second without an ack
}

func TestNewSenderMissingFile(t *testing.T) {
	_, err := NewSender(filepath.Join(t.TempDir(), "nope"), &fakeConn{})
	require.Error(t, err)
}

func TestMessengerSendsEnvelopeAndCloses(t *testing.T) {
	conn := &fakeConn{}
	m := &Messenger{
		url:  "ws://host/websocket",
		dial: func(url string) (MessageConn, error) { return conn, nil },
	}

	payload := map[string]string{"object_id": "abc", "from": "Walter"}
	require.NoError(t, m.Send(TypeDownloaded, payload))

	require.Len(t, conn.sent, 1)
	var got envelope
	require.NoError(t, json.Unmarshal([]byte(conn.sent[0]), &got))
	assert.Equal(t, TypeDownloaded, got.TypeMessage)
	assert.Equal(t, map[string]any{"object_id": "abc", "from": "Walter"}, got.Message)
	assert.True(t, conn.closed)
}

func TestMessengerDialFailure(t *testing.T) {
	boom := errors.New("connection refused")
	m := &Messenger{
		url:  "ws://host/websocket",
		dial: func(url string) (MessageConn, error) { return nil, boom },
	}
	require.ErrorIs(t, m.Send(TypeDownloaded, nil), boom)
}
