package download

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"journalshare/internal/journal"
	"journalshare/internal/store"
)

var owner = journal.Identity{From: "viewer", Icon: []string{"#111111", "#222222"}}

func newManager(t *testing.T, notifyURL string) (*Manager, *store.Local) {
	t.Helper()
	st, err := store.NewLocal(t.TempDir())
	require.NoError(t, err)
	return New(st, t.TempDir(), owner, notifyURL), st
}

func serveFiles(t *testing.T, files map[string][]byte) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestFetchPlainPayload(t *testing.T) {
	ts := serveFiles(t, map[string][]byte{"/photo.png": []byte("pngbytes")})
	m, _ := newManager(t, "")

	obj, err := m.Fetch(context.Background(), ts.URL+"/photo.png")
	require.NoError(t, err)
	assert.Equal(t, "photo.png", obj.Metadata[journal.KeyTitle])
	assert.Equal(t, "From: "+ts.URL+"/photo.png", obj.Metadata[journal.KeyDescription])
	assert.Equal(t, "image/png", obj.Metadata[journal.KeyMimeType])

	data, err := os.ReadFile(obj.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "pngbytes", string(data))
}

func TestFetchBundleNotifiesHost(t *testing.T) {
	var bundle bytes.Buffer
	require.NoError(t, journal.Pack(&bundle, strings.NewReader("shared data"),
		journal.Metadata{"title": "shared"}, []byte("png"), "host-object-7"))
	ts := serveFiles(t, map[string][]byte{"/id_abc.journal": bundle.Bytes()})

	notified := make(chan string, 1)
	host := httptest.NewServer(websocket.Handler(func(ws *websocket.Conn) {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err == nil {
			notified <- msg
		}
		_ = ws.Close()
	}))
	t.Cleanup(host.Close)
	notifyURL := "ws" + strings.TrimPrefix(host.URL, "http") + "/websocket"

	m, st := newManager(t, notifyURL)
	obj, err := m.Fetch(context.Background(), ts.URL+"/id_abc.journal")
	require.NoError(t, err)

	assert.Equal(t, "shared", obj.Metadata["title"])
	assert.Equal(t, "host-object-7", obj.Metadata[journal.KeyOriginalObjectID])
	assert.Equal(t, []byte("png"), obj.Preview)

	got, err := st.Get(context.Background(), obj.ID)
	require.NoError(t, err)
	data, err := os.ReadFile(got.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "shared data", string(data))

	select {
	case msg := <-notified:
		var env struct {
			TypeMessage string `json:"type_message"`
			Message     struct {
				ObjectID string   `json:"object_id"`
				From     string   `json:"from"`
				Icon     []string `json:"icon"`
			} `json:"message"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg), &env))
		assert.Equal(t, "DOWNLOADED", env.TypeMessage)
		assert.Equal(t, "host-object-7", env.Message.ObjectID)
		assert.Equal(t, owner.From, env.Message.From)
		assert.Equal(t, owner.Icon, env.Message.Icon)
	case <-time.After(2 * time.Second):
		t.Fatal("host never received the notification")
	}
}

func TestFetchBundleNoNotifyURL(t *testing.T) {
	var bundle bytes.Buffer
	require.NoError(t, journal.Pack(&bundle, strings.NewReader("x"),
		journal.Metadata{"title": "t"}, nil, "id-1"))
	ts := serveFiles(t, map[string][]byte{"/id_x.journal": bundle.Bytes()})

	m, _ := newManager(t, "")
	obj, err := m.Fetch(context.Background(), ts.URL+"/id_x.journal")
	require.NoError(t, err)
	assert.Equal(t, "t", obj.Metadata["title"])
}

func TestFetchRefusedWhenLowOnSpace(t *testing.T) {
	ts := serveFiles(t, map[string][]byte{"/big.bin": make([]byte, 4096)})
	m, _ := newManager(t, "")
	m.enoughSpace = func(size int64, path string) bool { return false }

	_, err := m.Fetch(context.Background(), ts.URL+"/big.bin")
	require.ErrorIs(t, err, ErrInsufficientSpace)
	assert.Contains(t, err.Error(), `"big.bin"`)
	assert.Zero(t, m.Num())
}

func TestFetchHTTPError(t *testing.T) {
	ts := serveFiles(t, nil)
	m, _ := newManager(t, "")
	_, err := m.Fetch(context.Background(), ts.URL+"/gone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetchMalformedBundle(t *testing.T) {
	ts := serveFiles(t, map[string][]byte{"/bad.journal": []byte("not a zip")})
	m, _ := newManager(t, "")
	_, err := m.Fetch(context.Background(), ts.URL+"/bad.journal")
	require.ErrorIs(t, err, journal.ErrMalformedArchive)
}

func TestRemoveAllCancelsActive(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	t.Cleanup(func() { close(release); ts.Close() })

	m, _ := newManager(t, "")
	errs := make(chan error, 1)
	go func() {
		_, err := m.Fetch(context.Background(), ts.URL+"/slow.bin")
		errs <- err
	}()

	require.Eventually(t, func() bool { return m.Num() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, m.CanQuit())
	require.Len(t, m.Active(), 1)
	assert.Equal(t, ts.URL+"/slow.bin", m.Active()[0].Source)
	m.RemoveAll()

	select {
	case err := <-errs:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch not cancelled")
	}
	assert.Zero(t, m.Num())
	assert.True(t, m.CanQuit())
}

func TestSuggestedName(t *testing.T) {
	assert.Equal(t, "a.journal", suggestedName("http://h:8000/datastore/a.journal"))
	assert.Equal(t, "download", suggestedName("http://h:8000/"))
	assert.Equal(t, "download", suggestedName("://bad"))
}

func TestMimeForName(t *testing.T) {
	assert.Equal(t, "image/png", mimeForName("x.png"))
	assert.Equal(t, "application/octet-stream", mimeForName("x.weirdext"))
}
