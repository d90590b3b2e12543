// Package httpserver is the catalog push server: it serves the web front
// end, rendered icons and packaged bundles, and runs the two websocket
// endpoints (catalog notifications and upload intake).
package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"golang.org/x/net/websocket"

	"journalshare/internal/catalog"
	"journalshare/internal/fsutil"
	"journalshare/internal/journal"
	"journalshare/internal/wsupload"
)

// EchoPrefix is prepended to unrecognized notification-channel messages and
// sent back. Legacy behavior some front ends probe for; do not change.
const EchoPrefix = "You said: "

// JournalContentType marks bundle payloads served from the instance dir.
const JournalContentType = "application/journal"

// typeDownloaded matches uploader.TypeDownloaded; duplicated so the server
// does not depend on the client package.
const typeDownloaded = "DOWNLOADED"

type Options struct {
	// WebDir is the bundle's static asset directory (index.html, images/).
	WebDir string
	// Catalog owns selection state and the instance scratch dir.
	Catalog *catalog.Manager
}

type Server struct {
	webDir      string
	instanceDir string
	catalog     *catalog.Manager
}

func New(opts Options) (*Server, error) {
	return &Server{
		webDir:      opts.WebDir,
		instanceDir: opts.Catalog.InstanceDir(),
		catalog:     opts.Catalog,
	}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// health
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})

	// static assets
	mux.HandleFunc("/web/", func(w http.ResponseWriter, r *http.Request) {
		s.serveFrom(w, r, s.webDir, strings.TrimPrefix(r.URL.Path, "/web/"), "")
	})

	// rendered icons
	mux.HandleFunc("/icon/", s.handleIcon)

	// packaged bundles, previews, metadata
	mux.HandleFunc("/datastore/", func(w http.ResponseWriter, r *http.Request) {
		s.serveFrom(w, r, s.instanceDir, strings.TrimPrefix(r.URL.Path, "/datastore/"), JournalContentType)
	})

	// catalog notifications + upload intake
	mux.Handle("/websocket/upload", websocket.Handler(s.handleUpload))
	mux.Handle("/websocket", websocket.Handler(s.handleNotify))

	return mux
}

// serveFrom serves one file scoped under root; traversal outside root is
// rejected.
func (s *Server) serveFrom(w http.ResponseWriter, r *http.Request, root, rel, contentType string) {
	abs, err := fsutil.JoinWithinRoot(root, rel)
	if err != nil {
		http.Error(w, "bad path", http.StatusBadRequest)
		return
	}
	st, err := os.Stat(abs)
	if err != nil || st.IsDir() {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(abs)
	if err != nil {
		http.Error(w, "open failed", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}

// downloadedMessage is the inbound notification a viewer sends after it
// finished absorbing a bundle.
type downloadedMessage struct {
	TypeMessage string `json:"type_message"`
	Message     struct {
		ObjectID string   `json:"object_id"`
		From     string   `json:"from"`
		Icon     []string `json:"icon"`
	} `json:"message"`
}

// handleNotify runs one catalog notification subscriber. Nothing is sent on
// open; every catalog update pushes the full snapshot. Inbound DOWNLOADED
// messages are routed to the catalog; anything else is echoed back.
func (s *Server) handleNotify(ws *websocket.Conn) {
	defer ws.Close()
	snapshots, cancel := s.catalog.Subscribe()
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	inbound := make(chan string)
	go func() {
		defer close(inbound)
		for {
			var msg string
			if err := websocket.Message.Receive(ws, &msg); err != nil {
				return
			}
			select {
			case inbound <- msg:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case snap := <-snapshots:
			if err := websocket.Message.Send(ws, string(snap)); err != nil {
				return
			}
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			s.dispatchNotifyMessage(ws, msg)
		}
	}
}

func (s *Server) dispatchNotifyMessage(ws *websocket.Conn, msg string) {
	var dl downloadedMessage
	if err := json.Unmarshal([]byte(msg), &dl); err == nil && dl.TypeMessage == typeDownloaded {
		who := journal.Identity{From: dl.Message.From, Icon: dl.Message.Icon}
		if err := s.catalog.RecordDownload(context.Background(), dl.Message.ObjectID, who); err != nil {
			log.Printf("httpserver: record download %s: %v", dl.Message.ObjectID, err)
		}
		return
	}
	if err := websocket.Message.Send(ws, EchoPrefix+msg); err != nil {
		log.Printf("httpserver: echo: %v", err)
	}
}

// handleUpload runs one upload session: every chunk is appended and acked,
// and the connection closing finalizes the session.
func (s *Server) handleUpload(ws *websocket.Conn) {
	defer ws.Close()
	sess, err := wsupload.NewSession(s.instanceDir, func(filePath string, md journal.Metadata, preview []byte) error {
		return s.catalog.IngestUploadedItem(context.Background(), filePath, md, preview)
	})
	if err != nil {
		log.Printf("httpserver: upload session: %v", err)
		return
	}
	for {
		var chunk []byte
		if err := websocket.Message.Receive(ws, &chunk); err != nil {
			break
		}
		ack, err := sess.Append(chunk)
		if err != nil {
			log.Printf("httpserver: upload chunk: %v", err)
			return
		}
		if err := websocket.Message.Send(ws, ack); err != nil {
			break
		}
	}
	if err := sess.Close(); err != nil {
		log.Printf("httpserver: upload discarded: %v", err)
	}
}
