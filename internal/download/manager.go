// Package download fetches shared items from a host peer into the local
// journal: plain payloads become plain objects, .journal bundles are
// unpacked and absorbed with their metadata and preview, and the host is
// told who downloaded what.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"journalshare/internal/fsutil"
	"journalshare/internal/journal"
	"journalshare/internal/store"
	"journalshare/internal/uploader"
)

// ErrInsufficientSpace reports a pre-flight free-space check failure. The
// download is not retried.
var ErrInsufficientSpace = errors.New("not enough space to download")

// Manager is the registry of active downloads for one viewer instance.
// There is no package-level state: collaborators hold a *Manager.
type Manager struct {
	store     store.Store
	dir       string // instance scratch dir
	owner     journal.Identity
	notifyURL string // ws://host:port/websocket, empty disables notification
	client    *http.Client

	// enoughSpace is swapped in tests to exercise the refusal path.
	enoughSpace func(size int64, path string) bool

	mu     sync.Mutex
	active map[*Download]struct{}
}

// Download is one in-flight transfer.
type Download struct {
	Source string
	cancel context.CancelFunc
}

// Cancel aborts the transfer. The pending Fetch returns a context error.
func (d *Download) Cancel() { d.cancel() }

func New(st store.Store, instanceDir string, owner journal.Identity, notifyURL string) *Manager {
	return &Manager{
		store:       st,
		dir:         instanceDir,
		owner:       owner,
		notifyURL:   notifyURL,
		client:      http.DefaultClient,
		enoughSpace: fsutil.EnoughSpace,
		active:      map[*Download]struct{}{},
	}
}

// Num returns the number of active downloads.
func (m *Manager) Num() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// CanQuit reports whether no downloads are in flight.
func (m *Manager) CanQuit() bool { return m.Num() == 0 }

// Active returns a snapshot of the in-flight downloads.
func (m *Manager) Active() []*Download {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Download, 0, len(m.active))
	for d := range m.active {
		out = append(out, d)
	}
	return out
}

// RemoveAll cancels every active download.
func (m *Manager) RemoveAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for d := range m.active {
		d.cancel()
	}
}

// Fetch downloads rawURL into the local journal and returns the created
// object. Bundles (.journal) are unpacked and ingested with their metadata;
// everything else is stored as-is with a sniffed mime type.
func (m *Manager) Fetch(ctx context.Context, rawURL string) (*store.Object, error) {
	ctx, cancel := context.WithCancel(ctx)
	d := &Download{Source: rawURL, cancel: cancel}
	m.mu.Lock()
	m.active[d] = struct{}{}
	m.mu.Unlock()
	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.active, d)
		m.mu.Unlock()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: %s", rawURL, resp.Status)
	}

	name := suggestedName(rawURL)
	if size := resp.ContentLength; size > 0 && !m.enoughSpace(size, m.dir) {
		free, _ := fsutil.FreeSpace(m.dir)
		avail := float64(free-fsutil.SpaceThreshold) / (1024 * 1024)
		if avail < 0 {
			avail = 0
		}
		return nil, fmt.Errorf("%w: %q requires %.2f MB, only %.2f MB available",
			ErrInsufficientSpace, name, float64(size)/(1024*1024), avail)
	}

	tmp, err := os.CreateTemp(m.dir, "dl-*-"+name)
	if err != nil {
		return nil, err
	}
	destPath := tmp.Name()
	defer os.Remove(destPath)
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	if strings.HasSuffix(name, journal.Extension) {
		return m.ingestBundle(ctx, destPath)
	}
	return m.ingestPlain(ctx, destPath, name, rawURL)
}

// ingestBundle absorbs a packaged journal object and notifies the host.
func (m *Manager) ingestBundle(ctx context.Context, bundlePath string) (*store.Object, error) {
	scratch, err := os.MkdirTemp(m.dir, "unpack-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(scratch)

	md, preview, dataPath, err := journal.Unpack(bundlePath, scratch)
	if err != nil {
		return nil, err
	}
	obj, err := m.store.Create(ctx, dataPath, md, preview)
	if err != nil {
		return nil, err
	}

	if m.notifyURL != "" {
		payload := map[string]any{
			"object_id": md[journal.KeyOriginalObjectID],
			"from":      m.owner.From,
			"icon":      m.owner.Icon,
		}
		if err := uploader.NewMessenger(m.notifyURL).Send(uploader.TypeDownloaded, payload); err != nil {
			log.Printf("download: notify host: %v", err)
		}
	}
	return obj, nil
}

// ingestPlain stores a non-bundle payload with basic metadata.
func (m *Manager) ingestPlain(ctx context.Context, filePath, name, source string) (*store.Object, error) {
	md := journal.Metadata{
		journal.KeyTitle:       name,
		journal.KeyDescription: "From: " + source,
		journal.KeyMimeType:    mimeForName(name),
	}
	return m.store.Create(ctx, filePath, md, nil)
}

func suggestedName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "download"
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "download"
	}
	return name
}

func mimeForName(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
