// Package catalog owns the authoritative record of which journal objects are
// shared, regenerates the serialized catalog snapshot on every mutation, and
// fans the new snapshot out to subscribers.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"journalshare/internal/journal"
	"journalshare/internal/store"
)

// allFavorites is the selection sentinel: share every favorite-flagged
// object instead of an explicit id list.
const allFavorites = "*"

// SnapshotName is the file the current snapshot is written to, inside the
// instance dir. Viewers fetch it implicitly through the websocket push.
const SnapshotName = "selected.json"

var (
	// ErrAllFavorites reports an append attempted while the selection is
	// the all-favorites sentinel. The sentinel is never silently converted
	// to an explicit list.
	ErrAllFavorites = errors.New("selection is the all-favorites marker")

	// ErrSnapshotWrite reports a failed snapshot replacement. The previous
	// on-disk snapshot is left intact.
	ErrSnapshotWrite = errors.New("snapshot write failed")
)

// Manager tracks the selection, rebuilds selected.json after every mutation
// and notifies subscribers. All mutations serialize on one mutex; a
// regeneration never runs concurrently with another.
type Manager struct {
	store       store.Store
	instanceDir string
	owner       journal.Identity

	mu        sync.Mutex
	selection []string
	subs      map[int]chan []byte
	nextSub   int
}

// New creates a manager writing its snapshot and packaged bundles into
// instanceDir. The owner identity is published as owner_info.json for the
// web front end, and an initial (empty) snapshot is generated.
func New(ctx context.Context, st store.Store, instanceDir string, owner journal.Identity) (*Manager, error) {
	if err := os.MkdirAll(instanceDir, 0o755); err != nil {
		return nil, err
	}
	m := &Manager{
		store:       st,
		instanceDir: instanceDir,
		owner:       owner,
		subs:        map[int]chan []byte{},
	}
	if err := m.writeOwnerInfo(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m, m.regenerateLocked(ctx)
}

func (m *Manager) writeOwnerInfo() error {
	info := map[string]string{
		"nick_name":    m.owner.From,
		"stroke_color": "",
		"fill_color":   "",
	}
	if len(m.owner.Icon) == 2 {
		info["stroke_color"] = m.owner.Icon[0]
		info["fill_color"] = m.owner.Icon[1]
	}
	b, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.instanceDir, "owner_info.json"), b, 0o644)
}

// Owner returns the local identity record.
func (m *Manager) Owner() journal.Identity { return m.owner }

// InstanceDir returns the scratch directory snapshots and bundles land in.
func (m *Manager) InstanceDir() string { return m.instanceDir }

// SnapshotPath returns the location of the current snapshot file.
func (m *Manager) SnapshotPath() string {
	return filepath.Join(m.instanceDir, SnapshotName)
}

// Selection returns a copy of the current selection (ids, or ["*"]).
func (m *Manager) Selection() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.selection...)
}

// AllFavoritesSelected reports whether the sentinel is active.
func (m *Manager) AllFavoritesSelected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allFavoritesLocked()
}

func (m *Manager) allFavoritesLocked() bool {
	return len(m.selection) == 1 && m.selection[0] == allFavorites
}

// SetSelection replaces the selection wholesale and regenerates.
func (m *Manager) SetSelection(ctx context.Context, items []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selection = append([]string(nil), items...)
	return m.regenerateLocked(ctx)
}

// SetAllFavorites switches the selection to the all-favorites sentinel.
func (m *Manager) SetAllFavorites(ctx context.Context) error {
	return m.SetSelection(ctx, []string{allFavorites})
}

// AppendItem adds one object id to an explicit selection. It fails with
// ErrAllFavorites while the sentinel is active.
func (m *Manager) AppendItem(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendItemLocked(ctx, id)
}

func (m *Manager) appendItemLocked(ctx context.Context, id string) error {
	if m.allFavoritesLocked() {
		return ErrAllFavorites
	}
	m.selection = append(m.selection, id)
	return m.regenerateLocked(ctx)
}

// RecordDownload appends who to the object's downloaded_by metadata list and
// regenerates. Existing downloader records and all other metadata are kept.
func (m *Manager) RecordDownload(ctx context.Context, id string, who journal.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	downloaders := append(obj.Metadata.Downloaders(), who)
	b, err := json.Marshal(downloaders)
	if err != nil {
		return err
	}
	obj.Metadata[journal.KeyDownloadedBy] = string(b)
	if err := m.store.Write(ctx, obj); err != nil {
		return err
	}
	return m.regenerateLocked(ctx)
}

// IngestUploadedItem absorbs an uploaded bundle: a new store object is
// created from the supplied file, metadata and preview. While the sentinel is
// active the object is flagged favorite and the selection stays the sentinel;
// otherwise its id is appended to the explicit list.
func (m *Manager) IngestUploadedItem(ctx context.Context, filePath string, md journal.Metadata, preview []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, err := m.store.Create(ctx, filePath, md, preview)
	if err != nil {
		return err
	}
	if m.allFavoritesLocked() {
		obj.Metadata[journal.KeyFavorite] = "1"
		if err := m.store.Write(ctx, obj); err != nil {
			return err
		}
		return m.regenerateLocked(ctx)
	}
	return m.appendItemLocked(ctx, obj.ID)
}

// Refresh regenerates the snapshot without mutating the selection.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regenerateLocked(ctx)
}

// Subscribe registers for snapshot pushes. Every regeneration delivers the
// serialized snapshot on the returned channel; cancel drops the
// subscription. A subscriber that stops draining is skipped, not blocked on.
func (m *Manager) Subscribe() (<-chan []byte, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan []byte, 4)
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// regenerateLocked rebuilds the snapshot from the current selection, writes
// it atomically, and notifies subscribers. Callers hold m.mu.
func (m *Manager) regenerateLocked(ctx context.Context) error {
	entries := []Entry{}
	for _, obj := range m.resolveLocked(ctx) {
		if _, err := journal.PackageObject(obj.ID, obj.FilePath, obj.Metadata, obj.Preview, m.instanceDir); err != nil {
			log.Printf("catalog: package %s: %v", obj.ID, err)
			continue
		}
		entries = append(entries, newEntry(obj))
	}

	snapshot, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotWrite, err)
	}
	tmp := m.SnapshotPath() + ".tmp"
	if err := os.WriteFile(tmp, snapshot, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotWrite, err)
	}
	if err := os.Rename(tmp, m.SnapshotPath()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrSnapshotWrite, err)
	}

	for _, ch := range m.subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
	return nil
}

// resolveLocked turns the selection into stored objects. Unresolvable ids
// are skipped; they stay in the selection and reappear if the object comes
// back.
func (m *Manager) resolveLocked(ctx context.Context) []*store.Object {
	if len(m.selection) == 0 {
		return nil
	}
	if m.allFavoritesLocked() {
		objs, err := m.store.Favorites(ctx)
		if err != nil {
			log.Printf("catalog: favorites lookup: %v", err)
			return nil
		}
		return objs
	}
	var objs []*store.Object
	for _, id := range m.selection {
		obj, err := m.store.Get(ctx, id)
		if err != nil {
			log.Printf("catalog: skipping %s: %v", id, err)
			continue
		}
		objs = append(objs, obj)
	}
	return objs
}
