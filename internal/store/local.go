package store

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"journalshare/internal/journal"
)

// Local is a directory-backed Store. Each object lives in <dir>/<id>/ with
// the payload at "data", the record at "record.json" and the preview (when
// present) at "preview". Record writes are temp-then-rename.
type Local struct {
	dir string
}

type localRecord struct {
	ID        string           `json:"id"`
	CreatedAt int64            `json:"createdAt"` // unix nanos
	Metadata  journal.Metadata `json:"metadata"`
}

// NewLocal opens (creating if needed) a local store rooted at dir.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Local{dir: dir}, nil
}

func (s *Local) objectDir(id string) string {
	return filepath.Join(s.dir, id)
}

func (s *Local) Create(ctx context.Context, filePath string, md journal.Metadata, preview []byte) (*Object, error) {
	obj := &Object{
		ID:        uuid.NewString(),
		Metadata:  md.Clone(),
		Preview:   append([]byte(nil), preview...),
		CreatedAt: time.Now(),
	}
	dir := s.objectDir(obj.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	dataPath := filepath.Join(dir, "data")
	if err := copyFile(filePath, dataPath); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	obj.FilePath = dataPath
	if err := s.writeRecord(obj); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return obj, nil
}

func (s *Local) Get(ctx context.Context, id string) (*Object, error) {
	dir := s.objectDir(id)
	b, err := os.ReadFile(filepath.Join(dir, "record.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec localRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	obj := &Object{
		ID:        rec.ID,
		FilePath:  filepath.Join(dir, "data"),
		Metadata:  rec.Metadata,
		CreatedAt: time.Unix(0, rec.CreatedAt),
	}
	if obj.Metadata == nil {
		obj.Metadata = journal.Metadata{}
	}
	if preview, err := os.ReadFile(filepath.Join(dir, "preview")); err == nil {
		obj.Preview = preview
	}
	return obj, nil
}

func (s *Local) Write(ctx context.Context, obj *Object) error {
	if _, err := os.Stat(s.objectDir(obj.ID)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return s.writeRecord(obj)
}

func (s *Local) Delete(ctx context.Context, id string) error {
	return os.RemoveAll(s.objectDir(id))
}

func (s *Local) Favorites(ctx context.Context) ([]*Object, error) {
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []*Object
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		obj, err := s.Get(ctx, e.Name())
		if err != nil {
			continue
		}
		if obj.Favorite() {
			out = append(out, obj)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Local) writeRecord(obj *Object) error {
	dir := s.objectDir(obj.ID)
	rec := localRecord{
		ID:        obj.ID,
		CreatedAt: obj.CreatedAt.UnixNano(),
		Metadata:  obj.Metadata,
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, "record.json.tmp")
	final := filepath.Join(dir, "record.json")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		return err
	}
	if len(obj.Preview) > 0 {
		return os.WriteFile(filepath.Join(dir, "preview"), obj.Preview, 0o644)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return err
	}
	return out.Close()
}
