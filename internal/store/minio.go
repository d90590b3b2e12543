package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"journalshare/internal/journal"
)

// MinioConfig holds the connection parameters for a MinIO-backed store.
type MinioConfig struct {
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	UseSSL          bool   `json:"useSSL"`
	Bucket          string `json:"bucket"`
	Region          string `json:"region,omitempty"`
}

// Minio is a Store backed by a MinIO/S3 bucket. Object <id> is kept under
// the keys <id>/data, <id>/record.json and <id>/preview. Payloads are
// materialized into a local cache dir on Get so callers always see a
// readable FilePath.
type Minio struct {
	client   *minio.Client
	bucket   string
	cacheDir string
}

// NewMinio connects to the configured endpoint, ensures the bucket exists,
// and returns the store. cacheDir receives downloaded payload copies.
func NewMinio(ctx context.Context, cfg MinioConfig, cacheDir string) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket check %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("make bucket %q: %w", cfg.Bucket, err)
		}
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, err
	}
	return &Minio{client: client, bucket: cfg.Bucket, cacheDir: cacheDir}, nil
}

type minioRecord struct {
	ID        string           `json:"id"`
	CreatedAt int64            `json:"createdAt"`
	Metadata  journal.Metadata `json:"metadata"`
}

func (s *Minio) Create(ctx context.Context, filePath string, md journal.Metadata, preview []byte) (*Object, error) {
	obj := &Object{
		ID:        uuid.NewString(),
		Metadata:  md.Clone(),
		Preview:   append([]byte(nil), preview...),
		CreatedAt: time.Now(),
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if _, err := s.client.PutObject(ctx, s.bucket, obj.ID+"/data", f, st.Size(),
		minio.PutObjectOptions{ContentType: "application/octet-stream"}); err != nil {
		return nil, fmt.Errorf("put data: %w", err)
	}
	if len(obj.Preview) > 0 {
		if err := s.putBytes(ctx, obj.ID+"/preview", obj.Preview); err != nil {
			return nil, err
		}
	}
	if err := s.putRecord(ctx, obj); err != nil {
		return nil, err
	}
	// local copy so the object is immediately packageable
	cached := filepath.Join(s.cacheDir, obj.ID)
	if err := copyFile(filePath, cached); err != nil {
		return nil, err
	}
	obj.FilePath = cached
	return obj, nil
}

func (s *Minio) Get(ctx context.Context, id string) (*Object, error) {
	rec, err := s.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	obj := &Object{
		ID:        rec.ID,
		Metadata:  rec.Metadata,
		CreatedAt: time.Unix(0, rec.CreatedAt),
	}
	if obj.Metadata == nil {
		obj.Metadata = journal.Metadata{}
	}
	if b, err := s.getBytes(ctx, id+"/preview"); err == nil {
		obj.Preview = b
	}

	cached := filepath.Join(s.cacheDir, id)
	if _, err := os.Stat(cached); err != nil {
		if err := s.fetchData(ctx, id, cached); err != nil {
			return nil, err
		}
	}
	obj.FilePath = cached
	return obj, nil
}

func (s *Minio) Write(ctx context.Context, obj *Object) error {
	if _, err := s.getRecord(ctx, obj.ID); err != nil {
		return err
	}
	if len(obj.Preview) > 0 {
		if err := s.putBytes(ctx, obj.ID+"/preview", obj.Preview); err != nil {
			return err
		}
	}
	return s.putRecord(ctx, obj)
}

func (s *Minio) Delete(ctx context.Context, id string) error {
	for _, key := range []string{id + "/data", id + "/record.json", id + "/preview"} {
		if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return err
		}
	}
	_ = os.Remove(filepath.Join(s.cacheDir, id))
	return nil
}

func (s *Minio) Favorites(ctx context.Context) ([]*Object, error) {
	var out []*Object
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if info.Err != nil {
			return nil, info.Err
		}
		if !strings.HasSuffix(info.Key, "/record.json") {
			continue
		}
		id := path.Dir(info.Key)
		obj, err := s.Get(ctx, id)
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

func (s *Minio) putRecord(ctx context.Context, obj *Object) error {
	rec := minioRecord{ID: obj.ID, CreatedAt: obj.CreatedAt.UnixNano(), Metadata: obj.Metadata}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.putBytes(ctx, obj.ID+"/record.json", b)
}

func (s *Minio) getRecord(ctx context.Context, id string) (*minioRecord, error) {
	b, err := s.getBytes(ctx, id+"/record.json")
	if err != nil {
		return nil, err
	}
	var rec minioRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Minio) putBytes(ctx context.Context, key string, b []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(b), int64(len(b)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	return err
}

func (s *Minio) getBytes(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}
	defer obj.Close()
	b, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapMinioErr(err)
	}
	return b, nil
}

func (s *Minio) fetchData(ctx context.Context, id, dst string) error {
	obj, err := s.client.GetObject(ctx, s.bucket, id+"/data", minio.GetObjectOptions{})
	if err != nil {
		return mapMinioErr(err)
	}
	defer obj.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, obj); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return mapMinioErr(err)
	}
	return out.Close()
}

func mapMinioErr(err error) error {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
		return ErrNotFound
	}
	return err
}
