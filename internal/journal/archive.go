package journal

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Extension is the file extension of a packaged bundle.
const Extension = ".journal"

// Archive member names. data and metadata are required, preview is optional.
const (
	memberData     = "data"
	memberMetadata = "metadata"
	memberPreview  = "preview"
)

// ErrMalformedArchive reports a bundle missing a required member or carrying
// metadata that is not valid JSON.
var ErrMalformedArchive = errors.New("malformed journal archive")

// Pack writes a bundle containing file, md and (when non-empty) preview to w.
// Reserved store-local keys are stripped from md and original_object_id is
// set to originalID before the metadata member is written.
func Pack(w io.Writer, file io.Reader, md Metadata, preview []byte, originalID string) error {
	clean := make(Metadata, len(md)+1)
	for k, v := range md {
		if reservedKeys[k] {
			continue
		}
		clean[k] = v
	}
	clean[KeyOriginalObjectID] = originalID

	zw := zip.NewWriter(w)
	if len(preview) > 0 {
		pw, err := zw.Create(memberPreview)
		if err != nil {
			return err
		}
		if _, err := pw.Write(preview); err != nil {
			return err
		}
	}

	mdBytes, err := json.Marshal(clean)
	if err != nil {
		return err
	}
	mw, err := zw.Create(memberMetadata)
	if err != nil {
		return err
	}
	if _, err := mw.Write(mdBytes); err != nil {
		return err
	}

	dw, err := zw.Create(memberData)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dw, file); err != nil {
		return err
	}
	return zw.Close()
}

// PackageObject materializes the transfer bundle for one journal object into
// destDir: preview_id_<id> (when a preview exists), metadata_id_<id>, and the
// bundle itself at id_<id>.journal. The side files keep their historical names
// because the web front end links to them under /datastore/. Returns the
// bundle path.
func PackageObject(id, filePath string, md Metadata, preview []byte, destDir string) (string, error) {
	if len(preview) > 0 {
		previewPath := filepath.Join(destDir, "preview_id_"+id)
		if err := os.WriteFile(previewPath, preview, 0o644); err != nil {
			return "", err
		}
	}

	clean := make(Metadata, len(md)+1)
	for k, v := range md {
		if reservedKeys[k] {
			continue
		}
		clean[k] = v
	}
	clean[KeyOriginalObjectID] = id
	mdBytes, err := json.Marshal(clean)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(destDir, "metadata_id_"+id), mdBytes, 0o644); err != nil {
		return "", err
	}

	bundlePath := filepath.Join(destDir, "id_"+id+Extension)
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	out, err := os.OpenFile(bundlePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	if err := Pack(out, f, md, preview, id); err != nil {
		_ = out.Close()
		_ = os.Remove(bundlePath)
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return bundlePath, nil
}

// Unpack opens the bundle at archivePath and returns its metadata, preview
// bytes (empty when the member is absent) and the path of the extracted data
// payload, materialized under scratchDir. The caller owns cleanup of the
// extracted file.
func Unpack(archivePath, scratchDir string) (Metadata, []byte, string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, nil, "", fmt.Errorf("%w: %v", ErrMalformedArchive, err)
	}
	defer zr.Close()

	members := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		members[f.Name] = f
	}
	if members[memberData] == nil || members[memberMetadata] == nil {
		return nil, nil, "", fmt.Errorf("%w: missing data or metadata member", ErrMalformedArchive)
	}

	mdRaw, err := readMember(members[memberMetadata])
	if err != nil {
		return nil, nil, "", err
	}
	md, err := decodeMetadata(mdRaw)
	if err != nil {
		return nil, nil, "", fmt.Errorf("%w: metadata is not valid JSON: %v", ErrMalformedArchive, err)
	}

	var preview []byte
	if pf := members[memberPreview]; pf != nil {
		preview, err = readMember(pf)
		if err != nil {
			return nil, nil, "", err
		}
	}

	dataPath := filepath.Join(scratchDir, memberData)
	src, err := members[memberData].Open()
	if err != nil {
		return nil, nil, "", err
	}
	defer src.Close()
	dst, err := os.OpenFile(dataPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(dataPath)
		return nil, nil, "", err
	}
	if err := dst.Close(); err != nil {
		return nil, nil, "", err
	}
	return md, preview, dataPath, nil
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
