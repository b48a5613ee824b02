// Package filestore binds the remote.Store interface to a local folder.
//
// This backs the preferred-storage toggle: users who opt out of cloud
// storage keep the same engine pipeline, with the "remote" document being
// a todos.json file in a directory of their choosing (typically one
// synced by other means). The file's modification time is the consistency
// token.
//
// Layout mirrors the cloud store:
//
//	<dir>/todos.json
//	<dir>/photos/<name>
package filestore

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/taskvault/taskvault/internal/remote"
)

const (
	documentName = "todos.json"
	photosDir    = "photos"
)

// Store implements remote.Store over a directory.
type Store struct {
	dir    string
	logger *log.Logger
}

// New creates a folder-backed store rooted at dir, creating the directory
// layout if needed.
func New(dir string, logger *log.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory cannot be empty")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[filestore] ", log.LstdFlags)
	}
	if err := os.MkdirAll(filepath.Join(dir, photosDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Stat implements remote.Store. A missing document is a KindNotFound
// error.
func (s *Store) Stat(ctx context.Context) (remote.Metadata, error) {
	info, err := os.Stat(s.docPath())
	if os.IsNotExist(err) {
		return remote.Metadata{}, remote.NewError(remote.KindNotFound, "statDocument", err)
	}
	if err != nil {
		return remote.Metadata{}, remote.NewError(remote.KindUnknown, "statDocument", err)
	}
	return remote.Metadata{LastModified: token(info.ModTime())}, nil
}

// Read implements remote.Store.
func (s *Store) Read(ctx context.Context) ([]byte, remote.Metadata, error) {
	data, err := os.ReadFile(s.docPath())
	if os.IsNotExist(err) {
		return nil, remote.Metadata{}, remote.NewError(remote.KindNotFound, "readDocument", err)
	}
	if err != nil {
		return nil, remote.Metadata{}, remote.NewError(remote.KindUnknown, "readDocument", err)
	}

	info, err := os.Stat(s.docPath())
	if err != nil {
		return nil, remote.Metadata{}, remote.NewError(remote.KindUnknown, "readDocument", err)
	}
	return data, remote.Metadata{LastModified: token(info.ModTime())}, nil
}

// Write implements remote.Store. The document is written to a temp file
// and renamed into place so concurrent readers never observe a partial
// write.
func (s *Store) Write(ctx context.Context, data []byte) (remote.Metadata, error) {
	tmp, err := os.CreateTemp(s.dir, documentName+".tmp-*")
	if err != nil {
		return remote.Metadata{}, remote.NewError(remote.KindUnknown, "writeDocument", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return remote.Metadata{}, remote.NewError(remote.KindUnknown, "writeDocument", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return remote.Metadata{}, remote.NewError(remote.KindUnknown, "writeDocument", err)
	}
	if err := os.Rename(tmpName, s.docPath()); err != nil {
		os.Remove(tmpName)
		return remote.Metadata{}, remote.NewError(remote.KindUnknown, "writeDocument", err)
	}

	info, err := os.Stat(s.docPath())
	if err != nil {
		return remote.Metadata{}, remote.NewError(remote.KindUnknown, "writeDocument", err)
	}
	return remote.Metadata{LastModified: token(info.ModTime())}, nil
}

// WriteBlob implements remote.Store.
func (s *Store) WriteBlob(ctx context.Context, name string, data []byte) (string, error) {
	if err := validBlobName(name); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, photosDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", remote.NewError(remote.KindUnknown, "uploadBlob", err)
	}
	return fileURL(path), nil
}

// BlobURL implements remote.Store.
func (s *Store) BlobURL(ctx context.Context, name string) (string, error) {
	if err := validBlobName(name); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, photosDir, name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", remote.NewError(remote.KindNotFound, "getBlobURL", err)
		}
		return "", remote.NewError(remote.KindUnknown, "getBlobURL", err)
	}
	return fileURL(path), nil
}

// DeleteBlob implements remote.Store.
func (s *Store) DeleteBlob(ctx context.Context, name string) error {
	if err := validBlobName(name); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.dir, photosDir, name))
	if err != nil && !os.IsNotExist(err) {
		return remote.NewError(remote.KindUnknown, "deleteBlob", err)
	}
	return nil
}

// ListBlobs implements remote.Store.
func (s *Store) ListBlobs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, photosDir))
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, remote.NewError(remote.KindUnknown, "listBlobs", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) docPath() string {
	return filepath.Join(s.dir, documentName)
}

// token renders a modification time as the consistency token. Nanosecond
// precision keeps back-to-back writes distinguishable.
func token(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// validBlobName rejects names that would escape the photos folder.
func validBlobName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return remote.NewError(remote.KindPermission, "blob",
			fmt.Errorf("invalid blob name %q", name))
	}
	return nil
}

func fileURL(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + filepath.ToSlash(abs)
}
