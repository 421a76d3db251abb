// Package filestore implements an object store on the local filesystem whose
// objects are served back over HTTP.
package filestore

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/catalog-ingest/internal/domain/asset"
	"github.com/xenking/catalog-ingest/internal/retry"
)

var (
	// ErrInvalidKey is returned for empty keys or keys escaping the root.
	ErrInvalidKey = errors.New("invalid object key")
	// ErrNotFound is returned when deleting or reading a missing object.
	ErrNotFound = errors.New("object not found")
)

var _ asset.ObjectStore = (*Store)(nil)

// Store keeps objects as files under a root directory. URLs are built by
// joining the key onto a public base URL.
type Store struct {
	root    string
	baseURL *url.URL
}

// New creates the root directory if needed and returns a Store. baseURL is
// the public prefix objects are reachable under, e.g.
// "http://localhost:8080/assets".
func New(root, baseURL string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("filestore: root is required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "filestore: parse base url")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "filestore: ensure root")
	}
	return &Store{root: root, baseURL: u}, nil
}

// Root returns the directory objects are stored in.
func (s *Store) Root() string { return s.root }

// Put writes data under key and returns its public URL. The file is synced
// and renamed into place before the URL is returned, so a returned URL always
// points at a complete object.
func (s *Store) Put(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}

	full := s.path(clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", errors.Wrap(err, "filestore: ensure directory")
	}
	if err := writeFileSync(full, data); err != nil {
		return "", err
	}
	return s.URL(clean), nil
}

// Delete removes the object stored under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(s.path(clean)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return errors.Wrap(err, "filestore: remove")
	}
	return nil
}

// Get reads the object stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(clean))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "filestore: read")
	}
	return data, nil
}

// Ping checks that the root is writable.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.CreateTemp(s.root, ".ping-*")
	if err != nil {
		return errors.Wrap(err, "filestore: root not writable")
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// URL returns the public URL of key.
func (s *Store) URL(key string) string {
	u := *s.baseURL
	u.Path = path.Join("/", u.Path, key)
	return u.String()
}

// Handler serves stored objects. Mount it with http.StripPrefix so request
// paths are object keys.
func (s *Store) Handler() http.Handler {
	return http.FileServer(noListing{http.Dir(s.root)})
}

func (s *Store) path(cleanKey string) string {
	return filepath.Join(s.root, filepath.FromSlash(cleanKey))
}

func writeFileSync(name string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(name), ".upload-*")
	if err != nil {
		return errors.Wrap(err, "filestore: create temp")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "filestore: write")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "filestore: sync")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "filestore: close")
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return errors.Wrap(err, "filestore: chmod")
	}
	if err := os.Rename(tmpName, name); err != nil {
		return errors.Wrap(err, "filestore: rename")
	}
	return nil
}

// sanitizeKey normalizes a key and prevents escaping the root. Rejections
// are permanent: retrying the same key cannot succeed.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", retry.Permanent(ErrInvalidKey)
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimLeft(key, "/")
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", retry.Permanent(errors.Wrapf(ErrInvalidKey, "%q", key))
	}
	return cleaned, nil
}

// noListing hides directory indexes.
type noListing struct {
	fs http.FileSystem
}

func (n noListing) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
