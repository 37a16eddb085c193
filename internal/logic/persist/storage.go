package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// ErrExists is returned by Storage.Write when the name is already taken.
var ErrExists = errors.New("persist: file already exists")

// Storage writes encoded images under a name.
type Storage interface {
	Write(name string, data []byte) (path string, err error)
}

// DirStorage stores files in one directory. Every write is atomic: readers
// see either no file or the complete one.
type DirStorage struct {
	Dir string
}

// NewDirStorage creates dir when missing.
func NewDirStorage(dir string) (*DirStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &DirStorage{Dir: dir}, nil
}

func (s *DirStorage) Write(name string, data []byte) (string, error) {
	path := filepath.Join(s.Dir, name)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%s: %w", path, ErrExists)
	}

	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return "", fmt.Errorf("create pending file: %w", err)
	}
	defer func() { _ = pf.Cleanup() }()

	if _, err := pf.Write(data); err != nil {
		return "", fmt.Errorf("write image data: %w", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("atomically replace %s: %w", path, err)
	}
	return path, nil
}
