package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore persists registrations as an indented JSON array.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the file. A missing file yields no registrations.
func (f *FileStore) Load() ([]Info, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	var infos []Info
	if err := json.Unmarshal(data, &infos); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return infos, nil
}

// Save writes infos atomically via a temp file and rename.
func (f *FileStore) Save(infos []Info) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if infos == nil {
		infos = []Info{}
	}
	data, err := json.MarshalIndent(infos, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registrations: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
