package refdata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"medcoder/internal/utils"
)

// FSStore serves reference data from a filesystem tree. The afero backend
// lets tests and seed tooling run against an in-memory tree with the same
// code path as the on-disk repository.
type FSStore struct {
	fs     afero.Fs
	root   string
	logger utils.ExtendedLogger
}

// NewFSStore serves the repository rooted at dir on the host filesystem.
func NewFSStore(dir string, logger utils.ExtendedLogger) *FSStore {
	return &FSStore{fs: afero.NewOsFs(), root: dir, logger: logger}
}

// NewMemStore serves an empty in-memory repository. Seed it with Put.
func NewMemStore(logger utils.ExtendedLogger) *FSStore {
	return &FSStore{fs: afero.NewMemMapFs(), root: "/refdata", logger: logger}
}

func (s *FSStore) abs(filePath string) string {
	return filepath.Join(s.root, filepath.FromSlash(filePath))
}

// FileExists implements Store.
func (s *FSStore) FileExists(ctx context.Context, filePath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := afero.Exists(s.fs, s.abs(filePath))
	if err != nil {
		return false, fmt.Errorf("refdata: stat %s: %w", filePath, err)
	}
	return ok, nil
}

// GetFileContent implements Store.
func (s *FSStore) GetFileContent(ctx context.Context, filePath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, s.abs(filePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", filePath, ErrNotFound)
		}
		return nil, fmt.Errorf("refdata: read %s: %w", filePath, err)
	}
	return data, nil
}

// ListFilesByName implements Store.
func (s *FSStore) ListFilesByName(ctx context.Context, dir, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(s.fs, s.abs(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("refdata: list %s: %w", dir, err)
	}
	var names []string
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		if strings.HasPrefix(info.Name(), prefix) {
			names = append(names, info.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Put writes a record, creating parent directories. Seeding and tests only;
// the pipeline never writes reference data.
func (s *FSStore) Put(filePath string, data []byte) error {
	full := s.abs(filePath)
	if err := s.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("refdata: mkdir for %s: %w", filePath, err)
	}
	if err := afero.WriteFile(s.fs, full, data, 0o644); err != nil {
		return fmt.Errorf("refdata: write %s: %w", filePath, err)
	}
	return nil
}

// PutJSON marshals a record and writes it. Seeding and tests only.
func (s *FSStore) PutJSON(filePath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("refdata: marshal %s: %w", filePath, err)
	}
	return s.Put(filePath, data)
}
