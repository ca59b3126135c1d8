// Package storage implements the JSON file store backing all repositories.
//
// Each repository owns a subtree of the data directory and is its only
// writer. Writes are atomic (write to a temp file, then rename) so readers
// may read snapshots without locks. At startup repositories replay their
// directory; files that fail to decode are quarantined with a suffix and
// skipped so one corrupt record cannot take the server down.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/maestro/maestro/internal/common/logger"
)

const (
	fileMode     = 0o644
	dirMode      = 0o755
	jsonExt      = ".json"
	quarantineExt = ".corrupt"
)

// Store is a JSON file store rooted at the data directory.
type Store struct {
	root   string
	logger *logger.Logger
}

// NewStore creates the data directory if needed and returns a store.
func NewStore(root string, log *logger.Logger) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(root, dirMode); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", root, err)
	}
	return &Store{root: root, logger: log.WithFields(zap.String("component", "storage"))}, nil
}

// Root returns the absolute data directory.
func (s *Store) Root() string {
	return s.root
}

// Path joins the given elements under the data directory.
func (s *Store) Path(elem ...string) string {
	return filepath.Join(append([]string{s.root}, elem...)...)
}

// Marshal renders v as the canonical on-disk JSON form. It is deterministic:
// struct fields serialize in declaration order and map keys sort, so loading
// a record and re-serializing it yields the same bytes.
func Marshal(v interface{}) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// WriteJSON atomically persists v to the given relative path.
func (s *Store) WriteJSON(rel string, v interface{}) error {
	data, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", rel, err)
	}
	return s.WriteFile(rel, data)
}

// WriteFile atomically writes raw bytes to the given relative path.
func (s *Store) WriteFile(rel string, data []byte) error {
	path := s.Path(rel)
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", rel, err)
	}

	tmp := fmt.Sprintf("%s.tmp-%d", path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename %s into place: %w", rel, err)
	}
	return nil
}

// ReadJSON loads the JSON document at the given relative path into v.
func (s *Store) ReadJSON(rel string, v interface{}) error {
	data, err := os.ReadFile(s.Path(rel))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Delete removes the file at the given relative path. Missing files are not
// an error; delete is idempotent.
func (s *Store) Delete(rel string) error {
	err := os.Remove(s.Path(rel))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DeleteDir removes a whole subtree (e.g. a project's task directory).
func (s *Store) DeleteDir(rel string) error {
	return os.RemoveAll(s.Path(rel))
}

// ReplayDir walks every *.json file under the given relative directory
// (recursively) in lexical order and hands its bytes to fn. When fn fails the
// file is quarantined (renamed with a .corrupt suffix) and logged, and the
// replay continues with the remaining records.
func (s *Store) ReplayDir(rel string, fn func(path string, data []byte) error) error {
	dir := s.Path(rel)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, jsonExt) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", rel, err)
	}
	sort.Strings(files)

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("skipping unreadable record", zap.String("path", path), zap.Error(err))
			continue
		}
		if err := fn(path, data); err != nil {
			s.quarantine(path, err)
		}
	}
	return nil
}

// quarantine renames a corrupt file out of the replay set.
func (s *Store) quarantine(path string, cause error) {
	target := path + quarantineExt
	if err := os.Rename(path, target); err != nil {
		s.logger.Error("failed to quarantine corrupt record",
			zap.String("path", path),
			zap.Error(err))
		return
	}
	s.logger.Warn("quarantined corrupt record",
		zap.String("path", path),
		zap.String("renamed_to", target),
		zap.Error(cause))
}
