// Package watermark persists the incremental-pull high-water mark as a
// small JSON state file next to the catalog.
package watermark

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/tigerroll/tally/internal/domain/model"
	"github.com/tigerroll/tally/internal/support/util/exception"
	"github.com/tigerroll/tally/internal/support/util/logger"
)

const moduleName = "watermark"

// Store reads and writes the watermark file. A missing, corrupt or
// unreadable file degrades to "no watermark"; the planner then falls back
// to the configured lookback window.
type Store struct {
	path string
}

// NewStore creates a store for the watermark file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the watermark file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted watermark, or nil when the file is absent or
// unusable. Unusable files are logged and treated as absent so a damaged
// state file never blocks a run.
func (s *Store) Load() *model.Watermark {
	const op = "Store.Load"
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warnf("%s: cannot read watermark file '%s', treating as absent: %v", op, s.path, err)
		}
		return nil
	}
	var wm model.Watermark
	if err := json.Unmarshal(data, &wm); err != nil {
		logger.Warnf("%s: corrupt watermark file '%s', treating as absent: %v", op, s.path, err)
		return nil
	}
	if wm.LastEndTime.IsZero() {
		logger.Warnf("%s: watermark file '%s' has no last_end_time, treating as absent", op, s.path)
		return nil
	}
	return &wm
}

// Save atomically persists end as the new high-water mark. The file is
// written to a temp sibling and renamed so readers never observe a partial
// document.
func (s *Store) Save(end time.Time) error {
	const op = "Store.Save"
	wm := model.Watermark{
		LastEndTime: end,
		UpdatedAt:   time.Now().In(end.Location()),
	}
	data, err := json.MarshalIndent(&wm, "", "  ")
	if err != nil {
		return exception.NewAuditErrorf(moduleName, "%s: failed to encode watermark", op, err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return exception.NewAuditErrorf(moduleName, "%s: failed to create watermark directory '%s'", op, dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".watermark-*.tmp")
	if err != nil {
		return exception.NewAuditErrorf(moduleName, "%s: failed to create temp file in '%s'", op, dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return exception.NewAuditErrorf(moduleName, "%s: failed to write temp watermark", op, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return exception.NewAuditErrorf(moduleName, "%s: failed to sync temp watermark", op, err)
	}
	if err := tmp.Close(); err != nil {
		return exception.NewAuditErrorf(moduleName, "%s: failed to close temp watermark", op, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return exception.NewAuditErrorf(moduleName, "%s: failed to replace watermark file '%s'", op, s.path, err)
	}
	logger.Infof("%s: watermark advanced to %s (%s)", op, end.Format(model.WindowTimeLayout), s.path)
	return nil
}

// Reset removes the watermark file. A missing file is not an error.
func (s *Store) Reset() error {
	const op = "Store.Reset"
	if err := os.Remove(s.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debugf("%s: watermark file '%s' already absent", op, s.path)
			return nil
		}
		return exception.NewAuditErrorf(moduleName, "%s: failed to remove watermark file '%s'", op, s.path, err)
	}
	logger.Infof("%s: watermark file '%s' removed", op, s.path)
	return nil
}
