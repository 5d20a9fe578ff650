// Package scan enumerates candidate image files beneath a root directory.
package scan

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"glimpse/internal/logging"
	"glimpse/internal/services"
	"glimpse/internal/validate"
)

// Scanner walks directories and collects files whose extensions mark them as
// candidate images. Unreadable subtrees are logged and skipped rather than
// aborting the scan.
type Scanner struct {
	logger *slog.Logger
}

// New constructs a Scanner. A nil logger falls back to a no-op logger.
func New(logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scanner{logger: logging.NewComponentLogger(logger, "scan")}
}

// Scan returns the absolute paths of candidate images under root, sorted
// lexicographically and deduplicated. When recursive is false only the top
// level of root is considered. A missing root or a root that is not a
// directory yields an error tagged with services.ErrScan.
func (s *Scanner) Scan(root string, recursive bool) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, services.Wrap(services.ErrScan, services.StageScan, "resolve path", "cannot resolve directory", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, services.Wrap(services.ErrScan, services.StageScan, "stat", "directory does not exist", nil)
		}
		return nil, services.Wrap(services.ErrScan, services.StageScan, "stat", "directory is not accessible", err)
	}
	if !info.IsDir() {
		return nil, services.Wrap(services.ErrScan, services.StageScan, "stat", "path is not a directory", nil)
	}

	seen := make(map[string]struct{})
	var found []string
	add := func(path string) {
		if _, dup := seen[path]; dup {
			return
		}
		seen[path] = struct{}{}
		found = append(found, path)
	}

	if recursive {
		walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				s.logger.Warn("skipping unreadable path", logging.String("path", path), logging.Error(err))
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if validate.SupportedExtension(d.Name()) {
				add(path)
			}
			return nil
		})
		if walkErr != nil {
			s.logger.Warn("directory walk ended early", logging.String("directory", abs), logging.Error(walkErr))
		}
	} else {
		entries, err := os.ReadDir(abs)
		if err != nil {
			s.logger.Warn("directory scan failed", logging.String("directory", abs), logging.Error(err))
			return nil, nil
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if validate.SupportedExtension(entry.Name()) {
				add(filepath.Join(abs, entry.Name()))
			}
		}
	}

	sort.Strings(found)
	s.logger.Info("scan complete",
		logging.String("directory", abs),
		logging.Bool("recursive", recursive),
		logging.Int("images", len(found)))
	return found, nil
}
