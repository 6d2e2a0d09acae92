package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nima-ghaffari/Transfer/internal/config"
)

// Service enumerates the files currently offered for download. It holds
// no state beyond the immutable configuration, so it is safe to call from
// any number of sessions at once.
type Service struct {
	cfg *config.ShareConfiguration
}

func New(cfg *config.ShareConfiguration) *Service {
	return &Service{cfg: cfg}
}

// List returns the base names of the offered files: the single shared
// file, or every regular file directly under the shared directory.
// Order follows filesystem enumeration and carries no guarantee.
func (s *Service) List() ([]string, error) {
	if s.cfg.Mode == config.ModeFile {
		return []string{filepath.Base(s.cfg.SharedPath)}, nil
	}

	entries, err := os.ReadDir(s.cfg.SharedPath)
	if err != nil {
		return nil, fmt.Errorf("listing shared directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Resolve maps a client-supplied filename to an absolute path inside the
// share, enforcing the containment invariant. The name must be a bare
// base name; anything with a separator, anything resolving outside the
// root and anything that is not an existing regular file is rejected.
func (s *Service) Resolve(name string) (string, bool) {
	if name == "" || filepath.Base(name) != name {
		return "", false
	}

	var path string
	if s.cfg.Mode == config.ModeFile {
		// SingleFile mode offers exactly one path; the requested name
		// must match its base name.
		if name != filepath.Base(s.cfg.SharedPath) {
			return "", false
		}
		path = s.cfg.SharedPath
	} else {
		path = filepath.Join(s.cfg.SharedPath, name)
		resolved, err := filepath.Abs(path)
		if err != nil || !within(s.cfg.SharedPath, resolved) {
			return "", false
		}
		path = resolved
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return path, true
}

// within reports whether child is root itself or a descendant of it.
func within(root, child string) bool {
	rel, err := filepath.Rel(root, child)
	if err != nil {
		return false
	}
	return rel == "." || filepath.IsLocal(rel)
}
