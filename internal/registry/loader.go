// Package registry discovers local model files on disk.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"nexd/internal/common/fsutil"
	"nexd/pkg/types"
)

// LoadDir scans a directory for *.gguf files and builds the local model
// catalog from filenames. ID is the full filename (including extension),
// Path is the absolute file path, and Provider is always "local".
func LoadDir(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		p := filepath.Join(abs, name)
		m := types.Model{
			ID:       name,
			Name:     name,
			Path:     p,
			Provider: "local",
		}
		if fi, err := e.Info(); err == nil {
			mb := int(fi.Size() >> 20)
			if mb < 1 {
				mb = 1
			}
			m.MemoryMB = mb
		}
		models = append(models, m)
	}
	return models, nil
}
