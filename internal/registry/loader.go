// Package registry discovers model files on disk and loads them into memory
// for the resource cache.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"perfd/internal/common/fsutil"
	"perfd/internal/device"
	"perfd/pkg/types"
)

// Extensions recognized as model files, keyed by lower-case suffix.
var formats = map[string]string{
	".tflite": "tflite",
	".onnx":   "onnx",
	".gguf":   "gguf",
	".bin":    "bin",
}

// Size boundaries for complexity inference.
const (
	StandardMinBytes int64 = 100 << 20
	AdvancedMinBytes int64 = 1 << 30
)

// InferComplexity classifies a model by its file size.
func InferComplexity(size int64) device.Complexity {
	switch {
	case size >= AdvancedMinBytes:
		return device.ComplexityAdvanced
	case size >= StandardMinBytes:
		return device.ComplexityStandard
	default:
		return device.ComplexityBasic
	}
}

// LoadDir scans dir (a leading '~' is expanded) for model files. Models are
// sorted by ID. When two files share a stem, the first in name order wins.
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
	seen := make(map[string]bool)
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		format, ok := formats[ext]
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		id := strings.TrimSuffix(name, filepath.Ext(name))
		if seen[id] {
			continue
		}
		seen[id] = true
		models = append(models, types.Model{
			ID:         id,
			Name:       name,
			Path:       filepath.Join(abs, name),
			Format:     format,
			SizeBytes:  info.Size(),
			Complexity: InferComplexity(info.Size()).String(),
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// Registry is a refreshable in-memory index of a models directory.
type Registry struct {
	dir string

	mu     sync.RWMutex
	models map[string]types.Model
}

// New scans dir once and returns the index.
func New(dir string) (*Registry, error) {
	r := &Registry{dir: dir}
	if err := r.Refresh(); err != nil {
		return nil, err
	}
	return r, nil
}

// Refresh rescans the directory, replacing the index.
func (r *Registry) Refresh() error {
	list, err := LoadDir(r.dir)
	if err != nil {
		return err
	}
	idx := make(map[string]types.Model, len(list))
	for _, m := range list {
		idx[m.ID] = m
	}
	r.mu.Lock()
	r.models = idx
	r.mu.Unlock()
	return nil
}

func (r *Registry) Get(id string) (types.Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// List returns every model sorted by ID.
func (r *Registry) List() []types.Model {
	r.mu.RLock()
	out := make([]types.Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
