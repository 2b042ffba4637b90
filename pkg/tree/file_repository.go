package tree

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/CaseSolvedUK/rest-migrate/pkg/errors"
	"gopkg.in/yaml.v3"
)

type treeFile struct {
	Segments []*Segment `yaml:"segments"`
}

// FileRepository keeps the arena in memory and rewrites a YAML file after
// every mutation
type FileRepository struct {
	*MemoryRepository
	path string
	mu   sync.Mutex
}

// OpenFile loads path, or starts empty when it does not exist yet
func OpenFile(path string) (*FileRepository, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read tree file")
	}

	var f treeFile
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse tree file").
				WithDetail("path", path)
		}
	}
	return &FileRepository{
		MemoryRepository: NewMemoryRepository(f.Segments...),
		path:             path,
	}, nil
}

// Put implements Repository
func (r *FileRepository) Put(ctx context.Context, seg *Segment) error {
	if err := r.MemoryRepository.Put(ctx, seg); err != nil {
		return err
	}
	return r.flush()
}

// Remove implements Repository
func (r *FileRepository) Remove(ctx context.Context, id string) error {
	if err := r.MemoryRepository.Remove(ctx, id); err != nil {
		return err
	}
	return r.flush()
}

func (r *FileRepository) flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := yaml.Marshal(treeFile{Segments: r.Snapshot()})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode tree")
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".tree-*.yaml")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write tree file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write tree file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write tree file")
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to replace tree file")
	}
	return nil
}
