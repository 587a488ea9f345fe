package repository

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"fieldsync/internal/domain"

	"github.com/spf13/afero"
)

var ErrInvalidMediaKey = errors.New("invalid media key")

// MediaRepository keeps photo and audio bytes by asset key.
type MediaRepository interface {
	Has(key string) bool
	Save(key string, data []byte) error
	Load(key string) ([]byte, error)
	Delete(key string) error
}

type mediaRepository struct {
	fs  afero.Fs
	dir string
}

func NewMediaRepository(fs afero.Fs, dir string) MediaRepository {
	return &mediaRepository{fs: fs, dir: dir}
}

func (r *mediaRepository) path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || filepath.Base(key) != key {
		return "", fmt.Errorf("%w: %q", ErrInvalidMediaKey, key)
	}
	return filepath.Join(r.dir, key), nil
}

func (r *mediaRepository) Has(key string) bool {
	p, err := r.path(key)
	if err != nil {
		return false
	}
	info, err := r.fs.Stat(p)
	return err == nil && !info.IsDir()
}

// Save is idempotent: storing identical bytes under an existing key is a no-op.
func (r *mediaRepository) Save(key string, data []byte) error {
	p, err := r.path(key)
	if err != nil {
		return err
	}

	if existing, err := afero.ReadFile(r.fs, p); err == nil && bytes.Equal(existing, data) {
		return nil
	}

	if err := r.fs.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create media directory: %w", err)
	}

	tmp := p + ".tmp"
	if err := afero.WriteFile(r.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write media %s: %w", key, err)
	}
	if err := r.fs.Rename(tmp, p); err != nil {
		_ = r.fs.Remove(tmp)
		return fmt.Errorf("failed to store media %s: %w", key, err)
	}
	return nil
}

func (r *mediaRepository) Load(key string) ([]byte, error) {
	p, err := r.path(key)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(r.fs, p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("media %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read media %s: %w", key, err)
	}
	return data, nil
}

func (r *mediaRepository) Delete(key string) error {
	p, err := r.path(key)
	if err != nil {
		return err
	}
	if err := r.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete media %s: %w", key, err)
	}
	return nil
}
