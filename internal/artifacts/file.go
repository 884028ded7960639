package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"aqiwatch/internal/model"
	"aqiwatch/internal/types"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

const (
	artifactExt  = ".json.zst"
	latestSuffix = ".latest"
	filePerm     = 0o644
	dirPerm      = 0o755
)

// FileStore keeps artifacts in a local directory. Used by the trainer for
// local runs and by the API when no bucket is configured.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed and returns a store rooted at it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, unavailable("mkdir", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Save(ctx context.Context, a *model.Artifact, name string) (string, error) {
	if err := validateSave(a, name); err != nil {
		return "", err
	}
	if !namePattern.MatchString(name) {
		return "", types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"artifact name contains unsupported characters", nil, map[string]any{"name": name})
	}
	id, err := newID()
	if err != nil {
		return "", err
	}
	data, err := model.MarshalArtifact(stamp(a, id, name))
	if err != nil {
		return "", err
	}
	if err := s.writeAtomic(id+artifactExt, data); err != nil {
		return "", unavailable("write", err)
	}
	if err := s.writeAtomic(name+latestSuffix, []byte(id)); err != nil {
		return "", unavailable("write_latest", err)
	}
	return id, nil
}

func (s *FileStore) Load(ctx context.Context, id string) (*model.Artifact, error) {
	if !validID(id) {
		return nil, notFound(id)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, id+artifactExt))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, unavailable("read", err)
	}
	return model.UnmarshalArtifact(data)
}

func (s *FileStore) Latest(ctx context.Context, name string) (*model.Artifact, error) {
	if !namePattern.MatchString(name) {
		return nil, notFound(name)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name+latestSuffix))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, unavailable("read_latest", err)
	}
	return s.Load(ctx, strings.TrimSpace(string(data)))
}

// Ping checks that the directory is still accessible.
func (s *FileStore) Ping(ctx context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return unavailable("stat", err)
	}
	return nil
}

// writeAtomic writes to a temp file and renames it into place so readers
// never observe a partial artifact or pointer.
func (s *FileStore) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

var (
	_ Store  = (*FileStore)(nil)
	_ Pinger = (*FileStore)(nil)
)
