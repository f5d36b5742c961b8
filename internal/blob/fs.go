package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	log "github.com/sirupsen/logrus"

	"datalineage/internal/common"
)

const tmpDir = ".tmp"

// FSStore keeps objects in a billy filesystem, sharded by key prefix.
type FSStore struct {
	fs          billy.Filesystem
	compression Compression
}

// NewFSStore returns a store over fs.
func NewFSStore(fs billy.Filesystem, compression Compression) *FSStore {
	return &FSStore{fs: fs, compression: compression}
}

// OpenFSStore returns a store rooted at dir on the local disk.
func OpenFSStore(dir string, compression Compression) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return NewFSStore(osfs.New(dir), compression), nil
}

func (s *FSStore) objectPath(key string) (string, error) {
	k := common.NormalizeKey(key)
	if k == "" {
		return "", &common.InvalidInputError{Field: "key", Reason: "empty blob key"}
	}
	return common.ShardKey(k), nil
}

func (s *FSStore) pathOf(location string) (string, error) {
	scheme, p, err := splitLocation(location)
	if err != nil {
		return "", &common.InvalidInputError{Field: "location", Reason: err.Error()}
	}
	if scheme != SchemeFS {
		return "", &common.InvalidInputError{Field: "location", Reason: fmt.Sprintf("scheme %q is not served by the filesystem store", scheme)}
	}
	return p, nil
}

// Put writes data to a temp file and renames it into place.
func (s *FSStore) Put(ctx context.Context, key string, data []byte) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	p, err := s.objectPath(key)
	if err != nil {
		return "", false, err
	}
	location := SchemeFS + "://" + p
	if _, err := s.fs.Stat(p); err == nil {
		log.Debugf("[Blob] Put: %s already present", p)
		return location, false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", false, common.Transient("blob stat", err)
	}

	framed, err := encode(data, s.compression)
	if err != nil {
		return "", false, err
	}
	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return "", false, common.Transient("blob mkdir", err)
	}
	if err := s.fs.MkdirAll(tmpDir, 0o755); err != nil {
		return "", false, common.Transient("blob mkdir", err)
	}
	tmp, err := s.fs.TempFile(tmpDir, "put-")
	if err != nil {
		return "", false, common.Transient("blob temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(framed); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return "", false, common.Transient("blob write", err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return "", false, common.Transient("blob close", err)
	}
	if err := s.fs.Rename(tmpName, p); err != nil {
		s.fs.Remove(tmpName)
		return "", false, common.Transient("blob rename", err)
	}
	log.Debugf("[Blob] Put: wrote %s (%d bytes, %d stored)", p, len(data), len(framed))
	return location, true, nil
}

func (s *FSStore) Get(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.pathOf(location)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blob %s: %w", location, common.ErrNotFound)
		}
		return nil, common.Transient("blob open", err)
	}
	defer f.Close()
	framed, err := io.ReadAll(f)
	if err != nil {
		return nil, common.Transient("blob read", err)
	}
	data, err := decode(framed)
	if err != nil {
		return nil, fmt.Errorf("blob %s: %w: %v", location, common.ErrIntegrity, err)
	}
	return data, nil
}

func (s *FSStore) Delete(ctx context.Context, location string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.pathOf(location)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("blob %s: %w", location, common.ErrNotFound)
		}
		return common.Transient("blob delete", err)
	}
	log.Debugf("[Blob] Delete: removed %s", p)
	return nil
}
