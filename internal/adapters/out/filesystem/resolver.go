// Package filesystem implements the location resolver backed by the local
// filesystem. Each repository owns the bytes under its base directory.
package filesystem

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artifactd/artifactd/internal/checksum"
	"github.com/artifactd/artifactd/internal/domain"
)

// Resolver resolves artifacts against repository base directories.
type Resolver struct {
	topology *domain.Topology
	log      zerolog.Logger
	locks    sync.Map // storage/repo/path -> *sync.Mutex
}

// NewResolver creates a filesystem resolver over the given topology.
func NewResolver(topology *domain.Topology, log zerolog.Logger) *Resolver {
	return &Resolver{topology: topology, log: log}
}

func (r *Resolver) pathLock(key string) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// artifactPath canonicalizes a repository-relative path against the
// repository base directory. Any result escaping the base directory is
// rejected.
func (r *Resolver) artifactPath(storageID, repositoryID, path string) (string, *domain.Repository, error) {
	repo, err := r.topology.Repository(storageID, repositoryID)
	if err != nil {
		return "", nil, err
	}

	base := filepath.Clean(repo.Basedir)
	full := filepath.Join(base, filepath.FromSlash(path))
	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", nil, fmt.Errorf("%w: %q escapes repository basedir", domain.ErrInvalidPath, path)
	}
	return full, repo, nil
}

// Resolve opens the artifact file.
func (r *Resolver) Resolve(ctx context.Context, storageID, repositoryID, path string) (*domain.Source, error) {
	full, _, err := r.artifactPath(storageID, repositoryID, path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s/%s", domain.ErrArtifactNotFound, storageID, repositoryID, path)
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("%w: %s is a directory", domain.ErrArtifactNotFound, path)
	}

	return domain.NewSource(file, info.Size(), path), nil
}

// Store streams data into a temp file and publishes it atomically. Digest
// sidecars are renamed into place before the artifact itself, so visible
// bytes never disagree with their sidecars. Sidecar uploads are stored
// verbatim without generating second-order sidecars.
func (r *Resolver) Store(ctx context.Context, storageID, repositoryID, path string, data io.Reader) (map[string]string, error) {
	full, _, err := r.artifactPath(storageID, repositoryID, path)
	if err != nil {
		return nil, err
	}

	mu := r.pathLock(storageID + "/" + repositoryID + "/" + path)
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}

	suffix := ".tmp." + uuid.New().String()
	tmpArtifact := full + suffix

	file, err := os.OpenFile(tmpArtifact, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		return nil, fmt.Errorf("create temp artifact file: %w", err)
	}

	tmpFiles := []string{tmpArtifact}
	cleanup := func() {
		for _, tmp := range tmpFiles {
			os.Remove(tmp)
		}
	}

	digester, err := checksum.NewWriter(file)
	if err != nil {
		file.Close()
		cleanup()
		return nil, err
	}

	if _, err := io.Copy(digester, data); err != nil {
		file.Close()
		cleanup()
		return nil, fmt.Errorf("write artifact data: %w", err)
	}
	if err := file.Close(); err != nil {
		cleanup()
		return nil, fmt.Errorf("flush artifact data: %w", err)
	}

	digests := digester.Sums()

	if !domain.IsChecksumPath(path) {
		type sidecar struct{ tmp, final string }
		sidecars := make([]sidecar, 0, len(digests))
		for algorithm, digest := range digests {
			final := full + "." + algorithm
			tmp := final + suffix
			if err := os.WriteFile(tmp, []byte(digest+"\n"), 0640); err != nil {
				cleanup()
				return nil, fmt.Errorf("write digest sidecar: %w", err)
			}
			tmpFiles = append(tmpFiles, tmp)
			sidecars = append(sidecars, sidecar{tmp: tmp, final: final})
		}
		for _, sc := range sidecars {
			if err := os.Rename(sc.tmp, sc.final); err != nil {
				cleanup()
				return nil, fmt.Errorf("publish digest sidecar: %w", err)
			}
		}
	}

	if err := os.Rename(tmpArtifact, full); err != nil {
		cleanup()
		return nil, fmt.Errorf("publish artifact: %w", err)
	}

	r.log.Info().
		Str("storage", storageID).
		Str("repository", repositoryID).
		Str("path", path).
		Msg("artifact stored")

	return digests, nil
}

// Delete removes the artifact and its digest sidecars. Directory pruning is
// not performed.
func (r *Resolver) Delete(ctx context.Context, storageID, repositoryID, path string, force bool) error {
	full, _, err := r.artifactPath(storageID, repositoryID, path)
	if err != nil {
		return err
	}

	mu := r.pathLock(storageID + "/" + repositoryID + "/" + path)
	mu.Lock()
	defer mu.Unlock()

	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s/%s/%s", domain.ErrArtifactNotFound, storageID, repositoryID, path)
		}
		return fmt.Errorf("delete artifact: %w", err)
	}

	for _, ext := range domain.ChecksumExtensions {
		if err := os.Remove(full + "." + ext); err != nil && !os.IsNotExist(err) {
			r.log.Warn().Err(err).Str("path", path+"."+ext).Msg("failed to delete digest sidecar")
		}
	}

	r.log.Info().
		Str("storage", storageID).
		Str("repository", repositoryID).
		Str("path", path).
		Bool("force", force).
		Msg("artifact deleted")

	return nil
}

// Contains checks whether the artifact exists.
func (r *Resolver) Contains(ctx context.Context, storageID, repositoryID, path string) (bool, error) {
	full, _, err := r.artifactPath(storageID, repositoryID, path)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat artifact: %w", err)
	}
	return !info.IsDir(), nil
}
