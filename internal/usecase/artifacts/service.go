// Package artifacts implements the artifact management service: the façade
// orchestrating resolvers, validators, metadata and the digest cache.
package artifacts

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/artifactd/artifactd/internal/boundaries/out"
	"github.com/artifactd/artifactd/internal/checksum"
	"github.com/artifactd/artifactd/internal/domain"
	"github.com/artifactd/artifactd/internal/metadata"
	"github.com/artifactd/artifactd/internal/metrics"
	"github.com/artifactd/artifactd/internal/validation"
)

// Service implements the ArtifactService interface.
type Service struct {
	topology   *domain.Topology
	registry   *Registry
	validators *validation.Pipeline
	metadata   *metadata.Manager
	cache      *checksum.Cache
	events     out.EventLog
	recorder   metrics.Recorder
	log        zerolog.Logger
}

// NewService creates the artifact management service. The event log may be
// nil; the recorder defaults to a noop when nil.
func NewService(
	topology *domain.Topology,
	registry *Registry,
	metadataManager *metadata.Manager,
	cache *checksum.Cache,
	events out.EventLog,
	recorder metrics.Recorder,
	log zerolog.Logger,
) *Service {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Service{
		topology:   topology,
		registry:   registry,
		validators: validation.NewPipeline(),
		metadata:   metadataManager,
		cache:      cache,
		events:     events,
		recorder:   recorder,
		log:        log,
	}
}

// Storage returns the named storage, or nil.
func (s *Service) Storage(storageID string) *domain.Storage {
	return s.topology.Storage(storageID)
}

// Repository returns the named repository, or nil.
func (s *Service) Repository(storageID, repositoryID string) *domain.Repository {
	repo, err := s.topology.Repository(storageID, repositoryID)
	if err != nil {
		return nil
	}
	return repo
}

func (s *Service) repository(storageID, repositoryID string) (*domain.Repository, error) {
	repo, err := s.topology.Repository(storageID, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s", err, storageID, repositoryID)
	}
	return repo, nil
}

func cacheKey(storageID, repositoryID, artifactPath string) string {
	return storageID + "/" + repositoryID + "/" + artifactPath
}

// Resolve opens an artifact for reading.
func (s *Service) Resolve(ctx context.Context, storageID, repositoryID, artifactPath string) (*domain.Source, error) {
	repo, err := s.repository(storageID, repositoryID)
	if err != nil {
		return nil, err
	}
	if !repo.InService {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrRepositoryOutOfService, storageID, repositoryID)
	}

	resolver, err := s.registry.ResolverFor(repo.Type)
	if err != nil {
		return nil, err
	}

	source, err := resolver.Resolve(ctx, storageID, repositoryID, artifactPath)
	if err != nil {
		return nil, err
	}

	s.recorder.ArtifactDownloaded(storageID, repositoryID)
	return source, nil
}

// Store uploads an artifact, sidecar or metadata file. Sidecars are written
// verbatim; metadata is delegated to the metadata manager; everything else
// passes the validation pipeline, is streamed through the digesting writer,
// and updates the directory version index.
func (s *Service) Store(ctx context.Context, storageID, repositoryID, artifactPath string, data io.Reader) error {
	repo, err := s.repository(storageID, repositoryID)
	if err != nil {
		return err
	}
	if !repo.InService {
		return fmt.Errorf("%w: %s/%s", domain.ErrRepositoryOutOfService, storageID, repositoryID)
	}
	if repo.IsGroup() {
		return fmt.Errorf("%w: %s/%s", domain.ErrWriteToGroupForbidden, storageID, repositoryID)
	}

	resolver, err := s.registry.ResolverFor(repo.Type)
	if err != nil {
		return err
	}

	if domain.IsChecksumPath(artifactPath) {
		if _, err := resolver.Store(ctx, storageID, repositoryID, artifactPath, data); err != nil {
			return err
		}
		// The sidecar is the source of truth; drop any stale cached digests.
		s.cache.Invalidate(cacheKey(storageID, repositoryID, domain.StripChecksumExtension(artifactPath)))
		return nil
	}

	if domain.IsMetadataPath(artifactPath) {
		return s.storeMetadata(repo, artifactPath, data)
	}

	coords, err := domain.ParseCoordinates(artifactPath)
	if err != nil {
		return err
	}

	exists, err := resolver.Contains(ctx, storageID, repositoryID, artifactPath)
	if err != nil {
		return err
	}
	if err := s.validators.Validate(repo, coords, exists); err != nil {
		return err
	}

	digests, err := resolver.Store(ctx, storageID, repositoryID, artifactPath, data)
	if err != nil {
		return err
	}

	key := cacheKey(storageID, repositoryID, artifactPath)
	s.cache.Invalidate(key)
	s.cache.PutAll(key, digests)

	dir := filepath.Join(repo.Basedir, filepath.FromSlash(path.Dir(path.Dir(artifactPath))))
	if err := s.metadata.AddVersion(dir, coords.GroupID, coords.ArtifactID, coords.Version); err != nil {
		return fmt.Errorf("update directory metadata: %w", err)
	}

	s.appendEvent(ctx, storageID, repositoryID, artifactPath, out.EventArtifactStored)
	s.recorder.ArtifactUploaded(storageID, repositoryID)
	return nil
}

// storeMetadata parses an uploaded maven-metadata.xml and persists it
// through the metadata manager so sidecars stay consistent.
func (s *Service) storeMetadata(repo *domain.Repository, artifactPath string, data io.Reader) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("read metadata body: %w", err)
	}

	var md metadata.Metadata
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&md); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMetadataCorrupt, err)
	}

	dir := filepath.Join(repo.Basedir, filepath.FromSlash(path.Dir(artifactPath)))
	return s.metadata.Store(dir, "", &md, metadata.ArtifactRootLevel)
}

// Delete removes an artifact, its sidecars and its metadata entry.
func (s *Service) Delete(ctx context.Context, storageID, repositoryID, artifactPath string, force bool) error {
	repo, err := s.repository(storageID, repositoryID)
	if err != nil {
		return err
	}

	resolver, err := s.registry.ResolverFor(repo.Type)
	if err != nil {
		return err
	}

	if err := resolver.Delete(ctx, storageID, repositoryID, artifactPath, force); err != nil {
		return err
	}

	s.cache.Invalidate(cacheKey(storageID, repositoryID, artifactPath))
	s.removeFromMetadata(repo, artifactPath)

	s.appendEvent(ctx, storageID, repositoryID, artifactPath, out.EventArtifactDeleted)
	s.recorder.ArtifactDeleted(storageID, repositoryID)
	return nil
}

// removeFromMetadata drops the deleted artifact's version from the
// directory index once the version directory holds no artifacts. Failures
// here never affect the deletion itself.
func (s *Service) removeFromMetadata(repo *domain.Repository, artifactPath string) {
	clean := strings.Trim(path.Clean("/"+artifactPath), "/")

	coords, err := domain.ParseCoordinates(clean)
	if err != nil {
		// Not an artifact file; mirror the historical behavior of treating
		// the terminal segment as a version under the parent directory.
		version := path.Base(clean)
		dir := filepath.Join(repo.Basedir, filepath.FromSlash(path.Dir(clean)))
		if err := s.metadata.RemoveVersion(dir, version); err != nil {
			s.log.Warn().Err(err).Str("path", artifactPath).Msg("failed to update metadata after delete")
		}
		return
	}

	versionDir := filepath.Join(repo.Basedir, filepath.FromSlash(path.Dir(clean)))
	if s.versionDirHasArtifacts(versionDir) {
		return
	}

	rootDir := filepath.Dir(versionDir)
	if err := s.metadata.RemoveVersion(rootDir, coords.Version); err != nil {
		s.log.Warn().Err(err).Str("path", artifactPath).Msg("failed to update metadata after delete")
	}
}

// versionDirHasArtifacts reports whether any artifact files remain in the
// version directory. Sidecars and metadata files do not count.
func (s *Service) versionDirHasArtifacts(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if domain.IsChecksumPath(name) || name == domain.MetadataFilename {
			continue
		}
		return true
	}
	return false
}

// Copy opens the source artifact and runs the full store chain at the
// destination.
func (s *Service) Copy(ctx context.Context, srcStorageID, srcRepositoryID, artifactPath, dstStorageID, dstRepositoryID string) error {
	source, err := s.Resolve(ctx, srcStorageID, srcRepositoryID, artifactPath)
	if err != nil {
		return err
	}
	defer source.Close()

	if err := s.Store(ctx, dstStorageID, dstRepositoryID, artifactPath, source); err != nil {
		return err
	}

	s.appendEvent(ctx, dstStorageID, dstRepositoryID, artifactPath, out.EventArtifactCopied)
	s.recorder.ArtifactCopied(srcStorageID, dstStorageID)
	return nil
}

// Checksum returns the digest for an artifact and algorithm from the cache
// or the sidecar file. Sidecar absence is not an error.
func (s *Service) Checksum(ctx context.Context, storageID, repositoryID, artifactPath, algorithm string) (string, bool) {
	key := cacheKey(storageID, repositoryID, artifactPath)
	if digest, ok := s.cache.Get(key, algorithm); ok {
		s.recorder.ChecksumCacheHit()
		return digest, true
	}
	s.recorder.ChecksumCacheMiss()

	repo, err := s.repository(storageID, repositoryID)
	if err != nil {
		return "", false
	}
	resolver, err := s.registry.ResolverFor(repo.Type)
	if err != nil {
		return "", false
	}
	source, err := resolver.Resolve(ctx, storageID, repositoryID, artifactPath+"."+algorithm)
	if err != nil {
		return "", false
	}
	defer source.Close()

	digest, err := checksum.ParseSidecar(source)
	if err != nil || digest == "" {
		return "", false
	}

	s.cache.Put(key, algorithm, digest)
	return digest, true
}

// RecentEvents lists the most recent artifact mutations.
func (s *Service) RecentEvents(ctx context.Context, limit int) ([]out.ArtifactEvent, error) {
	if s.events == nil {
		return nil, nil
	}
	return s.events.Recent(ctx, limit)
}

func (s *Service) appendEvent(ctx context.Context, storageID, repositoryID, artifactPath, eventType string) {
	if s.events == nil {
		return
	}
	err := s.events.Append(ctx, out.ArtifactEvent{
		StorageID:    storageID,
		RepositoryID: repositoryID,
		Path:         artifactPath,
		Type:         eventType,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("path", artifactPath).Msg("failed to append artifact event")
	}
}
