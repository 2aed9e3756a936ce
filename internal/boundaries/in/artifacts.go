package in

import (
	"context"
	"io"

	"github.com/artifactd/artifactd/internal/boundaries/out"
	"github.com/artifactd/artifactd/internal/domain"
)

// ArtifactService is the contract the HTTP surface consumes for artifact
// access, integrity and lifecycle operations.
type ArtifactService interface {
	// Resolve opens an artifact for reading.
	Resolve(ctx context.Context, storageID, repositoryID, path string) (*domain.Source, error)

	// Store uploads an artifact, sidecar or metadata file.
	Store(ctx context.Context, storageID, repositoryID, path string, data io.Reader) error

	// Delete removes an artifact, its sidecars and its metadata entry.
	Delete(ctx context.Context, storageID, repositoryID, path string, force bool) error

	// Copy performs a server-side copy; the full store chain applies at the
	// destination.
	Copy(ctx context.Context, srcStorageID, srcRepositoryID, path, dstStorageID, dstRepositoryID string) error

	// Storage returns the named storage, or nil.
	Storage(storageID string) *domain.Storage

	// Repository returns the named repository, or nil.
	Repository(storageID, repositoryID string) *domain.Repository

	// Checksum returns the hex digest for an artifact and algorithm, read
	// from the sidecar file or the digest cache. Absence is not an error.
	Checksum(ctx context.Context, storageID, repositoryID, path, algorithm string) (string, bool)

	// RecentEvents lists the most recent artifact mutations.
	RecentEvents(ctx context.Context, limit int) ([]out.ArtifactEvent, error)
}
