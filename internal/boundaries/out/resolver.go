package out

import (
	"context"
	"io"

	"github.com/artifactd/artifactd/internal/domain"
)

// LocationResolver maps a logical (storage, repository, path) triple to
// concrete byte streams. Implementations differ in backing strategy
// (local filesystem, group federation) but share one contract.
type LocationResolver interface {
	// Resolve opens a byte source for the artifact.
	Resolve(ctx context.Context, storageID, repositoryID, path string) (*domain.Source, error)

	// Store creates or overwrites the artifact; the write becomes visible
	// atomically. Returns the digests computed while streaming.
	Store(ctx context.Context, storageID, repositoryID, path string, data io.Reader) (map[string]string, error)

	// Delete removes the artifact and its digest sidecars. When force is
	// set, trash/quarantine preservation rules are bypassed.
	Delete(ctx context.Context, storageID, repositoryID, path string, force bool) error

	// Contains checks artifact existence without side effects.
	Contains(ctx context.Context, storageID, repositoryID, path string) (bool, error)
}

// ResolverRegistry selects the resolver for a repository type. The registry
// is assembled once at startup.
type ResolverRegistry interface {
	ResolverFor(repoType domain.RepositoryType) (LocationResolver, error)
}
