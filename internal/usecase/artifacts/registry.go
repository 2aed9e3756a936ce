package artifacts

import (
	"fmt"

	"github.com/artifactd/artifactd/internal/boundaries/out"
	"github.com/artifactd/artifactd/internal/domain"
)

// Registry maps repository types to resolver instances. It is assembled at
// startup and immutable afterwards.
type Registry struct {
	resolvers map[domain.RepositoryType]out.LocationResolver
}

// NewRegistry creates an empty resolver registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[domain.RepositoryType]out.LocationResolver)}
}

// Register binds a repository type to a resolver.
func (r *Registry) Register(repoType domain.RepositoryType, resolver out.LocationResolver) {
	r.resolvers[repoType] = resolver
}

// ResolverFor returns the resolver registered for the repository type.
func (r *Registry) ResolverFor(repoType domain.RepositoryType) (out.LocationResolver, error) {
	resolver, ok := r.resolvers[repoType]
	if !ok {
		return nil, fmt.Errorf("no resolver registered for repository type %q", repoType)
	}
	return resolver, nil
}
