// Package group implements the location resolver for group repositories,
// which federate ordered member repositories and own no bytes of their own.
package group

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/artifactd/artifactd/internal/boundaries/out"
	"github.com/artifactd/artifactd/internal/domain"
)

type visitedKey struct{}

// visited tracks the (storage, repository) group nodes already entered
// during one top-level resolution; nodes are never removed. Group
// membership may form a DAG; a re-entered node is treated as empty rather
// than recursed into.
type visited map[string]struct{}

func visitedFrom(ctx context.Context) visited {
	if v, ok := ctx.Value(visitedKey{}).(visited); ok {
		return v
	}
	return nil
}

// Resolver resolves artifacts across the members of a group repository.
type Resolver struct {
	topology *domain.Topology
	registry out.ResolverRegistry
	log      zerolog.Logger
}

// NewResolver creates a group resolver. Member resolution is dispatched
// back through the registry, so nested groups work transparently.
func NewResolver(topology *domain.Topology, registry out.ResolverRegistry, log zerolog.Logger) *Resolver {
	return &Resolver{topology: topology, registry: registry, log: log}
}

// enter marks the group node as visited, returning ok=false when the node
// was already entered during this resolution.
func (r *Resolver) enter(ctx context.Context, storageID, repositoryID string) (context.Context, bool) {
	key := storageID + "/" + repositoryID
	seen := visitedFrom(ctx)
	if seen == nil {
		seen = make(visited)
		ctx = context.WithValue(ctx, visitedKey{}, seen)
	} else if _, ok := seen[key]; ok {
		return ctx, false
	}
	seen[key] = struct{}{}
	return ctx, true
}

func (r *Resolver) members(storageID, repositoryID string) (*domain.Repository, []*domain.Repository, error) {
	repo, err := r.topology.Repository(storageID, repositoryID)
	if err != nil {
		return nil, nil, err
	}
	if !repo.IsGroup() {
		return nil, nil, fmt.Errorf("%w: %s is not a group repository", domain.ErrRepositoryNotFound, repositoryID)
	}

	members := make([]*domain.Repository, 0, len(repo.GroupRepositories))
	for _, memberID := range repo.GroupRepositories {
		member, err := r.topology.Repository(storageID, memberID)
		if err != nil {
			return nil, nil, fmt.Errorf("group %s: member %s: %w", repositoryID, memberID, err)
		}
		members = append(members, member)
	}
	return repo, members, nil
}

// Resolve returns the first member's hit, in list order. Member errors
// other than not-found short-circuit and propagate.
func (r *Resolver) Resolve(ctx context.Context, storageID, repositoryID, path string) (*domain.Source, error) {
	ctx, ok := r.enter(ctx, storageID, repositoryID)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s/%s", domain.ErrArtifactNotFound, storageID, repositoryID, path)
	}

	_, members, err := r.members(storageID, repositoryID)
	if err != nil {
		return nil, err
	}

	for _, member := range members {
		resolver, err := r.registry.ResolverFor(member.Type)
		if err != nil {
			return nil, err
		}
		source, err := resolver.Resolve(ctx, storageID, member.ID, path)
		if err != nil {
			if errors.Is(err, domain.ErrArtifactNotFound) {
				continue
			}
			return nil, err
		}
		return source, nil
	}

	return nil, fmt.Errorf("%w: %s/%s/%s", domain.ErrArtifactNotFound, storageID, repositoryID, path)
}

// Store is disallowed on group repositories.
func (r *Resolver) Store(ctx context.Context, storageID, repositoryID, path string, data io.Reader) (map[string]string, error) {
	return nil, fmt.Errorf("%w: %s/%s", domain.ErrWriteToGroupForbidden, storageID, repositoryID)
}

// Delete is disallowed on group repositories.
func (r *Resolver) Delete(ctx context.Context, storageID, repositoryID, path string, force bool) error {
	return fmt.Errorf("%w: %s/%s", domain.ErrDeleteFromGroupForbidden, storageID, repositoryID)
}

// Contains is the logical OR over members, in order.
func (r *Resolver) Contains(ctx context.Context, storageID, repositoryID, path string) (bool, error) {
	ctx, ok := r.enter(ctx, storageID, repositoryID)
	if !ok {
		return false, nil
	}

	_, members, err := r.members(storageID, repositoryID)
	if err != nil {
		return false, err
	}

	for _, member := range members {
		resolver, err := r.registry.ResolverFor(member.Type)
		if err != nil {
			return false, err
		}
		found, err := resolver.Contains(ctx, storageID, member.ID, path)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}
