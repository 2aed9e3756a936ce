// Package validation gates artifact writes through an ordered chain of
// version validators.
package validation

import (
	"fmt"

	"github.com/artifactd/artifactd/internal/domain"
)

// VersionValidator inspects a pending deployment. The exists flag reports
// whether the target path already holds an artifact.
type VersionValidator interface {
	Validate(repo *domain.Repository, coords *domain.Coordinates, exists bool) error
}

// Pipeline applies validators in insertion order; the first failure
// short-circuits with its specific error.
type Pipeline struct {
	validators []VersionValidator
}

// NewPipeline assembles the default validator chain.
func NewPipeline() *Pipeline {
	return &Pipeline{
		validators: []VersionValidator{
			ReleaseVersionValidator{},
			SnapshotVersionValidator{},
			RedeploymentValidator{},
		},
	}
}

// Validate runs the chain.
func (p *Pipeline) Validate(repo *domain.Repository, coords *domain.Coordinates, exists bool) error {
	for _, v := range p.validators {
		if err := v.Validate(repo, coords, exists); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseVersionValidator rejects snapshot versions in release repositories.
type ReleaseVersionValidator struct{}

func (ReleaseVersionValidator) Validate(repo *domain.Repository, coords *domain.Coordinates, _ bool) error {
	if repo.Policy == domain.PolicyRelease && coords.IsSnapshot() {
		return fmt.Errorf("%w: release policy rejects snapshot version %q", domain.ErrVersionPolicyViolation, coords.Version)
	}
	return nil
}

// SnapshotVersionValidator rejects release versions in snapshot repositories.
type SnapshotVersionValidator struct{}

func (SnapshotVersionValidator) Validate(repo *domain.Repository, coords *domain.Coordinates, _ bool) error {
	if repo.Policy == domain.PolicySnapshot && !coords.IsSnapshot() {
		return fmt.Errorf("%w: snapshot policy rejects release version %q", domain.ErrVersionPolicyViolation, coords.Version)
	}
	return nil
}

// RedeploymentValidator rejects overwrites of existing release artifacts in
// repositories that disallow redeployment. Snapshots are exempt.
type RedeploymentValidator struct{}

func (RedeploymentValidator) Validate(repo *domain.Repository, coords *domain.Coordinates, exists bool) error {
	if coords.IsSnapshot() {
		return nil
	}
	if !repo.AllowsRedeployment && exists {
		return fmt.Errorf("%w: %s is already deployed", domain.ErrRedeploymentForbidden, coords.Path())
	}
	return nil
}
