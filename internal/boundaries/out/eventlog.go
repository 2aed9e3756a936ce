package out

import (
	"context"
	"time"
)

// Artifact event types recorded in the event log.
const (
	EventArtifactStored  = "artifact.stored"
	EventArtifactDeleted = "artifact.deleted"
	EventArtifactCopied  = "artifact.copied"
)

// ArtifactEvent is one recorded repository mutation.
type ArtifactEvent struct {
	ID           int64     `json:"id"`
	StorageID    string    `json:"storageId"`
	RepositoryID string    `json:"repositoryId"`
	Path         string    `json:"path"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
}

// EventLog records artifact mutations. Appends are best-effort from the
// caller's point of view: a failed append never fails the operation.
type EventLog interface {
	Append(ctx context.Context, event ArtifactEvent) error
	Recent(ctx context.Context, limit int) ([]ArtifactEvent, error)
	Close() error
}
