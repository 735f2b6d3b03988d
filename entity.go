package autoflow

import "context"

// EntityType identifies the kind of business record an event or enrollment
// relates to. The engine treats entities as opaque beyond this tag.
type EntityType string

const (
	EntityContact EntityType = "contact"
	EntityDeal    EntityType = "deal"
	EntityCompany EntityType = "company"
)

// EntityRef is a reference to a single business record within a tenant.
type EntityRef struct {
	Type EntityType
	ID   string
}

// Snapshot is a point-in-time, read-only projection of an entity's fields
// used for condition evaluation. Snapshots are produced fresh by the caller
// for each evaluation and are never persisted or cached by the engine.
type Snapshot map[string]any

// SnapshotFunc returns the current field values of the referenced entity. The
// engine calls it again for every evaluation that needs fresh data, such as
// condition-branch steps, and never reuses a snapshot across steps.
type SnapshotFunc func(ctx context.Context, tenantID int64, ref EntityRef) (Snapshot, error)
