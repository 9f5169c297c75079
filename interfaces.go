package guardkit

import (
	"context"

	"github.com/fernandezvara/dbkit"
)

// HealthMonitor defines the health monitoring interface
type HealthMonitor interface {
	Health(ctx context.Context) dbkit.HealthStatus
	IsHealthy(ctx context.Context) bool
	Ping(ctx context.Context) error
	PoolStats() dbkit.PoolStats
}

// SnapshotStore persists encoded snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, data []byte) error
	LatestSnapshot(ctx context.Context, kind SnapshotKind) ([]byte, error)
}

// Snapshotter is implemented by components whose state can be snapshotted.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]byte, error)
}

// StatusGate answers whether a protected component may run an operation.
type StatusGate interface {
	IsEffectivelyPaused(ctx context.Context) bool
	CheckEmergencyStatus(ctx context.Context, operation Selector) bool
	OperationGate
}

// SaveSnapshots snapshots every component and stores the results in one
// transaction, so a restore never mixes states from different moments.
func SaveSnapshots(ctx context.Context, store *Store, components ...Snapshotter) error {
	blobs := make([][]byte, 0, len(components))
	for _, c := range components {
		data, err := c.Snapshot(ctx)
		if err != nil {
			return err
		}
		blobs = append(blobs, data)
	}
	return store.Transaction(ctx, func(ctx context.Context, tx *Store) error {
		for _, data := range blobs {
			if err := tx.SaveSnapshot(ctx, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Ensure implementations satisfy interfaces
var (
	_ RoleChecker      = (*RoleRegistry)(nil)
	_ Contract         = (*RoleRegistry)(nil)
	_ Snapshotter      = (*RoleRegistry)(nil)
	_ StatusProvider   = (*EmergencyController)(nil)
	_ Contract         = (*EmergencyController)(nil)
	_ ShutdownReceiver = (*EmergencyAware)(nil)
	_ StatusGate       = (*EmergencyAware)(nil)
	_ Contract         = (*EmergencyAware)(nil)
	_ Snapshotter      = (*EmergencyActionTimelock)(nil)
	_ AuditLog         = (*MemoryAuditLog)(nil)
	_ AuditLog         = (*Store)(nil)
	_ SnapshotStore    = (*Store)(nil)
	_ HealthMonitor    = (*Store)(nil)
	_ ContractResolver = (*Directory)(nil)
)
