package guardkit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// SnapshotKind names the component a snapshot was taken from.
type SnapshotKind string

const (
	SnapshotRoles    SnapshotKind = "roles"
	SnapshotTimelock SnapshotKind = "timelock"
)

// Current snapshot schema versions. Older versions are migrated on decode.
const (
	RoleSnapshotVersion     uint16 = 1
	TimelockSnapshotVersion uint16 = 2
)

// Envelope is the versioned wrapper every snapshot is stored in. New fields
// are added to the body types and old bodies are upgraded by a migration
// registered for their version, so stored data never relies on fixed offsets.
type Envelope struct {
	Version   uint16             `msgpack:"version"`
	Kind      SnapshotKind       `msgpack:"kind"`
	CreatedAt time.Time          `msgpack:"created_at"`
	Body      msgpack.RawMessage `msgpack:"body"`
}

// RoleSnapshot is the state of a RoleRegistry.
type RoleSnapshot struct {
	Roles []RoleRecord `msgpack:"roles" json:"roles"`
}

// RoleRecord is one role with its admin and members in enumeration order.
type RoleRecord struct {
	ID       RoleID    `msgpack:"id" json:"id"`
	Admin    RoleID    `msgpack:"admin" json:"admin"`
	AdminSet bool      `msgpack:"admin_set" json:"admin_set"`
	Members  []Address `msgpack:"members" json:"members"`
}

// TimelockSnapshot is the state of an EmergencyActionTimelock.
type TimelockSnapshot struct {
	Duration  time.Duration     `msgpack:"duration" json:"duration"`
	Actions   []EmergencyAction `msgpack:"actions" json:"actions"`
	Targets   []Address         `msgpack:"targets" json:"targets"`
	Selectors []Selector        `msgpack:"selectors" json:"selectors"`
}

// timelockSnapshotV1 stored the duration in whole seconds and had no
// execution timestamp on actions.
type timelockSnapshotV1 struct {
	DurationSeconds uint64     `msgpack:"duration_seconds"`
	Actions         []actionV1 `msgpack:"actions"`
	Targets         []Address  `msgpack:"targets"`
	Selectors       []Selector `msgpack:"selectors"`
}

type actionV1 struct {
	ID         ActionID  `msgpack:"id"`
	Level      Level     `msgpack:"level"`
	ProposedAt time.Time `msgpack:"proposed_at"`
	Proposer   Address   `msgpack:"proposer"`
	Target     Address   `msgpack:"target"`
	Payload    []byte    `msgpack:"payload"`
	Executed   bool      `msgpack:"executed"`
	Cancelled  bool      `msgpack:"cancelled"`
}

// snapshotMigration upgrades a body by one version.
type snapshotMigration func(body []byte) ([]byte, error)

var snapshotMigrations = map[SnapshotKind]map[uint16]snapshotMigration{
	SnapshotTimelock: {
		1: migrateTimelockV1,
	},
}

var currentSnapshotVersion = map[SnapshotKind]uint16{
	SnapshotRoles:    RoleSnapshotVersion,
	SnapshotTimelock: TimelockSnapshotVersion,
}

func migrateTimelockV1(body []byte) ([]byte, error) {
	var v1 timelockSnapshotV1
	if err := msgpack.Unmarshal(body, &v1); err != nil {
		return nil, err
	}
	v2 := TimelockSnapshot{
		Duration:  time.Duration(v1.DurationSeconds) * time.Second,
		Targets:   v1.Targets,
		Selectors: v1.Selectors,
	}
	for _, a := range v1.Actions {
		v2.Actions = append(v2.Actions, EmergencyAction{
			ID:         a.ID,
			Level:      a.Level,
			ProposedAt: a.ProposedAt,
			Proposer:   a.Proposer,
			Target:     a.Target,
			Payload:    a.Payload,
			Executed:   a.Executed,
			Cancelled:  a.Cancelled,
		})
	}
	return msgpack.Marshal(v2)
}

func encodeSnapshot(kind SnapshotKind, createdAt time.Time, body interface{}) ([]byte, error) {
	raw, err := msgpack.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s snapshot: %w", kind, err)
	}
	return msgpack.Marshal(Envelope{
		Version:   currentSnapshotVersion[kind],
		Kind:      kind,
		CreatedAt: createdAt.UTC(),
		Body:      raw,
	})
}

// DecodeEnvelope decodes data and migrates its body to the current version of
// its kind.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode snapshot envelope: %w", err)
	}
	current, ok := currentSnapshotVersion[env.Kind]
	if !ok {
		return Envelope{}, fmt.Errorf("%w: unknown kind %q", ErrSnapshotVersion, env.Kind)
	}
	for env.Version < current {
		migrate, ok := snapshotMigrations[env.Kind][env.Version]
		if !ok {
			return Envelope{}, fmt.Errorf("%w: no migration for %s v%d", ErrSnapshotVersion, env.Kind, env.Version)
		}
		body, err := migrate(env.Body)
		if err != nil {
			return Envelope{}, fmt.Errorf("migrate %s snapshot v%d: %w", env.Kind, env.Version, err)
		}
		env.Body = body
		env.Version++
	}
	if env.Version != current {
		return Envelope{}, fmt.Errorf("%w: %s v%d is newer than v%d", ErrSnapshotVersion, env.Kind, env.Version, current)
	}
	return env, nil
}

func decodeSnapshot(data []byte, kind SnapshotKind, body interface{}) error {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return err
	}
	if env.Kind != kind {
		return fmt.Errorf("%w: expected %s snapshot, got %s", ErrSnapshotVersion, kind, env.Kind)
	}
	if err := msgpack.Unmarshal(env.Body, body); err != nil {
		return fmt.Errorf("decode %s snapshot: %w", kind, err)
	}
	return nil
}

// DecodeSnapshot decodes data into a *RoleSnapshot or *TimelockSnapshot
// according to its kind.
func DecodeSnapshot(data []byte) (SnapshotKind, interface{}, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return "", nil, err
	}
	var body interface{}
	switch env.Kind {
	case SnapshotRoles:
		body = &RoleSnapshot{}
	case SnapshotTimelock:
		body = &TimelockSnapshot{}
	}
	if err := msgpack.Unmarshal(env.Body, body); err != nil {
		return "", nil, fmt.Errorf("decode %s snapshot: %w", env.Kind, err)
	}
	return env.Kind, body, nil
}

// ============================================================================
// ROLE REGISTRY
// ============================================================================

// Snapshot encodes the registry state.
func (r *RoleRegistry) Snapshot(ctx context.Context) ([]byte, error) {
	defer r.guard.read(ctx)()

	snap := RoleSnapshot{Roles: make([]RoleRecord, 0, len(r.roles))}
	for id, rd := range r.roles {
		snap.Roles = append(snap.Roles, RoleRecord{
			ID:       id,
			Admin:    rd.admin,
			AdminSet: rd.adminSet,
			Members:  rd.members.Values(),
		})
	}
	sort.Slice(snap.Roles, func(i, j int) bool {
		return snap.Roles[i].ID.Hex() < snap.Roles[j].ID.Hex()
	})
	return encodeSnapshot(SnapshotRoles, r.rec.clock(), snap)
}

// RestoreRoleRegistry rebuilds a registry from a snapshot. Restoring emits no
// audit events. The snapshot must keep at least one default admin.
func RestoreRoleRegistry(data []byte, opts ...Option) (*RoleRegistry, error) {
	var snap RoleSnapshot
	if err := decodeSnapshot(data, SnapshotRoles, &snap); err != nil {
		return nil, err
	}

	r := newRoleRegistry(newOptions(opts))
	for _, rec := range snap.Roles {
		rd := r.role(rec.ID)
		rd.admin = rec.Admin
		rd.adminSet = rec.AdminSet
		for _, m := range rec.Members {
			if m.IsZero() {
				return nil, NewError(ErrInvalidAccount, "snapshot holds a zero member").WithRole(rec.ID)
			}
			rd.members.Add(m)
		}
	}
	if r.memberCount(DefaultAdminRole) == 0 {
		return nil, NewError(ErrCannotRemoveLastAdmin, "snapshot has no default admin")
	}
	return r, nil
}

// ============================================================================
// TIMELOCK
// ============================================================================

// Snapshot encodes the timelock state.
func (t *EmergencyActionTimelock) Snapshot(ctx context.Context) ([]byte, error) {
	defer t.guard.read(ctx)()

	snap := TimelockSnapshot{
		Duration:  t.duration,
		Actions:   make([]EmergencyAction, 0, len(t.actionIDs)),
		Targets:   make([]Address, 0, len(t.targets)),
		Selectors: make([]Selector, 0, len(t.selectors)),
	}
	for _, id := range t.actionIDs {
		snap.Actions = append(snap.Actions, t.actions[id].clone())
	}
	for a := range t.targets {
		snap.Targets = append(snap.Targets, a)
	}
	for s := range t.selectors {
		snap.Selectors = append(snap.Selectors, s)
	}
	sort.Slice(snap.Targets, func(i, j int) bool { return snap.Targets[i].Hex() < snap.Targets[j].Hex() })
	sort.Slice(snap.Selectors, func(i, j int) bool { return snap.Selectors[i].Hex() < snap.Selectors[j].Hex() })
	return encodeSnapshot(SnapshotTimelock, t.rec.clock(), snap)
}

// RestoreTimelock rebuilds a timelock deployed at self from a snapshot of any
// supported version.
func RestoreTimelock(self Address, roles RoleChecker, contracts ContractResolver, data []byte, opts ...Option) (*EmergencyActionTimelock, error) {
	var snap TimelockSnapshot
	if err := decodeSnapshot(data, SnapshotTimelock, &snap); err != nil {
		return nil, err
	}

	t, err := NewEmergencyActionTimelock(self, roles, contracts, append(opts, WithTimelockDuration(snap.Duration))...)
	if err != nil {
		return nil, err
	}
	for i := range snap.Actions {
		a := snap.Actions[i]
		if a.Executed && a.Cancelled {
			return nil, fmt.Errorf("%w: action %s is both executed and cancelled", ErrSnapshotVersion, a.ID)
		}
		if _, dup := t.actions[a.ID]; dup {
			return nil, NewError(ErrDuplicateAction, "snapshot repeats an action").WithAction(a.ID)
		}
		t.actions[a.ID] = &a
		t.actionIDs = append(t.actionIDs, a.ID)
	}
	for _, a := range snap.Targets {
		t.targets[a] = struct{}{}
	}
	for _, s := range snap.Selectors {
		t.selectors[s] = struct{}{}
	}
	return t, nil
}
