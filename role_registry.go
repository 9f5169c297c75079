package guardkit

import (
	"context"
	"fmt"
)

const componentRoles = "roles"

// RoleChecker answers role membership queries. *RoleRegistry implements it;
// the timelock, controller and aware components depend only on this.
type RoleChecker interface {
	HasRole(ctx context.Context, role RoleID, account Address) (bool, error)
}

// RoleRegistry owns role membership and the role admin hierarchy.
//
// Membership of each role is an IndexedSet, so members are enumerable and an
// account's recorded slot always points at itself, whatever the order of
// grants and revokes.
type RoleRegistry struct {
	guard *guard
	rec   recorder
	roles map[RoleID]*roleData
}

type roleData struct {
	members *IndexedSet[Address]
	admin   RoleID
	// adminSet distinguishes "explicitly administered by DefaultAdminRole"
	// from "never configured".
	adminSet bool
}

// NewRoleRegistry creates a registry whose only member is initialAdmin,
// holding DefaultAdminRole.
//
// Example:
//
//	registry, err := guardkit.NewRoleRegistry(admin, guardkit.WithLogger(log))
//	ctx := guardkit.WithCaller(ctx, admin)
//	err = registry.GrantRole(ctx, guardkit.EmergencyRole, operator)
func NewRoleRegistry(initialAdmin Address, opts ...Option) (*RoleRegistry, error) {
	if initialAdmin.IsZero() {
		return nil, NewError(ErrInvalidAccount, "initial admin is the zero address")
	}
	o := newOptions(opts)
	r := newRoleRegistry(o)
	r.role(DefaultAdminRole).members.Add(initialAdmin)

	r.rec.emit(WithCaller(context.Background(), initialAdmin), EventRoleGranted, map[string]string{
		"role":    DefaultAdminRole.Hex(),
		"account": initialAdmin.Hex(),
	})
	return r, nil
}

func newRoleRegistry(o *options) *RoleRegistry {
	return &RoleRegistry{
		guard: newGuard(componentRoles, o.metrics),
		rec:   newRecorder(componentRoles, o),
		roles: make(map[RoleID]*roleData),
	}
}

// role returns the record for id, creating it on first use.
func (r *RoleRegistry) role(id RoleID) *roleData {
	rd, ok := r.roles[id]
	if !ok {
		rd = &roleData{members: NewIndexedSet[Address]()}
		r.roles[id] = rd
	}
	return rd
}

func (r *RoleRegistry) lookup(id RoleID) (*roleData, bool) {
	rd, ok := r.roles[id]
	return rd, ok
}

// effectiveAdmin resolves the admin of id; roles never configured fall back to DefaultAdminRole.
func (r *RoleRegistry) effectiveAdmin(id RoleID) RoleID {
	if rd, ok := r.lookup(id); ok && rd.adminSet {
		return rd.admin
	}
	return DefaultAdminRole
}

func (r *RoleRegistry) isMember(id RoleID, account Address) bool {
	rd, ok := r.lookup(id)
	return ok && rd.members.Contains(account)
}

func (r *RoleRegistry) memberCount(id RoleID) int {
	if rd, ok := r.lookup(id); ok {
		return rd.members.Len()
	}
	return 0
}

// ============================================================================
// QUERIES
// ============================================================================

// HasRole reports whether account holds role.
func (r *RoleRegistry) HasRole(ctx context.Context, role RoleID, account Address) (bool, error) {
	if account.IsZero() {
		return false, NewError(ErrInvalidAccount, "account is the zero address").WithRole(role)
	}
	defer r.guard.read(ctx)()
	return r.isMember(role, account), nil
}

// GetRoleAdmin returns the effective admin role of role.
func (r *RoleRegistry) GetRoleAdmin(ctx context.Context, role RoleID) RoleID {
	defer r.guard.read(ctx)()
	return r.effectiveAdmin(role)
}

// GetRoleMember returns the member of role at index.
func (r *RoleRegistry) GetRoleMember(ctx context.Context, role RoleID, index int) (Address, error) {
	defer r.guard.read(ctx)()

	if rd, ok := r.lookup(role); ok {
		if a, ok := rd.members.At(index); ok {
			return a, nil
		}
	}
	return Address{}, NewError(ErrIndexOutOfBounds, fmt.Sprintf("index %d, role has %d members", index, r.memberCount(role))).WithRole(role)
}

// GetRoleMemberCount returns the number of members of role.
func (r *RoleRegistry) GetRoleMemberCount(ctx context.Context, role RoleID) int {
	defer r.guard.read(ctx)()
	return r.memberCount(role)
}

// GetRoleMembers returns every member of role in enumeration order.
func (r *RoleRegistry) GetRoleMembers(ctx context.Context, role RoleID) []Address {
	defer r.guard.read(ctx)()

	if rd, ok := r.lookup(role); ok {
		return rd.members.Values()
	}
	return []Address{}
}

// GetRoleMembersPaginated returns up to limit members of role starting at offset,
// plus the total member count. An offset at or past the end yields an empty page.
func (r *RoleRegistry) GetRoleMembersPaginated(ctx context.Context, role RoleID, offset, limit int) ([]Address, int, error) {
	if limit <= 0 {
		return nil, 0, NewError(ErrInvalidAmount, "limit must be positive").WithRole(role)
	}
	if offset < 0 {
		return nil, 0, NewError(ErrInvalidAmount, "offset must not be negative").WithRole(role)
	}
	defer r.guard.read(ctx)()

	rd, ok := r.lookup(role)
	if !ok {
		return []Address{}, 0, nil
	}
	return rd.members.Page(offset, limit), rd.members.Len(), nil
}

// Roles returns every role that has a record (members or a configured admin).
func (r *RoleRegistry) Roles(ctx context.Context) []RoleID {
	defer r.guard.read(ctx)()

	out := make([]RoleID, 0, len(r.roles))
	for id := range r.roles {
		out = append(out, id)
	}
	return out
}

// ============================================================================
// MUTATIONS
// ============================================================================

// requireAdmin checks that caller holds the effective admin role of role.
func (r *RoleRegistry) requireAdmin(role RoleID, caller Address) error {
	admin := r.effectiveAdmin(role)
	if caller.IsZero() || !r.isMember(admin, caller) {
		return NewError(ErrSenderNotAdmin, "caller lacks the admin role").
			WithRole(admin).
			WithCaller(caller)
	}
	return nil
}

// GrantRole adds account to role. The caller must hold the admin role of role.
// Granting a role the account already holds is a no-op.
func (r *RoleRegistry) GrantRole(ctx context.Context, role RoleID, account Address) error {
	ctx, release, err := r.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	caller := GetCaller(ctx)
	if account.IsZero() {
		return NewError(ErrInvalidAccount, "account is the zero address").WithRole(role)
	}
	if err := r.requireAdmin(role, caller); err != nil {
		return err
	}

	if !r.role(role).members.Add(account) {
		return nil
	}

	r.rec.metrics.roleChanged(EventRoleGranted)
	r.rec.emit(ctx, EventRoleGranted, map[string]string{
		"role":    role.Hex(),
		"account": account.Hex(),
	})
	return nil
}

// RevokeRole removes account from role. The caller must hold the admin role of role.
// Revoking from a non-member is a no-op; the last default admin can never be removed.
func (r *RoleRegistry) RevokeRole(ctx context.Context, role RoleID, account Address) error {
	ctx, release, err := r.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	caller := GetCaller(ctx)
	if account.IsZero() {
		return NewError(ErrInvalidAccount, "account is the zero address").WithRole(role)
	}
	if err := r.requireAdmin(role, caller); err != nil {
		return err
	}
	return r.remove(ctx, role, account)
}

// RenounceRole removes the caller from role.
func (r *RoleRegistry) RenounceRole(ctx context.Context, role RoleID) error {
	ctx, release, err := r.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	caller := GetCaller(ctx)
	if caller.IsZero() {
		return NewError(ErrInvalidAccount, "caller is the zero address").WithRole(role)
	}
	return r.remove(ctx, role, caller)
}

func (r *RoleRegistry) remove(ctx context.Context, role RoleID, account Address) error {
	if role.IsDefaultAdmin() && r.memberCount(role) <= 1 {
		return NewError(ErrCannotRemoveLastAdmin, "default admin role needs at least one member").
			WithRole(role).
			WithAccount(account)
	}

	rd, ok := r.lookup(role)
	if !ok || !rd.members.Remove(account) {
		return nil
	}

	r.rec.metrics.roleChanged(EventRoleRevoked)
	r.rec.emit(ctx, EventRoleRevoked, map[string]string{
		"role":    role.Hex(),
		"account": account.Hex(),
	})
	return nil
}

// SetRoleAdmin makes newAdmin the admin role of role. The caller must hold the
// current effective admin of role. DefaultAdminRole always administers itself.
func (r *RoleRegistry) SetRoleAdmin(ctx context.Context, role, newAdmin RoleID) error {
	ctx, release, err := r.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	caller := GetCaller(ctx)
	if role.IsDefaultAdmin() {
		return NewError(ErrRoleIsReserved, "default admin role administers itself").WithRole(role)
	}
	if err := r.requireAdmin(role, caller); err != nil {
		return err
	}

	previous := r.effectiveAdmin(role)
	rd := r.role(role)
	rd.admin = newAdmin
	rd.adminSet = true

	r.rec.metrics.roleChanged(EventRoleAdminChanged)
	r.rec.emit(ctx, EventRoleAdminChanged, map[string]string{
		"role":           role.Hex(),
		"previous_admin": previous.Hex(),
		"new_admin":      newAdmin.Hex(),
	})
	return nil
}

// verify checks the enumeration invariant of every role.
func (r *RoleRegistry) verify() error {
	for id, rd := range r.roles {
		if err := rd.members.verify(); err != nil {
			return fmt.Errorf("role %s: %w", id, err)
		}
	}
	return nil
}

// requireRole checks that caller holds role in roles.
func requireRole(ctx context.Context, roles RoleChecker, role RoleID, caller Address) error {
	if caller.IsZero() {
		return NewError(ErrNotAuthorized, "no caller in context").WithRole(role)
	}
	ok, err := roles.HasRole(ctx, role, caller)
	if err != nil {
		return err
	}
	if !ok {
		return NewError(ErrNotAuthorized, "caller lacks required role").
			WithRole(role).
			WithCaller(caller)
	}
	return nil
}
