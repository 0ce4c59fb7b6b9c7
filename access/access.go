// Package access holds the caller identity context (Accountability) and the
// raw permission records the compiler consumes. Both are produced elsewhere:
// Accountability by the authentication layer, Permission records by the
// permission store. bundata treats all of it as read-only.
package access

// Action is a data operation gated by a permission record.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// User is the authenticated caller. Profile carries arbitrary per-user fields
// (department, tenant_id, ...) so security conditions can reference them via
// $CURRENT_USER.<field>.
type User struct {
	ID      string
	Role    string
	IsAdmin bool
	Tenant  string
	Profile map[string]any
}

// Field resolves a named attribute off the user for dynamic variable
// substitution. Well-known attributes win over profile entries.
func (u *User) Field(name string) (any, bool) {
	switch name {
	case "id":
		return u.ID, true
	case "role":
		return u.Role, true
	case "tenant":
		return u.Tenant, true
	}
	v, ok := u.Profile[name]
	return v, ok
}

// Role is the caller's resolved role.
type Role struct {
	ID           string
	Name         string
	TenantScoped bool
}

// Field resolves a named attribute off the role for dynamic variable
// substitution.
func (r *Role) Field(name string) (any, bool) {
	switch name {
	case "id":
		return r.ID, true
	case "name":
		return r.Name, true
	}
	return nil, false
}

// Accountability is the identity context of one request. Constructed once by
// the authentication layer and never mutated afterwards; the compiler passes
// it by reference and only reads it.
type Accountability struct {
	User *User
	Role *Role
	// Permissions optionally carries preloaded permission records; when nil
	// the resolver reads from the process-wide snapshot cache instead.
	Permissions []Permission
	Tenant      string
	IP          string
}

// RoleID returns the role key used for permission lookups. An anonymous
// caller (no role) maps to the empty key, which by convention addresses the
// public role's records.
func (a *Accountability) RoleID() string {
	if a == nil || a.Role == nil {
		return ""
	}
	return a.Role.ID
}

// IsAdmin reports whether the caller bypasses all row and field security.
// Derived solely from the user flag, never inferred from filter content.
func (a *Accountability) IsAdmin() bool {
	return a != nil && a.User != nil && a.User.IsAdmin
}

// Permission is one access rule for a (role, collection, action) tuple.
// At most one record exists per tuple; the store enforces it.
type Permission struct {
	ID         string `json:"id"`
	Role       string `json:"role"`
	Collection string `json:"collection"`
	Action     Action `json:"action"`

	// Fields is the allowlist of readable/writable fields. nil means all
	// fields; an empty non-nil slice means none.
	Fields []string `json:"fields,omitempty"`

	// Conditions is the raw security filter tree in the same nested-object
	// form callers use. nil means no row restriction.
	Conditions map[string]any `json:"conditions,omitempty"`

	// RelConditions are security filters applied to related collections,
	// keyed by relation name, enforced as existence constraints.
	RelConditions map[string]map[string]any `json:"relConditions,omitempty"`

	// DefaultValues supply or override caller-provided field values on the
	// write path. Ignored by reads.
	DefaultValues map[string]any `json:"defaultValues,omitempty"`

	// Validation is an optional CEL expression the write payload must
	// satisfy. Empty means no validation rule.
	Validation string `json:"validation,omitempty"`
}

// AllFields reports whether the record grants access to every field.
func (p *Permission) AllFields() bool {
	return p.Fields == nil
}
