package auth

// Operation names an attendee operation subject to authorization.
type Operation string

const (
	OpCreate   Operation = "create"
	OpList     Operation = "list"
	OpRetrieve Operation = "retrieve"
	OpLookup   Operation = "lookup"
	OpUpdate   Operation = "update"
	OpDelete   Operation = "delete"
	// OpUpdateSelf is updating the attendee whose user_id is the caller's subject.
	OpUpdateSelf Operation = "update_self"
)

// Caller is whoever issued the request. The zero value is an anonymous caller.
type Caller struct {
	Subject string
	Email   string
	Role    string
}

// Authenticated reports whether the caller presented valid credentials.
func (c Caller) Authenticated() bool {
	return c.Subject != ""
}

// Policy decides whether caller may run op. Route access is checked by middleware
// before the operation runs; handlers consult it only to widen what an allowed
// request may address (numeric ids for retrieve and update).
type Policy interface {
	Allowed(op Operation, caller Caller) bool
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(op Operation, caller Caller) bool

// Allowed implements Policy.
func (f PolicyFunc) Allowed(op Operation, caller Caller) bool { return f(op, caller) }

// RolePolicy lets anyone create a profile and look up any profile by user_id, lets
// authenticated callers update their own profile, and restricts every other
// operation to authenticated callers holding one of the staff roles.
type RolePolicy struct {
	staff      map[string]struct{}
	publicList bool
}

// NewRolePolicy builds a RolePolicy. publicList opens list/search to anonymous callers.
func NewRolePolicy(staffRoles []string, publicList bool) *RolePolicy {
	staff := make(map[string]struct{}, len(staffRoles))
	for _, r := range staffRoles {
		staff[r] = struct{}{}
	}
	return &RolePolicy{staff: staff, publicList: publicList}
}

// Allowed implements Policy.
func (p *RolePolicy) Allowed(op Operation, caller Caller) bool {
	switch op {
	case OpCreate, OpLookup:
		return true
	case OpList:
		if p.publicList {
			return true
		}
	}
	if !caller.Authenticated() {
		return false
	}
	if op == OpUpdateSelf {
		return true
	}
	_, ok := p.staff[caller.Role]
	return ok
}
