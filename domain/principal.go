package domain

// PrincipalKind tags the two kinds of authenticated actors.
type PrincipalKind string

const (
	PrincipalHuman PrincipalKind = "human"
	PrincipalAgent PrincipalKind = "agent"
)

// Principal is the verified actor behind a request, resolved once at
// authentication time. OwnerID is the user whose boards the principal
// operates on: a human's own ID, or the owning user for an agent.
type Principal struct {
	Kind     PrincipalKind
	ID       string
	OwnerID  string
	Admin    bool
	AutoMode bool
}

// CanRead reports whether the principal may read resources owned by ownerID.
func (p Principal) CanRead(ownerID string) bool {
	return p.Admin || p.OwnerID == ownerID
}

// CanMutate reports whether the principal may mutate resources owned by
// ownerID: the owner, an agent acting within its owner's scope, or an admin.
func (p Principal) CanMutate(ownerID string) bool {
	return p.Admin || p.OwnerID == ownerID
}

// CanActFor checks whether the principal may perform a claim-style operation
// on behalf of agentID. Agents act only as themselves; humans and admins may
// direct any agent within reach. The returned reason is non-empty on denial.
func (p Principal) CanActFor(agentID string) (string, bool) {
	if p.Kind == PrincipalAgent && p.ID != agentID {
		return "an agent may not act on behalf of another agent", false
	}
	return "", true
}

// RequireAdmin gates admin-scoped operations such as cross-user listing.
func (p Principal) RequireAdmin() error {
	if !p.Admin {
		return ForbiddenError{Reason: "admin access required"}
	}
	return nil
}

// ActorID returns the agent identity a claim should be recorded under when
// the principal itself is the claimant: the agent's ID, or the user's own ID
// when an auto-mode user pulls work directly.
func (p Principal) ActorID() string {
	return p.ID
}
