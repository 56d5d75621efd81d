package types

import (
	"fmt"
	"strings"
)

// RoleTag identifies a principal's role. The set is closed and totally
// ordered by authority.
type RoleTag string

const (
	RoleCEO                 RoleTag = "ceo"
	RoleBranchManager       RoleTag = "branch-manager"
	RoleMarketingHead       RoleTag = "marketing-head"
	RoleMarketingSupervisor RoleTag = "marketing-supervisor"
	RoleMarketingRecruiter  RoleTag = "marketing-recruiter"
	RoleMarketingAssociate  RoleTag = "marketing-associate"
	RoleApplicant           RoleTag = "applicant"
)

// roleOrder lists roles from least to most authority; the index is the rank
var roleOrder = []RoleTag{
	RoleApplicant,
	RoleMarketingAssociate,
	RoleMarketingRecruiter,
	RoleMarketingSupervisor,
	RoleMarketingHead,
	RoleBranchManager,
	RoleCEO,
}

var roleRanks = func() map[RoleTag]int {
	m := make(map[RoleTag]int, len(roleOrder))
	for i, r := range roleOrder {
		m[r] = i
	}
	return m
}()

// AllRoles returns every role, most authoritative first
func AllRoles() []RoleTag {
	out := make([]RoleTag, len(roleOrder))
	for i := range roleOrder {
		out[i] = roleOrder[len(roleOrder)-1-i]
	}
	return out
}

// ParseRoleTag normalizes a role name as the backend spells it
// ("Branch Manager", "branch_manager", "CEO") and returns the matching tag.
func ParseRoleTag(s string) (RoleTag, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("_", "-", " ", "-").Replace(norm)
	tag := RoleTag(norm)
	if !tag.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return tag, nil
}

// Valid reports whether r is one of the known roles
func (r RoleTag) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// Rank returns the authority rank of the role, higher is more authoritative.
// Unknown roles rank -1, below applicant.
func (r RoleTag) Rank() int {
	if rank, ok := roleRanks[r]; ok {
		return rank
	}
	return -1
}

// Outranks reports whether r carries strictly more authority than other
func (r RoleTag) Outranks(other RoleTag) bool {
	return r.Rank() > other.Rank()
}

// AtLeast reports whether r carries at least the authority of floor
func (r RoleTag) AtLeast(floor RoleTag) bool {
	return r.Valid() && r.Rank() >= floor.Rank()
}

func (r RoleTag) String() string {
	return string(r)
}
