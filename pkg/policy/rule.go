package policy

import (
	"fmt"

	"github.com/hireboard/accesscore/pkg/types"
)

// ScopeKind is the declarative rule that decides which records a role sees
type ScopeKind string

const (
	// ScopeUnrestricted applies no filtering
	ScopeUnrestricted ScopeKind = "unrestricted"

	// ScopeByLocation keeps records at the principal's location
	ScopeByLocation ScopeKind = "by-location"

	// ScopeByLocationAndDepartment keeps records matching both the
	// principal's location and department
	ScopeByLocationAndDepartment ScopeKind = "by-location-and-department"

	// ScopeSelfOnly keeps records owned by the principal
	ScopeSelfOnly ScopeKind = "self-only"

	// ScopeNone rejects every record
	ScopeNone ScopeKind = "none"
)

// breadth orders kinds so that a kind accepts a superset of the records
// accepted by every kind of lower breadth, for the same located principal.
// Without strict attributes an unlocated principal is unfiltered on location
// under ScopeByLocationAndDepartment but sees only owned records under
// ScopeByLocation.
var breadth = map[ScopeKind]int{
	ScopeNone:                    0,
	ScopeSelfOnly:                1,
	ScopeByLocationAndDepartment: 2,
	ScopeByLocation:              3,
	ScopeUnrestricted:            4,
}

// Valid reports whether k is a known scope kind
func (k ScopeKind) Valid() bool {
	_, ok := breadth[k]
	return ok
}

// Narrower reports whether k accepts no more records than other
func (k ScopeKind) Narrower(other ScopeKind) bool {
	return breadth[k] <= breadth[other]
}

// UnmarshalText rejects unknown kinds while decoding policy files
func (k *ScopeKind) UnmarshalText(text []byte) error {
	kind := ScopeKind(text)
	if !kind.Valid() {
		return fmt.Errorf("unknown scope kind %q", string(text))
	}
	*k = kind
	return nil
}

// matches applies the kind to one record. Records owned by the principal
// are visible under every kind but ScopeNone.
func (k ScopeKind) matches(p *types.Principal, r types.Record, strict bool) bool {
	if k == ScopeNone {
		return false
	}
	if owner := r.ScopeOwnerID(); owner != "" && owner == p.ID {
		return true
	}

	switch k {
	case ScopeUnrestricted:
		return true
	case ScopeByLocation:
		return dimensionMatches(p.LocationID, r.ScopeLocationID(), true)
	case ScopeByLocationAndDepartment:
		return dimensionMatches(p.LocationID, r.ScopeLocationID(), strict) &&
			dimensionMatches(p.DepartmentID, r.ScopeDepartmentID(), strict)
	default:
		return false
	}
}

// dimensionMatches compares one scope attribute. A principal without the
// attribute is unfiltered on it unless strict; a record without it never
// matches a principal that has it. ScopeByLocation always passes strict.
func dimensionMatches(principalValue, recordValue string, strict bool) bool {
	if principalValue == "" {
		return !strict
	}
	return recordValue == principalValue
}
