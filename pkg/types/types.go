// Package types provides the principal and record model shared by the
// session manager and the access policy evaluator
package types

import (
	"errors"
	"fmt"
)

// ErrInvalidPrincipal is returned when a principal is missing required attributes
var ErrInvalidPrincipal = errors.New("invalid principal")

// Principal represents the authenticated actor and its scope attributes.
// It is immutable for the lifetime of a session and replaced wholesale on
// re-login.
type Principal struct {
	ID           string  `json:"id" yaml:"id"`
	DisplayName  string  `json:"displayName" yaml:"displayName"`
	Email        string  `json:"email,omitempty" yaml:"email,omitempty"`
	Role         RoleTag `json:"role" yaml:"role"`
	LocationID   string  `json:"locationId,omitempty" yaml:"locationId,omitempty"`     // Empty when the principal has no branch
	DepartmentID string  `json:"departmentId,omitempty" yaml:"departmentId,omitempty"` // Empty when the principal has no department
}

// HasLocation reports whether the principal is bound to a location
func (p *Principal) HasLocation() bool {
	return p.LocationID != ""
}

// HasDepartment reports whether the principal is bound to a department
func (p *Principal) HasDepartment() bool {
	return p.DepartmentID != ""
}

// Validate checks that the principal carries an ID and a known role
func (p *Principal) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidPrincipal)
	}
	if !p.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidPrincipal, p.Role)
	}
	return nil
}

// Clone returns a copy of the principal
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// ToMap converts Principal to a map for CEL evaluation
func (p *Principal) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"id":           p.ID,
		"displayName":  p.DisplayName,
		"email":        p.Email,
		"role":         string(p.Role),
		"rank":         int64(p.Role.Rank()),
		"locationId":   p.LocationID,
		"departmentId": p.DepartmentID,
	}
}
