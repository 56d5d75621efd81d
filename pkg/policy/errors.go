package policy

import (
	"errors"
	"fmt"
)

// ErrForbidden is the policy decision that a principal may not act on a record
var ErrForbidden = errors.New("forbidden")

// ForbiddenError carries the rule that denied a mutation
type ForbiddenError struct {
	ResourceType string
	Rule         ScopeKind
	Reason       string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s on %s: %s", e.Rule, e.ResourceType, e.Reason)
}

func (e *ForbiddenError) Unwrap() error {
	return ErrForbidden
}
