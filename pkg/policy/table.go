package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hireboard/accesscore/pkg/types"
)

// ErrInvalidTable is returned when a policy table fails validation
var ErrInvalidTable = errors.New("invalid policy table")

// Table is the declarative rule table consumed by the Evaluator
type Table struct {
	// StrictMissingAttributes makes a principal without a location or
	// department see nothing on that dimension instead of everything under
	// by-location-and-department. by-location is always strict.
	StrictMissingAttributes bool `yaml:"strictMissingAttributes"`

	// Roles maps every role to its default scope
	Roles map[types.RoleTag]ScopeKind `yaml:"roles"`

	// Resources holds per resource type overrides and conditions
	Resources map[types.ResourceType]ResourceRules `yaml:"resources,omitempty"`

	// Fields maps a restricted field name to the least role allowed to read it
	Fields map[string]types.RoleTag `yaml:"fields"`
}

// ResourceRules customizes the table for one resource type
type ResourceRules struct {
	// Overrides replace a role's scope for this resource; they may only narrow it
	Overrides map[types.RoleTag]ScopeKind `yaml:"overrides,omitempty"`

	// Condition is a CEL expression over principal and record that must
	// also hold for a record to be visible
	Condition string `yaml:"condition,omitempty"`
}

// DefaultTable returns the built-in rule table
func DefaultTable() *Table {
	return &Table{
		Roles: map[types.RoleTag]ScopeKind{
			types.RoleCEO:                 ScopeUnrestricted,
			types.RoleBranchManager:       ScopeByLocation,
			types.RoleMarketingHead:       ScopeByLocationAndDepartment,
			types.RoleMarketingSupervisor: ScopeByLocationAndDepartment,
			types.RoleMarketingRecruiter:  ScopeByLocationAndDepartment,
			types.RoleMarketingAssociate:  ScopeByLocationAndDepartment,
			types.RoleApplicant:           ScopeSelfOnly,
		},
		Fields: map[string]types.RoleTag{
			"budget":       types.RoleMarketingHead,
			"clientBudget": types.RoleMarketingHead,
			"salary":       types.RoleMarketingHead,
			"ctc":          types.RoleMarketingHead,
		},
	}
}

// RuleFor returns the effective scope of role for resource type rt.
// Unknown roles get ScopeNone.
func (t *Table) RuleFor(role types.RoleTag, rt types.ResourceType) ScopeKind {
	if rules, ok := t.Resources[rt]; ok {
		if kind, ok := rules.Overrides[role]; ok {
			return kind
		}
	}
	if kind, ok := t.Roles[role]; ok {
		return kind
	}
	return ScopeNone
}

// clone returns a deep copy of t
func (t *Table) clone() *Table {
	c := &Table{StrictMissingAttributes: t.StrictMissingAttributes}
	if t.Roles != nil {
		c.Roles = make(map[types.RoleTag]ScopeKind, len(t.Roles))
		for role, kind := range t.Roles {
			c.Roles[role] = kind
		}
	}
	if t.Resources != nil {
		c.Resources = make(map[types.ResourceType]ResourceRules, len(t.Resources))
		for rt, rules := range t.Resources {
			copied := ResourceRules{Condition: rules.Condition}
			if rules.Overrides != nil {
				copied.Overrides = make(map[types.RoleTag]ScopeKind, len(rules.Overrides))
				for role, kind := range rules.Overrides {
					copied.Overrides[role] = kind
				}
			}
			c.Resources[rt] = copied
		}
	}
	if t.Fields != nil {
		c.Fields = make(map[string]types.RoleTag, len(t.Fields))
		for field, role := range t.Fields {
			c.Fields[field] = role
		}
	}
	return c
}

// withDefaults fills roles and fields missing from t with the built-in ones
func (t *Table) withDefaults() {
	def := DefaultTable()
	if t.Roles == nil {
		t.Roles = make(map[types.RoleTag]ScopeKind, len(def.Roles))
	}
	for role, kind := range def.Roles {
		if _, ok := t.Roles[role]; !ok {
			t.Roles[role] = kind
		}
	}
	if t.Fields == nil {
		t.Fields = def.Fields
	}
}

// Validate checks that the table is total over roles and never widens a
// lower role's scope beyond a higher role's
func (t *Table) Validate() error {
	var problems []string

	for role, kind := range t.Roles {
		if !role.Valid() {
			problems = append(problems, fmt.Sprintf("unknown role %q", role))
		}
		if !kind.Valid() {
			problems = append(problems, fmt.Sprintf("role %s: unknown scope kind %q", role, kind))
		}
	}
	for _, role := range types.AllRoles() {
		if _, ok := t.Roles[role]; !ok {
			problems = append(problems, fmt.Sprintf("role %s has no scope", role))
		}
	}

	problems = append(problems, monotonicProblems(t, "")...)

	for rt, rules := range t.Resources {
		for role, kind := range rules.Overrides {
			if !role.Valid() {
				problems = append(problems, fmt.Sprintf("resource %s: unknown role %q", rt, role))
				continue
			}
			if !kind.Valid() {
				problems = append(problems, fmt.Sprintf("resource %s: role %s: unknown scope kind %q", rt, role, kind))
				continue
			}
			if base := t.Roles[role]; !kind.Narrower(base) {
				problems = append(problems, fmt.Sprintf("resource %s: override %s for role %s widens %s", rt, kind, role, base))
			}
		}
		problems = append(problems, monotonicProblems(t, rt)...)
	}

	for field, role := range t.Fields {
		if field == "" {
			problems = append(problems, "empty field name")
		}
		if !role.Valid() {
			problems = append(problems, fmt.Sprintf("field %s: unknown role %q", field, role))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTable, strings.Join(problems, "; "))
	}
	return nil
}

// monotonicProblems reports roles whose effective scope for rt is wider
// than the scope of the role directly above them
func monotonicProblems(t *Table, rt types.ResourceType) []string {
	var problems []string
	roles := types.AllRoles()
	for i := 1; i < len(roles); i++ {
		upper, lower := t.RuleFor(roles[i-1], rt), t.RuleFor(roles[i], rt)
		if !upper.Valid() || !lower.Valid() {
			continue
		}
		if !lower.Narrower(upper) {
			where := "default"
			if rt != "" {
				where = "resource " + string(rt)
			}
			problems = append(problems, fmt.Sprintf("%s: %s (%s) is wider than %s (%s)",
				where, roles[i], lower, roles[i-1], upper))
		}
	}
	return problems
}

// ParseTable decodes a YAML rule table, fills in defaults and validates it
func ParseTable(data []byte) (*Table, error) {
	t := &Table{}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(t); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse policy table: %w", err)
	}

	t.withDefaults()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// LoadTableFile reads and parses a YAML rule table from disk
func LoadTableFile(path string) (*Table, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	t, err := ParseTable(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}
