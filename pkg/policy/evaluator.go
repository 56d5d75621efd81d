// Package policy decides which records a principal may see or change from a
// declarative role to scope table
package policy

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/cel-go/cel"
	"go.uber.org/zap"

	"github.com/hireboard/accesscore/pkg/audit"
	"github.com/hireboard/accesscore/pkg/metrics"
	"github.com/hireboard/accesscore/pkg/types"
)

// Predicate reports whether a record is visible
type Predicate func(types.Record) bool

// Decision is the outcome of a mutation check
type Decision struct {
	Allowed bool
	Rule    ScopeKind
	Reason  string

	resourceType types.ResourceType
}

// Err returns nil when the mutation is allowed and a ForbiddenError otherwise
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &ForbiddenError{ResourceType: string(d.resourceType), Rule: d.Rule, Reason: d.Reason}
}

// compiledTable is an immutable snapshot of a validated table
type compiledTable struct {
	table      *Table
	conditions map[types.ResourceType]cel.Program
	fields     map[string]types.RoleTag // lower-cased field names
}

// Evaluator computes what a principal may see or do. It holds no per
// request state; the table snapshot is swapped atomically on reload.
type Evaluator struct {
	table   atomic.Pointer[compiledTable]
	conds   *conditionEnv
	logger  *zap.Logger
	metrics metrics.Metrics
	audit   audit.Logger
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m metrics.Metrics) Option {
	return func(e *Evaluator) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithAuditLogger records denied mutations
func WithAuditLogger(l audit.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.audit = l
		}
	}
}

// NewEvaluator creates an evaluator loaded with DefaultTable
func NewEvaluator(opts ...Option) (*Evaluator, error) {
	conds, err := newConditionEnv()
	if err != nil {
		return nil, err
	}

	e := &Evaluator{
		conds:   conds,
		logger:  zap.NewNop(),
		metrics: metrics.NewNoOpMetrics(),
		audit:   audit.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.SetTable(DefaultTable()); err != nil {
		return nil, err
	}
	return e, nil
}

// SetTable validates t, compiles its conditions and makes it current.
// On error the previous table stays in effect.
func (e *Evaluator) SetTable(t *Table) error {
	if t == nil {
		return fmt.Errorf("%w: nil table", ErrInvalidTable)
	}
	t = t.clone()
	t.withDefaults()
	if err := t.Validate(); err != nil {
		return err
	}

	ct := &compiledTable{
		table:      t,
		conditions: make(map[types.ResourceType]cel.Program),
		fields:     make(map[string]types.RoleTag, len(t.Fields)),
	}
	for rt, rules := range t.Resources {
		if rules.Condition == "" {
			continue
		}
		prog, err := e.conds.compile(rules.Condition)
		if err != nil {
			return fmt.Errorf("%w: resource %s: %v", ErrInvalidTable, rt, err)
		}
		ct.conditions[rt] = prog
	}
	for field, role := range t.Fields {
		ct.fields[strings.ToLower(field)] = role
	}

	e.table.Store(ct)
	e.logger.Debug("Policy table installed",
		zap.Bool("strict_missing_attributes", t.StrictMissingAttributes),
		zap.Int("resource_rules", len(t.Resources)),
		zap.Int("restricted_fields", len(t.Fields)),
	)
	return nil
}

// RuleFor returns the scope kind currently applied to role for rt
func (e *Evaluator) RuleFor(role types.RoleTag, rt types.ResourceType) ScopeKind {
	return e.table.Load().table.RuleFor(role, rt)
}

// FilterPredicate returns a pure function that accepts exactly the records
// p may see. The predicate keeps the table snapshot it was built from.
func (e *Evaluator) FilterPredicate(p *types.Principal, rt types.ResourceType) Predicate {
	if p == nil {
		return denyAll
	}

	ct := e.table.Load()
	principal := *p
	kind := ct.table.RuleFor(principal.Role, rt)
	strict := ct.table.StrictMissingAttributes
	cond := ct.conditions[rt]

	if cond == nil {
		return func(r types.Record) bool {
			return r != nil && kind.matches(&principal, r, strict)
		}
	}

	principalVars := principal.ToMap()
	return func(r types.Record) bool {
		if r == nil || !kind.matches(&principal, r, strict) {
			return false
		}
		return evalCondition(cond, principalVars, r)
	}
}

// CanMutate authorizes a write or delete of record. It never allows a
// record the read predicate would exclude.
func (e *Evaluator) CanMutate(p *types.Principal, rt types.ResourceType, record types.Record) Decision {
	d := Decision{resourceType: rt}

	switch {
	case p == nil:
		d.Rule = ScopeNone
		d.Reason = "no principal"
	case record == nil:
		d.Rule = e.RuleFor(p.Role, rt)
		d.Reason = "no record"
	default:
		d.Rule = e.RuleFor(p.Role, rt)
		d.Allowed = e.FilterPredicate(p, rt)(record)
		if !d.Allowed {
			d.Reason = fmt.Sprintf("record is outside the %s scope of role %s", d.Rule, p.Role)
		}
	}

	effect := "allow"
	if !d.Allowed {
		effect = "deny"
		e.recordDenial(p, rt, d)
	}
	e.metrics.RecordPolicyDecision(string(rt), effect)
	return d
}

func (e *Evaluator) recordDenial(p *types.Principal, rt types.ResourceType, d Decision) {
	event := audit.NewEvent(audit.EventTypeMutationDenied)
	event.ResourceType = string(rt)
	event.Reason = d.Reason
	if p != nil {
		event.PrincipalID = p.ID
		event.Role = string(p.Role)
	}

	e.logger.Debug("Mutation denied",
		zap.String("principal", event.PrincipalID),
		zap.String("role", event.Role),
		zap.String("resource_type", string(rt)),
		zap.String("rule", string(d.Rule)),
	)
	if err := e.audit.Log(event); err != nil {
		e.logger.Warn("Failed to write audit event", zap.Error(err))
	}
}

// CanAccessField reports whether p may read a field. Fields absent from the
// table's restricted list are visible to every principal.
func (e *Evaluator) CanAccessField(p *types.Principal, fieldName string) bool {
	if p == nil {
		return false
	}
	minRole, restricted := e.table.Load().fields[strings.ToLower(fieldName)]
	if !restricted {
		return true
	}
	return p.Role.AtLeast(minRole)
}

// Filter returns the records accepted by pred, preserving order
func Filter[T types.Record](records []T, pred Predicate) []T {
	out := make([]T, 0, len(records))
	for _, r := range records {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}

func denyAll(types.Record) bool { return false }
