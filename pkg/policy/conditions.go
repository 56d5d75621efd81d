package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/hireboard/accesscore/pkg/types"
)

// conditionEnv compiles resource conditions. Expressions see two maps:
// principal (id, role, rank, locationId, departmentId, ...) and record
// (locationId, departmentId, ownerId plus any extra attributes).
type conditionEnv struct {
	env *cel.Env
}

func newConditionEnv() (*conditionEnv, error) {
	env, err := cel.NewEnv(
		cel.Variable("principal", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &conditionEnv{env: env}, nil
}

// compile parses and checks expr and returns a reusable program
func (c *conditionEnv) compile(expr string) (cel.Program, error) {
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation failed: %w", issues.Err())
	}
	prog, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation failed: %w", err)
	}
	return prog, nil
}

// evalCondition runs prog. Evaluation errors and non-bool results deny.
func evalCondition(prog cel.Program, principal map[string]interface{}, r types.Record) bool {
	out, _, err := prog.Eval(map[string]interface{}{
		"principal": principal,
		"record":    types.RecordToMap(r),
	})
	if err != nil {
		return false
	}
	allowed, ok := out.Value().(bool)
	return ok && allowed
}
