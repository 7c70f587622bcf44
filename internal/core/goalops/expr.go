package goalops

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/zeusync/goalpipe/internal/core/goalop"
)

// exprEnv is what condition expressions see. Blackboard values are reached
// through bb, e.g. `bb.health < 30 && last == "failed"`.
type exprEnv struct {
	BB    map[string]any `expr:"bb"`
	Last  string         `expr:"last"`
	Agent string         `expr:"agent"`
}

func compileCondition(src string) (*vm.Program, error) {
	program, err := expr.Compile(src,
		expr.Env(exprEnv{}),
		expr.AsBool(),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", src, err)
	}
	return program, nil
}

func evalCondition(program *vm.Program, user goalop.PipeUser) (bool, error) {
	env := exprEnv{
		BB:    user.Blackboard().Snapshot(),
		Last:  user.LastResult().String(),
		Agent: user.ID(),
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition returned %T", out)
	}
	return b, nil
}
