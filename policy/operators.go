package policy

import (
	"fmt"
	"reflect"
	"slices"
)

type Operator func(ctx RequestContext, args []any) (EvalResult, error)

var operators = make(map[string]Operator)

func init() {
	operators["Not"] = opNot
	operators["Eq"] = opEq
	operators["Load"] = opLoad
	operators["In"] = opIn
}

func opNot(ctx RequestContext, args []any) (EvalResult, error) {
	if len(args) != 1 {
		err := fmt.Errorf("bad argument length for NOT. Expected 1 but got %d", len(args))
		return EvalResult{
			Operator: "Not",
			Error:    err.Error(),
		}, err
	}

	evaluated, ok := args[0].(bool)
	if !ok {
		err := fmt.Errorf("bad argument type for NOT. Expected bool but got %s", reflect.TypeOf(args[0]))
		return EvalResult{
			Operator: "Not",
			Error:    err.Error(),
		}, err
	}

	return EvalResult{
		Operator: "Not",
		Result:   !evaluated,
	}, nil
}

func opEq(ctx RequestContext, args []any) (EvalResult, error) {
	if len(args) != 2 {
		err := fmt.Errorf("bad argument length for EQ. Expected 2 but got %d", len(args))
		return EvalResult{
			Operator: "Eq",
			Error:    err.Error(),
		}, err
	}

	return EvalResult{
		Operator: "Eq",
		Result:   args[0] == args[1],
	}, nil
}

func opLoad(ctx RequestContext, args []any) (EvalResult, error) {
	if len(args) != 1 {
		err := fmt.Errorf("bad argument length for Load. Expected 1 but got %d", len(args))
		return EvalResult{
			Operator: "Load",
			Error:    err.Error(),
		}, err
	}

	key, ok := args[0].(string)
	if !ok {
		err := fmt.Errorf("bad argument type for Load. Expected string but got %s", reflect.TypeOf(args[0]))
		return EvalResult{
			Operator: "Load",
			Error:    err.Error(),
		}, err
	}

	mappedCtx := contextToMap(ctx)
	value, ok := resolveDotNotation(mappedCtx, key)
	if !ok {
		err := fmt.Errorf("key not found: %s", key)
		return EvalResult{
			Operator: "Load",
			Error:    err.Error(),
		}, err
	}

	return EvalResult{
		Operator: "Load",
		Result:   value,
	}, nil
}

// opIn reports whether args[0] is one of the remaining arguments.
func opIn(ctx RequestContext, args []any) (EvalResult, error) {
	if len(args) < 2 {
		err := fmt.Errorf("bad argument length for IN. Expected at least 2 but got %d", len(args))
		return EvalResult{
			Operator: "In",
			Error:    err.Error(),
		}, err
	}

	return EvalResult{
		Operator: "In",
		Result:   slices.Contains(args[1:], args[0]),
	}, nil
}
