package policy

import (
	"fmt"
)

const currentVersion = "2024-01-01"

func Summarize(conclusion Conclusion, defaultAllow bool) bool {
	if conclusion == UNSET {
		return defaultAllow
	}
	return conclusion == ALLOW
}

func EvaluatePolicy(doc Document, ctx RequestContext, action string) (Conclusion, error) {

	policy, ok := doc.Versions[currentVersion]
	if !ok {
		return UNSET, fmt.Errorf("unsupported policy version")
	}

	statements, ok := policy.Statements[action]
	if !ok {
		return UNSET, nil
	}

	conclusion := UNSET
	for _, stmt := range statements {
		evalResult, err := Eval(ctx, stmt.Condition)
		if err != nil {
			continue
		}

		if evalResult.Result == true {
			conclusion = conclusion.Or(ParseConclusion(stmt.Emit))
		}
	}
	return conclusion, nil
}

func Eval(ctx RequestContext, expr Expr) (EvalResult, error) {

	if expr.Const != nil {
		return EvalResult{
			Operator: "Const",
			Result:   expr.Const,
		}, nil
	}

	args := make([]any, 0, len(expr.Args))
	for _, arg := range expr.Args {
		result, err := Eval(ctx, arg)
		if err != nil {
			return EvalResult{
				Operator: expr.Operator,
				Error:    err.Error(),
			}, err
		}
		args = append(args, result.Result)
	}

	if operatorFunc, exists := operators[expr.Operator]; exists {
		return operatorFunc(ctx, args)
	}

	err := fmt.Errorf("unknown operator: %s", expr.Operator)
	return EvalResult{
		Operator: expr.Operator,
		Error:    err.Error(),
	}, err
}
