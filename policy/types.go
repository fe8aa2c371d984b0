package policy

type Conclusion int

const (
	UNSET Conclusion = iota
	ALLOW
	DENY
)

func ParseConclusion(s string) Conclusion {
	switch s {
	case "allow":
		return ALLOW
	case "deny":
		return DENY
	default:
		return UNSET
	}
}

// Or merges two conclusions. Conflicting allow/deny collapses to DENY.
func (c Conclusion) Or(other Conclusion) Conclusion {
	if c == UNSET {
		return other
	}
	if other == UNSET {
		return c
	}
	if c == DENY || other == DENY {
		return DENY
	}
	return ALLOW
}

type RequestContext struct {
	Requester map[string]any `json:"requester"`
	Params    map[string]any `json:"params"`
}

type Document struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Versions    map[string]Policy `json:"versions"`
}

type Policy struct {
	Statements map[string][]Stmt `json:"statements"`
	Defaults   map[string]bool   `json:"defaults"`
}

type Stmt struct {
	Emit      string `json:"emit"`
	Condition Expr   `json:"condition"`
}

type Expr struct {
	Operator string `json:"op"`
	Args     []Expr `json:"args"`
	Const    any    `json:"const,omitempty"`
}

type EvalResult struct {
	Operator string `json:"op"`
	Result   any    `json:"result"`
	Error    string `json:"error"`
}
