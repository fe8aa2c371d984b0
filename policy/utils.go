package policy

import (
	"strings"
)

func resolveDotNotation(obj map[string]any, key string) (any, bool) {
	keys := strings.Split(key, ".")
	current := obj
	for i, k := range keys {
		if i == len(keys)-1 {
			value, ok := current[k]
			return value, ok
		}
		next, ok := current[k].(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}

func contextToMap(ctx RequestContext) map[string]any {
	return map[string]any{
		"requester": ctx.Requester,
		"params":    ctx.Params,
	}
}
