// Package toolkit holds the parameter-resolution and value-formatting
// steps shared by the three reference Tool implementations
// (agent/toolkit/sql, agent/toolkit/rest, agent/toolkit/soap). It is
// intentionally thin: binding a resolved value onto a positional query
// slot, a path/query/body split, or an XML field stays in each backend's
// own package, since that shape is backend-specific. What is genuinely
// shared — reading one ParameterSpec against the caller's args, failing
// closed on a missing required parameter, falling back to Default
// otherwise — lives here once instead of three times.
package toolkit

import (
	"fmt"
	"strconv"

	contractx "github.com/arclight-systems/queryflow/agent/contract"
)

// ResolveValue resolves one ParameterSpec against args. present is false
// only when the parameter was absent from args AND has no Default,
// letting a caller choose between skipping the parameter entirely (as
// agent/toolkit/rest does for query/body parameters) and binding a nil/
// zero placeholder (as agent/toolkit/sql and agent/toolkit/soap do).
func ResolveValue(p contractx.ParameterSpec, args map[string]any) (value any, present bool, err error) {
	if v, ok := args[p.Name]; ok {
		return v, true, nil
	}
	if p.Required {
		return nil, false, fmt.Errorf("missing required parameter %q", p.Name)
	}
	if p.Default == nil {
		return nil, false, nil
	}
	return p.Default, true, nil
}

// ValueToString renders a resolved value the way every wire-format binder
// in this module needs it: as the literal text that goes into a URL
// segment, a query parameter, or an XML element's character data.
func ValueToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", v)
	}
}
