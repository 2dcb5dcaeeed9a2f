package policyopa

import "github.com/open-policy-agent/opa/ast"

// allowedBuiltins keeps rule evaluation a pure function of input and data.
var allowedBuiltins = map[string]struct{}{
	"assign":      {},
	"concat":      {},
	"contains":    {},
	"count":       {},
	"endswith":    {},
	"eq":          {},
	"equal":       {},
	"gt":          {},
	"gte":         {},
	"lower":       {},
	"lt":          {},
	"lte":         {},
	"neq":         {},
	"object.get":  {},
	"regex.match": {},
	"replace":     {},
	"sort":        {},
	"split":       {},
	"sprintf":     {},
	"startswith":  {},
	"substring":   {},
	"trim":        {},
	"trim_space":  {},
	"upper":       {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(allowedBuiltins))
	for _, b := range builtins {
		if _, ok := allowedBuiltins[b.Name]; ok {
			allowed = append(allowed, b)
		}
	}
	return allowed
}
