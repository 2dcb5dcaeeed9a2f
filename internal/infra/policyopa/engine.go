package policyopa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gatekeeper/internal/domain"
	"gatekeeper/internal/usecase"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

const defaultQuery = "data.gatekeeper.commit.result"

// Engine evaluates a Rego bundle against each authorized commit.
type Engine struct {
	query      rego.PreparedEvalQuery
	bundleHash string
}

var _ usecase.RuleEngine = (*Engine)(nil)

func NewEngineFromBundlePath(ctx context.Context, bundlePath string) (*Engine, error) {
	bundleHash, err := ComputeBundleHashFromPath(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("hash rule bundle: %w", err)
	}

	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	r := rego.New(
		rego.Query(defaultQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{bundlePath}, nil),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rule bundle: %w", err)
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}
	return &Engine{query: prepared, bundleHash: bundleHash}, nil
}

func (e *Engine) BundleHash() string {
	return e.bundleHash
}

func (e *Engine) Evaluate(ctx context.Context, input domain.RuleInput) (domain.RuleEvaluation, error) {
	if e == nil {
		return domain.RuleEvaluation{}, errors.New("rule engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return domain.RuleEvaluation{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.RuleEvaluation{}, errors.New("rule bundle produced no result")
	}
	result, err := decodeRuleResult(results[0].Expressions[0].Value)
	if err != nil {
		return domain.RuleEvaluation{}, err
	}
	sortDenies(result.Deny)
	return domain.RuleEvaluation{BundleHash: e.bundleHash, Result: result}, nil
}

func decodeRuleResult(value any) (domain.RuleResult, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return domain.RuleResult{}, err
	}
	var result domain.RuleResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return domain.RuleResult{}, fmt.Errorf("decode rule result: %w", err)
	}
	return result, nil
}

func sortDenies(deny []domain.RuleDeny) {
	sort.Slice(deny, func(i, j int) bool {
		if deny[i].Code == deny[j].Code {
			return deny[i].Message < deny[j].Message
		}
		return deny[i].Code < deny[j].Code
	})
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	if compiler == nil {
		return errors.New("rule compiler is nil")
	}
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, ok := ast.BuiltinMap[name]; !ok {
				return false
			}
			if _, ok := allowedBuiltins[name]; !ok {
				forbidden[name] = struct{}{}
			}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}
