// Package policy wraps the S4.3 dropped-candidate rule in an OPA/Rego
// policy rather than an inline constant, adapted from the teacher's
// internal/opa/validator.go compile-once/prepare-once Rego idiom. The
// forklift/vsphere-specific VM concern evaluation is replaced with a single
// boolean decision over a dropped/considered candidate count.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"
)

const dropQuery = "data.nexuscompliance.mapping.science.drop_exceeded"

// DropInput is the S4.3 decision input: how many target candidates
// permanently failed per-item embedding after a single retry, against how
// many were considered in total.
type DropInput struct {
	DroppedCount    int     `json:"droppedCount"`
	ConsideredCount int     `json:"consideredCount"`
	RerankMin       float64 `json:"rerankMin"`
}

// Validator evaluates the compiled rerank-drop policy.
type Validator struct {
	preparedQuery rego.PreparedEvalQuery
}

func NewValidatorFromDir(policiesDir string) (*Validator, error) {
	policies, err := NewReader().ReadPolicies(policiesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read policies: %w", err)
	}
	return NewValidator(policies)
}

func NewValidator(policies map[string]string) (*Validator, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("no policies provided for validation")
	}

	v := &Validator{}
	if err := v.compilePolicies(policies); err != nil {
		return nil, fmt.Errorf("failed to compile policies: %w", err)
	}

	zap.S().Named("policy").Infof("policy validator initialized with %d policies", len(policies))
	return v, nil
}

func (v *Validator) compilePolicies(policies map[string]string) error {
	compiler := ast.NewCompiler()
	modules := make(map[string]*ast.Module)

	for filename, content := range policies {
		module, err := ast.ParseModuleWithOpts(filename, content, ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return fmt.Errorf("failed to parse policy %s: %w", filename, err)
		}
		modules[filename] = module
	}

	compiler.Compile(modules)
	if compiler.Failed() {
		return fmt.Errorf("policy compilation failed: %v", compiler.Errors)
	}

	r := rego.New(
		rego.Query(dropQuery),
		rego.Compiler(compiler),
		rego.SetRegoVersion(ast.RegoV1),
	)

	preparedQuery, err := r.PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to prepare rego query: %w", err)
	}

	v.preparedQuery = preparedQuery
	return nil
}

// DropExceeded decides whether S4.3's dropped-candidate ratio breaches the
// policy threshold; true means the workflow must fail with ScienceUnavailable.
func (v *Validator) DropExceeded(ctx context.Context, input DropInput) (bool, error) {
	resultSet, err := v.preparedQuery.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("policy evaluation failed: %w", err)
	}
	if len(resultSet) == 0 || len(resultSet[0].Expressions) == 0 {
		return false, nil
	}
	exceeded, ok := resultSet[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected result type from policy evaluation")
	}
	return exceeded, nil
}
