package fhirpath

import (
	"fmt"

	"github.com/fhirpath-go/engine/pkg/common"
	"github.com/fhirpath-go/engine/pkg/fhirpath/ast"
	"github.com/fhirpath-go/engine/pkg/fhirpath/eval"
	"github.com/fhirpath-go/engine/pkg/fhirpath/funcs"
	"github.com/fhirpath-go/engine/pkg/fhirpath/types"
)

// Expression represents a compiled FHIRPath expression.
type Expression struct {
	source string
	tree   *ast.Node
}

// Evaluate executes the expression against a JSON resource.
func (e *Expression) Evaluate(resource []byte) (types.Collection, error) {
	ctx := eval.NewContext(resource)
	return e.EvaluateWithContext(ctx)
}

// EvaluateWithContext executes the expression with a custom context.
//
// A failure is wrapped in common.ErrEvaluationFailed (testable with
// errors.Is) and, when the underlying *eval.EvalError carries a resource
// path, in a common.PathError (retrievable with common.GetPath) so callers
// don't have to type-assert *eval.EvalError themselves to find out where in
// the resource evaluation broke down.
func (e *Expression) EvaluateWithContext(ctx *eval.Context) (types.Collection, error) {
	evaluator := eval.NewEvaluator(ctx, funcs.GetRegistry())
	result, err := evaluator.Evaluate(e.tree)
	if err != nil {
		wrapped := fmt.Errorf("%w: %w", common.ErrEvaluationFailed, err)
		var evalErr *eval.EvalError
		if ee, ok := err.(*eval.EvalError); ok {
			evalErr = ee
		}
		if evalErr != nil && evalErr.Path != "" {
			return nil, common.WrapPath(evalErr.Path, wrapped)
		}
		return nil, wrapped
	}
	return result, nil
}

// String returns the original expression string.
func (e *Expression) String() string {
	return e.source
}
