package fhirpath

import (
	"github.com/fhirpath-go/engine/pkg/fhirpath/analyzer"
	"github.com/fhirpath-go/engine/pkg/fhirpath/ast"
	"github.com/fhirpath-go/engine/pkg/fhirpath/funcs"
	"github.com/fhirpath-go/engine/pkg/fhirpath/model"
	"github.com/fhirpath-go/engine/pkg/fhirpath/parser"
)

// Parse tokenizes and parses a FHIRPath expression, returning the spanned
// AST and any parse errors without evaluating anything.
func Parse(source string) (*ast.Node, []*parser.Error) {
	return parser.Parse(source)
}

// Analyze runs the static analyzer over a parsed AST, returning findings
// (unknown properties/functions, arity mismatches, lambda-scope violations,
// optimization hints), the NodeId-keyed type-annotation side-table, and
// the property/function symbol resolutions. provider may be nil, in which
// case an EmptyModelProvider is used and every property/function lookup is
// best-effort (name and arity checks only).
func Analyze(tree *ast.Node, rootType string, provider model.Provider, cfg analyzer.Config) analyzer.Result {
	if provider == nil {
		provider = model.EmptyModelProvider{}
	}
	return analyzer.New(provider, cfg).Analyze(tree, rootType)
}

// StandardRegistry returns the built-in function registry: every function
// this package ships, bundled for reuse when constructing a custom
// Evaluator directly rather than through Expression.
func StandardRegistry() *funcs.Registry {
	return funcs.GetRegistry()
}
