package fhirpath

import (
	"fmt"
	"strings"

	"github.com/fhirpath-go/engine/pkg/common"
	"github.com/fhirpath-go/engine/pkg/fhirpath/parser"
)

// compile parses a FHIRPath expression into a compiled Expression.
//
// Failures are wrapped in common.ErrInvalidExpression so callers can test
// for a bad expression with errors.Is rather than string-matching.
func compile(expr string) (*Expression, error) {
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", common.ErrInvalidExpression)
	}

	tree, errs := parser.Parse(expr)
	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("%w: %s", common.ErrInvalidExpression, strings.Join(msgs, "; "))
	}

	return &Expression{
		source: expr,
		tree:   tree,
	}, nil
}
