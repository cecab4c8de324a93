package parser

import (
	"testing"

	"github.com/fhirpath-go/engine/pkg/fhirpath/ast"
)

func mustParse(t *testing.T, src string) *ast.Node {
	t.Helper()
	tree, errs := Parse(src)
	if len(errs) > 0 {
		t.Fatalf("parse %q: %v", src, errs[0])
	}
	if tree == nil {
		t.Fatalf("parse %q: nil tree", src)
	}
	return tree
}

func TestParseNavigationChain(t *testing.T) {
	tree := mustParse(t, "Patient.name.given")
	if tree.Kind != ast.KindMember || tree.Name != "given" {
		t.Fatalf("expected Member(given) at root, got %s(%s)", tree.Kind, tree.Name)
	}
	mid := tree.Base
	if mid.Kind != ast.KindMember || mid.Name != "name" {
		t.Fatalf("expected Member(name), got %s(%s)", mid.Kind, mid.Name)
	}
	root := mid.Base
	if root.Kind != ast.KindIdentifier || root.Name != "Patient" {
		t.Fatalf("expected Identifier(Patient), got %s(%s)", root.Kind, root.Name)
	}
}

func TestParseFunctionCallWithLambdaArg(t *testing.T) {
	tree := mustParse(t, "name.where(use = 'official')")
	if tree.Kind != ast.KindFunctionCall || tree.FuncName != "where" {
		t.Fatalf("expected FunctionCall(where), got %s(%s)", tree.Kind, tree.FuncName)
	}
	if len(tree.Args) != 1 {
		t.Fatalf("expected 1 arg, got %d", len(tree.Args))
	}
	if tree.Args[0].Kind != ast.KindBinary || tree.Args[0].Op != "=" {
		t.Errorf("expected Binary(=) arg, got %s(%s)", tree.Args[0].Kind, tree.Args[0].Op)
	}
}

func TestParsePrecedence(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		rootOp string
	}{
		// The operator lowest in precedence ends up at the root.
		{"implies over or", "a or b implies c", "implies"},
		{"or over and", "a and b or c", "or"},
		{"and over equality", "a = b and c = d", "and"},
		{"equality over relational", "a < b = c < d", "="},
		{"additive over multiplicative", "a + b * c", "+"},
		{"membership over type", "a is b in c", "in"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := mustParse(t, tt.src)
			if tree.Kind != ast.KindBinary || tree.Op != tt.rootOp {
				t.Errorf("expected Binary(%s) at root, got %s(%s)", tt.rootOp, tree.Kind, tree.Op)
			}
		})
	}
}

func TestParseUnionPrecedence(t *testing.T) {
	// union binds looser than additive: 1 + 2 | 3 is (1+2) | 3
	tree := mustParse(t, "1 + 2 | 3")
	if tree.Kind != ast.KindUnion {
		t.Fatalf("expected Union at root, got %s", tree.Kind)
	}
	if tree.Left.Kind != ast.KindBinary || tree.Left.Op != "+" {
		t.Errorf("expected Binary(+) on the left, got %s(%s)", tree.Left.Kind, tree.Left.Op)
	}
}

func TestParseLeftAssociativity(t *testing.T) {
	// a - b - c is (a-b) - c
	tree := mustParse(t, "a - b - c")
	if tree.Op != "-" || tree.Left.Kind != ast.KindBinary || tree.Left.Op != "-" {
		t.Fatalf("subtraction must be left-associative")
	}
	if tree.Right.Kind != ast.KindIdentifier || tree.Right.Name != "c" {
		t.Errorf("expected c on the right, got %s(%s)", tree.Right.Kind, tree.Right.Name)
	}
}

func TestParseImpliesRightAssociativity(t *testing.T) {
	// a implies b implies c is a implies (b implies c)
	tree := mustParse(t, "a implies b implies c")
	if tree.Op != "implies" {
		t.Fatalf("expected implies at root, got %s", tree.Op)
	}
	if tree.Right.Kind != ast.KindBinary || tree.Right.Op != "implies" {
		t.Errorf("implies must be right-associative")
	}
}

func TestParseIndexAndSpecialVars(t *testing.T) {
	tree := mustParse(t, "name[0]")
	if tree.Kind != ast.KindIndex {
		t.Fatalf("expected Index, got %s", tree.Kind)
	}
	if tree.IndexExpr.Kind != ast.KindLiteral {
		t.Errorf("expected literal index, got %s", tree.IndexExpr.Kind)
	}

	tree = mustParse(t, "select($this & '!')")
	arg := tree.Args[0]
	if arg.Left.Kind != ast.KindThis {
		t.Errorf("expected $this on the left of &, got %s", arg.Left.Kind)
	}

	tree = mustParse(t, "%resource.name")
	if tree.Base.Kind != ast.KindExternal || tree.Base.ExternalName != "resource" {
		t.Errorf("expected External(resource) base, got %s(%s)", tree.Base.Kind, tree.Base.ExternalName)
	}
}

func TestParseTypeOperators(t *testing.T) {
	tree := mustParse(t, "value is Quantity")
	if tree.Kind != ast.KindBinary || tree.Op != "is" {
		t.Fatalf("expected Binary(is), got %s(%s)", tree.Kind, tree.Op)
	}
	if tree.Right.Kind != ast.KindTypeSpecifier || tree.Right.TypeName != "Quantity" {
		t.Errorf("expected TypeSpecifier(Quantity), got %s(%s)", tree.Right.Kind, tree.Right.TypeName)
	}

	tree = mustParse(t, "value as System.String")
	if tree.Right.TypeName != "System.String" {
		t.Errorf("expected dotted type name, got %q", tree.Right.TypeName)
	}
}

func TestParseEmptyCollectionLiteral(t *testing.T) {
	tree := mustParse(t, "{}")
	if tree.Kind != ast.KindLiteral || tree.LitKind != ast.LitNull {
		t.Errorf("expected null literal for {}, got %s", tree.Kind)
	}
}

// spanCheck verifies that every parent span contains each child span.
func spanCheck(t *testing.T, n *ast.Node) {
	t.Helper()
	for _, child := range n.Children() {
		if !n.Span.Contains(child.Span) {
			t.Errorf("span %s does not contain child span %s (%s)", n.Span, child.Span, child.Kind)
		}
		spanCheck(t, child)
	}
}

func TestSpanMonotonicity(t *testing.T) {
	exprs := []string{
		"Patient.name.where(use = 'official').given[1]",
		"(1 | 2 | 2 | 3).distinct().count()",
		"'hello' & {} & ' world'",
		"Patient.birthDate < @1975",
		"(1,2,3).aggregate($this + $total, 0)",
		"-value.abs() + 3 * 2",
	}
	for _, src := range exprs {
		t.Run(src, func(t *testing.T) {
			spanCheck(t, mustParse(t, src))
		})
	}
}

func TestSiblingSpansDoNotOverlap(t *testing.T) {
	tree := mustParse(t, "a + b * c")
	left, right := tree.Left, tree.Right
	if left.Span.End > right.Span.Start {
		t.Errorf("sibling spans overlap: %s and %s", left.Span, right.Span)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unclosed paren", "(a + b"},
		{"unclosed index", "name[0"},
		{"missing operand", "a +"},
		{"trailing token", "a b"},
		{"bad special var", "$bogus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errs := Parse(tt.src)
			if len(errs) == 0 {
				t.Errorf("expected at least one parse error for %q", tt.src)
			}
		})
	}
}

func TestParseMultipleErrorsInOnePass(t *testing.T) {
	// Resynchronization after ',' lets both argument errors surface.
	_, errs := Parse("iif($bogus, $wrong)")
	if len(errs) < 2 {
		t.Errorf("expected multiple errors from one pass, got %d", len(errs))
	}
}

func TestParseErrorsCarrySpans(t *testing.T) {
	_, errs := Parse("name.where(use = ")
	if len(errs) == 0 {
		t.Fatal("expected errors")
	}
	for _, e := range errs {
		if e.Span.Start < 0 || e.Span.End < e.Span.Start {
			t.Errorf("malformed span %s", e.Span)
		}
	}
}

func TestLexErrorSurfacesAsParseError(t *testing.T) {
	_, errs := Parse("name = 'unclosed")
	if len(errs) != 1 {
		t.Fatalf("expected one error, got %d", len(errs))
	}
	if errs[0].Span.Start != 7 {
		t.Errorf("expected error at byte 7, got %d", errs[0].Span.Start)
	}
}

func TestParseDepthCap(t *testing.T) {
	deep := ""
	for i := 0; i < 200; i++ {
		deep += "("
	}
	deep += "1"
	for i := 0; i < 200; i++ {
		deep += ")"
	}
	_, errs := Parse(deep)
	if len(errs) == 0 {
		t.Error("expected a nesting-depth error")
	}
}
