package eval

import (
	"testing"

	"github.com/fhirpath-go/engine/pkg/fhirpath/parser"
	"github.com/fhirpath-go/engine/pkg/fhirpath/types"
)

// emptyRegistry satisfies FuncRegistry with no functions registered; the
// lambda-capable-function tests below never reach the registry (they are
// dispatched directly from evalFunctionCall via ast.LambdaCapableFunctions),
// so an empty stub is sufficient here without importing package funcs
// (which itself imports eval).
type emptyRegistry struct{}

func (emptyRegistry) Get(string) (FuncDef, bool) { return FuncDef{}, false }

func mustEval(t *testing.T, json, expr string) types.Collection {
	t.Helper()
	tree, errs := parser.Parse(expr)
	if len(errs) > 0 {
		t.Fatalf("parse error for %q: %v", expr, errs)
	}
	ctx := NewContext([]byte(json))
	ev := NewEvaluator(ctx, emptyRegistry{})
	result, err := ev.Evaluate(tree)
	if err != nil {
		t.Fatalf("eval error for %q: %v", expr, err)
	}
	return result
}

func TestEvalWhereSelect(t *testing.T) {
	json := `{"resourceType":"Patient","name":[{"use":"official","given":["Jim"]},{"use":"nickname","given":["Jimmy"]}]}`

	got := mustEval(t, json, "name.where(use = 'official').given")
	if len(got) != 1 || got[0].(types.String).Value() != "Jim" {
		t.Errorf("where().given: got %v", got)
	}

	got = mustEval(t, json, "name.select(use)")
	if len(got) != 2 {
		t.Errorf("select: expected 2 results, got %d", len(got))
	}
}

func TestEvalAllAny(t *testing.T) {
	json := `{"resourceType":"Patient","name":[{"use":"official"},{"use":"official"}]}`

	got := mustEval(t, json, "name.all(use = 'official')")
	if len(got) != 1 || !got[0].(types.Boolean).Bool() {
		t.Errorf("all: expected true, got %v", got)
	}

	got = mustEval(t, json, "name.any(use = 'nickname')")
	if len(got) != 1 || got[0].(types.Boolean).Bool() {
		t.Errorf("any: expected false, got %v", got)
	}
}

// TestEvalAggregateSum checks that aggregate() threads $total through
// every element rather than just returning init.
func TestEvalAggregateSum(t *testing.T) {
	json := `{"values":[1,2,3,4]}`
	got := mustEval(t, json, "values.aggregate($this + $total, 0)")
	if len(got) != 1 {
		t.Fatalf("expected one result, got %d", len(got))
	}
	sum, ok := got[0].(types.Integer)
	if !ok || sum.Value() != 10 {
		t.Errorf("expected sum 10, got %v", got[0])
	}
}

// TestEvalRepeatHierarchy checks that repeat() transitively collects
// nested items rather than returning the input unchanged.
func TestEvalRepeatHierarchy(t *testing.T) {
	json := `{
		"item": [
			{"linkId": "1", "item": [
				{"linkId": "1.1"},
				{"linkId": "1.2", "item": [{"linkId": "1.2.1"}]}
			]}
		]
	}`
	got := mustEval(t, json, "item.repeat(item).linkId")
	if len(got) != 3 {
		t.Fatalf("expected 3 descendant linkIds, got %d: %v", len(got), got)
	}
}

func TestEvalSortDefaultAndCriteria(t *testing.T) {
	json := `{"values":[3,1,2]}`

	got := mustEval(t, json, "values.sort()")
	want := []int64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].(types.Integer).Value() != w {
			t.Errorf("sort()[%d]: expected %d, got %v", i, w, got[i])
		}
	}
}

func TestEvalIif(t *testing.T) {
	json := `{"value":5}`

	got := mustEval(t, json, "iif(value > 3, 'big', 'small')")
	if len(got) != 1 || got[0].(types.String).Value() != "big" {
		t.Errorf("iif true branch: got %v", got)
	}

	got = mustEval(t, json, "iif(value > 10, 'big')")
	if !got.Empty() {
		t.Errorf("iif missing else branch: expected empty, got %v", got)
	}
}

func TestEvalIsAs(t *testing.T) {
	json := `{"resourceType":"Patient","active":true}`

	got := mustEval(t, json, "active is Boolean")
	if len(got) != 1 || !got[0].(types.Boolean).Bool() {
		t.Errorf("is Boolean: got %v", got)
	}

	got = mustEval(t, json, "active as Boolean")
	if len(got) != 1 {
		t.Errorf("as Boolean: expected one result, got %v", got)
	}
}

func TestEvalPolymorphicField(t *testing.T) {
	json := `{"resourceType":"Observation","valueQuantity":{"value":5,"unit":"mg"}}`

	got := mustEval(t, json, "value.value")
	if len(got) != 1 {
		t.Fatalf("value[x] resolution: expected one result, got %d", len(got))
	}
}

// TestEvalIsAsOfTypeFunctionSyntax exercises is()/as()/ofType() called as
// functions rather than infix operators -- these take a type name as their
// argument, not a path expression, so the evaluator must read it off the
// raw argument AST instead of evaluating it as a member access.
func TestEvalIsAsOfTypeFunctionSyntax(t *testing.T) {
	json := `{"resourceType":"Patient","active":true}`

	got := mustEval(t, json, "active.is(Boolean)")
	if len(got) != 1 || !got[0].(types.Boolean).Bool() {
		t.Errorf("is() function form: got %v", got)
	}

	got = mustEval(t, json, "active.as(Boolean)")
	if len(got) != 1 {
		t.Errorf("as() function form: got %v", got)
	}

	got = mustEval(t, json, "active.as(String)")
	if !got.Empty() {
		t.Errorf("as() mismatched type: expected empty, got %v", got)
	}
}

func TestEvalOfType(t *testing.T) {
	json := `{"values":[1,"two",3]}`
	got := mustEval(t, json, "values.ofType(Integer)")
	if len(got) != 2 {
		t.Fatalf("ofType(Integer): expected 2 results, got %d: %v", len(got), got)
	}
}

func TestEvalUnaryAndArithmetic(t *testing.T) {
	json := `{}`

	got := mustEval(t, json, "-5 + 3")
	if len(got) != 1 || got[0].(types.Integer).Value() != -2 {
		t.Errorf("unary/arith: got %v", got)
	}
}

func TestEvalIndexing(t *testing.T) {
	json := `{"values":[10,20,30]}`

	got := mustEval(t, json, "values[1]")
	if len(got) != 1 || got[0].(types.Integer).Value() != 20 {
		t.Errorf("indexing: got %v", got)
	}

	got = mustEval(t, json, "values[99]")
	if !got.Empty() {
		t.Errorf("out-of-range indexing: expected empty, got %v", got)
	}
}

// TestEvalSpecialVarsOutsideLambda checks that $this/$index/$total outside a
// lambda-accepting function argument yield empty, not an error or a
// default value.
func TestEvalSpecialVarsOutsideLambda(t *testing.T) {
	json := `{"resourceType":"Patient","name":[{"use":"official"}]}`

	if got := mustEval(t, json, "$index"); len(got) != 0 {
		t.Errorf("$index outside a lambda: expected empty, got %v", got)
	}
	if got := mustEval(t, json, "$total"); len(got) != 0 {
		t.Errorf("$total outside a lambda: expected empty, got %v", got)
	}
}

func TestEvalIndexVarInsideLambda(t *testing.T) {
	json := `{"values":["a","b","c"]}`

	got := mustEval(t, json, "values.select($index)")
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
	for i, v := range got {
		n, ok := v.(types.Integer)
		if !ok || n.Value() != int64(i) {
			t.Errorf("position %d: expected %d, got %v", i, i, v)
		}
	}
}
