package funcs

import (
	"github.com/fhirpath-go/engine/pkg/fhirpath/eval"
	"github.com/fhirpath-go/engine/pkg/fhirpath/types"
)

// init registers the FHIR conformance/terminology surface. conformsTo()
// only needs an in-process ModelProvider lookup, so it is a sync
// operation; memberOf/subsumes/subsumedBy/translate all require a real
// terminology server round-trip in a production deployment, so they are
// registered async.
func init() {
	Register(FuncDef{
		Name:    "conformsTo",
		MinArgs: 1,
		MaxArgs: 1,
		Fn:      fnConformsTo,
	})

	RegisterAsync(FuncDef{
		Name:    "memberOf",
		MinArgs: 1,
		MaxArgs: 1,
		Fn:      fnMemberOf,
	})
	RegisterAsync(FuncDef{
		Name:    "subsumes",
		MinArgs: 1,
		MaxArgs: 1,
		Fn:      fnSubsumes,
	})
	RegisterAsync(FuncDef{
		Name:    "subsumedBy",
		MinArgs: 1,
		MaxArgs: 1,
		Fn:      fnSubsumedBy,
	})
	RegisterAsync(FuncDef{
		Name:    "translate",
		MinArgs: 1,
		MaxArgs: 4,
		Fn:      fnTranslate,
	})
}

// argString extracts the string value of the i-th pre-evaluated argument.
func argString(args []interface{}, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	col, ok := args[i].(types.Collection)
	if !ok || col.Empty() {
		return "", false
	}
	s, ok := col[0].(types.String)
	if !ok {
		return "", false
	}
	return s.Value(), true
}

// fnConformsTo implements conformsTo(profileURL): validates the input
// resource against a profile via the context's ModelProvider. An error from
// the provider is a fatal ConformanceError; "resolved but not conformant" is
// a plain `false` result. With no provider configured, the context's
// EmptyModelProvider answers and the result is `false`.
func fnConformsTo(ctx *eval.Context, input types.Collection, args []interface{}) (types.Collection, error) {
	if input.Empty() {
		return types.Collection{}, nil
	}
	if len(input) != 1 {
		return nil, eval.SingletonError(len(input))
	}
	profileURL, ok := argString(args, 0)
	if !ok {
		return nil, eval.InvalidArgumentsError("conformsTo", 1, len(args))
	}
	obj, ok := input[0].(*types.ObjectValue)
	if !ok {
		return nil, eval.TypeError("Resource", input[0].Type(), "conformsTo")
	}
	result, err := ctx.ModelProvider().ValidateConformance(obj, profileURL)
	if err != nil {
		return nil, eval.ConformanceError(profileURL, err.Error())
	}
	return types.Collection{types.NewBoolean(result.Conforms)}, nil
}

// noTerminologyService reports that a terminology function cannot be
// answered without a configured terminology server. Never returns a
// silent Empty/false -- that would misrepresent "not a member"/"does not
// subsume" versus "couldn't check".
func noTerminologyService(fn, detail string) error {
	return eval.ConformanceError(fn, detail)
}

// fnMemberOf implements memberOf(valueSetURL). Evaluating this for real
// requires a terminology-server round trip; this default async
// implementation always reports that no terminology service is wired. An
// embedder that needs real answers registers its own async "memberOf"
// operation (via a custom Registry) ahead of this one.
func fnMemberOf(_ *eval.Context, input types.Collection, args []interface{}) (types.Collection, error) {
	if input.Empty() {
		return types.Collection{}, nil
	}
	valueSet, _ := argString(args, 0)
	return nil, noTerminologyService("memberOf", "no terminology service configured for value set '"+valueSet+"'")
}

// fnSubsumes implements subsumes(code): asks whether the input code
// subsumes the argument code in its code system's hierarchy.
func fnSubsumes(_ *eval.Context, input types.Collection, _ []interface{}) (types.Collection, error) {
	if input.Empty() {
		return types.Collection{}, nil
	}
	return nil, noTerminologyService("subsumes", "no terminology service configured")
}

// fnSubsumedBy implements subsumedBy(code): the inverse of subsumes().
func fnSubsumedBy(_ *eval.Context, input types.Collection, _ []interface{}) (types.Collection, error) {
	if input.Empty() {
		return types.Collection{}, nil
	}
	return nil, noTerminologyService("subsumedBy", "no terminology service configured")
}

// fnTranslate implements translate(conceptMapUrl, ...): maps a code through
// a ConceptMap.
func fnTranslate(_ *eval.Context, input types.Collection, args []interface{}) (types.Collection, error) {
	if input.Empty() {
		return types.Collection{}, nil
	}
	conceptMap, _ := argString(args, 0)
	return nil, noTerminologyService("translate", "no terminology service configured for concept map '"+conceptMap+"'")
}
