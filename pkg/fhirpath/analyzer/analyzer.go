// Package analyzer implements static analysis over a parsed FHIRPath
// expression: property resolution against a ModelProvider,
// function-signature validation, bottom-up type/cardinality inference,
// lambda-scope validation, and optimization hints. Findings never stop the
// walk: unknown properties are reported as warnings and optimization hints
// as hints, while unknown functions, arity mismatches and out-of-scope
// lambda variables are reported as errors. Strict mode promotes every
// finding at or above Config.WarningOrAbove to an error.
//
// Property and function name misses get did-you-mean suggestions ranked by
// Levenshtein distance (<= 2, top five), drawn from the sibling properties
// the ModelProvider reports and from known choice-type suffixes.
package analyzer

import (
	"strings"

	"golang.org/x/exp/slices"

	"github.com/fhirpath-go/engine/pkg/fhirpath/ast"
	"github.com/fhirpath-go/engine/pkg/fhirpath/diag"
	"github.com/fhirpath-go/engine/pkg/fhirpath/model"
)

// Phase identifies one independently-disableable analysis phase.
type Phase int

const (
	PhaseProperties Phase = iota
	PhaseFunctions
	PhaseTypes
	PhaseLambdaScope
	PhaseHints
)

// Config controls which phases run and how findings are promoted.
type Config struct {
	Disabled map[Phase]bool
	// Strict promotes every analyzer finding of WarningOrAbove to
	// SeverityError; by default findings stay advisory.
	Strict bool
	// WarningOrAbove is the floor severity promoted by Strict. DefaultConfig
	// sets it to SeverityWarning; the zero value (SeverityHint) promotes
	// every finding, hints included.
	WarningOrAbove diag.Severity
}

// DefaultConfig runs every phase, advisory (non-strict).
func DefaultConfig() Config {
	return Config{Disabled: map[Phase]bool{}, Strict: false, WarningOrAbove: diag.SeverityWarning}
}

func (c Config) enabled(p Phase) bool {
	return !c.Disabled[p]
}

// knownArity is the closed set of built-in function names the analyzer
// validates calls against, each with its [min, max] argument count, mirrored
// from funcs.Registry's name set (kept here as a literal table rather than
// imported from funcs).
var knownArity = map[string][2]int{
	"where": {1, 1}, "select": {1, 1}, "all": {0, 1}, "any": {0, 1},
	"repeat": {1, 1}, "aggregate": {1, 2}, "sort": {0, 1}, "iif": {2, 3},
	"exists": {0, 1}, "empty": {0, 0}, "not": {0, 0}, "count": {0, 0},
	"first": {0, 0}, "last": {0, 0}, "tail": {0, 0}, "skip": {1, 1},
	"take": {1, 1}, "single": {0, 0}, "distinct": {0, 0}, "isDistinct": {0, 0},
	"subsetOf": {1, 1}, "supersetOf": {1, 1}, "combine": {1, 1},
	"union": {1, 1}, "intersect": {1, 1}, "exclude": {1, 1},
	"children": {0, 0}, "descendants": {0, 0}, "ofType": {1, 1},
	"is": {1, 1}, "as": {1, 1}, "toBoolean": {0, 0}, "toInteger": {0, 0},
	"toDecimal": {0, 0}, "toString": {0, 0}, "toQuantity": {0, 1},
	"toDate": {0, 0}, "toDateTime": {0, 0}, "toTime": {0, 0},
	"convertsToBoolean": {0, 0}, "convertsToInteger": {0, 0},
	"convertsToDecimal": {0, 0}, "convertsToString": {0, 0},
	"convertsToQuantity": {0, 1}, "indexOf": {1, 1}, "substring": {1, 2},
	"startsWith": {1, 1}, "endsWith": {1, 1}, "contains": {1, 1},
	"upper": {0, 0}, "lower": {0, 0}, "replace": {2, 2}, "matches": {1, 1},
	"replaceMatches": {2, 2}, "length": {0, 0}, "toChars": {0, 0},
	"abs": {0, 0}, "ceiling": {0, 0}, "floor": {0, 0}, "truncate": {0, 0},
	"round": {0, 1}, "sqrt": {0, 0}, "ln": {0, 0}, "log": {1, 1},
	"power": {1, 1}, "exp": {0, 0}, "trace": {1, 2}, "now": {0, 0},
	"today": {0, 0}, "timeOfDay": {0, 0}, "hasValue": {0, 0},
	"getValue": {0, 0}, "type": {0, 0}, "extension": {1, 1},
	"resolve": {0, 0}, "conformsTo": {1, 1},
	"memberOf": {1, 1}, "subsumes": {1, 1}, "subsumedBy": {1, 1}, "translate": {1, 4},
	"allTrue": {0, 0}, "anyTrue": {0, 0}, "allFalse": {0, 0}, "anyFalse": {0, 0},
	"convertsToDate": {0, 0}, "convertsToDateTime": {0, 0}, "convertsToTime": {0, 0},
	"trim": {0, 0}, "split": {1, 1}, "join": {0, 1}, "sum": {0, 0}, "min": {0, 0},
	"max": {0, 0}, "avg": {0, 0}, "year": {0, 0}, "month": {0, 0}, "day": {0, 0},
	"hour": {0, 0}, "minute": {0, 0}, "second": {0, 0}, "millisecond": {0, 0},
	"hasExtension": {1, 1}, "getExtensionValue": {1, 1}, "getReferenceKey": {0, 1},
}

// Finding is one analyzer-produced diagnostic alongside the node it anchors to.
type Finding struct {
	Diagnostic diag.Diagnostic
	NodeId     ast.NodeId
}

// Cardinality is the inferred multiplicity of an expression's result.
type Cardinality string

const (
	CardZeroOrOne  Cardinality = "0..1"
	CardZeroToMany Cardinality = "0..*"
	CardOne        Cardinality = "1..1"
	CardOneToMany  Cardinality = "1..*"
)

// collection widens a cardinality to its many-valued counterpart.
func (c Cardinality) collection() Cardinality {
	switch c {
	case CardOne, CardOneToMany:
		return CardOneToMany
	default:
		return CardZeroToMany
	}
}

// optional widens a cardinality to admit emptiness.
func (c Cardinality) optional() Cardinality {
	switch c {
	case CardOne:
		return CardZeroOrOne
	case CardOneToMany:
		return CardZeroToMany
	default:
		return c
	}
}

// TypeAnnotation is one entry of the NodeId-keyed annotation side-table: an
// inferred type plus the cardinality the expression can produce.
type TypeAnnotation struct {
	Type        model.TypeInfo
	Cardinality Cardinality
}

// IsEmpty reports whether nothing could be inferred for the node.
func (a TypeAnnotation) IsEmpty() bool {
	return a.Type.Name == "" && a.Cardinality == ""
}

// SymbolKind distinguishes what a SymbolResolution refers to.
type SymbolKind int

const (
	SymbolProperty SymbolKind = iota
	SymbolFunction
)

func (k SymbolKind) String() string {
	if k == SymbolFunction {
		return "function"
	}
	return "property"
}

// SymbolResolution describes how one property or function reference in the
// expression resolved: the name, the type it was looked up on (properties
// only), the resolved result type, and whether resolution succeeded.
type SymbolResolution struct {
	NodeId     ast.NodeId
	Kind       SymbolKind
	Name       string
	ParentType string // type the property was resolved against; "" for functions
	Type       model.TypeInfo
	Resolved   bool
}

// Result is the full analyzer output: diagnostics, the NodeId-to-type
// annotation side-table, and one SymbolResolution per property/function
// reference, in source order.
type Result struct {
	Findings []Finding
	Types    map[ast.NodeId]TypeAnnotation
	Symbols  []SymbolResolution
}

// HasErrors reports whether any finding is SeverityError.
func (r Result) HasErrors() bool {
	for _, f := range r.Findings {
		if f.Diagnostic.Severity == diag.SeverityError {
			return true
		}
	}
	return false
}

// Analyzer runs the static analysis phases against a parsed tree.
type Analyzer struct {
	provider model.Provider
	cfg      Config
}

// New creates an Analyzer. provider may be model.EmptyModelProvider{} when
// no schema is available; phases degrade gracefully (property/type
// resolution simply stops emitting findings that need schema knowledge).
func New(provider model.Provider, cfg Config) *Analyzer {
	if provider == nil {
		provider = model.EmptyModelProvider{}
	}
	return &Analyzer{provider: provider, cfg: cfg}
}

// Analyze walks tree and returns the findings collected across enabled
// phases, the inferred type annotations (empty when PhaseTypes is
// disabled), and the property/function symbol resolutions.
func (a *Analyzer) Analyze(tree *ast.Node, rootType string) Result {
	ctx := &walkCtx{
		a:        a,
		rootType: rootType,
		types:    map[ast.NodeId]TypeAnnotation{},
	}
	ctx.walk(tree, scope{inLambda: false, typeName: rootType})
	if a.cfg.enabled(PhaseHints) {
		ctx.collectHints(tree)
	}
	if a.cfg.Strict {
		for i := range ctx.findings {
			if ctx.findings[i].Diagnostic.Severity >= a.cfg.WarningOrAbove {
				ctx.findings[i].Diagnostic.Severity = diag.SeverityError
			}
		}
	}
	return Result{Findings: ctx.findings, Types: ctx.types, Symbols: ctx.symbols}
}

// scope tracks what $this/$index/$total and the current navigational type
// resolve to at a given point in the tree, threaded top-down during the walk.
type scope struct {
	inLambda bool
	typeName string // current node's inferred type name, "" if unknown
}

type walkCtx struct {
	a        *Analyzer
	rootType string
	findings []Finding
	types    map[ast.NodeId]TypeAnnotation
	symbols  []SymbolResolution
}

func (c *walkCtx) emit(sev diag.Severity, code diag.Code, span ast.Span, nodeId ast.NodeId, msg string) *Finding {
	f := Finding{Diagnostic: diag.New(sev, code, span, msg), NodeId: nodeId}
	c.findings = append(c.findings, f)
	return &c.findings[len(c.findings)-1]
}

// annotate records ann for n in the side-table when type checking is
// enabled, and returns ann either way so the bottom-up walk can keep
// threading types to parent nodes.
func (c *walkCtx) annotate(n *ast.Node, ann TypeAnnotation) TypeAnnotation {
	if c.a.cfg.enabled(PhaseTypes) && !ann.IsEmpty() {
		c.types[n.Id] = ann
	}
	return ann
}

func systemType(name string) model.TypeInfo {
	return model.TypeInfo{Namespace: "System", Name: name}
}

// widenPrimitive maps a FHIR primitive type to its System counterpart, per
// the FHIRPath spec's implicit conversion table. Non-primitive types pass
// through unchanged.
func widenPrimitive(t model.TypeInfo) model.TypeInfo {
	if t.Namespace == "System" {
		return t
	}
	switch t.Name {
	case "string", "code", "uri", "url", "canonical", "id", "oid", "uuid", "markdown", "base64Binary", "xhtml":
		return systemType("String")
	case "boolean":
		return systemType("Boolean")
	case "integer", "positiveInt", "unsignedInt", "integer64":
		return systemType("Integer")
	case "decimal":
		return systemType("Decimal")
	case "date":
		return systemType("Date")
	case "dateTime", "instant":
		return systemType("DateTime")
	case "time":
		return systemType("Time")
	case "Quantity", "Age", "Count", "Distance", "Duration":
		return systemType("Quantity")
	}
	return t
}

func (c *walkCtx) walk(n *ast.Node, sc scope) TypeAnnotation {
	if n == nil {
		return TypeAnnotation{}
	}
	switch n.Kind {
	case ast.KindLiteral:
		return c.annotate(n, literalAnnotation(n))
	case ast.KindThis, ast.KindIndexVar, ast.KindTotal:
		if c.a.cfg.enabled(PhaseLambdaScope) && !sc.inLambda {
			name := map[ast.Kind]string{ast.KindThis: "$this", ast.KindIndexVar: "$index", ast.KindTotal: "$total"}[n.Kind]
			c.emit(diag.SeverityError, diag.CodeLambdaVarOutOfScope, n.Span, n.Id,
				name+" referenced outside of a lambda-accepting function argument")
		}
		switch n.Kind {
		case ast.KindIndexVar:
			return c.annotate(n, TypeAnnotation{Type: systemType("Integer"), Cardinality: CardOne})
		case ast.KindThis:
			if sc.typeName != "" {
				return c.annotate(n, TypeAnnotation{Type: model.TypeInfo{Namespace: "FHIR", Name: sc.typeName}, Cardinality: CardZeroOrOne})
			}
		}
		return TypeAnnotation{}
	case ast.KindIdentifier:
		return c.resolveProperty(n, sc, TypeAnnotation{})
	case ast.KindMember:
		base := c.walk(n.Base, sc)
		return c.resolveProperty(n, sc, base)
	case ast.KindIndex:
		base := c.walk(n.Base, sc)
		c.walk(n.IndexExpr, sc)
		return c.annotate(n, TypeAnnotation{Type: base.Type, Cardinality: CardZeroOrOne})
	case ast.KindFunctionCall:
		return c.walkFunctionCall(n, sc)
	case ast.KindUnary:
		operand := c.walk(n.Base, sc)
		return c.annotate(n, operand)
	case ast.KindBinary:
		return c.walkBinary(n, sc)
	case ast.KindUnion:
		left := c.walk(n.Left, sc)
		right := c.walk(n.Right, sc)
		ann := TypeAnnotation{Cardinality: CardZeroToMany}
		if left.Type == right.Type {
			ann.Type = left.Type
		}
		return c.annotate(n, ann)
	case ast.KindParenthesized:
		inner := c.walk(n.Base, sc)
		return c.annotate(n, inner)
	case ast.KindList:
		var common model.TypeInfo
		uniform := true
		for i, elem := range n.Args {
			ann := c.walk(elem, sc)
			if i == 0 {
				common = ann.Type
			} else if ann.Type != common {
				uniform = false
			}
		}
		ann := TypeAnnotation{Cardinality: CardOneToMany}
		if uniform {
			ann.Type = common
		}
		return c.annotate(n, ann)
	default:
		return TypeAnnotation{}
	}
}

func literalAnnotation(n *ast.Node) TypeAnnotation {
	switch n.LitKind {
	case ast.LitBoolean:
		return TypeAnnotation{Type: systemType("Boolean"), Cardinality: CardOne}
	case ast.LitString:
		return TypeAnnotation{Type: systemType("String"), Cardinality: CardOne}
	case ast.LitNumber:
		if strings.Contains(n.Text, ".") {
			return TypeAnnotation{Type: systemType("Decimal"), Cardinality: CardOne}
		}
		return TypeAnnotation{Type: systemType("Integer"), Cardinality: CardOne}
	case ast.LitDate:
		return TypeAnnotation{Type: systemType("Date"), Cardinality: CardOne}
	case ast.LitDateTime:
		return TypeAnnotation{Type: systemType("DateTime"), Cardinality: CardOne}
	case ast.LitTime:
		return TypeAnnotation{Type: systemType("Time"), Cardinality: CardOne}
	case ast.LitQuantity:
		return TypeAnnotation{Type: systemType("Quantity"), Cardinality: CardOne}
	default: // LitNull: the empty collection {}
		return TypeAnnotation{Cardinality: CardZeroOrOne}
	}
}

// resolveProperty resolves a member access against the ModelProvider,
// records a SymbolResolution for it, and returns the inferred annotation.
// Unknown properties get a did-you-mean finding when PhaseProperties is on.
func (c *walkCtx) resolveProperty(n *ast.Node, sc scope, base TypeAnnotation) TypeAnnotation {
	parent := base.Type.Name
	if parent == "" {
		parent = sc.typeName
	}
	sym := SymbolResolution{NodeId: n.Id, Kind: SymbolProperty, Name: n.Name, ParentType: parent}

	// A bare identifier naming the root resource type (e.g. the leading
	// "Patient" in Patient.name) resolves to the root itself.
	if parent != "" && n.Kind == ast.KindIdentifier && n.Name == parent {
		sym.Type = model.TypeInfo{Namespace: "FHIR", Name: parent}
		sym.Resolved = true
		c.symbols = append(c.symbols, sym)
		return c.annotate(n, TypeAnnotation{Type: sym.Type, Cardinality: CardZeroOrOne})
	}

	if parent == "" {
		c.symbols = append(c.symbols, sym)
		return TypeAnnotation{}
	}
	if t, ok := c.a.provider.GetElementType(parent, n.Name); ok {
		sym.Type = t
		sym.Resolved = true
		c.symbols = append(c.symbols, sym)
		return c.annotate(n, TypeAnnotation{Type: t, Cardinality: elementCardinality(c.a.provider, parent, n.Name)})
	}
	if choices, ok := c.a.provider.GetChoiceTypes(parent, n.Name); ok && len(choices) > 0 {
		sym.Type = choices[0].Type
		sym.Resolved = true
		c.symbols = append(c.symbols, sym)
		return c.annotate(n, TypeAnnotation{Type: choices[0].Type, Cardinality: CardZeroOrOne})
	}
	c.symbols = append(c.symbols, sym)

	if !c.a.cfg.enabled(PhaseProperties) {
		return TypeAnnotation{}
	}
	// Only flag an unknown property when the provider actually declares
	// elements for the parent type; with no schema knowledge every
	// navigation would otherwise be flagged.
	siblings := c.a.provider.GetElements(parent)
	if len(siblings) == 0 {
		return TypeAnnotation{}
	}
	// Suggest candidates from declared elements plus generated choice-type
	// suffixes, within edit distance 2, top 5.
	candidates := make([]string, 0, len(siblings)+16)
	for _, el := range siblings {
		candidates = append(candidates, el.Name)
	}
	candidates = append(candidates, model.ChoiceSuffixCandidates(n.Name)...)
	suggestions := rankSuggestions(n.Name, candidates, 2, 5)
	f := c.emit(diag.SeverityWarning, diag.CodeInvalidProperty, n.Span, n.Id,
		"unknown property '"+n.Name+"' on type "+parent)
	if len(suggestions) > 0 {
		f.Diagnostic = f.Diagnostic.WithHelp("did you mean: " + strings.Join(suggestions, ", ") + "?")
	}
	return TypeAnnotation{}
}

// elementCardinality reads an element's declared multiplicity from
// GetElements, falling back to 0..1 when the provider doesn't enumerate it.
func elementCardinality(p model.Provider, parent, name string) Cardinality {
	for _, el := range p.GetElements(parent) {
		if el.Name != name {
			continue
		}
		many := el.MaxCard < 0 || el.MaxCard > 1
		required := el.MinCard >= 1
		switch {
		case required && many:
			return CardOneToMany
		case required:
			return CardOne
		case many:
			return CardZeroToMany
		}
		return CardZeroOrOne
	}
	return CardZeroOrOne
}

func (c *walkCtx) walkFunctionCall(n *ast.Node, sc scope) TypeAnnotation {
	base := c.walk(n.Base, sc)
	sym := SymbolResolution{NodeId: n.Id, Kind: SymbolFunction, Name: n.FuncName}

	if arity, known := knownArity[n.FuncName]; known {
		sym.Resolved = true
		if c.a.cfg.enabled(PhaseFunctions) {
			argc := len(n.Args)
			if argc < arity[0] || argc > arity[1] {
				c.emit(diag.SeverityError, diag.CodeInvalidArgCount, n.Span, n.Id,
					functionArityMessage(n.FuncName, argc, arity))
			}
		}
	} else if c.a.cfg.enabled(PhaseFunctions) {
		names := make([]string, 0, len(knownArity))
		for name := range knownArity {
			names = append(names, name)
		}
		suggestions := rankSuggestions(n.FuncName, names, 2, 5)
		f := c.emit(diag.SeverityError, diag.CodeInvalidFunction, n.Span, n.Id,
			"unknown function '"+n.FuncName+"'")
		if len(suggestions) > 0 {
			f.Diagnostic = f.Diagnostic.WithHelp("did you mean: " + strings.Join(suggestions, ", ") + "?")
		}
	}

	lambdaScope := sc
	if ast.LambdaCapableFunctions[n.FuncName] {
		lambdaScope.inLambda = true
		if base.Type.Name != "" {
			lambdaScope.typeName = base.Type.Name
		}
	}
	argAnns := make([]TypeAnnotation, len(n.Args))
	for i, arg := range n.Args {
		argAnns[i] = c.walk(arg, lambdaScope)
	}

	ann := functionReturnAnnotation(n.FuncName, base, argAnns)
	sym.Type = ann.Type
	c.symbols = append(c.symbols, sym)
	if ann.IsEmpty() {
		return TypeAnnotation{}
	}
	return c.annotate(n, ann)
}

// functionReturnAnnotation infers a call's result type bottom-up from the
// receiver and argument annotations. Functions not covered return an empty
// annotation (unknown).
func functionReturnAnnotation(name string, base TypeAnnotation, args []TypeAnnotation) TypeAnnotation {
	switch name {
	case "exists", "empty", "not", "isDistinct", "subsetOf", "supersetOf",
		"all", "any", "allTrue", "anyTrue", "allFalse", "anyFalse",
		"startsWith", "endsWith", "matches", "contains", "hasValue",
		"convertsToBoolean", "convertsToInteger", "convertsToDecimal",
		"convertsToString", "convertsToQuantity", "is", "conformsTo",
		"memberOf", "subsumes", "subsumedBy":
		return TypeAnnotation{Type: systemType("Boolean"), Cardinality: CardOne}
	case "count", "length", "indexOf":
		return TypeAnnotation{Type: systemType("Integer"), Cardinality: CardOne}
	case "toInteger":
		return TypeAnnotation{Type: systemType("Integer"), Cardinality: CardZeroOrOne}
	case "toDecimal", "sqrt", "ln", "log", "exp":
		return TypeAnnotation{Type: systemType("Decimal"), Cardinality: CardZeroOrOne}
	case "toString", "upper", "lower", "replace", "replaceMatches", "substring", "trim":
		return TypeAnnotation{Type: systemType("String"), Cardinality: CardZeroOrOne}
	case "toChars":
		return TypeAnnotation{Type: systemType("String"), Cardinality: CardZeroToMany}
	case "toBoolean":
		return TypeAnnotation{Type: systemType("Boolean"), Cardinality: CardZeroOrOne}
	case "toQuantity":
		return TypeAnnotation{Type: systemType("Quantity"), Cardinality: CardZeroOrOne}
	case "toDate":
		return TypeAnnotation{Type: systemType("Date"), Cardinality: CardZeroOrOne}
	case "toDateTime":
		return TypeAnnotation{Type: systemType("DateTime"), Cardinality: CardZeroOrOne}
	case "toTime":
		return TypeAnnotation{Type: systemType("Time"), Cardinality: CardZeroOrOne}
	case "today":
		return TypeAnnotation{Type: systemType("Date"), Cardinality: CardOne}
	case "now":
		return TypeAnnotation{Type: systemType("DateTime"), Cardinality: CardOne}
	case "timeOfDay":
		return TypeAnnotation{Type: systemType("Time"), Cardinality: CardOne}
	case "abs", "ceiling", "floor", "truncate", "round", "power":
		return TypeAnnotation{Type: base.Type, Cardinality: CardZeroOrOne}
	case "first", "last", "single", "as":
		return TypeAnnotation{Type: base.Type, Cardinality: base.Cardinality.optional()}
	case "where", "tail", "skip", "take", "distinct", "intersect",
		"exclude", "union", "combine", "repeat", "sort", "ofType":
		return TypeAnnotation{Type: base.Type, Cardinality: base.Cardinality.collection().optional()}
	case "trace":
		return base
	case "select":
		if len(args) > 0 {
			return TypeAnnotation{Type: args[0].Type, Cardinality: args[0].Cardinality.collection().optional()}
		}
	case "iif":
		if len(args) >= 3 && args[1].Type == args[2].Type {
			return TypeAnnotation{Type: args[1].Type, Cardinality: args[1].Cardinality.optional()}
		}
		if len(args) >= 2 {
			return TypeAnnotation{Cardinality: args[1].Cardinality.optional()}
		}
	case "aggregate":
		if len(args) >= 1 {
			return TypeAnnotation{Type: args[0].Type, Cardinality: CardZeroOrOne}
		}
	}
	return TypeAnnotation{}
}

func (c *walkCtx) walkBinary(n *ast.Node, sc scope) TypeAnnotation {
	left := c.walk(n.Left, sc)
	right := c.walk(n.Right, sc)

	switch n.Op {
	case "and", "or", "xor", "implies",
		"=", "!=", "~", "!~", "<", "<=", ">", ">=",
		"in", "contains", "is":
		// Comparisons and logic are three-valued: empty operands
		// propagate, so the result is 0..1 Boolean.
		return c.annotate(n, TypeAnnotation{Type: systemType("Boolean"), Cardinality: CardZeroOrOne})
	case "as":
		if n.Right != nil && n.Right.TypeName != "" {
			return c.annotate(n, TypeAnnotation{
				Type:        model.TypeInfo{Namespace: "FHIR", Name: n.Right.TypeName},
				Cardinality: CardZeroOrOne,
			})
		}
		return TypeAnnotation{}
	case "&":
		return c.annotate(n, TypeAnnotation{Type: systemType("String"), Cardinality: CardOne})
	case "+", "-", "*", "/", "div", "mod":
		return c.annotate(n, arithmeticAnnotation(n.Op, left, right))
	}
	return TypeAnnotation{}
}

// arithmeticAnnotation applies the numeric promotion rules: Integer op
// Integer stays Integer, any Decimal operand promotes the result, `/`
// always yields Decimal, `div`/`mod` always yield Integer, and `+` on two
// Strings concatenates.
func arithmeticAnnotation(op string, left, right TypeAnnotation) TypeAnnotation {
	lt := widenPrimitive(left.Type)
	rt := widenPrimitive(right.Type)

	if op == "+" && lt == systemType("String") && rt == systemType("String") {
		return TypeAnnotation{Type: systemType("String"), Cardinality: CardZeroOrOne}
	}
	switch op {
	case "div", "mod":
		return TypeAnnotation{Type: systemType("Integer"), Cardinality: CardZeroOrOne}
	case "/":
		return TypeAnnotation{Type: systemType("Decimal"), Cardinality: CardZeroOrOne}
	}
	if lt == systemType("Decimal") || rt == systemType("Decimal") {
		return TypeAnnotation{Type: systemType("Decimal"), Cardinality: CardZeroOrOne}
	}
	if lt == systemType("Quantity") || rt == systemType("Quantity") {
		return TypeAnnotation{Type: systemType("Quantity"), Cardinality: CardZeroOrOne}
	}
	if lt == systemType("Integer") && rt == systemType("Integer") {
		return TypeAnnotation{Type: systemType("Integer"), Cardinality: CardZeroOrOne}
	}
	return TypeAnnotation{Cardinality: CardZeroOrOne}
}

func functionArityMessage(name string, got int, want [2]int) string {
	if want[0] == want[1] {
		return "function '" + name + "' expects " + itoa(want[0]) + " argument(s), got " + itoa(got)
	}
	return "function '" + name + "' expects between " + itoa(want[0]) + " and " + itoa(want[1]) + " arguments, got " + itoa(got)
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// collectHints emits optimization hints. It recognises a single pattern:
// consecutive where() calls on the same chain, which could be folded into
// one predicate with 'and'.
func (c *walkCtx) collectHints(n *ast.Node) {
	if n == nil {
		return
	}
	if n.Kind == ast.KindFunctionCall && n.FuncName == "where" && n.Base != nil &&
		n.Base.Kind == ast.KindFunctionCall && n.Base.FuncName == "where" {
		c.emit(diag.SeverityHint, diag.CodeOptimizationHint, n.Span, n.Id,
			"consecutive where() calls can be combined with 'and'")
	}
	for _, child := range n.Children() {
		c.collectHints(child)
	}
}

// rankSuggestions returns up to limit candidates within maxDist of target
// (case-insensitive Levenshtein distance), sorted by ascending distance
// then lexicographically.
func rankSuggestions(target string, candidates []string, maxDist, limit int) []string {
	type scored struct {
		name string
		dist int
	}
	lowerTarget := strings.ToLower(target)
	seen := map[string]bool{}
	var results []scored
	for _, cand := range candidates {
		if seen[cand] {
			continue
		}
		seen[cand] = true
		d := levenshtein(lowerTarget, strings.ToLower(cand))
		if d <= maxDist && cand != target {
			results = append(results, scored{cand, d})
		}
	}
	slices.SortFunc(results, func(a, b scored) int {
		if a.dist != b.dist {
			return a.dist - b.dist
		}
		return strings.Compare(a.name, b.name)
	})
	out := make([]string, 0, limit)
	for i, r := range results {
		if i >= limit {
			break
		}
		out = append(out, r.name)
	}
	return out
}

// levenshtein computes classic edit distance with a two-row dynamic
// programming table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
