package eval

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/fhirpath-go/engine/pkg/fhirpath/ast"
	"github.com/fhirpath-go/engine/pkg/fhirpath/model"
	"github.com/fhirpath-go/engine/pkg/fhirpath/types"
)

// FuncImpl is the signature for function implementations.
type FuncImpl func(ctx *Context, input types.Collection, args []interface{}) (types.Collection, error)

// FuncDef defines a FHIRPath function.
type FuncDef struct {
	Name    string
	MinArgs int
	MaxArgs int
	Fn      FuncImpl
}

// FuncRegistry is an interface for function lookup.
type FuncRegistry interface {
	Get(name string) (FuncDef, bool)
}

// AsyncFuncRegistry is optionally implemented by a FuncRegistry that also
// holds async operations (terminology calls, network-backed lookups).
// Dispatch is sync-first: GetAsync is only consulted after a Get miss,
// never before, so an operation registered in the sync map is always
// served there first.
type AsyncFuncRegistry interface {
	GetAsync(name string) (FuncDef, bool)
}

// Resolver handles FHIR reference resolution.
type Resolver interface {
	Resolve(ctx context.Context, reference string) ([]byte, error)
}

// Evaluator evaluates a parsed FHIRPath AST. Evaluator.eval dispatches on
// ast.Node.Kind directly -- the AST is a tagged union rather than one type
// per grammar production (see pkg/fhirpath/ast).
type Evaluator struct {
	ctx   *Context
	funcs FuncRegistry
}

// Context holds the evaluation state. root/this are WrappedCollection, not
// plain Collection: every element carries its own canonical path from
// navigation, rather than the evaluator tracking one shared scalar path
// for the whole expression.
type Context struct {
	root      types.WrappedCollection
	this      types.WrappedCollection
	index     int
	total     types.Value
	variables map[string]types.Collection
	limits    map[string]int
	goCtx     context.Context
	resolver  Resolver
	provider  model.Provider
	depth     int
	path      types.CanonicalPath
	evalTime  time.Time
}

// EvalTime returns the instant now()/today()/timeOfDay() anchor to. It is
// captured on first use and held fixed for the rest of this Context's
// lifetime, so repeated calls within one evaluation (e.g. comparing
// now() to itself) observe the same instant rather than drifting across
// calls.
func (c *Context) EvalTime() time.Time {
	if c.evalTime.IsZero() {
		c.evalTime = time.Now()
	}
	return c.evalTime
}

// NewContext creates a new evaluation context.
// Automatically sets %resource and %context to the root resource for FHIR constraint evaluation.
// Per FHIRPath spec:
//   - %resource: the root resource being evaluated
//   - %context: the original node passed to the evaluation engine (same as %resource for top-level evaluation)
func NewContext(resource []byte) *Context {
	//nolint:errcheck // Empty collection is acceptable for invalid JSON in context creation
	root, _ := types.JSONToCollection(resource)
	rootWrapped := wrapRootCollection(root)

	variables := make(map[string]types.Collection)
	variables["resource"] = root
	variables["context"] = root
	// Built-in terminology-system variables: resolved here so a caller's
	// SetVariable can still shadow them, but every context has a sane
	// default without one.
	variables["ucum"] = types.Collection{types.NewString("http://unitsofmeasure.org")}
	variables["sct"] = types.Collection{types.NewString("http://snomed.info/sct")}
	variables["loinc"] = types.Collection{types.NewString("http://loinc.org")}

	return &Context{
		root:      rootWrapped,
		this:      rootWrapped,
		index:     -1, // $index is unset until a lambda binds it
		variables: variables,
		limits:    make(map[string]int),
		goCtx:     context.Background(),
	}
}

// wrapRootCollection lifts the root resource collection into a
// WrappedCollection, recording the resource type on each element so
// resource-rooted navigation starts from a real canonical path root (e.g.
// "Patient") rather than an empty one.
func wrapRootCollection(root types.Collection) types.WrappedCollection {
	out := make(types.WrappedCollection, len(root))
	for i, v := range root {
		if obj, ok := v.(*types.ObjectValue); ok {
			out[i] = types.WrapResourceRoot(v, obj.Type())
			continue
		}
		out[i] = types.Wrap(v)
	}
	return out
}

// SetLimit sets a limit value (e.g., maxDepth, maxCollectionSize).
func (c *Context) SetLimit(name string, value int) {
	if c.limits == nil {
		c.limits = make(map[string]int)
	}
	c.limits[name] = value
}

// GetLimit gets a limit value.
func (c *Context) GetLimit(name string) int {
	if c.limits == nil {
		return 0
	}
	return c.limits[name]
}

// SetContext sets the Go context for cancellation.
func (c *Context) SetContext(ctx context.Context) {
	c.goCtx = ctx
}

// Context returns the Go context.
func (c *Context) Context() context.Context {
	if c.goCtx == nil {
		return context.Background()
	}
	return c.goCtx
}

// SetResolver sets the reference resolver.
func (c *Context) SetResolver(r Resolver) {
	c.resolver = r
}

// GetResolver returns the reference resolver.
func (c *Context) GetResolver() Resolver {
	return c.resolver
}

// SetModelProvider sets the schema oracle consulted by ModelProvider-aware
// functions (conformsTo(), etc.). Unset contexts fall back to
// model.EmptyModelProvider{} -- the no-schema baseline.
func (c *Context) SetModelProvider(p model.Provider) {
	c.provider = p
}

// ModelProvider returns the configured schema oracle, or
// model.EmptyModelProvider{} if none was set.
func (c *Context) ModelProvider() model.Provider {
	if c.provider == nil {
		return model.EmptyModelProvider{}
	}
	return c.provider
}

// CurrentPath returns the canonical path of the expression position
// currently being evaluated. It complements the per-value paths carried on
// WrappedValue: those record where each individual value was reached, while
// this single path tracks the member/index chain of the subexpression under
// evaluation, and is used to annotate EvalError.Path so failures report
// where in the expression they occurred.
func (c *Context) CurrentPath() types.CanonicalPath {
	return c.path
}

// pushPathProperty extends the current path with a property segment and
// returns the previous path, for the caller to restore via setPath.
func (c *Context) pushPathProperty(name string) types.CanonicalPath {
	prev := c.path
	c.path = c.path.AppendProperty(name)
	return prev
}

// pushPathIndex extends the current path with an index segment and returns
// the previous path, for the caller to restore via setPath.
func (c *Context) pushPathIndex(i int) types.CanonicalPath {
	prev := c.path
	c.path = c.path.AppendIndex(i)
	return prev
}

// setPath restores a previously-saved path, undoing a pushPathProperty or
// pushPathIndex.
func (c *Context) setPath(p types.CanonicalPath) {
	c.path = p
}

// CheckCancellation checks if the context has been canceled.
func (c *Context) CheckCancellation() error {
	if c.goCtx == nil {
		return nil
	}
	select {
	case <-c.goCtx.Done():
		return NewEvalError(ErrTimeout, "evaluation canceled: %v", c.goCtx.Err())
	default:
		return nil
	}
}

// CheckCollectionSize validates that a collection doesn't exceed the maximum size.
func (c *Context) CheckCollectionSize(col types.Collection) error {
	maxSize := c.GetLimit("maxCollectionSize")
	if maxSize > 0 && len(col) > maxSize {
		return NewEvalError(ErrInvalidExpression,
			"collection size %d exceeds maximum allowed %d", len(col), maxSize)
	}
	return nil
}

// EnforceCollectionLimit truncates a collection if it exceeds the maximum size.
func (c *Context) EnforceCollectionLimit(col types.Collection) (types.Collection, bool) {
	maxSize := c.GetLimit("maxCollectionSize")
	if maxSize > 0 && len(col) > maxSize {
		return col[:maxSize], true
	}
	return col, false
}

// enterRecursion bumps the evaluation recursion depth (one level per
// evaluated node), enforcing maxDepth (default 128 set by options.go; a
// limit of 0 or less disables the check).
func (c *Context) enterRecursion() error {
	c.depth++
	max := c.GetLimit("maxDepth")
	if max > 0 && c.depth > max {
		return NewEvalError(ErrRecursionExceeded, "recursion depth %d exceeds maximum allowed %d", c.depth, max)
	}
	return nil
}

func (c *Context) leaveRecursion() { c.depth-- }

// Root returns the root collection.
func (c *Context) Root() types.Collection {
	return c.root.Values()
}

// This returns the current $this value.
func (c *Context) This() types.Collection {
	return c.this.Values()
}

// RootWrapped returns the root collection with each element's canonical
// path intact, for navigation internal to the evaluator.
func (c *Context) RootWrapped() types.WrappedCollection {
	return c.root
}

// ThisWrapped returns the current $this value with each element's
// canonical path intact, for navigation internal to the evaluator.
func (c *Context) ThisWrapped() types.WrappedCollection {
	return c.this
}

// WithThis returns a new context with the given $this value. The supplied
// collection carries no navigation history, so each element is wrapped at
// the root path; callers that need real per-element paths preserved use
// the evaluator's internal lambda-scope binding instead.
func (c *Context) WithThis(this types.Collection) *Context {
	newCtx := *c
	newCtx.this = types.WrapCollection(this)
	return &newCtx
}

// WithIndex returns a new context with the given $index value.
func (c *Context) WithIndex(index int) *Context {
	newCtx := *c
	newCtx.index = index
	return &newCtx
}

// SetVariable sets an external variable.
func (c *Context) SetVariable(name string, value types.Collection) {
	c.variables[name] = value
}

// GetVariable gets an external variable.
func (c *Context) GetVariable(name string) (types.Collection, bool) {
	v, ok := c.variables[name]
	return v, ok
}

// NewEvaluator creates a new evaluator with the given context and function registry.
func NewEvaluator(ctx *Context, funcs FuncRegistry) *Evaluator {
	return &Evaluator{ctx: ctx, funcs: funcs}
}

// Evaluate evaluates a parsed AST and returns the result.
func (e *Evaluator) Evaluate(tree *ast.Node) (types.Collection, error) {
	wrapped, err := e.eval(tree)
	return wrapped.Values(), err
}

// eval is the single dispatch point for every node kind. It returns a
// WrappedCollection, not a plain Collection, so every element keeps the
// canonical path it was reached through; Evaluate strips
// that metadata at the outer boundary, and FuncImpl implementations only
// ever see the plain Collection form via .Values().
func (e *Evaluator) eval(n *ast.Node) (types.WrappedCollection, error) {
	result, err := e.evalNode(n)
	if err != nil {
		if ee, ok := err.(*EvalError); ok && ee.Path == "" {
			if p := e.ctx.CurrentPath().String(); p != "" {
				ee.WithPath(p)
			}
		}
	}
	return result, err
}

func (e *Evaluator) evalNode(n *ast.Node) (types.WrappedCollection, error) {
	if n == nil {
		return types.WrappedCollection{}, nil
	}
	if err := e.ctx.enterRecursion(); err != nil {
		return nil, err
	}
	defer e.ctx.leaveRecursion()

	switch n.Kind {
	case ast.KindLiteral:
		return e.evalLiteral(n)
	case ast.KindIdentifier:
		prev := e.ctx.pushPathProperty(n.Name)
		defer e.ctx.setPath(prev)
		return e.navigateMember(e.ctx.ThisWrapped(), n.Name), nil
	case ast.KindThis:
		return e.ctx.ThisWrapped(), nil
	case ast.KindIndexVar:
		// $index is only bound inside a lambda iteration; outside one it
		// yields empty, not an error.
		if e.ctx.index < 0 {
			return types.WrappedCollection{}, nil
		}
		return types.WrapCollection(types.Collection{types.NewInteger(int64(e.ctx.index))}), nil
	case ast.KindTotal:
		if e.ctx.total != nil {
			return types.WrapCollection(types.Collection{e.ctx.total}), nil
		}
		return types.WrappedCollection{}, nil
	case ast.KindExternal:
		if v, ok := e.ctx.GetVariable(n.ExternalName); ok {
			return types.WrapCollection(v), nil
		}
		return nil, NewEvalError(ErrInvalidPath, "undefined variable: %%%s", n.ExternalName)
	case ast.KindMember:
		base, err := e.eval(n.Base)
		if err != nil {
			return nil, err
		}
		prev := e.ctx.pushPathProperty(n.Name)
		defer e.ctx.setPath(prev)
		return e.navigateMember(base, n.Name), nil
	case ast.KindIndex:
		return e.evalIndex(n)
	case ast.KindFunctionCall:
		return e.evalFunctionCall(n)
	case ast.KindUnary:
		return e.evalUnary(n)
	case ast.KindBinary:
		return e.evalBinary(n)
	case ast.KindUnion:
		left, err := e.eval(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := e.eval(n.Right)
		if err != nil {
			return nil, err
		}
		return types.WrapCollection(Union(left.Values(), right.Values())), nil
	case ast.KindParenthesized:
		return e.eval(n.Base)
	case ast.KindList:
		var out types.WrappedCollection
		for _, elem := range n.Args {
			vals, err := e.eval(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, vals...)
		}
		return out, nil
	case ast.KindTypeSpecifier:
		return types.WrappedCollection{}, nil
	default:
		return types.WrappedCollection{}, nil
	}
}

func (e *Evaluator) evalLiteral(n *ast.Node) (types.WrappedCollection, error) {
	switch n.LitKind {
	case ast.LitNull:
		return types.WrappedCollection{}, nil
	case ast.LitBoolean:
		return types.WrapCollection(types.Collection{types.NewBoolean(n.Text == "true")}), nil
	case ast.LitString:
		return types.WrapCollection(types.Collection{types.NewString(n.Text)}), nil
	case ast.LitNumber:
		if !strings.Contains(n.Text, ".") {
			if i, err := strconv.ParseInt(n.Text, 10, 64); err == nil {
				return types.WrapCollection(types.Collection{types.NewInteger(i)}), nil
			}
		}
		d, err := types.NewDecimal(n.Text)
		if err != nil {
			return nil, ParseError("invalid number: " + n.Text)
		}
		return types.WrapCollection(types.Collection{d}), nil
	case ast.LitDate:
		d, err := types.NewDate(stripAt(n.Text))
		if err != nil {
			return nil, ParseError("invalid date: " + n.Text)
		}
		return types.WrapCollection(types.Collection{d}), nil
	case ast.LitDateTime:
		dt, err := types.NewDateTime(stripAt(n.Text))
		if err != nil {
			return nil, ParseError("invalid datetime: " + n.Text)
		}
		return types.WrapCollection(types.Collection{dt}), nil
	case ast.LitTime:
		t, err := types.NewTime(stripAt(n.Text))
		if err != nil {
			return nil, ParseError("invalid time: " + n.Text)
		}
		return types.WrapCollection(types.Collection{t}), nil
	case ast.LitQuantity:
		q, err := types.NewQuantity(n.Text)
		if err != nil {
			return nil, ParseError("invalid quantity: " + n.Text)
		}
		return types.WrapCollection(types.Collection{q}), nil
	default:
		return types.WrappedCollection{}, nil
	}
}

func stripAt(s string) string {
	if s != "" && s[0] == '@' {
		return s[1:]
	}
	return s
}

func (e *Evaluator) evalIndex(n *ast.Node) (types.WrappedCollection, error) {
	base, err := e.eval(n.Base)
	if err != nil {
		return nil, err
	}
	idx, err := e.eval(n.IndexExpr)
	if err != nil {
		return nil, err
	}
	if idx.Values().Empty() {
		return types.WrappedCollection{}, nil
	}
	i, ok := idx[0].Value.(types.Integer)
	if !ok {
		return nil, TypeError("Integer", idx[0].Value.Type(), "indexer")
	}
	iv := int(i.Value())
	if iv < 0 || iv >= len(base) {
		return types.WrappedCollection{}, nil
	}
	prev := e.ctx.pushPathIndex(iv)
	defer e.ctx.setPath(prev)
	return types.WrappedCollection{base[iv]}, nil
}

func (e *Evaluator) evalUnary(n *ast.Node) (types.WrappedCollection, error) {
	wrapped, err := e.eval(n.Base)
	if err != nil {
		return nil, err
	}
	col := wrapped.Values()
	if col.Empty() {
		return wrapped, nil
	}
	if len(col) != 1 {
		return nil, SingletonError(len(col))
	}
	if n.Op == "-" {
		negated, err := Negate(col[0], wrapped[0].Path.String())
		if err != nil {
			return nil, err
		}
		return types.WrapCollection(types.Collection{negated}), nil
	}
	return wrapped, nil
}

func (e *Evaluator) evalBinary(n *ast.Node) (types.WrappedCollection, error) {
	switch n.Op {
	case "is", "as":
		return e.evalTypeOp(n)
	case "and":
		left, right, err := e.evalBoolOperands(n)
		if err != nil {
			return nil, err
		}
		return types.WrapCollection(And(left, right)), nil
	case "or":
		left, right, err := e.evalBoolOperands(n)
		if err != nil {
			return nil, err
		}
		return types.WrapCollection(Or(left, right)), nil
	case "xor":
		left, right, err := e.evalBoolOperands(n)
		if err != nil {
			return nil, err
		}
		return types.WrapCollection(Xor(left, right)), nil
	case "implies":
		left, right, err := e.evalBoolOperands(n)
		if err != nil {
			return nil, err
		}
		return types.WrapCollection(Implies(left, right)), nil
	}

	leftWrapped, err := e.eval(n.Left)
	if err != nil {
		return nil, err
	}
	rightWrapped, err := e.eval(n.Right)
	if err != nil {
		return nil, err
	}
	left, right := leftWrapped.Values(), rightWrapped.Values()

	switch n.Op {
	case "in":
		return types.WrapCollection(In(left, right)), nil
	case "contains":
		return types.WrapCollection(Contains(left, right)), nil
	case "=":
		return types.WrapCollection(Equal(left, right)), nil
	case "!=":
		return types.WrapCollection(NotEqual(left, right)), nil
	case "~":
		return types.WrapCollection(Equivalent(left, right)), nil
	case "!~":
		return types.WrapCollection(NotEquivalent(left, right)), nil
	case "<":
		result, err := singletonCompare(left, right, LessThan)
		return types.WrapCollection(result), err
	case "<=":
		result, err := singletonCompare(left, right, LessOrEqual)
		return types.WrapCollection(result), err
	case ">":
		result, err := singletonCompare(left, right, GreaterThan)
		return types.WrapCollection(result), err
	case ">=":
		result, err := singletonCompare(left, right, GreaterOrEqual)
		return types.WrapCollection(result), err
	case "&":
		return types.WrapCollection(Concatenate(left, right)), nil
	case "+", "-", "*", "/", "div", "mod":
		path := ""
		if len(leftWrapped) == 1 {
			path = leftWrapped[0].Path.String()
		}
		result, err := singletonArith(left, right, n.Op, path)
		return types.WrapCollection(result), err
	}
	return types.WrappedCollection{}, nil
}

// evalBoolOperands evaluates both operands of a three-valued-logic binary
// operator. Unlike arithmetic/comparison operators, these operators
// consult empty-vs-false/true combinations themselves (see And/Or/Xor/
// Implies in operators.go), so operands are passed through as-is.
func (e *Evaluator) evalBoolOperands(n *ast.Node) (types.Collection, types.Collection, error) {
	left, err := e.eval(n.Left)
	if err != nil {
		return nil, nil, err
	}
	right, err := e.eval(n.Right)
	if err != nil {
		return nil, nil, err
	}
	return left.Values(), right.Values(), nil
}

func singletonCompare(left, right types.Collection, op func(a, b types.Value) (types.Collection, error)) (types.Collection, error) {
	if left.Empty() || right.Empty() {
		return types.Collection{}, nil
	}
	if len(left) != 1 || len(right) != 1 {
		return nil, SingletonError(len(left) + len(right))
	}
	result, err := op(left[0], right[0])
	if err != nil {
		// Type mismatches and ambiguous-precision temporal comparisons
		// yield empty, not an error.
		return types.Collection{}, nil
	}
	return result, nil
}

func singletonArith(left, right types.Collection, op, path string) (types.Collection, error) {
	if left.Empty() || right.Empty() {
		return types.Collection{}, nil
	}
	if len(left) != 1 || len(right) != 1 {
		return nil, SingletonError(len(left) + len(right))
	}
	var result types.Value
	var err error
	switch op {
	case "+":
		result, err = Add(left[0], right[0], path)
	case "-":
		result, err = Subtract(left[0], right[0], path)
	case "*":
		result, err = Multiply(left[0], right[0], path)
	case "/", "div", "mod":
		// Division by zero yields empty, not an error.
		if isZeroNumeric(right[0]) {
			return types.Collection{}, nil
		}
		switch op {
		case "/":
			result, err = Divide(left[0], right[0], path)
		case "div":
			result, err = IntegerDivide(left[0], right[0], path)
		case "mod":
			result, err = Modulo(left[0], right[0], path)
		}
	}
	if err != nil {
		return nil, err
	}
	return types.Collection{result}, nil
}

func isZeroNumeric(v types.Value) bool {
	switch n := v.(type) {
	case types.Integer:
		return n.Value() == 0
	case types.Decimal:
		return n.Value().IsZero()
	default:
		return false
	}
}

func (e *Evaluator) evalTypeOp(n *ast.Node) (types.WrappedCollection, error) {
	leftWrapped, err := e.eval(n.Left)
	if err != nil {
		return nil, err
	}
	left := leftWrapped.Values()
	if left.Empty() {
		return types.WrappedCollection{}, nil
	}
	if len(left) != 1 {
		return nil, SingletonError(len(left))
	}
	typeName := n.Right.TypeName
	actualType := left[0].Type()
	switch n.Op {
	case "is":
		return types.WrapCollection(types.Collection{types.NewBoolean(TypeMatches(actualType, typeName))}), nil
	case "as":
		if TypeMatches(actualType, typeName) {
			return leftWrapped, nil
		}
		return types.WrappedCollection{}, nil
	}
	return types.WrappedCollection{}, nil
}

// evalIsAsFunction implements is(Type)/as(Type) called in function syntax
// (as opposed to the `is`/`as` infix operators, handled by evalTypeOp).
func (e *Evaluator) evalIsAsFunction(name string, input types.WrappedCollection, typeArg *ast.Node) (types.WrappedCollection, error) {
	values := input.Values()
	if values.Empty() {
		return types.WrappedCollection{}, nil
	}
	if len(values) != 1 {
		return nil, SingletonError(len(values))
	}
	typeName := typeNameOf(typeArg)
	matches := TypeMatches(values[0].Type(), typeName)
	if name == "is" {
		return types.WrapCollection(types.Collection{types.NewBoolean(matches)}), nil
	}
	if matches {
		return input, nil
	}
	return types.WrappedCollection{}, nil
}

// evalOfType implements ofType(Type): filters the input collection to the
// elements matching the given type, unlike is()/as() which require a
// singleton input.
func (e *Evaluator) evalOfType(input types.WrappedCollection, typeArg *ast.Node) (types.WrappedCollection, error) {
	typeName := typeNameOf(typeArg)
	result := types.WrappedCollection{}
	for _, item := range input {
		if TypeMatches(item.Value.Type(), typeName) {
			result = append(result, item)
		}
	}
	return result, nil
}

// typeNameOf extracts a type name from an argument expression, handling
// the three shapes is()/as()/ofType() arguments can take: a bare
// identifier ("Patient"), a dotted member chain used as a qualified name
// ("FHIR.Patient"), or a TypeSpecifier node.
func typeNameOf(n *ast.Node) string {
	switch n.Kind {
	case ast.KindTypeSpecifier:
		return n.TypeName
	case ast.KindIdentifier:
		return n.Name
	case ast.KindMember:
		baseName := typeNameOf(n.Base)
		if baseName == "" {
			return n.Name
		}
		return baseName + "." + n.Name
	default:
		return ""
	}
}

// evalFunctionCall dispatches a function-call node. Lambda-capable
// functions (where/select/all/any/repeat/aggregate/sort/iif) receive their
// argument ASTs unevaluated, via evalLambdaFunction: every lambda-capable
// name goes through the same thunk dispatch uniformly, never a registry
// function handed a pre-evaluated types.Collection argument.
func (e *Evaluator) evalFunctionCall(n *ast.Node) (types.WrappedCollection, error) {
	input := e.ctx.ThisWrapped()
	if n.Base != nil {
		base, err := e.eval(n.Base)
		if err != nil {
			return nil, err
		}
		input = base
	}

	name := n.FuncName

	// is(Type)/as(Type)/ofType(Type) take a type name, not a path
	// expression, as their argument: evaluating it eagerly would navigate
	// into a member named after the type instead of reading the type name
	// itself, so these three are extracted from the raw argument AST via
	// typeNameOf, exactly like the `is`/`as` operator forms.
	switch name {
	case "is", "as":
		if len(n.Args) != 1 {
			return nil, InvalidArgumentsError(name, 1, len(n.Args))
		}
		return e.evalIsAsFunction(name, input, n.Args[0])
	case "ofType":
		if len(n.Args) != 1 {
			return nil, InvalidArgumentsError(name, 1, len(n.Args))
		}
		return e.evalOfType(input, n.Args[0])
	}

	if ast.LambdaCapableFunctions[name] {
		return e.evalLambdaFunction(name, input, n.Args)
	}

	fn, ok := e.funcs.Get(name)
	if !ok {
		if asyncReg, isAsync := e.funcs.(AsyncFuncRegistry); isAsync {
			fn, ok = asyncReg.GetAsync(name)
		}
	}
	if !ok {
		return nil, FunctionNotFoundError(name)
	}
	argCount := len(n.Args)
	if argCount < fn.MinArgs {
		return nil, InvalidArgumentsError(name, fn.MinArgs, argCount)
	}
	if fn.MaxArgs >= 0 && argCount > fn.MaxArgs {
		return nil, InvalidArgumentsError(name, fn.MaxArgs, argCount)
	}

	args := make([]interface{}, argCount)
	for i, argExpr := range n.Args {
		v, err := e.eval(argExpr)
		if err != nil {
			return nil, err
		}
		args[i] = v.Values()
	}
	result, err := fn.Fn(e.ctx, input.Values(), args)
	if err != nil {
		return nil, err
	}
	// Function results are opaque w.r.t. navigation path: none of the
	// ~150 FuncImpl signatures carry WrappedValue in or out, so a result
	// is re-anchored at the root path rather than inheriting input's.
	return types.WrapCollection(result), nil
}

// withLambdaScope runs fn with $this/$index set to item/i, restoring the
// prior scope afterward regardless of how fn returns. item keeps its own
// canonical path, so member access inside fn (e.g. the "given" in
// name.where(use='official').given) still resolves against the real path
// of the specific element $this is bound to.
func (e *Evaluator) withLambdaScope(item types.WrappedValue, i int, fn func() (types.WrappedCollection, error)) (types.WrappedCollection, error) {
	oldThis, oldIndex := e.ctx.this, e.ctx.index
	e.ctx.this = types.WrappedCollection{item}
	e.ctx.index = i
	defer func() {
		e.ctx.this = oldThis
		e.ctx.index = oldIndex
	}()
	return fn()
}

// evalLambdaFunction is the single dispatch point for every lambda-capable
// function name, each receiving the unevaluated argument AST(s) plus a
// callback closure bound to the current evaluator and context.
func (e *Evaluator) evalLambdaFunction(name string, input types.WrappedCollection, args []*ast.Node) (types.WrappedCollection, error) {
	switch name {
	case "where":
		if len(args) < 1 {
			return nil, InvalidArgumentsError(name, 1, len(args))
		}
		return e.evalWhere(input, args[0])
	case "select":
		if len(args) < 1 {
			return nil, InvalidArgumentsError(name, 1, len(args))
		}
		return e.evalSelect(input, args[0])
	case "all":
		if len(args) == 0 {
			return types.WrapCollection(types.Collection{types.NewBoolean(true)}), nil
		}
		return e.evalAll(input, args[0])
	case "any", "exists":
		// exists(criteria) is where(criteria).exists(); any() is its alias.
		if len(args) == 0 {
			return types.WrapCollection(types.Collection{types.NewBoolean(len(input) != 0)}), nil
		}
		return e.evalAny(input, args[0])
	case "repeat":
		if len(args) < 1 {
			return nil, InvalidArgumentsError(name, 1, len(args))
		}
		return e.evalRepeat(input, args[0])
	case "aggregate":
		if len(args) < 1 {
			return nil, InvalidArgumentsError(name, 1, len(args))
		}
		var init *ast.Node
		if len(args) > 1 {
			init = args[1]
		}
		return e.evalAggregate(input, args[0], init)
	case "sort":
		return e.evalSort(input, args)
	case "iif":
		if len(args) < 2 {
			return nil, InvalidArgumentsError(name, 2, len(args))
		}
		return e.evalIif(args)
	}
	return nil, FunctionNotFoundError(name)
}

func (e *Evaluator) evalWhere(input types.WrappedCollection, criteria *ast.Node) (types.WrappedCollection, error) {
	if err := e.ctx.CheckCollectionSize(input.Values()); err != nil {
		return nil, err
	}
	result := types.WrappedCollection{}
	for i, item := range input {
		if i%100 == 0 {
			if err := e.ctx.CheckCancellation(); err != nil {
				return nil, err
			}
		}
		col, err := e.withLambdaScope(item, i, func() (types.WrappedCollection, error) { return e.eval(criteria) })
		if err != nil {
			return nil, err
		}
		values := col.Values()
		if !values.Empty() {
			if b, ok := values[0].(types.Boolean); ok && b.Bool() {
				result = append(result, item)
			}
		}
	}
	return result, nil
}

func (e *Evaluator) evalSelect(input types.WrappedCollection, projection *ast.Node) (types.WrappedCollection, error) {
	if err := e.ctx.CheckCollectionSize(input.Values()); err != nil {
		return nil, err
	}
	result := types.WrappedCollection{}
	for i, item := range input {
		if i%100 == 0 {
			if err := e.ctx.CheckCancellation(); err != nil {
				return nil, err
			}
		}
		col, err := e.withLambdaScope(item, i, func() (types.WrappedCollection, error) { return e.eval(projection) })
		if err != nil {
			return nil, err
		}
		result = append(result, col...)
		if err := e.ctx.CheckCollectionSize(result.Values()); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (e *Evaluator) evalAll(input types.WrappedCollection, criteria *ast.Node) (types.WrappedCollection, error) {
	if len(input) == 0 {
		return types.WrapCollection(types.Collection{types.NewBoolean(true)}), nil
	}
	for i, item := range input {
		if i%100 == 0 {
			if err := e.ctx.CheckCancellation(); err != nil {
				return nil, err
			}
		}
		col, err := e.withLambdaScope(item, i, func() (types.WrappedCollection, error) { return e.eval(criteria) })
		if err != nil {
			return nil, err
		}
		values := col.Values()
		if values.Empty() {
			return types.WrapCollection(types.Collection{types.NewBoolean(false)}), nil
		}
		if b, ok := values[0].(types.Boolean); ok && !b.Bool() {
			return types.WrapCollection(types.Collection{types.NewBoolean(false)}), nil
		}
	}
	return types.WrapCollection(types.Collection{types.NewBoolean(true)}), nil
}

func (e *Evaluator) evalAny(input types.WrappedCollection, criteria *ast.Node) (types.WrappedCollection, error) {
	for i, item := range input {
		if i%100 == 0 {
			if err := e.ctx.CheckCancellation(); err != nil {
				return nil, err
			}
		}
		col, err := e.withLambdaScope(item, i, func() (types.WrappedCollection, error) { return e.eval(criteria) })
		if err != nil {
			return nil, err
		}
		values := col.Values()
		if !values.Empty() {
			if b, ok := values[0].(types.Boolean); ok && b.Bool() {
				return types.WrapCollection(types.Collection{types.NewBoolean(true)}), nil
			}
		}
	}
	return types.WrapCollection(types.Collection{types.NewBoolean(false)}), nil
}

// evalRepeat evaluates repeat(projection): repeatedly applies projection to
// the working set, unioning newly-discovered items in, until a pass
// produces nothing new. Capped at maxRepeatIterations to prevent
// non-termination.
func (e *Evaluator) evalRepeat(input types.WrappedCollection, projection *ast.Node) (types.WrappedCollection, error) {
	maxIterations := e.ctx.GetLimit("maxRepeatIterations")
	if maxIterations <= 0 {
		maxIterations = 1000
	}

	result := types.WrappedCollection{}
	frontier := input
	seen := map[string]bool{}
	for _, v := range input {
		seen[v.Value.String()] = true
	}

	for iter := 0; len(frontier) > 0; iter++ {
		if iter >= maxIterations {
			return nil, NewEvalError(ErrRecursionExceeded, "repeat() exceeded %d iterations", maxIterations)
		}
		if err := e.ctx.CheckCancellation(); err != nil {
			return nil, err
		}
		next := types.WrappedCollection{}
		for i, item := range frontier {
			col, err := e.withLambdaScope(item, i, func() (types.WrappedCollection, error) { return e.eval(projection) })
			if err != nil {
				return nil, err
			}
			for _, v := range col {
				key := v.Value.String()
				if seen[key] {
					continue
				}
				seen[key] = true
				result = append(result, v)
				next = append(next, v)
			}
		}
		if err := e.ctx.CheckCollectionSize(result.Values()); err != nil {
			return nil, err
		}
		frontier = next
	}
	return result, nil
}

// evalAggregate evaluates aggregate(aggregator, init?): threads $total
// through each element's aggregator evaluation, starting from init (or
// empty when absent), and returns the final $total.
func (e *Evaluator) evalAggregate(input types.WrappedCollection, aggregator *ast.Node, init *ast.Node) (types.WrappedCollection, error) {
	var total types.Value
	if init != nil {
		initCol, err := e.eval(init)
		if err != nil {
			return nil, err
		}
		values := initCol.Values()
		if !values.Empty() {
			total = values[0]
		}
	}

	oldTotal := e.ctx.total
	defer func() { e.ctx.total = oldTotal }()

	for i, item := range input {
		if i%100 == 0 {
			if err := e.ctx.CheckCancellation(); err != nil {
				return nil, err
			}
		}
		e.ctx.total = total
		col, err := e.withLambdaScope(item, i, func() (types.WrappedCollection, error) { return e.eval(aggregator) })
		if err != nil {
			return nil, err
		}
		values := col.Values()
		if !values.Empty() {
			total = values[0]
		} else {
			total = nil
		}
	}

	if total == nil {
		return types.WrappedCollection{}, nil
	}
	return types.WrapCollection(types.Collection{total}), nil
}

// evalSort evaluates sort([criteria]): stable-sorts input ascending by the
// per-element key the first criterion yields, $this-scoped. Only the first
// criterion is used; further arguments are ignored.
func (e *Evaluator) evalSort(input types.WrappedCollection, args []*ast.Node) (types.WrappedCollection, error) {
	result := make(types.WrappedCollection, len(input))
	copy(result, input)
	if len(args) == 0 {
		sortStableWrapped(result, func(a, b types.Value) (int, error) {
			if ca, ok := a.(types.Comparable); ok {
				return ca.Compare(b)
			}
			return 0, nil
		})
		return result, nil
	}

	keys := make([]types.Value, len(result))
	for i, item := range result {
		col, err := e.withLambdaScope(item, i, func() (types.WrappedCollection, error) { return e.eval(args[0]) })
		if err != nil {
			return nil, err
		}
		values := col.Values()
		if !values.Empty() {
			keys[i] = values[0]
		}
	}
	sortStableIndexedWrapped(result, keys, func(a, b types.Value) (int, error) {
		if a == nil || b == nil {
			return 0, nil
		}
		if ca, ok := a.(types.Comparable); ok {
			return ca.Compare(b)
		}
		return 0, nil
	})
	return result, nil
}

func (e *Evaluator) evalIif(args []*ast.Node) (types.WrappedCollection, error) {
	criterionResult, err := e.eval(args[0])
	if err != nil {
		return nil, err
	}
	criterionValues := criterionResult.Values()
	criterion := false
	if !criterionValues.Empty() {
		if b, ok := criterionValues[0].(types.Boolean); ok {
			criterion = b.Bool()
		}
	}
	if criterion {
		return e.eval(args[1])
	}
	if len(args) > 2 {
		return e.eval(args[2])
	}
	return types.WrappedCollection{}, nil
}

// nonDomainResources contains FHIR resources that inherit directly from Resource,
// not from DomainResource. All other resources inherit from DomainResource.
var nonDomainResources = map[string]bool{
	"Bundle":     true,
	"Binary":     true,
	"Parameters": true,
}

// IsDomainResource returns true if the given resource type inherits from DomainResource.
func IsDomainResource(resourceType string) bool {
	return !nonDomainResources[resourceType]
}

// IsSubtypeOf checks if actualType is a subtype of (or equal to) baseType.
func IsSubtypeOf(actualType, baseType string) bool {
	if actualType == baseType {
		return true
	}
	if strings.EqualFold(actualType, baseType) {
		return true
	}
	if baseType == "Resource" || strings.EqualFold(baseType, "resource") {
		return isPossibleResourceType(actualType)
	}
	if baseType == "DomainResource" || strings.EqualFold(baseType, "domainresource") {
		return isPossibleResourceType(actualType) && IsDomainResource(actualType)
	}
	return false
}

// isPossibleResourceType checks if the type looks like a FHIR resource type.
func isPossibleResourceType(typeName string) bool {
	if typeName == "" {
		return false
	}
	primitiveTypes := map[string]bool{
		"Boolean": true, "String": true, "Integer": true, "Decimal": true,
		"Date": true, "DateTime": true, "Time": true, "Quantity": true,
		"Object": true,
	}
	if primitiveTypes[typeName] {
		return false
	}
	return typeName[0] >= 'A' && typeName[0] <= 'Z'
}

// fhirToFHIRPath maps FHIR's lowercase primitive type names to the
// FHIRPath type they reify as.
var fhirToFHIRPath = map[string]string{
	"boolean": "Boolean", "string": "String", "integer": "Integer",
	"decimal": "Decimal", "date": "Date", "datetime": "DateTime",
	"time": "Time", "instant": "DateTime", "uri": "String", "url": "String",
	"canonical": "String", "base64binary": "String", "code": "String",
	"id": "String", "markdown": "String", "oid": "String", "uuid": "String",
	"positiveint": "Integer", "unsignedint": "Integer", "integer64": "Integer",
	"quantity": "Quantity", "simplequantity": "Quantity", "age": "Quantity",
	"count": "Quantity", "distance": "Quantity", "duration": "Quantity",
	"money": "Quantity",
}

// TypeMatches checks if actualType matches the requested typeName.
func TypeMatches(actualType, typeName string) bool {
	if actualType == typeName {
		return true
	}
	actualLower := strings.ToLower(actualType)
	typeNameLower := strings.ToLower(typeName)
	if actualLower == typeNameLower {
		return true
	}
	if IsSubtypeOf(actualType, typeName) {
		return true
	}
	if fhirPathType, ok := fhirToFHIRPath[typeNameLower]; ok {
		if actualType == fhirPathType {
			return true
		}
	}
	if fhirPathType, ok := fhirToFHIRPath[actualLower]; ok {
		if fhirPathType == typeName || strings.EqualFold(fhirPathType, typeName) {
			return true
		}
	}
	if strings.HasPrefix(typeNameLower, "system.") {
		if strings.EqualFold(actualType, typeName[7:]) {
			return true
		}
	}
	if strings.HasPrefix(typeNameLower, "fhir.") {
		if strings.EqualFold(actualType, typeName[5:]) {
			return true
		}
	}
	return false
}

// polymorphicTypeSuffixes contains all FHIR type suffixes for polymorphic elements (value[x] pattern).
var polymorphicTypeSuffixes = []string{
	"Boolean", "Integer", "Integer64", "Decimal", "String", "Code", "Id", "Uri", "Url", "Canonical",
	"Base64Binary", "Instant", "Date", "DateTime", "Time", "Oid", "Uuid", "Markdown", "PositiveInt", "UnsignedInt",
	"Quantity", "CodeableConcept", "Coding", "Range", "Period", "Ratio", "RatioRange",
	"Identifier", "Reference", "Attachment", "HumanName", "Address", "ContactPoint",
	"Timing", "Signature", "Annotation", "SampledData", "Age", "Distance", "Duration",
	"Count", "Money", "MoneyQuantity", "SimpleQuantity",
	"Meta", "Dosage", "ContactDetail", "Contributor", "DataRequirement", "Expression",
	"ParameterDefinition", "RelatedArtifact", "TriggerDefinition", "UsageContext",
}

// navigateMember navigates to a member of objects in the collection,
// resolving FHIR polymorphic elements (value[x]) automatically. Every
// produced WrappedValue carries its own canonical path: a property that
// fans out to several children gets each child indexed
// (parent.Path + ".name[i]"), so two children reached through different
// parents (e.g. the "given" under two distinct "name" entries) never
// collapse onto the same path.
func (e *Evaluator) navigateMember(input types.WrappedCollection, name string) types.WrappedCollection {
	result := types.WrappedCollection{}
	for _, wv := range input {
		obj, ok := wv.Value.(*types.ObjectValue)
		if !ok {
			continue
		}
		if IsSubtypeOf(obj.Type(), name) {
			result = append(result, wv)
			continue
		}
		children := obj.GetCollection(name)
		if len(children) > 0 {
			result = append(result, navigateChildren(wv, name, children)...)
			continue
		}
		result = append(result, e.resolvePolymorphicField(wv, name)...)
	}
	return result
}

// navigateChildren wraps the children of a property access with paths
// extended from parent. A singleton child is not index-suffixed (the
// property itself may not be array-valued); fanning out to more than one
// child always indexes each, since GetCollection only returns several
// entries for an actually-repeating FHIR element.
func navigateChildren(parent types.WrappedValue, name string, children types.Collection) types.WrappedCollection {
	out := make(types.WrappedCollection, len(children))
	if len(children) == 1 {
		out[0] = parent.NavigateProperty(children[0], name, children[0].Type())
		return out
	}
	propPath := parent.Path.AppendProperty(name)
	for i, c := range children {
		out[i] = types.WrappedValue{
			Value:    c,
			FHIRType: c.Type(),
			Path:     propPath.AppendIndex(i),
			Index:    i,
			HasIndex: true,
		}
	}
	return out
}

// resolvePolymorphicField resolves value[x]-style polymorphic elements:
// accessing "value" searches for "valueQuantity", "valueString", etc.
func (e *Evaluator) resolvePolymorphicField(wv types.WrappedValue, name string) types.WrappedCollection {
	result := types.WrappedCollection{}
	for _, suffix := range polymorphicTypeSuffixes {
		obj, ok := wv.Value.(*types.ObjectValue)
		if !ok {
			return result
		}
		children := obj.GetCollection(name + suffix)
		if len(children) > 0 {
			return navigateChildren(wv, name+suffix, children)
		}
	}
	return result
}
