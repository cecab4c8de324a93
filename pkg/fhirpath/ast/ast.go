// Package ast defines the FHIRPath abstract syntax tree.
//
// Every node carries a byte-range Span and a NodeId; after static analysis a
// side-table maps NodeId to an inferred TypeInfo. The node-kind set mirrors
// the grammar productions named in the FHIRPath N1 specification: literal
// terms, invocations (member/function/$this/$index/$total), indexers, unary
// and binary operators (with the implies/or/and/membership/type/equality/
// relational/union/additive/multiplicative precedence ladder), and the
// implicit Lambda used by lambda-accepting function arguments.
package ast

import "fmt"

// Span is a byte range [Start, End) in the source expression.
type Span struct {
	Start int
	End   int
}

// Contains reports whether s fully contains other.
func (s Span) Contains(other Span) bool {
	return s.Start <= other.Start && other.End <= s.End
}

// Union returns the smallest span containing both s and other.
func (s Span) Union(other Span) Span {
	start, end := s.Start, s.End
	if other.Start < start {
		start = other.Start
	}
	if other.End > end {
		end = other.End
	}
	return Span{Start: start, End: end}
}

func (s Span) String() string {
	return fmt.Sprintf("%d:%d", s.Start, s.End)
}

// NodeId uniquely identifies a node within one parsed tree.
type NodeId int

// Kind enumerates AST node kinds.
type Kind int

const (
	KindInvalid Kind = iota
	KindLiteral
	KindIdentifier
	KindThis        // $this
	KindIndexVar    // $index
	KindTotal       // $total
	KindExternal    // %name or %"quoted"
	KindMember      // expr.name  (name may be the root identifier of a path)
	KindIndex       // expr[index]
	KindFunctionCall
	KindUnary
	KindBinary
	KindUnion // expr | expr
	KindTypeSpecifier
	KindParenthesized
	KindList // (expr, expr, ...) collection construction
)

func (k Kind) String() string {
	switch k {
	case KindLiteral:
		return "Literal"
	case KindIdentifier:
		return "Identifier"
	case KindThis:
		return "This"
	case KindIndexVar:
		return "IndexVar"
	case KindTotal:
		return "Total"
	case KindExternal:
		return "External"
	case KindMember:
		return "Member"
	case KindIndex:
		return "Index"
	case KindFunctionCall:
		return "FunctionCall"
	case KindUnary:
		return "Unary"
	case KindBinary:
		return "Binary"
	case KindUnion:
		return "Union"
	case KindTypeSpecifier:
		return "TypeSpecifier"
	case KindParenthesized:
		return "Parenthesized"
	case KindList:
		return "List"
	default:
		return "Invalid"
	}
}

// LiteralKind distinguishes literal sub-types.
type LiteralKind int

const (
	LitNull LiteralKind = iota
	LitBoolean
	LitString
	LitNumber
	LitDate
	LitDateTime
	LitTime
	LitQuantity
)

// Node is a single AST node. Rather than one struct per kind, this is a
// tagged union: Kind selects which fields are meaningful.
type Node struct {
	Id   NodeId
	Kind Kind
	Span Span

	// Literal
	LitKind LiteralKind
	Text    string // raw literal text as lexed (used by literal constructors)

	// Identifier / Member / TypeSpecifier
	Name string

	// External (%name)
	ExternalName string

	// Member / Index / FunctionCall / Unary / Binary / Union / Parenthesized
	Base *Node

	// Index
	IndexExpr *Node

	// FunctionCall
	FuncName string
	Args     []*Node

	// Unary / Binary
	Op string // operator text, e.g. "-", "+", "*", "and", "is"

	Left  *Node
	Right *Node

	// TypeSpecifier text for `is`/`as`/`ofType`
	TypeName string
}

// NewLiteral creates a literal node.
func NewLiteral(id NodeId, span Span, kind LiteralKind, text string) *Node {
	return &Node{Id: id, Kind: KindLiteral, Span: span, LitKind: kind, Text: text}
}

// NewIdentifier creates an identifier (bare member-access-from-root) node.
func NewIdentifier(id NodeId, span Span, name string) *Node {
	return &Node{Id: id, Kind: KindIdentifier, Span: span, Name: name}
}

// NewMember creates expr.name.
func NewMember(id NodeId, span Span, base *Node, name string) *Node {
	return &Node{Id: id, Kind: KindMember, Span: span, Base: base, Name: name}
}

// NewIndex creates expr[index].
func NewIndex(id NodeId, span Span, base, index *Node) *Node {
	return &Node{Id: id, Kind: KindIndex, Span: span, Base: base, IndexExpr: index}
}

// NewFunctionCall creates name(args...), optionally invoked on a base (base.name(args...)).
func NewFunctionCall(id NodeId, span Span, base *Node, name string, args []*Node) *Node {
	return &Node{Id: id, Kind: KindFunctionCall, Span: span, Base: base, FuncName: name, Args: args}
}

// NewUnary creates a prefix unary expression.
func NewUnary(id NodeId, span Span, op string, operand *Node) *Node {
	return &Node{Id: id, Kind: KindUnary, Span: span, Op: op, Base: operand}
}

// NewBinary creates a binary expression.
func NewBinary(id NodeId, span Span, op string, left, right *Node) *Node {
	return &Node{Id: id, Kind: KindBinary, Span: span, Op: op, Left: left, Right: right}
}

// NewUnion creates expr | expr.
func NewUnion(id NodeId, span Span, left, right *Node) *Node {
	return &Node{Id: id, Kind: KindUnion, Span: span, Left: left, Right: right}
}

// NewTypeSpecifier creates a bare type name used as an `is`/`as`/`ofType` argument.
func NewTypeSpecifier(id NodeId, span Span, typeName string) *Node {
	return &Node{Id: id, Kind: KindTypeSpecifier, Span: span, TypeName: typeName}
}

// NewParenthesized creates (expr); kept as its own node so spans are exact,
// even though it is semantically transparent.
func NewParenthesized(id NodeId, span Span, inner *Node) *Node {
	return &Node{Id: id, Kind: KindParenthesized, Span: span, Base: inner}
}

// NewList creates (expr, expr, ...): the comma-separated collection
// constructor. Unlike the union operator, a list keeps duplicates.
func NewList(id NodeId, span Span, elems []*Node) *Node {
	return &Node{Id: id, Kind: KindList, Span: span, Args: elems}
}

// NewSpecialVar creates $this / $index / $total / %name nodes.
func NewSpecialVar(id NodeId, span Span, kind Kind, externalName string) *Node {
	return &Node{Id: id, Kind: kind, Span: span, ExternalName: externalName}
}

// Children returns the direct child nodes, for generic tree walks
// (span-monotonicity checks, pretty-printers).
func (n *Node) Children() []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	switch n.Kind {
	case KindMember:
		if n.Base != nil {
			out = append(out, n.Base)
		}
	case KindIndex:
		if n.Base != nil {
			out = append(out, n.Base)
		}
		if n.IndexExpr != nil {
			out = append(out, n.IndexExpr)
		}
	case KindFunctionCall:
		if n.Base != nil {
			out = append(out, n.Base)
		}
		out = append(out, n.Args...)
	case KindList:
		out = append(out, n.Args...)
	case KindUnary:
		if n.Base != nil {
			out = append(out, n.Base)
		}
	case KindBinary:
		if n.Left != nil {
			out = append(out, n.Left)
		}
		if n.Right != nil {
			out = append(out, n.Right)
		}
	case KindUnion:
		if n.Left != nil {
			out = append(out, n.Left)
		}
		if n.Right != nil {
			out = append(out, n.Right)
		}
	case KindParenthesized:
		if n.Base != nil {
			out = append(out, n.Base)
		}
	}
	return out
}

// LambdaCapableFunctions is the closed set of function names whose arguments
// are passed to the evaluator as unevaluated AST plus a scope, so that
// $this, $index, and $total bind per iteration. The parser does not need
// this (it parses all function arguments as plain expressions uniformly);
// the evaluator and analyzer consult it to decide eager vs. thunked
// argument handling.
var LambdaCapableFunctions = map[string]bool{
	"where":     true,
	"exists":    true,
	"select":    true,
	"all":       true,
	"any":       true,
	"repeat":    true,
	"aggregate": true,
	"sort":      true,
	"iif":       true,
}
