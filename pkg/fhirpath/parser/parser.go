// Package parser implements a hand-written recursive-descent parser with
// precedence climbing for FHIRPath expressions, producing the AST defined in
// package ast. Precedence and associativity follow the published FHIRPath
// grammar.
package parser

import (
	"fmt"
	"strings"

	"github.com/fhirpath-go/engine/pkg/fhirpath/ast"
	"github.com/fhirpath-go/engine/pkg/fhirpath/lexer"
)

// Error is a parse error with a span, resynchronizable after ',', ')', ']'.
type Error struct {
	Message string
	Span    ast.Span
}

func (e *Error) Error() string {
	return fmt.Sprintf("parse error at %s: %s", e.Span, e.Message)
}

// Parser consumes a token stream and builds an AST.
type Parser struct {
	tokens []lexer.Token
	pos    int
	nextID ast.NodeId
	errs   []*Error
	depth  int
	// MaxDepth bounds recursion (default 128).
	MaxDepth int
}

// Parse tokenizes and parses src as a complete FHIRPath expression. It
// returns the root AST node and any accumulated errors (resynchronizing
// after ',', ')', ']' so multiple errors can surface from one pass).
func Parse(src string) (*ast.Node, []*Error) {
	toks, lexErr := lexer.Tokenize(src)
	if lexErr != nil {
		le, _ := lexErr.(*lexer.Error)
		offset := 0
		if le != nil {
			offset = le.Offset
		}
		return nil, []*Error{{Message: lexErr.Error(), Span: ast.Span{Start: offset, End: offset}}}
	}
	p := &Parser{tokens: toks, MaxDepth: 128}
	node := p.parseExpression()
	if p.cur().Kind != lexer.TokEOF {
		p.errorf("unexpected trailing token %q", p.cur().Raw)
	}
	return node, p.errs
}

func (p *Parser) cur() lexer.Token {
	if p.pos >= len(p.tokens) {
		return lexer.Token{Kind: lexer.TokEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) peekAt(n int) lexer.Token {
	idx := p.pos + n
	if idx >= len(p.tokens) {
		return lexer.Token{Kind: lexer.TokEOF}
	}
	return p.tokens[idx]
}

func (p *Parser) advance() lexer.Token {
	t := p.cur()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return t
}

func (p *Parser) id() ast.NodeId {
	p.nextID++
	return p.nextID
}

func (p *Parser) errorf(format string, args ...interface{}) {
	t := p.cur()
	p.errs = append(p.errs, &Error{Message: fmt.Sprintf(format, args...), Span: ast.Span{Start: t.Start, End: t.End}})
}

// isOp reports whether the current token is an operator token with the
// given text (operators are lexed generically; the parser assigns meaning).
func (p *Parser) isOp(text string) bool {
	t := p.cur()
	return t.Kind == lexer.TokOperator && t.Text == text
}

func (p *Parser) isKeyword(text string) bool {
	t := p.cur()
	return t.Kind == lexer.TokKeyword && t.Text == text
}

func (p *Parser) enter() bool {
	p.depth++
	if p.depth > p.MaxDepth {
		p.errorf("maximum expression nesting depth exceeded")
		return false
	}
	return true
}

func (p *Parser) leave() { p.depth-- }

// expression := impliesExpr
func (p *Parser) parseExpression() *ast.Node {
	if !p.enter() {
		defer p.leave()
		return nil
	}
	defer p.leave()
	return p.parseImplies()
}

// impliesExpr := orExpr ("implies" impliesExpr)?   -- right-associative
func (p *Parser) parseImplies() *ast.Node {
	left := p.parseOr()
	if p.isKeyword("implies") {
		start := left
		p.advance()
		right := p.parseImplies() // right-assoc: recurse, not loop
		return ast.NewBinary(p.id(), spanOf(start, right), "implies", start, right)
	}
	return left
}

// orExpr := andExpr (("or"|"xor") andExpr)*  -- left-assoc
func (p *Parser) parseOr() *ast.Node {
	left := p.parseAnd()
	for p.isKeyword("or") || p.isKeyword("xor") {
		op := p.advance().Text
		right := p.parseAnd()
		left = ast.NewBinary(p.id(), spanOf(left, right), op, left, right)
	}
	return left
}

func (p *Parser) parseAnd() *ast.Node {
	left := p.parseMembership()
	for p.isKeyword("and") {
		p.advance()
		right := p.parseMembership()
		left = ast.NewBinary(p.id(), spanOf(left, right), "and", left, right)
	}
	return left
}

func (p *Parser) parseMembership() *ast.Node {
	left := p.parseType()
	for p.isKeyword("in") || p.isKeyword("contains") {
		op := p.advance().Text
		right := p.parseType()
		left = ast.NewBinary(p.id(), spanOf(left, right), op, left, right)
	}
	return left
}

// typeExpr := equalityExpr (("is"|"as") typeSpecifier)*
func (p *Parser) parseType() *ast.Node {
	left := p.parseEquality()
	for p.isKeyword("is") || p.isKeyword("as") {
		op := p.advance().Text
		ts := p.parseTypeSpecifier()
		left = ast.NewBinary(p.id(), spanOf(left, ts), op, left, ts)
	}
	return left
}

func (p *Parser) parseTypeSpecifier() *ast.Node {
	start := p.cur()
	if p.cur().Kind != lexer.TokIdentifier {
		p.errorf("expected type name")
		return ast.NewTypeSpecifier(p.id(), ast.Span{Start: start.Start, End: start.End}, "")
	}
	var parts []string
	parts = append(parts, p.advance().Text)
	for p.isOp(".") {
		p.advance()
		if p.cur().Kind != lexer.TokIdentifier {
			p.errorf("expected identifier after '.' in type specifier")
			break
		}
		parts = append(parts, p.advance().Text)
	}
	name := strings.Join(parts, ".")
	end := p.tokens[max(p.pos-1, 0)].End
	return ast.NewTypeSpecifier(p.id(), ast.Span{Start: start.Start, End: end}, name)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (p *Parser) parseEquality() *ast.Node {
	left := p.parseRelational()
	for p.isOp("=") || p.isOp("!=") || p.isOp("~") || p.isOp("!~") {
		op := p.advance().Text
		right := p.parseRelational()
		left = ast.NewBinary(p.id(), spanOf(left, right), op, left, right)
	}
	return left
}

func (p *Parser) parseRelational() *ast.Node {
	left := p.parseUnion()
	for p.isOp("<") || p.isOp("<=") || p.isOp(">") || p.isOp(">=") {
		op := p.advance().Text
		right := p.parseUnion()
		left = ast.NewBinary(p.id(), spanOf(left, right), op, left, right)
	}
	return left
}

func (p *Parser) parseUnion() *ast.Node {
	left := p.parseAdditive()
	for p.isOp("|") {
		p.advance()
		right := p.parseAdditive()
		left = ast.NewUnion(p.id(), spanOf(left, right), left, right)
	}
	return left
}

func (p *Parser) parseAdditive() *ast.Node {
	left := p.parseMultiplicative()
	for p.isOp("+") || p.isOp("-") || p.isOp("&") {
		op := p.advance().Text
		right := p.parseMultiplicative()
		left = ast.NewBinary(p.id(), spanOf(left, right), op, left, right)
	}
	return left
}

func (p *Parser) parseMultiplicative() *ast.Node {
	left := p.parseUnary()
	for p.isOp("*") || p.isOp("/") || p.isKeyword("div") || p.isKeyword("mod") {
		op := p.advance().Text
		right := p.parseUnary()
		left = ast.NewBinary(p.id(), spanOf(left, right), op, left, right)
	}
	return left
}

// unary := ("+"|"-")? postfix
func (p *Parser) parseUnary() *ast.Node {
	if p.isOp("+") || p.isOp("-") {
		start := p.cur()
		op := p.advance().Text
		operand := p.parseUnary()
		return ast.NewUnary(p.id(), ast.Span{Start: start.Start, End: operand.Span.End}, op, operand)
	}
	return p.parsePostfix()
}

// postfix := term ( "." invocation | "[" expression "]" )*
func (p *Parser) parsePostfix() *ast.Node {
	node := p.parseTerm()
	for {
		switch {
		case p.isOp("."):
			p.advance()
			node = p.parseInvocationSuffix(node)
		case p.isOp("["):
			start := p.advance()
			idx := p.parseExpression()
			end := p.cur()
			if p.isOp("]") {
				end = p.advance()
			} else {
				p.errorf("expected ']'")
			}
			node = ast.NewIndex(p.id(), ast.Span{Start: node.Span.Start, End: end.End}, node, idx)
			_ = start
		default:
			return node
		}
	}
}

// parseInvocationSuffix parses the invocation following '.', attaching base
// as the invocation's receiver: a plain identifier (member access) or a
// function call `name(args...)`.
func (p *Parser) parseInvocationSuffix(base *ast.Node) *ast.Node {
	tok := p.cur()
	name := ""
	switch tok.Kind {
	case lexer.TokIdentifier:
		name = p.advance().Text
	case lexer.TokDelimitedIdentifier:
		name = p.advance().Text
	case lexer.TokKeyword:
		// is, as, in and contains also name functions (`x.is(T)`,
		// `s.contains('a')`) and are accepted here; any other bare keyword
		// after '.' is a parse error since the grammar reserves these words.
		switch tok.Text {
		case "is", "as", "in", "contains":
		default:
			p.errorf("unexpected keyword %q used as member name", tok.Text)
		}
		name = p.advance().Text
	default:
		p.errorf("expected identifier after '.'")
		return base
	}

	if p.isOp("(") {
		return p.parseFunctionCallArgs(base, name, tok.Start)
	}
	return ast.NewMember(p.id(), ast.Span{Start: base.Span.Start, End: p.tokens[max(p.pos-1, 0)].End}, base, name)
}

func (p *Parser) parseFunctionCallArgs(base *ast.Node, name string, nameStart int) *ast.Node {
	p.advance() // '('
	var args []*ast.Node
	if !p.isOp(")") {
		args = append(args, p.parseExpression())
		for p.isOp(",") {
			p.advance()
			args = append(args, p.parseExpression())
		}
	}
	end := p.cur()
	if p.isOp(")") {
		end = p.advance()
	} else {
		p.errorf("expected ')' to close argument list")
		p.resyncAfterCall()
	}
	startSpan := nameStart
	if base != nil {
		startSpan = base.Span.Start
	}
	return ast.NewFunctionCall(p.id(), ast.Span{Start: startSpan, End: end.End}, base, name, args)
}

// resyncAfterCall skips tokens until ')', ']', ',' or EOF, so a missing
// delimiter does not cascade into unrelated follow-on errors.
func (p *Parser) resyncAfterCall() {
	for {
		t := p.cur()
		if t.Kind == lexer.TokEOF {
			return
		}
		if t.Kind == lexer.TokOperator && (t.Text == ")" || t.Text == "]" || t.Text == ",") {
			return
		}
		p.advance()
	}
}

// term := literal | '(' expression ')' | '{' '}' | invocation | specialVar | '%' external
func (p *Parser) parseTerm() *ast.Node {
	tok := p.cur()
	switch {
	case tok.Kind == lexer.TokInteger:
		p.advance()
		return ast.NewLiteral(p.id(), span(tok), ast.LitNumber, tok.Text)
	case tok.Kind == lexer.TokDecimal:
		p.advance()
		return ast.NewLiteral(p.id(), span(tok), ast.LitNumber, tok.Text)
	case tok.Kind == lexer.TokQuantity:
		p.advance()
		return ast.NewLiteral(p.id(), span(tok), ast.LitQuantity, tok.Raw)
	case tok.Kind == lexer.TokString:
		p.advance()
		return ast.NewLiteral(p.id(), span(tok), ast.LitString, tok.Text)
	case tok.Kind == lexer.TokDate:
		p.advance()
		return ast.NewLiteral(p.id(), span(tok), ast.LitDate, tok.Text)
	case tok.Kind == lexer.TokDateTime:
		p.advance()
		return ast.NewLiteral(p.id(), span(tok), ast.LitDateTime, tok.Text)
	case tok.Kind == lexer.TokTime:
		p.advance()
		return ast.NewLiteral(p.id(), span(tok), ast.LitTime, tok.Text)
	case tok.Kind == lexer.TokKeyword && (tok.Text == "true" || tok.Text == "false"):
		p.advance()
		return ast.NewLiteral(p.id(), span(tok), ast.LitBoolean, tok.Text)
	case tok.Kind == lexer.TokOperator && tok.Text == "(":
		p.advance()
		inner := p.parseExpression()
		var elems []*ast.Node
		for p.isOp(",") {
			p.advance()
			elems = append(elems, p.parseExpression())
		}
		end := p.cur()
		if p.isOp(")") {
			end = p.advance()
		} else {
			p.errorf("expected ')'")
		}
		if len(elems) > 0 {
			elems = append([]*ast.Node{inner}, elems...)
			return ast.NewList(p.id(), ast.Span{Start: tok.Start, End: end.End}, elems)
		}
		return ast.NewParenthesized(p.id(), ast.Span{Start: tok.Start, End: end.End}, inner)
	case tok.Kind == lexer.TokOperator && tok.Text == "{":
		start := p.advance()
		end := p.cur()
		if p.isOp("}") {
			end = p.advance()
		} else {
			p.errorf("expected '}' to close empty collection literal")
		}
		return ast.NewLiteral(p.id(), ast.Span{Start: start.Start, End: end.End}, ast.LitNull, "{}")
	case tok.Kind == lexer.TokDollar:
		return p.parseSpecialVar(tok)
	case tok.Kind == lexer.TokPercent:
		return p.parseExternalConstant(tok)
	case tok.Kind == lexer.TokIdentifier || tok.Kind == lexer.TokDelimitedIdentifier:
		p.advance()
		if p.isOp("(") {
			return p.parseFunctionCallArgs(nil, tok.Text, tok.Start)
		}
		return ast.NewIdentifier(p.id(), span(tok), tok.Text)
	default:
		p.errorf("unexpected token %q", tok.Raw)
		p.advance()
		return ast.NewLiteral(p.id(), span(tok), ast.LitNull, "")
	}
}

func (p *Parser) parseSpecialVar(dollar lexer.Token) *ast.Node {
	p.advance() // '$'
	id := p.cur()
	if id.Kind != lexer.TokIdentifier {
		p.errorf("expected 'this', 'index', or 'total' after '$'")
		return ast.NewLiteral(p.id(), span(dollar), ast.LitNull, "")
	}
	p.advance()
	switch id.Text {
	case "this":
		return ast.NewSpecialVar(p.id(), ast.Span{Start: dollar.Start, End: id.End}, ast.KindThis, "")
	case "index":
		return ast.NewSpecialVar(p.id(), ast.Span{Start: dollar.Start, End: id.End}, ast.KindIndexVar, "")
	case "total":
		return ast.NewSpecialVar(p.id(), ast.Span{Start: dollar.Start, End: id.End}, ast.KindTotal, "")
	default:
		p.errorf("unknown special variable $%s", id.Text)
		return ast.NewLiteral(p.id(), ast.Span{Start: dollar.Start, End: id.End}, ast.LitNull, "")
	}
}

func (p *Parser) parseExternalConstant(percent lexer.Token) *ast.Node {
	p.advance() // '%'
	tok := p.cur()
	switch tok.Kind {
	case lexer.TokIdentifier, lexer.TokDelimitedIdentifier:
		p.advance()
		return ast.NewSpecialVar(p.id(), ast.Span{Start: percent.Start, End: tok.End}, ast.KindExternal, tok.Text)
	case lexer.TokString:
		p.advance()
		return ast.NewSpecialVar(p.id(), ast.Span{Start: percent.Start, End: tok.End}, ast.KindExternal, tok.Text)
	default:
		p.errorf("expected identifier or string after '%%'")
		return ast.NewLiteral(p.id(), span(percent), ast.LitNull, "")
	}
}

func span(t lexer.Token) ast.Span {
	return ast.Span{Start: t.Start, End: t.End}
}

func spanOf(left, right *ast.Node) ast.Span {
	return left.Span.Union(right.Span)
}
