// Package diag implements the FHIRPath diagnostic engine: severities, stable
// error codes, spans, and three render modes (pretty, raw, json).
//
// Shape mirrors eval.ErrorType/EvalError's category+message+position split
// (see pkg/fhirpath/eval/errors.go), generalized to carry a Span and a
// Severity instead of just a position, since analyzer findings are not
// necessarily fatal.
package diag

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fhirpath-go/engine/pkg/fhirpath/ast"
)

// Severity ranks a diagnostic's importance.
type Severity int

const (
	SeverityHint Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return "hint"
	}
}

// Code is a stable FP0001-FP9999 identifier. Codes are never reused.
type Code string

// Stable diagnostic codes. New codes are always appended; existing codes
// are never repurposed for a different meaning.
const (
	CodeUnclosedString      Code = "FP0001"
	CodeUnclosedIdent       Code = "FP0002"
	CodeInvalidNumber       Code = "FP0003"
	CodeInvalidDateTime     Code = "FP0004"
	CodeUnexpectedToken     Code = "FP0005"
	CodeExpectedToken       Code = "FP0006"
	CodeMaxDepthExceeded    Code = "FP0007"
	CodeInvalidProperty     Code = "FP1001"
	CodeInvalidFunction     Code = "FP1002"
	CodeInvalidArgCount     Code = "FP1003"
	CodeInvalidArgType      Code = "FP1004"
	CodeInvalidResourceType Code = "FP1005"
	CodeDeprecatedField     Code = "FP1006"
	CodeLambdaVarOutOfScope Code = "FP1007"
	CodeOptimizationHint    Code = "FP2001"
)

// Diagnostic is one finding: a severity, stable code, message, span, and
// optional help/note/related diagnostics (for consolidation).
type Diagnostic struct {
	Severity Severity
	Code     Code
	Message  string
	Span     ast.Span
	Help     string
	Note     string
	Related  []Diagnostic
}

// New creates a Diagnostic.
func New(sev Severity, code Code, span ast.Span, message string) Diagnostic {
	return Diagnostic{Severity: sev, Code: code, Message: message, Span: span}
}

// WithHelp attaches a one-line help string.
func (d Diagnostic) WithHelp(help string) Diagnostic {
	d.Help = help
	return d
}

// WithNote attaches a note.
func (d Diagnostic) WithNote(note string) Diagnostic {
	d.Note = note
	return d
}

// RenderMode selects the diagnostic output format.
type RenderMode int

const (
	RenderPretty RenderMode = iota
	RenderRaw
	RenderJSON
)

// Engine owns a named source and renders accumulated diagnostics against it.
type Engine struct {
	SourceName string
	Source     string
	Diags      []Diagnostic
}

// NewEngine creates a diagnostic engine for one named source.
func NewEngine(name, source string) *Engine {
	return &Engine{SourceName: name, Source: source}
}

// Add appends a diagnostic.
func (e *Engine) Add(d Diagnostic) {
	e.Diags = append(e.Diags, d)
}

// HasErrors reports whether any accumulated diagnostic is SeverityError.
func (e *Engine) HasErrors() bool {
	for _, d := range e.Diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Render formats all accumulated diagnostics in the given mode. When more
// than one diagnostic is present, pretty mode consolidates them into a
// single report with one combined help line referencing every distinct
// code, rather than a sequence of independent error blocks.
func (e *Engine) Render(mode RenderMode) string {
	switch mode {
	case RenderJSON:
		return e.renderJSON()
	case RenderRaw:
		return e.renderRaw()
	default:
		return e.renderPretty()
	}
}

func (e *Engine) renderRaw() string {
	var sb strings.Builder
	for _, d := range e.Diags {
		fmt.Fprintf(&sb, "%s: %s @ %s\n", d.Code, d.Message, d.Span)
	}
	return sb.String()
}

type jsonDiagnostic struct {
	Severity string           `json:"severity"`
	Code     string           `json:"code"`
	Message  string           `json:"message"`
	Span     [2]int           `json:"span"`
	Help     string           `json:"help,omitempty"`
	Note     string           `json:"note,omitempty"`
	Related  []jsonDiagnostic `json:"related,omitempty"`
}

func toJSONDiag(d Diagnostic) jsonDiagnostic {
	jd := jsonDiagnostic{
		Severity: d.Severity.String(),
		Code:     string(d.Code),
		Message:  d.Message,
		Span:     [2]int{d.Span.Start, d.Span.End},
		Help:     d.Help,
		Note:     d.Note,
	}
	for _, r := range d.Related {
		jd.Related = append(jd.Related, toJSONDiag(r))
	}
	return jd
}

func (e *Engine) renderJSON() string {
	out := make([]jsonDiagnostic, 0, len(e.Diags))
	for _, d := range e.Diags {
		out = append(out, toJSONDiag(d))
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(b)
}

func (e *Engine) renderPretty() string {
	if len(e.Diags) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, d := range e.Diags {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s[%s]: %s\n", d.Severity, d.Code, d.Message)
		fmt.Fprintf(&sb, "  --> %s:%s\n", e.SourceName, d.Span)
		line, caretStart, caretLen := e.caretLine(d.Span)
		if line != "" {
			fmt.Fprintf(&sb, "   | %s\n", line)
			fmt.Fprintf(&sb, "   | %s%s\n", strings.Repeat(" ", caretStart), strings.Repeat("^", maxInt(caretLen, 1)))
		}
		if d.Help != "" {
			fmt.Fprintf(&sb, "   = help: %s\n", d.Help)
		}
		if d.Note != "" {
			fmt.Fprintf(&sb, "   = note: %s\n", d.Note)
		}
	}
	if len(e.Diags) > 1 {
		codes := make([]string, 0, len(e.Diags))
		seen := map[string]bool{}
		for _, d := range e.Diags {
			if !seen[string(d.Code)] {
				seen[string(d.Code)] = true
				codes = append(codes, string(d.Code))
			}
		}
		sort.Strings(codes)
		fmt.Fprintf(&sb, "\n%d diagnostics: %s\n", len(e.Diags), strings.Join(codes, ", "))
	}
	return sb.String()
}

func (e *Engine) caretLine(span ast.Span) (string, int, int) {
	if span.Start < 0 || span.Start > len(e.Source) {
		return "", 0, 0
	}
	end := span.End
	if end > len(e.Source) {
		end = len(e.Source)
	}
	return e.Source, span.Start, maxInt(end-span.Start, 1)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
