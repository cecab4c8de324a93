package diag

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhirpath-go/engine/pkg/fhirpath/ast"
)

func TestRenderRaw(t *testing.T) {
	e := NewEngine("expr", "name.where(use = ")
	e.Add(New(SeverityError, CodeUnexpectedToken, ast.Span{Start: 17, End: 17}, "unexpected end of input"))

	out := e.Render(RenderRaw)
	assert.Equal(t, "FP0005: unexpected end of input @ 17:17\n", out)
}

func TestRenderJSON(t *testing.T) {
	e := NewEngine("expr", "name.whre()")
	e.Add(New(SeverityError, CodeInvalidFunction, ast.Span{Start: 5, End: 9}, "unknown function 'whre'").
		WithHelp("did you mean 'where'?"))
	e.Add(New(SeverityWarning, CodeOptimizationHint, ast.Span{Start: 0, End: 4}, "redundant navigation"))

	var parsed []struct {
		Severity string `json:"severity"`
		Code     string `json:"code"`
		Message  string `json:"message"`
		Span     [2]int `json:"span"`
		Help     string `json:"help"`
	}
	require.NoError(t, json.Unmarshal([]byte(e.Render(RenderJSON)), &parsed))

	// All diagnostics are present even when one is fatal, so tooling can
	// surface them together.
	require.Len(t, parsed, 2)
	assert.Equal(t, "error", parsed[0].Severity)
	assert.Equal(t, "FP1002", parsed[0].Code)
	assert.Equal(t, [2]int{5, 9}, parsed[0].Span)
	assert.Equal(t, "did you mean 'where'?", parsed[0].Help)
	assert.Equal(t, "warning", parsed[1].Severity)
}

func TestRenderPrettyCaret(t *testing.T) {
	src := "name.whre()"
	e := NewEngine("expr", src)
	e.Add(New(SeverityError, CodeInvalidFunction, ast.Span{Start: 5, End: 9}, "unknown function 'whre'").
		WithHelp("did you mean 'where'?"))

	out := e.Render(RenderPretty)
	assert.Contains(t, out, "error[FP1002]: unknown function 'whre'")
	assert.Contains(t, out, "--> expr:5:9")
	assert.Contains(t, out, src)
	assert.Contains(t, out, "^^^^")
	assert.Contains(t, out, "help: did you mean 'where'?")
}

func TestRenderPrettyConsolidatesMultiple(t *testing.T) {
	e := NewEngine("expr", "a..b..c")
	e.Add(New(SeverityError, CodeUnexpectedToken, ast.Span{Start: 2, End: 3}, "unexpected '.'"))
	e.Add(New(SeverityError, CodeUnexpectedToken, ast.Span{Start: 5, End: 6}, "unexpected '.'"))
	e.Add(New(SeverityError, CodeExpectedToken, ast.Span{Start: 6, End: 7}, "expected identifier"))

	out := e.Render(RenderPretty)
	// One combined trailer names every distinct code once.
	assert.Contains(t, out, "3 diagnostics: FP0005, FP0006")
	assert.Equal(t, 1, strings.Count(out, "3 diagnostics"))
}

func TestHasErrors(t *testing.T) {
	e := NewEngine("expr", "name")
	assert.False(t, e.HasErrors())

	e.Add(New(SeverityHint, CodeOptimizationHint, ast.Span{}, "hint"))
	assert.False(t, e.HasErrors())

	e.Add(New(SeverityError, CodeInvalidProperty, ast.Span{}, "bad"))
	assert.True(t, e.HasErrors())
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "error", SeverityError.String())
	assert.Equal(t, "warning", SeverityWarning.String())
	assert.Equal(t, "info", SeverityInfo.String())
	assert.Equal(t, "hint", SeverityHint.String())
}

func TestRelatedDiagnosticsSurviveJSON(t *testing.T) {
	related := New(SeverityInfo, CodeInvalidProperty, ast.Span{Start: 0, End: 4}, "first seen here")
	d := New(SeverityError, CodeInvalidProperty, ast.Span{Start: 10, End: 14}, "unknown property")
	d.Related = []Diagnostic{related}

	e := NewEngine("expr", "name.name")
	e.Add(d)

	out := e.Render(RenderJSON)
	assert.Contains(t, out, `"related"`)
	assert.Contains(t, out, "first seen here")
}
