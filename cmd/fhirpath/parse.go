package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fhirpath-go/engine/pkg/fhirpath/ast"
	"github.com/fhirpath-go/engine/pkg/fhirpath/parser"
)

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse [expression]",
		Short: "Parse a FHIRPath expression and print its AST",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, errs := parser.Parse(args[0])
			if len(errs) > 0 {
				for _, e := range errs {
					fmt.Fprintln(cmd.ErrOrStderr(), e.Error())
				}
				return errExitCode(1)
			}
			printNode(cmd, tree, 0)
			return nil
		},
	}
}

func printNode(cmd *cobra.Command, n *ast.Node, depth int) {
	if n == nil {
		return
	}
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", indent, describeNode(n))
	for _, child := range n.Children() {
		printNode(cmd, child, depth+1)
	}
}

func describeNode(n *ast.Node) string {
	switch n.Kind {
	case ast.KindLiteral:
		return fmt.Sprintf("Literal(%s)", n.Text)
	case ast.KindIdentifier:
		return fmt.Sprintf("Identifier(%s)", n.Name)
	case ast.KindMember:
		return fmt.Sprintf("Member(.%s)", n.Name)
	case ast.KindFunctionCall:
		return fmt.Sprintf("FunctionCall(%s)", n.FuncName)
	case ast.KindBinary:
		return fmt.Sprintf("Binary(%s)", n.Op)
	case ast.KindUnary:
		return fmt.Sprintf("Unary(%s)", n.Op)
	case ast.KindIndex:
		return "Index"
	case ast.KindUnion:
		return "Union(|)"
	case ast.KindTypeSpecifier:
		return fmt.Sprintf("TypeSpecifier(%s)", n.TypeName)
	default:
		return n.Kind.String()
	}
}
