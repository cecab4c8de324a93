package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fhirpath-go/engine/pkg/fhirpath/analyzer"
	"github.com/fhirpath-go/engine/pkg/fhirpath/model"
	"github.com/fhirpath-go/engine/pkg/fhirpath/parser"
)

func newAnalyzeCmd() *cobra.Command {
	var validateOnly bool
	var noInference bool
	var rootType string

	cmd := &cobra.Command{
		Use:   "analyze [expression]",
		Short: "Run the static analyzer over a FHIRPath expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, errs := parser.Parse(args[0])
			if len(errs) > 0 {
				for _, e := range errs {
					fmt.Fprintln(cmd.ErrOrStderr(), e.Error())
				}
				return errExitCode(1)
			}

			cfg := analyzer.DefaultConfig()
			if noInference {
				cfg.Disabled[analyzer.PhaseTypes] = true
			}
			if validateOnly {
				cfg.Disabled[analyzer.PhaseHints] = true
			}

			res := analyzer.New(model.EmptyModelProvider{}, cfg).Analyze(tree, rootType)
			if len(res.Findings) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no findings")
				return nil
			}
			for _, f := range res.Findings {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", f.Diagnostic.Severity, f.Diagnostic.Code, f.Diagnostic.Message)
			}
			return errExitCode(1)
		},
	}

	cmd.Flags().BoolVar(&validateOnly, "validate-only", false, "skip optimization-hint findings")
	cmd.Flags().BoolVar(&noInference, "no-inference", false, "skip type-inference-dependent checks")
	cmd.Flags().StringVar(&rootType, "root-type", "", "root FHIR resource type for property resolution")

	return cmd
}
