package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fhirpath-go/engine/pkg/fhirpath/parser"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [expression]",
		Short: "Validate that a FHIRPath expression parses without errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, errs := parser.Parse(args[0])
			if len(errs) > 0 {
				for _, e := range errs {
					fmt.Fprintln(cmd.ErrOrStderr(), e.Error())
				}
				return errExitCode(1)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	}
}
