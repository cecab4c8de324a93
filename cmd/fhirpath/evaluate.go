package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/fhirpath-go/engine/pkg/fhirpath"
	"github.com/fhirpath-go/engine/pkg/fhirpath/types"
)

func newEvaluateCmd() *cobra.Command {
	var inputPath string
	var inlineJSON string
	var variables []string
	var pretty bool
	var fhirVersion string

	cmd := &cobra.Command{
		Use:   "evaluate [expression]",
		Short: "Evaluate a FHIRPath expression against a FHIR resource",
		Long: `Evaluate a FHIRPath expression against a FHIR resource.

Examples:
  fhirpath evaluate "Patient.name.given" --input patient.json
  fhirpath evaluate "Observation.value.ofType(Quantity).value" --input observation.json
  fhirpath evaluate "name.where(use = 'official')" --input - < patient.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resource, err := readResource(cmd, inputPath, inlineJSON)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return errExitCode(2)
			}

			log.V(1).Infof("compiling expression: %s", args[0])
			compiled, err := fhirpath.Compile(args[0])
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "invalid FHIRPath expression: %v\n", err)
				return errExitCode(1)
			}

			opts := []fhirpath.EvalOption{}
			for _, v := range variables {
				name, value, ok := strings.Cut(v, "=")
				if !ok {
					fmt.Fprintf(cmd.ErrOrStderr(), "invalid --variable %q, expected name=value\n", v)
					return errExitCode(2)
				}
				opts = append(opts, fhirpath.WithVariable(name, types.Collection{types.NewString(value)}))
			}

			result, err := compiled.EvaluateWithOptions(resource, opts...)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "evaluation error: %v\n", err)
				return errExitCode(1)
			}
			log.V(1).Infof("evaluation produced %d result(s)", len(result))

			return printResult(cmd, result, pretty)
		},
	}

	cmd.Flags().StringVar(&inputPath, "input", "", "path to the FHIR resource JSON file, or - for stdin")
	cmd.Flags().StringVar(&inlineJSON, "json", "", "inline FHIR resource JSON")
	cmd.Flags().StringSliceVar(&variables, "variable", nil, "external variable in name=value form, repeatable")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "pretty-print JSON output")
	cmd.Flags().StringVar(&fhirVersion, "fhir-version", "r4", "FHIR version (r4, r4b, r5)")

	return cmd
}

func readResource(cmd *cobra.Command, inputPath, inlineJSON string) ([]byte, error) {
	if inlineJSON != "" {
		return []byte(inlineJSON), nil
	}
	if inputPath == "" {
		return nil, fmt.Errorf("one of --input or --json is required")
	}
	if inputPath == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(inputPath)
}

func printResult(cmd *cobra.Command, result types.Collection, pretty bool) error {
	if result.Empty() {
		fmt.Fprintln(cmd.OutOrStdout(), "[]")
		return nil
	}

	values := make([]string, len(result))
	for i, v := range result {
		values[i] = v.String()
	}

	var out []byte
	var err error
	if pretty {
		out, err = json.MarshalIndent(values, "", "  ")
	} else {
		out, err = json.Marshal(values)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
