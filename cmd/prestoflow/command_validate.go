package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sourceplane/prestoflow/internal/loader"
	"github.com/sourceplane/prestoflow/internal/model"
	"github.com/sourceplane/prestoflow/internal/render"
	"github.com/sourceplane/prestoflow/internal/validate"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a pipeline document against the schema and the unit catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateDocument(cmd.Context())
	},
}

func registerValidateCommand(root *cobra.Command) {
	root.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&pipelineFile, "file", "f", "pipeline.yaml", "Pipeline document path")
}

func validateDocument(ctx context.Context) error {
	fmt.Println("□ Loading pipeline document...")
	doc, err := loader.LoadDocument(pipelineFile)
	if err != nil {
		return err
	}
	fmt.Println("✓ Document matches schema")

	fmt.Println("□ Checking against unit catalog...")
	report, err := checkDocument(ctx, doc)
	if err != nil {
		return err
	}

	render.Report(os.Stdout, report)
	if !report.OK {
		return fmt.Errorf("%d blocking problem(s)", len(report.Blocking()))
	}
	return nil
}

// checkDocument builds the document's model in a fresh session and
// validates it as if its inputs had been uploaded.
func checkDocument(ctx context.Context, doc *model.Document) (validate.Report, error) {
	sess, _, err := startSession(ctx, doc.Spec.Group)
	if err != nil {
		return validate.Report{}, err
	}
	if err := useDocument(sess, doc); err != nil {
		return validate.Report{}, err
	}

	st, err := sess.Refresh(ctx)
	if err != nil {
		return validate.Report{}, err
	}
	st = loader.AssumeInputs(st, doc.Spec.Inputs)

	engine := validate.New(sess.Registry(), sess.Group())
	if doc.Kind == model.KindGraph {
		return engine.ValidateGraph(sess.Graph(), st), nil
	}
	return engine.ValidateLinear(sess.Pipeline().List(), st), nil
}
