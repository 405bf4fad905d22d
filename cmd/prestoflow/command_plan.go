package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sourceplane/prestoflow/internal/loader"
	"github.com/sourceplane/prestoflow/internal/model"
	"github.com/sourceplane/prestoflow/internal/render"
	"github.com/spf13/cobra"
)

var (
	planView   string
	planFormat string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Build a pipeline document's model and show its execution plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showPlan(cmd.Context())
	},
}

func registerPlanCommand(root *cobra.Command) {
	root.AddCommand(planCmd)

	planCmd.Flags().StringVarP(&pipelineFile, "file", "f", "pipeline.yaml", "Pipeline document path")
	planCmd.Flags().StringVarP(&planView, "view", "v", "order", "View (order/graph)")
	planCmd.Flags().StringVarP(&planFormat, "output", "o", "", "Print the graph as json or yaml instead of text")
}

func showPlan(ctx context.Context) error {
	doc, err := loader.LoadDocument(pipelineFile)
	if err != nil {
		return err
	}
	sess, _, err := startSession(ctx, doc.Spec.Group)
	if err != nil {
		return err
	}
	if err := useDocument(sess, doc); err != nil {
		return err
	}

	if doc.Kind == model.KindPipeline {
		for i, step := range sess.Pipeline().List() {
			fmt.Printf("%3d. %s [%s] %v\n", i+1, step.Label, step.UnitID, step.Params)
		}
		return nil
	}

	if planFormat != "" {
		data, err := render.GraphDocument(sess.Graph(), planFormat)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}

	viewer := render.NewGraphViewer(sess.Graph())
	switch planView {
	case "graph", "dag":
		fmt.Println(viewer.ViewDAG())
	case "order":
		fmt.Print(viewer.ViewOrder())
	default:
		return fmt.Errorf("unknown view %q (use order or graph)", planView)
	}
	return nil
}
