package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sourceplane/prestoflow/internal/loader"
	"github.com/sourceplane/prestoflow/internal/model"
	"github.com/sourceplane/prestoflow/internal/render"
	"github.com/sourceplane/prestoflow/internal/session"
	"github.com/spf13/cobra"
)

var runDryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Upload inputs and execute a pipeline document",
	Long:  "Start a backend session, upload the document's inputs, validate, and execute the steps or DAG nodes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDocument(cmd.Context())
	},
}

func registerRunCommand(root *cobra.Command) {
	root.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&pipelineFile, "file", "f", "pipeline.yaml", "Pipeline document path")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Validate only, do not upload or run")
}

func runDocument(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	doc, err := loader.LoadDocument(pipelineFile)
	if err != nil {
		return err
	}

	if runDryRun {
		fmt.Println("□ Dry-run mode enabled. Nothing will be uploaded or run.")
		report, err := checkDocument(ctx, doc)
		if err != nil {
			return err
		}
		render.Report(os.Stdout, report)
		if !report.OK {
			return fmt.Errorf("%d blocking problem(s)", len(report.Blocking()))
		}
		fmt.Println("✓ Dry-run complete")
		return nil
	}

	fmt.Println("□ Starting session...")
	sess, client, err := startSession(ctx, doc.Spec.Group)
	if err != nil {
		return err
	}
	logger.Info("session ready", "session", sess.ID())

	fmt.Println("□ Uploading inputs...")
	if err := uploadInputs(ctx, client, sess.ID(), doc.Spec.Inputs); err != nil {
		return err
	}
	if err := useDocument(sess, doc); err != nil {
		return err
	}

	progress := render.Progress(os.Stdout)
	if doc.Kind == model.KindGraph {
		report, res, err := sess.RunGraph(ctx, progress)
		if errors.Is(err, session.ErrInvalid) {
			render.Report(os.Stdout, report)
			return err
		}
		if res != nil {
			render.GraphSummary(os.Stdout, res)
		}
		if err == nil {
			runComplete(sess.ID())
		}
		return err
	}

	report, res, err := sess.RunLinear(ctx, progress)
	if errors.Is(err, session.ErrInvalid) {
		render.Report(os.Stdout, report)
		return err
	}
	if res != nil {
		render.LinearSummary(os.Stdout, res)
	}
	if err == nil {
		runComplete(sess.ID())
	}
	return err
}

func runComplete(sessionID string) {
	fmt.Println("✓ Run complete")
	fmt.Printf("  fetch artifacts with: prestoflow download <artifact> --session %s\n", sessionID)
}
