package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sourceplane/prestoflow/internal/backend"
	"github.com/sourceplane/prestoflow/internal/loader"
	"github.com/sourceplane/prestoflow/internal/model"
	"github.com/sourceplane/prestoflow/internal/session"
)

// useDocument builds the document's pipeline or graph over the session registry,
// so a unit from the other page group is reported by validation instead of
// failing the build
func useDocument(sess *session.Session, doc *model.Document) error {
	if doc.Kind == model.KindGraph {
		g, refs, err := loader.BuildGraph(doc, sess.Registry())
		if err != nil {
			return fmt.Errorf("failed to build graph: %w", err)
		}
		logger.Debug("graph built", "nodes", len(refs), "edges", len(g.Edges()))
		return sess.UseGraph(g)
	}

	p, err := loader.BuildPipeline(doc, sess.Registry())
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	logger.Debug("pipeline built", "steps", p.Len())
	return sess.UsePipeline(p)
}

// uploadInputs sends the read files and then each auxiliary file
func uploadInputs(ctx context.Context, client *backend.Client, sessionID string, in model.Inputs) error {
	if in.R1 != "" {
		r1, err := os.Open(in.R1)
		if err != nil {
			return fmt.Errorf("failed to open R1 reads: %w", err)
		}
		defer r1.Close()

		var r2up *backend.Upload
		if in.R2 != "" {
			r2, err := os.Open(in.R2)
			if err != nil {
				return fmt.Errorf("failed to open R2 reads: %w", err)
			}
			defer r2.Close()
			r2up = &backend.Upload{Filename: filepath.Base(in.R2), Content: r2}
		}

		if err := client.UploadReads(ctx, sessionID, backend.Upload{Filename: filepath.Base(in.R1), Content: r1}, r2up); err != nil {
			return err
		}
		fmt.Printf("✓ Uploaded %s\n", filepath.Base(in.R1))
	}

	for _, path := range in.Aux {
		if err := uploadAux(ctx, client, sessionID, path); err != nil {
			return err
		}
	}
	return nil
}

func uploadAux(ctx context.Context, client *backend.Client, sessionID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open auxiliary file: %w", err)
	}
	defer f.Close()

	res, err := client.UploadAux(ctx, sessionID, backend.Upload{Filename: filepath.Base(path), Content: f}, "")
	if err != nil {
		return err
	}
	fmt.Printf("✓ Uploaded %s (%s)\n", res.StoredAs, res.Role)
	return nil
}
