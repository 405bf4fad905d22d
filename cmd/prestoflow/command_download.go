package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	downloadSession string
	downloadOutput  string
)

var downloadCmd = &cobra.Command{
	Use:   "download <artifact>",
	Short: "Download an artifact from a backend session",
	Long:  "Download fetches an artifact produced by a run. The session id is printed when a run completes.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return downloadArtifact(cmd.Context(), args[0])
	},
}

func registerDownloadCommand(root *cobra.Command) {
	root.AddCommand(downloadCmd)

	downloadCmd.Flags().StringVarP(&downloadSession, "session", "s", "", "Backend session id")
	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "Output file (default: artifact name, - for stdout)")
	_ = downloadCmd.MarkFlagRequired("session")
}

func downloadArtifact(ctx context.Context, name string) error {
	target := downloadOutput
	if target == "" {
		target = name
	}

	var w io.Writer = os.Stdout
	if target != "-" {
		f, err := os.Create(target)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", target, err)
		}
		defer f.Close()
		w = f
	}

	n, err := newClient().Download(ctx, downloadSession, name, w)
	if err != nil {
		if target != "-" {
			_ = os.Remove(target)
		}
		return err
	}
	logger.Debug("artifact downloaded", "artifact", name, "bytes", n)
	if target != "-" {
		fmt.Printf("✓ %s → %s (%d bytes)\n", name, target, n)
	}
	return nil
}
