package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/sourceplane/prestoflow/internal/backend"
	"github.com/sourceplane/prestoflow/internal/loader"
	"github.com/sourceplane/prestoflow/internal/model"
	"github.com/sourceplane/prestoflow/internal/session"
	"github.com/spf13/cobra"
)

var (
	configFile   string
	backendURL   string
	logLevel     string
	pipelineFile string

	cfg    *loader.Config
	logger hclog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "prestoflow",
	Short:         "Build, validate and run immune repertoire pipelines",
	Long:          "prestoflow drives a pRESTO processing backend: it loads pipeline documents, validates them against the backend's unit catalog and runs them step by step or as a branching DAG.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := loader.LoadConfig(configFile)
		if err != nil {
			return err
		}
		if backendURL != "" {
			c.Backend = backendURL
		}
		if logLevel != "" {
			c.LogLevel = logLevel
		}
		cfg = c

		logger = hclog.New(&hclog.LoggerOptions{
			Name:   "prestoflow",
			Level:  hclog.LevelFromString(cfg.LogLevel),
			Output: os.Stderr,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ~/.prestoflow/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "Backend base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")

	registerUnitsCommand(rootCmd)
	registerValidateCommand(rootCmd)
	registerPlanCommand(rootCmd)
	registerRunCommand(rootCmd)
	registerDownloadCommand(rootCmd)
	registerServeCommand(rootCmd)
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗", err)
		return err
	}
	return nil
}

func newClient() *backend.Client {
	return backend.New(cfg.Backend,
		backend.WithRequestTimeout(cfg.RequestTimeout),
		backend.WithRetryPolicy(cfg.Retry),
		backend.WithLogger(logger.Named("backend")),
	)
}

func newSession(client *backend.Client) *session.Session {
	return session.New(client, session.Options{
		StepTimeout:  cfg.StepTimeout,
		MaxParallel:  cfg.MaxParallel,
		LogCacheSize: cfg.LogCacheSize,
		Logger:       logger.Named("session"),
	})
}

// startSession opens a backend session for a page group
func startSession(ctx context.Context, group model.Group) (*session.Session, *backend.Client, error) {
	if group == "" {
		group = model.GroupBulk
	}
	client := newClient()
	sess := newSession(client)
	if err := sess.Start(ctx, group); err != nil {
		return nil, nil, err
	}
	return sess, client, nil
}
