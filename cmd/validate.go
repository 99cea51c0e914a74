package main

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Validate provider documents synchronously",
	Long:  "Runs the full extraction, enrichment, and scoring pipeline for each document. Multiple files are processed concurrently.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		limit := cfg.Pipeline.MaxConcurrentFiles
		if limit <= 0 {
			limit = 3
		}

		var failed atomic.Int64
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(limit)

		for _, path := range args {
			g.Go(func() error {
				filename := filepath.Base(path)
				log := zap.L().With(zap.String("file", filename))

				document, readErr := os.ReadFile(path)
				if readErr != nil {
					failed.Add(1)
					log.Error("validate: read file", zap.Error(readErr))
					return nil
				}

				j, jobErr := env.Tracker.Start(gCtx, filename)
				if jobErr != nil {
					failed.Add(1)
					log.Error("validate: create job", zap.Error(jobErr))
					return nil
				}

				outcomes, runErr := env.Runner.Run(gCtx, j.ID, document, filename)
				if runErr != nil {
					failed.Add(1)
					log.Error("validate: run failed", zap.String("job_id", j.ID), zap.Error(runErr))
					return nil
				}

				for _, o := range outcomes {
					log.Info("validate: provider scored",
						zap.String("provider", o.Provider.FullName),
						zap.String("npi", o.Provider.NPI),
						zap.Float64("score", o.Provider.ConfidenceScore),
						zap.String("status", string(o.Provider.Status)),
					)
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return eris.Wrap(err, "validate")
		}
		if n := failed.Load(); n > 0 {
			return eris.Errorf("validate: %d of %d file(s) failed", n, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
