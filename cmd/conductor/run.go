package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/conductor/config"
	"github.com/mohammad-safakhou/conductor/internal/graph"
	"github.com/mohammad-safakhou/conductor/internal/pipeline"
	"github.com/mohammad-safakhou/conductor/internal/telemetry"
)

func runCMD() *cobra.Command {
	var cfgPath string
	var corpusDir string
	var runID string
	var asJSON bool

	var run = &cobra.Command{
		Use:   "run [input]",
		Short: "Run one request through the governed pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := cmd.Context()

			tel, _, err := telemetry.Setup(ctx, cfg.Telemetry, telemetry.Options{
				ServiceName:    "conductor",
				ServiceVersion: "dev",
			})
			if err != nil {
				return err
			}
			defer tel.Shutdown(ctx)

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			logger := log.New(os.Stderr, "[RUN] ", log.LstdFlags)
			runner := graph.New(
				graph.WithCheckpoints(store),
				graph.WithStepTimeout(cfg.Graph.StepTimeout),
				graph.WithLogger(logger),
			)
			p, err := pipeline.New(cfg,
				pipeline.WithRunner(runner),
				pipeline.WithPipelineLogger(logger),
			)
			if err != nil {
				return err
			}
			docs, err := loadCorpus(corpusDir)
			if err != nil {
				return err
			}
			if len(docs) > 0 {
				if err := p.Index(ctx, docs); err != nil {
					return err
				}
			}

			if runID == "" {
				runID = uuid.NewString()
			}
			st, err := p.Run(ctx, runID, strings.Join(args, " "))
			if err != nil {
				return err
			}

			if asJSON {
				out, err := json.MarshalIndent(st, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}
			if st.Halted() {
				fmt.Printf("run %s halted: %s\n", runID, st.Halt)
				if st.LastError != "" {
					fmt.Printf("last error: %s\n", st.LastError)
				}
				return nil
			}
			fmt.Println(st.FinalAnswer())
			return nil
		},
	}
	run.Flags().StringVar(&corpusDir, "corpus", "", "directory of .txt/.md documents to index")
	run.Flags().StringVar(&runID, "run-id", "", "run identifier (default random)")
	run.Flags().BoolVar(&asJSON, "json", false, "print the full final state as JSON")
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return run
}
