package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/conductor/config"
	"github.com/mohammad-safakhou/conductor/internal/graph"
	"github.com/mohammad-safakhou/conductor/internal/pipeline"
	"github.com/mohammad-safakhou/conductor/internal/state"
)

func replayCMD() *cobra.Command {
	var cfgPath string

	var replay = &cobra.Command{
		Use:   "replay",
		Short: "Inspect, rewind and resume checkpointed runs",
	}
	replay.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	var listLimit int
	var list = &cobra.Command{
		Use:   "list",
		Short: "List recorded checkpoints, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			sums, err := store.List(cmd.Context(), listLimit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNODE\tRECORDED")
			for _, s := range sums {
				ts := time.Unix(int64(s.TS), 0).UTC().Format(time.RFC3339)
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Node, ts)
			}
			return w.Flush()
		},
	}
	list.Flags().IntVar(&listLimit, "limit", 20, "max checkpoints to show (0 = all)")

	var show = &cobra.Command{
		Use:   "show <checkpoint-id>",
		Short: "Print a checkpoint's full state as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			cp, ok, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("checkpoint %s not found", args[0])
			}
			out, err := json.MarshalIndent(cp, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	var rollback = &cobra.Command{
		Use:   "rollback <checkpoint-id>",
		Short: "Discard every checkpoint after the given one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			st, err := store.Rollback(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printStateSummary(st)
			return nil
		},
	}

	var travel = &cobra.Command{
		Use:   "travel <index>",
		Short: "Print the state at a historical index without changing the log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var index int
			if _, err := fmt.Sscanf(args[0], "%d", &index); err != nil {
				return fmt.Errorf("index must be an integer: %w", err)
			}
			cfg := config.LoadConfig(cfgPath)
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			st, ok, err := store.TimeTravel(cmd.Context(), index)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no checkpoints recorded")
			}
			out, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	var corpusDir string
	var resume = &cobra.Command{
		Use:   "resume <checkpoint-id>",
		Short: "Continue a run from a checkpoint, skipping completed steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := cmd.Context()
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			logger := log.New(os.Stderr, "[REPLAY] ", log.LstdFlags)
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
			st, err := p.Resume(ctx, uuid.NewString(), args[0])
			if err != nil {
				return err
			}
			printStateSummary(st)
			return nil
		},
	}
	resume.Flags().StringVar(&corpusDir, "corpus", "", "directory of .txt/.md documents to index")

	replay.AddCommand(list, show, rollback, travel, resume)
	return replay
}

func printStateSummary(st state.State) {
	if st.Halted() {
		fmt.Printf("halted: %s\n", st.Halt)
		if st.LastError != "" {
			fmt.Printf("last error: %s\n", st.LastError)
		}
		return
	}
	fmt.Println(st.FinalAnswer())
}
