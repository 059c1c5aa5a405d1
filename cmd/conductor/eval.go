package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/conductor/config"
	"github.com/mohammad-safakhou/conductor/internal/eval"
	"github.com/mohammad-safakhou/conductor/internal/pipeline"
	"github.com/mohammad-safakhou/conductor/internal/retrieval"
	"github.com/mohammad-safakhou/conductor/internal/state"
)

func evalCMD() *cobra.Command {
	var cfgPath string
	var goldensPath string
	var corpusDir string
	var ablations bool

	var evalCmd = &cobra.Command{
		Use:   "eval",
		Short: "Score the pipeline against a goldens file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := cmd.Context()

			cases, err := eval.LoadGoldens(goldensPath)
			if err != nil {
				return err
			}
			docs, err := loadCorpus(corpusDir)
			if err != nil {
				return err
			}

			if !ablations {
				run, err := pipelineRunFunc(ctx, cfg, docs)
				if err != nil {
					return err
				}
				rows, err := eval.NewHarness(run).RunAll(ctx, cases)
				if err != nil {
					return err
				}
				printCaseRows(rows)
				printAggregate("all", eval.Aggregate(rows))
				return nil
			}

			variants, err := retrievalVariants(ctx, cfg, docs)
			if err != nil {
				return err
			}
			rows, err := eval.Ablations(ctx, variants, cases)
			if err != nil {
				return err
			}
			printCaseRows(rows)
			byVariant := map[string][]eval.CaseResult{}
			for _, r := range rows {
				byVariant[r.Variant] = append(byVariant[r.Variant], r)
			}
			names := make([]string, 0, len(byVariant))
			for name := range byVariant {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				printAggregate(name, eval.Aggregate(byVariant[name]))
			}
			return nil
		},
	}
	evalCmd.Flags().StringVar(&goldensPath, "goldens", "goldens.json", "goldens file")
	evalCmd.Flags().StringVar(&corpusDir, "corpus", "", "directory of .txt/.md documents to index")
	evalCmd.Flags().BoolVar(&ablations, "ablations", false, "run retrieval ablation variants")
	evalCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return evalCmd
}

// pipelineRunFunc builds one pipeline over the corpus and adapts it to the
// harness. Each case gets a fresh run id; no checkpointing during eval.
func pipelineRunFunc(ctx context.Context, cfg *config.Config, docs []retrieval.Document) (eval.RunFunc, error) {
	p, err := pipeline.New(cfg)
	if err != nil {
		return nil, err
	}
	if len(docs) > 0 {
		if err := p.Index(ctx, docs); err != nil {
			return nil, err
		}
	}
	return func(ctx context.Context, input string) (state.State, error) {
		return p.Run(ctx, uuid.NewString(), input)
	}, nil
}

// retrievalVariants builds the ablation grid: the configured baseline plus
// keyword-only ranking, embedding-only ranking and disabled query expansion.
func retrievalVariants(ctx context.Context, cfg *config.Config, docs []retrieval.Document) ([]eval.Variant, error) {
	mk := func(name string, mutate func(*config.Config)) (eval.Variant, error) {
		c := *cfg
		mutate(&c)
		run, err := pipelineRunFunc(ctx, &c, docs)
		if err != nil {
			return eval.Variant{}, fmt.Errorf("variant %s: %w", name, err)
		}
		return eval.Variant{Name: name, Run: run}, nil
	}

	specs := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"baseline", func(*config.Config) {}},
		{"keyword_only", func(c *config.Config) { c.Retrieval.KeywordWeight = 1 }},
		{"embed_only", func(c *config.Config) { c.Retrieval.KeywordWeight = 0 }},
		{"no_expansion", func(c *config.Config) { c.Retrieval.ExpandQuery = false }},
	}
	out := make([]eval.Variant, 0, len(specs))
	for _, s := range specs {
		v, err := mk(s.name, s.mutate)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func printCaseRows(rows []eval.CaseResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CASE\tVARIANT\tGROUNDED\tTOOL F1\tLATENCY\tHALT")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.3fs\t%s\n",
			r.ID, r.Variant, r.Groundedness, r.Tools.F1, r.Latency, r.Halt)
	}
	w.Flush()
	fmt.Println()
}

func printAggregate(name string, agg map[string]float64) {
	keys := make([]string, 0, len(agg))
	for k := range agg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("[%s]\n", name)
	for _, k := range keys {
		fmt.Printf("  %s: %.3f\n", k, agg[k])
	}
}
