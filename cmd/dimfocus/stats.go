package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MrWong99/dimfocus/internal/app"
	"github.com/MrWong99/dimfocus/internal/corpus"
	"github.com/MrWong99/dimfocus/internal/model"
	"github.com/MrWong99/dimfocus/internal/model/postgres"
)

func newStatsCmd(c *cli) *cobra.Command {
	var piiPath string
	cmd := &cobra.Command{
		Use:   "stats [corpus.yaml]",
		Short: "Show dataset statistics",
		Long: `Count documents per category and the training pairs a corpus yields.
With --pii the PII dataset is summarised as well.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultCorpus
			if len(args) == 1 {
				path = args[0]
			}
			cats, err := corpus.LoadCategories(path)
			if err != nil {
				return err
			}
			out := struct {
				Corpus corpus.Stats     `json:"corpus"`
				PII    *corpus.PIIStats `json:"pii,omitempty"`
			}{Corpus: corpus.CategoryStats(cats)}

			if piiPath != "" {
				examples, err := corpus.LoadPII(piiPath)
				if err != nil {
					return err
				}
				ps := corpus.PIIDatasetStats(examples)
				out.PII = &ps
			}

			if c.asJSON {
				return printJSON(cmd.OutOrStdout(), out)
			}
			printStats(cmd.OutOrStdout(), out.Corpus, out.PII)
			return nil
		},
	}
	cmd.Flags().StringVar(&piiPath, "pii", "", "also summarise this PII dataset")
	return cmd
}

func printStats(w io.Writer, s corpus.Stats, ps *corpus.PIIStats) {
	fmt.Fprintln(w, "Dataset statistics:")
	fmt.Fprintf(w, "  Total documents: %d\n", s.Documents)
	fmt.Fprintf(w, "  Categories: %d\n", len(s.Categories))
	for _, cc := range s.Categories {
		fmt.Fprintf(w, "    %s: %d\n", cc.Name, cc.Documents)
	}
	fmt.Fprintf(w, "  Match pairs: %d\n", s.MatchPairs)
	fmt.Fprintf(w, "  No-match pairs: %d\n", s.NoMatchPairs)
	if ps == nil {
		return
	}
	fmt.Fprintln(w, "\nPII dataset statistics:")
	fmt.Fprintf(w, "  Total samples: %d\n", ps.Total)
	fmt.Fprintf(w, "  PII samples: %d\n", ps.PII)
	fmt.Fprintf(w, "  No PII samples: %d\n", ps.Clean)
	fmt.Fprintf(w, "  Balance ratio: %.2f\n", ps.BalanceRatio)
}

func newModelCmd(c *cli) *cobra.Command {
	var similarRuns int
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Describe the trained similarity model",
		Long: `Show the live model's embedding model, dimension counts and most important
dimensions. With --similar-runs and a configured PostgreSQL registry, list the
past training runs whose importance profile is closest.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), true, func(a *app.App) error {
				sum, err := a.Model()
				if err != nil {
					return fmt.Errorf("model: %w", err)
				}
				var runs []postgres.RunSummary
				if similarRuns > 0 {
					if runs, err = a.SimilarRuns(cmd.Context(), similarRuns); err != nil {
						return fmt.Errorf("model: %w", err)
					}
				}
				if c.asJSON {
					return printJSON(cmd.OutOrStdout(), struct {
						Model       model.Summary         `json:"model"`
						SimilarRuns []postgres.RunSummary `json:"similar_runs,omitempty"`
					}{sum, runs})
				}
				printModel(cmd.OutOrStdout(), sum, runs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&similarRuns, "similar-runs", 0, "list this many registry runs with the closest importance profile")
	return cmd
}

func printModel(w io.Writer, s model.Summary, runs []postgres.RunSummary) {
	fmt.Fprintf(w, "Model:                %s\n", s.ID)
	fmt.Fprintf(w, "Trained:              %s\n", s.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Embedding model:      %s\n", s.EmbeddingModel)
	fmt.Fprintf(w, "Total dimensions:     %d\n", s.Dimensions)
	fmt.Fprintf(w, "Selected dimensions:  %d (coverage %.2f)\n", s.SelectedCount, s.Coverage)
	fmt.Fprintf(w, "Dimension reduction:  %s\n", s.DimensionReduction)
	fmt.Fprintln(w, "\nTop dimensions by importance:")
	for i, d := range s.TopDimensions {
		fmt.Fprintf(w, "  %2d. dim %-5d %.4f\n", i+1, d.Dim, d.Importance)
	}
	if len(runs) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSimilar training runs:")
	for _, r := range runs {
		fmt.Fprintf(w, "  %s  %s  %s  %d/%d dims  distance %.4f\n",
			r.ID, r.CreatedAt.Format("2006-01-02"), r.EmbeddingModel, r.SelectedCount, r.Dimensions, r.Distance)
	}
}
