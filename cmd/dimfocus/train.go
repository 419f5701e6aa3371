package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/dimfocus/internal/app"
	"github.com/MrWong99/dimfocus/internal/corpus"
	"github.com/MrWong99/dimfocus/internal/pii"
	"github.com/MrWong99/dimfocus/internal/training"
)

const (
	defaultCorpus     = "data/resumes.yaml"
	defaultPIIDataset = "data/pii.yaml"
)

func newTrainCmd(c *cli) *cobra.Command {
	var exportPath string
	cmd := &cobra.Command{
		Use:   "train [corpus.yaml]",
		Short: "Train the focused-dimension similarity model",
		Long: `Embed every document of a category corpus, learn which dimensions separate
same-category from cross-category pairs, and save the model. The corpus
defaults to ` + defaultCorpus + `.`,
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
			return c.withApp(cmd.Context(), false, func(a *app.App) error {
				rep, err := a.Train(cmd.Context(), cats, app.TrainOptions{ExportFeatures: exportPath})
				if err != nil {
					return fmt.Errorf("train: %w", err)
				}
				if c.asJSON {
					return printJSON(cmd.OutOrStdout(), rep)
				}
				printTrainingReport(cmd.OutOrStdout(), rep, c.cfg.Model.Path, exportPath)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&exportPath, "export-features", "", "write training pairs and features to this Parquet file")
	return cmd
}

func printTrainingReport(w io.Writer, rep *training.Report, modelPath, exportPath string) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "TRAINING RESULTS")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Embedding model:      %s\n", rep.EmbeddingModel)
	fmt.Fprintf(w, "Match pairs:          %d\n", rep.MatchPairs)
	fmt.Fprintf(w, "No-match pairs:       %d sampled of %d\n", rep.NoMatchPairsSampled, rep.NoMatchPairsTotal)
	fmt.Fprintf(w, "Train / test:         %d / %d\n", rep.TrainExamples, rep.TestExamples)
	fmt.Fprintf(w, "Test accuracy:        %.2f%%\n", rep.Accuracy*100)
	fmt.Fprintf(w, "Total dimensions:     %d\n", rep.TotalDimensions)
	fmt.Fprintf(w, "Selected dimensions:  %d\n", rep.SelectedCount)
	fmt.Fprintf(w, "Dimension reduction:  %s\n", rep.DimensionReduction)
	if len(rep.Insufficient) > 0 {
		fmt.Fprintf(w, "Insufficient:         %s\n", strings.Join(rep.Insufficient, ", "))
	}
	fmt.Fprintln(w, "\nTop dimensions by importance:")
	for i, d := range rep.TopDimensions {
		fmt.Fprintf(w, "  %2d. dim %-5d %.4f\n", i+1, d.Dim, d.Importance)
	}
	if rep.Evaluation != nil {
		fmt.Fprintln(w, "\nClassification report:")
		fmt.Fprint(w, rep.Evaluation.String())
	}
	fmt.Fprintf(w, "\nModel saved to %s\n", modelPath)
	if exportPath != "" {
		fmt.Fprintf(w, "Features exported to %s\n", exportPath)
	}
}

func newTrainPIICmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "train-pii [dataset.yaml]",
		Short: "Train the PII detector",
		Long: `Embed every labeled text of a PII dataset, fit the classifier with
cross-validation, and save the detector. The dataset defaults to
` + defaultPIIDataset + `.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultPIIDataset
			if len(args) == 1 {
				path = args[0]
			}
			examples, err := corpus.LoadPII(path)
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), false, func(a *app.App) error {
				rep, err := a.TrainPII(cmd.Context(), examples)
				if err != nil {
					return fmt.Errorf("train-pii: %w", err)
				}
				if c.asJSON {
					return printJSON(cmd.OutOrStdout(), rep)
				}
				printPIIReport(cmd.OutOrStdout(), rep, c.cfg.Model.PIIPath)
				return nil
			})
		},
	}
}

func printPIIReport(w io.Writer, rep *pii.Report, modelPath string) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "PII DETECTOR TRAINING RESULTS")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Train / test:         %d / %d\n", rep.TrainExamples, rep.TestExamples)
	fmt.Fprintf(w, "Train accuracy:       %.2f%%\n", rep.TrainAccuracy*100)
	fmt.Fprintf(w, "Test accuracy:        %.2f%%\n", rep.TestAccuracy*100)
	if len(rep.CVScores) > 0 {
		fmt.Fprintf(w, "CV accuracy:          %.2f%% (+/- %.2f%%)\n", rep.CVMean*100, rep.CVStd*2*100)
	}
	fmt.Fprintf(w, "Estimators:           %d\n", rep.NEstimators)
	fmt.Fprintf(w, "Final training loss:  %.4f\n", rep.FinalLoss)
	if rep.Evaluation != nil {
		fmt.Fprintln(w, "\nClassification report:")
		fmt.Fprint(w, rep.Evaluation.String())
	}
	fmt.Fprintf(w, "\nDetector saved to %s\n", modelPath)
}
