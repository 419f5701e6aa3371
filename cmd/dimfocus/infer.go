package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/dimfocus/internal/app"
	"github.com/MrWong99/dimfocus/internal/pii"
	"github.com/MrWong99/dimfocus/internal/similarity"
	"github.com/MrWong99/dimfocus/internal/tui"
)

// readArgs returns args unchanged, or the trimmed contents of the files they
// name when fromFiles is set.
func readArgs(args []string, fromFiles bool) ([]string, error) {
	if !fromFiles {
		return args, nil
	}
	out := make([]string, len(args))
	for i, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		out[i] = strings.TrimSpace(string(data))
	}
	return out, nil
}

func newCompareCmd(c *cli) *cobra.Command {
	var fromFiles, interactive bool
	cmd := &cobra.Command{
		Use:   "compare <a> <b>",
		Short: "Compare two documents on the focused dimensions",
		Long: `Compare two documents with the trained similarity model. With --files the
arguments are read as file paths. With -i an interactive session starts in
which the first text entered becomes the reference.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if interactive {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			texts, err := readArgs(args, fromFiles)
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), true, func(a *app.App) error {
				if interactive {
					return tui.Run(cmd.Context(), a, tui.ModeCompare)
				}
				res, err := a.Compare(cmd.Context(), texts[0], texts[1])
				if err != nil {
					return fmt.Errorf("compare: %w", err)
				}
				if c.asJSON {
					return printJSON(cmd.OutOrStdout(), res)
				}
				printComparison(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fromFiles, "files", false, "treat arguments as file paths")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "interactive mode")
	return cmd
}

func printComparison(w io.Writer, r similarity.Result) {
	fmt.Fprintf(w, "Match level:          %s\n", r.Level)
	fmt.Fprintf(w, "Focused similarity:   %.4f\n", r.Focused)
	fmt.Fprintf(w, "Full similarity:      %.4f\n", r.Full)
	fmt.Fprintf(w, "Match probability:    %.1f%%\n", r.Probability*100)
}

func newSimilarCmd(c *cli) *cobra.Command {
	var (
		fromFiles bool
		topK      int
	)
	cmd := &cobra.Command{
		Use:   "similar <target> <candidate>...",
		Short: "Rank candidates by focused similarity to a target",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			texts, err := readArgs(args, fromFiles)
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), true, func(a *app.App) error {
				ranking, err := a.FindSimilar(cmd.Context(), texts[0], texts[1:], topK)
				if err != nil {
					return fmt.Errorf("similar: %w", err)
				}
				if c.asJSON {
					return printJSON(cmd.OutOrStdout(), ranking)
				}
				printRanking(cmd.OutOrStdout(), ranking, args[1:], fromFiles)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fromFiles, "files", false, "treat arguments as file paths")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "number of results to show")
	return cmd
}

func printRanking(w io.Writer, r *similarity.Ranking, names []string, fromFiles bool) {
	if len(r.Matches) == 0 {
		fmt.Fprintln(w, "No matches.")
	}
	for rank, m := range r.Matches {
		label := m.Preview
		if fromFiles {
			label = names[m.Index]
		}
		fmt.Fprintf(w, "%2d. [%-6s] focused=%.4f full=%.4f  %s\n", rank+1, m.Level, m.Focused, m.Full, label)
	}
	for _, s := range r.Skipped {
		fmt.Fprintf(w, "skipped candidate %d: %v\n", s.Index+1, s.Err)
	}
}

func newDetectCmd(c *cli) *cobra.Command {
	var (
		file        string
		interactive bool
	)
	cmd := &cobra.Command{
		Use:   "detect [text]...",
		Short: "Detect personally identifiable information in text",
		Long: `Classify texts as containing PII or not. Texts come from the arguments,
from a file (-f, read as one text), or from an interactive session (-i).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			texts := args
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				texts = append(texts, strings.TrimSpace(string(data)))
			}
			if !interactive && len(texts) == 0 {
				return errors.New("detect: no text given; pass text, -f file or -i")
			}
			return c.withApp(cmd.Context(), true, func(a *app.App) error {
				if interactive {
					return tui.Run(cmd.Context(), a, tui.ModePII)
				}
				dets, err := a.DetectPII(cmd.Context(), texts)
				if err != nil {
					return fmt.Errorf("detect: %w", err)
				}
				if c.asJSON {
					return printJSON(cmd.OutOrStdout(), dets)
				}
				for _, d := range dets {
					printDetection(cmd.OutOrStdout(), d)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read text from file")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "interactive mode")
	return cmd
}

func printDetection(w io.Writer, d pii.Detection) {
	if d.ContainsPII {
		fmt.Fprintf(w, "\n[!] PII DETECTED (%.1f%% confidence)\n", d.Confidence)
	} else {
		fmt.Fprintf(w, "\n[ok] Clean (%.1f%% confidence)\n", d.Confidence)
	}
	fmt.Fprintf(w, "\nText: %q\n", d.Text)
	fmt.Fprintf(w, "PII probability: %.1f%%\n", d.ProbPII*100)
}
