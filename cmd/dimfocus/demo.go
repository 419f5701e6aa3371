package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/dimfocus/internal/app"
	"github.com/MrWong99/dimfocus/internal/model"
	"github.com/MrWong99/dimfocus/internal/pii"
	"github.com/MrWong99/dimfocus/internal/similarity"
)

// demoTexts are three clean texts followed by three containing PII.
var demoTexts = []string{
	"The quarterly report shows 15% revenue growth. The board approved additional investment in R&D.",
	"Please review the pull request before merging. Focus on the error handling improvements.",
	"The team meeting has been rescheduled to Thursday at 3 PM. Please update your calendars.",
	"Contact John Smith at john.smith@email.com or call 555-123-4567 for more information.",
	"Ship to: 123 Main Street, Apt 4B, New York, NY 10001. Please require signature on delivery.",
	"Patient: Sarah Johnson, DOB: 05/15/1987, SSN: 123-45-6789, Insurance ID: BCBS-998877.",
}

const (
	demoEngineer = `Software engineer with 5 years experience in Python, Java, and cloud technologies.
Built scalable microservices at tech startups. Strong background in algorithms,
data structures, and system design. BS Computer Science from MIT.`

	demoDeveloper = `Full stack developer proficient in React, Node.js, and PostgreSQL.
Developed e-commerce platforms handling millions of transactions.
Experience with AWS, Docker, and CI/CD pipelines.`

	demoMarketer = `Digital marketing manager with 7 years experience driving growth for B2B SaaS.
Expert in SEO, PPC, and content marketing. Increased organic traffic 300%.
MBA from Wharton. Google Ads and Analytics certified.`
)

type demoPair struct {
	Name   string            `json:"name"`
	Result similarity.Result `json:"result"`
}

func newDemoCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run both trained models on built-in sample texts",
		Long: `Classify a fixed set of clean and PII-bearing texts, then compare a
software engineer resume against another engineer and against a marketing
manager. Both models must have been trained first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), true, func(a *app.App) error {
				dets, err := a.DetectPII(cmd.Context(), demoTexts)
				if err != nil {
					return fmt.Errorf("demo: %w", err)
				}
				sum, err := a.Model()
				if err != nil {
					return fmt.Errorf("demo: %w", err)
				}
				pairs := []struct{ name, a, b string }{
					{"Software Eng vs Software Eng", demoEngineer, demoDeveloper},
					{"Software Eng vs Marketing", demoEngineer, demoMarketer},
				}
				results := make([]demoPair, len(pairs))
				for i, p := range pairs {
					res, err := a.Compare(cmd.Context(), p.a, p.b)
					if err != nil {
						return fmt.Errorf("demo: %s: %w", p.name, err)
					}
					results[i] = demoPair{Name: p.name, Result: res}
				}

				if c.asJSON {
					return printJSON(cmd.OutOrStdout(), struct {
						Detections  []pii.Detection `json:"detections"`
						Comparisons []demoPair      `json:"comparisons"`
					}{dets, results})
				}
				printDemo(cmd.OutOrStdout(), dets, sum, results)
				return nil
			})
		},
	}
}

func printDemo(w io.Writer, dets []pii.Detection, sum model.Summary, pairs []demoPair) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(w, "%s\nPII DETECTION DEMO\n%s\n\n", rule, rule)
	for _, d := range dets {
		status := "[ ] Clean"
		if d.ContainsPII {
			status = "[!] PII DETECTED"
		}
		fmt.Fprintf(w, "%s (%.1f%%)\n    %q\n\n", status, d.Confidence, preview(d.Text, 70))
	}

	fmt.Fprintf(w, "%s\nRESUME SIMILARITY DEMO\n%s\n", rule, rule)
	fmt.Fprintf(w, "Model loaded: %d focused dimensions\n\n", sum.SelectedCount)
	for _, p := range pairs {
		fmt.Fprintf(w, "%s:\n", p.Name)
		fmt.Fprintf(w, "  Full similarity:    %.3f\n", p.Result.Full)
		fmt.Fprintf(w, "  Focused similarity: %.3f\n", p.Result.Focused)
		fmt.Fprintf(w, "  Match level: %s\n\n", p.Result.Level)
	}
}

// preview shortens s to n runes, marking the cut with "...".
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
