package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	domain "github.com/movesec/moveaudit/internal/domain/analysis"
	ailocal "github.com/movesec/moveaudit/internal/infra/ai/local"
	aiopenai "github.com/movesec/moveaudit/internal/infra/ai/openai"
	"github.com/movesec/moveaudit/internal/infra/localfs"
)

var version = "dev"

func main() {
	if err := buildRoot().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "moveaudit",
		Short: "Security analysis for Sui Move packages",
	}
	root.AddCommand(newScanCmd())
	root.AddCommand(newVersionCmd())
	return root
}

var severityRank = map[domain.Severity]int{
	domain.SeverityLow:      1,
	domain.SeverityMedium:   2,
	domain.SeverityHigh:     3,
	domain.SeverityCritical: 4,
}

func newScanCmd() *cobra.Command {
	var (
		dir     string
		types   []string
		useLLM  bool
		model   string
		format  string
		outFile string
		failOn  string
	)
	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Analyze the Move sources in a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				dir = args[0]
			}
			if dir == "" {
				dir = "."
			}
			if failOn != "" && severityRank[domain.Severity(failOn)] == 0 {
				return fmt.Errorf("invalid fail-on severity: %s (low|medium|high|critical)", failOn)
			}

			requested, err := parseTypes(types)
			if err != nil {
				return err
			}
			if useLLM && !cmd.Flags().Changed("types") {
				requested = append(requested, domain.TypeLLMReview, domain.TypeQualityAssessment)
			}

			files, err := localfs.Files(dir)
			if err != nil {
				return err
			}

			var provider domain.Provider
			if useLLM {
				if key := os.Getenv("OPENAI_API_KEY"); key != "" {
					provider = aiopenai.NewClient(key, model)
				} else {
					provider = ailocal.NewClient()
				}
			}
			engine := domain.NewEngine(provider)

			req := domain.Request{
				RepositoryID: dir,
				CommitSHA:    "local",
				Types:        requested,
			}
			results, err := engine.AnalyzeRepository(cmd.Context(), req, files)
			if err != nil {
				return err
			}
			final := results[0]
			if len(results) > 1 {
				if final, err = engine.MergeResults(results); err != nil {
					return err
				}
			}

			switch format {
			case "json":
				data, err := json.MarshalIndent(final, "", "  ")
				if err != nil {
					return err
				}
				if outFile != "" {
					if err := os.WriteFile(outFile, data, 0o644); err != nil {
						return err
					}
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), string(data))
				}
			default:
				renderTable(cmd, final)
			}

			if failOn != "" {
				if hit := worstAtOrAbove(final.Findings, severityRank[domain.Severity(failOn)]); hit != "" {
					return fmt.Errorf("fail-on threshold met: %s", hit)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Directory containing Move sources (default \".\")")
	cmd.Flags().StringSliceVarP(&types, "types", "t", []string{string(domain.TypeStatic)}, "Analysis tracks: static_analysis|vulnerability_detection|llm_review|code_quality_assessment")
	cmd.Flags().BoolVar(&useLLM, "llm", false, "Run LLM tracks (OpenAI when OPENAI_API_KEY is set, local heuristics otherwise); adds the tracks when --types is not given")
	cmd.Flags().StringVar(&model, "model", "", "OpenAI model override")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table|json")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "Write report to file (with --format json)")
	cmd.Flags().StringVar(&failOn, "fail-on", "", "Exit nonzero when a finding of this severity or higher exists (low|medium|high|critical)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "moveaudit %s (patterns %s)\n", version, domain.PatternTableVersion)
		},
	}
}

func parseTypes(raw []string) ([]domain.Type, error) {
	out := make([]domain.Type, 0, len(raw))
	for _, t := range raw {
		switch domain.Type(t) {
		case domain.TypeStatic, domain.TypeVulnerabilityDetection, domain.TypeLLMReview, domain.TypeQualityAssessment:
			out = append(out, domain.Type(t))
		default:
			return nil, fmt.Errorf("unknown analysis type: %s", t)
		}
	}
	return out, nil
}

func renderTable(cmd *cobra.Command, res *domain.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Security score: %.1f  Quality score: %.1f  (%d findings, %dms)\n",
		res.SecurityScore, res.QualityScore, len(res.Findings), res.DurationMS)
	for _, f := range res.Findings {
		loc := f.FilePath
		if f.LineNumber > 0 {
			loc = fmt.Sprintf("%s:%d", f.FilePath, f.LineNumber)
		}
		fmt.Fprintf(out, "- [%s] %s %s %s (conf=%.0f)\n", f.Severity, f.Type, loc, f.Description, f.Confidence)
	}
	if len(res.Recommendations) > 0 {
		fmt.Fprintln(out, "\nRecommendations:")
		for _, r := range res.Recommendations {
			fmt.Fprintf(out, "- [%s] %s: %s\n", r.Priority, r.Title, r.Description)
		}
	}
}

// worstAtOrAbove returns the highest severity among live findings that meets
// the threshold rank, or "" when none does.
func worstAtOrAbove(findings []domain.Finding, threshold int) domain.Severity {
	worst := 0
	var label domain.Severity
	for _, f := range findings {
		if f.IsFalsePositive {
			continue
		}
		if r := severityRank[f.Severity]; r >= threshold && r > worst {
			worst = r
			label = f.Severity
		}
	}
	return label
}
