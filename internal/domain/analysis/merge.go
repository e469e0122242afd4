package analysis

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// MergedVersion marks results produced by MergeResults.
const MergedVersion = "merged-analysis-1.0.0"

// MergeResults folds several track results into one. A single result passes
// through untouched. Scores average over the input results, not over the
// deduplicated findings, so a track that found nothing still pulls the mean
// its way.
func (e *Engine) MergeResults(results []*Result) (*Result, error) {
	if len(results) == 0 {
		return nil, &AnalysisFailedError{Message: "no analysis results to merge"}
	}
	if len(results) == 1 {
		return results[0], nil
	}

	first := results[0]
	var findings []Finding
	var recommendations []Recommendation
	var durationMS int64
	var securitySum, qualitySum float64
	types := make([]string, 0, len(results))

	for _, r := range results {
		findings = append(findings, r.Findings...)
		recommendations = append(recommendations, r.Recommendations...)
		durationMS += r.DurationMS
		securitySum += r.SecurityScore
		qualitySum += r.QualityScore
		types = append(types, string(r.Type))
	}

	sortFindings(findings)
	findings = dedupFindings(findings)

	n := float64(len(results))

	return &Result{
		ID:              uuid.New().String(),
		RepositoryID:    first.RepositoryID,
		CommitSHA:       first.CommitSHA,
		Type:            TypeStatic,
		SecurityScore:   securitySum / n,
		QualityScore:    qualitySum / n,
		Findings:        findings,
		Recommendations: recommendations,
		DurationMS:      durationMS,
		AnalyzerVersion: MergedVersion,
		Raw: map[string]any{
			"merged_from":             len(results),
			"analysis_types":          types,
			"total_vulnerabilities":   len(findings),
			"vulnerability_breakdown": severityBreakdown(findings),
		},
		CreatedAt: time.Now().UTC(),
	}, nil
}

// sortFindings orders by location, then by type rank so equal locations sit
// adjacent for dedup. The raw label is the last key to keep the order total.
func sortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.LineNumber != b.LineNumber {
			return a.LineNumber < b.LineNumber
		}
		if a.Type.rank() != b.Type.rank() {
			return a.Type.rank() < b.Type.rank()
		}
		return a.Type < b.Type
	})
}

// dedupFindings drops adjacent findings sharing (file, line, type rank),
// keeping the first. Free-form labels all rank alike, so two different
// labels on the same line collapse into whichever sorted first.
func dedupFindings(findings []Finding) []Finding {
	if len(findings) == 0 {
		return findings
	}
	out := findings[:1]
	for _, f := range findings[1:] {
		prev := out[len(out)-1]
		if f.FilePath == prev.FilePath &&
			f.LineNumber == prev.LineNumber &&
			f.Type.rank() == prev.Type.rank() {
			continue
		}
		out = append(out, f)
	}
	return out
}
