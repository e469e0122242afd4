package analysis

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Providers choke on huge inputs; files over these sizes are skipped rather
// than truncated, so a finding line number always refers to real content.
const (
	maxDetectFileSize  = 10000
	maxQualityFileSize = 8000
)

// Engine orchestrates the analysis tracks for one request and merges their
// results.
type Engine struct {
	scanner  *Scanner
	provider Provider
}

// NewEngine builds an engine. A nil provider disables the generative tracks;
// requests asking only for those fall back to the static track.
func NewEngine(provider Provider) *Engine {
	return &Engine{scanner: NewScanner(), provider: provider}
}

// AnalyzeRepository runs every requested track. A track failure aborts the
// whole run; partial results are never returned.
func (e *Engine) AnalyzeRepository(ctx context.Context, req Request, files map[string]string) ([]*Result, error) {
	var results []*Result

	if req.HasType(TypeStatic) || req.HasType(TypeVulnerabilityDetection) {
		res, err := e.scanner.Analyze(req, files)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	if e.provider != nil {
		if req.HasType(TypeLLMReview) {
			res, err := e.llmReview(ctx, req, files)
			if err != nil {
				return nil, err
			}
			results = append(results, res)
		}
		if req.HasType(TypeQualityAssessment) {
			res, err := e.qualityAssessment(ctx, req, files)
			if err != nil {
				return nil, err
			}
			results = append(results, res)
		}
	}

	// A request that only named unavailable tracks still gets an answer.
	if len(results) == 0 {
		res, err := e.scanner.Analyze(req, files)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	return results, nil
}

func (e *Engine) llmReview(ctx context.Context, req Request, files map[string]string) (*Result, error) {
	start := time.Now()

	moveFiles := FilterMoveFiles(files)
	if len(moveFiles) == 0 {
		return nil, &AnalysisFailedError{Message: "no Move files found for LLM analysis"}
	}

	var findings []Finding
	var analyzed []string
	for _, path := range sortedPaths(moveFiles) {
		content := moveFiles[path]
		if len(content) > maxDetectFileSize {
			continue
		}
		ca, err := e.provider.DetectVulnerabilities(ctx, content, path)
		if err != nil {
			return nil, err
		}
		findings = append(findings, ca.Findings...)
		analyzed = append(analyzed, content)
	}

	var recommendations []Recommendation
	if len(findings) > 0 {
		recs, err := e.provider.GenerateRecommendations(ctx, strings.Join(analyzed, "\n\n"), findings)
		if err != nil {
			return nil, err
		}
		recommendations = recs
	}

	security, quality := llmScores(findings)

	return &Result{
		ID:              uuid.New().String(),
		RepositoryID:    req.RepositoryID,
		CommitSHA:       req.CommitSHA,
		Type:            TypeLLMReview,
		SecurityScore:   security,
		QualityScore:    quality,
		Findings:        findings,
		Recommendations: recommendations,
		DurationMS:      time.Since(start).Milliseconds(),
		AnalyzerVersion: e.provider.ProviderName() + "-" + e.provider.ModelName(),
		Raw: map[string]any{
			"files_analyzed":          len(analyzed),
			"llm_provider":            e.provider.ProviderName(),
			"llm_model":               e.provider.ModelName(),
			"total_vulnerabilities":   len(findings),
			"vulnerability_breakdown": severityBreakdown(findings),
		},
		CreatedAt: time.Now().UTC(),
	}, nil
}

// llmScores weighs model findings harder than static ones; the model only
// reports what it is fairly sure about.
func llmScores(findings []Finding) (security, quality float64) {
	if len(findings) == 0 {
		return 90.0, 85.0
	}

	penalty := 0.0
	for _, f := range findings {
		if f.IsFalsePositive {
			continue
		}
		var w float64
		switch f.Severity {
		case SeverityCritical:
			w = 30
		case SeverityHigh:
			w = 20
		case SeverityMedium:
			w = 10
		default:
			w = 5
		}
		penalty += w * f.Confidence / 100.0
	}

	security = 100.0 - penalty
	if security < 0 {
		security = 0
	}
	quality = security * 0.9

	return clampScore(security), clampScore(quality)
}

func (e *Engine) qualityAssessment(ctx context.Context, req Request, files map[string]string) (*Result, error) {
	start := time.Now()

	moveFiles := FilterMoveFiles(files)
	if len(moveFiles) == 0 {
		return nil, &AnalysisFailedError{Message: "no Move files found for quality analysis"}
	}

	var scores []float64
	for _, path := range sortedPaths(moveFiles) {
		content := moveFiles[path]
		if len(content) > maxQualityFileSize {
			continue
		}
		score, err := e.provider.AssessCodeQuality(ctx, content)
		if err != nil {
			// One unreadable file should not sink the whole assessment.
			continue
		}
		scores = append(scores, score)
	}

	avg := 50.0
	if len(scores) > 0 {
		sum := 0.0
		for _, s := range scores {
			sum += s
		}
		avg = sum / float64(len(scores))
	}

	return &Result{
		ID:              uuid.New().String(),
		RepositoryID:    req.RepositoryID,
		CommitSHA:       req.CommitSHA,
		Type:            TypeQualityAssessment,
		SecurityScore:   avg,
		QualityScore:    avg,
		Findings:        nil,
		Recommendations: qualityRecommendations(avg),
		DurationMS:      time.Since(start).Milliseconds(),
		AnalyzerVersion: e.provider.ProviderName() + "-" + e.provider.ModelName() + "-quality",
		Raw: map[string]any{
			"files_analyzed":        len(scores),
			"average_quality_score": avg,
			"llm_provider":          e.provider.ProviderName(),
			"llm_model":             e.provider.ModelName(),
		},
		CreatedAt: time.Now().UTC(),
	}, nil
}

func qualityRecommendations(avg float64) []Recommendation {
	var out []Recommendation
	if avg < 70 {
		out = append(out, Recommendation{
			ID:          uuid.New().String(),
			Category:    CategoryCodeStructure,
			Title:       "Improve Code Quality",
			Description: "Code quality score is below recommended threshold. Focus on code organization, documentation, and best practices.",
			Priority:    PriorityMedium,
			CodeExamples: []CodeExample{{
				Title:       "Add Function Documentation",
				After:       "/// Transfers item ownership to the recipient.\n/// Aborts when the caller does not hold the admin capability.\npublic fun transfer_item(cap: &AdminCap, item: Item, recipient: address)",
				Explanation: "Document the contract of every public function",
			}},
		})
	}
	if avg < 50 {
		out = append(out, Recommendation{
			ID:          uuid.New().String(),
			Category:    CategoryTesting,
			Title:       "Increase Test Coverage",
			Description: "Low quality score indicates potential need for more comprehensive testing.",
			Priority:    PriorityHigh,
		})
	}
	return out
}
