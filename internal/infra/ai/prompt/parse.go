package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/movesec/moveaudit/internal/domain/analysis"
)

type rawVulnerability struct {
	Type           string  `json:"type"`
	Severity       string  `json:"severity"`
	LineNumber     int     `json:"line_number"`
	CodeSnippet    string  `json:"code_snippet"`
	Description    string  `json:"description"`
	Recommendation string  `json:"recommendation"`
	Confidence     float64 `json:"confidence"`
}

type rawDetectResponse struct {
	Vulnerabilities   []rawVulnerability `json:"vulnerabilities"`
	Summary           string             `json:"summary"`
	OverallConfidence float64            `json:"overall_confidence"`
}

// ParseCodeAnalysis decodes a detection reply. The model was told to emit
// bare JSON, so anything else is a provider error, not something to repair.
func ParseCodeAnalysis(content, filePath string) (*analysis.CodeAnalysis, error) {
	var raw rawDetectResponse
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, &analysis.ProviderError{Message: fmt.Sprintf("parsing vulnerability response: %v", err)}
	}

	findings := make([]analysis.Finding, 0, len(raw.Vulnerabilities))
	for _, v := range raw.Vulnerabilities {
		findings = append(findings, analysis.Finding{
			ID:             uuid.New().String(),
			Type:           parseVulnType(v.Type),
			Severity:       parseSeverity(v.Severity),
			Confidence:     v.Confidence,
			FilePath:       filePath,
			LineNumber:     v.LineNumber,
			CodeSnippet:    v.CodeSnippet,
			Description:    v.Description,
			Recommendation: v.Recommendation,
		})
	}

	return &analysis.CodeAnalysis{
		Findings:   findings,
		Summary:    raw.Summary,
		Confidence: raw.OverallConfidence,
	}, nil
}

type rawCodeExample struct {
	Title       string `json:"title"`
	Before      string `json:"before"`
	After       string `json:"after"`
	Explanation string `json:"explanation"`
}

type rawRecommendation struct {
	Category     string           `json:"category"`
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	Priority     string           `json:"priority"`
	CodeExamples []rawCodeExample `json:"code_examples"`
}

type rawRecommendationsResponse struct {
	Recommendations []rawRecommendation `json:"recommendations"`
}

// ParseRecommendations decodes a remediation reply.
func ParseRecommendations(content string) ([]analysis.Recommendation, error) {
	var raw rawRecommendationsResponse
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, &analysis.ProviderError{Message: fmt.Sprintf("parsing recommendations response: %v", err)}
	}

	out := make([]analysis.Recommendation, 0, len(raw.Recommendations))
	for _, r := range raw.Recommendations {
		examples := make([]analysis.CodeExample, 0, len(r.CodeExamples))
		for _, ex := range r.CodeExamples {
			examples = append(examples, analysis.CodeExample{
				Title:       ex.Title,
				Before:      ex.Before,
				After:       ex.After,
				Explanation: ex.Explanation,
			})
		}
		out = append(out, analysis.Recommendation{
			ID:           uuid.New().String(),
			Category:     parseCategory(r.Category),
			Title:        r.Title,
			Description:  r.Description,
			Priority:     parsePriority(r.Priority),
			CodeExamples: examples,
		})
	}
	return out, nil
}

type rawQualityResponse struct {
	QualityScore float64 `json:"quality_score"`
	Explanation  string  `json:"explanation"`
}

// ParseQualityScore decodes a quality reply, clamped to [0, 100].
func ParseQualityScore(content string) (float64, error) {
	var raw rawQualityResponse
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return 0, &analysis.ProviderError{Message: fmt.Sprintf("parsing quality response: %v", err)}
	}
	score := raw.QualityScore
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, nil
}

// parseVulnType maps model labels onto the known set; unrecognized labels
// are carried verbatim.
func parseVulnType(s string) analysis.VulnType {
	switch strings.ToLower(s) {
	case "access_control", "unauthorized_access":
		return analysis.VulnUnauthorizedAccess
	case "reentrancy", "reentrancy_like":
		return analysis.VulnReentrancyLike
	case "integer_overflow", "overflow":
		return analysis.VulnIntegerOverflow
	case "resource_exhaustion":
		return analysis.VulnResourceExhaustion
	case "logic_error":
		return analysis.VulnLogicError
	case "timestamp_dependence":
		return analysis.VulnTimestampDependence
	case "insufficient_validation", "input_validation":
		return analysis.VulnInsufficientValidation
	default:
		return analysis.VulnType(s)
	}
}

func parseSeverity(s string) analysis.Severity {
	switch strings.ToLower(s) {
	case "critical":
		return analysis.SeverityCritical
	case "high":
		return analysis.SeverityHigh
	case "low":
		return analysis.SeverityLow
	default:
		return analysis.SeverityMedium
	}
}

func parseCategory(s string) analysis.Category {
	switch strings.ToLower(s) {
	case "access_control":
		return analysis.CategoryAccessControl
	case "input_validation":
		return analysis.CategoryInputValidation
	case "error_handling":
		return analysis.CategoryErrorHandling
	case "gas_optimization":
		return analysis.CategoryGasOptimization
	case "testing":
		return analysis.CategoryTesting
	default:
		return analysis.CategoryCodeStructure
	}
}

func parsePriority(s string) analysis.Priority {
	switch strings.ToLower(s) {
	case "critical":
		return analysis.PriorityCritical
	case "high":
		return analysis.PriorityHigh
	case "low":
		return analysis.PriorityLow
	default:
		return analysis.PriorityMedium
	}
}
