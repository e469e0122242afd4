package analysis

import (
	"time"
)

// Type enum: which analysis tracks run for a request.
type Type string

const (
	TypeStatic                 Type = "static_analysis"
	TypeVulnerabilityDetection Type = "vulnerability_detection"
	TypeLLMReview              Type = "llm_review"
	TypeQualityAssessment      Type = "code_quality_assessment"
)

// VulnType classifies a finding. Values outside the known set are carried
// verbatim as free-form labels (structural checks emit a few of those).
type VulnType string

const (
	VulnUnauthorizedAccess     VulnType = "unauthorized_access"
	VulnReentrancyLike         VulnType = "reentrancy_like"
	VulnIntegerOverflow        VulnType = "integer_overflow"
	VulnResourceExhaustion     VulnType = "resource_exhaustion"
	VulnLogicError             VulnType = "logic_error"
	VulnTimestampDependence    VulnType = "timestamp_dependence"
	VulnInsufficientValidation VulnType = "insufficient_validation"
	VulnAccessControl          VulnType = "access_control"
)

// rank orders the known types ahead of free-form labels. All free-form
// labels share one bucket, so location-equal findings collapse in merge
// regardless of label text.
func (t VulnType) rank() int {
	switch t {
	case VulnUnauthorizedAccess:
		return 0
	case VulnReentrancyLike:
		return 1
	case VulnIntegerOverflow:
		return 2
	case VulnResourceExhaustion:
		return 3
	case VulnLogicError:
		return 4
	case VulnTimestampDependence:
		return 5
	case VulnInsufficientValidation:
		return 6
	case VulnAccessControl:
		return 7
	default:
		return 8
	}
}

// Severity enum
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Priority enum for recommendations.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Category enum for recommendations.
type Category string

const (
	CategoryAccessControl   Category = "access_control"
	CategoryInputValidation Category = "input_validation"
	CategoryErrorHandling   Category = "error_handling"
	CategoryGasOptimization Category = "gas_optimization"
	CategoryCodeStructure   Category = "code_structure"
	CategoryTesting         Category = "testing"
)

// Finding is one detected vulnerability. LineNumber 0 means "whole file";
// zero sorts ahead of any real line during merge.
type Finding struct {
	ID              string   `json:"id"`
	Type            VulnType `json:"vulnerability_type"`
	Severity        Severity `json:"severity"`
	Confidence      float64  `json:"confidence_score"`
	FilePath        string   `json:"file_path"`
	LineNumber      int      `json:"line_number,omitempty"`
	CodeSnippet     string   `json:"code_snippet,omitempty"`
	Description     string   `json:"description"`
	Recommendation  string   `json:"recommendation"`
	CVEID           string   `json:"cve_id,omitempty"`
	IsFalsePositive bool     `json:"is_false_positive"`
}

// CodeExample shows a before/after pair attached to a recommendation.
type CodeExample struct {
	Title       string `json:"title"`
	Before      string `json:"before,omitempty"`
	After       string `json:"after"`
	Explanation string `json:"explanation"`
}

// Recommendation is remediation guidance grouped by concern, not tied to a
// single finding.
type Recommendation struct {
	ID           string        `json:"id"`
	Category     Category      `json:"category"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Priority     Priority      `json:"priority"`
	CodeExamples []CodeExample `json:"code_examples,omitempty"`
}

// Request asks for one or more analysis tracks over a repository snapshot.
// Files narrows the run to a path subset; empty means every file provided.
type Request struct {
	RepositoryID string   `json:"repository_id"`
	CommitSHA    string   `json:"commit_sha"`
	Files        []string `json:"files_to_analyze,omitempty"`
	Types        []Type   `json:"analysis_types,omitempty"`
}

// HasType reports whether the request asks for t.
func (r Request) HasType(t Type) bool {
	for _, rt := range r.Types {
		if rt == t {
			return true
		}
	}
	return false
}

// Aggregate Root: Result of one analysis track (or of a merge).
type Result struct {
	ID              string           `json:"id"`
	TenantID        string           `json:"tenant_id,omitempty"`
	RepositoryID    string           `json:"repository_id"`
	CommitSHA       string           `json:"commit_sha"`
	Type            Type             `json:"analysis_type"`
	SecurityScore   float64          `json:"security_score"`
	QualityScore    float64          `json:"quality_score"`
	Findings        []Finding        `json:"vulnerabilities"`
	Recommendations []Recommendation `json:"recommendations"`
	DurationMS      int64            `json:"analysis_duration_ms"`
	AnalyzerVersion string           `json:"analyzer_version"`
	Raw             map[string]any   `json:"raw_results,omitempty"`
	ReportURL       string           `json:"report_url,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// CriticalCount counts critical findings that are not marked false positive.
func (r *Result) CriticalCount() int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical && !f.IsFalsePositive {
			n++
		}
	}
	return n
}

// VulnerabilityStatistics value object, repository-scoped.
type VulnerabilityStatistics struct {
	Total          int `json:"total_vulnerabilities"`
	Critical       int `json:"critical_count"`
	High           int `json:"high_count"`
	Medium         int `json:"medium_count"`
	Low            int `json:"low_count"`
	FalsePositives int `json:"false_positive_count"`
	Fixed          int `json:"fixed_count"`
}
