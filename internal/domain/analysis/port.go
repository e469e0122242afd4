package analysis

import (
	"context"
	"time"
)

// Prompt is one generic completion request to a Provider.
type Prompt struct {
	Text        string
	CodeContext string
	MaxTokens   int
	Temperature float32
}

// Completion is the raw provider reply for a Prompt.
type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CodeAnalysis is a provider's structured reading of one file.
type CodeAnalysis struct {
	Findings        []Finding
	Recommendations []Recommendation
	Summary         string
	Confidence      float64
}

// Provider port (interface for generative analysis backends)
type Provider interface {
	AnalyzeCode(ctx context.Context, p Prompt) (Completion, error)
	DetectVulnerabilities(ctx context.Context, code, filePath string) (*CodeAnalysis, error)
	GenerateRecommendations(ctx context.Context, code string, findings []Finding) ([]Recommendation, error)
	AssessCodeQuality(ctx context.Context, code string) (float64, error)
	ProviderName() string
	ModelName() string
}

// Repository port (interface for persistence)
type Repository interface {
	Save(ctx context.Context, tenant string, res *Result) error
	Get(ctx context.Context, tenant, id string) (*Result, error)
	LatestByRepository(ctx context.Context, tenant, repositoryID string) (*Result, error)
	History(ctx context.Context, tenant, repositoryID string, limit int) ([]*Result, error)
	CountByRepository(ctx context.Context, tenant, repositoryID string) (int, error)
	VulnerabilitiesByRepository(ctx context.Context, tenant, repositoryID string) ([]Finding, error)
	VulnerabilitiesByAnalysis(ctx context.Context, tenant, analysisID string) ([]Finding, error)
	MarkFalsePositive(ctx context.Context, tenant, findingID string) error
	MarkFixed(ctx context.Context, tenant, findingID string) error
	Statistics(ctx context.Context, tenant, repositoryID string) (VulnerabilityStatistics, error)
}

// FileProvider port (interface for fetching repository content)
type FileProvider interface {
	RepositoryFiles(ctx context.Context, owner, repo, ref string) (map[string]string, error)
	FileContent(ctx context.Context, owner, repo, path, ref string) (string, error)
}

// ReportStore port (interface for report artifact storage)
type ReportStore interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
	UploadAndCleanup(ctx context.Context, localPath, key string) (string, error)
}

// Summary is the compact view of one stored result.
type Summary struct {
	AnalysisID           string    `json:"analysis_id"`
	CommitSHA            string    `json:"commit_sha"`
	AnalysisType         Type      `json:"analysis_type"`
	SecurityScore        float64   `json:"security_score"`
	QualityScore         float64   `json:"quality_score"`
	VulnerabilitiesCount int       `json:"vulnerabilities_count"`
	CreatedAt            time.Time `json:"created_at"`
}

// Summarize builds the compact view of a result.
func (r *Result) Summarize() Summary {
	return Summary{
		AnalysisID:           r.ID,
		CommitSHA:            r.CommitSHA,
		AnalysisType:         r.Type,
		SecurityScore:        r.SecurityScore,
		QualityScore:         r.QualityScore,
		VulnerabilitiesCount: len(r.Findings),
		CreatedAt:            r.CreatedAt,
	}
}
