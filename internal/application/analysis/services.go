package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/movesec/moveaudit/internal/application"
	domain "github.com/movesec/moveaudit/internal/domain/analysis"
)

// Service implements the analysis use-cases. It is safe for concurrent use;
// all state lives behind the ports.
type Service struct {
	Repo    domain.Repository
	Engine  *domain.Engine
	Files   domain.FileProvider // nil when no source host is configured
	Reports domain.ReportStore  // nil disables report artifacts
	Clock   application.Clock
}

//
// ==== USE CASES ====
//

// AnalyzeRepositoryCommand triggers a full run against a repository snapshot.
// Owner/Repo address the source host; Paths narrows the run to a subset.
type AnalyzeRepositoryCommand struct {
	TenantID     string
	RepositoryID string
	Owner        string
	Repo         string
	CommitSHA    string
	Paths        []string
	Types        []domain.Type
}

type AnalyzeRepositoryResult struct {
	AnalysisID              string   `json:"analysis_id"`
	RepositoryID            string   `json:"repository_id"`
	CommitSHA               string   `json:"commit_sha"`
	SecurityScore           float64  `json:"security_score"`
	QualityScore            float64  `json:"quality_score"`
	VulnerabilitiesFound    int      `json:"vulnerabilities_found"`
	CriticalVulnerabilities int      `json:"critical_vulnerabilities"`
	DurationMS              int64    `json:"analysis_duration_ms"`
	AnalysisTypes           []string `json:"analysis_types_completed"`
	ReportURL               string   `json:"report_url,omitempty"`
}

// AnalyzeRepository fetches the snapshot from the file provider and runs the
// requested tracks over it.
func (s *Service) AnalyzeRepository(ctx context.Context, cmd AnalyzeRepositoryCommand) (*AnalyzeRepositoryResult, error) {
	if s.Files == nil {
		return nil, &domain.AnalysisFailedError{Message: "no file provider configured"}
	}
	files, err := s.Files.RepositoryFiles(ctx, cmd.Owner, cmd.Repo, cmd.CommitSHA)
	if err != nil {
		return nil, fmt.Errorf("fetching repository files: %w", err)
	}
	return s.AnalyzeFiles(ctx, cmd, files)
}

// AnalyzeFiles runs the requested tracks over already-fetched content, merges
// the track results, stores the outcome and uploads the report artifact.
func (s *Service) AnalyzeFiles(ctx context.Context, cmd AnalyzeRepositoryCommand, files map[string]string) (*AnalyzeRepositoryResult, error) {
	types := cmd.Types
	if len(types) == 0 {
		types = []domain.Type{domain.TypeStatic}
	}
	if len(cmd.Paths) > 0 {
		files = selectPaths(files, cmd.Paths)
	}

	moveFiles := domain.FilterMoveFiles(files)
	if len(moveFiles) == 0 {
		return nil, &domain.AnalysisFailedError{Message: "no Move files found in repository"}
	}

	req := domain.Request{
		RepositoryID: cmd.RepositoryID,
		CommitSHA:    cmd.CommitSHA,
		Files:        cmd.Paths,
		Types:        types,
	}

	results, err := s.Engine.AnalyzeRepository(ctx, req, moveFiles)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, &domain.AnalysisFailedError{Message: "no analysis results generated"}
	}

	final := results[0]
	if len(results) > 1 {
		final, err = s.Engine.MergeResults(results)
		if err != nil {
			return nil, err
		}
	}
	final.TenantID = cmd.TenantID
	final.CreatedAt = s.Clock.Now().UTC()

	if s.Reports != nil {
		url, err := s.uploadReport(ctx, cmd.TenantID, final)
		if err != nil {
			return nil, err
		}
		final.ReportURL = url
	}

	if err := s.Repo.Save(ctx, cmd.TenantID, final); err != nil {
		return nil, fmt.Errorf("saving analysis result: %w", err)
	}

	log.Info().
		Str("tenant", cmd.TenantID).
		Str("repository_id", cmd.RepositoryID).
		Str("analysis_id", final.ID).
		Float64("security_score", final.SecurityScore).
		Int("findings", len(final.Findings)).
		Msg("analysis completed")

	completed := make([]string, 0, len(types))
	for _, t := range types {
		completed = append(completed, string(t))
	}

	return &AnalyzeRepositoryResult{
		AnalysisID:              final.ID,
		RepositoryID:            final.RepositoryID,
		CommitSHA:               final.CommitSHA,
		SecurityScore:           final.SecurityScore,
		QualityScore:            final.QualityScore,
		VulnerabilitiesFound:    len(final.Findings),
		CriticalVulnerabilities: final.CriticalCount(),
		DurationMS:              final.DurationMS,
		AnalysisTypes:           completed,
		ReportURL:               final.ReportURL,
	}, nil
}

// uploadReport serializes the result and ships it to the report store. The
// temp file is removed by the store on success and here on failure.
func (s *Service) uploadReport(ctx context.Context, tenant string, res *domain.Result) (string, error) {
	payload, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}
	f, err := os.CreateTemp("", "analysis-*.json")
	if err != nil {
		return "", fmt.Errorf("creating report file: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing report file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("closing report file: %w", err)
	}

	key := fmt.Sprintf("%s/%s/%s.json", tenant, res.RepositoryID, res.ID)
	url, err := s.Reports.UploadAndCleanup(ctx, f.Name(), key)
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("uploading report: %w", err)
	}
	return url, nil
}

// AnalyzeCodeCommand runs the tracks over one pasted snippet without
// persisting anything.
type AnalyzeCodeCommand struct {
	TenantID string
	FilePath string
	Code     string
	Types    []domain.Type
}

type AnalyzeCodeResult struct {
	SecurityScore   float64                 `json:"security_score"`
	QualityScore    float64                 `json:"quality_score"`
	Vulnerabilities []domain.Finding        `json:"vulnerabilities"`
	Recommendations []domain.Recommendation `json:"recommendations"`
	DurationMS      int64                   `json:"analysis_duration_ms"`
}

func (s *Service) AnalyzeCode(ctx context.Context, cmd AnalyzeCodeCommand) (*AnalyzeCodeResult, error) {
	start := s.Clock.Now()

	path := cmd.FilePath
	if path == "" {
		path = "snippet.move"
	}
	types := cmd.Types
	if len(types) == 0 {
		types = []domain.Type{domain.TypeStatic}
	}

	req := domain.Request{
		RepositoryID: uuid.New().String(),
		CommitSHA:    "temporary",
		Types:        types,
	}

	results, err := s.Engine.AnalyzeRepository(ctx, req, map[string]string{path: cmd.Code})
	if err != nil {
		return nil, err
	}
	final := results[0]
	if len(results) > 1 {
		final, err = s.Engine.MergeResults(results)
		if err != nil {
			return nil, err
		}
	}

	return &AnalyzeCodeResult{
		SecurityScore:   final.SecurityScore,
		QualityScore:    final.QualityScore,
		Vulnerabilities: final.Findings,
		Recommendations: final.Recommendations,
		DurationMS:      time.Since(start).Milliseconds(),
	}, nil
}

type StatusResult struct {
	RepositoryID  string                         `json:"repository_id"`
	Latest        *domain.Summary                `json:"latest_analysis,omitempty"`
	TotalAnalyses int                            `json:"total_analyses"`
	Statistics    domain.VulnerabilityStatistics `json:"vulnerability_statistics"`
}

// Status reports the latest analysis and aggregate numbers for a repository.
func (s *Service) Status(ctx context.Context, tenant, repositoryID string) (*StatusResult, error) {
	latest, err := s.Repo.LatestByRepository(ctx, tenant, repositoryID)
	if err != nil {
		return nil, err
	}
	total, err := s.Repo.CountByRepository(ctx, tenant, repositoryID)
	if err != nil {
		return nil, err
	}
	stats, err := s.Repo.Statistics(ctx, tenant, repositoryID)
	if err != nil {
		return nil, err
	}

	out := &StatusResult{RepositoryID: repositoryID, TotalAnalyses: total, Statistics: stats}
	if latest != nil {
		summary := latest.Summarize()
		out.Latest = &summary
	}
	return out, nil
}

type HistoryResult struct {
	RepositoryID string           `json:"repository_id"`
	Analyses     []domain.Summary `json:"analyses"`
	TotalCount   int              `json:"total_count"`
}

// History lists the most recent analyses for a repository, newest first.
func (s *Service) History(ctx context.Context, tenant, repositoryID string, limit int) (*HistoryResult, error) {
	results, err := s.Repo.History(ctx, tenant, repositoryID, limit)
	if err != nil {
		return nil, err
	}
	total, err := s.Repo.CountByRepository(ctx, tenant, repositoryID)
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.Summary, 0, len(results))
	for _, r := range results {
		summaries = append(summaries, r.Summarize())
	}
	return &HistoryResult{RepositoryID: repositoryID, Analyses: summaries, TotalCount: total}, nil
}

type DetailedResult struct {
	Result     *domain.Result                 `json:"result"`
	Statistics domain.VulnerabilityStatistics `json:"statistics"`
}

// Get returns one stored analysis with repository-level statistics attached.
func (s *Service) Get(ctx context.Context, tenant, analysisID string) (*DetailedResult, error) {
	res, err := s.Repo.Get(ctx, tenant, analysisID)
	if err != nil {
		return nil, err
	}
	stats, err := s.Repo.Statistics(ctx, tenant, res.RepositoryID)
	if err != nil {
		return nil, err
	}
	return &DetailedResult{Result: res, Statistics: stats}, nil
}

type VulnerabilityList struct {
	RepositoryID    string                         `json:"repository_id"`
	Vulnerabilities []domain.Finding               `json:"vulnerabilities"`
	Statistics      domain.VulnerabilityStatistics `json:"statistics"`
}

// Vulnerabilities lists every stored finding for a repository.
func (s *Service) Vulnerabilities(ctx context.Context, tenant, repositoryID string) (*VulnerabilityList, error) {
	findings, err := s.Repo.VulnerabilitiesByRepository(ctx, tenant, repositoryID)
	if err != nil {
		return nil, err
	}
	stats, err := s.Repo.Statistics(ctx, tenant, repositoryID)
	if err != nil {
		return nil, err
	}
	return &VulnerabilityList{RepositoryID: repositoryID, Vulnerabilities: findings, Statistics: stats}, nil
}

// Mark actions accepted by MarkVulnerability.
const (
	MarkActionFalsePositive = "false_positive"
	MarkActionFixed         = "fixed"
	MarkActionReopen        = "reopen"
)

// MarkVulnerability applies a triage action to one finding.
func (s *Service) MarkVulnerability(ctx context.Context, tenant, findingID, action string) error {
	switch action {
	case MarkActionFalsePositive:
		return s.Repo.MarkFalsePositive(ctx, tenant, findingID)
	case MarkActionFixed:
		return s.Repo.MarkFixed(ctx, tenant, findingID)
	case MarkActionReopen:
		return &domain.AnalysisFailedError{Message: "reopen is not yet implemented"}
	default:
		return fmt.Errorf("unknown mark action: %s", action)
	}
}

// Statistics returns the aggregate finding counts for a repository.
func (s *Service) Statistics(ctx context.Context, tenant, repositoryID string) (domain.VulnerabilityStatistics, error) {
	return s.Repo.Statistics(ctx, tenant, repositoryID)
}

// selectPaths keeps only the listed paths. Unknown paths are ignored rather
// than failing the run; the Move-file check catches a fully empty selection.
func selectPaths(files map[string]string, paths []string) map[string]string {
	keep := make(map[string]bool, len(paths))
	for _, p := range paths {
		keep[p] = true
	}
	out := make(map[string]string, len(paths))
	for path, content := range files {
		if keep[path] {
			out[path] = content
		}
	}
	return out
}
