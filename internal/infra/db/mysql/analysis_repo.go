package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	domain "github.com/movesec/moveaudit/internal/domain/analysis"
)

type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Save upserts the result row and rewrites its findings and recommendations.
// Children are replaced wholesale; their seq column preserves track order.
func (r *AnalysisRepository) Save(ctx context.Context, tenant string, res *domain.Result) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	const qResult = `
INSERT INTO analysis_results
  (id, tenant_id, repository_id, commit_sha, analysis_type,
   security_score, quality_score, duration_ms, analyzer_version,
   raw_json, report_url, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
  analysis_type=VALUES(analysis_type),
  security_score=VALUES(security_score), quality_score=VALUES(quality_score),
  duration_ms=VALUES(duration_ms), analyzer_version=VALUES(analyzer_version),
  raw_json=VALUES(raw_json), report_url=VALUES(report_url);
`
	rawJSON, err := marshalRaw(res.Raw)
	if err != nil {
		return err
	}
	createdAt := res.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	if _, err := tx.ExecContext(ctx, qResult,
		res.ID, stringOrDash(tenant), res.RepositoryID, stringOrDash(res.CommitSHA), res.Type,
		res.SecurityScore, res.QualityScore, res.DurationMS, res.AnalyzerVersion,
		rawJSON, res.ReportURL, createdAt,
	); err != nil {
		return fmt.Errorf("saving analysis result: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM analysis_findings WHERE analysis_id=?`, res.ID); err != nil {
		return fmt.Errorf("clearing findings: %w", err)
	}
	const qFinding = `
INSERT INTO analysis_findings
  (id, analysis_id, tenant_id, repository_id, seq, vulnerability_type, severity,
   confidence, file_path, line_number, code_snippet, description, recommendation,
   cve_id, is_false_positive, is_fixed, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?);
`
	for i, f := range res.Findings {
		if _, err := tx.ExecContext(ctx, qFinding,
			f.ID, res.ID, stringOrDash(tenant), res.RepositoryID, i, f.Type, f.Severity,
			f.Confidence, f.FilePath, f.LineNumber, f.CodeSnippet, f.Description, f.Recommendation,
			f.CVEID, f.IsFalsePositive, false, createdAt,
		); err != nil {
			return fmt.Errorf("saving finding: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM analysis_recommendations WHERE analysis_id=?`, res.ID); err != nil {
		return fmt.Errorf("clearing recommendations: %w", err)
	}
	const qRec = `
INSERT INTO analysis_recommendations
  (id, analysis_id, tenant_id, seq, category, title, description, priority, code_examples_json)
VALUES (?,?,?,?,?,?,?,?,?);
`
	for i, rec := range res.Recommendations {
		examples, err := json.Marshal(rec.CodeExamples)
		if err != nil {
			return fmt.Errorf("encoding code examples: %w", err)
		}
		if _, err := tx.ExecContext(ctx, qRec,
			rec.ID, res.ID, stringOrDash(tenant), i, rec.Category, rec.Title,
			rec.Description, rec.Priority, string(examples),
		); err != nil {
			return fmt.Errorf("saving recommendation: %w", err)
		}
	}

	return tx.Commit()
}

const resultColumns = `id, tenant_id, repository_id, commit_sha, analysis_type,
       security_score, quality_score, duration_ms, analyzer_version,
       raw_json, report_url, created_at`

// Get loads one result with its findings and recommendations.
func (r *AnalysisRepository) Get(ctx context.Context, tenant, id string) (*domain.Result, error) {
	q := `SELECT ` + resultColumns + ` FROM analysis_results WHERE tenant_id=? AND id=? LIMIT 1;`
	res, err := scanResult(r.db.QueryRowContext(ctx, q, tenant, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// LatestByRepository returns the newest result, or nil when the repository
// has never been analyzed.
func (r *AnalysisRepository) LatestByRepository(ctx context.Context, tenant, repositoryID string) (*domain.Result, error) {
	q := `SELECT ` + resultColumns + `
FROM analysis_results
WHERE tenant_id=? AND repository_id=?
ORDER BY created_at DESC, id DESC LIMIT 1;`
	res, err := scanResult(r.db.QueryRowContext(ctx, q, tenant, repositoryID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// History lists results for a repository, newest first.
func (r *AnalysisRepository) History(ctx context.Context, tenant, repositoryID string, limit int) ([]*domain.Result, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + resultColumns + `
FROM analysis_results
WHERE tenant_id=? AND repository_id=?
ORDER BY created_at DESC, id DESC LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, tenant, repositoryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, res := range out {
		if err := r.loadChildren(ctx, res); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *AnalysisRepository) CountByRepository(ctx context.Context, tenant, repositoryID string) (int, error) {
	const q = `SELECT COUNT(*) FROM analysis_results WHERE tenant_id=? AND repository_id=?;`
	var n int
	if err := r.db.QueryRowContext(ctx, q, tenant, repositoryID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

const findingColumns = `id, vulnerability_type, severity, confidence, file_path, line_number,
       code_snippet, description, recommendation, cve_id, is_false_positive`

// VulnerabilitiesByRepository lists every stored finding for a repository,
// newest analysis first, track order within.
func (r *AnalysisRepository) VulnerabilitiesByRepository(ctx context.Context, tenant, repositoryID string) ([]domain.Finding, error) {
	q := `SELECT ` + findingColumns + `
FROM analysis_findings
WHERE tenant_id=? AND repository_id=?
ORDER BY created_at DESC, analysis_id DESC, seq ASC;`
	return r.queryFindings(ctx, q, tenant, repositoryID)
}

// VulnerabilitiesByAnalysis lists findings of one analysis in track order.
func (r *AnalysisRepository) VulnerabilitiesByAnalysis(ctx context.Context, tenant, analysisID string) ([]domain.Finding, error) {
	q := `SELECT ` + findingColumns + `
FROM analysis_findings
WHERE tenant_id=? AND analysis_id=?
ORDER BY seq ASC;`
	return r.queryFindings(ctx, q, tenant, analysisID)
}

func (r *AnalysisRepository) queryFindings(ctx context.Context, q string, args ...any) ([]domain.Finding, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// MarkFalsePositive flags one finding; unknown ids surface as sql.ErrNoRows.
func (r *AnalysisRepository) MarkFalsePositive(ctx context.Context, tenant, findingID string) error {
	return r.markFinding(ctx, `UPDATE analysis_findings SET is_false_positive=TRUE WHERE tenant_id=? AND id=?;`, tenant, findingID)
}

// MarkFixed flags one finding as resolved.
func (r *AnalysisRepository) MarkFixed(ctx context.Context, tenant, findingID string) error {
	return r.markFinding(ctx, `UPDATE analysis_findings SET is_fixed=TRUE WHERE tenant_id=? AND id=?;`, tenant, findingID)
}

func (r *AnalysisRepository) markFinding(ctx context.Context, q, tenant, findingID string) error {
	res, err := r.db.ExecContext(ctx, q, tenant, findingID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Statistics aggregates finding counts. Severity buckets exclude findings
// already marked false positive; Total does not.
func (r *AnalysisRepository) Statistics(ctx context.Context, tenant, repositoryID string) (domain.VulnerabilityStatistics, error) {
	const q = `
SELECT COUNT(*) AS total,
       COALESCE(SUM(CASE WHEN severity='critical' AND NOT is_false_positive THEN 1 ELSE 0 END),0) AS critical,
       COALESCE(SUM(CASE WHEN severity='high'     AND NOT is_false_positive THEN 1 ELSE 0 END),0) AS high,
       COALESCE(SUM(CASE WHEN severity='medium'   AND NOT is_false_positive THEN 1 ELSE 0 END),0) AS medium,
       COALESCE(SUM(CASE WHEN severity='low'      AND NOT is_false_positive THEN 1 ELSE 0 END),0) AS low,
       COALESCE(SUM(CASE WHEN is_false_positive THEN 1 ELSE 0 END),0) AS false_positives,
       COALESCE(SUM(CASE WHEN is_fixed THEN 1 ELSE 0 END),0) AS fixed
FROM analysis_findings
WHERE tenant_id=? AND repository_id=?;
`
	var stats domain.VulnerabilityStatistics
	if err := r.db.QueryRowContext(ctx, q, tenant, repositoryID).Scan(
		&stats.Total, &stats.Critical, &stats.High, &stats.Medium, &stats.Low,
		&stats.FalsePositives, &stats.Fixed,
	); err != nil {
		return domain.VulnerabilityStatistics{}, err
	}
	return stats, nil
}

func (r *AnalysisRepository) loadChildren(ctx context.Context, res *domain.Result) error {
	findings, err := r.VulnerabilitiesByAnalysis(ctx, res.TenantID, res.ID)
	if err != nil {
		return err
	}
	res.Findings = findings

	const q = `
SELECT id, category, title, description, priority, code_examples_json
FROM analysis_recommendations
WHERE tenant_id=? AND analysis_id=?
ORDER BY seq ASC;
`
	rows, err := r.db.QueryContext(ctx, q, res.TenantID, res.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	var recs []domain.Recommendation
	for rows.Next() {
		var rec domain.Recommendation
		var examplesJSON string
		if err := rows.Scan(&rec.ID, &rec.Category, &rec.Title, &rec.Description, &rec.Priority, &examplesJSON); err != nil {
			return err
		}
		if strings.TrimSpace(examplesJSON) != "" && examplesJSON != "null" {
			if err := json.Unmarshal([]byte(examplesJSON), &rec.CodeExamples); err != nil {
				return fmt.Errorf("decoding code examples: %w", err)
			}
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	res.Recommendations = recs
	return nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*domain.Result, error) {
	var res domain.Result
	var rawJSON string
	if err := row.Scan(
		&res.ID, &res.TenantID, &res.RepositoryID, &res.CommitSHA, &res.Type,
		&res.SecurityScore, &res.QualityScore, &res.DurationMS, &res.AnalyzerVersion,
		&rawJSON, &res.ReportURL, &res.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := unmarshalRaw(rawJSON, &res.Raw); err != nil {
		return nil, err
	}
	return &res, nil
}

func scanFinding(row rowScanner) (domain.Finding, error) {
	var f domain.Finding
	err := row.Scan(
		&f.ID, &f.Type, &f.Severity, &f.Confidence, &f.FilePath, &f.LineNumber,
		&f.CodeSnippet, &f.Description, &f.Recommendation, &f.CVEID, &f.IsFalsePositive,
	)
	return f, err
}

func marshalRaw(raw map[string]any) (string, error) {
	if raw == nil {
		return "{}", nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("encoding raw results: %w", err)
	}
	return string(b), nil
}

func unmarshalRaw(rawJSON string, dst *map[string]any) error {
	if strings.TrimSpace(rawJSON) == "" || rawJSON == "{}" {
		return nil
	}
	if err := json.Unmarshal([]byte(rawJSON), dst); err != nil {
		return fmt.Errorf("decoding raw results: %w", err)
	}
	return nil
}
