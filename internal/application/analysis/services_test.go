package analysis

import (
	"context"
	"errors"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/movesec/moveaudit/internal/domain/analysis"
)

const vaultSrc = `module defi::vault {
    use sui::coin;
    friend defi::vault_admin;
}`

type fakeRepo struct {
	saved    []*domain.Result
	marked   map[string]string
	statsErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{marked: map[string]string{}}
}

func (r *fakeRepo) Save(ctx context.Context, tenant string, res *domain.Result) error {
	r.saved = append(r.saved, res)
	return nil
}

func (r *fakeRepo) Get(ctx context.Context, tenant, id string) (*domain.Result, error) {
	for _, res := range r.saved {
		if res.ID == id {
			return res, nil
		}
	}
	return nil, errors.New("not found")
}

func (r *fakeRepo) LatestByRepository(ctx context.Context, tenant, repositoryID string) (*domain.Result, error) {
	var latest *domain.Result
	for _, res := range r.saved {
		if res.RepositoryID != repositoryID {
			continue
		}
		if latest == nil || res.CreatedAt.After(latest.CreatedAt) {
			latest = res
		}
	}
	return latest, nil
}

func (r *fakeRepo) History(ctx context.Context, tenant, repositoryID string, limit int) ([]*domain.Result, error) {
	var out []*domain.Result
	for _, res := range r.saved {
		if res.RepositoryID == repositoryID {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) CountByRepository(ctx context.Context, tenant, repositoryID string) (int, error) {
	n := 0
	for _, res := range r.saved {
		if res.RepositoryID == repositoryID {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) VulnerabilitiesByRepository(ctx context.Context, tenant, repositoryID string) ([]domain.Finding, error) {
	var out []domain.Finding
	for _, res := range r.saved {
		if res.RepositoryID == repositoryID {
			out = append(out, res.Findings...)
		}
	}
	return out, nil
}

func (r *fakeRepo) VulnerabilitiesByAnalysis(ctx context.Context, tenant, analysisID string) ([]domain.Finding, error) {
	res, err := r.Get(ctx, tenant, analysisID)
	if err != nil {
		return nil, err
	}
	return res.Findings, nil
}

func (r *fakeRepo) MarkFalsePositive(ctx context.Context, tenant, findingID string) error {
	r.marked[findingID] = "false_positive"
	return nil
}

func (r *fakeRepo) MarkFixed(ctx context.Context, tenant, findingID string) error {
	r.marked[findingID] = "fixed"
	return nil
}

func (r *fakeRepo) Statistics(ctx context.Context, tenant, repositoryID string) (domain.VulnerabilityStatistics, error) {
	if r.statsErr != nil {
		return domain.VulnerabilityStatistics{}, r.statsErr
	}
	stats := domain.VulnerabilityStatistics{}
	findings, _ := r.VulnerabilitiesByRepository(ctx, tenant, repositoryID)
	stats.Total = len(findings)
	return stats, nil
}

type fakeFiles struct {
	files map[string]string
	err   error
}

func (f *fakeFiles) RepositoryFiles(ctx context.Context, owner, repo, ref string) (map[string]string, error) {
	return f.files, f.err
}

func (f *fakeFiles) FileContent(ctx context.Context, owner, repo, path, ref string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	content, ok := f.files[path]
	if !ok {
		return "", errors.New("no such file")
	}
	return content, nil
}

type fakeStore struct {
	keys []string
	err  error
}

func (s *fakeStore) Upload(ctx context.Context, localPath, key string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.keys = append(s.keys, key)
	return "http://store.local/" + key, nil
}

func (s *fakeStore) UploadAndCleanup(ctx context.Context, localPath, key string) (string, error) {
	url, err := s.Upload(ctx, localPath, key)
	if err != nil {
		return "", err
	}
	os.Remove(localPath)
	return url, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestService(repo *fakeRepo) *Service {
	return &Service{
		Repo:   repo,
		Engine: domain.NewEngine(nil),
		Clock:  fixedClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
}

func TestAnalyzeFilesPersistsResult(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	res, err := svc.AnalyzeFiles(context.Background(), AnalyzeRepositoryCommand{
		TenantID:     "acme",
		RepositoryID: "repo-1",
		CommitSHA:    "abc123",
	}, map[string]string{"sources/vault.move": vaultSrc})
	require.NoError(t, err)

	assert.Equal(t, "repo-1", res.RepositoryID)
	assert.Equal(t, "abc123", res.CommitSHA)
	assert.Equal(t, 2, res.VulnerabilitiesFound)
	assert.Zero(t, res.CriticalVulnerabilities)
	assert.Equal(t, []string{"static_analysis"}, res.AnalysisTypes)
	assert.Empty(t, res.ReportURL)

	require.Len(t, repo.saved, 1)
	saved := repo.saved[0]
	assert.Equal(t, "acme", saved.TenantID)
	assert.Equal(t, res.AnalysisID, saved.ID)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), saved.CreatedAt)
}

func TestAnalyzeFilesRequiresMoveFiles(t *testing.T) {
	svc := newTestService(newFakeRepo())

	_, err := svc.AnalyzeFiles(context.Background(), AnalyzeRepositoryCommand{
		TenantID:     "acme",
		RepositoryID: "repo-1",
	}, map[string]string{"README.md": "docs only"})

	var failed *domain.AnalysisFailedError
	require.ErrorAs(t, err, &failed)
}

func TestAnalyzeFilesPathSubset(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	res, err := svc.AnalyzeFiles(context.Background(), AnalyzeRepositoryCommand{
		TenantID:     "acme",
		RepositoryID: "repo-1",
		Paths:        []string{"sources/clean.move"},
	}, map[string]string{
		"sources/clean.move": "/// Clean module.\nmodule demo::clean { }",
		"sources/vault.move": vaultSrc,
	})
	require.NoError(t, err)
	assert.Zero(t, res.VulnerabilitiesFound)
	assert.Equal(t, 95.0, res.SecurityScore)
}

func TestAnalyzeRepositoryWithoutProvider(t *testing.T) {
	svc := newTestService(newFakeRepo())

	_, err := svc.AnalyzeRepository(context.Background(), AnalyzeRepositoryCommand{TenantID: "acme"})
	var failed *domain.AnalysisFailedError
	require.ErrorAs(t, err, &failed)
}

func TestAnalyzeRepositoryFetchesFiles(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	svc.Files = &fakeFiles{files: map[string]string{"sources/vault.move": vaultSrc}}

	res, err := svc.AnalyzeRepository(context.Background(), AnalyzeRepositoryCommand{
		TenantID:     "acme",
		RepositoryID: "repo-1",
		Owner:        "movesec",
		Repo:         "vault",
		CommitSHA:    "abc123",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.VulnerabilitiesFound)
}

func TestAnalyzeFilesUploadsReport(t *testing.T) {
	repo := newFakeRepo()
	store := &fakeStore{}
	svc := newTestService(repo)
	svc.Reports = store

	res, err := svc.AnalyzeFiles(context.Background(), AnalyzeRepositoryCommand{
		TenantID:     "acme",
		RepositoryID: "repo-1",
	}, map[string]string{"sources/vault.move": vaultSrc})
	require.NoError(t, err)

	require.Len(t, store.keys, 1)
	assert.Equal(t, "acme/repo-1/"+res.AnalysisID+".json", store.keys[0])
	assert.Equal(t, "http://store.local/"+store.keys[0], res.ReportURL)
	assert.Equal(t, res.ReportURL, repo.saved[0].ReportURL)
}

func TestAnalyzeFilesFailsWhenUploadFails(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	svc.Reports = &fakeStore{err: errors.New("bucket offline")}

	_, err := svc.AnalyzeFiles(context.Background(), AnalyzeRepositoryCommand{
		TenantID:     "acme",
		RepositoryID: "repo-1",
	}, map[string]string{"sources/vault.move": vaultSrc})
	require.Error(t, err)
	assert.Empty(t, repo.saved)
}

func TestAnalyzeCodeDoesNotPersist(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	res, err := svc.AnalyzeCode(context.Background(), AnalyzeCodeCommand{
		TenantID: "acme",
		Code:     vaultSrc,
	})
	require.NoError(t, err)
	assert.Len(t, res.Vulnerabilities, 2)
	assert.NotZero(t, res.SecurityScore)
	assert.Empty(t, repo.saved)
}

func TestStatusAndHistory(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	for i, sha := range []string{"sha-1", "sha-2"} {
		_, err := svc.AnalyzeFiles(context.Background(), AnalyzeRepositoryCommand{
			TenantID:     "acme",
			RepositoryID: "repo-1",
			CommitSHA:    sha,
		}, map[string]string{"sources/vault.move": vaultSrc})
		require.NoError(t, err)
		// Distinct timestamps so latest is well-defined.
		repo.saved[i].CreatedAt = repo.saved[i].CreatedAt.Add(time.Duration(i) * time.Minute)
	}

	status, err := svc.Status(context.Background(), "acme", "repo-1")
	require.NoError(t, err)
	assert.Equal(t, 2, status.TotalAnalyses)
	require.NotNil(t, status.Latest)
	assert.Equal(t, "sha-2", status.Latest.CommitSHA)
	assert.Equal(t, 4, status.Statistics.Total)

	history, err := svc.History(context.Background(), "acme", "repo-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, history.TotalCount)
	require.Len(t, history.Analyses, 1)
	assert.Equal(t, "sha-2", history.Analyses[0].CommitSHA)
}

func TestStatusOnUnknownRepository(t *testing.T) {
	svc := newTestService(newFakeRepo())

	status, err := svc.Status(context.Background(), "acme", "ghost")
	require.NoError(t, err)
	assert.Nil(t, status.Latest)
	assert.Zero(t, status.TotalAnalyses)
}

func TestMarkVulnerability(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	require.NoError(t, svc.MarkVulnerability(context.Background(), "acme", "f-1", MarkActionFalsePositive))
	require.NoError(t, svc.MarkVulnerability(context.Background(), "acme", "f-2", MarkActionFixed))
	assert.Equal(t, "false_positive", repo.marked["f-1"])
	assert.Equal(t, "fixed", repo.marked["f-2"])

	err := svc.MarkVulnerability(context.Background(), "acme", "f-3", MarkActionReopen)
	var failed *domain.AnalysisFailedError
	require.ErrorAs(t, err, &failed)

	assert.Error(t, svc.MarkVulnerability(context.Background(), "acme", "f-4", "promote"))
}

func TestVulnerabilitiesListing(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	_, err := svc.AnalyzeFiles(context.Background(), AnalyzeRepositoryCommand{
		TenantID:     "acme",
		RepositoryID: "repo-1",
	}, map[string]string{"sources/vault.move": vaultSrc})
	require.NoError(t, err)

	list, err := svc.Vulnerabilities(context.Background(), "acme", "repo-1")
	require.NoError(t, err)
	assert.Equal(t, "repo-1", list.RepositoryID)
	assert.Len(t, list.Vulnerabilities, 2)
	assert.Equal(t, 2, list.Statistics.Total)
}
