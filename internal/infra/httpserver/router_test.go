package httpserver

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movesec/moveaudit/internal/application"
	appanalysis "github.com/movesec/moveaudit/internal/application/analysis"
	appgithub "github.com/movesec/moveaudit/internal/application/github"
	domain "github.com/movesec/moveaudit/internal/domain/analysis"
	"github.com/movesec/moveaudit/internal/middleware"
)

type memRepo struct {
	results  map[string]*domain.Result
	findings map[string]*domain.Finding
}

func newMemRepo() *memRepo {
	return &memRepo{
		results:  make(map[string]*domain.Result),
		findings: make(map[string]*domain.Finding),
	}
}

func (m *memRepo) Save(ctx context.Context, tenant string, res *domain.Result) error {
	m.results[res.ID] = res
	for i := range res.Findings {
		f := res.Findings[i]
		m.findings[f.ID] = &f
	}
	return nil
}

func (m *memRepo) Get(ctx context.Context, tenant, id string) (*domain.Result, error) {
	res, ok := m.results[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return res, nil
}

func (m *memRepo) LatestByRepository(ctx context.Context, tenant, repositoryID string) (*domain.Result, error) {
	var latest *domain.Result
	for _, res := range m.results {
		if res.RepositoryID != repositoryID {
			continue
		}
		if latest == nil || res.CreatedAt.After(latest.CreatedAt) {
			latest = res
		}
	}
	return latest, nil
}

func (m *memRepo) History(ctx context.Context, tenant, repositoryID string, limit int) ([]*domain.Result, error) {
	var out []*domain.Result
	for _, res := range m.results {
		if res.RepositoryID == repositoryID {
			out = append(out, res)
		}
	}
	return out, nil
}

func (m *memRepo) CountByRepository(ctx context.Context, tenant, repositoryID string) (int, error) {
	n := 0
	for _, res := range m.results {
		if res.RepositoryID == repositoryID {
			n++
		}
	}
	return n, nil
}

func (m *memRepo) VulnerabilitiesByRepository(ctx context.Context, tenant, repositoryID string) ([]domain.Finding, error) {
	var out []domain.Finding
	for _, res := range m.results {
		if res.RepositoryID == repositoryID {
			out = append(out, res.Findings...)
		}
	}
	return out, nil
}

func (m *memRepo) VulnerabilitiesByAnalysis(ctx context.Context, tenant, analysisID string) ([]domain.Finding, error) {
	res, ok := m.results[analysisID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return res.Findings, nil
}

func (m *memRepo) MarkFalsePositive(ctx context.Context, tenant, findingID string) error {
	f, ok := m.findings[findingID]
	if !ok {
		return sql.ErrNoRows
	}
	f.IsFalsePositive = true
	return nil
}

func (m *memRepo) MarkFixed(ctx context.Context, tenant, findingID string) error {
	if _, ok := m.findings[findingID]; !ok {
		return sql.ErrNoRows
	}
	return nil
}

func (m *memRepo) Statistics(ctx context.Context, tenant, repositoryID string) (domain.VulnerabilityStatistics, error) {
	stats := domain.VulnerabilityStatistics{}
	for _, res := range m.results {
		if res.RepositoryID == repositoryID {
			stats.Total += len(res.Findings)
		}
	}
	return stats, nil
}

func newTestRouter(t *testing.T, repo domain.Repository, opts Options) http.Handler {
	t.Helper()
	svc := &appanalysis.Service{
		Repo:   repo,
		Engine: domain.NewEngine(nil),
		Clock:  application.SystemClock{},
	}
	ghSvc := appgithub.NewService(svc, nil)
	return NewRouter(svc, ghSvc, opts)
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeCodeEndpoint(t *testing.T) {
	h := newTestRouter(t, newMemRepo(), Options{})

	rec := doRequest(t, h, http.MethodPost, "/v1/acme/analysis/code", map[string]any{
		"code": "module vault::vault {\n    public entry fun take() {\n        transfer::public_transfer(coin, sender);\n    }\n}\n",
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		SecurityScore   float64          `json:"security_score"`
		Vulnerabilities []domain.Finding `json:"vulnerabilities"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Vulnerabilities)
	assert.Less(t, body.SecurityScore, 95.0)
}

func TestAnalyzeCodeRequiresCode(t *testing.T) {
	h := newTestRouter(t, newMemRepo(), Options{})

	rec := doRequest(t, h, http.MethodPost, "/v1/acme/analysis/code", map[string]any{}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "code is required")
}

func TestAnalyzeRepositoryWithoutProviderIsUnprocessable(t *testing.T) {
	h := newTestRouter(t, newMemRepo(), Options{})

	rec := doRequest(t, h, http.MethodPost, "/v1/acme/analysis/repository", map[string]any{
		"owner": "acme",
		"repo":  "vault",
	}, nil)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "no file provider configured")
}

func TestAnalyzeRepositoryRejectsUnknownType(t *testing.T) {
	h := newTestRouter(t, newMemRepo(), Options{})

	rec := doRequest(t, h, http.MethodPost, "/v1/acme/analysis/repository", map[string]any{
		"owner":          "acme",
		"repo":           "vault",
		"analysis_types": []string{"fuzzing"},
	}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAnalysisNotFound(t *testing.T) {
	h := newTestRouter(t, newMemRepo(), Options{})

	rec := doRequest(t, h, http.MethodGet, "/v1/acme/analysis/6ba7b810-9dad-41d1-80b4-00c04fd430c8", nil, nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAnalysisRejectsMalformedID(t *testing.T) {
	h := newTestRouter(t, newMemRepo(), Options{})

	rec := doRequest(t, h, http.MethodGet, "/v1/acme/analysis/not-a-uuid", nil, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	repo := newMemRepo()
	require.NoError(t, repo.Save(context.Background(), "acme", &domain.Result{
		ID:           "11111111-1111-4111-8111-111111111111",
		RepositoryID: "acme/vault",
		Type:         domain.TypeStatic,
	}))
	h := newTestRouter(t, repo, Options{})

	rec := doRequest(t, h, http.MethodGet, "/v1/acme/repositories/acme/vault/status", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		RepositoryID  string `json:"repository_id"`
		TotalAnalyses int    `json:"total_analyses"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "acme/vault", body.RepositoryID)
	assert.Equal(t, 1, body.TotalAnalyses)
}

func TestMarkVulnerability(t *testing.T) {
	repo := newMemRepo()
	findingID := "22222222-2222-4222-8222-222222222222"
	require.NoError(t, repo.Save(context.Background(), "acme", &domain.Result{
		ID:           "11111111-1111-4111-8111-111111111111",
		RepositoryID: "acme/vault",
		Findings:     []domain.Finding{{ID: findingID, Type: domain.VulnUnauthorizedAccess}},
	}))
	h := newTestRouter(t, repo, Options{})

	rec := doRequest(t, h, http.MethodPost, "/v1/acme/vulnerabilities/"+findingID+"/mark", map[string]string{
		"action": "false_positive",
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, repo.findings[findingID].IsFalsePositive)
}

func TestMarkVulnerabilityUnknownAction(t *testing.T) {
	h := newTestRouter(t, newMemRepo(), Options{})

	rec := doRequest(t, h, http.MethodPost, "/v1/acme/vulnerabilities/22222222-2222-4222-8222-222222222222/mark", map[string]string{
		"action": "ignore-forever",
	}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkVulnerabilityNotFound(t *testing.T) {
	h := newTestRouter(t, newMemRepo(), Options{})

	rec := doRequest(t, h, http.MethodPost, "/v1/acme/vulnerabilities/22222222-2222-4222-8222-222222222222/mark", map[string]string{
		"action": "fixed",
	}, nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookQueuesAnalysis(t *testing.T) {
	h := newTestRouter(t, newMemRepo(), Options{})

	payload := map[string]any{
		"after": "a3f8b21c9d04e5f6a3f8b21c9d04e5f6a3f8b21c",
		"repository": map[string]any{
			"full_name": "acme/vault",
			"name":      "vault",
			"owner":     map[string]any{"login": "acme"},
		},
		"commits": []map[string]any{
			{"added": []string{"README.md"}, "modified": []string{"docs/notes.txt"}},
		},
	}
	rec := doRequest(t, h, http.MethodPost, "/v1/acme/webhook/github", payload, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "acme/vault", body["repository"])
}

func TestWebhookRequiresRepository(t *testing.T) {
	h := newTestRouter(t, newMemRepo(), Options{})

	rec := doRequest(t, h, http.MethodPost, "/v1/acme/webhook/github", map[string]any{
		"after": "a3f8b21c",
	}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRequiredWhenKeysConfigured(t *testing.T) {
	h := newTestRouter(t, newMemRepo(), Options{
		APIKeys: map[string]string{"acme": "secret-key"},
	})

	rec := doRequest(t, h, http.MethodGet, "/v1/acme/repositories/acme/vault/status", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/v1/acme/repositories/acme/vault/status", nil, map[string]string{
		"Authorization": "Bearer secret-key",
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRejectsForeignTenant(t *testing.T) {
	h := newTestRouter(t, newMemRepo(), Options{
		APIKeys: map[string]string{"acme": "secret-key"},
	})

	rec := doRequest(t, h, http.MethodGet, "/v1/other/repositories/acme/vault/status", nil, map[string]string{
		"Authorization": "Bearer secret-key",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	healthy := middleware.CheckFunc(func(ctx context.Context) error { return nil })
	h := newTestRouter(t, newMemRepo(), Options{
		Checkers: map[string]middleware.HealthChecker{"store": healthy},
	})

	rec := doRequest(t, h, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)

	rec = doRequest(t, h, http.MethodGet, "/health/live", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthReportsUnhealthyChecker(t *testing.T) {
	broken := middleware.CheckFunc(func(ctx context.Context) error { return fmt.Errorf("connection refused") })
	h := newTestRouter(t, newMemRepo(), Options{
		Checkers: map[string]middleware.HealthChecker{"db": broken},
	})

	rec := doRequest(t, h, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(t, newMemRepo(), Options{})

	rec := doRequest(t, h, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "requests_total")
	assert.Contains(t, rec.Body.String(), "analyses_total")
}

func TestTenantFormatValidated(t *testing.T) {
	h := newTestRouter(t, newMemRepo(), Options{})

	rec := doRequest(t, h, http.MethodGet, "/v1/bad%20tenant/repositories/acme/vault/status", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
