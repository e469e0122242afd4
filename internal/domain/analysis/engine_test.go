package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	detect    func(code, filePath string) (*CodeAnalysis, error)
	recommend func(code string, findings []Finding) ([]Recommendation, error)
	quality   func(code string) (float64, error)
}

func (s *stubProvider) AnalyzeCode(ctx context.Context, p Prompt) (Completion, error) {
	return Completion{Content: "{}"}, nil
}

func (s *stubProvider) DetectVulnerabilities(ctx context.Context, code, filePath string) (*CodeAnalysis, error) {
	if s.detect == nil {
		return &CodeAnalysis{}, nil
	}
	return s.detect(code, filePath)
}

func (s *stubProvider) GenerateRecommendations(ctx context.Context, code string, findings []Finding) ([]Recommendation, error) {
	if s.recommend == nil {
		return nil, nil
	}
	return s.recommend(code, findings)
}

func (s *stubProvider) AssessCodeQuality(ctx context.Context, code string) (float64, error) {
	if s.quality == nil {
		return 75, nil
	}
	return s.quality(code)
}

func (s *stubProvider) ProviderName() string { return "stub" }
func (s *stubProvider) ModelName() string    { return "test-model" }

func moveFixture() map[string]string {
	return map[string]string{"sources/vault.move": vaultSrc}
}

func TestEngineFallsBackToStaticWithoutProvider(t *testing.T) {
	e := NewEngine(nil)

	req := Request{RepositoryID: "repo-1", Types: []Type{TypeLLMReview}}
	results, err := e.AnalyzeRepository(context.Background(), req, moveFixture())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, TypeStatic, results[0].Type)
}

func TestEngineRunsRequestedTracks(t *testing.T) {
	e := NewEngine(&stubProvider{})

	req := Request{Types: []Type{TypeStatic, TypeLLMReview, TypeQualityAssessment}}
	results, err := e.AnalyzeRepository(context.Background(), req, moveFixture())
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, TypeStatic, results[0].Type)
	assert.Equal(t, TypeLLMReview, results[1].Type)
	assert.Equal(t, TypeQualityAssessment, results[2].Type)
}

func TestEngineVulnerabilityDetectionAliasesStatic(t *testing.T) {
	e := NewEngine(nil)

	req := Request{Types: []Type{TypeVulnerabilityDetection}}
	results, err := e.AnalyzeRepository(context.Background(), req, moveFixture())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, TypeStatic, results[0].Type)
}

func TestLLMReviewCleanRun(t *testing.T) {
	e := NewEngine(&stubProvider{})

	res, err := e.llmReview(context.Background(), Request{}, moveFixture())
	require.NoError(t, err)
	assert.Equal(t, TypeLLMReview, res.Type)
	assert.Equal(t, 90.0, res.SecurityScore)
	assert.Equal(t, 85.0, res.QualityScore)
	assert.Equal(t, "stub-test-model", res.AnalyzerVersion)
	assert.Equal(t, "stub", res.Raw["llm_provider"])
	assert.Equal(t, "test-model", res.Raw["llm_model"])
	assert.Empty(t, res.Recommendations)
}

func TestLLMReviewScoresFindings(t *testing.T) {
	recommendCalled := false
	p := &stubProvider{
		detect: func(code, filePath string) (*CodeAnalysis, error) {
			return &CodeAnalysis{Findings: []Finding{{
				Type:       VulnUnauthorizedAccess,
				Severity:   SeverityCritical,
				Confidence: 80,
				FilePath:   filePath,
			}}}, nil
		},
		recommend: func(code string, findings []Finding) ([]Recommendation, error) {
			recommendCalled = true
			require.Len(t, findings, 1)
			return []Recommendation{{Title: "Lock It Down"}}, nil
		},
	}
	e := NewEngine(p)

	res, err := e.llmReview(context.Background(), Request{}, moveFixture())
	require.NoError(t, err)
	assert.True(t, recommendCalled)
	// One critical at 0.8 confidence: 100 - 30*0.8.
	assert.InDelta(t, 76.0, res.SecurityScore, 0.001)
	assert.InDelta(t, 68.4, res.QualityScore, 0.001)
	require.Len(t, res.Recommendations, 1)
}

func TestLLMReviewProviderFailureIsFatal(t *testing.T) {
	boom := errors.New("model unavailable")
	e := NewEngine(&stubProvider{
		detect: func(code, filePath string) (*CodeAnalysis, error) { return nil, boom },
	})

	_, err := e.AnalyzeRepository(context.Background(), Request{Types: []Type{TypeLLMReview}}, moveFixture())
	require.ErrorIs(t, err, boom)
}

func TestLLMReviewSkipsOversizedFiles(t *testing.T) {
	var seen []string
	e := NewEngine(&stubProvider{
		detect: func(code, filePath string) (*CodeAnalysis, error) {
			seen = append(seen, filePath)
			return &CodeAnalysis{}, nil
		},
	})

	files := map[string]string{
		"sources/small.move": vaultSrc,
		"sources/huge.move":  "module huge {}" + strings.Repeat(" ", maxDetectFileSize),
	}
	res, err := e.llmReview(context.Background(), Request{}, files)
	require.NoError(t, err)
	assert.Equal(t, []string{"sources/small.move"}, seen)
	assert.Equal(t, 1, res.Raw["files_analyzed"])
}

func TestLLMReviewRequiresMoveFiles(t *testing.T) {
	e := NewEngine(&stubProvider{})

	_, err := e.llmReview(context.Background(), Request{}, map[string]string{"README.md": "hi"})
	var failed *AnalysisFailedError
	require.ErrorAs(t, err, &failed)
}

func TestQualityAssessmentAverages(t *testing.T) {
	scores := map[string]float64{
		"sources/a.move": 80,
		"sources/b.move": 60,
	}
	e := NewEngine(&stubProvider{
		quality: func(code string) (float64, error) {
			for path, content := range moveQualityFixture() {
				if content == code {
					return scores[path], nil
				}
			}
			return 0, errors.New("unknown fixture")
		},
	})

	res, err := e.qualityAssessment(context.Background(), Request{}, moveQualityFixture())
	require.NoError(t, err)
	assert.Equal(t, TypeQualityAssessment, res.Type)
	assert.InDelta(t, 70.0, res.SecurityScore, 0.001)
	assert.InDelta(t, 70.0, res.QualityScore, 0.001)
	assert.Equal(t, "stub-test-model-quality", res.AnalyzerVersion)
	assert.Equal(t, 2, res.Raw["files_analyzed"])
	assert.Empty(t, res.Findings)
}

func TestQualityAssessmentSurvivesPerFileFailures(t *testing.T) {
	e := NewEngine(&stubProvider{
		quality: func(code string) (float64, error) {
			if strings.Contains(code, "b_module") {
				return 0, errors.New("flaky")
			}
			return 90, nil
		},
	})

	res, err := e.qualityAssessment(context.Background(), Request{}, moveQualityFixture())
	require.NoError(t, err)
	assert.InDelta(t, 90.0, res.SecurityScore, 0.001)
	assert.Equal(t, 1, res.Raw["files_analyzed"])
}

func TestQualityAssessmentDefaultsWhenNothingSucceeds(t *testing.T) {
	e := NewEngine(&stubProvider{
		quality: func(code string) (float64, error) { return 0, errors.New("down") },
	})

	res, err := e.qualityAssessment(context.Background(), Request{}, moveQualityFixture())
	require.NoError(t, err)
	assert.Equal(t, 50.0, res.SecurityScore)
	assert.Equal(t, 50.0, res.QualityScore)
	assert.Equal(t, 0, res.Raw["files_analyzed"])

	// 50 sits under the structure threshold but not strictly under 50.
	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, "Improve Code Quality", res.Recommendations[0].Title)
}

func TestQualityRecommendationThresholds(t *testing.T) {
	t.Run("healthy score yields none", func(t *testing.T) {
		assert.Empty(t, qualityRecommendations(85))
	})
	t.Run("below seventy asks for structure work", func(t *testing.T) {
		recs := qualityRecommendations(65)
		require.Len(t, recs, 1)
		assert.Equal(t, CategoryCodeStructure, recs[0].Category)
	})
	t.Run("below fifty adds the testing ask", func(t *testing.T) {
		recs := qualityRecommendations(40)
		require.Len(t, recs, 2)
		assert.Equal(t, CategoryTesting, recs[1].Category)
		assert.Equal(t, PriorityHigh, recs[1].Priority)
	})
}

func TestLLMScoresFloorAndFalsePositives(t *testing.T) {
	var findings []Finding
	for i := 0; i < 10; i++ {
		findings = append(findings, Finding{Severity: SeverityCritical, Confidence: 100})
	}
	security, quality := llmScores(findings)
	assert.Equal(t, 0.0, security)
	assert.Equal(t, 0.0, quality)

	security, _ = llmScores([]Finding{{Severity: SeverityCritical, Confidence: 100, IsFalsePositive: true}})
	assert.Equal(t, 100.0, security)
}

func moveQualityFixture() map[string]string {
	return map[string]string{
		"sources/a.move": "module fixture::a_module {}",
		"sources/b.move": "module fixture::b_module {}",
	}
}
