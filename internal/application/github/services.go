package github

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	appanalysis "github.com/movesec/moveaudit/internal/application/analysis"
	domain "github.com/movesec/moveaudit/internal/domain/analysis"
)

// Service drives analyses from source-host events.
type Service struct {
	Analysis *appanalysis.Service
	Files    domain.FileProvider
}

func NewService(analysisSvc *appanalysis.Service, files domain.FileProvider) *Service {
	return &Service{Analysis: analysisSvc, Files: files}
}

// autoTypes is what host-triggered runs ask for: the static track plus the
// vulnerability alias, no generative tracks.
var autoTypes = []domain.Type{domain.TypeStatic, domain.TypeVulnerabilityDetection}

type AutoAnalyzeCommand struct {
	TenantID     string
	RepositoryID string
	Owner        string
	Repo         string
	CommitSHA    string
}

// AutoAnalyze pulls the full tree and runs the default tracks over it.
func (s *Service) AutoAnalyze(ctx context.Context, cmd AutoAnalyzeCommand) (*appanalysis.AnalyzeRepositoryResult, error) {
	files := map[string]string{}
	if s.Files == nil {
		log.Warn().
			Str("repository_id", cmd.RepositoryID).
			Msg("no file provider configured, auto-analysis will find nothing")
	} else {
		fetched, err := s.Files.RepositoryFiles(ctx, cmd.Owner, cmd.Repo, cmd.CommitSHA)
		if err != nil {
			return nil, err
		}
		files = fetched
	}

	return s.Analysis.AnalyzeFiles(ctx, appanalysis.AnalyzeRepositoryCommand{
		TenantID:     cmd.TenantID,
		RepositoryID: cmd.RepositoryID,
		Owner:        cmd.Owner,
		Repo:         cmd.Repo,
		CommitSHA:    cmd.CommitSHA,
		Types:        autoTypes,
	}, files)
}

type PushCommand struct {
	TenantID     string
	RepositoryID string
	Owner        string
	Repo         string
	CommitSHA    string
	ChangedFiles []string
}

// HandlePush analyzes only the Move files touched by a push. A push without
// Move changes is skipped and returns (nil, nil).
func (s *Service) HandlePush(ctx context.Context, cmd PushCommand) (*appanalysis.AnalyzeRepositoryResult, error) {
	var changed []string
	for _, path := range cmd.ChangedFiles {
		if strings.HasSuffix(path, ".move") {
			changed = append(changed, path)
		}
	}
	if len(changed) == 0 {
		log.Info().
			Str("repository_id", cmd.RepositoryID).
			Str("commit_sha", cmd.CommitSHA).
			Msg("push touched no Move files, skipping analysis")
		return nil, nil
	}
	if s.Files == nil {
		return nil, &domain.AnalysisFailedError{Message: "no file provider configured"}
	}

	files := make(map[string]string, len(changed))
	for _, path := range changed {
		content, err := s.Files.FileContent(ctx, cmd.Owner, cmd.Repo, path, cmd.CommitSHA)
		if err != nil {
			// A deleted or renamed file still shows up in the commit list.
			log.Warn().
				Err(err).
				Str("path", path).
				Str("commit_sha", cmd.CommitSHA).
				Msg("could not fetch changed file, skipping it")
			continue
		}
		files[path] = content
	}
	if len(files) == 0 {
		return nil, &domain.AnalysisFailedError{Message: "failed to retrieve content for changed Move files"}
	}

	return s.Analysis.AnalyzeFiles(ctx, appanalysis.AnalyzeRepositoryCommand{
		TenantID:     cmd.TenantID,
		RepositoryID: cmd.RepositoryID,
		Owner:        cmd.Owner,
		Repo:         cmd.Repo,
		CommitSHA:    cmd.CommitSHA,
		Types:        autoTypes,
	}, files)
}

// HandlePushUntilDone runs HandlePush with context.Background(), meant to be
// called from a goroutine after the webhook reply has been sent.
func (s *Service) HandlePushUntilDone(cmd PushCommand) (*appanalysis.AnalyzeRepositoryResult, error) {
	return s.HandlePush(context.Background(), cmd)
}
