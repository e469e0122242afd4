package github

import (
	"context"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v66/github"
	"github.com/rs/zerolog/log"
)

// Client adapts the GitHub contents API to the analysis file provider port.
type Client struct {
	api *gh.Client
}

// NewClient builds a GitHub client. An empty token yields unauthenticated
// access, which is enough for public repositories.
func NewClient(token string) *Client {
	api := gh.NewClient(nil)
	if token != "" {
		api = api.WithAuthToken(token)
	}
	return &Client{api: api}
}

// RepositoryFiles returns every Move source file reachable from ref,
// keyed by repository path.
func (c *Client) RepositoryFiles(ctx context.Context, owner, repo, ref string) (map[string]string, error) {
	if ref == "" {
		ref = "HEAD"
	}
	tree, _, err := c.api.Git.GetTree(ctx, owner, repo, ref, true)
	if err != nil {
		return nil, fmt.Errorf("listing repository tree: %w", err)
	}
	if tree.GetTruncated() {
		log.Warn().
			Str("owner", owner).
			Str("repo", repo).
			Msg("repository tree truncated by the API, some files may be skipped")
	}

	files := make(map[string]string)
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" || !strings.HasSuffix(entry.GetPath(), ".move") {
			continue
		}
		content, err := c.FileContent(ctx, owner, repo, entry.GetPath(), ref)
		if err != nil {
			return nil, err
		}
		files[entry.GetPath()] = content
	}
	return files, nil
}

// FileContent fetches one file at ref, decoded to text.
func (c *Client) FileContent(ctx context.Context, owner, repo, path, ref string) (string, error) {
	fc, _, _, err := c.api.Repositories.GetContents(ctx, owner, repo, path, &gh.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", path, err)
	}
	if fc == nil {
		return "", fmt.Errorf("fetching %s: path is a directory", path)
	}
	content, err := fc.GetContent()
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", path, err)
	}
	return content, nil
}
