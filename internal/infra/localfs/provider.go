package localfs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Provider serves Move sources from checkouts on the local filesystem.
// Repositories are laid out as <root>/<owner>/<repo>. The ref argument is
// ignored; analysis runs against whatever is on disk.
type Provider struct {
	root string
}

func NewProvider(root string) *Provider {
	return &Provider{root: filepath.Clean(root)}
}

func (p *Provider) RepositoryFiles(ctx context.Context, owner, repo, ref string) (map[string]string, error) {
	return Files(filepath.Join(p.root, owner, repo))
}

func (p *Provider) FileContent(ctx context.Context, owner, repo, path, ref string) (string, error) {
	base := filepath.Join(p.root, owner, repo)
	full := filepath.Join(base, filepath.FromSlash(path))
	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes repository root", path)
	}
	b, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Files reads every Move source under dir, keyed by slash-separated path
// relative to dir. Build output and VCS directories are skipped so that
// vendored dependency sources do not pollute the analysis.
func Files(dir string) (map[string]string, error) {
	files := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			switch d.Name() {
			case ".git", "build":
				if path != dir {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !strings.HasSuffix(path, ".move") {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
