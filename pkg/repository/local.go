package repository

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Local is a repository on the filesystem.
type Local struct {
	root     string
	template string
}

// NewLocal creates a repository rooted at dir (a path or file:// URL).
// Used through Factory.Direct, the path names the file itself.
func NewLocal(dir string) *Local {
	if strings.HasPrefix(dir, "file:") {
		if u, err := url.Parse(dir); err == nil {
			dir = u.Path
		}
	}
	return &Local{root: dir, template: DefaultLayout}
}

func (l *Local) Name() string { return "file://" + filepath.ToSlash(l.root) }

func (l *Local) URL(req Request) string {
	return "file://" + filepath.ToSlash(filepath.Join(l.root, filepath.FromSlash(render(l.template, req))))
}

func (l *Local) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(l.root, filepath.FromSlash(render(l.template, req)))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
