package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/libbyhq/libby/pkg/errors"
	"github.com/libbyhq/libby/pkg/httputil"
	"github.com/libbyhq/libby/pkg/library"
)

// Options configures a Resolver.
type Options struct {
	// Retry bounds attempts against one repository for transient failures.
	Retry httputil.Policy
	// Timeout limits a single fetch attempt (default 30s).
	Timeout time.Duration
	Logger  *log.Logger
}

const defaultTimeout = 30 * time.Second

// Resolver locates artifacts across an ordered repository list.
type Resolver struct {
	factory *Factory
	global  []string
	opts    Options
}

// NewResolver creates a Resolver. global lists the repositories every
// descriptor may use after (or before, see library.Mode) its own.
func NewResolver(f *Factory, global []string, opts Options) *Resolver {
	if f == nil {
		f = &Factory{}
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = httputil.DefaultPolicy
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Resolver{factory: f, global: append([]string(nil), global...), opts: opts}
}

// Factory returns the factory used to open repositories.
func (r *Resolver) Factory() *Factory { return r.factory }

// Options returns the settings in effect, defaults applied.
func (r *Resolver) Options() Options { return r.opts }

// Global returns the global repository URLs.
func (r *Resolver) Global() []string { return append([]string(nil), r.global...) }

// Plan returns the repositories Locate will try for d, in order: direct
// URLs, then the descriptor's and global repositories ordered by d.Mode().
// Duplicates keep their first position.
func (r *Resolver) Plan(d *library.Descriptor) ([]Repository, error) {
	var repos []Repository
	seen := make(map[string]bool)
	add := func(open func(string) (Repository, error), urls []string) error {
		for _, u := range urls {
			if seen[u] {
				continue
			}
			seen[u] = true
			repo, err := open(u)
			if err != nil {
				return errors.Context(err).At(errors.StageLocate, d.String(), u)
			}
			repos = append(repos, repo)
		}
		return nil
	}

	if err := add(r.factory.Direct, d.URLs()); err != nil {
		return nil, err
	}
	if err := add(r.factory.Open, Ordered(d, r.global)); err != nil {
		return nil, err
	}
	return repos, nil
}

// Ordered merges d's repositories with global ones according to d.Mode(),
// dropping duplicates. Direct URLs are not included.
func Ordered(d *library.Descriptor, global []string) []string {
	var order [][]string
	switch d.Mode() {
	case library.GlobalFirst:
		order = [][]string{global, d.Repositories()}
	case library.LibraryOnly:
		order = [][]string{d.Repositories()}
	default:
		order = [][]string{d.Repositories(), global}
	}
	var out []string
	seen := make(map[string]bool)
	for _, urls := range order {
		for _, u := range urls {
			if !seen[u] {
				seen[u] = true
				out = append(out, u)
			}
		}
	}
	return out
}

// Located is a successful fetch.
type Located struct {
	Data        []byte
	URL         string // exact file URL
	Repository  string // repository name
	FileVersion string // timestamped version for SNAPSHOT builds, else ""
	Attempts    Attempts
}

// Attempt records one repository that did not supply the file.
type Attempt struct {
	Repository string
	URL        string
	Err        error
}

// Attempts is the list of failed repositories; it doubles as the cause of
// a NOT_FOUND error.
type Attempts []Attempt

func (a Attempts) Error() string {
	if len(a) == 0 {
		return "no repositories configured"
	}
	parts := make([]string, len(a))
	for i, at := range a {
		parts[i] = fmt.Sprintf("%s (%v)", at.URL, at.Err)
	}
	return "tried " + strings.Join(parts, "; ")
}

// Locate fetches d's jar from the first repository in Plan(d) that has it.
func (r *Resolver) Locate(ctx context.Context, d *library.Descriptor) (*Located, error) {
	repos, err := r.Plan(d)
	if err != nil {
		return nil, err
	}
	return r.FetchFrom(ctx, repos, Request{Coordinate: d.Coordinate(), Ext: "jar"})
}

// FetchFrom tries repos strictly in order. A miss moves on at once; a
// transient failure is retried per the retry policy and then counts as a
// miss. The first success wins and later repositories are not contacted.
func (r *Resolver) FetchFrom(ctx context.Context, repos []Repository, req Request) (*Located, error) {
	coord := req.Coordinate.String()
	var attempts Attempts

	for _, repo := range repos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fileReq := req
		if req.Coordinate.IsSnapshot() && req.File == "" && req.FileVersion == "" {
			fileReq.FileVersion = r.snapshotVersion(ctx, repo, req)
		}

		url := repo.URL(fileReq)
		data, err := r.fetch(ctx, repo, fileReq)
		if err == nil {
			r.opts.Logger.Debug("fetched", "coordinate", coord, "url", url, "bytes", len(data))
			return &Located{
				Data:        data,
				URL:         url,
				Repository:  repo.Name(),
				FileVersion: fileReq.FileVersion,
				Attempts:    attempts,
			}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !stderrors.Is(err, ErrNotFound) {
			r.opts.Logger.Warn("repository failed", "coordinate", coord, "url", url, "err", err)
		} else {
			r.opts.Logger.Debug("not found", "coordinate", coord, "url", url)
		}
		attempts = append(attempts, Attempt{Repository: repo.Name(), URL: url, Err: err})
	}

	return nil, &errors.Error{
		Code:       errors.ErrCodeNotFound,
		Message:    fmt.Sprintf("%s not found in %d repositories", req.FileName(), len(repos)),
		Stage:      errors.StageLocate,
		Coordinate: coord,
		Cause:      attempts,
	}
}

// fetch runs one repository fetch under the retry policy, each attempt
// with its own timeout. Timeouts are transient.
func (r *Resolver) fetch(ctx context.Context, repo Repository, req Request) ([]byte, error) {
	var data []byte
	err := httputil.Retry(ctx, r.opts.Retry, func() error {
		actx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()

		var err error
		data, err = repo.Fetch(actx, req)
		if err != nil && ctx.Err() == nil && stderrors.Is(actx.Err(), context.DeadlineExceeded) && !httputil.IsRetryable(err) {
			err = httputil.Retryable(&errors.Error{
				Code:    errors.ErrCodeTransientFetch,
				Message: fmt.Sprintf("attempt timed out after %s", r.opts.Timeout),
				Cause:   err,
			})
		}
		return err
	})
	return data, err
}

// snapshotVersion asks repo for the latest timestamped build of a SNAPSHOT.
// Any failure falls back to the literal -SNAPSHOT file name.
func (r *Resolver) snapshotVersion(ctx context.Context, repo Repository, req Request) string {
	meta, err := r.fetch(ctx, repo, Request{Coordinate: req.Coordinate, File: MetadataFile})
	if err != nil {
		return ""
	}
	v, err := SnapshotVersion(meta, req.Coordinate, req.ext())
	if err != nil {
		r.opts.Logger.Warn("bad snapshot metadata", "coordinate", req.Coordinate.String(), "repository", repo.Name(), "err", err)
		return ""
	}
	return v
}
