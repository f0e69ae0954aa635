package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aweris/refcache"
	"github.com/aweris/refcache/internal/git"
)

// Git resolves references relative to a git working directory. The "git"
// option names the repository; the reference is a path inside it.
//
// The repository is cloned once into "<dir>/<project>" and brought to the
// requested state on every resolution: "branch" is checked out, "pull"
// pulls, "revision" or "as_of" resets to a commit.
type Git struct {
	refcache.Base
	exe string
}

// NewGit returns a git handler. An empty executable uses "git" from PATH.
func NewGit(name, dir string, logger *slog.Logger, executable string) *Git {
	if executable == "" {
		executable = git.DefaultExecutable
	}
	return &Git{Base: refcache.NewBase(name, dir, logger), exe: executable}
}

var gitOptions = []string{
	refcache.OptGit,
	refcache.OptBranch,
	refcache.OptRevision,
	refcache.OptAsOf,
	refcache.OptPull,
}

func (h *Git) Resolve(ctx context.Context, ref string, opts refcache.Options) (string, refcache.Options, error) {
	if !opts.Has(refcache.OptGit) {
		return "", opts, nil
	}
	repo := strings.ReplaceAll(opts.String(refcache.OptGit), "\\", "/")
	out := opts.Without(gitOptions...)

	if !h.Cached() {
		if !isDir(repo) {
			return "", opts, fmt.Errorf("clone %s: no cache directory", repo)
		}
		return refcache.JoinInner(repo, ref), out, nil
	}

	asOf, err := opts.Time(refcache.OptAsOf)
	if err != nil {
		return "", opts, fmt.Errorf("%w: as_of: %w", refcache.ErrMalformedRef, err)
	}
	state := checkout{
		branch:   opts.String(refcache.OptBranch),
		revision: opts.String(refcache.OptRevision),
		asOf:     asOf,
		pull:     opts.Bool(refcache.OptPull),
	}

	workdir, err := h.Fetch(ctx, repo, refcache.Artifact{
		Key:    ProjectName,
		Fresh:  refcache.NeverFresh,
		Update: func(ctx context.Context, src, path string) error { return h.update(ctx, src, path, state) },
	})
	if err != nil {
		return "", opts, err
	}
	if workdir == "" {
		return "", opts, nil
	}
	return refcache.JoinInner(workdir, ref), out, nil
}

type checkout struct {
	branch   string
	revision string
	asOf     time.Time
	pull     bool
}

func (h *Git) update(ctx context.Context, src, path string, state checkout) error {
	r := git.NewRepository(path, git.WithExecutable(h.exe), git.WithLogger(h.Logger()))

	if !isDir(path) {
		h.Logger().Info("clone repository", "url", src, "dir", path)
		if err := r.Clone(ctx, src); err != nil {
			return err
		}
	}

	if state.branch != "" {
		if err := r.Checkout(ctx, state.branch); err != nil {
			return err
		}
	}
	if state.pull {
		if err := r.Pull(ctx); err != nil {
			return err
		}
	}

	revision := state.revision
	if revision == "" && !state.asOf.IsZero() {
		var err error
		if revision, err = r.RevisionAt(ctx, state.asOf, state.branch); err != nil {
			return err
		}
	}
	if revision != "" {
		return r.ResetHard(ctx, revision)
	}
	return nil
}

// ProjectName derives the working directory name for a repository: the last
// path element without ".git". It understands URLs, scp-like addresses such
// as "git@host:owner/repo.git" and local directories. Remote addresses must
// name an owner and a project.
func ProjectName(repo string) (string, error) {
	repo = strings.ReplaceAll(repo, "\\", "/")

	p := repo
	remote := false
	switch {
	case isDir(repo):
	case strings.Contains(repo, "://"):
		u, err := url.Parse(repo)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %w", refcache.ErrMalformedRef, repo, err)
		}
		p, remote = u.Path, u.Scheme != "file"
	default:
		if _, rest, ok := strings.Cut(repo, ":"); ok && !filepath.IsAbs(repo) {
			p, remote = rest, true
		}
	}

	if remote && len(strings.FieldsFunc(p, func(r rune) bool { return r == '/' })) < 2 {
		return "", fmt.Errorf("%w: %q does not name owner/project", refcache.ErrMalformedRef, repo)
	}

	p = strings.TrimRight(p, "/")
	name := strings.TrimSuffix(p[strings.LastIndex(p, "/")+1:], ".git")
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: missing project name in %q", refcache.ErrMalformedRef, repo)
	}
	return name, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
