// Package git drives the git command line for working-directory checkouts.
//
// Every command runs as "git -C <dir> ...", so a Repository always states
// which directory it targets. A non-zero exit becomes an *ExecError that
// carries the arguments, the directory and the captured stderr.
package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultExecutable is the git binary looked up on PATH.
const DefaultExecutable = "git"

// revisionDateLayout is the date format handed to --before.
const revisionDateLayout = "2006-01-02 15:04:05 -0700"

// ExecError reports a git command that exited unsuccessfully.
type ExecError struct {
	Args   []string
	Dir    string
	Stderr string
	Err    error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("git %s in %s: %v (stderr: %s)",
		strings.Join(e.Args, " "), e.Dir, e.Err, e.Stderr)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Repository represents a git working directory.
type Repository struct {
	dir    string
	exe    string
	logger *slog.Logger
}

// Option configures a Repository.
type Option func(*Repository)

// WithExecutable overrides the git binary.
func WithExecutable(exe string) Option {
	return func(r *Repository) {
		if exe != "" {
			r.exe = exe
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRepository returns a Repository targeting dir.
func NewRepository(dir string, opts ...Option) *Repository {
	r := &Repository{
		dir:    dir,
		exe:    DefaultExecutable,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command in the repository and returns stdout.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	return r.run(ctx, append([]string{"-C", r.dir}, args...), args)
}

func (r *Repository) run(ctx context.Context, fullArgs, args []string) (string, error) {
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, r.exe, fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	r.logger.Debug("exec", "dir", r.dir, "cmd", r.exe+" "+strings.Join(args, " "))
	err := command.Run()
	r.logLines("stdout", stdout.String())
	r.logLines("stderr", stderr.String())

	if err != nil {
		return "", &ExecError{
			Args:   args,
			Dir:    r.dir,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	return stdout.String(), nil
}

func (r *Repository) logLines(stream, output string) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		r.logger.Debug(scanner.Text(), "stream", stream)
	}
}

// Clone clones url into the repository directory. The parent directory must
// exist and the repository directory must not.
func (r *Repository) Clone(ctx context.Context, url string) error {
	args := []string{"clone", url, r.dir}
	_, err := r.run(ctx, args, args)
	return err
}

// Checkout switches the working tree to branch.
func (r *Repository) Checkout(ctx context.Context, branch string) error {
	_, err := r.Run(ctx, "checkout", branch)
	return err
}

// Pull fetches and merges the upstream of the current branch.
func (r *Repository) Pull(ctx context.Context) error {
	_, err := r.Run(ctx, "pull")
	return err
}

// ResetHard moves the working tree to revision, discarding local changes.
func (r *Repository) ResetHard(ctx context.Context, revision string) error {
	_, err := r.Run(ctx, "reset", "--hard", revision)
	return err
}

// RevisionAt returns the last commit on branch made before when. An empty
// branch means the current HEAD.
func (r *Repository) RevisionAt(ctx context.Context, when time.Time, branch string) (string, error) {
	args := []string{"rev-list", "-n", "1"}
	if !when.IsZero() {
		args = append(args, "--before="+formatRevisionDate(when))
	}
	if branch == "" {
		branch = "HEAD"
	}
	args = append(args, branch)

	out, err := r.Run(ctx, args...)
	if err != nil {
		return "", err
	}

	revision, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	if revision == "" {
		return "", fmt.Errorf("git rev-list in %s: no revision before %s", r.dir, formatRevisionDate(when))
	}
	return revision, nil
}

// formatRevisionDate renders when for --before. Year 9999, used as an
// open-ended validity marker, is clamped to 2099, which git's date parser
// still accepts.
func formatRevisionDate(when time.Time) string {
	if when.Year() == 9999 {
		when = when.AddDate(2099-9999, 0, 0)
	}
	return when.Format(revisionDateLayout)
}
