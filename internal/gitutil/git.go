// Package gitutil shells out to the git binary for the few plumbing
// operations the construct engine needs: resolving HEAD, reading
// user.name, and committing on COMPLETE (§1 "Git plumbing beyond the
// few operations the engine invokes"). It never links a git-plumbing
// library — the reference engine's own worktree manager takes the same
// os/exec approach.
package gitutil

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// Repo wraps git operations rooted at a working directory.
type Repo struct {
	root string
}

// Open returns a Repo rooted at dir.
func Open(dir string) *Repo { return &Repo{root: dir} }

func (r *Repo) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...) // #nosec G204 -- fixed subcommand set, no caller-controlled verb
	cmd.Dir = r.root
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return strings.TrimSpace(out.String()), nil
}

// HeadCommit resolves the current HEAD commit hash, used by the cache's
// staleness triple (§4.2) and by BUILD's done_at stamp (§4.8).
func (r *Repo) HeadCommit() (string, error) {
	return r.run("rev-parse", "HEAD")
}

// UserName reads the configured git user.name, used as a ticket's
// default author.
func (r *Repo) UserName() (string, error) {
	return r.run("config", "user.name")
}

// Commit stages everything under the repo root and commits with the
// given message (§4.9.1 "invokes a git commit with message...").
func (r *Repo) Commit(message string) error {
	if _, err := r.run("add", "-A"); err != nil {
		return err
	}
	_, err := r.run("commit", "-m", message, "--allow-empty")
	return err
}

// FetchMergePush fetches origin, merges the given branch, and pushes.
// Retried once on failure per §7's io-kind retry policy for git push.
func (r *Repo) FetchMergePush(branch string) error {
	if _, err := r.run("fetch", "origin", branch); err != nil {
		return err
	}
	if _, err := r.run("merge", "origin/"+branch, "--ff-only"); err != nil {
		return err
	}
	if _, err := r.run("push", "origin", branch); err != nil {
		if _, err2 := r.run("push", "origin", branch); err2 != nil {
			return err2
		}
	}
	return nil
}
