// Package wt manages git worktrees for agent sessions. Each epic gets an
// isolated worktree under <repo>.worktrees/ on its own branch, so concurrent
// sessions against different epics never touch each other's checkouts.
package wt

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode"
)

// Worktree is one checked-out worktree of a repository.
type Worktree struct {
	Path   string `json:"path"`
	Branch string `json:"branch"`
}

// Client runs git operations against one repository.
type Client struct {
	repoPath string
}

// NewClient returns a worktree client bound to repoPath.
func NewClient(repoPath string) *Client {
	return &Client{repoPath: repoPath}
}

func (c *Client) git(args ...string) (string, error) {
	fullArgs := append([]string{"-C", c.repoPath}, args...)
	out, err := exec.Command("git", fullArgs...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func gitAt(path string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.Command("git", fullArgs...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// WorktreesDir is where this client places new worktrees: a sibling directory
// of the repository, so the checkouts stay out of the repo tree itself.
func (c *Client) WorktreesDir() string {
	return c.repoPath + ".worktrees"
}

// EnsureForEpic returns the worktree for an epic, creating branch and
// checkout as needed. Idempotent: an existing worktree on the epic's branch
// is returned as-is.
func (c *Client) EnsureForEpic(epicID, epicTitle string) (*Worktree, error) {
	branch := EpicBranch(epicID, epicTitle)
	path := filepath.Join(c.WorktreesDir(), branchDirname(branch))

	existing, err := c.List()
	if err != nil {
		return nil, err
	}
	for _, w := range existing {
		if w.Branch == branch {
			return &w, nil
		}
	}

	if err := os.MkdirAll(c.WorktreesDir(), 0755); err != nil {
		return nil, fmt.Errorf("create worktrees dir: %w", err)
	}

	exists, err := c.BranchExists(branch)
	if err != nil {
		return nil, err
	}
	if exists {
		if _, err := c.git("worktree", "add", path, branch); err != nil {
			return nil, err
		}
	} else {
		if _, err := c.git("worktree", "add", "-b", branch, path, "HEAD"); err != nil {
			return nil, err
		}
	}

	return &Worktree{Path: path, Branch: branch}, nil
}

// List parses `git worktree list --porcelain`, excluding the main checkout.
func (c *Client) List() ([]Worktree, error) {
	out, err := c.git("worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var worktrees []Worktree
	var current Worktree
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			current = Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "":
			if current.Path != "" && current.Path != c.repoPath {
				worktrees = append(worktrees, current)
			}
			current = Worktree{}
		}
	}
	if current.Path != "" && current.Path != c.repoPath {
		worktrees = append(worktrees, current)
	}
	return worktrees, nil
}

// Remove deletes a worktree checkout. The branch stays.
func (c *Client) Remove(path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	if _, err := c.git(args...); err != nil {
		return err
	}
	_, _ = c.git("worktree", "prune")
	return nil
}

// BranchExists reports whether a local branch exists.
func (c *Client) BranchExists(branch string) (bool, error) {
	err := exec.Command("git", "-C", c.repoPath, "show-ref", "--verify", "--quiet", "refs/heads/"+branch).Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsDirty reports whether a worktree has uncommitted changes.
func (c *Client) IsDirty(path string) (bool, error) {
	out, err := gitAt(path, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// CurrentBranch returns the branch checked out at path.
func (c *Client) CurrentBranch(path string) (string, error) {
	return gitAt(path, "rev-parse", "--abbrev-ref", "HEAD")
}

// EpicBranch builds the branch name for an epic: epic/<id-prefix>-<slug>.
func EpicBranch(epicID, epicTitle string) string {
	prefix := epicID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	slug := Slugify(epicTitle)
	if slug == "" {
		return "epic/" + strings.ToLower(prefix)
	}
	return "epic/" + strings.ToLower(prefix) + "-" + slug
}

// Slugify lowercases s and collapses everything non-alphanumeric to single
// hyphens, capped at 40 characters.
func Slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > 40 {
		slug = strings.Trim(slug[:40], "-")
	}
	return slug
}

// branchDirname flattens a branch name into a directory name.
func branchDirname(branch string) string {
	return strings.ReplaceAll(branch, "/", "-")
}
