// Package gitresolve walks a filesystem path upward looking for a .git
// directory or worktree-link file, resolving the repository root and
// current branch without shelling out to the git binary.
//
// No example repo in the reference pack does both the upward walk and the
// worktree ".git is a file" form: the only pack precedent
// (claude-session.go's GetGitInfo) shells out to `git rev-parse` in the
// current working directory only. This package is therefore a from-scratch,
// stdlib-only implementation (see DESIGN.md).
package gitresolve

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Result is the resolved repository root directory and branch name for one
// filesystem path.
type Result struct {
	Dir    string
	Branch string
}

// Cache memoizes directory -> Result lookups for the lifetime of one
// Compute run (batch or live); never shared across sessions (spec §5).
type Cache struct {
	m map[string]*Result
}

// NewCache returns an empty per-run cache.
func NewCache() *Cache {
	return &Cache{m: map[string]*Result{}}
}

// Resolve walks up from dir looking for .git, returning nil if none is
// found before reaching the filesystem root. Every intermediate directory
// visited is cached against the final result (or nil).
func (c *Cache) Resolve(dir string) *Result {
	dir = filepath.Clean(dir)
	var visited []string
	result := (*Result)(nil)

	for {
		if cached, ok := c.m[dir]; ok {
			result = cached
			break
		}
		visited = append(visited, dir)

		gitPath := filepath.Join(dir, ".git")
		info, err := os.Stat(gitPath)
		if err == nil {
			if info.IsDir() {
				result = &Result{Dir: dir, Branch: readBranch(gitPath)}
				break
			}
			// Worktree form: .git is a file containing "gitdir: <path>".
			if gitdir, ok := readGitdirFile(gitPath); ok {
				result = &Result{Dir: dir, Branch: readBranch(gitdir)}
				break
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break // reached filesystem root; result stays nil
		}
		dir = parent
	}

	for _, v := range visited {
		c.m[v] = result
	}
	return result
}

// readGitdirFile parses a worktree ".git" file's "gitdir: <path>" line.
func readGitdirFile(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	line := strings.TrimSpace(string(data))
	const prefix = "gitdir:"
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	return strings.TrimSpace(line[len(prefix):]), true
}

// readBranch resolves the branch name (or bare commit hash when detached)
// from <gitDir>/HEAD.
func readBranch(gitDir string) string {
	f, err := os.Open(filepath.Join(gitDir, "HEAD"))
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return ""
	}
	line := strings.TrimSpace(scanner.Text())
	const refPrefix = "ref: refs/heads/"
	if strings.HasPrefix(line, refPrefix) {
		return strings.TrimPrefix(line, refPrefix)
	}
	// Detached HEAD: raw commit hash.
	return line
}
