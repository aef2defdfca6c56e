// Package git provisions isolated working copies for in-flight executions.
// Each execution exclusively owns one worktree from acquire to release; no
// two concurrent executions ever share a checkout.
package git

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Pool hands out git worktrees and recycles them between executions
type Pool struct {
	baseDir     string // base repository directory
	worktreeDir string // where worktrees are created
	verbose     bool

	mu   sync.Mutex
	free []string
	next int
}

// NewPool creates a worktree pool for the given repository
func NewPool(baseDir, worktreeDir string) *Pool {
	return &Pool{
		baseDir:     baseDir,
		worktreeDir: worktreeDir,
	}
}

// SetVerbose enables or disables verbose logging
func (p *Pool) SetVerbose(v bool) {
	p.verbose = v
}

// Acquire returns an exclusively-owned worktree path, reusing a recycled one
// when available
func (p *Pool) Acquire() (string, error) {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		path := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return path, nil
	}
	p.next++
	seq := p.next
	p.mu.Unlock()

	if err := os.MkdirAll(p.worktreeDir, 0755); err != nil {
		return "", fmt.Errorf("creating worktree directory: %w", err)
	}

	path := filepath.Join(p.worktreeDir, fmt.Sprintf("wt-%d", seq))

	// Handle stale worktrees from interrupted runs before creating
	p.cleanUpWorktree(path)

	cmd := exec.Command("git", "worktree", "add", "--detach", path)
	cmd.Dir = p.baseDir
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("creating worktree: %w\n%s", err, output)
	}

	if p.verbose {
		log.Printf("🌲 Provisioned worktree %s", path)
	}
	return path, nil
}

// Release resets a worktree to a clean state and returns it to the pool. A
// worktree that cannot be reset is removed instead of being recycled dirty.
func (p *Pool) Release(path string) {
	cmd := exec.Command("git", "reset", "--hard")
	cmd.Dir = path
	if err := cmd.Run(); err != nil {
		p.cleanUpWorktree(path)
		return
	}

	cmd = exec.Command("git", "clean", "-fd")
	cmd.Dir = path
	if err := cmd.Run(); err != nil {
		p.cleanUpWorktree(path)
		return
	}

	p.mu.Lock()
	p.free = append(p.free, path)
	p.mu.Unlock()
}

// cleanUpWorktree removes any worktree registration and directory at path
func (p *Pool) cleanUpWorktree(path string) {
	cmd := exec.Command("git", "worktree", "remove", "--force", path)
	cmd.Dir = p.baseDir
	_ = cmd.Run() // Ignore errors

	if _, err := os.Stat(path); err == nil {
		_ = os.RemoveAll(path)
	}

	cmd = exec.Command("git", "worktree", "prune")
	cmd.Dir = p.baseDir
	_ = cmd.Run() // Ignore errors
}

// PruneStale removes every worktree directory left behind by a previous
// process. Called once at coordinator start-up.
func (p *Pool) PruneStale() error {
	entries, err := os.ReadDir(p.worktreeDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading worktree directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		p.cleanUpWorktree(filepath.Join(p.worktreeDir, entry.Name()))
	}

	cmd := exec.Command("git", "worktree", "prune")
	cmd.Dir = p.baseDir
	_ = cmd.Run()
	return nil
}

// Cleanup removes all worktrees managed by this pool
func (p *Pool) Cleanup() error {
	cmd := exec.Command("git", "worktree", "list", "--porcelain")
	cmd.Dir = p.baseDir
	output, err := cmd.Output()
	if err != nil {
		return nil // No worktrees to clean
	}

	for _, line := range strings.Split(string(output), "\n") {
		if !strings.HasPrefix(line, "worktree ") {
			continue
		}
		path := strings.TrimPrefix(line, "worktree ")
		if filepath.Dir(path) == p.worktreeDir {
			p.cleanUpWorktree(path)
		}
	}

	p.mu.Lock()
	p.free = nil
	p.mu.Unlock()
	return nil
}
