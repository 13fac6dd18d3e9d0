// Package gitutil shells out to git for the two facts the core needs that
// only git itself can answer: whether a directory is currently on its
// default branch, and what the two parents of a merge commit were. Every
// call carries a short timeout and treats any failure (no git installed,
// detached HEAD, not a repository) as the conservative answer named by
// the caller, per the design note "git branch detection for compaction."
package gitutil

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

const subprocessTimeout = 2 * time.Second

func run(dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), subprocessTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

// OnDefaultBranch reports whether dir's current checkout is on the
// repository's default branch. Any failure to determine this (no git
// binary, dir isn't a repository, detached HEAD with no symbolic ref)
// is treated as true: the compaction heuristic must not silently stop
// compacting on an unrelated error, only suppress itself on a *known*
// feature branch.
func OnDefaultBranch(dir string) bool {
	head, err := run(dir, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		return true
	}

	if def, err := run(dir, "symbolic-ref", "--short", "refs/remotes/origin/HEAD"); err == nil {
		def = strings.TrimPrefix(def, "origin/")
		return head == def
	}

	for _, candidate := range []string{"main", "master"} {
		if head == candidate {
			return true
		}
	}
	// No remote HEAD to compare against and the branch isn't one of the
	// conventional default names: fall back to "on default" per the
	// design note rather than risk suppressing compaction forever.
	return true
}

// MergeCommitParents returns the two parent commit hashes of the current
// HEAD if, and only if, HEAD is a merge commit (exactly two parents). ok
// is false whenever that can't be determined, including when HEAD is not
// a merge commit at all.
func MergeCommitParents(dir string) (ours, theirs string, ok bool) {
	out, err := run(dir, "show", "-s", "--format=%P", "HEAD")
	if err != nil {
		return "", "", false
	}
	parents := strings.Fields(out)
	if len(parents) != 2 {
		return "", "", false
	}
	return parents[0], parents[1], true
}

// MergeBase returns the common ancestor commit of a and b, or ok=false
// if git couldn't determine one.
func MergeBase(dir, a, b string) (commit string, ok bool) {
	out, err := run(dir, "merge-base", a, b)
	if err != nil || out == "" {
		return "", false
	}
	return out, true
}

// ShowFile returns the content of path as it existed in the given
// revision, or ok=false if that couldn't be determined.
func ShowFile(dir, revision, path string) (content []byte, ok bool) {
	ctx, cancel := context.WithTimeout(context.Background(), subprocessTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "show", revision+":"+path)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, false
	}
	return out.Bytes(), true
}
