package gitrepo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const commitLimit = 10

// gitCommands are the subcommands git_command may run. All of them only
// inspect the repository.
var gitCommands = map[string]bool{
	"status":   true,
	"log":      true,
	"diff":     true,
	"show":     true,
	"branch":   true,
	"tag":      true,
	"remote":   true,
	"ls-files": true,
	"blame":    true,
}

func (t *Toolset) cloneRepository(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params CloneArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	name := params.Name
	if name == "" {
		name = repoNameFromURL(params.URL)
	}
	dir, err := t.repoDir(name)
	if err != nil {
		return nil, err
	}

	status := "cloned"
	repo, err := git.PlainOpen(dir)
	switch {
	case err == nil:
		// Already cloned; bring it up to date.
		worktree, err := repo.Worktree()
		if err != nil {
			return nil, fmt.Errorf("failed to open worktree of %s: %w", name, err)
		}
		err = worktree.PullContext(ctx, &git.PullOptions{Auth: t.auth()})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil, fmt.Errorf("failed to pull %s: %w", name, err)
		}
		status = "updated"
	case errors.Is(err, git.ErrRepositoryNotExists):
		repo, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
			URL:  params.URL,
			Auth: t.auth(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to clone %s: %w", params.URL, err)
		}
	default:
		return nil, fmt.Errorf("failed to open repository %s: %w", name, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD of %s: %w", name, err)
	}

	return json.Marshal(CloneResult{
		Name:   name,
		Status: status,
		Head:   head.Hash().String(),
	})
}

func (t *Toolset) analyzeRepository(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params AnalyzeArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	dir, err := t.repoDir(params.Name)
	if err != nil {
		return nil, err
	}
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository %s: %w", params.Name, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD of %s: %w", params.Name, err)
	}

	commits, err := recentCommits(repo, head)
	if err != nil {
		return nil, err
	}

	branches := []BranchInfo{}
	branchIter, err := repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("failed to list branches of %s: %w", params.Name, err)
	}
	err = branchIter.ForEach(func(ref *plumbing.Reference) error {
		branches = append(branches, BranchInfo{
			Name: ref.Name().Short(),
			Hash: ref.Hash().String(),
			Head: ref.Name() == head.Name(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate branches of %s: %w", params.Name, err)
	}

	remotes := []RemoteInfo{}
	remoteList, err := repo.Remotes()
	if err != nil {
		return nil, fmt.Errorf("failed to list remotes of %s: %w", params.Name, err)
	}
	for _, remote := range remoteList {
		cfg := remote.Config()
		remotes = append(remotes, RemoteInfo{Name: cfg.Name, URLs: cfg.URLs})
	}

	structure, err := worktreeStructure(dir)
	if err != nil {
		return nil, err
	}

	return json.Marshal(AnalyzeResult{
		Name:      params.Name,
		Commits:   commits,
		Branches:  branches,
		Remotes:   remotes,
		Structure: structure,
	})
}

func recentCommits(repo *git.Repository, head *plumbing.Reference) ([]CommitInfo, error) {
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("failed to read commit log: %w", err)
	}
	defer iter.Close()

	commits := []CommitInfo{}
	for range commitLimit {
		c, err := iter.Next()
		if err != nil {
			break
		}
		commits = append(commits, CommitInfo{
			Hash:    c.Hash.String(),
			Author:  c.Author.Name,
			Date:    c.Author.When.UTC().Format("2006-01-02T15:04:05Z"),
			Message: c.Message,
		})
	}
	return commits, nil
}

// worktreeStructure lists the worktree's files relative to the repository
// root, skipping the .git directory.
func worktreeStructure(dir string) ([]string, error) {
	structure := []string{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			rel += "/"
		}
		structure = append(structure, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk worktree: %w", err)
	}
	return structure, nil
}

func (t *Toolset) readFile(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params ReadFileArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	dir, err := t.repoDir(params.Name)
	if err != nil {
		return nil, err
	}
	full, err := filePath(dir, params.Path)
	if err != nil {
		return nil, err
	}

	bs, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s in %s: %w", params.Path, params.Name, err)
	}

	return json.Marshal(ReadFileResult{
		Path:    params.Path,
		Content: string(bs),
	})
}

func (t *Toolset) gitCommand(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params GitCommandArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	dir, err := t.repoDir(params.Name)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return nil, fmt.Errorf("repository %s is not cloned", params.Name)
	}
	if !gitCommands[params.Command] {
		return nil, fmt.Errorf("git subcommand %q is not allowed", params.Command)
	}

	argv := append([]string{params.Command}, params.Args...)
	cmd := exec.CommandContext(ctx, "git", argv...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	var exitErr *exec.ExitError
	switch err := cmd.Run(); {
	case err == nil:
	case errors.As(err, &exitErr):
		exitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("failed to run git %s: %w", params.Command, err)
	}

	return json.Marshal(GitCommandResult{
		Command:  "git " + strings.Join(argv, " "),
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	})
}

func (t *Toolset) writeFile(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params WriteFileArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	dir, err := t.repoDir(params.Name)
	if err != nil {
		return nil, err
	}
	full, err := filePath(dir, params.Path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0700); err != nil {
		return nil, fmt.Errorf("failed to create parent directories for %s: %w", params.Path, err)
	}
	if err := os.WriteFile(full, []byte(params.Content), 0600); err != nil {
		return nil, fmt.Errorf("failed to write %s in %s: %w", params.Path, params.Name, err)
	}

	result := WriteFileResult{Path: params.Path}

	if params.CommitMessage != "" {
		repo, err := git.PlainOpen(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open repository %s: %w", params.Name, err)
		}
		worktree, err := repo.Worktree()
		if err != nil {
			return nil, fmt.Errorf("failed to open worktree of %s: %w", params.Name, err)
		}

		rel, err := filepath.Rel(dir, full)
		if err != nil {
			return nil, fmt.Errorf("failed to stage %s: %w", params.Path, err)
		}
		if _, err := worktree.Add(filepath.ToSlash(rel)); err != nil {
			return nil, fmt.Errorf("failed to stage %s: %w", params.Path, err)
		}

		hash, err := worktree.Commit(params.CommitMessage, &git.CommitOptions{
			Author: &object.Signature{
				Name:  t.authorName,
				Email: t.authorEmail,
				When:  time.Now(),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to commit %s: %w", params.Path, err)
		}

		result.Committed = true
		result.Hash = hash.String()
	}

	return json.Marshal(result)
}
