// Package gitrepo exposes git repository operations as toolrpc tools. Every
// repository lives under a scratch working directory keyed by name; clones
// authenticate with an oauth2 bearer token when one is configured.
package gitrepo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"toolrpc"
)

// Toolset manages repositories under a single working directory.
type Toolset struct {
	workdir string
	token   string

	authorName  string
	authorEmail string
}

// Option configures a Toolset.
type Option func(*Toolset)

// WithToken sets the oauth2 token used for clone and pull over HTTP.
func WithToken(token string) Option {
	return func(t *Toolset) {
		t.token = token
	}
}

// WithAuthor sets the signature used for commits made through write_file.
func WithAuthor(name, email string) Option {
	return func(t *Toolset) {
		t.authorName = name
		t.authorEmail = email
	}
}

// New creates a git toolset rooted at workdir, creating it if needed.
func New(workdir string, options ...Option) (*Toolset, error) {
	abs, err := filepath.Abs(filepath.Clean(workdir))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workdir %s: %w", workdir, err)
	}
	if err := os.MkdirAll(abs, 0700); err != nil {
		return nil, fmt.Errorf("failed to create workdir %s: %w", workdir, err)
	}

	t := &Toolset{
		workdir:     abs,
		authorName:  "toolrpc",
		authorEmail: "toolrpc@localhost",
	}
	for _, opt := range options {
		opt(t)
	}
	return t, nil
}

// Tools returns the descriptors for every git tool.
func (t *Toolset) Tools() []toolrpc.Tool {
	return []toolrpc.Tool{
		{
			Name:        "clone_repository",
			Description: "Clone a repository into the working directory, or pull if it is already cloned.",
			InputSchema: toolrpc.SchemaFor[CloneArgs](),
			Handler:     t.cloneRepository,
		},
		{
			Name:        "analyze_repository",
			Description: "Summarize a cloned repository: recent commits, branches, remotes, and worktree layout.",
			InputSchema: toolrpc.SchemaFor[AnalyzeArgs](),
			Handler:     t.analyzeRepository,
		},
		{
			Name:        "read_file",
			Description: "Read a file from a cloned repository's worktree.",
			InputSchema: toolrpc.SchemaFor[ReadFileArgs](),
			Handler:     t.readFile,
		},
		{
			Name:        "git_command",
			Description: "Run a read-only git subcommand in a cloned repository and return its output.",
			InputSchema: toolrpc.SchemaFor[GitCommandArgs](),
			Handler:     t.gitCommand,
		},
		{
			Name:        "write_file",
			Description: "Write a file in a cloned repository's worktree, optionally staging and committing it.",
			InputSchema: toolrpc.SchemaFor[WriteFileArgs](),
			Handler:     t.writeFile,
		},
	}
}

// auth returns the transport credentials, or nil for anonymous access.
func (t *Toolset) auth() transport.AuthMethod {
	if t.token == "" {
		return nil
	}
	return &githttp.BasicAuth{
		Username: "oauth2",
		Password: t.token,
	}
}

// repoDir maps a repository name to its directory, rejecting names that
// would escape the workdir.
func (t *Toolset) repoDir(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("repository name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == ".." || name == "." {
		return "", fmt.Errorf("invalid repository name %q", name)
	}
	return filepath.Join(t.workdir, name), nil
}

// filePath confines a requested file path to the repository directory.
func filePath(repoDir, requested string) (string, error) {
	full := filepath.Join(repoDir, filepath.Clean(filepath.FromSlash(requested)))
	rel, err := filepath.Rel(repoDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("access denied: path %s is outside the repository", requested)
	}
	return full, nil
}

// repoNameFromURL derives a default repository name from its clone URL.
func repoNameFromURL(url string) string {
	name := strings.TrimSuffix(filepath.Base(strings.TrimSuffix(url, "/")), ".git")
	return name
}
