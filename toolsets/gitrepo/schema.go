package gitrepo

// CloneArgs is the argument struct for the clone_repository tool.
type CloneArgs struct {
	URL  string `json:"url" jsonschema:"required" jsonschema_description:"Clone URL of the repository"`
	Name string `json:"name,omitempty" jsonschema_description:"Directory name under the workdir; derived from the URL when omitted"`
}

// CloneResult is the result of the clone_repository tool.
type CloneResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Head   string `json:"head"`
}

// AnalyzeArgs is the argument struct for the analyze_repository tool.
type AnalyzeArgs struct {
	Name string `json:"name" jsonschema:"required"`
}

// CommitInfo is one commit row of an analyze_repository result.
type CommitInfo struct {
	Hash    string `json:"hash"`
	Author  string `json:"author"`
	Date    string `json:"date"`
	Message string `json:"message"`
}

// BranchInfo is one branch row of an analyze_repository result.
type BranchInfo struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
	Head bool   `json:"head"`
}

// RemoteInfo is one remote row of an analyze_repository result.
type RemoteInfo struct {
	Name string   `json:"name"`
	URLs []string `json:"urls"`
}

// AnalyzeResult is the result of the analyze_repository tool.
type AnalyzeResult struct {
	Name      string       `json:"name"`
	Commits   []CommitInfo `json:"commits"`
	Branches  []BranchInfo `json:"branches"`
	Remotes   []RemoteInfo `json:"remotes"`
	Structure []string     `json:"structure"`
}

// ReadFileArgs is the argument struct for the read_file tool.
type ReadFileArgs struct {
	Name string `json:"name" jsonschema:"required"`
	Path string `json:"path" jsonschema:"required"`
}

// ReadFileResult is the result of the read_file tool.
type ReadFileResult struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// GitCommandArgs is the argument struct for the git_command tool.
type GitCommandArgs struct {
	Name    string   `json:"name" jsonschema:"required"`
	Command string   `json:"command" jsonschema:"required" jsonschema_description:"Git subcommand to run; only read-only subcommands are allowed"`
	Args    []string `json:"args,omitempty" jsonschema_description:"Extra arguments passed to the subcommand"`
}

// GitCommandResult is the result of the git_command tool.
type GitCommandResult struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// WriteFileArgs is the argument struct for the write_file tool.
type WriteFileArgs struct {
	Name          string `json:"name" jsonschema:"required"`
	Path          string `json:"path" jsonschema:"required"`
	Content       string `json:"content" jsonschema:"required"`
	CommitMessage string `json:"commitMessage,omitempty" jsonschema_description:"When set, the file is staged and committed with this message"`
}

// WriteFileResult is the result of the write_file tool.
type WriteFileResult struct {
	Path      string `json:"path"`
	Committed bool   `json:"committed"`
	Hash      string `json:"hash,omitempty"`
}
