// Package filesystem exposes root-confined file operations as toolrpc tools.
// Every path argument is resolved against the configured roots; anything that
// escapes them, through traversal or through a symlink, is rejected.
package filesystem

import (
	"fmt"
	"os"
	"path/filepath"

	"toolrpc"
)

// Toolset holds the allowed roots and produces the tool descriptors.
type Toolset struct {
	roots []string
}

// New creates a filesystem toolset confined to the given root directories.
// Each root must exist and be a directory; roots are normalized to absolute
// paths so confinement checks are stable regardless of the working directory.
func New(roots []string) (*Toolset, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one root directory is required")
	}

	normalized := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(filepath.Clean(root))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
		}
		// Follow symlinks in the root itself so confinement compares real
		// paths on both sides.
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
		}
		info, err := os.Stat(real)
		if err != nil {
			return nil, fmt.Errorf("failed to stat root %s: %w", root, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("root %s is not a directory", root)
		}
		normalized = append(normalized, real)
	}

	return &Toolset{roots: normalized}, nil
}

// Tools returns the descriptors for every filesystem tool, ready for
// registration.
func (t *Toolset) Tools() []toolrpc.Tool {
	return []toolrpc.Tool{
		{
			Name:        "list_directory",
			Description: "List the entries of a directory, distinguishing files from subdirectories.",
			InputSchema: toolrpc.SchemaFor[ListDirectoryArgs](),
			Handler:     t.listDirectory,
		},
		{
			Name:        "read_file",
			Description: "Read the complete contents of a file as text.",
			InputSchema: toolrpc.SchemaFor[ReadFileArgs](),
			Handler:     t.readFile,
		},
		{
			Name:        "write_file",
			Description: "Write or append text content to a file, creating parent directories as needed.",
			InputSchema: toolrpc.SchemaFor[WriteFileArgs](),
			Handler:     t.writeFile,
		},
		{
			Name:        "edit_file",
			Description: "Apply text replacements to a file and return a unified diff of the changes. Supports dry runs.",
			InputSchema: toolrpc.SchemaFor[EditFileArgs](),
			Handler:     t.editFile,
		},
		{
			Name:        "file_info",
			Description: "Report size, timestamps, permissions, and type of a file or directory.",
			InputSchema: toolrpc.SchemaFor[FileInfoArgs](),
			Handler:     t.fileInfo,
		},
		{
			Name:        "create_directory",
			Description: "Create a new directory, including missing parents. Fails if the directory already exists.",
			InputSchema: toolrpc.SchemaFor[CreateDirectoryArgs](),
			Handler:     t.createDirectory,
		},
		{
			Name:        "delete_item",
			Description: "Delete a file or directory. Non-empty directories require the recursive flag.",
			InputSchema: toolrpc.SchemaFor[DeleteItemArgs](),
			Handler:     t.deleteItem,
		},
		{
			Name:        "move_item",
			Description: "Move or rename a file or directory. Fails if the destination already exists.",
			InputSchema: toolrpc.SchemaFor[MoveItemArgs](),
			Handler:     t.moveItem,
		},
		{
			Name:        "search_files",
			Description: "Recursively search for entries whose name contains a pattern, case-insensitive, with glob exclude patterns.",
			InputSchema: toolrpc.SchemaFor[SearchFilesArgs](),
			Handler:     t.searchFiles,
		},
		{
			Name:        "watch_path",
			Description: "Block until the next filesystem event under a path, or until the call is cancelled.",
			InputSchema: toolrpc.SchemaFor[WatchPathArgs](),
			Handler:     t.watchPath,
		},
	}
}
