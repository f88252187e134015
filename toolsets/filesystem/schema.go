package filesystem

// ListDirectoryArgs is the argument struct for the list_directory tool.
type ListDirectoryArgs struct {
	Path string `json:"path" jsonschema:"required"`
}

// ReadFileArgs is the argument struct for the read_file tool.
type ReadFileArgs struct {
	Path string `json:"path" jsonschema:"required"`
}

// WriteFileArgs is the argument struct for the write_file tool.
type WriteFileArgs struct {
	Path    string `json:"path" jsonschema:"required"`
	Content string `json:"content" jsonschema:"required"`
	Mode    string `json:"mode,omitempty" jsonschema:"enum=write,enum=append" jsonschema_description:"write (default) truncates, append adds to the end"`
}

// EditFileArgs is the argument struct for the edit_file tool.
type EditFileArgs struct {
	Path   string `json:"path" jsonschema:"required"`
	Edits  []Edit `json:"edits" jsonschema:"required"`
	DryRun bool   `json:"dryRun,omitempty" jsonschema_description:"Compute the diff without writing the file"`
}

// Edit replaces one block of text with another.
type Edit struct {
	OldText string `json:"oldText" jsonschema:"required"`
	NewText string `json:"newText" jsonschema:"required"`
}

// FileInfoArgs is the argument struct for the file_info tool.
type FileInfoArgs struct {
	Path string `json:"path" jsonschema:"required"`
}

// CreateDirectoryArgs is the argument struct for the create_directory tool.
type CreateDirectoryArgs struct {
	Path string `json:"path" jsonschema:"required"`
}

// DeleteItemArgs is the argument struct for the delete_item tool.
type DeleteItemArgs struct {
	Path      string `json:"path" jsonschema:"required"`
	Recursive bool   `json:"recursive,omitempty" jsonschema_description:"Required to delete a non-empty directory"`
}

// MoveItemArgs is the argument struct for the move_item tool.
type MoveItemArgs struct {
	Source      string `json:"source" jsonschema:"required"`
	Destination string `json:"destination" jsonschema:"required"`
}

// SearchFilesArgs is the argument struct for the search_files tool.
type SearchFilesArgs struct {
	Path    string   `json:"path" jsonschema:"required"`
	Pattern string   `json:"pattern" jsonschema:"required"`
	Exclude []string `json:"excludePatterns,omitempty"`
}

// WatchPathArgs is the argument struct for the watch_path tool.
type WatchPathArgs struct {
	Path string `json:"path" jsonschema:"required"`
}

// DirEntry is one row of a list_directory result.
type DirEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// ListDirectoryResult is the result of the list_directory tool.
type ListDirectoryResult struct {
	Entries []DirEntry `json:"entries"`
}

// ReadFileResult is the result of the read_file tool.
type ReadFileResult struct {
	Content string `json:"content"`
}

// WriteFileResult is the result of the write_file tool.
type WriteFileResult struct {
	Path         string `json:"path"`
	BytesWritten int    `json:"bytesWritten"`
}

// EditFileResult is the result of the edit_file tool.
type EditFileResult struct {
	Diff    string `json:"diff"`
	Applied bool   `json:"applied"`
}

// FileInfoResult is the result of the file_info tool.
type FileInfoResult struct {
	Path        string `json:"path"`
	Type        string `json:"type"`
	Size        int64  `json:"size"`
	Modified    string `json:"modified"`
	Permissions string `json:"permissions"`
}

// CreateDirectoryResult is the result of the create_directory tool.
type CreateDirectoryResult struct {
	Path string `json:"path"`
}

// DeleteItemResult is the result of the delete_item tool.
type DeleteItemResult struct {
	Path string `json:"path"`
}

// MoveItemResult is the result of the move_item tool.
type MoveItemResult struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// SearchFilesResult is the result of the search_files tool.
type SearchFilesResult struct {
	Matches []string `json:"matches"`
}

// WatchPathResult is the result of the watch_path tool.
type WatchPathResult struct {
	Event string `json:"event"`
	Path  string `json:"path"`
}
