package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

func (t *Toolset) listDirectory(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params ListDirectoryArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	path, err := t.resolve(params.Path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", params.Path, err)
	}

	result := ListDirectoryResult{Entries: make([]DirEntry, 0, len(entries))}
	for _, entry := range entries {
		row := DirEntry{Name: entry.Name(), Type: "file"}
		if entry.IsDir() {
			row.Type = "directory"
		}
		if info, err := entry.Info(); err == nil {
			row.Size = info.Size()
		}
		result.Entries = append(result.Entries, row)
	}

	return json.Marshal(result)
}

func (t *Toolset) readFile(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params ReadFileArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	path, err := t.resolve(params.Path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", params.Path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, not a file", params.Path)
	}

	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", params.Path, err)
	}

	return json.Marshal(ReadFileResult{Content: string(bs)})
}

func (t *Toolset) writeFile(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params WriteFileArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	path, err := t.resolve(params.Path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create parent directories for %s: %w", params.Path, err)
	}

	switch params.Mode {
	case "", "write":
		if err := os.WriteFile(path, []byte(params.Content), 0600); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", params.Path, err)
		}
	case "append":
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s for append: %w", params.Path, err)
		}
		if _, err := f.WriteString(params.Content); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to append to %s: %w", params.Path, err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("failed to close %s: %w", params.Path, err)
		}
	default:
		return nil, fmt.Errorf("unknown write mode %q", params.Mode)
	}

	return json.Marshal(WriteFileResult{
		Path:         params.Path,
		BytesWritten: len(params.Content),
	})
}

func (t *Toolset) editFile(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params EditFileArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	path, err := t.resolve(params.Path)
	if err != nil {
		return nil, err
	}

	original, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", params.Path, err)
	}

	modified, err := applyEdits(string(original), params.Edits)
	if err != nil {
		return nil, err
	}

	diff := unifiedDiff(string(original), modified, params.Path)

	if !params.DryRun {
		if err := os.WriteFile(path, []byte(modified), 0600); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", params.Path, err)
		}
	}

	return json.Marshal(EditFileResult{
		Diff:    diff,
		Applied: !params.DryRun,
	})
}

func (t *Toolset) fileInfo(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params FileInfoArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	path, err := t.resolve(params.Path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", params.Path, err)
	}

	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}

	return json.Marshal(FileInfoResult{
		Path:        params.Path,
		Type:        kind,
		Size:        info.Size(),
		Modified:    info.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
		Permissions: fmt.Sprintf("%04o", info.Mode().Perm()),
	})
}

func (t *Toolset) createDirectory(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params CreateDirectoryArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	path, err := t.resolve(params.Path)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%s already exists", params.Path)
	}

	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", params.Path, err)
	}

	return json.Marshal(CreateDirectoryResult{Path: params.Path})
}

func (t *Toolset) deleteItem(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params DeleteItemArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	path, err := t.resolve(params.Path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", params.Path, err)
	}

	if info.IsDir() && !params.Recursive {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", params.Path, err)
		}
		if len(entries) > 0 {
			return nil, fmt.Errorf("directory %s is not empty; pass recursive to delete it", params.Path)
		}
	}

	if params.Recursive {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete %s: %w", params.Path, err)
	}

	return json.Marshal(DeleteItemResult{Path: params.Path})
}

func (t *Toolset) moveItem(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params MoveItemArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	source, err := t.resolve(params.Source)
	if err != nil {
		return nil, err
	}
	destination, err := t.resolve(params.Destination)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(destination); err == nil {
		return nil, fmt.Errorf("destination %s already exists", params.Destination)
	}

	if err := os.Rename(source, destination); err != nil {
		return nil, fmt.Errorf("failed to move %s: %w", params.Source, err)
	}

	return json.Marshal(MoveItemResult{
		Source:      params.Source,
		Destination: params.Destination,
	})
}

func (t *Toolset) searchFiles(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params SearchFilesArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	root, err := t.resolve(params.Path)
	if err != nil {
		return nil, err
	}

	excludes, err := compileExcludes(params.Exclude)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(params.Pattern)
	matches := []string{}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if excluded(rel, excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.Contains(strings.ToLower(d.Name()), needle) {
			matches = append(matches, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	return json.Marshal(SearchFilesResult{Matches: matches})
}

// watchPath blocks until something changes under the path, so a caller's
// cancel tears it down through the handler context.
func (t *Toolset) watchPath(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params WatchPathArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	path, err := t.resolve(params.Path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", params.Path, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-watcher.Errors:
		return nil, fmt.Errorf("watch failed: %w", err)
	case event := <-watcher.Events:
		return json.Marshal(WatchPathResult{
			Event: strings.ToLower(event.Op.String()),
			Path:  filepath.ToSlash(event.Name),
		})
	}
}
