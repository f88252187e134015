package filesystem

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestToolset(t *testing.T) (*Toolset, string) {
	t.Helper()

	root := t.TempDir()
	ts, err := New([]string{root})
	if err != nil {
		t.Fatalf("failed to create toolset: %v", err)
	}
	// The toolset follows symlinks in the root, so build paths from its view.
	return ts, ts.roots[0]
}

func mustArgs(t *testing.T, v any) json.RawMessage {
	t.Helper()
	bs, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal args: %v", err)
	}
	return bs
}

func TestReadFile(t *testing.T) {
	ts, root := newTestToolset(t)

	testFile := filepath.Join(root, "test.txt")
	if err := os.WriteFile(testFile, []byte("test content"), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	raw, err := ts.readFile(context.Background(), mustArgs(t, ReadFileArgs{Path: testFile}))
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	var result ReadFileResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result.Content != "test content" {
		t.Errorf("unexpected content: %s", result.Content)
	}

	if _, err := ts.readFile(context.Background(), mustArgs(t, ReadFileArgs{Path: filepath.Join(root, "missing.txt")})); err == nil {
		t.Error("expected error for missing file, got nil")
	}
	if _, err := ts.readFile(context.Background(), mustArgs(t, ReadFileArgs{Path: root})); err == nil {
		t.Error("expected error reading a directory, got nil")
	}
}

func TestReadFileRejectsEscapingPaths(t *testing.T) {
	ts, root := newTestToolset(t)

	outside := filepath.Join(filepath.Dir(root), "outside.txt")

	tests := []string{
		outside,
		filepath.Join(root, "..", filepath.Base(outside)),
		"/etc/passwd",
	}
	for _, path := range tests {
		if _, err := ts.readFile(context.Background(), mustArgs(t, ReadFileArgs{Path: path})); err == nil {
			t.Errorf("expected access denial for %s, got nil", path)
		}
	}
}

func TestReadFileRejectsSymlinkEscape(t *testing.T) {
	ts, root := newTestToolset(t)

	outsideDir := t.TempDir()
	outsideFile := filepath.Join(outsideDir, "secret.txt")
	if err := os.WriteFile(outsideFile, []byte("secret"), 0600); err != nil {
		t.Fatalf("failed to create outside file: %v", err)
	}

	link := filepath.Join(root, "link.txt")
	if err := os.Symlink(outsideFile, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if _, err := ts.readFile(context.Background(), mustArgs(t, ReadFileArgs{Path: link})); err == nil {
		t.Error("expected symlink escape to be denied, got nil")
	}
}

func TestWriteFile(t *testing.T) {
	ts, root := newTestToolset(t)

	// Missing parents are created on the way.
	nested := filepath.Join(root, "a", "b", "out.txt")
	if _, err := ts.writeFile(context.Background(), mustArgs(t, WriteFileArgs{Path: nested, Content: "first"})); err != nil {
		t.Fatalf("failed to write with missing parents: %v", err)
	}
	if content, err := os.ReadFile(nested); err != nil || string(content) != "first" {
		t.Errorf("nested write failed: %s, %v", content, err)
	}

	target := filepath.Join(root, "out.txt")
	raw, err := ts.writeFile(context.Background(), mustArgs(t, WriteFileArgs{Path: target, Content: "first"}))
	if err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	var result WriteFileResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result.BytesWritten != len("first") {
		t.Errorf("unexpected byte count: %d", result.BytesWritten)
	}

	if _, err := ts.writeFile(context.Background(), mustArgs(t, WriteFileArgs{Path: target, Content: " second", Mode: "append"})); err != nil {
		t.Fatalf("failed to append: %v", err)
	}

	content, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("failed to read back file: %v", err)
	}
	if string(content) != "first second" {
		t.Errorf("unexpected content after append: %s", content)
	}

	if _, err := ts.writeFile(context.Background(), mustArgs(t, WriteFileArgs{Path: target, Content: "x", Mode: "truncate"})); err == nil {
		t.Error("expected unknown mode to fail, got nil")
	}
}

func TestEditFile(t *testing.T) {
	ts, root := newTestToolset(t)

	target := filepath.Join(root, "config.txt")
	original := "alpha = 1\nbeta = 2\ngamma = 3\n"
	if err := os.WriteFile(target, []byte(original), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	// Dry run computes the diff but leaves the file alone.
	raw, err := ts.editFile(context.Background(), mustArgs(t, EditFileArgs{
		Path:   target,
		Edits:  []Edit{{OldText: "beta = 2", NewText: "beta = 20"}},
		DryRun: true,
	}))
	if err != nil {
		t.Fatalf("failed to dry-run edit: %v", err)
	}
	var result EditFileResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result.Applied {
		t.Error("dry run must not report the edit as applied")
	}
	if !strings.Contains(result.Diff, "--- "+target) {
		t.Errorf("diff missing header: %s", result.Diff)
	}
	if content, _ := os.ReadFile(target); string(content) != original {
		t.Errorf("dry run modified the file: %s", content)
	}

	// Real run applies the edit.
	if _, err := ts.editFile(context.Background(), mustArgs(t, EditFileArgs{
		Path:  target,
		Edits: []Edit{{OldText: "beta = 2", NewText: "beta = 20"}},
	})); err != nil {
		t.Fatalf("failed to edit file: %v", err)
	}
	content, _ := os.ReadFile(target)
	if !strings.Contains(string(content), "beta = 20") {
		t.Errorf("edit not applied: %s", content)
	}

	// Unmatched old text fails.
	if _, err := ts.editFile(context.Background(), mustArgs(t, EditFileArgs{
		Path:  target,
		Edits: []Edit{{OldText: "delta = 4", NewText: "delta = 5"}},
	})); err == nil {
		t.Error("expected unmatched edit to fail, got nil")
	}
}

func TestApplyEditsMatchesTrimmedLines(t *testing.T) {
	content := "func main() {\n\tif ok {\n\t\trun()\n\t}\n}\n"

	// The edit's old text has different indentation; the trimmed line match
	// must still find it and keep the original indent.
	modified, err := applyEdits(content, []Edit{{
		OldText: "if ok {\nrun()\n}",
		NewText: "if ok {\nrunTwice()\n}",
	}})
	if err != nil {
		t.Fatalf("failed to apply edits: %v", err)
	}
	if !strings.Contains(modified, "\trunTwice()") {
		t.Errorf("indentation not preserved: %q", modified)
	}
}

func TestListDirectory(t *testing.T) {
	ts, root := newTestToolset(t)

	if err := os.WriteFile(filepath.Join(root, "file1.txt"), []byte("x"), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, "dir1"), 0700); err != nil {
		t.Fatalf("failed to create test dir: %v", err)
	}

	raw, err := ts.listDirectory(context.Background(), mustArgs(t, ListDirectoryArgs{Path: root}))
	if err != nil {
		t.Fatalf("failed to list directory: %v", err)
	}
	var result ListDirectoryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	types := map[string]string{}
	for _, entry := range result.Entries {
		types[entry.Name] = entry.Type
	}
	if types["file1.txt"] != "file" {
		t.Errorf("expected file1.txt to be a file, got %q", types["file1.txt"])
	}
	if types["dir1"] != "directory" {
		t.Errorf("expected dir1 to be a directory, got %q", types["dir1"])
	}
}

func TestCreateDirectory(t *testing.T) {
	ts, root := newTestToolset(t)

	nested := filepath.Join(root, "nested", "dir")
	if _, err := ts.createDirectory(context.Background(), mustArgs(t, CreateDirectoryArgs{Path: nested})); err != nil {
		t.Fatalf("failed to create nested directory: %v", err)
	}
	info, err := os.Stat(nested)
	if err != nil || !info.IsDir() {
		t.Errorf("nested directory missing: %v", err)
	}

	// Creating an existing directory fails.
	if _, err := ts.createDirectory(context.Background(), mustArgs(t, CreateDirectoryArgs{Path: nested})); err == nil {
		t.Error("expected error for existing directory, got nil")
	}
}

func TestDeleteItem(t *testing.T) {
	ts, root := newTestToolset(t)

	dir := filepath.Join(root, "full")
	if err := os.Mkdir(dir, 0700); err != nil {
		t.Fatalf("failed to create test dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "inner.txt"), []byte("x"), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	// Non-empty directory needs the recursive flag.
	if _, err := ts.deleteItem(context.Background(), mustArgs(t, DeleteItemArgs{Path: dir})); err == nil {
		t.Error("expected non-empty directory delete to fail, got nil")
	}

	if _, err := ts.deleteItem(context.Background(), mustArgs(t, DeleteItemArgs{Path: dir, Recursive: true})); err != nil {
		t.Fatalf("failed to delete recursively: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("directory still present after delete: %v", err)
	}
}

func TestMoveItem(t *testing.T) {
	ts, root := newTestToolset(t)

	source := filepath.Join(root, "src.txt")
	destination := filepath.Join(root, "dst.txt")
	if err := os.WriteFile(source, []byte("content"), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	if _, err := ts.moveItem(context.Background(), mustArgs(t, MoveItemArgs{Source: source, Destination: destination})); err != nil {
		t.Fatalf("failed to move item: %v", err)
	}
	if _, err := os.Stat(destination); err != nil {
		t.Errorf("destination missing after move: %v", err)
	}

	// Moving onto an existing destination fails.
	if err := os.WriteFile(source, []byte("again"), 0600); err != nil {
		t.Fatalf("failed to recreate source: %v", err)
	}
	if _, err := ts.moveItem(context.Background(), mustArgs(t, MoveItemArgs{Source: source, Destination: destination})); err == nil {
		t.Error("expected move onto existing destination to fail, got nil")
	}
}

func TestFileInfo(t *testing.T) {
	ts, root := newTestToolset(t)

	target := filepath.Join(root, "info.txt")
	if err := os.WriteFile(target, []byte("12345"), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	raw, err := ts.fileInfo(context.Background(), mustArgs(t, FileInfoArgs{Path: target}))
	if err != nil {
		t.Fatalf("failed to stat file: %v", err)
	}
	var result FileInfoResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result.Size != 5 {
		t.Errorf("unexpected size: %d", result.Size)
	}
	if result.Type != "file" {
		t.Errorf("unexpected type: %s", result.Type)
	}
	if result.Permissions != "0600" {
		t.Errorf("unexpected permissions: %s", result.Permissions)
	}
}

func TestSearchFiles(t *testing.T) {
	ts, root := newTestToolset(t)

	files := []string{
		"report.txt",
		"Report-final.md",
		"notes.txt",
		filepath.Join("vendor", "report.go"),
	}
	for _, f := range files {
		full := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(full), 0700); err != nil {
			t.Fatalf("failed to create dirs: %v", err)
		}
		if err := os.WriteFile(full, []byte("x"), 0600); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}
	}

	raw, err := ts.searchFiles(context.Background(), mustArgs(t, SearchFilesArgs{
		Path:    root,
		Pattern: "report",
		Exclude: []string{"vendor"},
	}))
	if err != nil {
		t.Fatalf("failed to search: %v", err)
	}
	var result SearchFilesResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	found := map[string]bool{}
	for _, m := range result.Matches {
		found[m] = true
	}
	if !found["report.txt"] || !found["Report-final.md"] {
		t.Errorf("case-insensitive matches missing: %v", result.Matches)
	}
	if found["notes.txt"] {
		t.Errorf("unexpected match: %v", result.Matches)
	}
	if found["vendor/report.go"] {
		t.Errorf("excluded match returned: %v", result.Matches)
	}
}

func TestWatchPath(t *testing.T) {
	ts, root := newTestToolset(t)

	// An event resolves the call.
	eventResult := make(chan error, 1)
	raws := make(chan json.RawMessage, 1)
	go func() {
		raw, err := ts.watchPath(context.Background(), mustArgs(t, WatchPathArgs{Path: root}))
		raws <- raw
		eventResult <- err
	}()

	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(root, "new.txt"), []byte("x"), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	select {
	case err := <-eventResult:
		if err != nil {
			t.Fatalf("watch failed: %v", err)
		}
		var result WatchPathResult
		if err := json.Unmarshal(<-raws, &result); err != nil {
			t.Fatalf("failed to unmarshal result: %v", err)
		}
		if !strings.Contains(result.Path, "new.txt") {
			t.Errorf("unexpected event path: %s", result.Path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for filesystem event")
	}

	// Cancellation also resolves it.
	ctx, cancel := context.WithCancel(context.Background())
	cancelResult := make(chan error, 1)
	go func() {
		_, err := ts.watchPath(ctx, mustArgs(t, WatchPathArgs{Path: root}))
		cancelResult <- err
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-cancelResult:
		if err == nil {
			t.Error("expected context error, got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancelled watch")
	}
}
