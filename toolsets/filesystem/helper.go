package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// resolve turns a requested path into an absolute one and verifies it stays
// under one of the allowed roots. Symlinks are followed first so a link
// pointing outside the roots cannot smuggle access in; for paths that do not
// exist yet the parent directory is checked instead.
func (t *Toolset) resolve(requested string) (string, error) {
	absolute, err := filepath.Abs(filepath.Clean(filepath.FromSlash(requested)))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %s: %w", requested, err)
	}

	realPath, err := filepath.EvalSymlinks(absolute)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to resolve path %s: %w", requested, err)
		}

		// The target does not exist yet. Confine the nearest existing
		// ancestor instead, so tools that create parents still work.
		ancestor := filepath.Dir(absolute)
		for {
			realAncestor, err := filepath.EvalSymlinks(ancestor)
			if err == nil {
				if !t.underRoot(realAncestor) {
					return "", fmt.Errorf("access denied: %s is outside the allowed roots", requested)
				}
				return absolute, nil
			}
			if !os.IsNotExist(err) {
				return "", fmt.Errorf("failed to resolve parent of %s: %w", requested, err)
			}
			next := filepath.Dir(ancestor)
			if next == ancestor {
				return "", fmt.Errorf("access denied: %s has no existing ancestor", requested)
			}
			ancestor = next
		}
	}

	if !t.underRoot(realPath) {
		return "", fmt.Errorf("access denied: %s resolves outside the allowed roots", requested)
	}
	return realPath, nil
}

func (t *Toolset) underRoot(path string) bool {
	for _, root := range t.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func normalizeLineEndings(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// applyEdits replaces each edit's old text exactly once. An exact substring
// match wins; otherwise the old text is matched line by line ignoring leading
// and trailing whitespace, preserving the original indentation.
func applyEdits(content string, edits []Edit) (string, error) {
	modified := normalizeLineEndings(content)

	for _, edit := range edits {
		oldText := normalizeLineEndings(edit.OldText)
		newText := normalizeLineEndings(edit.NewText)

		if strings.Contains(modified, oldText) {
			modified = strings.Replace(modified, oldText, newText, 1)
			continue
		}

		replaced, found := replaceTrimmedBlock(modified, oldText, newText)
		if !found {
			return "", fmt.Errorf("no match found for edit:\n%s", edit.OldText)
		}
		modified = replaced
	}

	return modified, nil
}

func replaceTrimmedBlock(content, oldText, newText string) (string, bool) {
	oldLines := strings.Split(oldText, "\n")
	contentLines := strings.Split(content, "\n")

	for i := 0; i <= len(contentLines)-len(oldLines); i++ {
		if !blockMatchesTrimmed(contentLines[i:i+len(oldLines)], oldLines) {
			continue
		}

		indent := leadingWhitespace(contentLines[i])
		newLines := strings.Split(newText, "\n")
		for j, line := range newLines {
			newLines[j] = indent + strings.TrimLeft(line, " \t")
		}

		result := make([]string, 0, len(contentLines)-len(oldLines)+len(newLines))
		result = append(result, contentLines[:i]...)
		result = append(result, newLines...)
		result = append(result, contentLines[i+len(oldLines):]...)
		return strings.Join(result, "\n"), true
	}

	return content, false
}

func blockMatchesTrimmed(contentBlock, oldLines []string) bool {
	for j, oldLine := range oldLines {
		if strings.TrimSpace(oldLine) != strings.TrimSpace(contentBlock[j]) {
			return false
		}
	}
	return true
}

func leadingWhitespace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}

func unifiedDiff(original, modified, path string) string {
	dmp := diffmatchpatch.New()

	diffs := dmp.DiffMain(normalizeLineEndings(original), normalizeLineEndings(modified), true)
	patches := dmp.PatchMake(diffs)

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s (original)\n", path)
	fmt.Fprintf(&b, "+++ %s (modified)\n", path)
	b.WriteString(dmp.PatchToText(patches))

	return b.String()
}

// compileExcludes compiles glob exclude patterns. Bare names are widened to
// match the entry anywhere in the tree.
func compileExcludes(patterns []string) ([]glob.Glob, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		if !strings.Contains(pattern, "*") {
			pattern = "**/" + pattern + "/**"
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %s: %w", pattern, err)
		}
		compiled = append(compiled, g)
	}
	return compiled, nil
}

func excluded(relPath string, patterns []glob.Glob) bool {
	for _, pattern := range patterns {
		if pattern.Match(filepath.ToSlash(relPath)) {
			return true
		}
	}
	return false
}
