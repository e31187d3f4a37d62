package toolexec

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

const maxReadFileBytes = 2 * 1024 * 1024 // 2 MB

// ReadFile implements the read_file tool: returns the UTF-8 content of a
// file (not a directory) no larger than 2 MB.
func ReadFile(pv *PathValidator, path string) (string, error) {
	abs, err := pv.Validate(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory, not a file", path)
	}
	if info.Size() > maxReadFileBytes {
		return "", fmt.Errorf("%s is %s, which exceeds the %s read limit",
			path, humanize.Bytes(uint64(info.Size())), humanize.Bytes(maxReadFileBytes))
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(content), nil
}

// WriteFile implements write_file: ensures the parent directory exists and
// writes atomically via a temp file plus rename, so a concurrent reader
// never observes a partially written file, and a crash mid-write never
// leaves a half-written file in place of the original.
func WriteFile(pv *PathValidator, path, content string) error {
	abs, err := pv.Validate(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create parent directory for %s: %w", path, err)
	}
	return atomicWrite(abs, []byte(content))
}

func atomicWrite(abs string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr != nil {
			return fmt.Errorf("write temp file: %w", writeErr)
		}
		return fmt.Errorf("close temp file: %w", closeErr)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file into place: %w", err)
	}
	return nil
}

// StrReplace implements str_replace: replaces a single occurrence of oldStr
// with newStr, failing if oldStr is absent or occurs more than once.
// Returns a unified diff of the change; the new content is only written to
// the file.
func StrReplace(pv *PathValidator, path, oldStr, newStr string) (diff string, err error) {
	abs, err := pv.Validate(path)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	original := string(content)

	count := strings.Count(original, oldStr)
	if count == 0 {
		return "", fmt.Errorf("old_str not found in %s", path)
	}
	if count > 1 {
		return "", fmt.Errorf("old_str occurs %d times in %s; it must be unique", count, path)
	}

	updated := strings.Replace(original, oldStr, newStr, 1)
	if err := atomicWrite(abs, []byte(updated)); err != nil {
		return "", err
	}

	edits := myers.ComputeEdits(span.URIFromPath(path), original, updated)
	unified := gotextdiff.ToUnified(path, path, original, edits)
	return fmt.Sprintf("%v", unified), nil
}

// directoryEntry is one row of a list_directory result.
type directoryEntry struct {
	Name  string
	IsDir bool
}

var hiddenOrIgnoredDirNames = map[string]bool{
	"node_modules": true,
}

// ListDirectory implements list_directory: hidden entries and node_modules
// are filtered, directories sort before files, and within each group
// entries are locale-sorted.
func ListDirectory(pv *PathValidator, path string) ([]string, error) {
	abs, err := pv.Validate(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", path, err)
	}

	var dirs, files []directoryEntry
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || hiddenOrIgnoredDirNames[name] {
			continue
		}
		entry := directoryEntry{Name: name, IsDir: e.IsDir()}
		if entry.IsDir {
			dirs = append(dirs, entry)
		} else {
			files = append(files, entry)
		}
	}
	sort.Slice(dirs, func(i, j int) bool { return strings.ToLower(dirs[i].Name) < strings.ToLower(dirs[j].Name) })
	sort.Slice(files, func(i, j int) bool { return strings.ToLower(files[i].Name) < strings.ToLower(files[j].Name) })

	out := make([]string, 0, len(dirs)+len(files))
	for _, d := range dirs {
		out = append(out, d.Name+"/")
	}
	for _, f := range files {
		out = append(out, f.Name)
	}
	return out, nil
}

// CreateDirectory implements create_directory.
func CreateDirectory(pv *PathValidator, path string) error {
	abs, err := pv.Validate(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// DeleteFile implements delete_file.
func DeleteFile(pv *PathValidator, path string) error {
	abs, err := pv.Validate(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// MoveFile implements move_file: both source and destination paths are
// validated independently, and the destination's parent directory is
// created if missing.
func MoveFile(pv *PathValidator, from, to string) error {
	absFrom, err := pv.Validate(from)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	absTo, err := pv.Validate(to)
	if err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absTo), 0o755); err != nil {
		return fmt.Errorf("create destination parent directory: %w", err)
	}
	if err := os.Rename(absFrom, absTo); err != nil {
		return fmt.Errorf("move %s to %s: %w", from, to, err)
	}
	return nil
}
