// Package toolexec implements the built-in tool catalog the agent loop can
// dispatch into: filesystem operations, search, command execution, code
// structure extraction, and a couple of thin web-fetch helpers. Every tool
// call is wrapped so the executor itself never returns a Go error — failures
// are encoded as a failed provider.ToolResult, same as a provider.Tool call
// that succeeded but reported an application-level problem.
package toolexec

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// PathApprovalFunc is consulted when a resolved path falls outside the
// active project root. A nil func or a false return rejects the path.
type PathApprovalFunc func(resolvedPath, reason string) bool

// PathValidator resolves and authorizes filesystem-touching tool arguments
// against a project root, per the five-step pipeline: reject malformed
// input, reject UNC/extended-path prefixes, resolve to absolute, reject
// system-path prefixes, and gate anything outside the root through an
// approval callback.
type PathValidator struct {
	Root     string
	Approve  PathApprovalFunc
}

// systemPrefixesPOSIX (or systemPrefixesWindows on Windows) is checked
// case-insensitively against the resolved path.
var systemPrefixesPOSIX = []string{
	"/usr", "/etc", "/bin", "/sbin", "/lib", "/lib64", "/sys", "/proc", "/dev",
}

var systemPrefixesWindows = []string{
	`c:\windows`, `c:\program files`, `c:\program files (x86)`, `c:\programdata`,
}

// Validate runs the full pipeline and returns the resolved absolute path, or
// an error describing which step rejected it.
func (v *PathValidator) Validate(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if strings.ContainsRune(raw, 0) {
		return "", fmt.Errorf("path contains a null byte")
	}
	if hasUNCOrExtendedPrefix(raw) {
		return "", fmt.Errorf("UNC and extended-length path prefixes are rejected")
	}

	var abs string
	if filepath.IsAbs(raw) {
		abs = raw
	} else {
		root := v.Root
		if root == "" {
			var err error
			root, err = os.Getwd()
			if err != nil {
				return "", fmt.Errorf("resolve working directory: %w", err)
			}
		}
		abs = filepath.Join(root, raw)
	}
	abs, err := filepath.Abs(abs)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}
	if hasUNCOrExtendedPrefix(abs) {
		return "", fmt.Errorf("UNC and extended-length path prefixes are rejected")
	}

	if isSystemPath(abs) {
		return "", fmt.Errorf("access denied: %s is a protected system path", abs)
	}

	if v.Root == "" {
		return abs, nil
	}
	rootAbs, err := filepath.Abs(v.Root)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	if abs == rootAbs || strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
		return abs, nil
	}

	reason := fmt.Sprintf("%s is outside the project root %s", abs, rootAbs)
	if v.Approve == nil || !v.Approve(abs, reason) {
		return "", fmt.Errorf("access denied: %s", reason)
	}
	return abs, nil
}

func hasUNCOrExtendedPrefix(p string) bool {
	return strings.HasPrefix(p, `\\`) || strings.HasPrefix(p, `//`) || strings.HasPrefix(p, `\\?\`)
}

func isSystemPath(abs string) bool {
	lower := strings.ToLower(abs)
	prefixes := systemPrefixesPOSIX
	if runtime.GOOS == "windows" {
		prefixes = systemPrefixesWindows
	}
	for _, p := range prefixes {
		if lower == p || strings.HasPrefix(lower, p+string(filepath.Separator)) || strings.HasPrefix(lower, p+"/") {
			return true
		}
	}
	return false
}
