package toolexec

import (
	"context"
	"fmt"
)

// GitDiffArgs are the arguments to get_git_diff.
type GitDiffArgs struct {
	File   string `json:"file,omitempty"`
	Staged bool   `json:"staged,omitempty"`
}

// GetGitDiff implements get_git_diff by delegating through ExecuteCommand,
// the same path a model-issued execute_command call would take, rather than
// spawning git directly — so there is exactly one allow-listed execution
// path in this process, not two.
func GetGitDiff(ctx context.Context, pv *PathValidator, args GitDiffArgs) (string, error) {
	command := "git diff"
	if args.Staged {
		command += " --cached"
	}
	if args.File != "" {
		command += fmt.Sprintf(` -- %q`, args.File)
	}
	return ExecuteCommand(ctx, pv, ExecArgs{Command: command})
}
