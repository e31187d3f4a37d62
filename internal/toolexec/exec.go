package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	defaultCommandTimeout = 60 * time.Second
	maxCommandTimeout     = 10 * time.Minute
	maxStdoutBytes        = 50 * 1024
	maxStderrBytes        = 10 * 1024
)

// ExecArgs are the arguments to execute_command.
type ExecArgs struct {
	Command    string `json:"command"`
	Cwd        string `json:"cwd,omitempty"`
	TimeoutSec int    `json:"timeoutSec,omitempty"`
}

// ExecuteCommand runs an allow-listed command under a hard timeout,
// never invoking a shell. It implements SPEC_FULL §4.5's eight-step
// command-execution pipeline.
func ExecuteCommand(ctx context.Context, pv *PathValidator, args ExecArgs) (string, error) {
	if strings.TrimSpace(args.Command) == "" {
		return "", errors.New("command cannot be empty")
	}
	if ContainsShellMetacharacter(args.Command) {
		return "", errors.New("command contains a disallowed shell metacharacter")
	}
	if runtime.GOOS == "windows" && (strings.Contains(args.Command, "%") || strings.Contains(args.Command, "^")) {
		return "", errors.New("command contains a disallowed Windows expansion/escape sequence")
	}

	tokens := Tokenize(args.Command)
	if len(tokens) == 0 {
		return "", errors.New("command cannot be empty")
	}

	exe := tokens[0]
	if !IsAllowed(exe) {
		return "", fmt.Errorf("%q is not in the allow-list of executables this agent may run", exe)
	}
	if HasBlockedEvalFlag(exe, tokens[1:]) {
		return "", fmt.Errorf("%q with an inline-eval flag is not permitted", exe)
	}

	cwd := ""
	if args.Cwd != "" {
		resolved, err := pv.Validate(args.Cwd)
		if err != nil {
			return "", fmt.Errorf("cwd: %w", err)
		}
		cwd = resolved
	} else if pv.Root != "" {
		cwd = pv.Root
	}

	timeout := defaultCommandTimeout
	if args.TimeoutSec > 0 {
		timeout = time.Duration(args.TimeoutSec) * time.Second
	}
	if timeout > maxCommandTimeout {
		timeout = maxCommandTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	realExe := ResolveExecutableName(exe)
	cmd := exec.CommandContext(runCtx, realExe, tokens[1:]...)
	if cwd != "" {
		cmd.Dir = cwd
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	out := stdout.String()
	errOut := stderr.String()
	truncatedOut, outTruncated := capBytes(out, maxStdoutBytes)
	truncatedErr, errTruncated := capBytes(errOut, maxStderrBytes)

	var b strings.Builder
	if truncatedOut != "" {
		b.WriteString(truncatedOut)
		if !strings.HasSuffix(truncatedOut, "\n") {
			b.WriteByte('\n')
		}
	}
	if outTruncated {
		fmt.Fprintf(&b, "[stdout truncated to %s]\n", humanize.Bytes(maxStdoutBytes))
	}
	if truncatedErr != "" {
		b.WriteString(truncatedErr)
		if !strings.HasSuffix(truncatedErr, "\n") {
			b.WriteByte('\n')
		}
	}
	if errTruncated {
		fmt.Fprintf(&b, "[stderr truncated to %s]\n", humanize.Bytes(maxStderrBytes))
	}

	if runCtx.Err() == context.DeadlineExceeded {
		fmt.Fprintf(&b, "[timed out after %s]\n", timeout)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			fmt.Fprintf(&b, "[exit code: %d]\n", exitErr.ExitCode())
		} else if runCtx.Err() != context.DeadlineExceeded {
			return b.String(), fmt.Errorf("execute %q: %w", exe, runErr)
		}
	}

	result := b.String()
	if result == "" {
		result = "(no output)\n"
	}
	return result, nil
}

// capBytes truncates s to at most n bytes, reporting whether truncation
// occurred.
func capBytes(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	return s[:n], true
}
