package toolexec

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestReadFileRejectsOversized(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")
	if err := os.WriteFile(path, make([]byte, maxReadFileBytes+1), 0o644); err != nil {
		t.Fatal(err)
	}
	pv := &PathValidator{Root: dir}
	if _, err := ReadFile(pv, "big.txt"); err == nil {
		t.Error("expected oversized file to be rejected")
	}
}

func TestReadFileAcceptsExactLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exact.txt")
	if err := os.WriteFile(path, make([]byte, maxReadFileBytes), 0o644); err != nil {
		t.Fatal(err)
	}
	pv := &PathValidator{Root: dir}
	if _, err := ReadFile(pv, "exact.txt"); err != nil {
		t.Errorf("expected file at exactly the limit to be accepted, got %v", err)
	}
}

func TestReadFileRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	pv := &PathValidator{Root: dir}
	if _, err := ReadFile(pv, "."); err == nil {
		t.Error("expected directory read to be rejected")
	}
}

func TestWriteFileIsAtomicAndCreatesParents(t *testing.T) {
	dir := t.TempDir()
	pv := &PathValidator{Root: dir}
	if err := WriteFile(pv, "nested/dir/file.txt", "hello"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(dir, "nested/dir/file.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "hello" {
		t.Errorf("got %q", content)
	}
	// no leftover temp files
	entries, _ := os.ReadDir(filepath.Join(dir, "nested/dir"))
	if len(entries) != 1 {
		t.Errorf("expected exactly one file in directory, got %d", len(entries))
	}
}

func TestStrReplaceRejectsAbsentOldStr(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	os.WriteFile(path, []byte("hello world"), 0o644)
	pv := &PathValidator{Root: dir}
	if _, err := StrReplace(pv, "f.txt", "missing", "x"); err == nil {
		t.Error("expected error when old_str is absent")
	}
}

func TestStrReplaceRejectsDuplicateOldStr(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	os.WriteFile(path, []byte("foo foo"), 0o644)
	pv := &PathValidator{Root: dir}
	if _, err := StrReplace(pv, "f.txt", "foo", "bar"); err == nil {
		t.Error("expected error when old_str occurs twice")
	}
}

func TestStrReplaceSucceedsAndReturnsDiff(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	os.WriteFile(path, []byte("hello world"), 0o644)
	pv := &PathValidator{Root: dir}
	diff, err := StrReplace(pv, "f.txt", "world", "there")
	if err != nil {
		t.Fatalf("StrReplace: %v", err)
	}
	if !strings.Contains(diff, "there") {
		t.Errorf("expected diff to mention replacement, got %q", diff)
	}
	content, _ := os.ReadFile(path)
	if string(content) != "hello there" {
		t.Errorf("got %q", content)
	}
}

func TestListDirectoryFiltersHiddenAndNodeModules(t *testing.T) {
	dir := t.TempDir()
	os.Mkdir(filepath.Join(dir, ".git"), 0o755)
	os.Mkdir(filepath.Join(dir, "node_modules"), 0o755)
	os.Mkdir(filepath.Join(dir, "src"), 0o755)
	os.WriteFile(filepath.Join(dir, ".hidden"), []byte(""), 0o644)
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte(""), 0o644)

	pv := &PathValidator{Root: dir}
	entries, err := ListDirectory(pv, ".")
	if err != nil {
		t.Fatal(err)
	}
	if entries[0] != "src/" {
		t.Errorf("expected directory first, got %v", entries)
	}
	for _, e := range entries {
		if e == ".git/" || e == "node_modules/" || e == ".hidden" {
			t.Errorf("expected %q to be filtered, got %v", e, entries)
		}
	}
}

func TestPathValidatorRejectsOutsideRootWithoutApproval(t *testing.T) {
	dir := t.TempDir()
	other := t.TempDir()
	pv := &PathValidator{Root: dir}
	if _, err := pv.Validate("/etc/passwd"); err == nil {
		t.Error("expected system path to be rejected")
	}
	if _, err := pv.Validate(filepath.Join(other, "x.txt")); err == nil {
		t.Error("expected a path outside the project root to be rejected without an approval callback")
	}
}

func TestPathValidatorAllowsOutsideRootWithApproval(t *testing.T) {
	dir := t.TempDir()
	other := t.TempDir()
	approved := false
	pv := &PathValidator{Root: dir, Approve: func(path, reason string) bool { approved = true; return true }}
	resolved, err := pv.Validate(filepath.Join(other, "x.txt"))
	if err != nil {
		t.Fatalf("expected approval to allow path, got %v", err)
	}
	if !approved {
		t.Error("expected approval callback to be invoked")
	}
	if resolved == "" {
		t.Error("expected resolved path")
	}
}

func TestPathValidatorRejectsNullByte(t *testing.T) {
	pv := &PathValidator{}
	if _, err := pv.Validate("foo\x00bar"); err == nil {
		t.Error("expected null byte path to be rejected")
	}
}

func TestPathValidatorRejectsUNCPrefix(t *testing.T) {
	pv := &PathValidator{}
	if _, err := pv.Validate(`\\server\share`); err == nil {
		t.Error("expected UNC path to be rejected")
	}
}

func TestAllowlistRejectsUnknownExecutable(t *testing.T) {
	if IsAllowed("totally-not-a-thing") {
		t.Error("expected unknown executable to be rejected")
	}
}

func TestAllowlistStripsPlatformSuffix(t *testing.T) {
	if !IsAllowed("git.exe") {
		t.Error("expected git.exe to resolve to the allow-listed git")
	}
}

func TestHasBlockedEvalFlagDetectsNodeEval(t *testing.T) {
	if !HasBlockedEvalFlag("node", []string{"-e", "console.log(1)"}) {
		t.Error("expected node -e to be blocked")
	}
	if HasBlockedEvalFlag("node", []string{"script.js"}) {
		t.Error("expected node script.js to be allowed")
	}
}

func TestContainsShellMetacharacter(t *testing.T) {
	cases := map[string]bool{
		"ls -la":          false,
		"ls; rm -rf /":    true,
		"echo $(whoami)":  true,
		"echo `whoami`":   true,
		"git status":      false,
		"cat a.txt | wc":  true,
	}
	for cmd, want := range cases {
		if got := ContainsShellMetacharacter(cmd); got != want {
			t.Errorf("ContainsShellMetacharacter(%q) = %v, want %v", cmd, got, want)
		}
	}
}

func TestTokenizeHonorsQuotes(t *testing.T) {
	got := Tokenize(`git commit -m "hello world"`)
	want := []string{"git", "commit", "-m", "hello world"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestExecuteCommandRejectsNonAllowlisted(t *testing.T) {
	dir := t.TempDir()
	pv := &PathValidator{Root: dir}
	if _, err := ExecuteCommand(context.Background(), pv, ExecArgs{Command: "curl http://evil.example"}); err == nil {
		t.Error("expected curl to be rejected (not allow-listed and contains no metachar but still blocked)")
	}
}

func TestExecuteCommandRejectsShellMetacharacters(t *testing.T) {
	dir := t.TempDir()
	pv := &PathValidator{Root: dir}
	if _, err := ExecuteCommand(context.Background(), pv, ExecArgs{Command: "git status; rm -rf /"}); err == nil {
		t.Error("expected shell metacharacter to be rejected")
	}
}

func TestExecuteCommandRunsAllowlistedEcho(t *testing.T) {
	dir := t.TempDir()
	pv := &PathValidator{Root: dir}
	out, err := ExecuteCommand(context.Background(), pv, ExecArgs{Command: "echo hello"})
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("expected output to contain hello, got %q", out)
	}
}

func TestGetGitDiffDelegatesThroughExecuteCommand(t *testing.T) {
	dir := t.TempDir()
	pv := &PathValidator{Root: dir}
	// git isn't a repo here, so this should surface git's own error text
	// through the same execute_command path, not panic or bypass the allow-list.
	out, err := GetGitDiff(context.Background(), pv, GitDiffArgs{})
	if err != nil {
		t.Fatalf("GetGitDiff: %v", err)
	}
	if out == "" {
		t.Error("expected some output from git diff delegation")
	}
}

func TestListCodeDefinitionsExtractsGoTopLevelSymbols(t *testing.T) {
	dir := t.TempDir()
	src := "package main\n\nfunc Hello() string {\n\treturn \"hi\"\n}\n\ntype Greeter struct {\n\tName string\n}\n"
	os.WriteFile(filepath.Join(dir, "f.go"), []byte(src), 0o644)
	pv := &PathValidator{Root: dir}
	defs, err := ListCodeDefinitions(context.Background(), pv, "f.go")
	if err != nil {
		t.Fatalf("ListCodeDefinitions: %v", err)
	}
	foundFunc, foundStruct := false, false
	for _, d := range defs {
		if d.Name == "Hello" && d.Kind == "func" {
			foundFunc = true
		}
		if d.Name == "Greeter" && d.Kind == "struct" {
			foundStruct = true
		}
	}
	if !foundFunc || !foundStruct {
		t.Errorf("expected Hello func and Greeter struct, got %+v", defs)
	}
}

func TestListCodeDefinitionsRegexFallbackForPython(t *testing.T) {
	dir := t.TempDir()
	src := "def greet(name):\n    return name\n\nclass Greeter:\n    pass\n"
	os.WriteFile(filepath.Join(dir, "f.py"), []byte(src), 0o644)
	pv := &PathValidator{Root: dir}
	defs, err := ListCodeDefinitions(context.Background(), pv, "f.py")
	if err != nil {
		t.Fatalf("ListCodeDefinitions: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %+v", defs)
	}
}

func TestSearchFilesHonorsMaxResults(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 150; i++ {
		os.WriteFile(filepath.Join(dir, "f"+strconv.Itoa(i)+".txt"), []byte("needle\n"), 0o644)
	}
	pv := &PathValidator{Root: dir}
	results, err := SearchFiles(context.Background(), pv, ".", "needle", "")
	if err != nil {
		t.Fatalf("SearchFiles: %v", err)
	}
	if len(results) > maxSearchResults {
		t.Errorf("expected at most %d results, got %d", maxSearchResults, len(results))
	}
}

func TestSearchFilesRejectsOverlongPattern(t *testing.T) {
	dir := t.TempDir()
	pv := &PathValidator{Root: dir}
	if _, err := SearchFiles(context.Background(), pv, ".", strings.Repeat("a", maxSearchPatternLen+1), ""); err == nil {
		t.Error("expected overlong pattern to be rejected")
	}
}

func TestExecutorNeverReturnsGoError(t *testing.T) {
	dir := t.TempDir()
	ex := &Executor{PathValidator: &PathValidator{Root: dir}}
	result := ex.Execute(context.Background(), "c1", "read_file", json.RawMessage(`{"path":"does-not-exist.txt"}`))
	if result.Success {
		t.Error("expected failure for missing file")
	}
	if !strings.Contains(result.Output, "Error executing read_file") {
		t.Errorf("expected wrapped error message, got %q", result.Output)
	}
}

func TestExecutorUnknownToolFails(t *testing.T) {
	ex := &Executor{PathValidator: &PathValidator{}}
	result := ex.Execute(context.Background(), "c1", "not_a_real_tool", json.RawMessage(`{}`))
	if result.Success {
		t.Error("expected unknown tool to fail")
	}
}

func TestFetchURLBlocksLoopback(t *testing.T) {
	_, err := FetchURL(context.Background(), nil, "http://127.0.0.1:9/", 0)
	if err == nil {
		t.Error("expected loopback fetch to be blocked without explicit allow")
	}
}

func TestFetchURLAllowsLoopbackWhenAllowed(t *testing.T) {
	allow := func(host string) bool { return true }
	// This will still fail to connect (nothing listening), but must get past
	// the allow-list check itself, i.e. not return ErrPrivateNetworkBlocked.
	_, err := FetchURL(context.Background(), allow, "http://127.0.0.1:1/", 0)
	if err == ErrPrivateNetworkBlocked {
		t.Error("expected allow-listed loopback to pass the domain check")
	}
}

func TestWebSearchWithoutBackendReturnsClearError(t *testing.T) {
	_, err := WebSearch(context.Background(), nil, "query", 0)
	if err != ErrNoSearchBackend {
		t.Errorf("expected ErrNoSearchBackend, got %v", err)
	}
}

func TestLintFileIsStub(t *testing.T) {
	if _, err := LintFile("x.go"); err == nil {
		t.Error("expected lint_file stub to return an error")
	}
}

func TestCatalogListsAllBuiltinTools(t *testing.T) {
	names := map[string]bool{}
	for _, tool := range Catalog() {
		names[tool.Name] = true
	}
	for name := range MutatingTools {
		if !names[name] {
			t.Errorf("mutating tool %q missing from catalog", name)
		}
	}
}
