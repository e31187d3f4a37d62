package toolexec

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// gitignoreMatcher matches relative paths against a directory's .gitignore
// patterns, used by search_files' in-process fallback to honor .gitignore
// the same way the ripgrep path does natively.
type gitignoreMatcher struct {
	patterns []*gitignorePattern
}

type gitignorePattern struct {
	regex    *regexp.Regexp
	negation bool
	dirOnly  bool
}

func newGitignoreMatcher(path string) (*gitignoreMatcher, error) {
	m := &gitignoreMatcher{}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if p := parseGitignoreLine(line); p != nil {
			m.patterns = append(m.patterns, p)
		}
	}
	return m, scanner.Err()
}

func (m *gitignoreMatcher) Matches(relPath string, isDir bool) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	relPath = filepath.ToSlash(relPath)
	matched := false
	for _, p := range m.patterns {
		hit := p.regex.MatchString(relPath) || (!isDir && p.regex.MatchString(filepath.Base(relPath)))
		if p.dirOnly && !isDir {
			hit = p.regex.MatchString(filepath.Dir(relPath))
		}
		if hit {
			matched = !p.negation
		}
	}
	return matched
}

func parseGitignoreLine(line string) *gitignorePattern {
	negation := strings.HasPrefix(line, "!")
	if negation {
		line = line[1:]
	}
	anchored := strings.HasPrefix(line, "/")
	dirOnly := strings.HasSuffix(line, "/")
	if dirOnly {
		line = strings.TrimSuffix(line, "/")
	}
	regex, err := regexp.Compile(globToRegex(line, anchored))
	if err != nil {
		return nil
	}
	return &gitignorePattern{regex: regex, negation: negation, dirOnly: dirOnly}
}

func globToRegex(pattern string, anchored bool) string {
	var b strings.Builder
	if anchored {
		b.WriteString("^")
		pattern = strings.TrimPrefix(pattern, "/")
	} else {
		b.WriteString("(^|/)")
	}
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		case '.', '+', '(', ')', '|', '^', '$':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	if anchored {
		b.WriteString("$")
	} else {
		b.WriteString("(/.*)?$")
	}
	return b.String()
}
