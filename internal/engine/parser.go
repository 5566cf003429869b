package engine

import (
	"bufio"
	"regexp"
	"strings"
)

const maxParsedIssues = 50

// OutputParser extracts a best-effort issue list from a failed hook's
// combined output. The result is informational only and never affects
// pass/fail classification.
type OutputParser interface {
	Parse(hookName, output string) []string
}

// ParserFunc adapts a function to the [OutputParser] interface.
type ParserFunc func(hookName, output string) []string

// Parse implements [OutputParser].
func (f ParserFunc) Parse(hookName, output string) []string { return f(hookName, output) }

// locationLine matches `path:line`-shaped diagnostics, the common output
// format of linters and type checkers.
var locationLine = regexp.MustCompile(`^\S+:\d+`)

// defaultParser keeps lines that look like diagnostics: `path:line` shapes
// or lines mentioning an error or warning.
type defaultParser struct{}

func (defaultParser) Parse(hookName, output string) []string {
	issues := []string{}
	sc := bufio.NewScanner(strings.NewReader(output))
	sc.Buffer(make([]byte, 64*1024), 64*1024)
	for sc.Scan() && len(issues) < maxParsedIssues {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if locationLine.MatchString(line) ||
			strings.Contains(lower, "error") ||
			strings.Contains(lower, "warning") {
			issues = append(issues, line)
		}
	}
	if len(issues) == 0 {
		issues = append(issues, hookName+" exited with a non-zero status")
	}
	return issues
}

// BuiltinParsers returns the named output-parser overrides for tools whose
// output doesn't fit the default heuristic. The table is built once at
// configuration time; the engine itself contains no per-tool conditionals.
func BuiltinParsers() map[string]OutputParser {
	return map[string]OutputParser{
		"bandit": ParserFunc(func(hookName, output string) []string {
			issues := []string{}
			sc := bufio.NewScanner(strings.NewReader(output))
			for sc.Scan() && len(issues) < maxParsedIssues {
				line := strings.TrimSpace(sc.Text())
				if strings.HasPrefix(line, ">> Issue:") {
					issues = append(issues, strings.TrimSpace(strings.TrimPrefix(line, ">> Issue:")))
				}
			}
			if len(issues) == 0 {
				issues = append(issues, hookName+" exited with a non-zero status")
			}
			return issues
		}),
		"gitleaks": ParserFunc(func(hookName, output string) []string {
			issues := []string{}
			sc := bufio.NewScanner(strings.NewReader(output))
			for sc.Scan() && len(issues) < maxParsedIssues {
				line := strings.TrimSpace(sc.Text())
				if strings.HasPrefix(line, "Finding:") || strings.HasPrefix(line, "Secret:") {
					issues = append(issues, line)
				}
			}
			if len(issues) == 0 {
				issues = append(issues, hookName+" detected potential secrets")
			}
			return issues
		}),
	}
}
