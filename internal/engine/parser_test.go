package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultParser(t *testing.T) {
	t.Parallel()

	p := defaultParser{}

	issues := p.Parse("ruff-check", `src/app.py:12:5: F401 'os' imported but unused
src/app.py:40:1: E302 expected 2 blank lines

Found 2 errors.
`)
	require.Equal(t, []string{
		"src/app.py:12:5: F401 'os' imported but unused",
		"src/app.py:40:1: E302 expected 2 blank lines",
		"Found 2 errors.",
	}, issues)

	issues = p.Parse("ruff-check", "WARNING: something looks off")
	require.Equal(t, []string{"WARNING: something looks off"}, issues)

	// Unparseable output still yields a synthetic issue, never an empty
	// list for a failure.
	issues = p.Parse("weird-tool", "ok-ish output\n")
	require.Equal(t, []string{"weird-tool exited with a non-zero status"}, issues)
}

func TestDefaultParserCapsIssues(t *testing.T) {
	t.Parallel()

	var output string
	for range 200 {
		output += "f.py:1:1: E501 line too long\n"
	}
	issues := defaultParser{}.Parse("ruff-check", output)
	require.Len(t, issues, maxParsedIssues)
}

func TestBuiltinParserOverrides(t *testing.T) {
	t.Parallel()

	parsers := BuiltinParsers()

	bandit, ok := parsers["bandit"]
	require.True(t, ok)
	issues := bandit.Parse("bandit", `Run started

>> Issue: [B602:subprocess_popen_with_shell_equals_true] shell=True
   Severity: High
>> Issue: [B105:hardcoded_password_string] Possible hardcoded password
`)
	require.Len(t, issues, 2)
	require.Contains(t, issues[0], "B602")

	gitleaks, ok := parsers["gitleaks"]
	require.True(t, ok)
	issues = gitleaks.Parse("gitleaks", "Finding: aws_access_key in config.py\n")
	require.Equal(t, []string{"Finding: aws_access_key in config.py"}, issues)
}
