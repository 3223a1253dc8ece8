package workspace

import (
	"fmt"
	"strings"
)

// typeKeywords maps conventional-commit types to the title keywords that
// imply them. Order matters: first match wins. Grounded verbatim on
// kagan's services/workspaces.py _generate_semantic_commit keyword table.
var typeKeywords = []struct {
	commitType string
	keywords   []string
}{
	{"fix", []string{"fix", "bug", "issue"}},
	{"feat", []string{"add", "create", "implement", "new"}},
	{"refactor", []string{"refactor", "clean", "improve"}},
	{"docs", []string{"doc", "readme"}},
	{"test", []string{"test"}},
}

var scopeStopwords = map[string]bool{
	"the": true, "for": true, "and": true, "with": true, "from": true, "into": true,
}

// GenerateCommitMessage builds a conventional-commit message for a merge,
// inferring type from title keywords and scope from the title's second
// word, with the task's own commit log as the message body.
func GenerateCommitMessage(title string, commits []string) string {
	commitType := "chore"
	lower := strings.ToLower(title)
	for _, tk := range typeKeywords {
		for _, kw := range tk.keywords {
			if strings.Contains(lower, kw) {
				commitType = tk.commitType
				break
			}
		}
		if commitType != "chore" {
			break
		}
	}

	scope := scopeFromTitle(title)

	header := fmt.Sprintf("%s: %s", commitType, title)
	if scope != "" {
		header = fmt.Sprintf("%s(%s): %s", commitType, scope, title)
	}

	if len(commits) == 0 {
		return header
	}

	var body strings.Builder
	body.WriteString(header)
	body.WriteString("\n\n")
	for _, c := range commits {
		body.WriteString("- ")
		body.WriteString(c)
		body.WriteString("\n")
	}
	return strings.TrimRight(body.String(), "\n")
}

func scopeFromTitle(title string) string {
	fields := strings.Fields(title)
	if len(fields) < 2 {
		return ""
	}
	candidate := strings.ToLower(fields[1])
	candidate = strings.TrimFunc(candidate, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	if len(candidate) <= 2 || scopeStopwords[candidate] {
		return ""
	}
	return candidate
}
