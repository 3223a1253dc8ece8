// Package prompt renders the text sent to agent subprocesses via
// text/template, the same templating approach used elsewhere in this
// codebase's prompt-building code, extended with a small function map
// (title/upper/lower/join plus arithmetic helpers) for hat/scratchpad
// formatting.
package prompt

import (
	"bytes"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kagan-dev/kagan/internal/task"
)

var funcs = template.FuncMap{
	"title": cases.Title(language.English).String,
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"join":  strings.Join,
	"sub":   func(a, b int) int { return a - b },
	"add":   func(a, b int) int { return a + b },
}

// IterationData is the context for one run of the worker prompt.
type IterationData struct {
	Task          *task.Task
	Iteration     int
	MaxIterations int
	Scratchpad    string
	Hat           string // optional persona override, e.g. "frontend", "infra"
}

const iterationTemplate = `You are working on task {{.Task.ID}}: {{.Task.Title}}
{{- if .Hat}} ({{.Hat | title}} focus){{end}}

{{.Task.Description}}

Iteration {{.Iteration}} of {{.MaxIterations}}.

{{- if .Scratchpad}}

Prior scratchpad notes:
{{.Scratchpad}}
{{- end}}

When you are completely done, end your final message with <complete/>.
If you need more iterations to keep working, end with <continue/>.
If you are stuck and cannot proceed without human input, end with
<blocked reason="..."/>.
`

// BuildIteration renders the worker-iteration prompt.
func BuildIteration(data IterationData) (string, error) {
	return render("iteration", iterationTemplate, data)
}

// ReviewData is the context for the review prompt.
type ReviewData struct {
	Task       *task.Task
	CommitLog  []string
	DiffStats  string
}

const reviewTemplate = `Review task {{.Task.ID}}: {{.Task.Title}}

{{.Task.Description}}

Commits against base branch:
{{join .CommitLog "\n"}}

Diff statistics:
{{.DiffStats}}

Review the change for correctness and completeness. End your final
message with <approve summary="..."/> if it should be merged, or
<reject reason="..."/> if it should not.
`

// BuildReview renders the review prompt.
func BuildReview(data ReviewData) (string, error) {
	return render("review", reviewTemplate, data)
}

func render(name, tmplText string, data any) (string, error) {
	tmpl, err := template.New(name).Funcs(funcs).Parse(tmplText)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
