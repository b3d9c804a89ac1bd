package agent

import (
	"bytes"
	"strings"
	"text/template"
	"time"

	"github.com/codefionn/appforge/internal/markup"
	"github.com/codefionn/appforge/internal/tools"
)

const systemPromptTemplate = `You are an app-building agent. The user describes an app in plain language; you build it
inside the project "{{ .ProjectName }}" by writing files and running commands in its sandbox,
then tell the user how to see it in the live preview.

## Markup
Everything you write is streamed to the user. Two inline markers drive the system:
- Progress: {{ .ActionOpen }}short description of the current step{{ .ActionClose }}
- Tool call: {{ .ToolOpen }}tool_name{{ .ToolClose }}{"json": "object"}
  The JSON object follows the closing tag directly and must be valid JSON on its own.
  File contents go into JSON strings; escape quotes, backslashes and newlines.
Never wrap markers in code fences. Text outside markers is shown to the user as is.

## Tools
{{- range .Tools }}
- {{ .Name }} {{ .Args }}
  {{ .Description }}
{{- end }}

## Working rules
- Announce each step with a progress marker before doing it.
- Start new projects with create_boilerplate when one of {{ join .Boilerplates ", " }} fits.
- Commands that start servers (npm run dev, python app.py, ...) keep running in the background
  and become the project's workflow command; do not wait for them to finish.
- Short commands are cut off after a few seconds and keep running in the background.
- Dev servers must bind 0.0.0.0 and the port from $PORT.
- Tool results arrive in the next message; check them before claiming success.
{{- if .HasWebSearch }}
- web_search is available. Today is {{ .CurrentDate }}; search when library versions or APIs
  may have changed since your knowledge cutoff.
{{- else }}
- Web search is not available. Today is {{ .CurrentDate }}.
{{- end }}
- Keep the prose short: what you built and how to use it.
`

var systemPrompt = template.Must(template.New("system").
	Funcs(template.FuncMap{"join": strings.Join}).
	Parse(systemPromptTemplate))

type systemPromptData struct {
	ProjectName  string
	CurrentDate  string
	HasWebSearch bool
	Tools        []tools.Spec
	Boilerplates []string
	ActionOpen   string
	ActionClose  string
	ToolOpen     string
	ToolClose    string
}

// BuildSystemPrompt renders the system prompt of a project
func BuildSystemPrompt(projectName string, hasWebSearch bool, now time.Time) (string, error) {
	data := systemPromptData{
		ProjectName:  projectName,
		CurrentDate:  now.Format("2006-01-02"),
		HasWebSearch: hasWebSearch,
		Tools:        tools.Catalog(hasWebSearch),
		Boilerplates: tools.Boilerplates(),
		ActionOpen:   markup.ActionOpen,
		ActionClose:  markup.ActionClose,
		ToolOpen:     markup.ToolOpen,
		ToolClose:    markup.ToolClose,
	}

	var buf bytes.Buffer
	if err := systemPrompt.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
