package tools

// Name is a tool of the closed catalog the model may call
type Name string

const (
	ToolNameCreateBoilerplate Name = "create_boilerplate"
	ToolNameWriteFile         Name = "write_file"
	ToolNameEditFile          Name = "edit_file"
	ToolNameDeleteFile        Name = "delete_file"
	ToolNameListFiles         Name = "list_files"
	ToolNameReadFile          Name = "read_file"
	ToolNameRunShell          Name = "run_shell"
	ToolNameRunCode           Name = "run_code"
	ToolNameWebSearch         Name = "web_search"
	ToolNameConfigureWorkflow Name = "configure_workflow"
)

var allNames = []Name{
	ToolNameCreateBoilerplate,
	ToolNameWriteFile,
	ToolNameEditFile,
	ToolNameDeleteFile,
	ToolNameListFiles,
	ToolNameReadFile,
	ToolNameRunShell,
	ToolNameRunCode,
	ToolNameWebSearch,
	ToolNameConfigureWorkflow,
}

// Names returns the catalog in prompt order
func Names() []Name {
	return append([]Name(nil), allNames...)
}

// IsKnown reports whether name is in the catalog
func IsKnown(name string) bool {
	for _, n := range allNames {
		if string(n) == name {
			return true
		}
	}
	return false
}

// Spec describes a tool for the system prompt
type Spec struct {
	Name        Name
	Args        string
	Description string
}

// Catalog returns the prompt-facing description of every tool.
// withSearch controls whether web_search is offered.
func Catalog(withSearch bool) []Spec {
	specs := []Spec{
		{ToolNameCreateBoilerplate, `{"template": "static|react-vite|flask|express"}`,
			"Write a starter file set for a new project."},
		{ToolNameWriteFile, `{"path": "src/App.jsx", "content": "..."}`,
			"Create or overwrite a project file."},
		{ToolNameEditFile, `{"path": "...", "old_str": "...", "new_str": "..."}`,
			"Replace the first occurrence of old_str in a file."},
		{ToolNameDeleteFile, `{"path": "..."}`,
			"Delete a project file."},
		{ToolNameListFiles, `{}`,
			"List project files."},
		{ToolNameReadFile, `{"path": "..."}`,
			"Read a project file."},
		{ToolNameRunShell, `{"command": "npm install"}`,
			"Run a shell command in the sandbox. Dev servers keep running in the background and become the project's workflow command."},
		{ToolNameRunCode, `{"language": "python", "code": "..."}`,
			"Execute a code snippet and return its output."},
		{ToolNameWebSearch, `{"query": "...", "num_results": 5}`,
			"Search the web."},
		{ToolNameConfigureWorkflow, `{"command": "npm run dev", "run": false}`,
			"Set the command that starts the app whenever the sandbox is (re)created."},
	}
	if withSearch {
		return specs
	}
	out := specs[:0]
	for _, s := range specs {
		if s.Name != ToolNameWebSearch {
			out = append(out, s)
		}
	}
	return out
}
