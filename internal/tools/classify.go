package tools

import (
	"regexp"
	"strings"
)

// CommandClass tells how a shell command is executed
type CommandClass int

const (
	// CommandShort runs in the foreground under a bounded wait
	CommandShort CommandClass = iota
	// CommandLong starts a persistent process and is detached immediately
	CommandLong
)

func (c CommandClass) String() string {
	if c == CommandLong {
		return "long"
	}
	return "short"
}

// longRunningPatterns match commands that start servers or watchers. The
// list is illustrative; anything unmatched is treated as short.
var longRunningPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(npm|pnpm)\s+(run\s+)?(dev|start|serve|preview)\b`),
	regexp.MustCompile(`^yarn\s+(run\s+)?(dev|start|serve|preview)\b`),
	regexp.MustCompile(`^bun\s+(run\s+)?(dev|start)\b`),
	regexp.MustCompile(`^npx\s+(vite|next|serve|http-server|nodemon)\b`),
	regexp.MustCompile(`^(next|nuxt|astro)\s+dev\b`),
	regexp.MustCompile(`^(vite|serve|http-server|nodemon|live-server)(\s|$)`),
	regexp.MustCompile(`^python3?\s+(-u\s+)?[\w./-]+\.py\b`),
	regexp.MustCompile(`^python3?\s+-m\s+(http\.server|flask\s+run|uvicorn|streamlit)\b`),
	regexp.MustCompile(`^(flask\s+run|uvicorn|gunicorn|hypercorn|streamlit\s+run)\b`),
	regexp.MustCompile(`^node\s+[\w./-]+\.(js|mjs|cjs)\b`),
	regexp.MustCompile(`^php\s+-S\b`),
	regexp.MustCompile(`^(bin/)?rails\s+(s|server)\b`),
	regexp.MustCompile(`^go\s+run\b`),
	regexp.MustCompile(`^deno\s+(run|task)\b`),
	regexp.MustCompile(`^(nohup|watch)\s`),
}

// ClassifyCommand decides whether command starts a persistent process
func ClassifyCommand(command string) CommandClass {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return CommandShort
	}
	if strings.HasSuffix(cmd, "&") && !strings.HasSuffix(cmd, "&&") {
		return CommandLong
	}

	// the last segment of a chain decides: "cd app && npm run dev"
	segments := chainSeparator.Split(cmd, -1)
	for i := len(segments) - 1; i >= 0; i-- {
		seg := strings.TrimSpace(segments[i])
		if seg == "" {
			continue
		}
		seg = stripEnvAssignments(seg)
		for _, re := range longRunningPatterns {
			if re.MatchString(seg) {
				return CommandLong
			}
		}
		return CommandShort
	}
	return CommandShort
}

var chainSeparator = regexp.MustCompile(`\s*(&&|;|\|\|)\s*`)

var envAssignment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=\S*\s+`)

func stripEnvAssignments(seg string) string {
	for {
		loc := envAssignment.FindStringIndex(seg)
		if loc == nil {
			return seg
		}
		seg = seg[loc[1]:]
	}
}

// backgroundCommand removes a trailing "&" so the sandbox can track the process
func backgroundCommand(command string) string {
	cmd := strings.TrimSpace(command)
	if strings.HasSuffix(cmd, "&") && !strings.HasSuffix(cmd, "&&") {
		cmd = strings.TrimSpace(strings.TrimSuffix(cmd, "&"))
	}
	return cmd
}
