package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/codefionn/appforge/internal/consts"
	"github.com/codefionn/appforge/internal/llm"
	"github.com/codefionn/appforge/internal/sandbox"
	"github.com/codefionn/appforge/internal/store"
	"github.com/codefionn/appforge/internal/tools"
)

const (
	// maxResultChars bounds one tool output rendered for a continuation round
	maxResultChars = 4000
	// maxAttachmentChars bounds inline attachment content
	maxAttachmentChars = 20000
)

// historyMessages converts stored turns into model messages, oldest first.
// With maxTokens > 0 the oldest messages are dropped until the rest fits.
func historyMessages(turns []*store.ChatTurn, maxTokens int, count llm.TokenCounter) []*llm.Message {
	msgs := make([]*llm.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case store.RoleUser:
			msgs = append(msgs, &llm.Message{Role: "user", Content: userContent(t.Content, t.Attachments)})
		case store.RoleAssistant:
			content := t.Content
			if len(t.ToolCalls) > 0 {
				content = strings.TrimRight(content, "\n") + "\n\n" + renderToolCalls(t.ToolCalls)
			}
			msgs = append(msgs, &llm.Message{Role: "assistant", Content: content})
		}
	}

	if maxTokens > 0 {
		if count == nil {
			count = llm.EstimateTokenCount
		}
		total := 0
		sizes := make([]int, len(msgs))
		for i, m := range msgs {
			sizes[i] = count(m.Content)
			total += sizes[i]
		}
		start := 0
		for start < len(msgs) && total > maxTokens {
			total -= sizes[start]
			start++
		}
		msgs = msgs[start:]
	}

	// a conversation starts with the user
	for len(msgs) > 0 && msgs[0].Role != "user" {
		msgs = msgs[1:]
	}
	return msgs
}

// userContent appends attachments to a user message
func userContent(content string, attachments []store.Attachment) string {
	if len(attachments) == 0 {
		return content
	}
	var sb strings.Builder
	sb.WriteString(content)
	for _, a := range attachments {
		sb.WriteString("\n\n[attachment: ")
		sb.WriteString(a.Name)
		if a.MimeType != "" {
			sb.WriteString(" (" + a.MimeType + ")")
		}
		sb.WriteString("]")
		switch {
		case a.Content != "":
			body := truncate(a.Content, maxAttachmentChars, "\n... (truncated)")
			sb.WriteString("\n")
			sb.WriteString(body)
		case a.URL != "":
			sb.WriteString(" " + a.URL)
		}
	}
	return sb.String()
}

// renderToolCalls is the compact form of earlier tool calls kept in history
func renderToolCalls(calls []store.ToolCallRecord) string {
	var sb strings.Builder
	sb.WriteString("[tool results]")
	for _, c := range calls {
		fmt.Fprintf(&sb, "\n- %s: %s", c.Tool, c.Status)
		if c.Summary != "" {
			sb.WriteString(": " + c.Summary)
		}
		if c.Error != "" && !strings.Contains(c.Summary, c.Error) {
			sb.WriteString(" (" + c.Error + ")")
		}
	}
	return sb.String()
}

// renderRoundResults is the full form handed to a continuation round
func renderRoundResults(results []*tools.Result) string {
	var sb strings.Builder
	sb.WriteString("[tool results]\n")
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d. %s (%s): %s\n", i+1, r.Tool, r.Status, r.Summary)
		if r.Error != "" {
			sb.WriteString("error: " + r.Error + "\n")
		}
		if len(r.Output) > 0 {
			data, err := json.Marshal(r.Output)
			if err != nil {
				continue
			}
			out := truncate(string(data), maxResultChars, "...(truncated)")
			sb.WriteString(out + "\n")
		}
	}
	sb.WriteString("\nContinue with the task. Do not repeat tool calls that already succeeded.")
	return sb.String()
}

// sandboxAnnex describes the sandbox for the final user message. err is the
// probe failure, if any.
func sandboxAnnex(state *sandbox.State, err error) string {
	var sb strings.Builder
	sb.WriteString("[sandbox status]\n")
	if err != nil || state == nil {
		sb.WriteString("status unknown")
		return sb.String()
	}
	if !state.IsActive {
		sb.WriteString("sandbox: not running")
		return sb.String()
	}

	fmt.Fprintf(&sb, "sandbox: active\nrunning processes: %d", state.ProcessCount)
	if state.PreviewURL != "" {
		reach := "not reachable"
		if state.PreviewPortReachable {
			reach = "reachable"
		}
		fmt.Fprintf(&sb, "\npreview: %s (%s)", state.PreviewURL, reach)
	}
	for _, p := range state.Processes {
		status := "running"
		if !p.Running {
			status = fmt.Sprintf("exited with code %d", p.ExitCode)
		}
		fmt.Fprintf(&sb, "\n- %s `%s` (%s)", p.JobID, p.Command, status)
		writeTail(&sb, "stdout", p.StdoutTail)
		writeTail(&sb, "stderr", p.StderrTail)
	}
	return sb.String()
}

func writeTail(sb *strings.Builder, name string, lines []string) {
	if len(lines) == 0 {
		return
	}
	if len(lines) > consts.JobTailLines {
		lines = lines[len(lines)-consts.JobTailLines:]
	}
	fmt.Fprintf(sb, "\n  last %s:", name)
	for _, l := range lines {
		sb.WriteString("\n    " + l)
	}
}

// truncate cuts s to at most limit bytes without splitting a rune and
// appends marker when anything was cut
func truncate(s string, limit int, marker string) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + marker
}
