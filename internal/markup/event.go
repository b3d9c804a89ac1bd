package markup

import "strings"

// Markers of the in-band grammar.
const (
	ActionOpen  = "<action>"
	ActionClose = "</action>"
	ToolOpen    = "<tool>"
	ToolClose   = "</tool>"
)

// Kind discriminates parser events.
type Kind int

const (
	KindText Kind = iota
	KindAction
	KindToolCall
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindAction:
		return "action"
	case KindToolCall:
		return "tool_call"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one unit resolved from the model output.
//
// Text and Action carry Text. ToolCall carries Tool, Args and the raw JSON
// payload. Error carries Message, plus Tool and Excerpt when the failure
// concerns a tool-call marker.
type Event struct {
	Kind    Kind
	Text    string
	Tool    string
	Args    map[string]interface{}
	Raw     string
	Message string
	Excerpt string
}

// Coalesce merges adjacent Text events. How plain text is split into events
// depends on fragment boundaries, so comparisons across chunkings go through
// this.
func Coalesce(events []Event) []Event {
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if ev.Kind == KindText {
			if ev.Text == "" {
				continue
			}
			if n := len(out); n > 0 && out[n-1].Kind == KindText {
				out[n-1].Text += ev.Text
				continue
			}
		}
		out = append(out, ev)
	}
	return out
}

// Excerpt truncates s to at most limit runes for diagnostics.
func Excerpt(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

// heldPrefix returns the length of the longest suffix of s that is a proper
// prefix of one of the opening markers.
func heldPrefix(s string) int {
	best := 0
	for _, marker := range [...]string{ActionOpen, ToolOpen} {
		for n := min(len(marker)-1, len(s)); n > best; n-- {
			if strings.HasSuffix(s, marker[:n]) {
				best = n
				break
			}
		}
	}
	return best
}
