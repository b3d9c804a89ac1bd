package markup

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codefionn/appforge/internal/consts"
	"github.com/codefionn/appforge/internal/logger"
)

type mode int

const (
	modeText mode = iota
	modeAction
	modeToolName
	modeToolGap
	modeToolJSON
)

// maxPayloadBytes bounds a buffered tool-call payload.
const maxPayloadBytes = consts.BufferSize10MB

// Parser turns an incrementally arriving model response into events.
//
// The parser keeps only the unresolved tail of the stream. Plain text is
// released as soon as it cannot be the start of a marker; action bodies and
// tool payloads stay buffered until their end is seen. Scanning resumes where
// the previous Feed stopped, so no byte is examined twice for a given state.
// A Parser is not safe for concurrent use.
type Parser struct {
	known func(string) bool
	log   *logger.Logger

	mode mode
	buf  string

	// resume offset for close-marker search and JSON scanning
	scan     int
	depth    int
	inString bool
	escape   bool

	tool    string
	unknown bool
	flushed bool
}

// NewParser creates a parser. known reports whether a tool name is part of
// the tool catalog; nil accepts every name.
func NewParser(known func(string) bool) *Parser {
	if known == nil {
		known = func(string) bool { return true }
	}
	return &Parser{
		known: known,
		log:   logger.Global().WithPrefix("markup"),
	}
}

// Feed appends a fragment and returns the events it made unambiguous.
func (p *Parser) Feed(fragment string) []Event {
	if p.flushed || fragment == "" {
		return nil
	}
	p.buf += fragment
	return p.drain(nil)
}

// Flush resolves whatever is still buffered at end of stream. The parser
// accepts no input afterwards.
func (p *Parser) Flush() []Event {
	if p.flushed {
		return nil
	}
	events := p.drain(nil)
	p.flushed = true

	switch p.mode {
	case modeText:
		if p.buf != "" {
			events = append(events, Event{Kind: KindText, Text: p.buf})
		}
	case modeAction:
		events = append(events, p.parseError("", "unterminated action marker", ActionOpen+p.buf))
	case modeToolName:
		events = append(events, p.parseError("", "unterminated tool marker", ToolOpen+p.buf))
	case modeToolGap:
		if p.unknown {
			p.log.Debug("dropping unknown tool %q without payload", p.tool)
		} else {
			events = append(events, p.parseError(p.tool, "tool call without JSON payload", ""))
		}
	case modeToolJSON:
		if p.unknown {
			p.log.Debug("dropping unterminated payload of unknown tool %q", p.tool)
		} else {
			events = append(events, p.parseError(p.tool, "unterminated JSON payload", p.buf))
		}
	}

	p.buf = ""
	p.mode = modeText
	return events
}

func (p *Parser) drain(events []Event) []Event {
	for {
		var progressed bool
		switch p.mode {
		case modeText:
			events, progressed = p.stepText(events)
		case modeAction:
			events, progressed = p.stepAction(events)
		case modeToolName:
			events, progressed = p.stepToolName(events)
		case modeToolGap:
			events, progressed = p.stepToolGap(events)
		case modeToolJSON:
			events, progressed = p.stepToolJSON(events)
		}
		if !progressed {
			return events
		}
	}
}

func (p *Parser) stepText(events []Event) ([]Event, bool) {
	ia := strings.Index(p.buf, ActionOpen)
	it := strings.Index(p.buf, ToolOpen)

	switch {
	case ia >= 0 && (it < 0 || ia < it):
		events = appendText(events, p.buf[:ia])
		p.enter(modeAction, p.buf[ia+len(ActionOpen):])
		return events, true
	case it >= 0:
		events = appendText(events, p.buf[:it])
		p.enter(modeToolName, p.buf[it+len(ToolOpen):])
		return events, true
	}

	held := heldPrefix(p.buf)
	events = appendText(events, p.buf[:len(p.buf)-held])
	p.buf = p.buf[len(p.buf)-held:]
	return events, false
}

func (p *Parser) stepAction(events []Event) ([]Event, bool) {
	i := p.findClose(ActionClose)
	if i < 0 {
		return events, false
	}
	desc := strings.TrimSpace(p.buf[:i])
	if desc == "" {
		p.log.Debug("dropping empty action marker")
	} else {
		events = append(events, Event{Kind: KindAction, Text: desc})
	}
	p.enter(modeText, p.buf[i+len(ActionClose):])
	return events, true
}

func (p *Parser) stepToolName(events []Event) ([]Event, bool) {
	i := p.findClose(ToolClose)
	if i > consts.MaxToolNameBytes || (i < 0 && len(p.buf) >= consts.MaxToolNameBytes+len(ToolClose)) {
		// too long to be a tool name; the opening marker was prose
		events = appendText(events, ToolOpen)
		p.enter(modeText, p.buf)
		return events, true
	}
	if i < 0 {
		return events, false
	}

	p.tool = strings.TrimSpace(p.buf[:i])
	p.unknown = !p.known(p.tool)
	if p.unknown {
		p.log.Debug("ignoring unknown tool %q", p.tool)
	}
	p.enter(modeToolGap, p.buf[i+len(ToolClose):])
	return events, true
}

func (p *Parser) stepToolGap(events []Event) ([]Event, bool) {
	rest := strings.TrimLeft(p.buf, " \t\r\n")
	if rest == "" {
		p.buf = ""
		return events, false
	}
	if rest[0] == '{' {
		p.enter(modeToolJSON, rest)
		return events, true
	}

	if !p.unknown {
		events = append(events, p.parseError(p.tool, "expected JSON object after tool marker", ""))
	}
	p.enter(modeText, rest)
	return events, true
}

func (p *Parser) stepToolJSON(events []Event) ([]Event, bool) {
	end := -1
	for i := p.scan; i < len(p.buf); i++ {
		c := p.buf[i]
		if p.inString {
			switch {
			case p.escape:
				p.escape = false
			case c == '\\':
				p.escape = true
			case c == '"':
				p.inString = false
			}
			continue
		}
		switch c {
		case '"':
			p.inString = true
		case '{':
			p.depth++
		case '}':
			p.depth--
		}
		if p.depth == 0 {
			end = i + 1
			break
		}
	}

	if end < 0 {
		p.scan = len(p.buf)
		if len(p.buf) > maxPayloadBytes {
			if !p.unknown {
				events = append(events, p.parseError(p.tool, "tool payload too large", p.buf))
			}
			p.enter(modeText, "")
			return events, true
		}
		return events, false
	}

	raw := p.buf[:end]
	rest := p.buf[end:]
	if p.unknown {
		p.log.Debug("dropped payload of unknown tool %q (%d bytes)", p.tool, len(raw))
	} else {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			events = append(events, p.parseError(p.tool, fmt.Sprintf("malformed JSON payload: %v", err), raw))
		} else {
			events = append(events, Event{Kind: KindToolCall, Tool: p.tool, Args: args, Raw: raw})
		}
	}
	p.enter(modeText, rest)
	return events, true
}

// findClose searches for marker from where the previous call left off.
func (p *Parser) findClose(marker string) int {
	from := p.scan
	if i := strings.Index(p.buf[from:], marker); i >= 0 {
		return from + i
	}
	// the marker may straddle the end of the buffer
	p.scan = max(0, len(p.buf)-len(marker)+1)
	return -1
}

// enter switches mode with rest as the new buffer and resets scan state.
func (p *Parser) enter(m mode, rest string) {
	p.mode = m
	p.buf = rest
	p.scan = 0
	p.depth = 0
	p.inString = false
	p.escape = false
	if m == modeText {
		p.tool = ""
		p.unknown = false
	}
}

func (p *Parser) parseError(tool, msg, raw string) Event {
	excerpt := Excerpt(raw, consts.MaxErrorExcerpt)
	if tool != "" {
		p.log.Warn("parse error in %s: %s (payload: %q)", tool, msg, excerpt)
	} else {
		p.log.Warn("parse error: %s (payload: %q)", msg, excerpt)
	}
	return Event{Kind: KindError, Tool: tool, Message: msg, Excerpt: excerpt}
}

func appendText(events []Event, text string) []Event {
	if text == "" {
		return events
	}
	return append(events, Event{Kind: KindText, Text: text})
}
