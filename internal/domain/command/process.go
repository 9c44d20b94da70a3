package command

import (
	"strings"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/chatmsg"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/session"
)

// ProcessedResult is the dispatch result surface handed to the request
// processor (C11).
type ProcessedResult struct {
	Messages        []chatmsg.Message
	CommandExecuted bool
	Results         []Result
	State           *session.State
}

// ProcessMessages iterates messages newest-to-oldest, processing the
// first one whose content contains a command and leaving every other
// message untouched (spec.md Open Question (a): document order within a
// message, stop on first message containing a command — do not iterate
// earlier messages once one is handled).
func (d *Dispatcher) ProcessMessages(messages []chatmsg.Message, state *session.State) ProcessedResult {
	if len(messages) == 0 {
		return ProcessedResult{State: state}
	}

	out := make([]chatmsg.Message, len(messages))
	for i, m := range messages {
		out[i] = m.Clone()
	}

	processedIdx := -1
	becameEmpty := false
	var results []Result
	current := state

	for i := len(out) - 1; i >= 0; i-- {
		content, found, becameEmptyHere, newState, msgResults := d.processContent(out[i], current)
		if !found {
			continue
		}
		out[i].Content = content.text
		out[i].Parts = content.parts
		processedIdx = i
		becameEmpty = becameEmptyHere
		results = msgResults
		current = newState
		break
	}

	if processedIdx < 0 {
		return ProcessedResult{Messages: out, CommandExecuted: false, State: current}
	}

	final := make([]chatmsg.Message, 0, len(out))
	for i, m := range out {
		if i == processedIdx && becameEmpty {
			continue
		}
		final = append(final, m)
	}

	return ProcessedResult{Messages: final, CommandExecuted: true, Results: results, State: current}
}

type processedContent struct {
	text  string
	parts []chatmsg.Part
}

// processContent handles both plain-string and multipart content for one
// message, per spec.md §4.3's "for multi-part content: process text parts
// left-to-right until the first command is found; subsequent parts are
// passed through unchanged" and "text parts that become empty after
// processing are dropped; non-text parts are preserved".
func (d *Dispatcher) processContent(m chatmsg.Message, state *session.State) (processedContent, bool, bool, *session.State, []Result) {
	if !m.IsMultipart() {
		text, found, results, newState := d.ProcessText(m.Content, state)
		becameEmpty := found && strings.TrimSpace(text) == ""
		return processedContent{text: text}, found, becameEmpty, newState, results
	}

	var newParts []chatmsg.Part
	foundAny := false
	current := state
	var results []Result
	stopProcessing := false

	for _, part := range m.Parts {
		if part.Type != chatmsg.PartText || stopProcessing {
			newParts = append(newParts, part)
			continue
		}

		text, found, partResults, newState := d.ProcessText(part.Text, current)
		if found {
			foundAny = true
			current = newState
			results = append(results, partResults...)
			stopProcessing = true
		}
		if strings.TrimSpace(text) != "" || !found {
			newParts = append(newParts, chatmsg.Part{Type: chatmsg.PartText, Text: text})
		}
	}

	becameEmpty := len(newParts) == 0 && foundAny
	return processedContent{parts: newParts}, foundAny, becameEmpty, current, results
}
