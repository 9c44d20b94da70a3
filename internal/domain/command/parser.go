package command

import (
	"regexp"
	"strings"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/session"
)

// DefaultPrefix is the command prefix used when none is configured.
const DefaultPrefix = "!/"

// match is one located command occurrence within a text segment.
type match struct {
	start, end int // byte offsets of the full matched span, incl. prefix
	name       string
	argsStr string
	bare       bool
}

// findCommands scans text in document order for occurrences of prefix
// followed either by a bare "hello"/"help" token or by "name(args)".
// Go's RE2 engine has no lookahead, so unlike the grammar's single
// regex this is a small hand-written scanner; it implements the same
// precedence the original grammar encodes with its negative lookahead:
// a name immediately followed by "(" is always the call form, never the
// bare form, even if the name itself is "hello" or "help".
func findCommands(text, prefix string) []match {
	var out []match
	if prefix == "" {
		return out
	}
	i := 0
	for {
		idx := strings.Index(text[i:], prefix)
		if idx < 0 {
			break
		}
		start := i + idx
		j := start + len(prefix)

		name := scanName(text, j)
		if name == "" {
			i = start + 1
			continue
		}
		k := j + len(name)

		if k < len(text) && text[k] == '(' {
			closeIdx := strings.IndexByte(text[k+1:], ')')
			if closeIdx < 0 {
				i = start + 1
				continue
			}
			argsStr := text[k+1 : k+1+closeIdx]
			end := k + 1 + closeIdx + 1
			out = append(out, match{start: start, end: end, name: strings.ToLower(name), argsStr: argsStr})
			i = end
			continue
		}

		lname := strings.ToLower(name)
		if lname == "hello" || lname == "help" {
			out = append(out, match{start: start, end: k, name: lname, bare: true})
			i = k
			continue
		}

		i = start + 1
	}
	return out
}

var nameCharRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*`)

func scanName(text string, from int) string {
	if from >= len(text) {
		return ""
	}
	return nameCharRe.FindString(text[from:])
}

// ParseArgs parses a comma-separated key=value (or bare key) argument
// string. Quotes around a value (single or double, matching at both
// ends) are stripped.
func ParseArgs(argsStr string) Args {
	args := Args{}
	if strings.TrimSpace(argsStr) == "" {
		return args
	}
	var positional []string
	for _, part := range strings.Split(argsStr, ",") {
		if eq := strings.Index(part, "="); eq >= 0 {
			key := strings.TrimSpace(part[:eq])
			value := strings.TrimSpace(part[eq+1:])
			if len(value) >= 2 {
				if (value[0] == '"' && value[len(value)-1] == '"') ||
					(value[0] == '\'' && value[len(value)-1] == '\'') {
					value = value[1 : len(value)-1]
				}
			}
			args[key] = value
		} else {
			key := strings.TrimSpace(part)
			args[key] = true
			positional = append(positional, key)
		}
	}
	if len(positional) > 0 {
		args[positionalKey] = positional
	}
	return args
}

var whitespaceRunRe = regexp.MustCompile(`\s+`)
var xmlTagRe = regexp.MustCompile(`<[^>]+>`)
var commentLineRe = regexp.MustCompile(`(?m)^\s*#.*$`)

// Dispatcher invokes handlers resolved through its Registry, so the
// parser itself has no dependency on the handlers subpackage (it only
// needs a Registry.Lookup + Handler.Handle).
type Dispatcher struct {
	Registry          *Registry
	PreserveUnknown   bool
	Context           Context
}

// ProcessText runs the full single-segment pipeline: locate commands in
// document order and dispatch only the first one found, matching the
// ground-truth original's `command_pattern.search(text_content)` (a single
// `search`, not a global scan) — exactly one command per text segment, per
// spec.md §9 Open Question (a). Any further command-looking text later in
// the same segment is left untouched (it reaches the model as plain text,
// same as the original). The matched span is spliced out, then the
// resulting text has whitespace collapsed, XML-like tags and "#" comment
// lines stripped, and is trimmed.
//
// Returns the rewritten text, whether a command (known or unknown) was
// found, the accumulated results, and the state after the mutation.
func (d *Dispatcher) ProcessText(text string, state *session.State) (string, bool, []Result, *session.State) {
	matches := findCommands(text, d.Context.CommandPrefix)
	if len(matches) == 0 {
		return text, false, nil, state
	}

	m := matches[0]
	args := Args{}
	if !m.bare {
		args = ParseArgs(m.argsStr)
	}

	var results []Result
	current := state
	replacement := ""

	handler, ok := d.Registry.Lookup(m.name)
	if ok {
		result, newState := handler.Handle(args, current, d.Context)
		result.Name = m.name
		results = append(results, result)
		if result.Success && newState != nil {
			current = newState
		}
	} else {
		results = append(results, Result{Name: m.name, Success: false, Message: "unknown command: " + m.name})
		if d.PreserveUnknown {
			replacement = text[m.start:m.end]
		}
	}

	modified := text[:m.start] + replacement + text[m.end:]

	// Comment-line stripping needs the original newlines to know where a
	// "line" ends, so it must run before whitespace collapse erases them.
	final := commentLineRe.ReplaceAllString(modified, "")
	final = xmlTagRe.ReplaceAllString(final, "")
	final = whitespaceRunRe.ReplaceAllString(final, " ")
	final = strings.TrimSpace(final)

	return final, true, results, current
}
